package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type usersRepo struct {
	repository.Repository[*User]
	db *bun.DB
}

var _ Users = (*usersRepo)(nil)

// NewUsersRepository builds the bun-backed user store.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &usersRepo{Repository: repo, db: db}
}

func (a *usersRepo) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record)
	return a.Repository.Create(ctx, record)
}

func (a *usersRepo) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"id": id.String()})
	}
	return record, nil
}

func (a *usersRepo) GetByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := a.db.NewSelect().Model(record).
		Where("LOWER(?TableAlias.email) = LOWER(?)", email).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"email": email})
	}
	return record, nil
}

func (a *usersRepo) GetOrCreate(ctx context.Context, record *User) (*User, bool, error) {
	existing, err := a.GetByEmail(ctx, record.Email)
	if err == nil {
		return existing, false, nil
	}
	if !repository.IsRecordNotFound(err) {
		return nil, false, err
	}

	created, err := a.Create(ctx, record)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (a *usersRepo) UpdateRole(ctx context.Context, id uuid.UUID, role Role) error {
	res, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("user_role = ?", role).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"id": id.String()})
}

func (a *usersRepo) SetBan(ctx context.Context, id uuid.UUID, reason string, expires *time.Time) error {
	res, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("is_banned = ?", true).
		Set("ban_reason = ?", reason).
		Set("ban_expires = ?", expires).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"id": id.String()})
}

func (a *usersRepo) ClearBan(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("is_banned = ?", false).
		Set("ban_reason = ?", "").
		Set("ban_expires = NULL").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"id": id.String()})
}

func (a *usersRepo) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("is_email_verified = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func (a *usersRepo) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	res, err := a.db.NewUpdate().Model((*User)(nil)).
		Set("password_hash = ?", hash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"id": id.String()})
}

func (a *usersRepo) TrackAttemptedLogin(ctx context.Context, user *User) error {
	// Single statement so concurrent failures cannot lose increments.
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"login_attempts" = "login_attempts" + 1,
			"login_attempt_at" = ?
		WHERE ("usr".id = ?);
	`, time.Now(), user.ID).Exec(ctx)

	return err
}

func (a *usersRepo) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	loggedInAt := time.Now()
	_, err := a.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"loggedin_at" = ?,
			"login_attempt_at" = NULL,
			"login_attempts" = 0
		WHERE ("usr".id = ?);
	`, loggedInAt, user.ID).Exec(ctx)

	return err
}

func (a *usersRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := a.db.NewDelete().Model((*User)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"id": id.String()})
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

func notFoundOr(err error, meta map[string]any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.NewRecordNotFound().WithMetadata(meta)
	}
	return err
}

func requireAffected(res sql.Result, meta map[string]any) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return repository.NewRecordNotFound().WithMetadata(meta)
	}
	return nil
}
