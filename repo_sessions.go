package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type sessionsRepo struct {
	db *bun.DB
}

var _ Sessions = (*sessionsRepo)(nil)

// NewSessionsRepository builds the bun-backed session store.
func NewSessionsRepository(db *bun.DB) Sessions {
	return &sessionsRepo{db: db}
}

func (r *sessionsRepo) Create(ctx context.Context, session *Session) (*Session, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now()
	}

	_, err := r.db.NewInsert().Model(session).Exec(ctx)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionsRepo) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	record := &Session{}
	err := r.db.NewSelect().Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"session_id": id.String()})
	}
	return record, nil
}

func (r *sessionsRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error) {
	var records []*Session
	err := r.db.NewSelect().Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *sessionsRepo) Revoke(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewUpdate().Model((*Session)(nil)).
		Set("revoked_at = ?", time.Now()).
		Where("id = ? AND revoked_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"session_id": id.String()})
}

func (r *sessionsRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewUpdate().Model((*Session)(nil)).
		Set("revoked_at = ?", time.Now()).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Exec(ctx)
	return err
}

func (r *sessionsRepo) ExtendExpiry(ctx context.Context, id uuid.UUID, until time.Time) error {
	res, err := r.db.NewUpdate().Model((*Session)(nil)).
		Set("expires_at = ?", until).
		Where("id = ? AND revoked_at IS NULL", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"session_id": id.String()})
}

func (r *sessionsRepo) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.NewDelete().Model((*Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func (r *sessionsRepo) PurgeDead(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().Model((*Session)(nil)).
		Where("expires_at <= ? OR revoked_at IS NOT NULL", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
