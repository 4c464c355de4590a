package identity

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type challengesRepo struct {
	db *bun.DB
}

var _ Challenges = (*challengesRepo)(nil)

// NewChallengesRepository builds the bun-backed challenge store.
func NewChallengesRepository(db *bun.DB) Challenges {
	return &challengesRepo{db: db}
}

// Replace deletes any prior challenge for (email, purpose) and inserts the
// new one in a single transaction, so exactly one code is ever live for the
// pair.
func (r *challengesRepo) Replace(ctx context.Context, challenge *CodeChallenge) (*CodeChallenge, error) {
	if challenge.ID == uuid.Nil {
		challenge.ID = uuid.New()
	}
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now()
	}

	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*CodeChallenge)(nil)).
			Where("email = ? AND purpose = ?", challenge.Email, challenge.Purpose).
			Exec(ctx); err != nil {
			return err
		}

		_, err := tx.NewInsert().Model(challenge).Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	return challenge, nil
}

func (r *challengesRepo) GetLive(ctx context.Context, email string, purpose CodePurpose, now time.Time) (*CodeChallenge, error) {
	record := &CodeChallenge{}
	err := r.db.NewSelect().Model(record).
		Where("?TableAlias.email = ? AND ?TableAlias.purpose = ?", email, purpose).
		Where("?TableAlias.expires_at > ?", now).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFoundOr(err, map[string]any{"email": email, "purpose": purpose})
	}
	return record, nil
}

// ConsumeAttempt burns one attempt with a conditional single-statement
// decrement. A row whose budget is already spent matches nothing, so two
// concurrent guesses can never take the counter below zero.
func (r *challengesRepo) ConsumeAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var remaining int
	err := r.db.NewRaw(`
		UPDATE "code_challenges"
		SET "attempts" = "attempts" - 1
		WHERE "id" = ? AND "attempts" > 0
		RETURNING "attempts";
	`, id).Scan(ctx, &remaining)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return remaining, nil
}

func (r *challengesRepo) Consume(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.NewDelete().Model((*CodeChallenge)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res, map[string]any{"challenge_id": id.String()})
}

func (r *challengesRepo) PurgeDead(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewDelete().Model((*CodeChallenge)(nil)).
		Where("expires_at <= ? OR attempts <= 0", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
