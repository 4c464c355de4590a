// Package repository provides bun-backed persistence for linked social
// accounts.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	repo "github.com/goliatone/go-repository-bun"

	"github.com/goliatone/go-identity/social"
)

// LinkedAccountModel is the bun row for a provider identity bound to a user.
type LinkedAccountModel struct {
	bun.BaseModel `bun:"table:linked_accounts,alias:lnk"`

	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid"`
	Provider       string     `bun:"provider,notnull"`
	ProviderUserID string     `bun:"provider_user_id,notnull"`
	Email          string     `bun:"email"`
	Name           string     `bun:"name"`
	AvatarURL      string     `bun:"avatar_url"`
	AccessToken    string     `bun:"access_token"`
	RefreshToken   string     `bun:"refresh_token"`
	TokenExpiresAt *time.Time `bun:"token_expires_at,nullzero"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,default:current_timestamp"`
}

// LinkedAccounts implements social.LinkedAccountRepository using bun.
type LinkedAccounts struct {
	db *bun.DB
}

// NewLinkedAccounts creates the repository.
func NewLinkedAccounts(db *bun.DB) *LinkedAccounts {
	return &LinkedAccounts{db: db}
}

// FindByProviderID implements social.LinkedAccountRepository.
func (r *LinkedAccounts) FindByProviderID(ctx context.Context, provider, providerUserID string) (*social.LinkedAccount, error) {
	var model LinkedAccountModel
	err := r.db.NewSelect().
		Model(&model).
		Where("provider = ? AND provider_user_id = ?", provider, providerUserID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repo.NewRecordNotFound().WithMetadata(map[string]any{
				"provider":         provider,
				"provider_user_id": providerUserID,
			})
		}
		return nil, err
	}
	return toLinkedAccount(&model), nil
}

// FindByUserID implements social.LinkedAccountRepository.
func (r *LinkedAccounts) FindByUserID(ctx context.Context, userID string) ([]*social.LinkedAccount, error) {
	var models []LinkedAccountModel
	err := r.db.NewSelect().
		Model(&models).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*social.LinkedAccount{}, nil
		}
		return nil, err
	}

	accounts := make([]*social.LinkedAccount, len(models))
	for i := range models {
		accounts[i] = toLinkedAccount(&models[i])
	}
	return accounts, nil
}

// Upsert implements social.LinkedAccountRepository. The conflict key is
// (provider, provider_user_id) so a re-login refreshes tokens in place.
func (r *LinkedAccounts) Upsert(ctx context.Context, account *social.LinkedAccount) error {
	model := fromLinkedAccount(account)
	model.UpdatedAt = time.Now()

	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (provider, provider_user_id) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("email = EXCLUDED.email").
		Set("name = EXCLUDED.name").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_expires_at = EXCLUDED.token_expires_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)

	return err
}

// DeleteByUserID implements social.LinkedAccountRepository; used by the admin
// cascade when a user is removed.
func (r *LinkedAccounts) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.NewDelete().
		Model((*LinkedAccountModel)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	return err
}

func toLinkedAccount(m *LinkedAccountModel) *social.LinkedAccount {
	return &social.LinkedAccount{
		ID:             m.ID.String(),
		UserID:         m.UserID.String(),
		Provider:       m.Provider,
		ProviderUserID: m.ProviderUserID,
		Email:          m.Email,
		Name:           m.Name,
		AvatarURL:      m.AvatarURL,
		AccessToken:    m.AccessToken,
		RefreshToken:   m.RefreshToken,
		TokenExpiresAt: m.TokenExpiresAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func fromLinkedAccount(a *social.LinkedAccount) *LinkedAccountModel {
	if a == nil {
		return &LinkedAccountModel{ID: uuid.New()}
	}

	id := uuid.Nil
	if a.ID != "" {
		if parsed, err := uuid.Parse(a.ID); err == nil {
			id = parsed
		}
	}
	if id == uuid.Nil {
		id = uuid.New()
	}

	var userID uuid.UUID
	if a.UserID != "" {
		if parsed, err := uuid.Parse(a.UserID); err == nil {
			userID = parsed
		}
	}

	return &LinkedAccountModel{
		ID:             id,
		UserID:         userID,
		Provider:       a.Provider,
		ProviderUserID: a.ProviderUserID,
		Email:          a.Email,
		Name:           a.Name,
		AvatarURL:      a.AvatarURL,
		AccessToken:    a.AccessToken,
		RefreshToken:   a.RefreshToken,
		TokenExpiresAt: a.TokenExpiresAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}
