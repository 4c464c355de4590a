package social

import (
	"context"
	"time"
)

// LinkedAccount binds a third-party identity to one user. A
// (provider, provider_user_id) pair maps to at most one user.
type LinkedAccount struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Provider       string     `json:"provider"`
	ProviderUserID string     `json:"provider_user_id"`
	Email          string     `json:"email,omitempty"`
	Name           string     `json:"name,omitempty"`
	AvatarURL      string     `json:"avatar_url,omitempty"`
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// LinkedAccountRepository manages linked account persistence.
type LinkedAccountRepository interface {
	FindByProviderID(ctx context.Context, provider, providerUserID string) (*LinkedAccount, error)
	FindByUserID(ctx context.Context, userID string) ([]*LinkedAccount, error)
	Upsert(ctx context.Context, account *LinkedAccount) error
	DeleteByUserID(ctx context.Context, userID string) error
}
