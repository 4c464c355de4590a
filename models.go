package identity

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the persisted identity record. Role and ban state are always read
// live from this row during authorization, never cached on a session.
type User struct {
	bun.BaseModel  `bun:"table:users,alias:usr"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role           Role       `bun:"user_role,notnull" json:"user_role,omitempty"`
	Name           string     `bun:"name,notnull" json:"name,omitempty"`
	Email          string     `bun:"email,notnull,unique" json:"email,omitempty"`
	Phone          string     `bun:"phone_number" json:"phone_number,omitempty"`
	AvatarURL      string     `bun:"avatar_url" json:"avatar_url,omitempty"`
	PasswordHash   string     `bun:"password_hash" json:"-"`
	EmailVerified  bool       `bun:"is_email_verified" json:"is_email_verified,omitempty"`
	Banned         bool       `bun:"is_banned" json:"is_banned,omitempty"`
	BanReason      string     `bun:"ban_reason" json:"ban_reason,omitempty"`
	BanExpires     *time.Time `bun:"ban_expires,nullzero" json:"ban_expires,omitempty"`
	LoginAttempts  int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt *time.Time `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LoggedInAt     *time.Time `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt      *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// BannedAt reports whether the user counts as banned at the given instant.
// A ban whose expiry has passed is auto-lifted for authorization purposes;
// the persisted flag stays on the row until an admin clears it.
func (u *User) BannedAt(now time.Time) bool {
	if u == nil || !u.Banned {
		return false
	}
	if u.BanExpires != nil && !now.Before(*u.BanExpires) {
		return false
	}
	return true
}

// Session is one authenticated device/browser. The row is the single source
// of truth for validity; the signed handle given to clients only names it.
type Session struct {
	bun.BaseModel  `bun:"table:sessions,alias:ses"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	ImpersonatedBy *uuid.UUID `bun:"impersonated_by,nullzero,type:uuid" json:"impersonated_by,omitempty"`
	IPAddress      string     `bun:"ip_address" json:"ip_address,omitempty"`
	UserAgent      string     `bun:"user_agent" json:"user_agent,omitempty"`
	ExpiresAt      time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RevokedAt      *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
}

// ExpiredAt reports whether the session TTL has elapsed.
func (s *Session) ExpiredAt(now time.Time) bool {
	return s == nil || !now.Before(s.ExpiresAt)
}

// Revoked reports whether the session was explicitly revoked.
func (s *Session) Revoked() bool {
	return s == nil || s.RevokedAt != nil
}

// IsImpersonation reports whether the session was minted by an admin on
// behalf of its owner.
func (s *Session) IsImpersonation() bool {
	return s != nil && s.ImpersonatedBy != nil
}

// CodePurpose scopes a one-time code to a single flow.
type CodePurpose = string

const (
	// PurposeSignIn authenticates and, for unknown emails, auto-registers.
	PurposeSignIn CodePurpose = "sign-in"
	// PurposeEmailVerification marks an existing user's email verified.
	PurposeEmailVerification CodePurpose = "email-verification"
	// PurposePasswordReset authorizes a password change.
	PurposePasswordReset CodePurpose = "password-reset"
)

// IsValidCodePurpose checks whether purpose is one of the known flows.
func IsValidCodePurpose(purpose CodePurpose) bool {
	switch purpose {
	case PurposeSignIn, PurposeEmailVerification, PurposePasswordReset:
		return true
	default:
		return false
	}
}

// CodeChallenge is the ephemeral record backing a one-time code. At most one
// live challenge exists per (email, purpose) pair; issuing a new code replaces
// the prior one.
type CodeChallenge struct {
	bun.BaseModel `bun:"table:code_challenges,alias:chal"`
	ID            uuid.UUID   `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email         string      `bun:"email,notnull" json:"email,omitempty"`
	Purpose       CodePurpose `bun:"purpose,notnull" json:"purpose,omitempty"`
	Code          string      `bun:"code,notnull" json:"-"`
	Attempts      int         `bun:"attempts,notnull" json:"attempts"`
	ExpiresAt     time.Time   `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     time.Time   `bun:"created_at,nullzero,default:current_timestamp" json:"created_at"`
}

// ExpiredAt reports whether the challenge is past its expiry.
func (c *CodeChallenge) ExpiredAt(now time.Time) bool {
	return c == nil || !now.Before(c.ExpiresAt)
}
