package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Logger is the minimal logging surface the package needs. Consumers inject
// their own implementation; the default writes to stdout.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Clock returns the current time. Injectable so tests can control expiry.
type Clock func() time.Time

// Users is the persistence contract for user records. Role and ban mutations
// must be single-statement atomic updates so concurrent admin edits cannot
// lose fields to each other.
type Users interface {
	Create(ctx context.Context, user *User) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetOrCreate resolves by email, creating the record when absent. The
	// bool reports whether a new user was created.
	GetOrCreate(ctx context.Context, user *User) (*User, bool, error)
	UpdateRole(ctx context.Context, id uuid.UUID, role Role) error
	SetBan(ctx context.Context, id uuid.UUID, reason string, expires *time.Time) error
	ClearBan(ctx context.Context, id uuid.UUID) error
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Sessions is the persistence contract for session rows.
type Sessions interface {
	Create(ctx context.Context, session *Session) (*Session, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*Session, error)
	// Revoke marks the row dead immediately; it is not a lazy flag.
	Revoke(ctx context.Context, id uuid.UUID) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error
	ExtendExpiry(ctx context.Context, id uuid.UUID, until time.Time) error
	DeleteByUser(ctx context.Context, userID uuid.UUID) error
	// PurgeDead removes expired and revoked rows. Housekeeping only;
	// validity never depends on it.
	PurgeDead(ctx context.Context, now time.Time) (int64, error)
}

// Challenges is the persistence contract for one-time code challenges.
type Challenges interface {
	// Replace atomically swaps any live challenge for the same
	// (email, purpose) pair with the given one.
	Replace(ctx context.Context, challenge *CodeChallenge) (*CodeChallenge, error)
	GetLive(ctx context.Context, email string, purpose CodePurpose, now time.Time) (*CodeChallenge, error)
	// ConsumeAttempt decrements the attempts counter in a single
	// conditional update and returns the remaining budget. Concurrent
	// callers can never spend more than the configured attempts.
	ConsumeAttempt(ctx context.Context, id uuid.UUID) (int, error)
	Consume(ctx context.Context, id uuid.UUID) error
	PurgeDead(ctx context.Context, now time.Time) (int64, error)
}

// LinkedAccountRemover is the slice of the linked-account store the admin
// facade needs for cascade deletion. The full repository lives in the social
// package.
type LinkedAccountRemover interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Message is what the delivery channel accepts.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer is the external delivery channel. A failure is surfaced to the
// caller as ErrDeliveryFailure and never retried here.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Credential is a raw authentication credential of some kind.
type Credential interface {
	Kind() string
}

// Verifier kinds registered by this module.
const (
	KindPassword = "password"
	KindCode     = "otp"
	KindOAuth    = "oauth"
)

// VerifiedIdentity is the common result shape all credential verifiers
// produce on success.
type VerifiedIdentity struct {
	UserID    uuid.UUID
	IsNewUser bool
}

// CredentialVerifier turns a raw credential into a verified identity claim.
// Implementations are registered with the Service at construction.
type CredentialVerifier interface {
	Kind() string
	Verify(ctx context.Context, cred Credential) (*VerifiedIdentity, error)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] IDENTITY "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] IDENTITY "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] IDENTITY "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] IDENTITY "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
