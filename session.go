package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// ClientInfo is the request metadata captured when a session is created.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// Auth is a resolved authorization context: the session row plus the live
// user record it belongs to. Role comes from the user row at resolve time,
// never from anything cached on the session.
type Auth struct {
	Session *Session
	User    *User
	Role    Role
}

// Impersonator returns the admin user id behind an impersonation session.
func (a *Auth) Impersonator() *uuid.UUID {
	if a == nil || a.Session == nil {
		return nil
	}
	return a.Session.ImpersonatedBy
}

// StartedSession pairs a freshly created session row with the signed handle
// the caller hands to the client. Attaching it to a cookie or header is the
// transport layer's business.
type StartedSession struct {
	Session *Session
	Token   string
}

// IssueOption customizes session creation.
type IssueOption func(*issueOptions)

type issueOptions struct {
	extended     bool
	impersonator *uuid.UUID
}

// WithExtendedTTL issues a long-lived ("remember me") session.
func WithExtendedTTL() IssueOption {
	return func(o *issueOptions) {
		o.extended = true
	}
}

func withImpersonator(adminID uuid.UUID) IssueOption {
	return func(o *issueOptions) {
		o.impersonator = &adminID
	}
}

// SessionManager drives the session state machine:
// absent -> active -> {expired, revoked}.
type SessionManager struct {
	users    Users
	sessions Sessions
	tokens   *TokenService
	cfg      Config
	now      Clock
	logger   Logger
}

// SessionManagerOption customizes the manager.
type SessionManagerOption func(*SessionManager)

// WithSessionClock injects a custom clock (useful for tests).
func WithSessionClock(clock Clock) SessionManagerOption {
	return func(m *SessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithSessionLogger overrides the manager's logger.
func WithSessionLogger(logger Logger) SessionManagerOption {
	return func(m *SessionManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewSessionManager wires the manager. cfg must already carry defaults.
func NewSessionManager(users Users, sessions Sessions, tokens *TokenService, cfg Config, opts ...SessionManagerOption) *SessionManager {
	cfg.setDefaults()
	m := &SessionManager{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		cfg:      cfg,
		now:      time.Now,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Issue transitions absent -> active: creates the session row bound to the
// user and signs its handle. A banned user cannot be issued a session, so
// every sign-in path refuses them with the same informative error.
func (m *SessionManager) Issue(ctx context.Context, userID uuid.UUID, client ClientInfo, opts ...IssueOption) (*StartedSession, error) {
	options := issueOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	now := m.now()

	user, err := m.users.GetByID(ctx, userID)
	if err != nil {
		return nil, wrapStorage(err, "failed to load user for session")
	}
	if user.BannedAt(now) {
		return nil, NewUserBannedError(user.BanReason, user.BanExpires)
	}

	ttl := m.cfg.SessionTTL
	if options.extended {
		ttl = m.cfg.ExtendedSessionTTL
	}
	if options.impersonator != nil {
		// Impersonation sessions get a short fixed TTL regardless of
		// the normal policy.
		ttl = m.cfg.ImpersonationTTL
	}

	session := &Session{
		ID:             uuid.New(),
		UserID:         userID,
		ImpersonatedBy: options.impersonator,
		IPAddress:      client.IPAddress,
		UserAgent:      client.UserAgent,
		ExpiresAt:      now.Add(ttl),
		CreatedAt:      now,
	}

	session, err = m.sessions.Create(ctx, session)
	if err != nil {
		return nil, wrapStorage(err, "failed to create session")
	}

	token, err := m.tokens.Sign(session)
	if err != nil {
		return nil, err
	}

	m.logger.Info("session created for user %s (impersonation=%v)", userID, session.IsImpersonation())

	return &StartedSession{Session: session, Token: token}, nil
}

// Resolve re-derives a session's validity from scratch: signature, row
// presence, revocation, expiry, and the owning user's live ban/role state.
// Nothing here is cached between calls.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*Auth, error) {
	sessionID, err := m.tokens.Parse(token)
	if err != nil {
		return nil, err
	}

	return m.ResolveID(ctx, sessionID)
}

// ResolveID is Resolve for callers that already hold the session id.
func (m *SessionManager) ResolveID(ctx context.Context, sessionID uuid.UUID) (*Auth, error) {
	session, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionRevoked
		}
		return nil, wrapStorage(err, "failed to load session")
	}

	if session.Revoked() {
		return nil, ErrSessionRevoked
	}

	now := m.now()
	if session.ExpiredAt(now) {
		return nil, ErrSessionExpired
	}

	user, err := m.users.GetByID(ctx, session.UserID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// Owner deleted; the session row is a dangling leftover.
			return nil, ErrSessionRevoked
		}
		return nil, wrapStorage(err, "failed to load session user")
	}

	if user.BannedAt(now) {
		return nil, NewUserBannedError(user.BanReason, user.BanExpires)
	}

	if m.cfg.SlidingSessions && !session.IsImpersonation() {
		m.maybeExtend(ctx, session, now)
	}

	return &Auth{
		Session: session,
		User:    user,
		Role:    user.Role,
	}, nil
}

// maybeExtend renews the row expiry once the session is past the midpoint of
// its TTL. Renewal failure does not invalidate the resolve.
func (m *SessionManager) maybeExtend(ctx context.Context, session *Session, now time.Time) {
	remaining := session.ExpiresAt.Sub(now)
	if remaining > m.cfg.SessionTTL/2 {
		return
	}

	until := now.Add(m.cfg.SessionTTL)
	if err := m.sessions.ExtendExpiry(ctx, session.ID, until); err != nil {
		m.logger.Warn("failed to extend session %s: %v", session.ID, err)
		return
	}
	session.ExpiresAt = until
}

// Revoke transitions active -> revoked for a single session.
func (m *SessionManager) Revoke(ctx context.Context, sessionID uuid.UUID) error {
	if err := m.sessions.Revoke(ctx, sessionID); err != nil {
		return wrapStorage(err, "failed to revoke session")
	}
	return nil
}

// RevokeAll revokes every session owned by a user.
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	if err := m.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return wrapStorage(err, "failed to revoke sessions")
	}
	return nil
}

// SignOut revokes the session a handle names. It deliberately skips the full
// resolve: a banned or role-changed user can still tear down their session.
func (m *SessionManager) SignOut(ctx context.Context, token string) error {
	sessionID, err := m.tokens.Parse(token)
	if err != nil {
		return err
	}
	return m.Revoke(ctx, sessionID)
}

// Impersonate mints a session owned by the target user, stamped with the
// admin's id for audit. Authorization is the admin facade's job; this is
// mechanism only.
func (m *SessionManager) Impersonate(ctx context.Context, adminID, targetUserID uuid.UUID, client ClientInfo) (*StartedSession, error) {
	if adminID == targetUserID {
		return nil, goerrors.New("cannot impersonate yourself", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	return m.Issue(ctx, targetUserID, client, withImpersonator(adminID))
}

// StopImpersonating destroys an impersonation session. The admin's own
// session is untouched.
func (m *SessionManager) StopImpersonating(ctx context.Context, auth *Auth) error {
	if auth == nil || auth.Session == nil {
		return ErrSessionRevoked
	}
	if !auth.Session.IsImpersonation() {
		return goerrors.New("session is not an impersonation", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}
	return m.Revoke(ctx, auth.Session.ID)
}
