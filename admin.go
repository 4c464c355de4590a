package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// Admin is the only path that mutates another user's role, ban, or session
// state. Every operation takes the caller's resolved Auth and enforces the
// role threshold itself; none of them trust transport-level checks.
type Admin struct {
	users    Users
	sessions *SessionManager
	store    Sessions
	accounts LinkedAccountRemover
	perms    PermissionSet
	now      Clock
	logger   Logger
}

// AdminOption customizes the facade.
type AdminOption func(*Admin)

// WithAdminClock injects a custom clock.
func WithAdminClock(clock Clock) AdminOption {
	return func(a *Admin) {
		if clock != nil {
			a.now = clock
		}
	}
}

// WithAdminLogger overrides the facade's logger.
func WithAdminLogger(logger Logger) AdminOption {
	return func(a *Admin) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithLinkedAccountRemover wires the linked-account store slice used by
// RemoveUser's cascade.
func WithLinkedAccountRemover(remover LinkedAccountRemover) AdminOption {
	return func(a *Admin) {
		a.accounts = remover
	}
}

// NewAdmin wires the facade.
func NewAdmin(users Users, store Sessions, sessions *SessionManager, perms PermissionSet, opts ...AdminOption) *Admin {
	if perms == nil {
		perms = DefaultPermissions()
	}
	a := &Admin{
		users:    users,
		store:    store,
		sessions: sessions,
		perms:    perms,
		now:      time.Now,
		logger:   defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// SetRole updates the target's role. The caller cannot grant a role above
// their own: a plain admin cannot mint a super-admin. Existing sessions are
// left alone; the change takes effect on their next resolve because role is
// always read live.
func (a *Admin) SetRole(ctx context.Context, caller *Auth, targetID uuid.UUID, role Role) error {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if !IsValidRole(role) {
		return goerrors.New("unknown role", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithMetadata(map[string]any{"role": role})
	}
	if !RoleAtLeast(caller.Role, role) {
		return ErrForbidden.WithMetadata(map[string]any{
			"reason":         "cannot grant a role above your own",
			"caller_role":    caller.Role,
			"requested_role": role,
		})
	}

	if err := a.users.UpdateRole(ctx, targetID, role); err != nil {
		return wrapStorage(err, "failed to update role")
	}

	a.logger.Info("role of %s set to %s by %s", targetID, role, caller.User.ID)

	return nil
}

// BanUser flags the target as banned. Their existing sessions are not
// eagerly revoked: the live ban check on resolve invalidates them from this
// point on, and unbanning restores any that have not expired.
func (a *Admin) BanUser(ctx context.Context, caller *Auth, targetID uuid.UUID, reason string, expiresIn *time.Duration) error {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	if caller.User.ID == targetID {
		return ErrForbidden.WithMetadata(map[string]any{
			"reason": "cannot ban yourself",
		})
	}

	var expires *time.Time
	if expiresIn != nil {
		t := a.now().Add(*expiresIn)
		expires = &t
	}

	if err := a.users.SetBan(ctx, targetID, reason, expires); err != nil {
		return wrapStorage(err, "failed to ban user")
	}

	a.logger.Info("user %s banned by %s reason=%q", targetID, caller.User.ID, reason)

	return nil
}

// UnbanUser clears the target's ban fields.
func (a *Admin) UnbanUser(ctx context.Context, caller *Auth, targetID uuid.UUID) error {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return err
	}

	if err := a.users.ClearBan(ctx, targetID); err != nil {
		return wrapStorage(err, "failed to unban user")
	}

	a.logger.Info("user %s unbanned by %s", targetID, caller.User.ID)

	return nil
}

// RemoveUser deletes the user and cascades to their sessions and linked
// accounts. Irreversible. Children are deleted first so a partial failure
// never leaves orphans pointing at a missing user.
func (a *Admin) RemoveUser(ctx context.Context, caller *Auth, targetID uuid.UUID) error {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return err
	}

	target, err := a.users.GetByID(ctx, targetID)
	if err != nil {
		return wrapStorage(err, "failed to load user for removal")
	}
	if !RoleAtLeast(caller.Role, target.Role) {
		return ErrForbidden.WithMetadata(map[string]any{
			"reason": "cannot remove a user above your own role",
		})
	}

	if a.accounts != nil {
		if err := a.accounts.DeleteByUserID(ctx, targetID.String()); err != nil {
			return wrapStorage(err, "failed to delete linked accounts")
		}
	}

	if err := a.store.DeleteByUser(ctx, targetID); err != nil {
		return wrapStorage(err, "failed to delete sessions")
	}

	if err := a.users.Delete(ctx, targetID); err != nil {
		return wrapStorage(err, "failed to delete user")
	}

	a.logger.Info("user %s removed by %s", targetID, caller.User.ID)

	return nil
}

// ListUserSessions returns the target's session rows.
func (a *Admin) ListUserSessions(ctx context.Context, caller *Auth, targetID uuid.UUID) ([]*Session, error) {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return nil, err
	}

	list, err := a.store.ListByUser(ctx, targetID)
	if err != nil {
		return nil, wrapStorage(err, "failed to list sessions")
	}

	return list, nil
}

// RevokeSession kills a single session immediately.
func (a *Admin) RevokeSession(ctx context.Context, caller *Auth, sessionID uuid.UUID) error {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	return a.sessions.Revoke(ctx, sessionID)
}

// RevokeAllSessions kills every session owned by the target.
func (a *Admin) RevokeAllSessions(ctx context.Context, caller *Auth, targetID uuid.UUID) error {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return err
	}
	return a.sessions.RevokeAll(ctx, targetID)
}

// Impersonate mints a short-lived session owned by the target, stamped with
// the caller's id for audit. The caller's own session is untouched.
func (a *Admin) Impersonate(ctx context.Context, caller *Auth, targetID uuid.UUID, client ClientInfo) (*StartedSession, error) {
	if err := RequireRole(caller, RoleAdmin); err != nil {
		return nil, err
	}

	target, err := a.users.GetByID(ctx, targetID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, err
		}
		return nil, wrapStorage(err, "failed to load impersonation target")
	}
	if !RoleAtLeast(caller.Role, target.Role) {
		return nil, ErrForbidden.WithMetadata(map[string]any{
			"reason": "cannot impersonate a user above your own role",
		})
	}
	if target.BannedAt(a.now()) {
		return nil, NewUserBannedError(target.BanReason, target.BanExpires)
	}

	started, err := a.sessions.Impersonate(ctx, caller.User.ID, targetID, client)
	if err != nil {
		return nil, err
	}

	a.logger.Info("user %s impersonated by %s session=%s", targetID, caller.User.ID, started.Session.ID)

	return started, nil
}

// StopImpersonating destroys the impersonation session.
func (a *Admin) StopImpersonating(ctx context.Context, auth *Auth) error {
	return a.sessions.StopImpersonating(ctx, auth)
}
