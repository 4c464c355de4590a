package identity_test

import (
	"context"
	"testing"
	"time"

	identity "github.com/goliatone/go-identity"
	"github.com/stretchr/testify/require"
)

// testEnv wires a full service over in-memory stores with a mutable clock.
type testEnv struct {
	ctx        context.Context
	cfg        identity.Config
	users      *memUsers
	sessions   *memSessions
	challenges *memChallenges
	mailer     *memMailer
	remover    *memRemover
	tokens     *identity.TokenService
	manager    *identity.SessionManager
	admin      *identity.Admin
	dispatcher *identity.CodeDispatcher
	service    *identity.Service

	clock *time.Time
}

func (e *testEnv) now() time.Time { return *e.clock }

func (e *testEnv) advance(d time.Duration) { *e.clock = e.clock.Add(d) }

func newTestEnv(t *testing.T, cfg identity.Config, users *memUsers, sessions *memSessions, challenges *memChallenges, mailer *memMailer) *testEnv {
	t.Helper()

	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	env := &testEnv{
		ctx:        context.Background(),
		cfg:        normalizedConfig(cfg),
		users:      users,
		sessions:   sessions,
		challenges: challenges,
		mailer:     mailer,
		remover:    &memRemover{},
		clock:      &start,
	}

	clock := func() time.Time { return *env.clock }
	users.now = clock

	env.tokens = identity.NewTokenService([]byte(cfg.SigningKey), cfg.Issuer, cfg.Audience, nil)
	env.manager = identity.NewSessionManager(users, sessions, env.tokens, cfg,
		identity.WithSessionClock(clock))
	env.admin = identity.NewAdmin(users, sessions, env.manager, cfg.Permissions,
		identity.WithAdminClock(clock),
		identity.WithLinkedAccountRemover(env.remover))
	env.dispatcher = identity.NewCodeDispatcher(challenges, mailer, cfg,
		identity.WithDispatcherClock(clock))

	verifiers := []identity.CredentialVerifier{
		identity.NewPasswordVerifier(users, cfg, identity.WithPasswordClock(clock)),
		identity.NewCodeVerifier(challenges, users, cfg, identity.WithCodeClock(clock)),
	}

	svc, err := identity.New(cfg, env.manager, env.admin, verifiers,
		identity.WithDispatcher(env.dispatcher))
	require.NoError(t, err)
	env.service = svc

	return env
}

// normalizedConfig mirrors the defaulting the constructors apply, so tests
// reading policy windows off env.cfg (CodeTTL, login cooldown, TTLs) see the
// values the code under test actually runs with. The constructors themselves
// still receive the raw config.
func normalizedConfig(cfg identity.Config) identity.Config {
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = identity.DefaultSessionTTL
	}
	if cfg.ExtendedSessionTTL == 0 {
		cfg.ExtendedSessionTTL = identity.DefaultExtendedSessionTTL
	}
	if cfg.ImpersonationTTL == 0 {
		cfg.ImpersonationTTL = identity.DefaultImpersonationTTL
	}
	if cfg.CodeLength == 0 {
		cfg.CodeLength = identity.DefaultCodeLength
	}
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = identity.DefaultCodeTTL
	}
	if cfg.CodeMaxAttempts == 0 {
		cfg.CodeMaxAttempts = identity.DefaultCodeMaxAttempts
	}
	if cfg.MaxLoginAttempts == 0 {
		cfg.MaxLoginAttempts = identity.DefaultMaxLoginAttempts
	}
	if cfg.LoginCooldown == 0 {
		cfg.LoginCooldown = identity.DefaultLoginCooldown
	}
	return cfg
}

// newService assembles a service without requiring construction to succeed;
// used to exercise configuration validation.
func newService(t *testing.T, cfg identity.Config) (*identity.Service, error) {
	t.Helper()

	users := newMemUsers()
	sessions := newMemSessions()
	tokens := identity.NewTokenService([]byte(cfg.SigningKey), cfg.Issuer, cfg.Audience, nil)
	manager := identity.NewSessionManager(users, sessions, tokens, cfg)
	admin := identity.NewAdmin(users, sessions, manager, cfg.Permissions)

	return identity.New(cfg, manager, admin, []identity.CredentialVerifier{
		identity.NewPasswordVerifier(users, cfg),
	})
}

// resolvedAuth seeds a user and returns an Auth as if their session resolved.
func resolvedAuth(env *testEnv, role identity.Role, email string) *identity.Auth {
	user := env.users.seed(&identity.User{Email: email, Role: role, Name: email})
	session := &identity.Session{
		UserID:    user.ID,
		ExpiresAt: env.now().Add(time.Hour),
		CreatedAt: env.now(),
	}
	session, _ = env.sessions.Create(env.ctx, session)
	return &identity.Auth{Session: session, User: user, Role: role}
}
