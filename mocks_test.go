package identity_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	identity "github.com/goliatone/go-identity"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// memUsers is an in-memory Users store.
type memUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
	now   func() time.Time

	failWith error
}

func newMemUsers() *memUsers {
	return &memUsers{
		users: map[uuid.UUID]*identity.User{},
		now:   time.Now,
	}
}

func notFound() error {
	return repository.NewRecordNotFound()
}

func (m *memUsers) Create(ctx context.Context, user *identity.User) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return nil, fmt.Errorf("unique constraint violation: email")
		}
	}
	if user.Role == "" {
		user.Role = identity.RoleUser
	}
	cp := *user
	m.users[user.ID] = &cp
	return user, nil
}

func (m *memUsers) GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	u, ok := m.users[id]
	if !ok {
		return nil, notFound()
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, notFound()
}

func (m *memUsers) GetOrCreate(ctx context.Context, user *identity.User) (*identity.User, bool, error) {
	if existing, err := m.GetByEmail(ctx, user.Email); err == nil {
		return existing, false, nil
	}
	created, err := m.Create(ctx, user)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (m *memUsers) UpdateRole(ctx context.Context, id uuid.UUID, role identity.Role) error {
	return m.mutate(id, func(u *identity.User) { u.Role = role })
}

func (m *memUsers) SetBan(ctx context.Context, id uuid.UUID, reason string, expires *time.Time) error {
	return m.mutate(id, func(u *identity.User) {
		u.Banned = true
		u.BanReason = reason
		u.BanExpires = expires
	})
}

func (m *memUsers) ClearBan(ctx context.Context, id uuid.UUID) error {
	return m.mutate(id, func(u *identity.User) {
		u.Banned = false
		u.BanReason = ""
		u.BanExpires = nil
	})
}

func (m *memUsers) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	return m.mutate(id, func(u *identity.User) { u.EmailVerified = true })
}

func (m *memUsers) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return m.mutate(id, func(u *identity.User) { u.PasswordHash = hash })
}

func (m *memUsers) TrackAttemptedLogin(ctx context.Context, user *identity.User) error {
	return m.mutate(user.ID, func(u *identity.User) {
		u.LoginAttempts++
		at := m.now()
		u.LoginAttemptAt = &at
	})
}

func (m *memUsers) TrackSuccessfulLogin(ctx context.Context, user *identity.User) error {
	return m.mutate(user.ID, func(u *identity.User) {
		u.LoginAttempts = 0
		u.LoginAttemptAt = nil
		at := m.now()
		u.LoggedInAt = &at
	})
}

func (m *memUsers) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return notFound()
	}
	delete(m.users, id)
	return nil
}

func (m *memUsers) mutate(id uuid.UUID, fn func(*identity.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	u, ok := m.users[id]
	if !ok {
		return notFound()
	}
	fn(u)
	return nil
}

// seed inserts a user directly, bypassing Create's checks.
func (m *memUsers) seed(u *identity.User) *identity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Role == "" {
		u.Role = identity.RoleUser
	}
	cp := *u
	m.users[u.ID] = &cp
	return u
}

// memSessions is an in-memory Sessions store.
type memSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*identity.Session

	failWith error
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[uuid.UUID]*identity.Session{}}
}

func (m *memSessions) Create(ctx context.Context, session *identity.Session) (*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	cp := *session
	m.sessions[session.ID] = &cp
	return session, nil
}

func (m *memSessions) GetByID(ctx context.Context, id uuid.UUID) (*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, notFound()
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) ListByUser(ctx context.Context, userID uuid.UUID) ([]*identity.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*identity.Session
	for _, s := range m.sessions {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSessions) Revoke(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	s, ok := m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return notFound()
	}
	at := time.Now()
	s.RevokedAt = &at
	return nil
}

func (m *memSessions) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := time.Now()
	for _, s := range m.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &at
		}
	}
	return nil
}

func (m *memSessions) ExtendExpiry(ctx context.Context, id uuid.UUID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return notFound()
	}
	s.ExpiresAt = until
	return nil
}

func (m *memSessions) DeleteByUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) PurgeDead(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	var n int64
	for id, s := range m.sessions {
		if s.RevokedAt != nil || !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// memChallenges is an in-memory Challenges store keyed by (email, purpose).
type memChallenges struct {
	mu         sync.Mutex
	challenges map[string]*identity.CodeChallenge

	failWith error
}

func newMemChallenges() *memChallenges {
	return &memChallenges{challenges: map[string]*identity.CodeChallenge{}}
}

func challengeKey(email string, purpose identity.CodePurpose) string {
	return email + "|" + purpose
}

func (m *memChallenges) Replace(ctx context.Context, challenge *identity.CodeChallenge) (*identity.CodeChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	if challenge.ID == uuid.Nil {
		challenge.ID = uuid.New()
	}
	cp := *challenge
	m.challenges[challengeKey(challenge.Email, challenge.Purpose)] = &cp
	return challenge, nil
}

func (m *memChallenges) GetLive(ctx context.Context, email string, purpose identity.CodePurpose, now time.Time) (*identity.CodeChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	c, ok := m.challenges[challengeKey(email, purpose)]
	if !ok || !now.Before(c.ExpiresAt) {
		return nil, notFound()
	}
	cp := *c
	return &cp, nil
}

func (m *memChallenges) ConsumeAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.challenges {
		if c.ID == id {
			if c.Attempts <= 0 {
				return 0, nil
			}
			c.Attempts--
			return c.Attempts, nil
		}
	}
	return 0, nil
}

func (m *memChallenges) Consume(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, c := range m.challenges {
		if c.ID == id {
			delete(m.challenges, key)
			return nil
		}
	}
	return notFound()
}

func (m *memChallenges) PurgeDead(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return 0, m.failWith
	}
	var n int64
	for key, c := range m.challenges {
		if !now.Before(c.ExpiresAt) {
			delete(m.challenges, key)
			n++
		}
	}
	return n, nil
}

// stored returns the raw challenge for test assertions, expired or not.
func (m *memChallenges) stored(email string, purpose identity.CodePurpose) *identity.CodeChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.challenges[challengeKey(email, purpose)]
}

// memMailer records sent messages.
type memMailer struct {
	mu       sync.Mutex
	sent     []identity.Message
	failWith error
}

func (m *memMailer) Send(ctx context.Context, msg identity.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *memMailer) last() *identity.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return nil
	}
	msg := m.sent[len(m.sent)-1]
	return &msg
}

// memRemover records linked-account cascade calls.
type memRemover struct {
	deleted []string
}

func (m *memRemover) DeleteByUserID(ctx context.Context, userID string) error {
	m.deleted = append(m.deleted, userID)
	return nil
}

// fixedClock returns a Clock pinned to t.
func fixedClock(t time.Time) identity.Clock {
	return func() time.Time { return t }
}

// testConfig returns a valid config with short policy windows for tests.
func testConfig() identity.Config {
	return identity.Config{
		SigningKey: "test-signing-key-0123456789",
		Issuer:     "identity-test",
		Audience:   []string{"test:api"},
		BcryptCost: 4,
	}
}
