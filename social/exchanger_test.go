package social_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/social"
	repo "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scripted SocialProvider.
type fakeProvider struct {
	name        string
	token       *social.Token
	profile     *social.Profile
	exchangeErr error
	userInfoErr error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	cfg := social.ApplyAuthCodeOptions(nil, opts...)
	return fmt.Sprintf("https://%s.example.com/auth?state=%s&code_challenge=%s", p.name, state, cfg.CodeChallenge)
}

func (p *fakeProvider) Exchange(ctx context.Context, code string, opts ...social.ExchangeOption) (*social.Token, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	if code != "good-code" {
		return nil, errors.New("invalid authorization code")
	}
	return p.token, nil
}

func (p *fakeProvider) UserInfo(ctx context.Context, token *social.Token) (*social.Profile, error) {
	if p.userInfoErr != nil {
		return nil, p.userInfoErr
	}
	return p.profile, nil
}

// fakeAccounts is an in-memory LinkedAccountRepository.
type fakeAccounts struct {
	accounts map[string]*social.LinkedAccount
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: map[string]*social.LinkedAccount{}}
}

func accountKey(provider, providerUserID string) string {
	return provider + "|" + providerUserID
}

func (f *fakeAccounts) FindByProviderID(ctx context.Context, provider, providerUserID string) (*social.LinkedAccount, error) {
	a, ok := f.accounts[accountKey(provider, providerUserID)]
	if !ok {
		return nil, repo.NewRecordNotFound()
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) FindByUserID(ctx context.Context, userID string) ([]*social.LinkedAccount, error) {
	var out []*social.LinkedAccount
	for _, a := range f.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeAccounts) Upsert(ctx context.Context, account *social.LinkedAccount) error {
	cp := *account
	f.accounts[accountKey(account.Provider, account.ProviderUserID)] = &cp
	return nil
}

func (f *fakeAccounts) DeleteByUserID(ctx context.Context, userID string) error {
	for k, a := range f.accounts {
		if a.UserID == userID {
			delete(f.accounts, k)
		}
	}
	return nil
}

// fakeUsers implements the slices of identity.Users the exchanger touches.
type fakeUsers struct {
	users map[uuid.UUID]*identity.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: map[uuid.UUID]*identity.User{}}
}

func (f *fakeUsers) Create(ctx context.Context, user *identity.User) (*identity.User, error) {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	cp := *user
	f.users[user.ID] = &cp
	return user, nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repo.NewRecordNotFound()
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*identity.User, error) {
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repo.NewRecordNotFound()
}

func (f *fakeUsers) GetOrCreate(ctx context.Context, user *identity.User) (*identity.User, bool, error) {
	if existing, err := f.GetByEmail(ctx, user.Email); err == nil {
		return existing, false, nil
	}
	created, err := f.Create(ctx, user)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

func (f *fakeUsers) UpdateRole(ctx context.Context, id uuid.UUID, role identity.Role) error { return nil }
func (f *fakeUsers) SetBan(ctx context.Context, id uuid.UUID, reason string, expires *time.Time) error {
	return nil
}
func (f *fakeUsers) ClearBan(ctx context.Context, id uuid.UUID) error          { return nil }
func (f *fakeUsers) MarkEmailVerified(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeUsers) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	return nil
}
func (f *fakeUsers) TrackAttemptedLogin(ctx context.Context, user *identity.User) error  { return nil }
func (f *fakeUsers) TrackSuccessfulLogin(ctx context.Context, user *identity.User) error { return nil }
func (f *fakeUsers) Delete(ctx context.Context, id uuid.UUID) error                      { return nil }

func newTestExchanger(t *testing.T, provider *fakeProvider, accounts *fakeAccounts, users *fakeUsers, requireVerified bool) *social.Exchanger {
	t.Helper()

	e, err := social.NewExchanger(accounts, users, social.ExchangerConfig{
		StateEncryptionKey:   []byte("0123456789abcdef0123456789abcdef"),
		StateHMACKey:         []byte("fedcba9876543210fedcba9876543210"),
		RequireVerifiedEmail: requireVerified,
	}, social.WithProvider(provider))
	require.NoError(t, err)
	return e
}

func verifiedProfile() *social.Profile {
	return &social.Profile{
		ProviderUserID: "subject-42",
		Provider:       "fake",
		Email:          "oauth@example.com",
		EmailVerified:  true,
		Name:           "OAuth Person",
		AvatarURL:      "https://img.example.com/42.png",
	}
}

func goodToken() *social.Token {
	return &social.Token{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
}

func beginCredential(t *testing.T, e *social.Exchanger, provider, code string) social.CallbackCredential {
	t.Helper()
	redirect, err := e.BeginAuth(context.Background(), provider)
	require.NoError(t, err)
	return social.CallbackCredential{Provider: provider, Code: code, State: redirect.State}
}

func TestExchangerKind(t *testing.T) {
	e := newTestExchanger(t, &fakeProvider{name: "fake"}, newFakeAccounts(), newFakeUsers(), false)
	assert.Equal(t, identity.KindOAuth, e.Kind())
	assert.Equal(t, identity.KindOAuth, social.CallbackCredential{}.Kind())
}

func TestBeginAuth(t *testing.T) {
	provider := &fakeProvider{name: "fake"}
	e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), false)

	t.Run("builds redirect with state and PKCE", func(t *testing.T) {
		redirect, err := e.BeginAuth(context.Background(), "fake")
		require.NoError(t, err)

		assert.Equal(t, "fake", redirect.Provider)
		assert.NotEmpty(t, redirect.State)
		assert.Contains(t, redirect.URL, "state="+redirect.State)
		assert.Contains(t, redirect.URL, "code_challenge=")
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := e.BeginAuth(context.Background(), "myspace")
		assert.ErrorIs(t, err, social.ErrProviderNotFound)
	})
}

func TestExchangerVerifyNewUser(t *testing.T) {
	provider := &fakeProvider{name: "fake", token: goodToken(), profile: verifiedProfile()}
	accounts := newFakeAccounts()
	users := newFakeUsers()
	e := newTestExchanger(t, provider, accounts, users, true)

	verified, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
	require.NoError(t, err)
	assert.True(t, verified.IsNewUser)

	user, err := users.GetByID(context.Background(), verified.UserID)
	require.NoError(t, err)
	assert.Equal(t, "oauth@example.com", user.Email)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, "OAuth Person", user.Name)
	assert.NotEmpty(t, user.PasswordHash)

	link, err := accounts.FindByProviderID(context.Background(), "fake", "subject-42")
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), link.UserID)
	assert.Equal(t, "access-token", link.AccessToken)
	assert.Equal(t, "refresh-token", link.RefreshToken)
	require.NotNil(t, link.TokenExpiresAt)
}

func TestExchangerVerifyReturningUser(t *testing.T) {
	provider := &fakeProvider{name: "fake", token: goodToken(), profile: verifiedProfile()}
	accounts := newFakeAccounts()
	users := newFakeUsers()
	e := newTestExchanger(t, provider, accounts, users, true)

	first, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
	require.NoError(t, err)

	// The provider email changed; the link, not the email, decides.
	provider.profile = verifiedProfile()
	provider.profile.Email = "renamed@example.com"
	provider.token = &social.Token{AccessToken: "fresh-access"}

	second, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
	require.NoError(t, err)

	assert.Equal(t, first.UserID, second.UserID)
	assert.False(t, second.IsNewUser)

	link, err := accounts.FindByProviderID(context.Background(), "fake", "subject-42")
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", link.AccessToken)
}

func TestExchangerVerifyAttachesByEmail(t *testing.T) {
	provider := &fakeProvider{name: "fake", token: goodToken(), profile: verifiedProfile()}
	accounts := newFakeAccounts()
	users := newFakeUsers()

	existing, err := users.Create(context.Background(), &identity.User{
		Email: "oauth@example.com",
		Name:  "Existing Person",
		Role:  identity.RoleUser,
	})
	require.NoError(t, err)

	e := newTestExchanger(t, provider, accounts, users, true)

	verified, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
	require.NoError(t, err)

	assert.Equal(t, existing.ID, verified.UserID)
	assert.False(t, verified.IsNewUser)

	link, err := accounts.FindByProviderID(context.Background(), "fake", "subject-42")
	require.NoError(t, err)
	assert.Equal(t, existing.ID.String(), link.UserID)
}

func TestExchangerUnverifiedEmailNeverAttaches(t *testing.T) {
	profile := verifiedProfile()
	profile.EmailVerified = false
	provider := &fakeProvider{name: "fake", token: goodToken(), profile: profile}
	accounts := newFakeAccounts()
	users := newFakeUsers()

	// The address already belongs to a local account; an unverified provider
	// claim must not sign in as it, regardless of RequireVerifiedEmail.
	victim, err := users.Create(context.Background(), &identity.User{
		Email: "oauth@example.com",
		Name:  "Victim",
		Role:  identity.RoleAdmin,
	})
	require.NoError(t, err)

	e := newTestExchanger(t, provider, accounts, users, false)

	_, err = e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
	assert.ErrorIs(t, err, social.ErrEmailNotVerified)

	_, err = accounts.FindByProviderID(context.Background(), "fake", "subject-42")
	assert.Error(t, err, "no link may be written for the refused login")

	linked, err := accounts.FindByUserID(context.Background(), victim.ID.String())
	require.NoError(t, err)
	assert.Empty(t, linked)
}

func TestExchangerUnverifiedEmailMayCreateUser(t *testing.T) {
	profile := verifiedProfile()
	profile.EmailVerified = false
	provider := &fakeProvider{name: "fake", token: goodToken(), profile: profile}
	users := newFakeUsers()
	e := newTestExchanger(t, provider, newFakeAccounts(), users, false)

	// No local account holds the address, so the relaxed policy may still
	// create a fresh user, carried as unverified.
	verified, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
	require.NoError(t, err)
	assert.True(t, verified.IsNewUser)

	user, err := users.GetByID(context.Background(), verified.UserID)
	require.NoError(t, err)
	assert.False(t, user.EmailVerified)
}

func TestExchangerVerifyFailures(t *testing.T) {
	t.Run("unverified email when verification required", func(t *testing.T) {
		profile := verifiedProfile()
		profile.EmailVerified = false
		provider := &fakeProvider{name: "fake", token: goodToken(), profile: profile}
		e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), true)

		_, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
		assert.ErrorIs(t, err, social.ErrEmailNotVerified)
	})

	t.Run("missing email with no existing link", func(t *testing.T) {
		profile := verifiedProfile()
		profile.Email = ""
		provider := &fakeProvider{name: "fake", token: goodToken(), profile: profile}
		e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), false)

		_, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
		assert.ErrorIs(t, err, social.ErrEmailNotVerified)
	})

	t.Run("missing subject", func(t *testing.T) {
		profile := verifiedProfile()
		profile.ProviderUserID = ""
		provider := &fakeProvider{name: "fake", token: goodToken(), profile: profile}
		e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), false)

		_, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
		assert.ErrorIs(t, err, social.ErrMissingSubject)
	})

	t.Run("exchange failure maps to upstream provider error", func(t *testing.T) {
		provider := &fakeProvider{name: "fake", exchangeErr: errors.New("provider is down")}
		e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), false)

		_, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
		require.Error(t, err)

		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, identity.TextCodeUpstreamProvider, richErr.TextCode)
		assert.Equal(t, "fake", richErr.Metadata["provider"])
	})

	t.Run("user info failure maps to upstream provider error", func(t *testing.T) {
		provider := &fakeProvider{name: "fake", token: goodToken(), userInfoErr: errors.New("api quota")}
		e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), false)

		_, err := e.Verify(context.Background(), beginCredential(t, e, "fake", "good-code"))
		require.Error(t, err)

		var richErr *goerrors.Error
		require.True(t, goerrors.As(err, &richErr))
		assert.Equal(t, identity.TextCodeUpstreamProvider, richErr.TextCode)
	})

	t.Run("state for another provider is rejected", func(t *testing.T) {
		fake := &fakeProvider{name: "fake", token: goodToken(), profile: verifiedProfile()}
		other := &fakeProvider{name: "other", token: goodToken(), profile: verifiedProfile()}

		e, err := social.NewExchanger(newFakeAccounts(), newFakeUsers(), social.ExchangerConfig{
			StateEncryptionKey: []byte("0123456789abcdef0123456789abcdef"),
			StateHMACKey:       []byte("fedcba9876543210fedcba9876543210"),
		}, social.WithProvider(fake), social.WithProvider(other))
		require.NoError(t, err)

		cred := beginCredential(t, e, "other", "good-code")
		cred.Provider = "fake"

		_, err = e.Verify(context.Background(), cred)
		assert.ErrorIs(t, err, social.ErrInvalidState)
	})

	t.Run("garbage state is rejected", func(t *testing.T) {
		provider := &fakeProvider{name: "fake", token: goodToken(), profile: verifiedProfile()}
		e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), false)

		_, err := e.Verify(context.Background(), social.CallbackCredential{
			Provider: "fake", Code: "good-code", State: "garbage",
		})
		assert.ErrorIs(t, err, social.ErrInvalidState)
	})

	t.Run("wrong credential type", func(t *testing.T) {
		provider := &fakeProvider{name: "fake"}
		e := newTestExchanger(t, provider, newFakeAccounts(), newFakeUsers(), false)

		_, err := e.Verify(context.Background(), identity.PasswordCredential{})
		assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	})
}
