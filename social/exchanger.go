package social

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	identity "github.com/goliatone/go-identity"
	repository "github.com/goliatone/go-repository-bun"
)

// CallbackCredential is the raw material of an OAuth login: the provider
// name plus the code and state returned on the callback URL.
type CallbackCredential struct {
	Provider string
	Code     string
	State    string
}

// Kind implements identity.Credential.
func (c CallbackCredential) Kind() string { return identity.KindOAuth }

// AuthRedirect is where the client should send the user to authorize.
type AuthRedirect struct {
	URL      string
	State    string
	Provider string
}

// ExchangerConfig configures the OAuth exchanger. Where the client lands
// after the callback is the transport layer's business, so nothing here
// carries a redirect target.
type ExchangerConfig struct {
	StateEncryptionKey []byte
	StateHMACKey       []byte
	StateTTL           time.Duration
	// RequireVerifiedEmail refuses to create a new user from an unverified
	// provider email. Attaching to an existing account always requires a
	// verified email, independent of this knob.
	RequireVerifiedEmail bool
}

// Exchanger runs the OAuth flow end to end: it mints authorization URLs and
// turns callback credentials into verified identities. A provider account is
// bound to at most one user via the linked-accounts table; on first login the
// verified email decides whether to attach to an existing user or create one.
type Exchanger struct {
	providers    map[string]SocialProvider
	stateManager StateManager
	accounts     LinkedAccountRepository
	users        identity.Users
	config       ExchangerConfig
	logger       identity.Logger
}

// ExchangerOption configures the exchanger.
type ExchangerOption func(*Exchanger)

// WithProvider registers a social provider.
func WithProvider(provider SocialProvider) ExchangerOption {
	return func(e *Exchanger) {
		if provider == nil {
			return
		}
		e.providers[provider.Name()] = provider
	}
}

// WithStateManager sets a custom state manager.
func WithStateManager(sm StateManager) ExchangerOption {
	return func(e *Exchanger) {
		e.stateManager = sm
	}
}

// WithLogger sets the logger.
func WithLogger(l identity.Logger) ExchangerOption {
	return func(e *Exchanger) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExchanger creates an OAuth exchanger over the given stores.
func NewExchanger(
	accounts LinkedAccountRepository,
	users identity.Users,
	config ExchangerConfig,
	opts ...ExchangerOption,
) (*Exchanger, error) {
	if accounts == nil {
		return nil, fmt.Errorf("social: linked account repository is required")
	}
	if users == nil {
		return nil, fmt.Errorf("social: user store is required")
	}

	cfg := config
	if cfg.StateTTL == 0 {
		cfg.StateTTL = 10 * time.Minute
	}

	e := &Exchanger{
		providers: make(map[string]SocialProvider),
		accounts:  accounts,
		users:     users,
		config:    cfg,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	if e.stateManager == nil {
		e.stateManager = NewEncryptedStateManager(
			cfg.StateEncryptionKey,
			cfg.StateHMACKey,
			cfg.StateTTL,
		)
	}

	return e, nil
}

// Kind implements identity.CredentialVerifier.
func (e *Exchanger) Kind() string { return identity.KindOAuth }

// BeginAuth starts the OAuth flow for a provider and returns the redirect.
func (e *Exchanger) BeginAuth(ctx context.Context, providerName string) (*AuthRedirect, error) {
	provider, ok := e.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, providerName)
	}

	codeVerifier, err := GenerateCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	codeChallenge := ComputeCodeChallenge(codeVerifier)

	state := &OAuthState{
		Nonce:        generateNonce(),
		Provider:     providerName,
		CodeVerifier: codeVerifier,
		IssuedAt:     time.Now().Unix(),
		ExpiresAt:    time.Now().Add(e.config.StateTTL).Unix(),
	}

	stateToken, err := e.stateManager.Encode(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}

	authURL := provider.AuthCodeURL(stateToken, WithPKCE(codeChallenge, "S256"))

	return &AuthRedirect{
		URL:      authURL,
		State:    stateToken,
		Provider: providerName,
	}, nil
}

// Verify implements identity.CredentialVerifier. It completes the callback:
// validates state, exchanges the code, fetches the profile, and resolves the
// provider identity to a local user.
func (e *Exchanger) Verify(ctx context.Context, cred identity.Credential) (*identity.VerifiedIdentity, error) {
	cb, ok := cred.(CallbackCredential)
	if !ok {
		if p, isPtr := cred.(*CallbackCredential); isPtr && p != nil {
			cb = *p
		} else {
			return nil, identity.ErrInvalidCredentials
		}
	}

	state, err := e.stateManager.Decode(cb.State)
	if err != nil {
		return nil, err
	}
	if state.Provider != cb.Provider {
		return nil, fmt.Errorf("%w: provider mismatch", ErrInvalidState)
	}

	provider, ok := e.providers[cb.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, cb.Provider)
	}

	token, err := provider.Exchange(ctx, cb.Code, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		return nil, identity.NewUpstreamProviderError(
			fmt.Errorf("%w: %v", ErrTokenExchangeFailed, err), cb.Provider)
	}

	profile, err := provider.UserInfo(ctx, token)
	if err != nil {
		return nil, identity.NewUpstreamProviderError(
			fmt.Errorf("%w: %v", ErrUserInfoFailed, err), cb.Provider)
	}

	if profile.ProviderUserID == "" {
		return nil, ErrMissingSubject
	}

	user, isNew, err := e.resolveUser(ctx, profile)
	if err != nil {
		return nil, err
	}

	if err := e.saveLink(ctx, user, profile, token); err != nil {
		return nil, err
	}

	if e.logger != nil {
		e.logger.Info("oauth login: provider=%s subject=%s user=%s new=%t",
			profile.Provider, profile.ProviderUserID, user.ID, isNew)
	}

	return &identity.VerifiedIdentity{
		UserID:    user.ID,
		IsNewUser: isNew,
	}, nil
}

// resolveUser maps a provider profile to a local user. Resolution order: an
// existing link wins; otherwise a verified matching email attaches to the
// account holding it; otherwise a new user is created with the provider's
// claims.
func (e *Exchanger) resolveUser(ctx context.Context, profile *Profile) (*identity.User, bool, error) {
	account, err := e.accounts.FindByProviderID(ctx, profile.Provider, profile.ProviderUserID)
	if err != nil && !repository.IsRecordNotFound(err) && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to look up linked account: %w", err)
	}

	if account != nil {
		id, perr := uuid.Parse(account.UserID)
		if perr != nil {
			return nil, false, fmt.Errorf("linked account has invalid user id: %w", perr)
		}
		user, uerr := e.users.GetByID(ctx, id)
		if uerr != nil {
			return nil, false, uerr
		}
		return user, false, nil
	}

	if profile.Email == "" {
		return nil, false, ErrEmailNotVerified
	}

	email := identity.NormalizeEmail(profile.Email)

	existing, err := e.users.GetByEmail(ctx, email)
	if err != nil && !repository.IsRecordNotFound(err) && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to look up user by email: %w", err)
	}
	if err == nil && existing != nil {
		// Attaching a provider identity to an already-registered user takes
		// over that account, so the provider must vouch for the address.
		// RequireVerifiedEmail only relaxes the create-new-user path below.
		if !profile.EmailVerified {
			return nil, false, ErrEmailNotVerified
		}
		return existing, false, nil
	}

	if e.config.RequireVerifiedEmail && !profile.EmailVerified {
		return nil, false, ErrEmailNotVerified
	}

	user, err := e.users.Create(ctx, &identity.User{
		Email:         email,
		Name:          profile.Name,
		AvatarURL:     profile.AvatarURL,
		EmailVerified: profile.EmailVerified,
		PasswordHash:  identity.RandomPasswordHash(identity.DefaultBcryptCost),
	})
	if err != nil {
		return nil, false, err
	}

	return user, true, nil
}

// saveLink upserts the linked account, refreshing tokens on every login.
func (e *Exchanger) saveLink(ctx context.Context, user *identity.User, profile *Profile, token *Token) error {
	account := &LinkedAccount{
		UserID:         user.ID.String(),
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
		Name:           profile.Name,
		AvatarURL:      profile.AvatarURL,
	}
	if token != nil {
		account.AccessToken = token.AccessToken
		account.RefreshToken = token.RefreshToken
		if !token.ExpiresAt.IsZero() {
			expires := token.ExpiresAt
			account.TokenExpiresAt = &expires
		}
	}

	if err := e.accounts.Upsert(ctx, account); err != nil {
		return fmt.Errorf("failed to save linked account: %w", err)
	}
	return nil
}
