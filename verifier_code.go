package identity

import (
	"context"
	"crypto/subtle"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// CodeCredential is a submitted one-time code for an (email, purpose) pair.
type CodeCredential struct {
	Email   string
	Code    string
	Purpose CodePurpose
}

// Kind implements Credential.
func (CodeCredential) Kind() string { return KindCode }

// CodeVerifier checks submitted one-time codes against the live challenge.
// A challenge is consumed on first success and dies after expiry or once the
// attempts budget reaches zero; the attempts decrement is a single atomic
// store operation so concurrent guesses cannot exceed the budget.
type CodeVerifier struct {
	challenges Challenges
	users      Users
	cfg        Config
	now        Clock
	logger     Logger
}

// CodeVerifierOption customizes the verifier.
type CodeVerifierOption func(*CodeVerifier)

// WithCodeClock injects a custom clock.
func WithCodeClock(clock Clock) CodeVerifierOption {
	return func(v *CodeVerifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// WithCodeLogger overrides the verifier's logger.
func WithCodeLogger(logger Logger) CodeVerifierOption {
	return func(v *CodeVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewCodeVerifier wires the verifier.
func NewCodeVerifier(challenges Challenges, users Users, cfg Config, opts ...CodeVerifierOption) *CodeVerifier {
	cfg.setDefaults()
	v := &CodeVerifier{
		challenges: challenges,
		users:      users,
		cfg:        cfg,
		now:        time.Now,
		logger:     defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Kind implements CredentialVerifier.
func (v *CodeVerifier) Kind() string { return KindCode }

// Verify implements CredentialVerifier.
//
// On a match the challenge is consumed. For sign-in an unknown email
// auto-registers a user (their email is proven, so it starts verified). For
// email-verification the existing user is marked verified instead; for
// password-reset the caller follows up with the new password, see
// Service.ResetPassword.
func (v *CodeVerifier) Verify(ctx context.Context, cred Credential) (*VerifiedIdentity, error) {
	cc, ok := cred.(CodeCredential)
	if !ok {
		return nil, goerrors.New("code verifier received wrong credential kind", goerrors.CategoryBadInput)
	}
	if !IsValidCodePurpose(cc.Purpose) {
		return nil, goerrors.New("unknown code purpose", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	email := NormalizeEmail(cc.Email)

	challenge, err := v.challenges.GetLive(ctx, email, cc.Purpose, v.now())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrNoActiveChallenge
		}
		return nil, wrapStorage(err, "failed to load code challenge")
	}

	// A drained challenge is dead even for the correct code.
	if challenge.Attempts <= 0 {
		return nil, ErrAttemptsExhausted
	}

	if subtle.ConstantTimeCompare([]byte(cc.Code), []byte(challenge.Code)) != 1 {
		remaining, err := v.challenges.ConsumeAttempt(ctx, challenge.ID)
		if err != nil {
			return nil, wrapStorage(err, "failed to consume challenge attempt")
		}
		if remaining <= 0 {
			return nil, ErrAttemptsExhausted
		}
		return nil, ErrCodeMismatch.WithMetadata(map[string]any{
			"attempts_remaining": remaining,
		})
	}

	if err := v.challenges.Consume(ctx, challenge.ID); err != nil {
		return nil, wrapStorage(err, "failed to consume challenge")
	}

	if cc.Purpose == PurposeEmailVerification {
		user, err := v.users.GetByEmail(ctx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil, ErrInvalidCredentials
			}
			return nil, wrapStorage(err, "failed to load user for verification")
		}
		if err := v.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return nil, wrapStorage(err, "failed to mark email verified")
		}
		return &VerifiedIdentity{UserID: user.ID}, nil
	}

	user, created, err := v.users.GetOrCreate(ctx, &User{
		Email:         email,
		Name:          email,
		Role:          RoleUser,
		EmailVerified: true,
		PasswordHash:  RandomPasswordHash(v.cfg.BcryptCost),
	})
	if err != nil {
		return nil, wrapStorage(err, "failed to resolve user for code sign-in")
	}

	if !created && !user.EmailVerified {
		// They just proved control of the address.
		if err := v.users.MarkEmailVerified(ctx, user.ID); err != nil {
			v.logger.Warn("failed to mark email verified for %s: %v", user.ID, err)
		}
	}

	return &VerifiedIdentity{UserID: user.ID, IsNewUser: created}, nil
}
