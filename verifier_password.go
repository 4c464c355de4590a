package identity

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/nyaruka/phonenumbers"
)

// PasswordCredential is an (email, password) pair.
type PasswordCredential struct {
	Email    string
	Password string
}

// Kind implements Credential.
func (PasswordCredential) Kind() string { return KindPassword }

// PasswordVerifier authenticates email/password credentials and handles
// registration. Unknown email and wrong password produce the same error, and
// the unknown-email path still performs a bcrypt compare so the two failures
// are not distinguishable by timing.
type PasswordVerifier struct {
	users  Users
	cfg    Config
	now    Clock
	logger Logger
}

// PasswordVerifierOption customizes the verifier.
type PasswordVerifierOption func(*PasswordVerifier)

// WithPasswordClock injects a custom clock.
func WithPasswordClock(clock Clock) PasswordVerifierOption {
	return func(v *PasswordVerifier) {
		if clock != nil {
			v.now = clock
		}
	}
}

// WithPasswordLogger overrides the verifier's logger.
func WithPasswordLogger(logger Logger) PasswordVerifierOption {
	return func(v *PasswordVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewPasswordVerifier wires the verifier.
func NewPasswordVerifier(users Users, cfg Config, opts ...PasswordVerifierOption) *PasswordVerifier {
	cfg.setDefaults()
	v := &PasswordVerifier{
		users:  users,
		cfg:    cfg,
		now:    time.Now,
		logger: defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Kind implements CredentialVerifier.
func (v *PasswordVerifier) Kind() string { return KindPassword }

// Verify implements CredentialVerifier.
func (v *PasswordVerifier) Verify(ctx context.Context, cred Credential) (*VerifiedIdentity, error) {
	pc, ok := cred.(PasswordCredential)
	if !ok {
		return nil, goerrors.New("password verifier received wrong credential kind", goerrors.CategoryBadInput)
	}

	email := NormalizeEmail(pc.Email)

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// Burn the same bcrypt cost as the known-email path.
			_ = ComparePasswordAndHash(pc.Password, fallbackPasswordHash(v.cfg.BcryptCost))
			return nil, ErrInvalidCredentials
		}
		return nil, wrapStorage(err, "failed to retrieve user during verification")
	}

	attempts := user.LoginAttempts
	if user.LoginAttemptAt != nil && v.now().Sub(*user.LoginAttemptAt) > v.cfg.LoginCooldown {
		attempts = 0
	}

	if attempts >= v.cfg.MaxLoginAttempts {
		return nil, ErrTooManyLoginAttempts
	}

	if err := ComparePasswordAndHash(pc.Password, user.PasswordHash); err != nil {
		if trackErr := v.users.TrackAttemptedLogin(ctx, user); trackErr != nil {
			v.logger.Warn("failed to track login attempt: %v", trackErr)
		}
		return nil, ErrInvalidCredentials
	}

	if err := v.users.TrackSuccessfulLogin(ctx, user); err != nil {
		v.logger.Warn("failed to track successful login: %v", err)
	}

	return &VerifiedIdentity{UserID: user.ID}, nil
}

// SignUpPayload is the registration input.
type SignUpPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone,omitempty"`
	// UseHashid derives the user id deterministically from the email.
	UseHashid bool `json:"-"`
}

// Validate checks the payload before any storage work happens.
func (p SignUpPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Email, validation.Required, is.Email),
		validation.Field(&p.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&p.Name, validation.Required, validation.Length(1, 255)),
	)
}

// Register creates a new user with role RoleUser. A duplicate email fails
// with ErrEmailTaken.
func (v *PasswordVerifier) Register(ctx context.Context, payload SignUpPayload) (*User, error) {
	if err := payload.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sign-up payload")
	}

	phone, err := normalizePhone(payload.Phone)
	if err != nil {
		return nil, err
	}

	hash, err := HashPassword(payload.Password, v.cfg.BcryptCost)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	email := NormalizeEmail(payload.Email)

	if _, err := v.users.GetByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !repository.IsRecordNotFound(err) {
		return nil, wrapStorage(err, "failed to check existing email")
	}

	user := &User{
		Email:        email,
		Name:         payload.Name,
		Phone:        phone,
		PasswordHash: hash,
		Role:         RoleUser,
	}

	if payload.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		}
	}

	user, err = v.users.Create(ctx, user)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}

	return user, nil
}

// NormalizeEmail lower-cases and trims an email so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizePhone(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}

	parsed, err := phonenumbers.Parse(raw, "US")
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryValidation, "invalid phone number").
			WithCode(goerrors.CodeBadRequest)
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", goerrors.New("invalid phone number", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest)
	}

	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}
