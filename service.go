package identity

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// Service is the caller-facing operation surface. It is explicit composition:
// a list of credential verifiers, a session manager, and the admin facade,
// all validated at construction. There is no plugin ordering and no ambient
// configuration.
type Service struct {
	cfg        Config
	sessions   *SessionManager
	admin      *Admin
	dispatcher *CodeDispatcher
	verifiers  map[string]CredentialVerifier
	registrar  *PasswordVerifier
	logger     Logger
}

// ServiceOption customizes the service.
type ServiceOption func(*Service)

// WithServiceLogger overrides the service logger.
func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDispatcher wires the one-time-code dispatcher. Without it SendCode
// fails; code verification still works if a CodeVerifier is registered.
func WithDispatcher(dispatcher *CodeDispatcher) ServiceOption {
	return func(s *Service) {
		s.dispatcher = dispatcher
	}
}

// New validates and assembles the service. Verifier kinds must be unique;
// sessions and admin are required.
func New(cfg Config, sessions *SessionManager, admin *Admin, verifiers []CredentialVerifier, opts ...ServiceOption) (*Service, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid configuration")
	}
	if sessions == nil {
		return nil, goerrors.New("session manager is required", goerrors.CategoryValidation)
	}
	if admin == nil {
		return nil, goerrors.New("admin policy is required", goerrors.CategoryValidation)
	}
	if len(verifiers) == 0 {
		return nil, goerrors.New("at least one credential verifier is required", goerrors.CategoryValidation)
	}

	byKind := make(map[string]CredentialVerifier, len(verifiers))
	for _, v := range verifiers {
		if v == nil {
			return nil, goerrors.New("nil credential verifier", goerrors.CategoryValidation)
		}
		if _, dup := byKind[v.Kind()]; dup {
			return nil, goerrors.New("duplicate credential verifier kind", goerrors.CategoryValidation).
				WithMetadata(map[string]any{"kind": v.Kind()})
		}
		byKind[v.Kind()] = v
	}

	s := &Service{
		cfg:       cfg,
		sessions:  sessions,
		admin:     admin,
		verifiers: byKind,
		logger:    defLogger{},
	}

	if pv, ok := byKind[KindPassword].(*PasswordVerifier); ok {
		s.registrar = pv
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s, nil
}

// Sessions exposes the session manager.
func (s *Service) Sessions() *SessionManager { return s.sessions }

// Admin exposes the admin operations facade.
func (s *Service) Admin() *Admin { return s.admin }

// SignUp registers a new user with email/password. It does not sign them in.
func (s *Service) SignUp(ctx context.Context, payload SignUpPayload) (*User, error) {
	if s.registrar == nil {
		return nil, goerrors.New("password sign-up is not enabled", goerrors.CategoryOperation)
	}
	return s.registrar.Register(ctx, payload)
}

// SignInWith runs the registered verifier for the credential's kind and, on
// success, starts a session.
func (s *Service) SignInWith(ctx context.Context, cred Credential, client ClientInfo, opts ...IssueOption) (*StartedSession, error) {
	verifier, ok := s.verifiers[cred.Kind()]
	if !ok {
		return nil, goerrors.New("no verifier for credential kind", goerrors.CategoryOperation).
			WithMetadata(map[string]any{"kind": cred.Kind()})
	}

	verified, err := verifier.Verify(ctx, cred)
	if err != nil {
		s.logger.Debug("credential verification failed kind=%s: %v", cred.Kind(), err)
		return nil, err
	}

	return s.sessions.Issue(ctx, verified.UserID, client, opts...)
}

// SignInPassword authenticates an (email, password) pair.
func (s *Service) SignInPassword(ctx context.Context, email, password string, client ClientInfo, opts ...IssueOption) (*StartedSession, error) {
	return s.SignInWith(ctx, PasswordCredential{Email: email, Password: password}, client, opts...)
}

// SendCode issues and delivers a one-time code for (email, purpose).
func (s *Service) SendCode(ctx context.Context, email string, purpose CodePurpose) error {
	if s.dispatcher == nil {
		return goerrors.New("code dispatch is not enabled", goerrors.CategoryOperation)
	}
	return s.dispatcher.Send(ctx, email, purpose)
}

// CodeVerification is VerifyCode's result. Session is set only for the
// sign-in purpose; the other purposes prove the address without starting one.
type CodeVerification struct {
	UserID    uuid.UUID
	IsNewUser bool
	Session   *StartedSession
}

// VerifyCode checks a submitted code. For sign-in the result carries a fresh
// session; for email-verification it marks the user verified and the result's
// Session stays nil.
func (s *Service) VerifyCode(ctx context.Context, email, code string, purpose CodePurpose, client ClientInfo) (*CodeVerification, error) {
	verifier, ok := s.verifiers[KindCode]
	if !ok {
		return nil, goerrors.New("code verification is not enabled", goerrors.CategoryOperation)
	}

	verified, err := verifier.Verify(ctx, CodeCredential{Email: email, Code: code, Purpose: purpose})
	if err != nil {
		return nil, err
	}

	result := &CodeVerification{
		UserID:    verified.UserID,
		IsNewUser: verified.IsNewUser,
	}

	if purpose != PurposeSignIn {
		return result, nil
	}

	started, err := s.sessions.Issue(ctx, verified.UserID, client)
	if err != nil {
		return nil, err
	}
	result.Session = started

	return result, nil
}

// ResetPassword verifies a password-reset code and stores the new password
// hash. The proven email is marked verified along the way.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	verifier, ok := s.verifiers[KindCode]
	if !ok {
		return goerrors.New("code verification is not enabled", goerrors.CategoryOperation)
	}
	if s.registrar == nil {
		return goerrors.New("password auth is not enabled", goerrors.CategoryOperation)
	}

	verified, err := verifier.Verify(ctx, CodeCredential{Email: email, Code: code, Purpose: PurposePasswordReset})
	if err != nil {
		return err
	}

	hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	if err := s.registrar.users.UpdatePasswordHash(ctx, verified.UserID, hash); err != nil {
		return wrapStorage(err, "failed to store new password")
	}
	if err := s.registrar.users.MarkEmailVerified(ctx, verified.UserID); err != nil {
		return wrapStorage(err, "failed to mark email verified")
	}

	return nil
}

// GetSession resolves a session handle to its live authorization context.
func (s *Service) GetSession(ctx context.Context, token string) (*Auth, error) {
	return s.sessions.Resolve(ctx, token)
}

// SignOut revokes the session the handle names.
func (s *Service) SignOut(ctx context.Context, token string) error {
	return s.sessions.SignOut(ctx, token)
}
