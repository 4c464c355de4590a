package identity

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

const (
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	TextCodeNoActiveChallenge  = "NO_ACTIVE_CHALLENGE"
	TextCodeCodeMismatch       = "CODE_MISMATCH"
	TextCodeAttemptsExhausted  = "ATTEMPTS_EXHAUSTED"
	TextCodeSessionExpired     = "SESSION_EXPIRED"
	TextCodeSessionRevoked     = "SESSION_REVOKED"
	TextCodeUserBanned         = "USER_BANNED"
	TextCodeForbidden          = "FORBIDDEN"
	TextCodeConflict           = "CONFLICT"
	TextCodeDeliveryFailure    = "DELIVERY_FAILURE"
	TextCodeUpstreamProvider   = "UPSTREAM_PROVIDER_ERROR"
	TextCodeTooManyAttempts    = "TOO_MANY_LOGIN_ATTEMPTS"
)

// ErrInvalidCredentials is returned for both an unknown identifier and a
// wrong password. The two cases are intentionally indistinguishable.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrNoActiveChallenge is returned when no live one-time code exists for the
// given email/purpose pair, or the one that did has expired.
var ErrNoActiveChallenge = goerrors.New("no active code challenge", goerrors.CategoryAuth).
	WithTextCode(TextCodeNoActiveChallenge).
	WithCode(goerrors.CodeUnauthorized)

// ErrCodeMismatch is returned when a submitted one-time code does not match.
var ErrCodeMismatch = goerrors.New("code does not match", goerrors.CategoryAuth).
	WithTextCode(TextCodeCodeMismatch).
	WithCode(goerrors.CodeUnauthorized)

// ErrAttemptsExhausted is returned once a challenge has no attempts left; the
// challenge is dead from that point, even for the correct code.
var ErrAttemptsExhausted = goerrors.New("verification attempts exhausted", goerrors.CategoryAuth).
	WithTextCode(TextCodeAttemptsExhausted).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionExpired is returned when a session's TTL has elapsed.
var ErrSessionExpired = goerrors.New("session expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrSessionRevoked is returned when a session has been revoked or its row no
// longer exists. Malformed or forged session handles map here as well.
var ErrSessionRevoked = goerrors.New("session revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrForbidden is returned when the caller's role does not meet the required
// threshold, or on an attempt to elevate a target above the caller's role.
var ErrForbidden = goerrors.New("insufficient role", goerrors.CategoryAuthz).
	WithTextCode(TextCodeForbidden).
	WithCode(goerrors.CodeForbidden)

// ErrEmailTaken is returned when registration collides with an existing email
// or provider account.
var ErrEmailTaken = goerrors.New("email already registered", goerrors.CategoryConflict).
	WithTextCode(TextCodeConflict).
	WithCode(goerrors.CodeConflict)

// ErrDeliveryFailure is returned when the delivery channel rejects a message.
// The caller may retry; the core never retries on its own.
var ErrDeliveryFailure = goerrors.New("message delivery failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeDeliveryFailure).
	WithCode(goerrors.CodeInternal)

// ErrTooManyLoginAttempts is returned when the password cooldown window still
// holds more failed attempts than allowed.
var ErrTooManyLoginAttempts = goerrors.New("too many login attempts", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeTooManyAttempts).
	WithCode(goerrors.CodeBadRequest)

// NewUserBannedError builds the banned error carrying reason and expiry so the
// boundary can render an informative message.
func NewUserBannedError(reason string, expires *time.Time) *goerrors.Error {
	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}
	if expires != nil {
		meta["ban_expires"] = expires.UTC().Format(time.RFC3339)
	}

	return goerrors.New("user is banned", goerrors.CategoryAuth).
		WithTextCode(TextCodeUserBanned).
		WithCode(goerrors.CodeForbidden).
		WithMetadata(meta)
}

// NewUpstreamProviderError wraps an OAuth provider failure.
func NewUpstreamProviderError(err error, provider string) *goerrors.Error {
	return goerrors.Wrap(err, goerrors.CategoryOperation, "upstream provider error").
		WithTextCode(TextCodeUpstreamProvider).
		WithCode(goerrors.CodeInternal).
		WithMetadata(map[string]any{"provider": provider})
}

// IsUserBanned reports whether err is the banned taxonomy kind.
func IsUserBanned(err error) bool {
	return hasTextCode(err, TextCodeUserBanned)
}

// IsForbidden reports whether err is the forbidden taxonomy kind.
func IsForbidden(err error) bool {
	return hasTextCode(err, TextCodeForbidden)
}

func hasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// wrapStorage classifies a storage error before it can cross the boundary.
// Not-found conditions are preserved so callers can branch on them; everything
// else becomes an internal error with the storage detail attached.
func wrapStorage(err error, msg string) error {
	if err == nil {
		return nil
	}
	if repository.IsRecordNotFound(err) {
		return err
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, msg)
}
