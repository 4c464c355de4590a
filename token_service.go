package identity

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionClaims is the payload of the signed session handle. The handle
// carries no authority of its own: it names a session row (jti) and its
// owner (sub), and every resolve re-reads both rows. Expiry deliberately
// lives on the session row, not in the token, so sliding renewal and admin
// revocation work without reissuing handles.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// TokenService signs and parses session handles.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	logger     Logger
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, issuer string, audience []string, logger Logger) *TokenService {
	if logger == nil {
		logger = defLogger{}
	}
	var aud jwt.ClaimStrings
	if len(audience) > 0 {
		aud = make(jwt.ClaimStrings, len(audience))
		copy(aud, audience)
	}
	return &TokenService{
		signingKey: signingKey,
		issuer:     issuer,
		audience:   aud,
		logger:     logger,
	}
}

// Sign mints the handle for a session row.
func (ts *TokenService) Sign(session *Session) (string, error) {
	if session == nil {
		return "", goerrors.New("session must not be nil", goerrors.CategoryInternal)
	}

	claims := &SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       session.ID.String(),
			Subject:  session.UserID.String(),
			Issuer:   ts.issuer,
			Audience: ts.audience,
			IssuedAt: jwt.NewNumericDate(session.CreatedAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign session token")
	}

	return signed, nil
}

// Parse validates the handle's signature and returns the session id it names.
// A token that fails signature or shape checks maps to ErrSessionRevoked: it
// names no live session and the caller must treat it as dead.
func (ts *TokenService) Parse(raw string) (uuid.UUID, error) {
	parserOptions := make([]jwt.ParserOption, 0, 2)
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	token, err := jwt.ParseWithClaims(raw, &SessionClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("TokenService parse encountered unexpected signing method: %v", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		return uuid.Nil, ErrSessionRevoked.WithMetadata(map[string]any{
			"reason": "invalid token",
		})
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		ts.logger.Error("TokenService parse could not decode claims")
		return uuid.Nil, ErrSessionRevoked
	}

	sessionID, err := uuid.Parse(claims.ID)
	if err != nil {
		return uuid.Nil, ErrSessionRevoked.WithMetadata(map[string]any{
			"reason": "malformed session id",
		})
	}

	return sessionID, nil
}
