package social_test

import (
	"testing"
	"time"

	"github.com/goliatone/go-identity/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStateManager(ttl time.Duration) *social.EncryptedStateManager {
	encryptionKey := []byte("0123456789abcdef0123456789abcdef")
	hmacKey := []byte("fedcba9876543210fedcba9876543210")
	return social.NewEncryptedStateManager(encryptionKey, hmacKey, ttl)
}

func TestStateRoundTrip(t *testing.T) {
	sm := newStateManager(10 * time.Minute)

	state := &social.OAuthState{
		Provider:     "github",
		CodeVerifier: "some-code-verifier",
	}

	token, err := sm.Encode(state)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	decoded, err := sm.Decode(token)
	require.NoError(t, err)

	assert.Equal(t, "github", decoded.Provider)
	assert.Equal(t, "some-code-verifier", decoded.CodeVerifier)
	assert.NotEmpty(t, decoded.Nonce)
	assert.NotZero(t, decoded.IssuedAt)
	assert.NotZero(t, decoded.ExpiresAt)
}

func TestStateEncodeNil(t *testing.T) {
	sm := newStateManager(0)
	_, err := sm.Encode(nil)
	assert.Error(t, err)
}

func TestStateDecodeRejects(t *testing.T) {
	sm := newStateManager(10 * time.Minute)

	state := &social.OAuthState{Provider: "google"}
	token, err := sm.Encode(state)
	require.NoError(t, err)

	t.Run("not base64", func(t *testing.T) {
		_, err := sm.Decode("%%%not-base64%%%")
		assert.ErrorIs(t, err, social.ErrInvalidState)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := sm.Decode("AAAA")
		assert.ErrorIs(t, err, social.ErrInvalidState)
	})

	t.Run("tampered payload", func(t *testing.T) {
		tampered := token[:len(token)-8] + "AAAAAAAA"
		_, err := sm.Decode(tampered)
		assert.ErrorIs(t, err, social.ErrInvalidState)
	})

	t.Run("wrong keys", func(t *testing.T) {
		other := social.NewEncryptedStateManager(
			[]byte("ffffffffffffffffffffffffffffffff"),
			[]byte("00000000000000000000000000000000"),
			10*time.Minute,
		)
		_, err := other.Decode(token)
		assert.ErrorIs(t, err, social.ErrInvalidState)
	})
}

func TestStateExpiry(t *testing.T) {
	sm := newStateManager(10 * time.Minute)

	state := &social.OAuthState{
		Provider:  "google",
		IssuedAt:  time.Now().Add(-time.Hour).Unix(),
		ExpiresAt: time.Now().Add(-30 * time.Minute).Unix(),
	}

	token, err := sm.Encode(state)
	require.NoError(t, err)

	_, err = sm.Decode(token)
	assert.ErrorIs(t, err, social.ErrStateExpired)
}

func TestCodeChallengeDerivation(t *testing.T) {
	verifier, err := social.GenerateCodeVerifier()
	require.NoError(t, err)
	require.NotEmpty(t, verifier)

	challenge := social.ComputeCodeChallenge(verifier)
	assert.NotEmpty(t, challenge)
	assert.NotEqual(t, verifier, challenge)

	// Deterministic for the same verifier, distinct across verifiers.
	assert.Equal(t, challenge, social.ComputeCodeChallenge(verifier))

	other, err := social.GenerateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, social.ComputeCodeChallenge(other), challenge)
}
