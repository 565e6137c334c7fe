package social

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestStateManager_EncryptDecrypt(t *testing.T) {
	sm := NewEncryptedStateManager(testSecret, 10*time.Minute)

	state := &OAuthState{
		Provider:     "google",
		RedirectURL:  "https://campus.test/auth/callback",
		CodeVerifier: "test-verifier",
	}

	encoded, err := sm.Encode(state)
	require.NoError(t, err)
	assert.NotContains(t, encoded, "test-verifier")

	decoded, err := sm.Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, state.Provider, decoded.Provider)
	assert.Equal(t, state.RedirectURL, decoded.RedirectURL)
	assert.Equal(t, state.CodeVerifier, decoded.CodeVerifier)
	assert.NotEmpty(t, decoded.Nonce)
}

func TestStateManager_ExpiredState(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sm := NewEncryptedStateManager(testSecret, time.Minute, WithStateClock(func() time.Time { return now }))

	encoded, err := sm.Encode(&OAuthState{Provider: "google"})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = sm.Decode(encoded)
	assert.ErrorIs(t, err, ErrStateExpired)
}

func TestStateManager_RejectsTampering(t *testing.T) {
	sm := NewEncryptedStateManager(testSecret, time.Minute)
	encoded, err := sm.Encode(&OAuthState{Provider: "google"})
	require.NoError(t, err)

	flipped := []byte(encoded)
	last := len(flipped) - 2
	if flipped[last] == 'A' {
		flipped[last] = 'B'
	} else {
		flipped[last] = 'A'
	}

	_, err = sm.Decode(string(flipped))
	assert.ErrorIs(t, err, ErrInvalidState)

	other := NewEncryptedStateManager([]byte(strings.Repeat("x", 32)), time.Minute)
	_, err = other.Decode(encoded)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = sm.Decode("%%%")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCodeChallenge(t *testing.T) {
	// RFC 7636 appendix B
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		computeCodeChallenge("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}
