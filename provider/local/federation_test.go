package local

import (
	"context"
	"net/url"
	"testing"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func googleFederationOptions() auth.FederationOptions {
	return auth.FederationOptions{
		StateSecret: "0123456789abcdef0123456789abcdef",
		StateTTL:    auth.Duration{Duration: 5 * time.Minute},
		Google: auth.GoogleOptions{
			ClientID:     "campus-client",
			ClientSecret: "campus-secret",
			CallbackURL:  "https://campus.test/auth/google",
		},
	}
}

func TestNewFederationFromOptions(t *testing.T) {
	t.Run("disabled without a client id", func(t *testing.T) {
		assert.Nil(t, NewFederationFromOptions(auth.FederationOptions{StateSecret: "x"}, nil))
	})

	t.Run("registers google", func(t *testing.T) {
		federation := NewFederationFromOptions(googleFederationOptions(), nopLogger{})
		require.NotNil(t, federation)
		assert.Equal(t, []string{"google"}, federation.Providers().Names())
	})
}

func TestBackend_FederationFromOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("redirects to google", func(t *testing.T) {
		fx := newBackendFixture(t, WithFederationOptions(googleFederationOptions()))

		redirect, err := fx.backend.BeginFederated(ctx, "google", "")
		require.NoError(t, err)
		require.NotEmpty(t, redirect.State)

		parsed, err := url.Parse(redirect.URL)
		require.NoError(t, err)
		assert.Equal(t, "accounts.google.com", parsed.Host)

		query := parsed.Query()
		assert.Equal(t, "campus-client", query.Get("client_id"))
		assert.Equal(t, "https://campus.test/auth/google", query.Get("redirect_uri"))
		assert.Equal(t, "S256", query.Get("code_challenge_method"))
		assert.NotEmpty(t, query.Get("code_challenge"))
		assert.Equal(t, redirect.State, query.Get("state"))
	})

	t.Run("unknown provider", func(t *testing.T) {
		fx := newBackendFixture(t, WithFederationOptions(googleFederationOptions()))
		_, err := fx.backend.BeginFederated(ctx, "campus-idp", "")
		assert.Error(t, err)
	})

	t.Run("disabled section", func(t *testing.T) {
		fx := newBackendFixture(t, WithFederationOptions(auth.FederationOptions{}))
		_, err := fx.backend.BeginFederated(ctx, "google", "")
		assert.ErrorIs(t, err, auth.ErrFederationUnsupported)
	})
}
