package local

import (
	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/social"
	"github.com/goliatone/go-campus-auth/social/providers/google"
)

// NewFederationFromOptions builds the federated sign-in flow described by
// the federation config section. It returns nil when no provider is set up.
func NewFederationFromOptions(opts auth.FederationOptions, logger auth.Logger) *social.Federation {
	if !opts.Enabled() {
		return nil
	}

	registry := social.NewRegistry(google.New(google.Config{
		ClientID:     opts.Google.ClientID,
		ClientSecret: opts.Google.ClientSecret,
		CallbackURL:  opts.Google.CallbackURL,
		Scopes:       opts.Google.Scopes,
	}))

	ttl := opts.StateTTL.Duration
	if ttl <= 0 {
		ttl = auth.DefaultFederationStateTTL
	}
	states := social.NewEncryptedStateManager([]byte(opts.StateSecret), ttl)

	var fedOpts []social.FederationOption
	if logger != nil {
		fedOpts = append(fedOpts, social.WithFederationLogger(logger))
	}
	return social.NewFederation(registry, states, fedOpts...)
}

// WithFederationOptions enables federated sign in from config. A disabled
// section leaves federation off. The flow is built once every option has
// been applied so it picks up the backend logger.
func WithFederationOptions(opts auth.FederationOptions) BackendOption {
	return func(b *Backend) {
		b.federationOpts = &opts
	}
}
