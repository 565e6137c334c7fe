package social

import (
	"context"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Federation runs both legs of an authorization code flow with PKCE.
type Federation struct {
	providers            *Registry
	states               StateManager
	logger               Logger
	requireVerifiedEmail bool
	authCodeOptions      []AuthCodeOption
}

type FederationOption func(*Federation)

func WithFederationLogger(logger Logger) FederationOption {
	return func(f *Federation) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithUnverifiedEmails accepts profiles whose email the provider did not verify
func WithUnverifiedEmails() FederationOption {
	return func(f *Federation) {
		f.requireVerifiedEmail = false
	}
}

// WithAuthCodeOptions applies opts to every authorization URL
func WithAuthCodeOptions(opts ...AuthCodeOption) FederationOption {
	return func(f *Federation) {
		f.authCodeOptions = append(f.authCodeOptions, opts...)
	}
}

func NewFederation(providers *Registry, states StateManager, opts ...FederationOption) *Federation {
	if providers == nil {
		providers = NewRegistry()
	}
	f := &Federation{
		providers:            providers,
		states:               states,
		logger:               nopLogger{},
		requireVerifiedEmail: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// Providers returns the registry backing the federation
func (f *Federation) Providers() *Registry {
	return f.providers
}

// Begin returns the provider authorization URL together with the sealed state
// that has to come back on the callback.
func (f *Federation) Begin(ctx context.Context, providerName, redirectURL string) (string, string, error) {
	provider, err := f.providers.Get(providerName)
	if err != nil {
		return "", "", err
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return "", "", err
	}

	state, err := f.states.Encode(&OAuthState{
		Provider:     provider.Name(),
		CodeVerifier: verifier,
		RedirectURL:  redirectURL,
	})
	if err != nil {
		return "", "", err
	}

	opts := append([]AuthCodeOption{WithPKCE(computeCodeChallenge(verifier), "S256")}, f.authCodeOptions...)
	f.logger.Debug("federated sign in started provider=%s", provider.Name())

	return provider.AuthCodeURL(state, redirectURL, opts...), state, nil
}

// Complete validates the state, exchanges the code and returns the profile.
func (f *Federation) Complete(ctx context.Context, providerName, code, encodedState string) (*Profile, error) {
	provider, err := f.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	state, err := f.states.Decode(encodedState)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(state.Provider, provider.Name()) {
		f.logger.Warn("federated state issued for %s used with %s", state.Provider, provider.Name())
		return nil, ErrInvalidState
	}

	if strings.TrimSpace(code) == "" {
		return nil, ErrInvalidState
	}

	token, err := provider.Exchange(ctx, code, state.RedirectURL, WithCodeVerifier(state.CodeVerifier))
	if err != nil {
		f.logger.Error("federated token exchange failed provider=%s: %v", provider.Name(), err)
		return nil, wrapProviderError(ErrTokenExchangeFailed, provider.Name(), "exchange", err)
	}

	profile, err := provider.UserInfo(ctx, token)
	if err != nil {
		f.logger.Error("federated profile fetch failed provider=%s: %v", provider.Name(), err)
		return nil, wrapProviderError(ErrUserInfoFailed, provider.Name(), "user_info", err)
	}

	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	if profile.Email == "" || (f.requireVerifiedEmail && !profile.EmailVerified) {
		return nil, ErrEmailNotVerified
	}
	if profile.Provider == "" {
		profile.Provider = provider.Name()
	}

	return profile, nil
}
