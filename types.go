package auth

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Principal is an authenticated identity as reported by the AuthProvider.
// The core never mutates it.
type Principal struct {
	ID           string
	Email        string
	DisplayName  string
	PhotoURL     string
	CreatedAt    time.Time
	LastSignInAt time.Time
}

// IsNew reports whether the provider created the account during the sign-in
// that produced this principal.
func (p *Principal) IsNew() bool {
	if p == nil || p.CreatedAt.IsZero() {
		return false
	}
	return p.CreatedAt.Equal(p.LastSignInAt)
}

// PrincipalListener receives principal changed events, nil on sign out
type PrincipalListener func(ctx context.Context, principal *Principal)

// FederatedSignIn carries the callback parameters of an OAuth redirect
type FederatedSignIn struct {
	Provider    string
	Code        string
	State       string
	RedirectURL string
}

// FederatedRedirect is where the user agent must be sent to start an OAuth flow
type FederatedRedirect struct {
	URL   string
	State string
}

// AuthProvider is the authentication backend consumed by the session manager.
// Implementations are scoped to a single client context.
type AuthProvider interface {
	CurrentPrincipal(ctx context.Context) (*Principal, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Principal, error)
	CreateAccountWithPassword(ctx context.Context, email, password string) (*Principal, error)
	SignInWithFederatedProvider(ctx context.Context, req FederatedSignIn) (*Principal, error)
	SendEmailLinkChallenge(ctx context.Context, email, callbackURL string) error
	IsEmailLinkChallenge(link string) bool
	CompleteEmailLinkSignIn(ctx context.Context, email, link string) (*Principal, error)
	SignOut(ctx context.Context) error
	UpdateDisplayMetadata(ctx context.Context, displayName, photoURL string) error
	OnPrincipalChanged(listener PrincipalListener) (unsubscribe func())
}

// FederatedRedirector is implemented by providers that build OAuth redirects
type FederatedRedirector interface {
	BeginFederatedSignIn(ctx context.Context, provider, redirectURL string) (*FederatedRedirect, error)
}

// LocalCache is the durable client side key value store used for the
// session credential, the email link handoff and the preference mirror.
type LocalCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// Config holds the session options
type Config interface {
	GetSigningKey() string
	GetIssuer() string
	GetAudience() []string
	GetSessionWindow() time.Duration
	GetFounderCapacity() int
	GetAllocationMaxRetries() int
	GetAllocationRetryBase() time.Duration
	GetEmailLinkCallbackURL() string
	GetEmailLinkHandoffTTL() time.Duration
	GetAvatarURLTemplate() string
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
