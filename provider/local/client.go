package local

import (
	"context"
	"errors"
	"sync"

	auth "github.com/goliatone/go-campus-auth"
)

// CacheKeyPrincipal remembers the signed in principal of a client context
const CacheKeyPrincipal = "local_provider_principal"

// Client is the AuthProvider of one client context. It remembers the signed
// in principal and notifies listeners when it changes.
type Client struct {
	backend *Backend
	cache   auth.LocalCache
	logger  auth.Logger

	mu        sync.Mutex
	current   *auth.Principal
	restored  bool
	listeners map[int]auth.PrincipalListener
	nextID    int
}

var (
	_ auth.AuthProvider        = (*Client)(nil)
	_ auth.FederatedRedirector = (*Client)(nil)
)

type ClientOption func(*Client)

// WithClientCache persists the signed in principal id so a restarted client
// resumes its session
func WithClientCache(cache auth.LocalCache) ClientOption {
	return func(c *Client) {
		c.cache = cache
	}
}

func WithClientLogger(logger auth.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(backend *Backend, opts ...ClientOption) *Client {
	c := &Client{
		backend:   backend,
		logger:    backend.logger,
		listeners: map[int]auth.PrincipalListener{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Client) CurrentPrincipal(ctx context.Context) (*auth.Principal, error) {
	c.mu.Lock()
	current, restored := c.current, c.restored
	c.mu.Unlock()

	if current != nil {
		account, err := c.backend.Account(ctx, current.ID)
		if errors.Is(err, auth.ErrNotAuthenticated) {
			c.signedOut(ctx)
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return account.Principal(), nil
	}

	if restored || c.cache == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.restored = true
	c.mu.Unlock()

	id, err := c.cache.Get(ctx, CacheKeyPrincipal)
	if err != nil {
		if !errors.Is(err, auth.ErrCacheMiss) {
			c.logger.Warn("failed to read remembered principal: %v", err)
		}
		return nil, nil
	}

	account, err := c.backend.Account(ctx, id)
	if errors.Is(err, auth.ErrNotAuthenticated) {
		_ = c.cache.Remove(ctx, CacheKeyPrincipal)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	principal := account.Principal()
	c.mu.Lock()
	c.current = principal
	c.mu.Unlock()
	return principal, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Principal, error) {
	account, err := c.backend.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, account), nil
}

func (c *Client) CreateAccountWithPassword(ctx context.Context, email, password string) (*auth.Principal, error) {
	account, err := c.backend.CreateAccount(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, account), nil
}

func (c *Client) BeginFederatedSignIn(ctx context.Context, provider, redirectURL string) (*auth.FederatedRedirect, error) {
	return c.backend.BeginFederated(ctx, provider, redirectURL)
}

func (c *Client) SignInWithFederatedProvider(ctx context.Context, req auth.FederatedSignIn) (*auth.Principal, error) {
	account, err := c.backend.CompleteFederated(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, account), nil
}

func (c *Client) SendEmailLinkChallenge(ctx context.Context, email, callbackURL string) error {
	return c.backend.SendEmailLink(ctx, email, callbackURL)
}

func (c *Client) IsEmailLinkChallenge(link string) bool {
	return challengeCodeFromLink(link) != ""
}

func (c *Client) CompleteEmailLinkSignIn(ctx context.Context, email, link string) (*auth.Principal, error) {
	account, err := c.backend.CompleteEmailLink(ctx, email, link)
	if err != nil {
		return nil, err
	}
	return c.signedIn(ctx, account), nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.signedOut(ctx)
	return nil
}

func (c *Client) UpdateDisplayMetadata(ctx context.Context, displayName, photoURL string) error {
	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	if current == nil {
		return auth.ErrNotAuthenticated
	}

	account, err := c.backend.UpdateDisplayMetadata(ctx, current.ID, displayName, photoURL)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.current != nil && c.current.ID == account.ID.String() {
		c.current = account.Principal()
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) OnPrincipalChanged(listener auth.PrincipalListener) func() {
	if listener == nil {
		return func() {}
	}

	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) signedIn(ctx context.Context, account *Account) *auth.Principal {
	principal := account.Principal()

	c.mu.Lock()
	c.current = principal
	c.restored = true
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Set(ctx, CacheKeyPrincipal, principal.ID, 0); err != nil {
			c.logger.Warn("failed to remember principal: %v", err)
		}
	}

	snapshot := *principal
	c.notify(ctx, &snapshot)
	return principal
}

func (c *Client) signedOut(ctx context.Context) {
	c.mu.Lock()
	had := c.current != nil
	c.current = nil
	c.restored = true
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Remove(ctx, CacheKeyPrincipal); err != nil {
			c.logger.Warn("failed to forget principal: %v", err)
		}
	}

	if had {
		c.notify(ctx, nil)
	}
}

// notify runs listeners outside the lock so they can call back into the client
func (c *Client) notify(ctx context.Context, principal *auth.Principal) {
	c.mu.Lock()
	listeners := make([]auth.PrincipalListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(ctx, principal)
	}
}
