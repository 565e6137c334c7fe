package auth_test

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/stretchr/testify/mock"
)

type silentLogger struct{}

func (silentLogger) Debug(string, ...any) {}
func (silentLogger) Info(string, ...any)  {}
func (silentLogger) Warn(string, ...any)  {}
func (silentLogger) Error(string, ...any) {}

// MockPreferenceRemote implements auth.PreferenceRemote
type MockPreferenceRemote struct {
	mock.Mock
}

func (m *MockPreferenceRemote) UpdatePreference(ctx context.Context, principalID string, p auth.Preference) error {
	args := m.Called(ctx, principalID, p)
	return args.Error(0)
}

func (m *MockPreferenceRemote) FetchPreference(ctx context.Context, principalID string) (auth.Preference, error) {
	args := m.Called(ctx, principalID)
	return args.Get(0).(auth.Preference), args.Error(1)
}

type fakeAccount struct {
	principal auth.Principal
	password  string
}

// fakeProvider is an in memory auth.AuthProvider for a single client context
type fakeProvider struct {
	mu        sync.Mutex
	accounts  map[string]*fakeAccount
	current   *auth.Principal
	listeners map[int]auth.PrincipalListener
	nextID    int
	tick      time.Time

	sentLinks map[string]string
	linkSeq   int

	failUpdateDisplay error
	failSignOut       error
	signInGate        chan struct{}
	signInStarted     chan struct{}

	signOutCalls   int
	createCalls    int
	displayUpdates []string
	emailCallbacks []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		accounts:  map[string]*fakeAccount{},
		listeners: map[int]auth.PrincipalListener{},
		sentLinks: map[string]string{},
		tick:      time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeProvider) advance() time.Time {
	f.tick = f.tick.Add(time.Second)
	return f.tick
}

// seed creates an account that already signed in before
func (f *fakeProvider) seed(email, password string) auth.Principal {
	f.mu.Lock()
	defer f.mu.Unlock()
	acc := f.create(email, password)
	acc.principal.LastSignInAt = f.advance()
	return acc.principal
}

func (f *fakeProvider) create(email, password string) *fakeAccount {
	f.nextID++
	now := f.advance()
	acc := &fakeAccount{
		principal: auth.Principal{
			ID:           fmt.Sprintf("uid-%d", f.nextID),
			Email:        email,
			CreatedAt:    now,
			LastSignInAt: now,
		},
		password: password,
	}
	f.accounts[email] = acc
	return acc
}

func (f *fakeProvider) signIn(ctx context.Context, acc *fakeAccount, fresh bool) *auth.Principal {
	if !fresh {
		acc.principal.LastSignInAt = f.advance()
	}
	p := acc.principal
	f.current = &p
	out := p
	f.notify(ctx, &p)
	return &out
}

func (f *fakeProvider) notify(ctx context.Context, p *auth.Principal) {
	for _, listener := range f.listeners {
		listener(ctx, p)
	}
}

func (f *fakeProvider) CurrentPrincipal(ctx context.Context) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return nil, nil
	}
	p := *f.current
	return &p, nil
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Principal, error) {
	if f.signInStarted != nil {
		f.signInStarted <- struct{}{}
	}
	if f.signInGate != nil {
		<-f.signInGate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	acc, ok := f.accounts[email]
	if !ok || acc.password != password {
		return nil, auth.ErrInvalidCredentials
	}
	return f.signIn(ctx, acc, false), nil
}

func (f *fakeProvider) CreateAccountWithPassword(ctx context.Context, email, password string) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if _, ok := f.accounts[email]; ok {
		return nil, auth.ErrAccountExists
	}
	return f.signIn(ctx, f.create(email, password), true), nil
}

func (f *fakeProvider) SignInWithFederatedProvider(ctx context.Context, req auth.FederatedSignIn) (*auth.Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Code == "" {
		return nil, auth.ErrInvalidCredentials
	}
	email := req.Code + "@" + req.Provider + ".test"
	if acc, ok := f.accounts[email]; ok {
		return f.signIn(ctx, acc, false), nil
	}
	acc := f.create(email, "")
	acc.principal.DisplayName = "Fed " + req.Code
	acc.principal.PhotoURL = "https://photos.test/" + req.Code
	return f.signIn(ctx, acc, true), nil
}

func (f *fakeProvider) SendEmailLinkChallenge(ctx context.Context, email, callbackURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailCallbacks = append(f.emailCallbacks, callbackURL)
	f.linkSeq++
	f.sentLinks[fmt.Sprintf("code-%d", f.linkSeq)] = email
	return nil
}

// lastLink builds the link the user would click for the last challenge
func (f *fakeProvider) lastLink(withEmail bool) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	code := fmt.Sprintf("code-%d", f.linkSeq)
	link := "https://campus.test/auth/finish?oobCode=" + code
	if withEmail {
		link += "&email=" + url.QueryEscape(f.sentLinks[code])
	}
	return link
}

func (f *fakeProvider) IsEmailLinkChallenge(link string) bool {
	u, err := url.Parse(link)
	return err == nil && u.Query().Get("oobCode") != ""
}

func (f *fakeProvider) CompleteEmailLinkSignIn(ctx context.Context, email, link string) (*auth.Principal, error) {
	u, _ := url.Parse(link)
	code := u.Query().Get("oobCode")

	f.mu.Lock()
	defer f.mu.Unlock()
	sentTo, ok := f.sentLinks[code]
	if !ok || !strings.EqualFold(sentTo, email) {
		return nil, auth.ErrInvalidOrExpiredLink
	}
	delete(f.sentLinks, code)

	if acc, ok := f.accounts[email]; ok {
		return f.signIn(ctx, acc, false), nil
	}
	return f.signIn(ctx, f.create(email, ""), true), nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	if f.failSignOut != nil {
		return f.failSignOut
	}
	if f.current == nil {
		return nil
	}
	f.current = nil
	f.notify(ctx, nil)
	return nil
}

func (f *fakeProvider) UpdateDisplayMetadata(ctx context.Context, displayName, photoURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdateDisplay != nil {
		return f.failUpdateDisplay
	}
	if f.current == nil {
		return auth.ErrNotAuthenticated
	}
	acc := f.accounts[f.current.Email]
	acc.principal.DisplayName = displayName
	acc.principal.PhotoURL = photoURL
	f.current.DisplayName = displayName
	f.current.PhotoURL = photoURL
	f.displayUpdates = append(f.displayUpdates, displayName)
	return nil
}

func (f *fakeProvider) OnPrincipalChanged(listener auth.PrincipalListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.listeners) + 1
	f.listeners[id] = listener
	return func() {
		f.mu.Lock()
		delete(f.listeners, id)
		f.mu.Unlock()
	}
}

// externalSignOut simulates the provider ending the session on its own
func (f *fakeProvider) externalSignOut(ctx context.Context) {
	f.mu.Lock()
	f.current = nil
	listeners := make([]auth.PrincipalListener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(ctx, nil)
	}
}
