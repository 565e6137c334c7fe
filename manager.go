package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// ManagerOption customizes the AuthSessionManager
type ManagerOption func(*AuthSessionManager)

func WithManagerLogger(logger Logger) ManagerOption {
	return func(m *AuthSessionManager) {
		m.logger = normalizeLogger(logger)
	}
}

func WithManagerActivitySink(sink ActivitySink) ManagerOption {
	return func(m *AuthSessionManager) {
		m.activity = normalizeActivitySink(sink)
	}
}

// WithManagerClock injects a custom clock (useful for tests).
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(m *AuthSessionManager) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithManagerConfig applies the email link, avatar and allocator settings
func WithManagerConfig(cfg Config) ManagerOption {
	return func(m *AuthSessionManager) {
		if cfg == nil {
			return
		}
		m.callbackURL = cfg.GetEmailLinkCallbackURL()
		if ttl := cfg.GetEmailLinkHandoffTTL(); ttl > 0 {
			m.handoffTTL = ttl
		}
		if tpl := cfg.GetAvatarURLTemplate(); tpl != "" {
			m.avatarTemplate = tpl
		}
		m.allocatorOpts = append(m.allocatorOpts,
			WithAllocatorCapacity(cfg.GetFounderCapacity()),
			WithAllocatorRetry(cfg.GetAllocationMaxRetries(), cfg.GetAllocationRetryBase()),
		)
	}
}

func WithEmailLinkCallbackURL(base string) ManagerOption {
	return func(m *AuthSessionManager) {
		m.callbackURL = base
	}
}

func WithHandoffTTL(ttl time.Duration) ManagerOption {
	return func(m *AuthSessionManager) {
		if ttl > 0 {
			m.handoffTTL = ttl
		}
	}
}

// WithAllocator replaces the allocator built from the document store
func WithAllocator(allocator *SignupOrdinalAllocator) ManagerOption {
	return func(m *AuthSessionManager) {
		m.allocator = allocator
	}
}

func WithAllocatorOptions(opts ...AllocatorOption) ManagerOption {
	return func(m *AuthSessionManager) {
		m.allocatorOpts = append(m.allocatorOpts, opts...)
	}
}

// WithPreferenceEngine attaches the engine to every resolved session
func WithPreferenceEngine(engine *PreferenceSyncEngine) ManagerOption {
	return func(m *AuthSessionManager) {
		m.prefs = engine
	}
}

func WithSessionStateMachineOptions(opts ...SessionStateMachineOption) ManagerOption {
	return func(m *AuthSessionManager) {
		m.machineOpts = append(m.machineOpts, opts...)
	}
}

// AuthSessionManager drives the sign-in lifecycle of one client context. All
// mutating operations are serialized by an in-flight guard; a second call
// while one is running fails with ErrOperationInFlight.
type AuthSessionManager struct {
	provider  AuthProvider
	store     DocumentStore
	cache     LocalCache
	tokens    TokenService
	profiles  *Profiles
	allocator *SignupOrdinalAllocator
	prefs     *PreferenceSyncEngine
	machine   *sessionStateMachine
	handoff   handoffStore

	logger         Logger
	activity       ActivitySink
	now            func() time.Time
	callbackURL    string
	handoffTTL     time.Duration
	avatarTemplate string
	allocatorOpts  []AllocatorOption
	machineOpts    []SessionStateMachineOption

	mu          sync.Mutex
	inflight    string
	principal   *Principal
	credential  *SessionCredential
	profile     *ProfileRecord
	unsubscribe func()
}

func NewAuthSessionManager(provider AuthProvider, store DocumentStore, cache LocalCache, tokens TokenService, opts ...ManagerOption) *AuthSessionManager {
	m := &AuthSessionManager{
		provider:       provider,
		store:          store,
		cache:          cache,
		tokens:         tokens,
		logger:         defLogger{},
		activity:       noopActivitySink{},
		now:            time.Now,
		handoffTTL:     DefaultHandoffTTL,
		avatarTemplate: DefaultAvatarURLTemplate,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	m.profiles = NewProfiles(store, m.now)
	if m.allocator == nil {
		allocatorOpts := append([]AllocatorOption{
			WithAllocatorClock(m.now),
			WithAllocatorLogger(m.logger),
			WithAllocatorActivitySink(m.activity),
		}, m.allocatorOpts...)
		m.allocator = NewSignupOrdinalAllocator(store, allocatorOpts...)
	}

	machineOpts := append([]SessionStateMachineOption{
		WithSessionStateMachineClock(m.now),
		WithSessionStateMachineLogger(m.logger),
		WithSessionStateMachineActivitySink(m.activity),
	}, m.machineOpts...)
	m.machine = newSessionStateMachine(machineOpts...)

	m.handoff = handoffStore{cache: cache, ttl: m.handoffTTL, now: m.now, logger: m.logger}

	return m
}

// Start subscribes to provider events and restores an existing session.
func (m *AuthSessionManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.unsubscribe == nil {
		m.unsubscribe = m.provider.OnPrincipalChanged(m.handlePrincipalChanged)
	}
	m.mu.Unlock()

	if m.prefs != nil {
		m.prefs.Load(ctx)
	}

	_, err := m.RefreshSession(ctx)
	if errors.Is(err, ErrNotAuthenticated) {
		return nil
	}
	return err
}

// Close stops listening to provider events
func (m *AuthSessionManager) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// RefreshSession re-resolves the provider principal and slides the credential
// expiry forward. Returns ErrNotAuthenticated when nobody is signed in.
func (m *AuthSessionManager) RefreshSession(ctx context.Context) (*SessionCredential, error) {
	done, err := m.begin("refresh_session")
	if err != nil {
		return nil, err
	}
	defer done()

	principal, err := m.provider.CurrentPrincipal(ctx)
	if err != nil {
		return nil, err
	}

	if principal == nil {
		m.clearSession(ctx)
		m.settle(ctx, "no principal")
		return nil, ErrNotAuthenticated
	}

	cred, err := m.establish(ctx, principal, SignInMethodRestore, "session restored")
	if err != nil {
		return nil, err
	}

	recordActivity(ctx, m.activity, m.logger, m.now, ActivityEvent{
		EventType:   ActivityEventSessionRefreshed,
		PrincipalID: principal.ID,
		Method:      SignInMethodRestore,
	})

	return cred, nil
}

// SignInWithPassword authenticates an existing account.
func (m *AuthSessionManager) SignInWithPassword(ctx context.Context, email, password string) (*SessionCredential, error) {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	done, err := m.begin("sign_in_password")
	if err != nil {
		return nil, err
	}
	defer done()

	m.transition(ctx, SessionAuthenticating, "password sign-in")

	principal, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		m.failAuthentication(ctx, SignInMethodPassword, err)
		return nil, err
	}

	cred, err := m.establish(ctx, principal, SignInMethodPassword, "password sign-in")
	if err != nil {
		return nil, err
	}

	m.recordSignIn(ctx, ActivityEventSignInSuccess, SignInMethodPassword, principal)
	return cred, nil
}

// SignUp creates a password account, allocates its signup ordinal, writes
// the profile and issues the credential. Failures after the provider account
// exists sign it back out and clear local state before returning the
// original error.
func (m *AuthSessionManager) SignUp(ctx context.Context, req SignUpRequest) (*SessionCredential, error) {
	if !req.PolicyAccepted {
		return nil, ErrPolicyNotAccepted
	}

	req = req.normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	done, err := m.begin("sign_up")
	if err != nil {
		return nil, err
	}
	defer done()

	m.preClear(ctx)
	m.transition(ctx, SessionAuthenticating, "sign up")

	principal, err := m.provider.CreateAccountWithPassword(ctx, req.Email, req.Password)
	if err != nil {
		m.failAuthentication(ctx, SignInMethodPassword, err)
		return nil, err
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = DefaultDisplayName
	}

	var cred *SessionCredential
	err = m.compensate(ctx, principal, SignInMethodPassword, func(ctx context.Context) error {
		if err := m.applyDisplayMetadata(ctx, principal, displayName, ""); err != nil {
			return err
		}
		var err error
		cred, err = m.bootstrap(ctx, principal, true, "sign up")
		return err
	})
	if err != nil {
		return nil, err
	}

	m.recordSignIn(ctx, ActivityEventSignUpSuccess, SignInMethodPassword, principal)
	return cred, nil
}

// BeginFederatedSignIn returns the OAuth redirect for providerName
func (m *AuthSessionManager) BeginFederatedSignIn(ctx context.Context, providerName, redirectURL string) (*FederatedRedirect, error) {
	redirector, ok := m.provider.(FederatedRedirector)
	if !ok {
		return nil, ErrFederationUnsupported
	}
	return redirector.BeginFederatedSignIn(ctx, providerName, redirectURL)
}

// SignInWithFederatedProvider completes an OAuth sign-in. Accounts created by
// this call are kept only when policyAccepted is true. Returning accounts
// without a profile get one regardless.
func (m *AuthSessionManager) SignInWithFederatedProvider(ctx context.Context, req FederatedSignIn, policyAccepted bool) (*SessionCredential, error) {
	done, err := m.begin("sign_in_federated")
	if err != nil {
		return nil, err
	}
	defer done()

	m.preClear(ctx)
	m.transition(ctx, SessionAuthenticating, "federated sign-in")

	principal, err := m.provider.SignInWithFederatedProvider(ctx, req)
	if err != nil {
		m.failAuthentication(ctx, SignInMethodFederated, err)
		return nil, err
	}

	if !m.needsBootstrap(ctx, principal) {
		cred, err := m.resolve(ctx, principal, nil, "federated sign-in")
		if err != nil {
			m.rollback(ctx, principal, SignInMethodFederated, err)
			return nil, err
		}
		m.recordSignIn(ctx, ActivityEventSignInSuccess, SignInMethodFederated, principal)
		return cred, nil
	}

	if principal.IsNew() && !policyAccepted {
		m.logger.Warn("federated account %s created without policy acceptance, signing out", principal.ID)
		m.rollback(ctx, principal, SignInMethodFederated, ErrPolicyNotAccepted)
		return nil, ErrPolicyNotAccepted
	}

	displayName := principal.DisplayName
	if displayName == "" {
		displayName = displayNameFromEmail(principal.Email)
	}

	var cred *SessionCredential
	err = m.compensate(ctx, principal, SignInMethodFederated, func(ctx context.Context) error {
		if err := m.applyDisplayMetadata(ctx, principal, displayName, principal.PhotoURL); err != nil {
			return err
		}
		var err error
		cred, err = m.bootstrap(ctx, principal, policyAccepted, "federated sign up")
		return err
	})
	if err != nil {
		return nil, err
	}

	m.recordSignIn(ctx, signInEvent(principal), SignInMethodFederated, principal)
	return cred, nil
}

// SendEmailLinkChallenge dispatches a passwordless sign-in link and records
// the handoff needed to finish it, possibly in another browser context.
func (m *AuthSessionManager) SendEmailLinkChallenge(ctx context.Context, email, displayName string) error {
	email = normalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return err
	}
	if m.callbackURL == "" {
		return errors.New("email link callback url is not configured", errors.CategoryInternal)
	}

	done, err := m.begin("send_email_link")
	if err != nil {
		return err
	}
	defer done()

	callback, err := EmailLinkCallbackURL(m.callbackURL, email)
	if err != nil {
		return err
	}

	if err := m.provider.SendEmailLinkChallenge(ctx, email, callback); err != nil {
		m.logger.Warn("email link dispatch to %s failed: %v", email, err)
		return err
	}

	if _, err := m.handoff.Save(ctx, email, strings.TrimSpace(displayName)); err != nil {
		// the link carries the email, completion still works without the handoff
		m.logger.Warn("email link handoff write failed: %v", err)
	}

	if m.machine.Current() == SessionSignedOut {
		m.transition(ctx, SessionLinkPending, "email link sent")
	}

	recordActivity(ctx, m.activity, m.logger, m.now, ActivityEvent{
		EventType: ActivityEventEmailLinkSent,
		Method:    SignInMethodEmailLink,
		Metadata:  map[string]any{"email": email},
	})

	return nil
}

// CompleteEmailLinkSignIn exchanges a sign-in link for a session. The email
// falls back to the link query parameter, then to the local handoff.
func (m *AuthSessionManager) CompleteEmailLinkSignIn(ctx context.Context, email, link string) (*SessionCredential, error) {
	if !m.provider.IsEmailLinkChallenge(link) {
		return nil, ErrInvalidOrExpiredLink
	}

	handoff := m.handoff.Load(ctx)

	email = normalizeEmail(email)
	if email == "" {
		email = normalizeEmail(EmailFromLink(link))
	}
	if email == "" && handoff != nil {
		email = normalizeEmail(handoff.Email)
	}
	if email == "" {
		return nil, ErrMissingEmail
	}

	done, err := m.begin("complete_email_link")
	if err != nil {
		return nil, err
	}
	defer done()

	m.transition(ctx, SessionAuthenticating, "email link sign-in")

	principal, err := m.provider.CompleteEmailLinkSignIn(ctx, email, link)
	if err != nil {
		m.failAuthentication(ctx, SignInMethodEmailLink, err)
		return nil, err
	}

	var cred *SessionCredential
	event := ActivityEventSignInSuccess

	if m.needsBootstrap(ctx, principal) {
		displayName := DefaultDisplayName
		if handoff != nil && handoff.DisplayName != "" && normalizeEmail(handoff.Email) == email {
			displayName = handoff.DisplayName
		}

		err = m.compensate(ctx, principal, SignInMethodEmailLink, func(ctx context.Context) error {
			if err := m.applyDisplayMetadata(ctx, principal, displayName, ""); err != nil {
				return err
			}
			var err error
			cred, err = m.bootstrap(ctx, principal, true, "email link sign up")
			return err
		})
		event = signInEvent(principal)
	} else {
		cred, err = m.resolve(ctx, principal, nil, "email link sign-in")
		if err != nil {
			m.rollback(ctx, principal, SignInMethodEmailLink, err)
		}
	}
	if err != nil {
		return nil, err
	}

	m.handoff.Clear(ctx)
	m.recordSignIn(ctx, event, SignInMethodEmailLink, principal)
	return cred, nil
}

// SignOut ends the provider session and clears every piece of local state.
// Local state is cleared even when the provider call fails.
func (m *AuthSessionManager) SignOut(ctx context.Context) error {
	done, err := m.begin("sign_out")
	if err != nil {
		return err
	}
	defer done()

	principal := m.CurrentPrincipal()

	providerErr := m.provider.SignOut(ctx)
	if providerErr != nil {
		m.logger.Error("provider sign out failed: %v", providerErr)
	}

	m.clearLocal(ctx)
	m.transition(ctx, SessionSignedOut, "sign out")

	event := ActivityEvent{EventType: ActivityEventSignOut}
	if principal != nil {
		event.PrincipalID = principal.ID
	}
	recordActivity(ctx, m.activity, m.logger, m.now, event)

	return providerErr
}

// CurrentSessionCredential returns the credential unless it expired
func (m *AuthSessionManager) CurrentSessionCredential() *SessionCredential {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.credential == nil || m.credential.Expired(m.now()) {
		return nil
	}
	cred := *m.credential
	return &cred
}

func (m *AuthSessionManager) CurrentProfile() *ProfileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.profile == nil {
		return nil
	}
	profile := *m.profile
	return &profile
}

func (m *AuthSessionManager) CurrentPrincipal() *Principal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.principal == nil {
		return nil
	}
	principal := *m.principal
	return &principal
}

func (m *AuthSessionManager) State() SessionState {
	return m.machine.Current()
}

// ProfileComplete applies IsProfileComplete to the current profile
func (m *AuthSessionManager) ProfileComplete() bool {
	return IsProfileComplete(m.CurrentProfile())
}

// ResolvedPreference returns the concrete theme for the current context
func (m *AuthSessionManager) ResolvedPreference() Preference {
	if m.prefs != nil {
		return m.prefs.Resolved()
	}
	if profile := m.CurrentProfile(); profile != nil {
		return ResolvePreference(profile.Preference, nil)
	}
	return ResolvePreference(PreferenceSystem, nil)
}

// Allocator exposes the signup allocator, e.g. for Stats
func (m *AuthSessionManager) Allocator() *SignupOrdinalAllocator {
	return m.allocator
}

func (m *AuthSessionManager) Profiles() *Profiles {
	return m.profiles
}

func (m *AuthSessionManager) begin(op string) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inflight != "" {
		m.logger.Warn("rejecting %s while %s is in flight", op, m.inflight)
		return nil, ErrOperationInFlight
	}
	m.inflight = op

	return func() {
		m.mu.Lock()
		m.inflight = ""
		m.mu.Unlock()
	}, nil
}

func (m *AuthSessionManager) handlePrincipalChanged(ctx context.Context, principal *Principal) {
	m.mu.Lock()
	busy := m.inflight != ""
	current := m.principal
	m.mu.Unlock()

	if busy {
		return
	}

	if principal == nil {
		if current == nil {
			return
		}
		m.logger.Info("provider signed out %s", current.ID)
		m.clearSession(ctx)
		m.settle(ctx, "provider signed out")
		return
	}

	if _, err := m.RefreshSession(ctx); err != nil && !errors.Is(err, ErrOperationInFlight) {
		m.logger.Warn("session refresh after principal change failed: %v", err)
	}
}

// compensate runs fn and, on any error or panic, signs the principal back
// out and clears local state. The original error is returned unchanged.
func (m *AuthSessionManager) compensate(ctx context.Context, principal *Principal, method SignInMethod, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.rollback(ctx, principal, method, fmt.Errorf("panic: %v", r))
			panic(r)
		}
		if err != nil {
			m.rollback(ctx, principal, method, err)
		}
	}()
	return fn(ctx)
}

func (m *AuthSessionManager) rollback(ctx context.Context, principal *Principal, method SignInMethod, cause error) {
	// cleanup must run even when the caller's context is gone
	ctx = context.WithoutCancel(ctx)

	principalID := ""
	if principal != nil {
		principalID = principal.ID
	}
	m.logger.Error("rolling back %s session for %s: %v", method, principalID, cause)

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Error("rollback sign out for %s failed: %v", principalID, err)
	}
	m.clearLocal(ctx)
	m.machine.Reset(ctx, "rollback")

	recordActivity(ctx, m.activity, m.logger, m.now, ActivityEvent{
		EventType:   ActivityEventSignUpRolledBack,
		PrincipalID: principalID,
		Method:      method,
		Metadata:    map[string]any{"error": cause.Error()},
	})
}

// preClear drops any previous session in this client context
func (m *AuthSessionManager) preClear(ctx context.Context) {
	current, err := m.provider.CurrentPrincipal(ctx)
	if err != nil {
		m.logger.Warn("pre-clear could not read current principal: %v", err)
	}
	if current != nil {
		m.logger.Debug("pre-clear signing out %s", current.ID)
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.Warn("pre-clear sign out failed: %v", err)
		}
	}
	m.clearLocal(ctx)
	m.machine.Reset(ctx, "pre-clear")
}

func (m *AuthSessionManager) needsBootstrap(ctx context.Context, principal *Principal) bool {
	return principal.IsNew() || m.profileMissing(ctx, principal)
}

// profileMissing reports a principal whose sign up failed after the provider
// account was created. Lookup errors other than not found count as present.
func (m *AuthSessionManager) profileMissing(ctx context.Context, principal *Principal) bool {
	_, err := m.profiles.Get(ctx, principal.ID)
	if errors.Is(err, ErrProfileNotFound) {
		m.logger.Warn("principal %s has no profile, bootstrapping", principal.ID)
		return true
	}
	if err != nil {
		m.logger.Warn("profile lookup for %s failed: %v", principal.ID, err)
	}
	return false
}

// establish resolves the session of an existing principal. A principal left
// without a profile is bootstrapped again under the sign up compensation.
// Allocation is idempotent, so a slot claimed by the failed attempt is reused.
func (m *AuthSessionManager) establish(ctx context.Context, principal *Principal, method SignInMethod, reason string) (*SessionCredential, error) {
	if !m.profileMissing(ctx, principal) {
		cred, err := m.resolve(ctx, principal, nil, reason)
		if err != nil {
			m.rollback(ctx, principal, method, err)
			return nil, err
		}
		return cred, nil
	}

	displayName := principal.DisplayName
	if displayName == "" {
		displayName = displayNameFromEmail(principal.Email)
	}

	var cred *SessionCredential
	err := m.compensate(ctx, principal, method, func(ctx context.Context) error {
		if err := m.applyDisplayMetadata(ctx, principal, displayName, principal.PhotoURL); err != nil {
			return err
		}
		var err error
		cred, err = m.bootstrap(ctx, principal, false, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func signInEvent(principal *Principal) ActivityEventType {
	if principal.IsNew() {
		return ActivityEventSignUpSuccess
	}
	return ActivityEventSignInSuccess
}

func (m *AuthSessionManager) applyDisplayMetadata(ctx context.Context, principal *Principal, displayName, photoURL string) error {
	if photoURL == "" {
		photoURL = GeneratedAvatarURL(m.avatarTemplate, displayName)
	}
	if principal.DisplayName != displayName || principal.PhotoURL != photoURL {
		if err := m.provider.UpdateDisplayMetadata(ctx, displayName, photoURL); err != nil {
			return err
		}
	}
	principal.DisplayName = displayName
	principal.PhotoURL = photoURL
	return nil
}

// bootstrap allocates the signup ordinal, merge-creates the profile and
// resolves the session. policyAcceptedAt is only stamped when the caller saw
// the user accept.
func (m *AuthSessionManager) bootstrap(ctx context.Context, principal *Principal, policyAccepted bool, reason string) (*SessionCredential, error) {
	allocation, err := m.allocator.Allocate(ctx, principal.ID)
	if err != nil {
		return nil, err
	}

	preference := PreferenceSystem
	if m.prefs != nil {
		preference = m.prefs.Local()
	}

	record := &ProfileRecord{
		ID:                   principal.ID,
		Email:                principal.Email,
		DisplayName:          principal.DisplayName,
		PhotoURL:             principal.PhotoURL,
		Preference:           preference,
		NotificationSettings: DefaultNotificationSettings(),
		IsEarlyUser:          allocation.IsEarly,
		SignupOrdinal:        allocation.OrdinalRef(),
	}
	if policyAccepted {
		acceptedAt := m.now().UTC()
		record.PolicyAcceptedAt = &acceptedAt
	}

	if err := m.profiles.CreateOrMerge(ctx, record); err != nil {
		return nil, err
	}

	return m.resolve(ctx, principal, record, reason)
}

// resolve issues a fresh credential for principal, loads its profile when
// not given and attaches the preference engine.
func (m *AuthSessionManager) resolve(ctx context.Context, principal *Principal, profile *ProfileRecord, reason string) (*SessionCredential, error) {
	cred, err := m.tokens.Issue(principal.ID, principal.Email)
	if err != nil {
		m.logger.Error("credential issue for %s failed: %v", principal.ID, err)
		return nil, err
	}

	if raw, err := json.Marshal(cred); err == nil {
		if err := m.cache.Set(ctx, CacheKeySessionCredential, string(raw), cred.ExpiresAt.Sub(m.now())); err != nil {
			m.logger.Warn("session credential cache write failed: %v", err)
		}
	}

	if profile == nil {
		loaded, err := m.profiles.Get(ctx, principal.ID)
		switch {
		case err == nil:
			profile = loaded
		case errors.Is(err, ErrProfileNotFound):
			m.logger.Debug("no profile for %s", principal.ID)
		default:
			m.logger.Warn("profile load for %s failed: %v", principal.ID, err)
		}
	}

	m.mu.Lock()
	m.principal = principal
	m.credential = cred
	m.profile = profile
	m.mu.Unlock()

	if m.prefs != nil && profile != nil {
		m.prefs.Attach(ctx, principal.ID, profile.Preference)
	}

	m.transition(ctx, SessionSignedIn, reason)
	return cred, nil
}

// clearSession drops the credential and profile but keeps the handoff
func (m *AuthSessionManager) clearSession(ctx context.Context) {
	if err := m.cache.Remove(ctx, CacheKeySessionCredential); err != nil {
		m.logger.Warn("session credential clear failed: %v", err)
	}

	m.mu.Lock()
	m.principal = nil
	m.credential = nil
	m.profile = nil
	m.mu.Unlock()

	if m.prefs != nil {
		m.prefs.Detach()
	}
}

func (m *AuthSessionManager) clearLocal(ctx context.Context) {
	m.clearSession(ctx)
	m.handoff.Clear(ctx)
}

func (m *AuthSessionManager) failAuthentication(ctx context.Context, method SignInMethod, cause error) {
	m.logger.Info("%s authentication failed: %v", method, cause)
	m.settle(ctx, "authentication failed")
	recordActivity(ctx, m.activity, m.logger, m.now, ActivityEvent{
		EventType: ActivityEventSignInFailure,
		Method:    method,
		Metadata:  map[string]any{"error": cause.Error()},
	})
}

// settle moves the machine to the state matching local data
func (m *AuthSessionManager) settle(ctx context.Context, reason string) {
	switch {
	case m.CurrentPrincipal() != nil:
		m.transition(ctx, SessionSignedIn, reason)
	case m.handoff.Load(ctx) != nil:
		if m.machine.Current() == SessionSignedIn {
			m.transition(ctx, SessionSignedOut, reason)
		}
		m.transition(ctx, SessionLinkPending, reason)
	default:
		m.transition(ctx, SessionSignedOut, reason)
	}
}

func (m *AuthSessionManager) transition(ctx context.Context, target SessionState, reason string) {
	if err := m.machine.Transition(ctx, target, reason); err != nil {
		m.logger.Warn("session transition to %s failed: %v", target, err)
	}
}

func (m *AuthSessionManager) recordSignIn(ctx context.Context, event ActivityEventType, method SignInMethod, principal *Principal) {
	recordActivity(ctx, m.activity, m.logger, m.now, ActivityEvent{
		EventType:   event,
		PrincipalID: principal.ID,
		Method:      method,
	})
}

func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	if local = strings.TrimSpace(local); local != "" {
		return local
	}
	return DefaultDisplayName
}
