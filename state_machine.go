package auth

import (
	"context"
	"sync"
	"time"
)

// SessionState is the lifecycle state of a client session
type SessionState string

const (
	SessionSignedOut      SessionState = "signed_out"
	SessionAuthenticating SessionState = "authenticating"
	SessionSignedIn       SessionState = "signed_in"
	SessionLinkPending    SessionState = "link_pending"
)

// SignInMethod identifies how a principal authenticated
type SignInMethod string

const (
	SignInMethodPassword  SignInMethod = "password"
	SignInMethodFederated SignInMethod = "federated"
	SignInMethodEmailLink SignInMethod = "email_link"
	SignInMethodRestore   SignInMethod = "restore"
)

// SessionTransition describes a state change
type SessionTransition struct {
	From   SessionState
	To     SessionState
	Reason string
}

// SessionTransitionHook is executed after a transition was applied.
type SessionTransitionHook func(ctx context.Context, tr SessionTransition)

// SessionStateMachineOption customizes state machine construction.
type SessionStateMachineOption func(*sessionStateMachine)

// WithSessionStateMachineClock injects a custom clock (useful for tests).
func WithSessionStateMachineClock(clock func() time.Time) SessionStateMachineOption {
	return func(sm *sessionStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

// WithSessionStateMachineActivitySink sets the ActivitySink used to publish transitions.
func WithSessionStateMachineActivitySink(sink ActivitySink) SessionStateMachineOption {
	return func(sm *sessionStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

// WithSessionStateMachineLogger overrides the logger used for sink failures.
func WithSessionStateMachineLogger(logger Logger) SessionStateMachineOption {
	return func(sm *sessionStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

// WithSessionTransitionHook adds a hook executed after every transition.
func WithSessionTransitionHook(h SessionTransitionHook) SessionStateMachineOption {
	return func(sm *sessionStateMachine) {
		if h != nil {
			sm.hooks = append(sm.hooks, h)
		}
	}
}

type sessionStateMachine struct {
	mu           sync.Mutex
	current      SessionState
	transitions  map[SessionState]map[SessionState]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
	hooks        []SessionTransitionHook
}

func newSessionStateMachine(opts ...SessionStateMachineOption) *sessionStateMachine {
	sm := &sessionStateMachine{
		current:      SessionSignedOut,
		transitions:  defaultSessionTransitions(),
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// defaultSessionTransitions lists the edges the manager drives. A signed in
// session never jumps straight to link_pending, it signs out first.
func defaultSessionTransitions() map[SessionState]map[SessionState]struct{} {
	return map[SessionState]map[SessionState]struct{}{
		// restore goes straight to signed_in
		SessionSignedOut: {
			SessionAuthenticating: {},
			SessionLinkPending:    {},
			SessionSignedIn:       {},
		},
		SessionLinkPending: {
			SessionAuthenticating: {},
			SessionSignedOut:      {},
			SessionSignedIn:       {},
		},
		// failures settle back to link_pending when a handoff is waiting
		SessionAuthenticating: {
			SessionSignedIn:    {},
			SessionSignedOut:   {},
			SessionLinkPending: {},
		},
		SessionSignedIn: {
			SessionAuthenticating: {},
			SessionSignedOut:      {},
		},
	}
}

func (sm *sessionStateMachine) Current() SessionState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

func (sm *sessionStateMachine) canTransition(from, to SessionState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// Transition moves the machine to target. Moving to the current state is a no-op.
func (sm *sessionStateMachine) Transition(ctx context.Context, target SessionState, reason string) error {
	sm.mu.Lock()
	from := sm.current
	if from == target {
		sm.mu.Unlock()
		return nil
	}

	if !sm.canTransition(from, target) {
		sm.mu.Unlock()
		sm.logger.Warn("rejected session transition %s -> %s (%s)", from, target, reason)
		return ErrInvalidSessionTransition
	}

	sm.current = target
	hooks := append([]SessionTransitionHook(nil), sm.hooks...)
	sm.mu.Unlock()

	tr := SessionTransition{From: from, To: target, Reason: reason}
	for _, hook := range hooks {
		hook(ctx, tr)
	}

	var metadata map[string]any
	if reason != "" {
		metadata = map[string]any{"reason": reason}
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType: ActivityEventSessionStateChanged,
		FromState: from,
		ToState:   target,
		Metadata:  metadata,
	})

	return nil
}

// Reset forces the machine to SignedOut, used by the compensation path
func (sm *sessionStateMachine) Reset(ctx context.Context, reason string) {
	if sm.Current() == SessionSignedOut {
		return
	}
	_ = sm.Transition(ctx, SessionSignedOut, reason)
}
