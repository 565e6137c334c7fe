package auth

import (
	"context"
	"time"
)

// ActivityEventType enumerates supported activity categories.
type ActivityEventType string

const (
	ActivityEventSessionStateChanged ActivityEventType = "auth.session.state_changed"
	ActivityEventSignInSuccess       ActivityEventType = "auth.signin.success"
	ActivityEventSignInFailure       ActivityEventType = "auth.signin.failure"
	ActivityEventSignUpSuccess       ActivityEventType = "auth.signup.success"
	ActivityEventSignUpRolledBack    ActivityEventType = "auth.signup.rolled_back"
	ActivityEventSignOut             ActivityEventType = "auth.signout"
	ActivityEventEmailLinkSent       ActivityEventType = "auth.email_link.sent"
	ActivityEventSessionRefreshed    ActivityEventType = "auth.session.refreshed"
	ActivityEventOrdinalAllocated    ActivityEventType = "signup.ordinal.allocated"
	ActivityEventPreferencePushed    ActivityEventType = "preference.push.success"
	ActivityEventPreferencePushError ActivityEventType = "preference.push.failure"
	ActivityEventPreferencePulled    ActivityEventType = "preference.pull"
)

// ActivityEvent captures audit-friendly information about an action.
type ActivityEvent struct {
	EventType   ActivityEventType
	PrincipalID string
	Method      SignInMethod
	FromState   SessionState
	ToState     SessionState
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivitySink consumes activity events for auditing/telemetry purposes.
type ActivitySink interface {
	Record(ctx context.Context, event ActivityEvent) error
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, event ActivityEvent) error

// Record implements ActivitySink.
func (f ActivitySinkFunc) Record(ctx context.Context, event ActivityEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, event)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityEvent) error {
	return nil
}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}

// recordActivity is best effort, sink failures are only logged
func recordActivity(ctx context.Context, sink ActivitySink, logger Logger, now func() time.Time, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now()
	}
	if err := normalizeActivitySink(sink).Record(ctx, event); err != nil {
		normalizeLogger(logger).Warn("activity sink error for %s: %v", event.EventType, err)
	}
}
