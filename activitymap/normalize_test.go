package activitymap_test

import (
	"context"
	"errors"
	"testing"
	"time"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/activitymap"
)

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 10, 9, 30, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType:   auth.ActivityEventSessionStateChanged,
		PrincipalID: "principal-42",
		Method:      auth.SignInMethodPassword,
		FromState:   auth.SessionAuthenticating,
		ToState:     auth.SessionSignedIn,
		Metadata: map[string]any{
			"client": "web",
		},
		OccurredAt: ts,
	}

	out := activitymap.Normalize(event)

	if out.ActorID != "principal-42" {
		t.Fatalf("expected actor_id principal-42, got %q", out.ActorID)
	}
	if out.Verb != string(auth.ActivityEventSessionStateChanged) {
		t.Fatalf("expected verb %q, got %q", auth.ActivityEventSessionStateChanged, out.Verb)
	}
	if out.ObjectType != "session" {
		t.Fatalf("expected object_type session, got %q", out.ObjectType)
	}
	if out.ObjectID != "principal-42" {
		t.Fatalf("expected object_id principal-42, got %q", out.ObjectID)
	}
	if out.Channel != "campus-auth" {
		t.Fatalf("expected default channel campus-auth, got %q", out.Channel)
	}
	if !out.OccurredAt.Equal(ts) {
		t.Fatalf("expected occurred_at %s, got %s", ts, out.OccurredAt)
	}
	if out.Metadata[activitymap.MetadataKeyMethod] != "password" {
		t.Fatalf("expected method metadata, got %#v", out.Metadata)
	}
	if out.Metadata[activitymap.MetadataKeyFromState] != "authenticating" {
		t.Fatalf("expected from_state metadata, got %#v", out.Metadata)
	}
	if out.Metadata[activitymap.MetadataKeyToState] != "signed_in" {
		t.Fatalf("expected to_state metadata, got %#v", out.Metadata)
	}
	if out.Metadata["client"] != "web" {
		t.Fatalf("expected client metadata to be preserved, got %#v", out.Metadata)
	}
	if _, ok := event.Metadata[activitymap.MetadataKeyMethod]; ok {
		t.Fatalf("input metadata must not be mutated")
	}
}

func TestNormalizeObjectTypeFollowsEventFamily(t *testing.T) {
	t.Parallel()

	cases := map[auth.ActivityEventType]string{
		auth.ActivityEventSignUpRolledBack:    "session",
		auth.ActivityEventOrdinalAllocated:    "signup",
		auth.ActivityEventPreferencePushError: "preference",
		auth.ActivityEventPreferencePulled:    "preference",
	}
	for eventType, want := range cases {
		out := activitymap.Normalize(auth.ActivityEvent{EventType: eventType, PrincipalID: "p"})
		if out.ObjectType != want {
			t.Fatalf("%s: expected object_type %q, got %q", eventType, want, out.ObjectType)
		}
	}
}

func TestNormalizeOptionsAndFallbacks(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	event := auth.ActivityEvent{
		EventType: auth.ActivityEventSignInFailure,
		Method:    auth.SignInMethodEmailLink,
		Metadata: map[string]any{
			activitymap.MetadataKeyMethod: "custom",
		},
	}

	out := activitymap.Normalize(event,
		activitymap.WithDefaultChannel(" mobile "),
		activitymap.WithActorFallback("device"),
		activitymap.WithClock(func() time.Time { return now }),
		activitymap.WithObjectIDResolver(func(auth.ActivityEvent) string { return " attempt-7 " }),
	)

	if out.ActorID != "device" {
		t.Fatalf("expected actor fallback device, got %q", out.ActorID)
	}
	if out.Channel != "mobile" {
		t.Fatalf("expected channel mobile, got %q", out.Channel)
	}
	if out.ObjectID != "attempt-7" {
		t.Fatalf("expected resolved object id, got %q", out.ObjectID)
	}
	if !out.OccurredAt.Equal(now) {
		t.Fatalf("expected clock time %s, got %s", now, out.OccurredAt)
	}
	if out.Metadata[activitymap.MetadataKeyMethod] != "custom" {
		t.Fatalf("explicit metadata should win, got %#v", out.Metadata)
	}
	if _, ok := out.Metadata[activitymap.MetadataKeyToState]; ok {
		t.Fatalf("empty states must not be recorded, got %#v", out.Metadata)
	}
}

func TestNormalizeAnonymousActor(t *testing.T) {
	t.Parallel()

	out := activitymap.Normalize(auth.ActivityEvent{EventType: auth.ActivityEventEmailLinkSent})
	if out.ActorID != "anonymous" {
		t.Fatalf("expected anonymous actor, got %q", out.ActorID)
	}
	if out.Metadata != nil {
		t.Fatalf("expected no metadata, got %#v", out.Metadata)
	}
}

func TestNewSinkEmitsNormalizedRecords(t *testing.T) {
	t.Parallel()

	var got []activitymap.Normalized
	sink := activitymap.NewSink(func(_ context.Context, n activitymap.Normalized) error {
		got = append(got, n)
		return nil
	}, activitymap.WithDefaultChannel("audit"))

	err := sink.Record(context.Background(), auth.ActivityEvent{
		EventType:   auth.ActivityEventSignOut,
		PrincipalID: "principal-9",
		FromState:   auth.SessionSignedIn,
		ToState:     auth.SessionSignedOut,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one record, got %d", len(got))
	}
	if got[0].Channel != "audit" || got[0].ActorID != "principal-9" {
		t.Fatalf("unexpected record %#v", got[0])
	}

	boom := errors.New("downstream unavailable")
	failing := activitymap.NewSink(func(context.Context, activitymap.Normalized) error { return boom })
	if err := failing.Record(context.Background(), auth.ActivityEvent{EventType: auth.ActivityEventSignOut}); !errors.Is(err, boom) {
		t.Fatalf("expected emit error, got %v", err)
	}

	if err := activitymap.NewSink(nil).Record(context.Background(), auth.ActivityEvent{}); err != nil {
		t.Fatalf("nil emitter should be a no-op, got %v", err)
	}
}
