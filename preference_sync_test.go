package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	auth "github.com/goliatone/go-campus-auth"
	"github.com/goliatone/go-campus-auth/localcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recordingRemote stores the preference and can hold the first update
type recordingRemote struct {
	mu       sync.Mutex
	value    auth.Preference
	updates  []auth.Preference
	fetches  int
	failNext error
	override auth.Preference

	gate    chan struct{}
	entered chan struct{}
}

func (r *recordingRemote) UpdatePreference(ctx context.Context, principalID string, p auth.Preference) error {
	r.mu.Lock()
	gate, entered := r.gate, r.entered
	r.gate, r.entered = nil, nil
	r.mu.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, p)
	if err := r.failNext; err != nil {
		r.failNext = nil
		return err
	}
	r.value = p
	if r.override != "" {
		r.value = r.override
		r.override = ""
	}
	return nil
}

func (r *recordingRemote) FetchPreference(ctx context.Context, principalID string) (auth.Preference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches++
	return r.value, nil
}

func (r *recordingRemote) Updates() []auth.Preference {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]auth.Preference(nil), r.updates...)
}

func newTestEngine(remote auth.PreferenceRemote) (*auth.PreferenceSyncEngine, *localcache.Memory) {
	cache := localcache.NewMemory()
	engine := auth.NewPreferenceSyncEngine(remote, cache,
		auth.WithPreferenceLogger(silentLogger{}),
		auth.WithPreferencePlatform(func() auth.Preference { return auth.PreferenceLight }),
	)
	return engine, cache
}

func TestPreferenceSyncEngine_LocalOnlyWithoutPrincipal(t *testing.T) {
	ctx := context.Background()
	remote := &MockPreferenceRemote{}
	engine, cache := newTestEngine(remote)

	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceDark))

	mirrored, err := cache.Get(ctx, auth.CacheKeyPreference)
	require.NoError(t, err)
	assert.Equal(t, "dark", mirrored)
	assert.Equal(t, auth.PreferenceDark, engine.Resolved())
	remote.AssertNotCalled(t, "UpdatePreference", mock.Anything, mock.Anything, mock.Anything)
}

func TestPreferenceSyncEngine_RejectsUnknownValue(t *testing.T) {
	engine, _ := newTestEngine(&MockPreferenceRemote{})
	err := engine.SetLocal(context.Background(), auth.Preference("sepia"))
	assert.ErrorIs(t, err, auth.ErrInvalidPreference)
}

func TestPreferenceSyncEngine_LoadFromMirror(t *testing.T) {
	ctx := context.Background()
	engine, cache := newTestEngine(&MockPreferenceRemote{})

	assert.Equal(t, auth.PreferenceSystem, engine.Load(ctx))
	require.NoError(t, cache.Set(ctx, auth.CacheKeyPreference, "dark", 0))
	assert.Equal(t, auth.PreferenceDark, engine.Load(ctx))
	assert.Equal(t, auth.PreferenceDark, engine.Local())
}

func TestPreferenceSyncEngine_PushesOnceAndIgnoresEcho(t *testing.T) {
	ctx := context.Background()
	remote := &MockPreferenceRemote{}
	remote.On("UpdatePreference", mock.Anything, "u-1", auth.PreferenceDark).Return(nil).Once()
	remote.On("FetchPreference", mock.Anything, "u-1").Return(auth.PreferenceDark, nil).Once()

	engine, _ := newTestEngine(remote)
	engine.Attach(ctx, "u-1", auth.PreferenceSystem)

	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceDark))
	assert.Equal(t, auth.PreferenceDark, engine.LastSynced())
	assert.Equal(t, auth.SyncIdle, engine.Phase())

	// the profile listener reports our own write back
	engine.ObserveRemote(ctx, auth.PreferenceDark)

	// setting the same value again does not hit the remote
	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceDark))

	stats := engine.Stats()
	assert.Equal(t, 1, stats.Pushes)
	assert.Equal(t, 0, stats.Pulls)
	remote.AssertExpectations(t)
}

func TestPreferenceSyncEngine_PullsRemoteChange(t *testing.T) {
	ctx := context.Background()
	remote := &MockPreferenceRemote{}
	engine, cache := newTestEngine(remote)
	engine.Attach(ctx, "u-1", auth.PreferenceSystem)

	engine.ObserveRemote(ctx, auth.PreferenceDark)

	assert.Equal(t, auth.PreferenceDark, engine.Local())
	assert.Equal(t, auth.PreferenceDark, engine.LastSynced())
	mirrored, err := cache.Get(ctx, auth.CacheKeyPreference)
	require.NoError(t, err)
	assert.Equal(t, "dark", mirrored)

	assert.Equal(t, 1, engine.Stats().Pulls)
	remote.AssertNotCalled(t, "UpdatePreference", mock.Anything, mock.Anything, mock.Anything)
}

func TestPreferenceSyncEngine_CoalescesWhilePushing(t *testing.T) {
	ctx := context.Background()
	remote := &recordingRemote{
		value:   auth.PreferenceSystem,
		gate:    make(chan struct{}),
		entered: make(chan struct{}),
	}
	gate, entered := remote.gate, remote.entered

	engine, _ := newTestEngine(remote)
	engine.Attach(ctx, "u-1", auth.PreferenceSystem)

	done := make(chan error, 1)
	go func() {
		done <- engine.SetLocal(ctx, auth.PreferenceDark)
	}()

	<-entered
	assert.Equal(t, auth.SyncPushing, engine.Phase())

	// stale remote value while our write is in flight
	engine.ObserveRemote(ctx, auth.PreferenceSystem)

	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceSystem))
	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceLight))

	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, []auth.Preference{auth.PreferenceDark, auth.PreferenceLight}, remote.Updates())
	assert.Equal(t, auth.PreferenceLight, engine.Local())
	assert.Equal(t, auth.PreferenceLight, engine.LastSynced())
	assert.Equal(t, auth.SyncIdle, engine.Phase())
}

func TestPreferenceSyncEngine_FailedPushIsRetried(t *testing.T) {
	ctx := context.Background()
	remote := &recordingRemote{value: auth.PreferenceSystem, failNext: errors.New("offline")}

	engine, _ := newTestEngine(remote)
	engine.Attach(ctx, "u-1", auth.PreferenceSystem)

	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceDark))
	assert.Equal(t, auth.PreferenceDark, engine.Local(), "local value survives a failed push")
	assert.Equal(t, auth.Preference(""), engine.LastSynced())
	assert.Equal(t, 1, engine.Stats().Failures)

	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceDark))
	assert.Equal(t, []auth.Preference{auth.PreferenceDark, auth.PreferenceDark}, remote.Updates())
	assert.Equal(t, auth.PreferenceDark, engine.LastSynced())
}

func TestPreferenceSyncEngine_AdoptsAuthoritativeValueAfterPush(t *testing.T) {
	ctx := context.Background()
	remote := &recordingRemote{value: auth.PreferenceSystem, override: auth.PreferenceLight}

	engine, _ := newTestEngine(remote)
	engine.Attach(ctx, "u-1", auth.PreferenceSystem)

	require.NoError(t, engine.SetLocal(ctx, auth.PreferenceDark))

	assert.Equal(t, auth.PreferenceLight, engine.Local())
	assert.Equal(t, auth.PreferenceLight, engine.LastSynced())
	assert.Len(t, remote.Updates(), 1)
}

func TestPreferenceSyncEngine_Refresh(t *testing.T) {
	ctx := context.Background()
	remote := &recordingRemote{value: auth.PreferenceDark}
	engine, _ := newTestEngine(remote)

	assert.ErrorIs(t, engine.Refresh(ctx), auth.ErrNotAuthenticated)

	engine.Attach(ctx, "u-1", "")
	require.NoError(t, engine.Refresh(ctx))
	assert.Equal(t, auth.PreferenceDark, engine.Local())

	engine.Detach()
	assert.Equal(t, auth.Preference(""), engine.LastSynced())
	assert.Equal(t, auth.PreferenceDark, engine.Local())
}
