package auth

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// CacheKeyPreference is the local mirror of the preference value
const CacheKeyPreference = "preference.theme"

// SyncPhase is the guard of the preference engine
type SyncPhase string

const (
	SyncIdle    SyncPhase = "idle"
	SyncPushing SyncPhase = "pushing"
	SyncPulling SyncPhase = "pulling"
)

// PreferenceRemote is the remote side of the preference, usually *Profiles
type PreferenceRemote interface {
	UpdatePreference(ctx context.Context, principalID string, p Preference) error
	FetchPreference(ctx context.Context, principalID string) (Preference, error)
}

// PreferenceSyncStats counts what the engine did
type PreferenceSyncStats struct {
	Pushes   int
	Pulls    int
	Failures int
}

// PreferenceSyncOption customizes the engine
type PreferenceSyncOption func(*PreferenceSyncEngine)

func WithPreferencePlatform(platform PlatformPreference) PreferenceSyncOption {
	return func(e *PreferenceSyncEngine) {
		e.platform = platform
	}
}

func WithPreferenceLogger(logger Logger) PreferenceSyncOption {
	return func(e *PreferenceSyncEngine) {
		e.logger = normalizeLogger(logger)
	}
}

func WithPreferenceActivitySink(sink ActivitySink) PreferenceSyncOption {
	return func(e *PreferenceSyncEngine) {
		e.activity = normalizeActivitySink(sink)
	}
}

func WithPreferenceClock(clock func() time.Time) PreferenceSyncOption {
	return func(e *PreferenceSyncEngine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// PreferenceSyncEngine keeps the local preference and the profile preference
// equal without echoing its own writes.
//
// Local changes and remote observations are queued as dirty flags and drained
// by a single caller at a time. The remote write and the local mirror write
// happen outside the lock; the guard and lastSynced are updated under it
// before any I/O starts.
type PreferenceSyncEngine struct {
	remote   PreferenceRemote
	cache    LocalCache
	platform PlatformPreference
	logger   Logger
	activity ActivitySink
	now      func() time.Time

	mu          sync.Mutex
	phase       SyncPhase
	draining    bool
	local       Preference
	lastSynced  Preference
	principalID string
	localDirty  bool
	remoteDirty bool
	remoteSeen  Preference
	stats       PreferenceSyncStats
}

func NewPreferenceSyncEngine(remote PreferenceRemote, cache LocalCache, opts ...PreferenceSyncOption) *PreferenceSyncEngine {
	e := &PreferenceSyncEngine{
		remote:   remote,
		cache:    cache,
		logger:   defLogger{},
		activity: noopActivitySink{},
		now:      time.Now,
		phase:    SyncIdle,
		local:    PreferenceSystem,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Load restores the local value from the cache mirror. It never writes remotely.
func (e *PreferenceSyncEngine) Load(ctx context.Context) Preference {
	value := PreferenceSystem
	raw, err := e.cache.Get(ctx, CacheKeyPreference)
	switch {
	case err == nil:
		if p, ok := ParsePreference(raw); ok {
			value = p
		}
	case !errors.Is(err, ErrCacheMiss):
		e.logger.Warn("preference mirror read failed: %v", err)
	}

	e.mu.Lock()
	e.local = value
	e.mu.Unlock()
	return value
}

// Attach binds the engine to a signed in principal whose profile was loaded
// with the given remote value.
func (e *PreferenceSyncEngine) Attach(ctx context.Context, principalID string, remote Preference) {
	e.mu.Lock()
	if e.principalID != principalID {
		e.lastSynced = ""
	}
	e.principalID = principalID
	e.mu.Unlock()

	if remote.Valid() {
		e.ObserveRemote(ctx, remote)
	}
}

// Detach forgets the principal, local changes stay local until the next Attach
func (e *PreferenceSyncEngine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.principalID = ""
	e.lastSynced = ""
	e.remoteDirty = false
}

// SetLocal records a user change. The remote write happens on the calling
// goroutine unless another drain is active, in which case it is coalesced
// into that drain.
func (e *PreferenceSyncEngine) SetLocal(ctx context.Context, p Preference) error {
	if !p.Valid() {
		return ErrInvalidPreference
	}

	e.mu.Lock()
	e.local = p
	e.localDirty = true
	if e.draining {
		e.mu.Unlock()
		return nil
	}
	e.draining = true
	e.mu.Unlock()

	e.drain(ctx)
	return nil
}

// ObserveRemote feeds a remote profile value into the engine. Values observed
// while a push is in flight are ignored.
func (e *PreferenceSyncEngine) ObserveRemote(ctx context.Context, p Preference) {
	if !p.Valid() {
		return
	}

	e.mu.Lock()
	if e.phase == SyncPushing {
		e.mu.Unlock()
		e.logger.Debug("ignoring remote preference %s while pushing", p)
		return
	}
	e.remoteSeen = p
	e.remoteDirty = true
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	e.mu.Unlock()

	e.drain(ctx)
}

// Refresh fetches the remote value for the attached principal
func (e *PreferenceSyncEngine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	principalID := e.principalID
	e.mu.Unlock()

	if principalID == "" {
		return ErrNotAuthenticated
	}

	p, err := e.remote.FetchPreference(ctx, principalID)
	if err != nil {
		return err
	}
	e.ObserveRemote(ctx, p)
	return nil
}

func (e *PreferenceSyncEngine) Local() Preference {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

// Resolved returns the concrete light or dark value for the local preference
func (e *PreferenceSyncEngine) Resolved() Preference {
	return ResolvePreference(e.Local(), e.platform)
}

func (e *PreferenceSyncEngine) Phase() SyncPhase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

func (e *PreferenceSyncEngine) LastSynced() Preference {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSynced
}

func (e *PreferenceSyncEngine) Stats() PreferenceSyncStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *PreferenceSyncEngine) drain(ctx context.Context) {
	for {
		e.mu.Lock()
		switch {
		case e.remoteDirty:
			e.remoteDirty = false
			value := e.remoteSeen

			if value == e.local {
				e.lastSynced = value
				e.mu.Unlock()
				continue
			}
			// pending local input is newer than what we observed
			if e.localDirty {
				e.mu.Unlock()
				continue
			}

			e.phase = SyncPulling
			e.lastSynced = value
			e.local = value
			e.mu.Unlock()

			e.writeMirror(ctx, value)

			e.mu.Lock()
			e.phase = SyncIdle
			e.stats.Pulls++
			principalID := e.principalID
			e.mu.Unlock()

			recordActivity(ctx, e.activity, e.logger, e.now, ActivityEvent{
				EventType:   ActivityEventPreferencePulled,
				PrincipalID: principalID,
				Metadata:    map[string]any{"preference": value},
			})

		case e.localDirty:
			e.localDirty = false
			value := e.local
			principalID := e.principalID
			push := principalID != "" && value != e.lastSynced
			if push {
				e.phase = SyncPushing
				e.lastSynced = value
			}
			e.mu.Unlock()

			e.writeMirror(ctx, value)
			if push {
				e.push(ctx, principalID, value)
			}

		default:
			e.draining = false
			e.phase = SyncIdle
			e.mu.Unlock()
			return
		}
	}
}

func (e *PreferenceSyncEngine) push(ctx context.Context, principalID string, value Preference) {
	if err := e.remote.UpdatePreference(ctx, principalID, value); err != nil {
		e.mu.Lock()
		e.phase = SyncIdle
		if e.lastSynced == value {
			e.lastSynced = ""
		}
		e.stats.Failures++
		e.mu.Unlock()

		e.logger.Error("preference push for %s failed: %v", principalID, err)
		recordActivity(ctx, e.activity, e.logger, e.now, ActivityEvent{
			EventType:   ActivityEventPreferencePushError,
			PrincipalID: principalID,
			Metadata:    map[string]any{"preference": value, "error": err.Error()},
		})
		return
	}

	authoritative, err := e.remote.FetchPreference(ctx, principalID)

	e.mu.Lock()
	e.phase = SyncIdle
	e.stats.Pushes++
	if err == nil && authoritative.Valid() && authoritative != value && principalID == e.principalID {
		e.remoteSeen = authoritative
		e.remoteDirty = true
	}
	e.mu.Unlock()

	if err != nil {
		e.logger.Warn("preference refetch for %s failed: %v", principalID, err)
	}

	recordActivity(ctx, e.activity, e.logger, e.now, ActivityEvent{
		EventType:   ActivityEventPreferencePushed,
		PrincipalID: principalID,
		Metadata:    map[string]any{"preference": value},
	})
}

func (e *PreferenceSyncEngine) writeMirror(ctx context.Context, value Preference) {
	if err := e.cache.Set(ctx, CacheKeyPreference, string(value), 0); err != nil {
		e.logger.Warn("preference mirror write failed: %v", err)
	}
}
