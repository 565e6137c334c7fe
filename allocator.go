package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultFounderCapacity      = 200
	DefaultAllocationMaxRetries = 8
	DefaultAllocationRetryBase  = 25 * time.Millisecond

	maxAllocationBackoff = time.Second
)

var (
	signupCounterRef = DocumentRef{Collection: CollectionMetadata, ID: DocSignupCounter}
	earlyUsersRef    = DocumentRef{Collection: CollectionMetadata, ID: DocEarlyUsers}
)

// Allocation is the result of SignupOrdinalAllocator.Allocate. Ordinal is 0
// when the principal is not an early user.
type Allocation struct {
	IsEarly bool
	Ordinal int
}

// OrdinalRef returns the ordinal as stored on a profile, nil for non early users
func (a Allocation) OrdinalRef() *int {
	if !a.IsEarly {
		return nil
	}
	ordinal := a.Ordinal
	return &ordinal
}

// SignupStats is a snapshot of the counter and registry
type SignupStats struct {
	Count       int
	Founders    int
	Capacity    int
	LastUpdated time.Time
}

// AllocatorOption customizes the allocator
type AllocatorOption func(*SignupOrdinalAllocator)

func WithAllocatorCapacity(capacity int) AllocatorOption {
	return func(a *SignupOrdinalAllocator) {
		if capacity > 0 {
			a.capacity = capacity
		}
	}
}

// WithAllocatorRetry bounds commit retries
func WithAllocatorRetry(maxRetries int, base time.Duration) AllocatorOption {
	return func(a *SignupOrdinalAllocator) {
		if maxRetries >= 0 {
			a.maxRetries = maxRetries
		}
		if base > 0 {
			a.retryBase = base
		}
	}
}

func WithAllocatorClock(clock func() time.Time) AllocatorOption {
	return func(a *SignupOrdinalAllocator) {
		if clock != nil {
			a.now = clock
		}
	}
}

func WithAllocatorLogger(logger Logger) AllocatorOption {
	return func(a *SignupOrdinalAllocator) {
		a.logger = normalizeLogger(logger)
	}
}

func WithAllocatorActivitySink(sink ActivitySink) AllocatorOption {
	return func(a *SignupOrdinalAllocator) {
		a.activity = normalizeActivitySink(sink)
	}
}

// SignupOrdinalAllocator assigns founder ordinals 1..capacity and counts
// every signup. Counter and registry are only written together inside one
// store transaction.
type SignupOrdinalAllocator struct {
	store      DocumentStore
	capacity   int
	maxRetries int
	retryBase  time.Duration
	now        func() time.Time
	logger     Logger
	activity   ActivitySink
}

func NewSignupOrdinalAllocator(store DocumentStore, opts ...AllocatorOption) *SignupOrdinalAllocator {
	a := &SignupOrdinalAllocator{
		store:      store,
		capacity:   DefaultFounderCapacity,
		maxRetries: DefaultAllocationMaxRetries,
		retryBase:  DefaultAllocationRetryBase,
		now:        time.Now,
		logger:     defLogger{},
		activity:   noopActivitySink{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Capacity returns the number of founder slots
func (a *SignupOrdinalAllocator) Capacity() int {
	return a.capacity
}

// Allocate runs the allocation transaction for principalID, retrying on
// commit conflicts. Calling it again for the same principal returns the same
// ordinal and does not touch the counter.
func (a *SignupOrdinalAllocator) Allocate(ctx context.Context, principalID string) (Allocation, error) {
	if principalID == "" {
		return Allocation{}, errors.New("principal id is required", errors.CategoryBadInput)
	}

	backoff := retry.WithMaxRetries(uint64(a.maxRetries),
		retry.WithCappedDuration(maxAllocationBackoff,
			retry.WithJitterPercent(20, retry.NewExponential(a.retryBase))))

	attempts := 0
	result, err := retry.DoValue[Allocation](ctx, backoff, func(ctx context.Context) (Allocation, error) {
		attempts++
		res, err := a.allocateOnce(ctx, principalID)
		if errors.Is(err, ErrTransactionConflict) {
			a.logger.Debug("signup allocation conflict for %s, attempt %d", principalID, attempts)
			return Allocation{}, retry.RetryableError(err)
		}
		return res, err
	})

	if err != nil {
		if errors.Is(err, ErrTransactionConflict) {
			a.logger.Error("signup allocation for %s gave up after %d attempts", principalID, attempts)
			return Allocation{}, ErrAllocationConflict
		}
		return Allocation{}, err
	}

	recordActivity(ctx, a.activity, a.logger, a.now, ActivityEvent{
		EventType:   ActivityEventOrdinalAllocated,
		PrincipalID: principalID,
		Metadata: map[string]any{
			"is_early": result.IsEarly,
			"ordinal":  result.Ordinal,
			"attempts": attempts,
		},
	})

	return result, nil
}

func (a *SignupOrdinalAllocator) allocateOnce(ctx context.Context, principalID string) (Allocation, error) {
	var result Allocation

	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx DocumentTx) error {
		counter, registry, err := readAllocationState(ctx, tx)
		if err != nil {
			return err
		}

		if pos := registry.Position(principalID); pos > 0 {
			result = Allocation{IsEarly: true, Ordinal: pos}
			return nil
		}

		result = Allocation{}
		if len(registry.MemberIDs) < a.capacity {
			registry.MemberIDs = append(registry.MemberIDs, principalID)
			result = Allocation{IsEarly: true, Ordinal: len(registry.MemberIDs)}

			doc, err := EncodeDocument(registry)
			if err != nil {
				return err
			}
			tx.Set(earlyUsersRef, doc)
		}

		counter.Count++
		counter.LastUpdated = a.now().UTC()
		doc, err := EncodeDocument(counter)
		if err != nil {
			return err
		}
		tx.Set(signupCounterRef, doc)

		return nil
	})

	return result, err
}

// Stats reads the counter and registry in one transaction
func (a *SignupOrdinalAllocator) Stats(ctx context.Context) (SignupStats, error) {
	var stats SignupStats
	err := a.store.RunTransaction(ctx, func(ctx context.Context, tx DocumentTx) error {
		counter, registry, err := readAllocationState(ctx, tx)
		if err != nil {
			return err
		}
		stats = SignupStats{
			Count:       counter.Count,
			Founders:    len(registry.MemberIDs),
			Capacity:    a.capacity,
			LastUpdated: counter.LastUpdated,
		}
		return nil
	})
	return stats, err
}

func readAllocationState(ctx context.Context, tx DocumentTx) (SignupCounter, EarlyUserRegistry, error) {
	var counter SignupCounter
	var registry EarlyUserRegistry

	doc, err := tx.Get(ctx, signupCounterRef)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
	case err != nil:
		return counter, registry, err
	default:
		if err := DecodeDocument(doc, &counter); err != nil {
			return counter, registry, err
		}
	}

	doc, err = tx.Get(ctx, earlyUsersRef)
	switch {
	case errors.Is(err, ErrDocumentNotFound):
	case err != nil:
		return counter, registry, err
	default:
		if err := DecodeDocument(doc, &registry); err != nil {
			return counter, registry, err
		}
	}

	return counter, registry, nil
}
