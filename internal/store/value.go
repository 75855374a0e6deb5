package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/dispatch"
	"github.com/five82/beacon/internal/torrentino"
)

// ValueSnapshot is an immutable view of a Value.
type ValueSnapshot[T any] struct {
	Value   T
	Loaded  bool
	Loading bool
	Pending MutationKind
	Err     string
}

// Value caches a single server-side status document.
type Value[T any] struct {
	name    string
	log     zerolog.Logger
	fetch   func(context.Context) (T, error)
	clone   func(T) T
	report  func(error)
	changes *dispatch.Registry[Change]

	mu      sync.Mutex
	value   T
	loaded  bool
	loading bool
	pending MutationKind
	gen     uint64
	err     string
}

// NewValue builds an empty Value loaded by fetch.
func NewValue[T any](name string, fetch func(context.Context) (T, error), clone func(T) T, report func(error), log zerolog.Logger) *Value[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	log = log.With().Str("component", "store").Str("resource", name).Logger()
	return &Value[T]{
		name:    name,
		log:     log,
		fetch:   fetch,
		clone:   clone,
		report:  report,
		changes: dispatch.New[Change](log),
	}
}

// OnChange registers h for every state change.
func (v *Value[T]) OnChange(h func(Change)) *dispatch.Subscription {
	return v.changes.Subscribe(h)
}

func (v *Value[T]) notify() {
	v.changes.Dispatch(Change{Resource: v.name})
}

func (v *Value[T]) observe(err error) {
	if v.report != nil {
		v.report(err)
	}
}

// Snapshot returns a copy of the current state.
func (v *Value[T]) Snapshot() ValueSnapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return ValueSnapshot[T]{
		Value:   v.clone(v.value),
		Loaded:  v.loaded,
		Loading: v.loading,
		Pending: v.pending,
		Err:     v.err,
	}
}

// Fetch reloads the value. The previous value stays visible until the new
// one arrives and is kept on failure.
func (v *Value[T]) Fetch(ctx context.Context) error {
	v.mu.Lock()
	v.gen++
	gen := v.gen
	v.loading = true
	v.mu.Unlock()
	v.notify()

	value, err := v.fetch(ctx)
	v.observe(err)

	v.mu.Lock()
	if gen != v.gen {
		v.mu.Unlock()
		return nil
	}
	v.loading = false
	if err != nil {
		v.err = torrentino.Describe(err)
		v.mu.Unlock()
		v.notify()
		return fmt.Errorf("fetch %s: %w", v.name, err)
	}
	if v.pending == "" {
		v.value = v.clone(value)
		v.loaded = true
	}
	v.err = ""
	v.mu.Unlock()
	v.notify()
	return nil
}

// Patch merges a partial update. It is ignored until the value has loaded.
func (v *Value[T]) Patch(merge func(T) T) bool {
	v.mu.Lock()
	if !v.loaded {
		v.mu.Unlock()
		return false
	}
	v.value = merge(v.clone(v.value))
	v.mu.Unlock()
	v.notify()
	return true
}

// Mutate runs call and then re-fetches the value. A second mutation while
// one is in flight fails with ErrMutationPending.
func (v *Value[T]) Mutate(ctx context.Context, kind MutationKind, call func(context.Context) error) error {
	v.mu.Lock()
	if v.pending != "" {
		busy := v.pending
		v.mu.Unlock()
		return fmt.Errorf("%s %s: %w (%s)", kind, v.name, ErrMutationPending, busy)
	}
	v.pending = kind
	v.mu.Unlock()
	v.notify()

	err := call(ctx)
	v.observe(err)

	v.mu.Lock()
	v.pending = ""
	if err != nil {
		v.err = torrentino.Describe(err)
	}
	v.mu.Unlock()

	if err != nil {
		v.notify()
		v.log.Warn().Err(err).Str("mutation", string(kind)).Msg("mutation failed")
		return fmt.Errorf("%s %s: %w", kind, v.name, err)
	}
	return v.Fetch(ctx)
}

// Reset forgets the cached value.
func (v *Value[T]) Reset() {
	v.mu.Lock()
	var zero T
	v.value = zero
	v.loaded = false
	v.loading = false
	v.gen++
	v.err = ""
	v.mu.Unlock()
	v.notify()
}
