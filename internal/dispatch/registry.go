// Package dispatch fans values out to a set of subscribed handlers.
//
// Every Dispatch call works on a snapshot of the handlers registered when
// the call starts. A handler subscribed during a pass is first invoked on
// the next pass. A handler unsubscribed during a pass is skipped if the
// pass has not reached it yet, so Unsubscribe guarantees zero further
// invocations once it returns.
package dispatch

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Handler receives dispatched values.
type Handler[T any] func(T)

// Registry is a multi-consumer subscription list. The zero value is not
// usable; construct with New.
type Registry[T any] struct {
	log zerolog.Logger

	mu      sync.Mutex
	entries []*entry[T]
	nextID  uint64
}

type entry[T any] struct {
	id      uint64
	handler Handler[T]
	active  atomic.Bool
}

// New returns an empty registry. Handler panics are logged to log.
func New[T any](log zerolog.Logger) *Registry[T] {
	return &Registry[T]{log: log}
}

// Subscription is the membership token returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. It is safe to call more than once and
// from inside a handler.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Subscribe registers handler for every subsequently dispatched value.
func (r *Registry[T]) Subscribe(handler Handler[T]) *Subscription {
	r.mu.Lock()
	r.nextID++
	e := &entry[T]{id: r.nextID, handler: handler}
	e.active.Store(true)
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	return &Subscription{cancel: func() { r.remove(e) }}
}

func (r *Registry[T]) remove(target *entry[T]) {
	target.active.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e == target {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every handler present at call time, in registration
// order, on the calling goroutine.
func (r *Registry[T]) Dispatch(v T) {
	r.mu.Lock()
	snapshot := make([]*entry[T], len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	for _, e := range snapshot {
		if !e.active.Load() {
			continue
		}
		r.invoke(e, v)
	}
}

func (r *Registry[T]) invoke(e *entry[T], v T) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().
				Uint64("subscriber", e.id).
				Str("panic", fmt.Sprint(rec)).
				Msg("dispatch handler failed")
		}
	}()
	e.handler(v)
}

// Len reports the number of registered handlers.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
