package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/dispatch"
	"github.com/five82/beacon/internal/torrentino"
)

// MutationKind names an in-flight mutation.
type MutationKind string

const (
	MutationCancel        MutationKind = "cancel"
	MutationRetry         MutationKind = "retry"
	MutationApprove       MutationKind = "approve"
	MutationReject        MutationKind = "reject"
	MutationDelete        MutationKind = "delete"
	MutationPause         MutationKind = "pause"
	MutationResume        MutationKind = "resume"
	MutationRecheck       MutationKind = "recheck"
	MutationUploadLimit   MutationKind = "upload_limit"
	MutationDownloadLimit MutationKind = "download_limit"
	MutationStart         MutationKind = "start"
	MutationStop          MutationKind = "stop"
)

// ErrMutationPending is returned when a mutation is requested for a key
// that already has one in flight.
var ErrMutationPending = errors.New("mutation already in progress")

// ErrStaleList is returned for a list response that arrived after a newer
// list request or a filter change made it obsolete.
var ErrStaleList = errors.New("list response superseded")

// Entry is one cached entity.
type Entry[T any] struct {
	Value T
	// Pending is the in-flight mutation, empty when none.
	Pending MutationKind
}

// Page is one list response, normalized across endpoints.
type Page[T any] struct {
	Items []T
	Total int
}

// Config wires a Resource to its entity and REST collaborator.
type Config[F comparable, T any] struct {
	Name     string
	ID       func(T) string
	Clone    func(T) T
	List     func(ctx context.Context, filters F, limit, offset int) (Page[T], error)
	Get      func(ctx context.Context, id string) (T, error)
	PageSize int
	Logger   zerolog.Logger
	// Report, when set, observes the outcome of every REST call.
	Report func(error)
	// SameFilters reports whether two filter sets select the same list.
	// Defaults to ==.
	SameFilters func(a, b F) bool
}

// Snapshot is an immutable view of a Resource.
type Snapshot[F comparable, T any] struct {
	Items   []Entry[T]
	Total   int
	Cursor  int
	Filters F
	Loaded  bool
	Loading bool

	DetailID      string
	Detail        *T
	DetailLoading bool

	// Err is the human-readable message of the last failed operation.
	Err string
}

// HasMore reports whether another page is available.
func (s Snapshot[F, T]) HasMore() bool { return s.Cursor < s.Total }

// Lookup returns the entry for id.
func (s Snapshot[F, T]) Lookup(id string, idOf func(T) string) (Entry[T], bool) {
	for _, e := range s.Items {
		if idOf(e.Value) == id {
			return e, true
		}
	}
	return Entry[T]{}, false
}

// Change is published after every state transition of a Resource.
type Change struct {
	Resource string
}

// Resource caches one entity kind. It merges list/detail snapshots from
// REST, optimistic mutations, and push patches. All methods are safe for
// concurrent use; observers are notified outside the lock.
type Resource[F comparable, T any] struct {
	cfg     Config[F, T]
	log     zerolog.Logger
	changes *dispatch.Registry[Change]

	mu      sync.Mutex
	order   []string
	items   map[string]*Entry[T]
	pending map[string]MutationKind
	total   int
	cursor  int
	filters F
	loaded  bool
	loading bool
	// listGen advances on every replace and filter change; appends keep it.
	listGen  uint64
	listDone chan struct{}

	detailID      string
	detail        *T
	detailLoading bool
	detailGen     uint64

	err string
}

const defaultPageSize = 50

// NewResource builds an empty Resource.
func NewResource[F comparable, T any](cfg Config[F, T]) *Resource[F, T] {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Clone == nil {
		cfg.Clone = func(v T) T { return v }
	}
	if cfg.SameFilters == nil {
		cfg.SameFilters = func(a, b F) bool { return a == b }
	}
	log := cfg.Logger.With().Str("component", "store").Str("resource", cfg.Name).Logger()
	return &Resource[F, T]{
		cfg:     cfg,
		log:     log,
		changes: dispatch.New[Change](log),
		items:   make(map[string]*Entry[T]),
		pending: make(map[string]MutationKind),
	}
}

// OnChange registers h for every state change.
func (r *Resource[F, T]) OnChange(h func(Change)) *dispatch.Subscription {
	return r.changes.Subscribe(h)
}

func (r *Resource[F, T]) notify() {
	r.changes.Dispatch(Change{Resource: r.cfg.Name})
}

func (r *Resource[F, T]) report(err error) {
	if r.cfg.Report != nil {
		r.cfg.Report(err)
	}
}

// Snapshot returns a deep copy of the current state.
func (r *Resource[F, T]) Snapshot() Snapshot[F, T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot[F, T]{
		Items:         make([]Entry[T], 0, len(r.order)),
		Total:         r.total,
		Cursor:        r.cursor,
		Filters:       r.filters,
		Loaded:        r.loaded,
		Loading:       r.loading,
		DetailID:      r.detailID,
		DetailLoading: r.detailLoading,
		Err:           r.err,
	}
	for _, id := range r.order {
		e := r.items[id]
		snap.Items = append(snap.Items, Entry[T]{Value: r.cfg.Clone(e.Value), Pending: r.pending[id]})
	}
	if r.detail != nil {
		d := r.cfg.Clone(*r.detail)
		snap.Detail = &d
	}
	return snap
}

// Get returns the cached entry for id from the list or the detail slot.
func (r *Resource[F, T]) Get(id string) (Entry[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.items[id]; ok {
		return Entry[T]{Value: r.cfg.Clone(e.Value), Pending: r.pending[id]}, true
	}
	if r.detail != nil && r.detailID == id {
		return Entry[T]{Value: r.cfg.Clone(*r.detail), Pending: r.pending[id]}, true
	}
	return Entry[T]{}, false
}

// SetFilters switches the active filter set. A different filter set
// clears the list and resets pagination immediately.
func (r *Resource[F, T]) SetFilters(filters F) {
	r.mu.Lock()
	changed := r.setFiltersLocked(filters)
	r.mu.Unlock()
	if changed {
		r.notify()
	}
}

func (r *Resource[F, T]) setFiltersLocked(filters F) bool {
	if r.cfg.SameFilters(filters, r.filters) {
		return false
	}
	r.filters = filters
	r.order = nil
	r.items = make(map[string]*Entry[T])
	r.total = 0
	r.cursor = 0
	r.loaded = false
	// Responses for the previous filter set are now stale.
	r.listGen++
	r.listDone = nil
	r.loading = false
	return true
}

// FetchList loads a page for filters. With append it continues from the
// cursor once any list request already in flight has settled; otherwise it
// replaces the list in one step when the response arrives. A filter change
// always restarts from offset 0. On failure the list is left untouched.
//
// A response overtaken by a newer replace or a filter change is discarded
// and reported as ErrStaleList.
func (r *Resource[F, T]) FetchList(ctx context.Context, filters F, appendPage bool) error {
	r.mu.Lock()
	if r.setFiltersLocked(filters) {
		appendPage = false
	}
	for appendPage && r.listDone != nil {
		wait := r.listDone
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("list %s: %w", r.cfg.Name, ctx.Err())
		}
		r.mu.Lock()
		if !r.cfg.SameFilters(filters, r.filters) {
			r.mu.Unlock()
			return fmt.Errorf("list %s: %w", r.cfg.Name, ErrStaleList)
		}
	}
	offset := 0
	if appendPage {
		if r.loaded && r.cursor >= r.total {
			r.mu.Unlock()
			return nil
		}
		offset = r.cursor
	} else {
		r.listGen++
	}
	gen := r.listGen
	done := make(chan struct{})
	r.listDone = done
	r.loading = true
	r.mu.Unlock()
	r.notify()

	page, err := r.cfg.List(ctx, filters, r.cfg.PageSize, offset)
	r.report(err)

	r.mu.Lock()
	close(done)
	last := r.listDone == done
	if last {
		r.listDone = nil
		r.loading = false
	}
	if gen != r.listGen {
		r.mu.Unlock()
		if last {
			r.notify()
		}
		r.log.Debug().Int("offset", offset).Bool("append", appendPage).Msg("discarding stale list response")
		if err == nil {
			err = ErrStaleList
		}
		return fmt.Errorf("list %s: %w", r.cfg.Name, err)
	}
	if err != nil {
		r.err = torrentino.Describe(err)
		r.mu.Unlock()
		r.notify()
		return fmt.Errorf("list %s: %w", r.cfg.Name, err)
	}

	if appendPage {
		for _, v := range page.Items {
			id := r.cfg.ID(v)
			if e, ok := r.items[id]; ok {
				if r.pending[id] == "" {
					e.Value = r.cfg.Clone(v)
				}
				continue
			}
			r.order = append(r.order, id)
			r.items[id] = &Entry[T]{Value: r.cfg.Clone(v)}
		}
	} else {
		order := make([]string, 0, len(page.Items))
		items := make(map[string]*Entry[T], len(page.Items))
		for _, v := range page.Items {
			id := r.cfg.ID(v)
			if _, dup := items[id]; dup {
				continue
			}
			// An in-flight mutation owns its entry until it reconciles.
			if old, ok := r.items[id]; ok && r.pending[id] != "" {
				items[id] = old
			} else {
				items[id] = &Entry[T]{Value: r.cfg.Clone(v)}
			}
			order = append(order, id)
		}
		r.order = order
		r.items = items
	}
	r.cursor = offset + len(page.Items)
	r.total = page.Total
	r.loaded = true
	r.err = ""
	r.mu.Unlock()

	r.notify()
	return nil
}

// LoadMore appends the next page for the active filters. It is a no-op
// when everything has been fetched.
func (r *Resource[F, T]) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	filters := r.filters
	done := r.loaded && r.cursor >= r.total && r.listDone == nil
	r.mu.Unlock()
	if done {
		return nil
	}
	return r.FetchList(ctx, filters, true)
}

// Refresh reloads the first page for the active filters. Loaded items stay
// visible until the response replaces them.
func (r *Resource[F, T]) Refresh(ctx context.Context) error {
	r.mu.Lock()
	filters := r.filters
	r.mu.Unlock()
	return r.FetchList(ctx, filters, false)
}

// FetchDetail loads id into the detail slot. When id is already displayed
// the current value stays in place until the new one arrives; otherwise the
// slot is cleared first.
func (r *Resource[F, T]) FetchDetail(ctx context.Context, id string) error {
	if r.cfg.Get == nil {
		return fmt.Errorf("%s: detail not supported", r.cfg.Name)
	}

	r.mu.Lock()
	background := r.detailID == id && r.detail != nil
	if !background {
		r.detailID = id
		r.detail = nil
	}
	r.detailGen++
	gen := r.detailGen
	r.detailLoading = true
	r.mu.Unlock()
	r.notify()

	value, err := r.cfg.Get(ctx, id)
	r.report(err)

	r.mu.Lock()
	if gen != r.detailGen || r.detailID != id {
		r.mu.Unlock()
		return nil
	}
	r.detailLoading = false
	if err != nil {
		r.err = torrentino.Describe(err)
		r.mu.Unlock()
		r.notify()
		return fmt.Errorf("get %s %s: %w", r.cfg.Name, id, err)
	}
	if r.pending[id] == "" {
		r.replaceLocked(id, value)
	}
	r.err = ""
	r.mu.Unlock()

	r.notify()
	return nil
}

// ClearDetail empties the detail slot.
func (r *Resource[F, T]) ClearDetail() {
	r.mu.Lock()
	r.detailGen++
	r.detailID = ""
	r.detail = nil
	r.detailLoading = false
	r.mu.Unlock()
	r.notify()
}

// replaceLocked stores an authoritative value in the list entry and the
// detail slot when they hold id.
func (r *Resource[F, T]) replaceLocked(id string, value T) {
	if e, ok := r.items[id]; ok {
		e.Value = r.cfg.Clone(value)
	}
	if r.detailID == id {
		d := r.cfg.Clone(value)
		r.detail = &d
	}
}

// Create runs create and, on success, prepends the server-assigned entity
// when a list is loaded. Nothing is shown before the server answers.
func (r *Resource[F, T]) Create(ctx context.Context, create func(context.Context) (T, error)) (T, error) {
	value, err := create(ctx)
	r.report(err)
	if err != nil {
		r.setErr(err)
		var zero T
		return zero, fmt.Errorf("create %s: %w", r.cfg.Name, err)
	}

	r.mu.Lock()
	r.upsertLocked(value)
	r.err = ""
	r.mu.Unlock()

	r.notify()
	return value, nil
}

// Upsert stores a complete value received outside a list fetch. Known
// entries are replaced unless a mutation owns them; unknown ones are
// prepended when a list is loaded.
func (r *Resource[F, T]) Upsert(value T) {
	r.mu.Lock()
	r.upsertLocked(value)
	r.mu.Unlock()
	r.notify()
}

func (r *Resource[F, T]) upsertLocked(value T) {
	id := r.cfg.ID(value)
	if r.pending[id] != "" {
		return
	}
	if _, ok := r.items[id]; ok || r.detailID == id {
		r.replaceLocked(id, value)
		return
	}
	if !r.loaded {
		return
	}
	r.order = append([]string{id}, r.order...)
	r.items[id] = &Entry[T]{Value: r.cfg.Clone(value)}
	r.total++
	r.cursor++
}

// Mutation describes a change to one entity.
type Mutation[T any] struct {
	Kind MutationKind
	// Optimistic, when set, is applied before the call and rolled back if
	// the call fails. Only set it for actions that fully succeed or fully
	// fail on the server.
	Optimistic func(T) T
	// Do performs the REST call. A non-nil result is authoritative and
	// replaces the cached value.
	Do func(context.Context) (*T, error)
	// Refetch reloads the entity after success, for actions whose outcome
	// is computed by the server.
	Refetch bool
}

// Mutate applies m to id. At most one mutation per id is in flight; a
// second request fails with ErrMutationPending until the first has
// reconciled. A failed mutation leaves the entry exactly as it was.
func (r *Resource[F, T]) Mutate(ctx context.Context, id string, m Mutation[T]) error {
	r.mu.Lock()
	if kind, busy := r.pending[id]; busy {
		r.mu.Unlock()
		return fmt.Errorf("%s %s %s: %w (%s)", m.Kind, r.cfg.Name, id, ErrMutationPending, kind)
	}
	r.pending[id] = m.Kind

	var prevItem, prevDetail *T
	if m.Optimistic != nil {
		if e, ok := r.items[id]; ok {
			prev := r.cfg.Clone(e.Value)
			prevItem = &prev
			e.Value = m.Optimistic(r.cfg.Clone(e.Value))
		}
		if r.detail != nil && r.detailID == id {
			prev := r.cfg.Clone(*r.detail)
			prevDetail = &prev
			next := m.Optimistic(r.cfg.Clone(*r.detail))
			r.detail = &next
		}
	}
	r.mu.Unlock()
	r.notify()

	result, err := m.Do(ctx)
	r.report(err)
	if err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		if prevItem != nil {
			if e, ok := r.items[id]; ok {
				e.Value = *prevItem
			}
		}
		if prevDetail != nil && r.detailID == id && r.detail != nil {
			r.detail = prevDetail
		}
		r.err = torrentino.Describe(err)
		r.mu.Unlock()
		r.notify()
		r.log.Warn().Err(err).Str("id", id).Str("mutation", string(m.Kind)).Msg("mutation failed")
		return fmt.Errorf("%s %s %s: %w", m.Kind, r.cfg.Name, id, err)
	}

	if result == nil && m.Refetch && r.cfg.Get != nil {
		fresh, gerr := r.cfg.Get(ctx, id)
		r.report(gerr)
		if gerr != nil {
			r.log.Warn().Err(gerr).Str("id", id).Str("mutation", string(m.Kind)).Msg("refetch after mutation failed")
		} else {
			result = &fresh
		}
	}

	r.mu.Lock()
	delete(r.pending, id)
	if result != nil {
		r.replaceLocked(id, *result)
	}
	r.err = ""
	r.mu.Unlock()
	r.notify()
	return nil
}

// Remove runs remove and drops id from the cache only once it succeeds.
func (r *Resource[F, T]) Remove(ctx context.Context, id string, remove func(context.Context) error) error {
	r.mu.Lock()
	if kind, busy := r.pending[id]; busy {
		r.mu.Unlock()
		return fmt.Errorf("delete %s %s: %w (%s)", r.cfg.Name, id, ErrMutationPending, kind)
	}
	r.pending[id] = MutationDelete
	r.mu.Unlock()
	r.notify()

	err := remove(ctx)
	r.report(err)

	r.mu.Lock()
	delete(r.pending, id)
	if err != nil {
		r.err = torrentino.Describe(err)
		r.mu.Unlock()
		r.notify()
		return fmt.Errorf("delete %s %s: %w", r.cfg.Name, id, err)
	}
	r.dropLocked(id)
	r.err = ""
	r.mu.Unlock()
	r.notify()
	return nil
}

// Drop removes id locally, for deletions announced by the server.
func (r *Resource[F, T]) Drop(id string) bool {
	r.mu.Lock()
	changed := r.dropLocked(id)
	r.mu.Unlock()
	if changed {
		r.notify()
	}
	return changed
}

func (r *Resource[F, T]) dropLocked(id string) bool {
	changed := false
	if _, ok := r.items[id]; ok {
		delete(r.items, id)
		for i, existing := range r.order {
			if existing == id {
				r.order = append(r.order[:i:i], r.order[i+1:]...)
				break
			}
		}
		if r.total > 0 {
			r.total--
		}
		// Keep the next page offset aligned with the server's list.
		if r.cursor > 0 {
			r.cursor--
		}
		changed = true
	}
	if r.detailID == id {
		r.detailGen++
		r.detailID = ""
		r.detail = nil
		r.detailLoading = false
		changed = true
	}
	return changed
}

// Patch merges a partial update into id's cached value. Entities that are
// not cached are ignored; Patch reports whether anything changed.
func (r *Resource[F, T]) Patch(id string, merge func(T) T) bool {
	r.mu.Lock()
	changed := false
	if e, ok := r.items[id]; ok {
		e.Value = merge(r.cfg.Clone(e.Value))
		changed = true
	}
	if r.detail != nil && r.detailID == id {
		next := merge(r.cfg.Clone(*r.detail))
		r.detail = &next
		changed = true
	}
	r.mu.Unlock()
	if changed {
		r.notify()
	}
	return changed
}

// Reset drops every cached value, keeping subscriptions.
func (r *Resource[F, T]) Reset() {
	r.mu.Lock()
	var zero F
	r.filters = zero
	r.order = nil
	r.items = make(map[string]*Entry[T])
	r.total = 0
	r.cursor = 0
	r.loaded = false
	r.loading = false
	r.listGen++
	r.listDone = nil
	r.detailGen++
	r.detailID = ""
	r.detail = nil
	r.detailLoading = false
	r.err = ""
	r.mu.Unlock()
	r.notify()
}

func (r *Resource[F, T]) setErr(err error) {
	r.mu.Lock()
	r.err = torrentino.Describe(err)
	r.mu.Unlock()
	r.notify()
}

// Err returns the last error message.
func (r *Resource[F, T]) Err() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}
