package store

import (
	"context"
	"sync"

	"github.com/itskum47/fluxquery/cachekey"
	"github.com/itskum47/fluxquery/metrics"
	"github.com/itskum47/fluxquery/orchestrator"
	"github.com/itskum47/fluxquery/reactive"
)

// CollectionFetchFn fetches a single item given its payload (distilled
// spec §6, "Collection-specific": "fetchFn(payload)→Promise<ItemState>").
type CollectionFetchFn[T any] func(ctx context.Context, payload interface{}) (T, error)

// ItemState is the collection item entity shape from distilled spec §3:
// "{ data, error, status, payload, refetchOnMount, wasLoaded }". A nil
// *ItemState stored under a key is the tombstone described in the
// GLOSSARY.
type ItemState[T any] struct {
	Data           T
	HasData        bool
	Err            error
	Status         orchestrator.Status
	Payload        interface{}
	RefetchOnMount orchestrator.RefetchOnMount
	WasLoaded      bool
}

// CollectionConfig adds collection-specific fields to the shared Config.
type CollectionConfig[T any] struct {
	Config
	FetchFn              CollectionFetchFn[T]
	GetCollectionItemKey func(payload interface{}) interface{}
	GetInitialData       func() []struct {
		Payload interface{}
		Data    T
	}
	OnInvalidate func(payload interface{}, item ItemState[T], priority orchestrator.FetchType)
}

// items is the raw map held in the reactive container: nil entries are
// tombstones, matching distilled spec §3's "A null slot means deleted".
type items[T any] map[string]*ItemState[T]

// Collection is the keyed-entity store from distilled spec §4.F: one
// Orchestrator per item key, lazily created via orchestrator.Collection.
type Collection[T any] struct {
	cfg   CollectionConfig[T]
	orchs *orchestrator.Collection
	c     *reactive.Container[items[T]]
}

// NewCollection builds a Collection store.
func NewCollection[T any](cfg CollectionConfig[T]) *Collection[T] {
	initial := make(items[T])
	if cfg.GetInitialData != nil {
		for _, entry := range cfg.GetInitialData() {
			key := cfg.itemKey(entry.Payload)
			initial[key] = &ItemState[T]{
				Data:      entry.Data,
				HasData:   true,
				Status:    orchestrator.StatusSuccess,
				Payload:   entry.Payload,
				WasLoaded: true,
			}
		}
	}

	col := &Collection[T]{
		cfg: cfg,
		c:   reactive.NewContainer(initial),
	}
	col.orchs = orchestrator.NewCollection(func(key string) *orchestrator.Orchestrator {
		fetchFn := col.makeFetchFn(key)
		if cfg.DebugName != "" {
			fetchFn = metrics.ObserveFetchFn(cfg.DebugName, fetchFn)
		}
		return orchestrator.New(fetchFn, cfg.Config.orchestratorConfig())
	})
	return col
}

func (cfg CollectionConfig[T]) itemKey(payload interface{}) string {
	if cfg.GetCollectionItemKey != nil {
		payload = cfg.GetCollectionItemKey(payload)
	}
	return cachekey.Key(payload)
}

// GetItemState returns the current state for key, and whether the item is
// present with state (distilled spec §4.F "getItemState"). The bool is false
// both for an absent key and for a tombstoned one; rawItem tells them apart.
func (c *Collection[T]) GetItemState(payload interface{}) (ItemState[T], bool) {
	key := c.cfg.itemKey(payload)
	m := c.c.Get()
	entry, ok := m[key]
	if !ok || entry == nil {
		return ItemState[T]{}, false
	}
	return *entry, true
}

// ScheduleFetch schedules a fetch for the item identified by payload.
func (c *Collection[T]) ScheduleFetch(payload interface{}, fetchType orchestrator.FetchType) orchestrator.ScheduleResult {
	key := c.cfg.itemKey(payload)
	result := c.orchs.Get(key).ScheduleFetch(fetchType, payload)
	if c.cfg.DebugName != "" {
		metrics.ObserveSchedule(c.cfg.DebugName, result)
	}
	return result
}

// AwaitFetch schedules a highPriority fetch for payload and waits for it.
func (c *Collection[T]) AwaitFetch(ctx context.Context, payload interface{}) (T, error) {
	key := c.cfg.itemKey(payload)
	wasAborted, err := c.orchs.Get(key).AwaitFetch(ctx, payload)
	if err != nil {
		var zero T
		return zero, err
	}
	if wasAborted {
		var zero T
		return zero, c.cfg.normalize(ErrAborted)
	}
	state, ok := c.GetItemState(payload)
	if !ok {
		var zero T
		return zero, c.cfg.normalize(ErrNotFound)
	}
	if state.Err != nil {
		return state.Data, state.Err
	}
	return state.Data, nil
}

// StartMutation starts a mutation on every currently known item's
// orchestrator, returning a single endMutation that closes them all
// (distilled spec §4.F "startMutation ... returns an endMutation closing
// all keys' mutations").
func (c *Collection[T]) StartMutation() (endMutation func()) {
	keys := c.orchs.Keys()
	enders := make([]func() bool, 0, len(keys))
	for _, k := range keys {
		o, ok := c.orchs.Peek(k)
		if !ok {
			continue
		}
		enders = append(enders, o.StartMutation())
	}
	return func() {
		for _, end := range enders {
			end()
		}
	}
}

// UpdateItemState applies an immutable update to an existing item; a
// no-op on a missing or tombstoned slot.
func (c *Collection[T]) UpdateItemState(payload interface{}, producer func(T) T) {
	key := c.cfg.itemKey(payload)
	c.c.Update(func(m items[T]) items[T] {
		entry, ok := m[key]
		if !ok || entry == nil {
			return m
		}
		next := copyItems(m)
		updated := *entry
		updated.Data = producer(updated.Data)
		next[key] = &updated
		return next
	})
}

// AddItemToState inserts or replaces an item's data directly, bypassing
// the fetch path (distilled spec §4.F "addItemToState").
func (c *Collection[T]) AddItemToState(payload interface{}, data T) {
	key := c.cfg.itemKey(payload)
	c.c.Update(func(m items[T]) items[T] {
		next := copyItems(m)
		next[key] = &ItemState[T]{
			Data:      data,
			HasData:   true,
			Status:    orchestrator.StatusSuccess,
			Payload:   payload,
			WasLoaded: true,
		}
		return next
	})
}

// DeleteItemState leaves a tombstone at key (distilled spec §4.F
// "deleteItemState").
func (c *Collection[T]) DeleteItemState(payload interface{}) {
	key := c.cfg.itemKey(payload)
	c.c.Update(func(m items[T]) items[T] {
		next := copyItems(m)
		next[key] = nil
		return next
	})
}

// InvalidateItem strengthens RefetchOnMount on the item matching payload
// and, per distilled spec §4.F's event bus, fires OnInvalidate when the
// priority actually dominates the existing RefetchOnMount (a no-op
// otherwise, per the §7 "invalidation priority dominance is silent" rule).
func (c *Collection[T]) InvalidateItem(payload interface{}, priority orchestrator.FetchType) {
	key := c.cfg.itemKey(payload)

	var fired ItemState[T]
	var ok bool
	c.c.Update(func(m items[T]) items[T] {
		entry, exists := m[key]
		if !exists || entry == nil {
			return m
		}
		next := copyItems(m)
		updated := *entry
		rom := orchestrator.StrongerRefetch(updated.RefetchOnMount, priority)
		if rom != updated.RefetchOnMount {
			updated.RefetchOnMount = rom
			fired = updated
			ok = true
		}
		next[key] = &updated
		return next
	})
	if ok && c.cfg.OnInvalidate != nil {
		c.cfg.OnInvalidate(payload, fired, priority)
	}
}

// rawItem returns the map entry for payload's key and whether the key is
// present at all, distinguishing "never seen" (absent) from "explicitly
// deleted" (present, nil — the tombstone from distilled spec §3) from
// "present with data".
func (c *Collection[T]) rawItem(payload interface{}) (entry *ItemState[T], existsKey bool) {
	key := c.cfg.itemKey(payload)
	m := c.c.Get()
	entry, existsKey = m[key]
	return entry, existsKey
}

// selectionState computes the entity a snapshot accessor returns for
// payload, applying distilled spec §4.F's "Selection semantics for
// useMultipleItems" (equally applicable to a single-item snapshot): a
// tombstoned slot reports StatusDeleted and short-circuits the rest of the
// mapping, an absent slot reports idle/loading per ReturnIdleStatus, and a
// present slot goes through the shared refetching/idle collapsing rules
// plus the ensure-loaded overlay and OmitPayload.
func (c *Collection[T]) selectionState(payload interface{}, opts SnapshotOptions, ensure *EnsureLoaded) ItemState[T] {
	entry, existsKey := c.rawItem(payload)
	if existsKey && entry == nil {
		return ItemState[T]{Status: orchestrator.StatusDeleted, Payload: payload}
	}

	var state ItemState[T]
	if entry != nil {
		state = *entry
	} else {
		state = ItemState[T]{Payload: payload, Status: orchestrator.StatusIdle}
	}

	if opts.EnsureIsLoaded && ensure != nil {
		state.Status = ensure.Apply(state.Status)
	}
	state.Status = mapStatus(state.Status, opts)
	if opts.OmitPayload {
		state.Payload = nil
	}
	return state
}

// ItemSnapshot is the useItem-equivalent subscriber accessor (distilled
// spec §4.F "useItem"): on first observation for a given mounted handle it
// schedules a mount-time fetch per the shared shouldFetchOnMount formula
// (unless Disabled/IsOffScreen/LoadFromStateOnly), then returns the
// current selection state (tombstone/idle/refetching collapsing, §4.F).
func (c *Collection[T]) ItemSnapshot(payload interface{}, opts SnapshotOptions, mounted *bool, ensure *EnsureLoaded) ItemState[T] {
	if !opts.Disabled && !opts.IsOffScreen && !*mounted {
		*mounted = true
		state, ok := c.GetItemState(payload)
		if !ok {
			state.Status = orchestrator.StatusIdle
		}
		if !opts.LoadFromStateOnly && shouldFetchOnMount(opts.DisableRefetchOnMount, state.RefetchOnMount, state.Status) {
			c.ScheduleFetch(payload, mountPriority(state.RefetchOnMount))
		}
	}
	return c.selectionState(payload, opts, ensure)
}

// MultiItemQuery is one entry in the payload list passed to
// MultiItemSnapshot: Payload identifies the item, Metadata is an opaque
// caller value echoed back on the matching MultiItemResult (distilled
// spec §6 "queryMetadata (collection multi-query: opaque user payload
// returned in result)").
type MultiItemQuery struct {
	Payload  interface{}
	Metadata interface{}
}

// MultiItemResult pairs a selected item's state with the Metadata from
// its MultiItemQuery.
type MultiItemResult[T any] struct {
	ItemState[T]
	Metadata interface{}
}

// MultiItemSubscriber tracks, across repeated MultiItemSnapshot calls for
// one logical subscriber, which item keys have already had a mount-time
// fetch scheduled this lifetime (distilled spec §4.F: "keeps a set
// ignoreItemsInRefetchOnMount of already-scheduled-for-this-lifetime keys
// to avoid duplicates; keys no longer in the query are removed from the
// set").
type MultiItemSubscriber struct {
	mu     sync.Mutex
	ignore map[string]bool
}

// NewMultiItemSubscriber builds an empty MultiItemSubscriber handle.
func NewMultiItemSubscriber() *MultiItemSubscriber {
	return &MultiItemSubscriber{ignore: make(map[string]bool)}
}

// MultiItemSnapshot is the useMultipleItems-equivalent subscriber
// accessor (distilled spec §4.F). For every queried payload not already
// in sub's ignore set: if DisableRefetchOnMount is set, a fetch is
// scheduled only when shouldFetch (`!wasLoaded || refetchOnMount set`);
// otherwise a fetch is always scheduled. A key whose fetch was scheduled is
// then added to the ignore set so it is not rescheduled on a later call (a
// key skipped for !shouldFetch is not added), and keys no longer present in
// queries are dropped from the set. Per distilled spec
// §9's open question 2, every skip in this loop is a `continue`, never an
// early `return`, so one non-matching or already-scheduled entry never
// short-circuits the rest of the batch.
func (c *Collection[T]) MultiItemSnapshot(queries []MultiItemQuery, opts SnapshotOptions, sub *MultiItemSubscriber, ensure *EnsureLoaded) []MultiItemResult[T] {
	if !opts.Disabled && !opts.IsOffScreen && !opts.LoadFromStateOnly {
		sub.mu.Lock()
		current := make(map[string]bool, len(queries))
		for _, q := range queries {
			key := c.cfg.itemKey(q.Payload)
			current[key] = true
			if sub.ignore[key] {
				continue
			}
			state, ok := c.GetItemState(q.Payload)
			wasLoaded := ok && state.WasLoaded
			shouldFetch := !wasLoaded || state.RefetchOnMount != nil
			if opts.DisableRefetchOnMount && !shouldFetch {
				continue
			}
			c.ScheduleFetch(q.Payload, mountPriority(state.RefetchOnMount))
			sub.ignore[key] = true
		}
		for key := range sub.ignore {
			if !current[key] {
				delete(sub.ignore, key)
			}
		}
		sub.mu.Unlock()
	}

	out := make([]MultiItemResult[T], 0, len(queries))
	for _, q := range queries {
		out = append(out, MultiItemResult[T]{
			ItemState: c.selectionState(q.Payload, opts, ensure),
			Metadata:  q.Metadata,
		})
	}
	return out
}

// SubscribeItem projects a single item's state through selector with
// custom equality, the §4.F analogue of store.Subscribe for a collection
// entry. A tombstone is reported as deleted and an absent key as idle, as in
// selectionState, but none of selectionState's status collapsing is applied
// (idle stays idle, refetching stays refetching), so callers see the raw
// underlying transitions; apply SnapshotOptions-style
// collapsing inside selector if a caller wants the collapsed view.
func SubscribeItem[T, S any](c *Collection[T], payload interface{}, selector func(ItemState[T]) S, equal func(a, b S) bool, onChange func(S)) func() {
	key := c.cfg.itemKey(payload)
	return reactive.Subscribe(c.c, func(m items[T]) S {
		entry, exists := m[key]
		var state ItemState[T]
		switch {
		case exists && entry == nil:
			state = ItemState[T]{Status: orchestrator.StatusDeleted, Payload: payload}
		case exists:
			state = *entry
		default:
			state = ItemState[T]{Payload: payload, Status: orchestrator.StatusIdle}
		}
		return selector(state)
	}, equal, onChange)
}

func (c *Collection[T]) makeFetchFn(key string) orchestrator.FetchFn {
	return func(ctx context.Context, fc orchestrator.FetchContext, params interface{}) (orchestrator.FetchResult, error) {
		payload := params
		c.c.Update(func(m items[T]) items[T] {
			next := copyItems(m)
			entry := next[key]
			wasLoaded := entry != nil && entry.WasLoaded
			status := orchestrator.StatusLoading
			if wasLoaded {
				status = orchestrator.StatusRefetching
			}
			updated := ItemState[T]{Status: status, Payload: payload, WasLoaded: wasLoaded}
			if entry != nil {
				updated.Data = entry.Data
				updated.HasData = entry.HasData
			}
			next[key] = &updated
			return next
		})

		data, err := c.cfg.FetchFn(ctx, payload)
		if err != nil {
			normalized := c.cfg.normalize(err)
			c.c.Update(func(m items[T]) items[T] {
				next := copyItems(m)
				entry := next[key]
				if entry == nil {
					entry = &ItemState[T]{Payload: payload}
				}
				updated := *entry
				updated.Status = orchestrator.StatusError
				updated.Err = normalized
				next[key] = &updated
				return next
			})
			return orchestrator.FetchResult{Success: false}, nil
		}

		if fc.ShouldAbort() {
			return orchestrator.FetchResult{Success: false}, nil
		}

		c.c.Update(func(m items[T]) items[T] {
			next := copyItems(m)
			entry := next[key]
			if entry != nil && entry.HasData {
				data = reactive.ReusePrevIfEqual(entry.Data, true, data)
			}
			next[key] = &ItemState[T]{
				Data:      data,
				HasData:   true,
				Status:    orchestrator.StatusSuccess,
				Payload:   payload,
				WasLoaded: true,
			}
			return next
		})
		return orchestrator.FetchResult{Value: data, Success: true}, nil
	}
}

func copyItems[T any](m items[T]) items[T] {
	next := make(items[T], len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}
