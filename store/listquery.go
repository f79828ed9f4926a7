package store

import (
	"context"
	"time"

	"github.com/itskum47/fluxquery/cachekey"
	"github.com/itskum47/fluxquery/metrics"
	"github.com/itskum47/fluxquery/orchestrator"
	"github.com/itskum47/fluxquery/reactive"
)

// ListItem is one entry returned by a ListFetchFn: the raw item payload
// (routed through cachekey like any other resource key) plus its fetched
// data (distilled spec §6: "fetchListFn(payload,size)→Promise<{items:
// [{itemPayload,data}], hasMore}>").
type ListItem[T any] struct {
	ItemPayload interface{}
	Data        T
}

// ListFetchFn fetches a page of a named query.
type ListFetchFn[Q, T any] func(ctx context.Context, payload Q, size int) (items []ListItem[T], hasMore bool, err error)

// ItemFetchFn fetches a single pool item directly, independent of any
// query (distilled spec §6: "fetchItemFn?(payload)→Promise<ItemState>").
type ItemFetchFn[T any] func(ctx context.Context, payload interface{}) (T, error)

// QueryState is the named-query entity shape from distilled spec §3.
type QueryState[Q any] struct {
	Payload        Q
	Status         orchestrator.Status
	Err            error
	HasMore        bool
	WasLoaded      bool
	RefetchOnMount orchestrator.RefetchOnMount
	ItemKeys       []string
}

// ItemQueryState tracks a pool item's own direct-fetch status, independent
// of its data (held separately in the items pool) — distilled spec §3
// "itemQueries: key → { payload, status, error, wasLoaded, refetchOnMount }".
type ItemQueryState struct {
	Payload        interface{}
	Status         orchestrator.Status
	Err            error
	WasLoaded      bool
	RefetchOnMount orchestrator.RefetchOnMount
}

// AddItemOptions configures where a directly-added item is spliced into
// existing queries (distilled spec §4.G "addItemToState").
type AddItemOptions[Q any] struct {
	Queries []Q
	// Position computes the insertion index given a query's current item
	// keys. A nil Position appends at the end.
	Position func(existingItemKeys []string) int
}

// ListQueryConfig adds list-query-specific fields to the shared Config.
type ListQueryConfig[Q, T any] struct {
	Config
	FetchListFn      ListFetchFn[Q, T]
	FetchItemFn      ItemFetchFn[T]
	DefaultQuerySize int
	SyncQueries      func(a, b Q) bool
	SyncItemAndQuery func(itemPayload interface{}, query Q) bool
}

type queryFetchMode string

const (
	modeLoad     queryFetchMode = "load"
	modeLoadMore queryFetchMode = "loadMore"
)

type queryFetchParams[Q any] struct {
	mode    queryFetchMode
	payload Q
	size    int
}

// ListQuery is the named-queries-plus-entity-pool store from distilled
// spec §4.G: three co-existing maps (items, queries, itemQueries), each
// routed through its own orchestrator.Collection.
type ListQuery[Q, T any] struct {
	cfg  Config
	lcfg ListQueryConfig[Q, T]

	queryOrchs *orchestrator.Collection
	itemOrchs  *orchestrator.Collection

	items       *reactive.Container[map[string]*ItemState[T]]
	queries     *reactive.Container[map[string]*QueryState[Q]]
	itemQueries *reactive.Container[map[string]*ItemQueryState]
}

// NewListQuery builds a ListQuery store.
func NewListQuery[Q, T any](cfg ListQueryConfig[Q, T]) *ListQuery[Q, T] {
	if cfg.DefaultQuerySize <= 0 {
		cfg.DefaultQuerySize = 50
	}

	lq := &ListQuery[Q, T]{
		cfg:         cfg.Config,
		lcfg:        cfg,
		items:       reactive.NewContainer(make(map[string]*ItemState[T])),
		queries:     reactive.NewContainer(make(map[string]*QueryState[Q])),
		itemQueries: reactive.NewContainer(make(map[string]*ItemQueryState)),
	}
	lq.queryOrchs = orchestrator.NewCollection(func(key string) *orchestrator.Orchestrator {
		fetchFn := lq.makeQueryFetchFn(key)
		if cfg.DebugName != "" {
			fetchFn = metrics.ObserveFetchFn(cfg.DebugName+":query", fetchFn)
		}
		return orchestrator.New(fetchFn, cfg.Config.orchestratorConfig())
	})
	if cfg.FetchItemFn != nil {
		lq.itemOrchs = orchestrator.NewCollection(func(key string) *orchestrator.Orchestrator {
			fetchFn := lq.makeItemFetchFn(key)
			if cfg.DebugName != "" {
				fetchFn = metrics.ObserveFetchFn(cfg.DebugName+":item", fetchFn)
			}
			return orchestrator.New(fetchFn, cfg.Config.orchestratorConfig())
		})
	}
	return lq
}

func (lq *ListQuery[Q, T]) itemKey(payload interface{}) string { return cachekey.Key(payload) }
func (lq *ListQuery[Q, T]) queryKey(payload Q) string          { return cachekey.Key(payload) }

// GetQueryState returns the current state of a named query.
func (lq *ListQuery[Q, T]) GetQueryState(payload Q) (QueryState[Q], bool) {
	m := lq.queries.Get()
	e, ok := m[lq.queryKey(payload)]
	if !ok || e == nil {
		return QueryState[Q]{}, false
	}
	return *e, true
}

// GetItemState returns the current pool state for an item key.
func (lq *ListQuery[Q, T]) GetItemState(payload interface{}) (ItemState[T], bool) {
	m := lq.items.Get()
	e, ok := m[lq.itemKey(payload)]
	if !ok || e == nil {
		return ItemState[T]{}, false
	}
	return *e, true
}

// GetItemQueryState returns the current direct-fetch state for an item.
func (lq *ListQuery[Q, T]) GetItemQueryState(payload interface{}) (ItemQueryState, bool) {
	m := lq.itemQueries.Get()
	e, ok := m[lq.itemKey(payload)]
	if !ok || e == nil {
		return ItemQueryState{}, false
	}
	return *e, true
}

// QueryItems returns the ordered item states for a query's current page.
func (lq *ListQuery[Q, T]) QueryItems(payload Q) []ItemState[T] {
	qstate, ok := lq.GetQueryState(payload)
	if !ok {
		return nil
	}
	m := lq.items.Get()
	out := make([]ItemState[T], 0, len(qstate.ItemKeys))
	for _, ik := range qstate.ItemKeys {
		if e := m[ik]; e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// ScheduleQuery schedules a first-page (or refetch) fetch for payload at
// DefaultQuerySize.
func (lq *ListQuery[Q, T]) ScheduleQuery(payload Q, fetchType orchestrator.FetchType) orchestrator.ScheduleResult {
	return lq.scheduleQuerySized(payload, fetchType, lq.lcfg.DefaultQuerySize)
}

// scheduleQuerySized is ScheduleQuery with an explicit page size, backing
// both ScheduleQuery and ListQuerySnapshot's distilled spec §6 "loadSize"
// option. size<=0 falls back to DefaultQuerySize.
func (lq *ListQuery[Q, T]) scheduleQuerySized(payload Q, fetchType orchestrator.FetchType, size int) orchestrator.ScheduleResult {
	if size <= 0 {
		size = lq.lcfg.DefaultQuerySize
	}
	key := lq.queryKey(payload)
	result := lq.queryOrchs.Get(key).ScheduleFetch(fetchType, queryFetchParams[Q]{
		mode:    modeLoad,
		payload: payload,
		size:    size,
	})
	if lq.cfg.DebugName != "" {
		metrics.ObserveSchedule(lq.cfg.DebugName+":query", result)
	}
	return result
}

// LoadMore grows a query's page by size (distilled spec §4.G "Load-more",
// §8 "loadMore(size=10)"), skipped when the query is absent, exhausted, or
// not currently successful. size<=0 falls back to DefaultQuerySize.
func (lq *ListQuery[Q, T]) LoadMore(payload Q, size int) orchestrator.ScheduleResult {
	state, ok := lq.GetQueryState(payload)
	if !ok || !state.HasMore || state.Status != orchestrator.StatusSuccess {
		return orchestrator.ResultSkipped
	}
	if size <= 0 {
		size = lq.lcfg.DefaultQuerySize
	}
	key := lq.queryKey(payload)
	result := lq.queryOrchs.Get(key).ScheduleFetch(orchestrator.HighPriority, queryFetchParams[Q]{
		mode:    modeLoadMore,
		payload: payload,
		size:    size,
	})
	if lq.cfg.DebugName != "" {
		metrics.ObserveSchedule(lq.cfg.DebugName+":query", result)
	}
	return result
}

// ScheduleItemFetch schedules a direct item fetch via FetchItemFn.
func (lq *ListQuery[Q, T]) ScheduleItemFetch(payload interface{}, fetchType orchestrator.FetchType) (orchestrator.ScheduleResult, error) {
	if lq.itemOrchs == nil {
		return "", ErrNoFetchItemFn
	}
	key := lq.itemKey(payload)
	result := lq.itemOrchs.Get(key).ScheduleFetch(fetchType, payload)
	if lq.cfg.DebugName != "" {
		metrics.ObserveSchedule(lq.cfg.DebugName+":item", result)
	}
	return result, nil
}

// QuerySnapshotOptions adds list-query-specific subscriber options to the
// shared SnapshotOptions (distilled spec §6): LoadSize overrides the page
// size a mount-time fetch requests (falls back to DefaultQuerySize when
// <=0), and ItemSelector, if set, projects each returned ItemState through
// a caller function instead of handing back the raw state (§6's
// "itemSelector (list-query)").
type QuerySnapshotOptions[T any] struct {
	SnapshotOptions
	LoadSize     int
	ItemSelector func(ItemState[T]) interface{}
}

// ListQuerySnapshotResult pairs a query's own status/metadata with its
// current page of items, each optionally projected through
// QuerySnapshotOptions.ItemSelector.
type ListQuerySnapshotResult[Q, T any] struct {
	Query QueryState[Q]
	Items []interface{}
}

// ListQuerySnapshot is the useListQuery-equivalent subscriber accessor
// (distilled spec §4.G/§6): on first observation for a given mounted
// handle it schedules a mount-time fetch per the shared shouldFetchOnMount
// formula at LoadSize (or DefaultQuerySize), then returns the query's
// current status (collapsed per ReturnIdleStatus/ReturnRefetchingStatus
// and the ensure-loaded overlay) alongside its page of items.
func (lq *ListQuery[Q, T]) ListQuerySnapshot(payload Q, opts QuerySnapshotOptions[T], mounted *bool, ensure *EnsureLoaded) ListQuerySnapshotResult[Q, T] {
	if !opts.Disabled && !opts.IsOffScreen && !*mounted {
		*mounted = true
		state, ok := lq.GetQueryState(payload)
		if !ok {
			state.Status = orchestrator.StatusIdle
		}
		if !opts.LoadFromStateOnly && shouldFetchOnMount(opts.DisableRefetchOnMount, state.RefetchOnMount, state.Status) {
			lq.scheduleQuerySized(payload, mountPriority(state.RefetchOnMount), opts.LoadSize)
		}
	}

	state, ok := lq.GetQueryState(payload)
	if !ok {
		state = QueryState[Q]{Payload: payload, Status: orchestrator.StatusIdle}
	}
	if opts.EnsureIsLoaded && ensure != nil {
		state.Status = ensure.Apply(state.Status)
	}
	state.Status = mapStatus(state.Status, opts.SnapshotOptions)

	rawItems := lq.QueryItems(payload)
	selected := make([]interface{}, len(rawItems))
	for i, it := range rawItems {
		if opts.OmitPayload {
			it.Payload = nil
		}
		if opts.ItemSelector != nil {
			selected[i] = opts.ItemSelector(it)
		} else {
			selected[i] = it
		}
	}
	return ListQuerySnapshotResult[Q, T]{Query: state, Items: selected}
}

// SubscribeQuery projects a named query's state through selector with
// custom equality, the §4.G analogue of store.Subscribe for a list-query
// entry.
func SubscribeQuery[Q, T, S any](lq *ListQuery[Q, T], payload Q, selector func(QueryState[Q]) S, equal func(a, b S) bool, onChange func(S)) func() {
	key := lq.queryKey(payload)
	return reactive.Subscribe(lq.queries, func(m map[string]*QueryState[Q]) S {
		e := m[key]
		var state QueryState[Q]
		if e != nil {
			state = *e
		}
		return selector(state)
	}, equal, onChange)
}

// itemSelectionState applies §4.F's tombstone/absent/collapsing mapping
// (shared with store.Collection) to a pool item tracked by this
// ListQuery, used by ItemQuerySnapshot.
func (lq *ListQuery[Q, T]) itemSelectionState(payload interface{}, opts SnapshotOptions, ensure *EnsureLoaded) ItemState[T] {
	key := lq.itemKey(payload)
	m := lq.items.Get()
	entry, existsKey := m[key]
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

// ItemQuerySnapshot is the useItem-equivalent subscriber accessor for a
// list-query's direct-fetch item pool (distilled spec §4.G, requires
// FetchItemFn): on first observation it schedules a mount-time direct
// item fetch per the shared shouldFetchOnMount formula, then returns the
// pool item's current selection state. Fails with ErrNoFetchItemFn if the
// store was not configured with FetchItemFn (§7).
func (lq *ListQuery[Q, T]) ItemQuerySnapshot(payload interface{}, opts SnapshotOptions, mounted *bool, ensure *EnsureLoaded) (ItemState[T], error) {
	if lq.itemOrchs == nil {
		return ItemState[T]{}, ErrNoFetchItemFn
	}
	if !opts.Disabled && !opts.IsOffScreen && !*mounted {
		*mounted = true
		iq, ok := lq.GetItemQueryState(payload)
		status := orchestrator.StatusIdle
		if ok {
			status = iq.Status
		}
		if !opts.LoadFromStateOnly && shouldFetchOnMount(opts.DisableRefetchOnMount, iq.RefetchOnMount, status) {
			lq.ScheduleItemFetch(payload, mountPriority(iq.RefetchOnMount))
		}
	}
	return lq.itemSelectionState(payload, opts, ensure), nil
}

func (lq *ListQuery[Q, T]) makeQueryFetchFn(key string) orchestrator.FetchFn {
	return func(ctx context.Context, fc orchestrator.FetchContext, params interface{}) (orchestrator.FetchResult, error) {
		p := params.(queryFetchParams[Q])

		existing := lq.queries.Get()[key]
		currentSize := 0
		wasLoaded := false
		if existing != nil {
			currentSize = len(existing.ItemKeys)
			wasLoaded = existing.WasLoaded
		}

		var querySize int
		switch p.mode {
		case modeLoadMore:
			querySize = currentSize + p.size
		default:
			if !wasLoaded {
				querySize = p.size
			} else {
				querySize = currentSize
				if p.size > querySize {
					querySize = p.size
				}
			}
		}

		status := orchestrator.StatusLoading
		switch {
		case p.mode == modeLoadMore:
			status = orchestrator.StatusLoadingMore
		case wasLoaded:
			status = orchestrator.StatusRefetching
		}

		lq.updateQuery(key, func(e QueryState[Q]) QueryState[Q] {
			e.Payload = p.payload
			e.Status = status
			e.Err = nil
			e.RefetchOnMount = nil
			return e
		})

		fetchStart := fc.StartTime()
		result, hasMore, err := lq.lcfg.FetchListFn(ctx, p.payload, querySize)
		if err != nil {
			normalized := lq.cfg.normalize(err)
			lq.updateQuery(key, func(e QueryState[Q]) QueryState[Q] {
				e.Status = orchestrator.StatusError
				e.Err = normalized
				return e
			})
			return orchestrator.FetchResult{Success: false}, nil
		}

		if fc.ShouldAbort() {
			return orchestrator.FetchResult{Success: false}, nil
		}

		itemKeys := make([]string, 0, len(result))
		lq.items.Update(func(m map[string]*ItemState[T]) map[string]*ItemState[T] {
			next := copyMap(m)
			for _, it := range result {
				ik := lq.itemKey(it.ItemPayload)
				itemKeys = append(itemKeys, ik)
				data := it.Data
				if e := next[ik]; e != nil && e.HasData {
					data = reactive.ReusePrevIfEqual(e.Data, true, data)
				}
				next[ik] = &ItemState[T]{
					Data:      data,
					HasData:   true,
					Status:    orchestrator.StatusSuccess,
					Payload:   it.ItemPayload,
					WasLoaded: true,
				}
			}
			return next
		})

		lq.itemQueries.Update(func(m map[string]*ItemQueryState) map[string]*ItemQueryState {
			next := copyMap(m)
			for i, it := range result {
				ik := itemKeys[i]
				e := next[ik]
				if e == nil || e.Status == orchestrator.StatusError || e.Status == orchestrator.StatusIdle {
					next[ik] = &ItemQueryState{
						Payload:   it.ItemPayload,
						Status:    orchestrator.StatusSuccess,
						WasLoaded: true,
					}
				}
			}
			return next
		})

		lq.updateQuery(key, func(e QueryState[Q]) QueryState[Q] {
			e.ItemKeys = itemKeys
			e.HasMore = hasMore
			e.Status = orchestrator.StatusSuccess
			e.WasLoaded = true
			return e
		})

		if lq.itemOrchs != nil {
			duration := time.Since(fetchStart)
			for _, ik := range itemKeys {
				lq.itemOrchs.Get(ik).TouchLastFetch(fetchStart, duration)
			}
		}

		return orchestrator.FetchResult{Value: result, Success: true}, nil
	}
}

func (lq *ListQuery[Q, T]) makeItemFetchFn(key string) orchestrator.FetchFn {
	return func(ctx context.Context, fc orchestrator.FetchContext, params interface{}) (orchestrator.FetchResult, error) {
		payload := params
		lq.itemQueries.Update(func(m map[string]*ItemQueryState) map[string]*ItemQueryState {
			next := copyMap(m)
			e := next[key]
			wasLoaded := e != nil && e.WasLoaded
			status := orchestrator.StatusLoading
			if wasLoaded {
				status = orchestrator.StatusRefetching
			}
			next[key] = &ItemQueryState{Payload: payload, Status: status, WasLoaded: wasLoaded}
			return next
		})

		data, err := lq.lcfg.FetchItemFn(ctx, payload)
		if err != nil {
			normalized := lq.cfg.normalize(err)
			lq.itemQueries.Update(func(m map[string]*ItemQueryState) map[string]*ItemQueryState {
				next := copyMap(m)
				e := next[key]
				if e == nil {
					e = &ItemQueryState{Payload: payload}
				}
				updated := *e
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

		lq.items.Update(func(m map[string]*ItemState[T]) map[string]*ItemState[T] {
			next := copyMap(m)
			if e := next[key]; e != nil && e.HasData {
				data = reactive.ReusePrevIfEqual(e.Data, true, data)
			}
			next[key] = &ItemState[T]{Data: data, HasData: true, Status: orchestrator.StatusSuccess, Payload: payload, WasLoaded: true}
			return next
		})
		lq.itemQueries.Update(func(m map[string]*ItemQueryState) map[string]*ItemQueryState {
			next := copyMap(m)
			next[key] = &ItemQueryState{Payload: payload, Status: orchestrator.StatusSuccess, WasLoaded: true}
			return next
		})
		return orchestrator.FetchResult{Value: data, Success: true}, nil
	}
}

// updateQuery applies mutate to the query's current (or zero) state.
func (lq *ListQuery[Q, T]) updateQuery(key string, mutate func(QueryState[Q]) QueryState[Q]) {
	lq.queries.Update(func(m map[string]*QueryState[Q]) map[string]*QueryState[Q] {
		next := copyMap(m)
		var current QueryState[Q]
		if e := next[key]; e != nil {
			current = *e
		}
		updated := mutate(current)
		next[key] = &updated
		return next
	})
}

// InvalidateQuery strengthens RefetchOnMount on the named query, fanning
// out to synced items/queries one level deep (distilled spec §4.G
// "Cross-entity invalidation sync").
func (lq *ListQuery[Q, T]) InvalidateQuery(payload Q, priority orchestrator.FetchType) {
	lq.invalidateQuery(payload, priority, false)
}

// InvalidateQueriesMatching invalidates every known query whose payload
// satisfies match — the mechanism behind the focus invalidator's
// "invalidate everything" call (distilled spec §4.I).
func (lq *ListQuery[Q, T]) InvalidateQueriesMatching(match func(Q) bool, priority orchestrator.FetchType) {
	for _, q := range lq.queries.Get() {
		if q != nil && match(q.Payload) {
			lq.invalidateQuery(q.Payload, priority, false)
		}
	}
}

func (lq *ListQuery[Q, T]) invalidateQuery(payload Q, priority orchestrator.FetchType, ignoreInvalidationSync bool) {
	key := lq.queryKey(payload)
	var dominated bool
	lq.queries.Update(func(m map[string]*QueryState[Q]) map[string]*QueryState[Q] {
		e, ok := m[key]
		if !ok || e == nil {
			return m
		}
		next := copyMap(m)
		updated := *e
		rom := orchestrator.StrongerRefetch(updated.RefetchOnMount, priority)
		if rom != updated.RefetchOnMount {
			updated.RefetchOnMount = rom
			dominated = true
		}
		next[key] = &updated
		return next
	})
	if !dominated || ignoreInvalidationSync {
		return
	}

	if lq.lcfg.SyncItemAndQuery != nil {
		for _, it := range lq.items.Get() {
			if it != nil && lq.lcfg.SyncItemAndQuery(it.Payload, payload) {
				lq.invalidateItem(it.Payload, priority, true)
			}
		}
	}
	if lq.lcfg.SyncQueries != nil {
		for _, q := range lq.queries.Get() {
			if q == nil || lq.queryKey(q.Payload) == key {
				continue
			}
			if lq.lcfg.SyncQueries(payload, q.Payload) {
				lq.invalidateQuery(q.Payload, priority, true)
			}
		}
	}
}

// InvalidateItem strengthens RefetchOnMount on an item's direct-fetch
// state (if any) and fans out to every query synced to it via
// SyncItemAndQuery (distilled spec §4.G "Symmetric for invalidateItem").
func (lq *ListQuery[Q, T]) InvalidateItem(payload interface{}, priority orchestrator.FetchType) {
	lq.invalidateItem(payload, priority, false)
}

// InvalidateItemsMatching invalidates every known pool item whose payload
// satisfies match.
func (lq *ListQuery[Q, T]) InvalidateItemsMatching(match func(interface{}) bool, priority orchestrator.FetchType) {
	for _, it := range lq.items.Get() {
		if it != nil && match(it.Payload) {
			lq.invalidateItem(it.Payload, priority, false)
		}
	}
}

func (lq *ListQuery[Q, T]) invalidateItem(payload interface{}, priority orchestrator.FetchType, ignoreInvalidationSync bool) {
	key := lq.itemKey(payload)
	lq.itemQueries.Update(func(m map[string]*ItemQueryState) map[string]*ItemQueryState {
		e, ok := m[key]
		if !ok || e == nil {
			return m
		}
		next := copyMap(m)
		updated := *e
		updated.RefetchOnMount = orchestrator.StrongerRefetch(updated.RefetchOnMount, priority)
		next[key] = &updated
		return next
	})

	if ignoreInvalidationSync || lq.lcfg.SyncItemAndQuery == nil {
		return
	}
	for _, q := range lq.queries.Get() {
		if q != nil && lq.lcfg.SyncItemAndQuery(payload, q.Payload) {
			lq.invalidateQuery(q.Payload, priority, true)
		}
	}
}

// AddItemToState writes payload/data directly into the pool, bypassing the
// fetch path, and optionally splices the new item key into named queries
// (distilled spec §4.G "Add/delete").
func (lq *ListQuery[Q, T]) AddItemToState(payload interface{}, data T, opts AddItemOptions[Q]) {
	key := lq.itemKey(payload)
	lq.items.Update(func(m map[string]*ItemState[T]) map[string]*ItemState[T] {
		next := copyMap(m)
		next[key] = &ItemState[T]{Data: data, HasData: true, Status: orchestrator.StatusSuccess, Payload: payload, WasLoaded: true}
		return next
	})

	if len(opts.Queries) == 0 {
		return
	}
	lq.queries.Update(func(m map[string]*QueryState[Q]) map[string]*QueryState[Q] {
		next := copyMap(m)
		for _, qp := range opts.Queries {
			qk := lq.queryKey(qp)
			e := next[qk]
			if e == nil {
				continue
			}
			updated := *e
			idx := len(updated.ItemKeys)
			if opts.Position != nil {
				idx = opts.Position(updated.ItemKeys)
			}
			if idx < 0 {
				idx = 0
			}
			if idx > len(updated.ItemKeys) {
				idx = len(updated.ItemKeys)
			}
			keys := make([]string, 0, len(updated.ItemKeys)+1)
			keys = append(keys, updated.ItemKeys[:idx]...)
			keys = append(keys, key)
			keys = append(keys, updated.ItemKeys[idx:]...)
			updated.ItemKeys = keys
			next[qk] = &updated
		}
		return next
	})
}

// DeleteItemState tombstones an item in the pool and removes it from
// every query's ItemKeys (distilled spec §4.G "deleteItemState",
// invariant 2 from §3).
func (lq *ListQuery[Q, T]) DeleteItemState(payload interface{}) {
	key := lq.itemKey(payload)
	lq.items.Update(func(m map[string]*ItemState[T]) map[string]*ItemState[T] {
		next := copyMap(m)
		next[key] = nil
		return next
	})
	lq.itemQueries.Update(func(m map[string]*ItemQueryState) map[string]*ItemQueryState {
		next := copyMap(m)
		next[key] = nil
		return next
	})
	lq.queries.Update(func(m map[string]*QueryState[Q]) map[string]*QueryState[Q] {
		next := copyMap(m)
		for qk, e := range m {
			if e == nil {
				continue
			}
			filtered := make([]string, 0, len(e.ItemKeys))
			changed := false
			for _, ik := range e.ItemKeys {
				if ik == key {
					changed = true
					continue
				}
				filtered = append(filtered, ik)
			}
			if changed {
				updated := *e
				updated.ItemKeys = filtered
				next[qk] = &updated
			}
		}
		return next
	})
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	next := make(map[K]V, len(m)+1)
	for k, v := range m {
		next[k] = v
	}
	return next
}
