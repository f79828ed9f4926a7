package store

import (
	"context"

	"github.com/itskum47/fluxquery/metrics"
	"github.com/itskum47/fluxquery/orchestrator"
	"github.com/itskum47/fluxquery/reactive"
)

// DocumentFetchFn performs the actual fetch for a single-document store
// (distilled spec §6, "fetchFn()→Promise<State>").
type DocumentFetchFn[T any] func(ctx context.Context) (T, error)

// DocumentState is the document entity shape from distilled spec §3:
// "{ data, error, status, refetchOnMount }".
type DocumentState[T any] struct {
	Data           T
	HasData        bool
	Err            error
	Status         orchestrator.Status
	RefetchOnMount orchestrator.RefetchOnMount
}

// DocumentConfig adds document-specific fields to the shared Config
// (distilled spec §6, "Document-specific").
type DocumentConfig[T any] struct {
	Config
	FetchFn        DocumentFetchFn[T]
	GetInitialData func() (T, bool)
	OnInvalidate   func(priority orchestrator.FetchType)
}

// Document is a single-entity store over one Orchestrator (distilled spec
// §4.E).
type Document[T any] struct {
	cfg  DocumentConfig[T]
	orch *orchestrator.Orchestrator
	c    *reactive.Container[DocumentState[T]]
}

// NewDocument builds a Document store. If GetInitialData yields a value,
// the entity starts in StatusSuccess with RefetchOnMount set to
// LowPriority, unless DisableInitialDataInvalidation is set.
func NewDocument[T any](cfg DocumentConfig[T]) *Document[T] {
	initial := DocumentState[T]{Status: orchestrator.StatusIdle}
	if cfg.GetInitialData != nil {
		if data, ok := cfg.GetInitialData(); ok {
			initial.Data = data
			initial.HasData = true
			initial.Status = orchestrator.StatusSuccess
			if !cfg.DisableInitialDataInvalidation {
				initial.RefetchOnMount = orchestrator.StrongerRefetch(nil, orchestrator.LowPriority)
			}
		}
	}

	d := &Document[T]{cfg: cfg, c: reactive.NewContainer(initial)}
	fetchFn := orchestrator.FetchFn(d.fetchFn)
	if cfg.DebugName != "" {
		fetchFn = metrics.ObserveFetchFn(cfg.DebugName, fetchFn)
	}
	d.orch = orchestrator.New(fetchFn, cfg.Config.orchestratorConfig())
	return d
}

// State returns the current document state.
func (d *Document[T]) State() DocumentState[T] {
	return d.c.Get()
}

// Subscribe projects the document state through selector with custom
// equality (distilled spec's "selector-based subscription").
func Subscribe[T, S any](d *Document[T], selector func(DocumentState[T]) S, equal func(a, b S) bool, onChange func(S)) func() {
	return reactive.Subscribe(d.c, selector, equal, onChange)
}

// ScheduleFetch delegates to the underlying orchestrator (distilled spec
// §4.E "scheduleFetch(fetchType)").
func (d *Document[T]) ScheduleFetch(fetchType orchestrator.FetchType) orchestrator.ScheduleResult {
	result := d.orch.ScheduleFetch(fetchType, nil)
	if d.cfg.DebugName != "" {
		metrics.ObserveSchedule(d.cfg.DebugName, result)
	}
	return result
}

// AwaitFetch schedules a highPriority fetch and waits for it (or the fetch
// already in flight) to settle, returning the data or a normalized error
// (distilled spec §4.E "awaitFetch").
func (d *Document[T]) AwaitFetch(ctx context.Context) (T, error) {
	wasAborted, err := d.orch.AwaitFetch(ctx, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	if wasAborted {
		var zero T
		return zero, d.cfg.normalize(ErrAborted)
	}
	state := d.c.Get()
	if state.Err != nil {
		return state.Data, state.Err
	}
	if !state.HasData {
		var zero T
		return zero, d.cfg.normalize(ErrNotFound)
	}
	return state.Data, nil
}

// InvalidateData sets RefetchOnMount to priority if it strictly dominates
// the current value, and fires OnInvalidate (distilled spec §4.E
// "invalidateData").
func (d *Document[T]) InvalidateData(priority orchestrator.FetchType) {
	var fired bool
	d.c.Update(func(s DocumentState[T]) DocumentState[T] {
		next := orchestrator.StrongerRefetch(s.RefetchOnMount, priority)
		if next != s.RefetchOnMount {
			fired = true
			s.RefetchOnMount = next
		}
		return s
	})
	if fired && d.cfg.OnInvalidate != nil {
		d.cfg.OnInvalidate(priority)
	}
}

// UpdateState applies an immutable update to Data; a no-op if there is no
// data slot yet (distilled spec §4.E "updateState").
func (d *Document[T]) UpdateState(producer func(T) T) {
	d.c.Update(func(s DocumentState[T]) DocumentState[T] {
		if !s.HasData {
			return s
		}
		s.Data = producer(s.Data)
		return s
	})
}

// Reset restores the document to its idle state and resets the underlying
// orchestrator (distilled spec §4.E "reset").
func (d *Document[T]) Reset() {
	d.orch.Reset()
	d.c.Set(DocumentState[T]{
		Status:         orchestrator.StatusIdle,
		RefetchOnMount: orchestrator.StrongerRefetch(nil, orchestrator.LowPriority),
	})
}

// Snapshot evaluates the current state for a subscriber observation,
// scheduling a mount-time fetch per distilled spec §4.E's useDocument mount
// logic the first time it is called for a given subscriber. ensure may be
// nil; when non-nil it applies the ensure-loaded overlay (§4.H) and is
// expected to be one EnsureLoaded instance per logical subscriber, matching
// mounted.
func (d *Document[T]) Snapshot(opts SnapshotOptions, mounted *bool, ensure *EnsureLoaded) DocumentState[T] {
	if !opts.Disabled && !opts.IsOffScreen && !*mounted {
		*mounted = true
		state := d.c.Get()
		if !opts.LoadFromStateOnly && shouldFetchOnMount(d.cfg.DisableRefetchOnMount, state.RefetchOnMount, state.Status) {
			d.ScheduleFetch(mountPriority(state.RefetchOnMount))
		}
	}

	state := d.c.Get()
	if opts.EnsureIsLoaded && ensure != nil {
		state.Status = ensure.Apply(state.Status)
	}
	state.Status = mapStatus(state.Status, opts)
	return state
}

// IsLoading reports the derived `isLoading = (status == 'loading')` value
// from distilled spec §6's return shape.
func (s DocumentState[T]) IsLoading() bool { return isLoading(s.Status) }

// fetchFn is the orchestrator.FetchFn this Document installs on its
// Orchestrator (distilled spec §4.E "Fetch body").
func (d *Document[T]) fetchFn(ctx context.Context, fc orchestrator.FetchContext, _ interface{}) (orchestrator.FetchResult, error) {
	d.c.Update(func(s DocumentState[T]) DocumentState[T] {
		if s.Status == orchestrator.StatusSuccess {
			s.Status = orchestrator.StatusRefetching
		} else {
			s.Status = orchestrator.StatusLoading
		}
		s.Err = nil
		s.RefetchOnMount = nil
		return s
	})

	data, err := d.cfg.FetchFn(ctx)
	if err != nil {
		normalized := d.cfg.normalize(err)
		d.c.Update(func(s DocumentState[T]) DocumentState[T] {
			s.Status = orchestrator.StatusError
			s.Err = normalized
			return s
		})
		return orchestrator.FetchResult{Success: false}, nil
	}

	if fc.ShouldAbort() {
		return orchestrator.FetchResult{Success: false}, nil
	}

	d.c.Update(func(s DocumentState[T]) DocumentState[T] {
		if s.HasData {
			data = reactive.ReusePrevIfEqual(s.Data, true, data)
		}
		s.Data = data
		s.HasData = true
		s.Status = orchestrator.StatusSuccess
		s.Err = nil
		return s
	})
	return orchestrator.FetchResult{Value: data, Success: true}, nil
}
