package store

import (
	"sync"

	"github.com/itskum47/fluxquery/orchestrator"
)

// EnsureLoaded is the small latch from distilled spec §4.H: forces a
// highPriority fetch the first time it observes a subscriber and reports
// status=loading until the underlying status settles to success or error.
// Go has no mount/unmount lifecycle, so "on mount" becomes "on first call
// to Apply for a given EnsureLoaded handle" — callers construct one
// EnsureLoaded per logical subscriber.
type EnsureLoaded struct {
	mu       sync.Mutex
	latched  bool
	resolved bool
	schedule func(orchestrator.FetchType)
}

// NewEnsureLoaded builds a latch that calls schedule(HighPriority) on the
// first Apply call, if the status it observes is not yet success or error.
// Later Apply calls never schedule.
func NewEnsureLoaded(schedule func(orchestrator.FetchType)) *EnsureLoaded {
	return &EnsureLoaded{schedule: schedule}
}

// Apply overlays the ensure-loaded behavior onto status: it forces a
// highPriority schedule on first observation (unless status is already
// terminal) and reports StatusLoading
// until status first reaches a terminal value. Once resolved, the latch
// stays resolved permanently and status passes through unchanged on every
// subsequent call, even if a later background refetch moves status back to
// a non-terminal value (distilled spec §4.H: the caller already saw the
// resolved result, so it must never be re-collapsed to loading).
func (e *EnsureLoaded) Apply(status orchestrator.Status) orchestrator.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.latched {
		e.latched = true
		if status != orchestrator.StatusSuccess && status != orchestrator.StatusError {
			e.schedule(orchestrator.HighPriority)
		}
	}
	if !e.resolved && (status == orchestrator.StatusSuccess || status == orchestrator.StatusError) {
		e.resolved = true
	}
	if e.resolved {
		return status
	}
	return orchestrator.StatusLoading
}

// Reset un-latches, so the next Apply call behaves as a fresh mount.
func (e *EnsureLoaded) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.latched = false
	e.resolved = false
}
