// Package invalidate supplies the external triggers that fan out
// low-priority invalidation across a store, standing in for the DOM
// focus/visibility hook the distilled spec assumes (SPEC_FULL.md §1) and
// a cross-process bus for multi-instance deployments.
package invalidate

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/itskum47/fluxquery/orchestrator"
)

// FocusTrigger models distilled spec §4.I: "on window focus/visibility,
// invalidate everything at low priority". Since a Go backend has no DOM,
// the caller wires Fire to whatever "the user is back" signal exists in
// their environment (an HTTP endpoint hit, a client reconnect, a
// time.Ticker). Fan-out is rate limited with x/time/rate.Sometimes,
// grounded on the teacher's token-bucket throttling in
// control_plane/scheduler/limiter.go, so a burst of reconnects only
// invalidates once per window.
type FocusTrigger struct {
	sometimes         rate.Sometimes
	invalidateQueries func(priority orchestrator.FetchType)
	invalidateItems   func(priority orchestrator.FetchType)
}

// FocusTriggerConfig wires the callbacks Fire invokes.
type FocusTriggerConfig struct {
	// InvalidateQueries is called with LowPriority on every non-throttled
	// Fire; required.
	InvalidateQueries func(priority orchestrator.FetchType)
	// InvalidateItems, if set, is also called with LowPriority (distilled
	// spec: "and, if enabled, invalidateItem").
	InvalidateItems func(priority orchestrator.FetchType)
	// MinInterval throttles repeated fires; zero means every call fires.
	MinInterval time.Duration
}

// NewFocusTrigger builds a FocusTrigger from cfg.
func NewFocusTrigger(cfg FocusTriggerConfig) *FocusTrigger {
	f := &FocusTrigger{
		invalidateQueries: cfg.InvalidateQueries,
		invalidateItems:   cfg.InvalidateItems,
	}
	if cfg.MinInterval > 0 {
		f.sometimes.Interval = cfg.MinInterval
	} else {
		// A zero rate.Sometimes runs only once; Every: 1 runs every call.
		f.sometimes.Every = 1
	}
	return f
}

// Fire is the focus/visibility signal. It is safe to call concurrently.
func (f *FocusTrigger) Fire(ctx context.Context) {
	f.sometimes.Do(func() {
		if f.invalidateQueries != nil {
			f.invalidateQueries(orchestrator.LowPriority)
		}
		if f.invalidateItems != nil {
			f.invalidateItems(orchestrator.LowPriority)
		}
	})
}
