package orchestrator

import (
	"context"
	"time"
)

// FetchContext is passed to the caller's FetchFn (distilled spec §3).
type FetchContext interface {
	// ShouldAbort reports whether the result this call eventually produces
	// must be discarded: a newer fetch has started, a mutation is in
	// progress, or this fetch's id was retroactively invalidated.
	ShouldAbort() bool
	// StartTime is the wall-clock time the fetch started.
	StartTime() time.Time
}

// FetchResult is what FetchFn returns: Value is the fetched payload,
// Success distinguishes a true completion from the distilled spec's
// "falsy result" case (§4.B step 6), which updates throttle bookkeeping
// without being treated as a state commit by the caller.
type FetchResult struct {
	Value   interface{}
	Success bool
}

// FetchFn performs the actual network/storage round trip for one fetch.
// params is whatever the caller scheduled (distilled spec: "payload").
type FetchFn func(ctx context.Context, fc FetchContext, params interface{}) (FetchResult, error)

// DynamicRealtimeThrottle computes the minimum interval that must elapse
// before a realtimeUpdate fetch may start, given the duration of the last
// fetch. A nil value disables dynamic realtime throttling (distilled spec
// §4.B).
type DynamicRealtimeThrottle func(lastDurationMs int64) time.Duration

// Config holds per-orchestrator tunables (distilled spec §4.B
// "Configuration", §6 "Factory configuration").
type Config struct {
	DebugName                string
	LowPriorityThrottle       time.Duration
	MediumPriorityThrottle    time.Duration
	DynamicRealtimeThrottleMs DynamicRealtimeThrottle
}

// DefaultConfig returns the distilled spec's documented defaults: 200ms
// low-priority throttle, 10ms medium-priority (highPriority-vs-highPriority)
// throttle, dynamic realtime throttling disabled.
func DefaultConfig() Config {
	return Config{
		LowPriorityThrottle:    200 * time.Millisecond,
		MediumPriorityThrottle: 10 * time.Millisecond,
	}
}

// fetchContext is the concrete FetchContext implementation threaded through
// to FetchFn for a single fetch attempt.
type fetchContext struct {
	o         *Orchestrator
	id        uint64
	startTime time.Time
}

func (fc *fetchContext) StartTime() time.Time { return fc.startTime }

func (fc *fetchContext) ShouldAbort() bool {
	return fc.o.shouldAbort(fc.id)
}
