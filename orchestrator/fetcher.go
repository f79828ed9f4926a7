// Package orchestrator implements the per-resource fetch scheduler: a
// priority-aware admission scheduler, abort discipline, dynamic realtime
// throttling, and mutation gating (distilled spec §4.B), plus the
// collection-of-orchestrators multiplexer (§4.C).
//
// The core loop is adapted from the teacher's admission-control pattern in
// control_plane/scheduler/scheduler.go (mode/circuit-breaker checks before
// dispatch, a single mutex guarding race-sensitive fields, structured
// decision logging) generalized from "one scheduler serving many tasks" to
// "one orchestrator serving one resource key with at most one in-flight and
// one queued fetch".
package orchestrator

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// inProgressFetch tracks the currently running fetch attempt.
type inProgressFetch struct {
	startTime time.Time
	onEnd     []func()
	rtuOnEnd  func()
}

// scheduledFetch is the single-slot overwriting mailbox described in
// distilled spec §9: at most one queued fetch, later schedules overwrite
// earlier ones.
type scheduledFetch struct {
	params interface{}
}

// Orchestrator is the fetch scheduler for a single resource key. All
// mutable fields are guarded by mu, matching the teacher's one-mutex-per-
// component convention (Scheduler.mu, CircuitBreaker.mu).
type Orchestrator struct {
	mu sync.Mutex

	config  Config
	fetchFn FetchFn

	inProgress        *inProgressFetch
	scheduled         *scheduledFetch
	realtimeScheduled *time.Timer

	lastFetchStartTime  time.Time
	lastFetchDuration   time.Duration
	lastFetchWasAborted bool

	mutationIsInProgress      bool
	lastMutationID            uint64
	lastFetchID               uint64
	abortFetchesBeforeOrEqual uint64
	onMutationEnd             func()

	onScheduledFetchStarted   func()
	onScheduledRTFetchStarted func()
}

// New creates an Orchestrator for one resource key.
func New(fetchFn FetchFn, config Config) *Orchestrator {
	return &Orchestrator{fetchFn: fetchFn, config: config}
}

// OnScheduledFetchStarted registers the scheduled-fetch-started event
// callback (distilled spec §4.B, §6).
func (o *Orchestrator) OnScheduledFetchStarted(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onScheduledFetchStarted = fn
}

// OnScheduledRTFetchStarted registers the scheduled-rt-fetch-started event
// callback.
func (o *Orchestrator) OnScheduledRTFetchStarted(fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onScheduledRTFetchStarted = fn
}

// ScheduleFetch is the entry point for every fetch request (distilled spec
// §4.B).
func (o *Orchestrator) ScheduleFetch(fetchType FetchType, params interface{}) ScheduleResult {
	now := time.Now()

	o.mu.Lock()
	cold := o.lastFetchStartTime.IsZero()
	dynamicRT := o.config.DynamicRealtimeThrottleMs != nil
	o.mu.Unlock()

	if cold {
		fetchType = HighPriority
	}

	if dynamicRT && fetchType == RealtimeUpdate {
		if o.scheduleRTU(now, params) {
			o.logEvent("rt-scheduled", params)
			return ResultRTScheduled
		}
	}

	o.mu.Lock()
	if o.shouldSkipLocked(fetchType, now) {
		o.mu.Unlock()
		o.logEvent("skipped", params)
		return ResultSkipped
	}

	if o.shouldScheduleLocked(fetchType) {
		o.scheduled = &scheduledFetch{params: params}
		o.mu.Unlock()
		o.logEvent("scheduled", params)
		return ResultScheduled
	}
	o.mu.Unlock()

	o.startFetch(params, now)
	return ResultStarted
}

// shouldSkipLocked implements distilled spec §4.B step 3. Caller must hold
// mu.
func (o *Orchestrator) shouldSkipLocked(fetchType FetchType, now time.Time) bool {
	switch fetchType {
	case HighPriority:
		return o.inProgress != nil && now.Sub(o.inProgress.startTime) < o.config.MediumPriorityThrottle
	case LowPriority:
		if o.inProgress != nil || o.scheduled != nil || o.mutationIsInProgress {
			return true
		}
		return now.Sub(o.lastFetchStartTime) < o.config.LowPriorityThrottle
	case RealtimeUpdate:
		return false
	default:
		return false
	}
}

// shouldScheduleLocked implements distilled spec §4.B step 4. Caller must
// hold mu.
func (o *Orchestrator) shouldScheduleLocked(fetchType FetchType) bool {
	if fetchType == LowPriority {
		return false
	}
	return o.inProgress != nil || o.mutationIsInProgress
}

// startFetch begins a new fetch attempt (distilled spec §4.B "startFetch").
// Precondition: no fetch is currently in progress.
func (o *Orchestrator) startFetch(params interface{}, startTime time.Time) {
	o.mu.Lock()
	o.lastFetchID++
	id := o.lastFetchID
	priorStart := o.lastFetchStartTime
	o.lastFetchStartTime = startTime
	o.lastFetchWasAborted = false
	ip := &inProgressFetch{startTime: startTime}
	o.inProgress = ip
	o.stopRealtimeTimerLocked()
	fetchFn := o.fetchFn
	o.mu.Unlock()

	o.logEvent("fetch_start", params)

	go func() {
		fc := &fetchContext{o: o, id: id, startTime: startTime}
		result, err := fetchFn(context.Background(), fc, params)

		o.mu.Lock()
		if o.inProgress != ip {
			// Cleared externally (StartMutation) while the fetch was
			// in flight: restore the prior start time and leave
			// lastFetchDuration untouched.
			o.lastFetchStartTime = priorStart
			o.mu.Unlock()
			return
		}

		if err == nil && result.Success {
			o.lastFetchDuration = time.Since(startTime)
		}
		o.stopRealtimeTimerLocked()

		onEnd := ip.onEnd
		rtuOnEnd := ip.rtuOnEnd
		o.inProgress = nil
		o.mu.Unlock()

		for _, cb := range onEnd {
			cb()
		}
		if rtuOnEnd != nil {
			rtuOnEnd()
		}
		o.flushScheduled()
	}()
}

// stopRealtimeTimerLocked cancels any pending realtime timer. Caller must
// hold mu.
func (o *Orchestrator) stopRealtimeTimerLocked() {
	if o.realtimeScheduled != nil {
		o.realtimeScheduled.Stop()
		o.realtimeScheduled = nil
	}
}

// flushScheduled starts the queued fetch, if any (distilled spec §4.B
// "flushScheduled").
func (o *Orchestrator) flushScheduled() {
	o.mu.Lock()
	sched := o.scheduled
	o.scheduled = nil
	cb := o.onScheduledFetchStarted
	o.mu.Unlock()

	if sched == nil {
		return
	}
	if cb != nil {
		cb()
	}
	o.startFetch(sched.params, time.Now())
}

// StartMutation marks a mutation as in progress, retroactively aborting
// any in-flight fetch, and returns endMutation (distilled spec §4.B
// "startMutation").
func (o *Orchestrator) StartMutation() (endMutation func() (wasLatest bool)) {
	o.mu.Lock()
	o.mutationIsInProgress = true
	o.abortFetchesBeforeOrEqual = o.lastFetchID
	o.inProgress = nil
	o.lastMutationID++
	mutationID := o.lastMutationID
	o.mu.Unlock()

	return func() bool {
		o.mu.Lock()
		wasLatest := mutationID == o.lastMutationID
		var cb func()
		if wasLatest {
			o.mutationIsInProgress = false
			cb = o.onMutationEnd
			o.onMutationEnd = nil
		}
		o.mu.Unlock()

		if wasLatest {
			if cb != nil {
				cb()
			}
			o.flushScheduled()
		}
		return wasLatest
	}
}

// shouldAbort implements FetchContext.ShouldAbort for fetch id. Querying it
// records the result in lastFetchWasAborted so AwaitFetch can report it
// (distilled spec: "Return the last-observed lastFetchWasAborted").
func (o *Orchestrator) shouldAbort(id uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	aborted := id != o.lastFetchID || o.mutationIsInProgress || id <= o.abortFetchesBeforeOrEqual
	if aborted {
		o.lastFetchWasAborted = true
	}
	return aborted
}

// scheduleRTU implements the dynamic realtime throttle decision tree
// (distilled spec §4.B "Realtime dynamic throttle"). Returns true if the
// realtime update was absorbed into the dynamic-throttle path (coalesced,
// deferred to fetch-end, or deferred to mutation-end, or actually delayed).
func (o *Orchestrator) scheduleRTU(now time.Time, params interface{}) bool {
	o.mu.Lock()
	if o.lastFetchDuration <= 0 || o.lastFetchStartTime.IsZero() || o.config.DynamicRealtimeThrottleMs == nil {
		o.mu.Unlock()
		return false
	}
	if o.realtimeScheduled != nil {
		o.mu.Unlock()
		return true
	}
	if o.inProgress != nil {
		o.inProgress.rtuOnEnd = func() { o.addDelayedRTU(time.Now(), params) }
		o.mu.Unlock()
		return true
	}
	if o.mutationIsInProgress {
		o.onMutationEnd = func() {
			if !o.addDelayedRTU(time.Now(), params) {
				o.fireScheduledRTFetchStarted()
				o.ScheduleFetch(HighPriority, params)
			}
		}
		o.mu.Unlock()
		return true
	}
	o.mu.Unlock()
	return o.addDelayedRTU(now, params)
}

// addDelayedRTU installs (or declines) a delayed realtime fetch timer
// (distilled spec §4.B "addDelayedRTU"). Returns false when the throttle
// window has already elapsed and the caller should fire immediately.
func (o *Orchestrator) addDelayedRTU(now time.Time, params interface{}) bool {
	o.mu.Lock()
	idleSince := now.Sub(o.lastFetchStartTime.Add(o.lastFetchDuration))
	minInterval := o.config.DynamicRealtimeThrottleMs(o.lastFetchDuration.Milliseconds())
	if idleSince >= minInterval {
		o.mu.Unlock()
		return false
	}
	delay := minInterval - idleSince
	o.realtimeScheduled = time.AfterFunc(delay, func() {
		o.mu.Lock()
		o.realtimeScheduled = nil
		o.mu.Unlock()
		o.fireScheduledRTFetchStarted()
		o.startFetch(params, time.Now())
	})
	o.mu.Unlock()
	return true
}

func (o *Orchestrator) fireScheduledRTFetchStarted() {
	o.mu.Lock()
	cb := o.onScheduledRTFetchStarted
	o.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// AwaitFetch schedules a highPriority fetch and blocks until it (or the
// fetch already in flight) completes, returning whether the result was
// aborted (distilled spec §4.B "awaitFetch").
func (o *Orchestrator) AwaitFetch(ctx context.Context, params interface{}) (wasAborted bool, err error) {
	o.ScheduleFetch(HighPriority, params)

	o.mu.Lock()
	ip := o.inProgress
	if ip == nil {
		aborted := o.lastFetchWasAborted
		o.mu.Unlock()
		return aborted, nil
	}
	done := make(chan struct{})
	ip.onEnd = append(ip.onEnd, func() { close(done) })
	o.mu.Unlock()

	select {
	case <-done:
		o.mu.Lock()
		aborted := o.lastFetchWasAborted
		o.mu.Unlock()
		return aborted, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Reset restores all fields to their initial zero state (distilled spec
// §4.B "reset", used for test teardown).
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopRealtimeTimerLocked()
	o.inProgress = nil
	o.scheduled = nil
	o.lastFetchStartTime = time.Time{}
	o.lastFetchDuration = 0
	o.lastFetchWasAborted = false
	o.mutationIsInProgress = false
	o.lastMutationID = 0
	o.lastFetchID = 0
	o.abortFetchesBeforeOrEqual = 0
	o.onMutationEnd = nil
}

// TouchLastFetch records an externally-performed fetch's timing on this
// orchestrator without actually running one, so later throttle decisions
// treat it as the most recent fetch. Used by a list-query store to
// propagate a query fetch's timing onto each returned item's own
// orchestrator (distilled spec §4.G step 4). A no-op while a real fetch is
// in progress, so it never clobbers live bookkeeping.
func (o *Orchestrator) TouchLastFetch(startTime time.Time, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inProgress != nil {
		return
	}
	o.lastFetchStartTime = startTime
	if duration > 0 {
		o.lastFetchDuration = duration
	}
}

// HasPendingFetch reports whether a fetch is queued in the single-slot
// mailbox.
func (o *Orchestrator) HasPendingFetch() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.scheduled != nil
}

// FetchIsInProgress reports whether a fetch is currently running.
func (o *Orchestrator) FetchIsInProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inProgress != nil
}

// MutationIsInProgress reports whether a mutation gate is currently held.
func (o *Orchestrator) MutationIsInProgress() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mutationIsInProgress
}

// logEvent emits a single-line JSON decision log, matching the teacher's
// logDecision (control_plane/scheduler/scheduler.go). Quiet unless
// DebugName is set, since this is a library default rather than a server
// that always wants decision logs on stdout.
func (o *Orchestrator) logEvent(stage string, params interface{}) {
	if o.config.DebugName == "" {
		return
	}
	b, err := json.Marshal(map[string]interface{}{
		"orchestrator": o.config.DebugName,
		"stage":        stage,
	})
	if err != nil {
		return
	}
	log.Println(string(b))
}
