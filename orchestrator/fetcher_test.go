package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func countingFetchFn(delay time.Duration) (FetchFn, *int32) {
	var calls int32
	fn := func(ctx context.Context, fc FetchContext, params interface{}) (FetchResult, error) {
		atomic.AddInt32(&calls, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return FetchResult{Value: params, Success: true}, nil
	}
	return fn, &calls
}

func TestOverfetchingCollapse(t *testing.T) {
	fn, calls := countingFetchFn(200 * time.Millisecond)
	o := New(fn, DefaultConfig())

	for i := 0; i < 4; i++ {
		o.ScheduleFetch(HighPriority, nil)
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)

	require.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestLowPriorityThrottle(t *testing.T) {
	fn, calls := countingFetchFn(0)
	cfg := DefaultConfig()
	cfg.LowPriorityThrottle = 200 * time.Millisecond
	o := New(fn, cfg)

	result := o.ScheduleFetch(LowPriority, nil) // cold -> upgraded to highPriority
	require.Equal(t, ResultStarted, result)
	time.Sleep(10 * time.Millisecond)

	result = o.ScheduleFetch(LowPriority, nil)
	require.Equal(t, ResultSkipped, result)

	time.Sleep(250 * time.Millisecond)
	result = o.ScheduleFetch(LowPriority, nil)
	require.Equal(t, ResultStarted, result)

	require.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestMutationAbortsInFlightFetch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var abortedDuringFetch bool
	var mu sync.Mutex

	fn := func(ctx context.Context, fc FetchContext, params interface{}) (FetchResult, error) {
		close(started)
		<-release
		mu.Lock()
		abortedDuringFetch = fc.ShouldAbort()
		mu.Unlock()
		return FetchResult{Value: params, Success: true}, nil
	}
	o := New(fn, DefaultConfig())

	o.ScheduleFetch(HighPriority, "a")
	<-started

	endMutation := o.StartMutation()
	close(release)

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.True(t, abortedDuringFetch)
	mu.Unlock()

	wasLatest := endMutation()
	require.True(t, wasLatest)
}

func TestMutationFlushesScheduled(t *testing.T) {
	var seenParams []string
	var mu sync.Mutex
	block := make(chan struct{})

	fn := func(ctx context.Context, fc FetchContext, params interface{}) (FetchResult, error) {
		mu.Lock()
		seenParams = append(seenParams, params.(string))
		mu.Unlock()
		<-block
		return FetchResult{Value: params, Success: true}, nil
	}
	o := New(fn, DefaultConfig())

	o.ScheduleFetch(HighPriority, "first")
	time.Sleep(10 * time.Millisecond)

	endMutation := o.StartMutation()
	result := o.ScheduleFetch(HighPriority, "second")
	require.Equal(t, ResultScheduled, result)

	close(block)
	endMutation()
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, seenParams, "second")
}

func TestRealtimeDynamicThrottle(t *testing.T) {
	var calls int32
	fn := func(ctx context.Context, fc FetchContext, params interface{}) (FetchResult, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(60 * time.Millisecond)
		return FetchResult{Value: params, Success: true}, nil
	}
	cfg := DefaultConfig()
	cfg.DynamicRealtimeThrottleMs = func(lastDurationMs int64) time.Duration {
		return 150 * time.Millisecond
	}
	o := New(fn, cfg)

	o.ScheduleFetch(HighPriority, nil) // cold start
	time.Sleep(100 * time.Millisecond) // let the 60ms fetch complete

	o.ScheduleFetch(RealtimeUpdate, nil)
	time.Sleep(10 * time.Millisecond)
	o.ScheduleFetch(RealtimeUpdate, nil)
	time.Sleep(300 * time.Millisecond)

	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAbortMonotonicity(t *testing.T) {
	fn, _ := countingFetchFn(0)
	o := New(fn, DefaultConfig())

	o.ScheduleFetch(HighPriority, nil)
	time.Sleep(5 * time.Millisecond)

	o.mu.Lock()
	lastID := o.lastFetchID
	o.mu.Unlock()

	endMutation := o.StartMutation()
	require.True(t, o.shouldAbort(lastID))
	require.True(t, o.shouldAbort(1))
	endMutation()
}
