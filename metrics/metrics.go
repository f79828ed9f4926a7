// Package metrics exposes Prometheus instrumentation for the orchestrator
// and store layers, grounded on the teacher's
// control_plane/observability/metrics.go promauto usage (gauge/counter
// vectors by label, a duration histogram).
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/itskum47/fluxquery/orchestrator"
)

var (
	// ScheduleDecisions tracks ScheduleFetch outcomes by resource and
	// result, mirroring the teacher's SchedulerDecisions counter.
	ScheduleDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxquery_schedule_decisions_total",
		Help: "Total number of orchestrator ScheduleFetch outcomes",
	}, []string{"resource", "result"})

	// InFlightFetches tracks the number of currently running fetches per
	// resource (0 or 1, since at most one fetch is ever in flight per
	// orchestrator — invariant 4 from distilled spec §3).
	InFlightFetches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fluxquery_in_flight_fetches",
		Help: "1 while a fetch is in progress for the resource, else 0",
	}, []string{"resource"})

	// AbortedFetches counts fetches whose result was discarded via
	// ShouldAbort (distilled spec invariant 5/6).
	AbortedFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxquery_aborted_fetches_total",
		Help: "Total number of fetch results discarded because ShouldAbort was true",
	}, []string{"resource"})

	// FetchDuration tracks successful fetch latency.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fluxquery_fetch_duration_seconds",
		Help:    "Duration of successful fetches",
		Buckets: prometheus.DefBuckets,
	}, []string{"resource"})
)

// ObserveFetchFn wraps fn so it reports InFlightFetches/AbortedFetches/
// FetchDuration for resource, without the orchestrator package itself
// taking a Prometheus dependency — a caller opts in per store by wrapping
// its FetchFn with ObserveFetchFn before passing it to orchestrator.New.
func ObserveFetchFn(resource string, fn orchestrator.FetchFn) orchestrator.FetchFn {
	inFlight := InFlightFetches.WithLabelValues(resource)
	aborted := AbortedFetches.WithLabelValues(resource)
	duration := FetchDuration.WithLabelValues(resource)

	return func(ctx context.Context, fc orchestrator.FetchContext, params interface{}) (orchestrator.FetchResult, error) {
		inFlight.Set(1)
		defer inFlight.Set(0)

		start := time.Now()
		result, err := fn(ctx, fc, params)
		if fc.ShouldAbort() {
			aborted.Inc()
			return result, err
		}
		if err == nil && result.Success {
			duration.Observe(time.Since(start).Seconds())
		}
		return result, err
	}
}

// ObserveSchedule records a ScheduleFetch outcome. Stores call this next
// to their own ScheduleFetch/orchestrator.Collection.Get(key).ScheduleFetch
// call sites, since the result type is only known at the call site.
func ObserveSchedule(resource string, result orchestrator.ScheduleResult) {
	ScheduleDecisions.WithLabelValues(resource, string(result)).Inc()
}
