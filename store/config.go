package store

import (
	"time"

	"github.com/itskum47/fluxquery/orchestrator"
)

// Config is the shared factory configuration for every store
// (distilled spec §6, "Factory configuration (all stores)").
type Config struct {
	DebugName string

	// ErrorNormalizer converts a raw fetch error into the caller's error
	// type. A nil value passes errors through unchanged.
	ErrorNormalizer func(error) error

	LowPriorityThrottle       time.Duration
	MediumPriorityThrottle    time.Duration
	DynamicRealtimeThrottleMs orchestrator.DynamicRealtimeThrottle

	DisableRefetchOnMount          bool
	DisableRefetchOnWindowFocus    bool
	DisableInitialDataInvalidation bool
}

// DefaultConfig mirrors orchestrator.DefaultConfig's throttle defaults.
func DefaultConfig() Config {
	return Config{
		LowPriorityThrottle:    200 * time.Millisecond,
		MediumPriorityThrottle: 10 * time.Millisecond,
	}
}

func (c Config) orchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		DebugName:                 c.DebugName,
		LowPriorityThrottle:       c.LowPriorityThrottle,
		MediumPriorityThrottle:    c.MediumPriorityThrottle,
		DynamicRealtimeThrottleMs: c.DynamicRealtimeThrottleMs,
	}
}

func (c Config) normalize(err error) error {
	if err == nil {
		return nil
	}
	if c.ErrorNormalizer == nil {
		return err
	}
	return c.ErrorNormalizer(err)
}

// SnapshotOptions is the recognized subset of distilled spec §6's
// "Subscriber-hook options" that apply uniformly across stores. Store-
// specific options (ItemSelector, LoadSize, MultiItemQuery.Metadata, ...)
// live next to the store type that uses them (store/collection.go,
// store/listquery.go).
type SnapshotOptions struct {
	Disabled               bool
	IsOffScreen            bool
	ReturnIdleStatus       bool
	ReturnRefetchingStatus bool
	DisableRefetchOnMount  bool
	EnsureIsLoaded         bool

	// OmitPayload zeroes the returned entity's Payload field, matching
	// distilled spec §6's "omitPayload" option.
	OmitPayload bool

	// LoadFromStateOnly skips the mount-time ScheduleFetch entirely and
	// only returns the current state, matching §6's "loadFromStateOnly
	// (items only)".
	LoadFromStateOnly bool
}

// isLoading mirrors the distilled spec's derived `isLoading = (status ==
// 'loading')`.
func isLoading(s orchestrator.Status) bool {
	return s == orchestrator.StatusLoading
}

// mapStatus applies the two status-collapsing rules shared by every
// store's snapshot accessor (distilled spec §6's returnIdleStatus /
// returnRefetchingStatus options, and §4.F's "Selection semantics for
// useMultipleItems"): refetching collapses to success unless the caller
// asked to see it, and idle collapses to loading unless the caller asked
// to see it.
func mapStatus(status orchestrator.Status, opts SnapshotOptions) orchestrator.Status {
	if !opts.ReturnRefetchingStatus && status == orchestrator.StatusRefetching {
		status = orchestrator.StatusSuccess
	}
	if !opts.ReturnIdleStatus && status == orchestrator.StatusIdle {
		status = orchestrator.StatusLoading
	}
	return status
}

// shouldFetchOnMount implements the shared "on mount, should a fetch be
// scheduled" formula used by every store's snapshot accessor (distilled
// spec §4.E useDocument mount logic, generalized): always true unless the
// caller disabled refetch-on-mount, in which case only a set
// refetchOnMount or a never-fetched (idle) entity triggers one.
func shouldFetchOnMount(disableRefetchOnMount bool, refetchOnMount orchestrator.RefetchOnMount, status orchestrator.Status) bool {
	return !disableRefetchOnMount || refetchOnMount != nil || status == orchestrator.StatusIdle
}

// mountPriority picks the priority a mount-triggered fetch runs at:
// refetchOnMount's priority if set, else lowPriority.
func mountPriority(refetchOnMount orchestrator.RefetchOnMount) orchestrator.FetchType {
	if refetchOnMount != nil {
		return *refetchOnMount
	}
	return orchestrator.LowPriority
}
