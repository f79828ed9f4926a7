package orchestrator

// Status is the closed vocabulary of entity fetch states (distilled spec
// §3). Go has no literal union types, so it is a string enum like the
// teacher's SchedulerMode (control_plane/scheduler/types.go).
type Status string

const (
	StatusIdle        Status = "idle"
	StatusLoading     Status = "loading"
	StatusRefetching  Status = "refetching"
	StatusLoadingMore Status = "loadingMore"
	StatusError       Status = "error"
	StatusSuccess     Status = "success"
	// StatusDeleted is the pseudo-status a collection/list-query store
	// reports for a tombstoned key; it is never stored on Orchestrator
	// itself.
	StatusDeleted Status = "deleted"
)

// FetchType is the closed, totally-ordered priority vocabulary (distilled
// spec §3): LowPriority < HighPriority < RealtimeUpdate.
type FetchType int

const (
	LowPriority FetchType = iota
	HighPriority
	RealtimeUpdate
)

func (t FetchType) String() string {
	switch t {
	case LowPriority:
		return "lowPriority"
	case HighPriority:
		return "highPriority"
	case RealtimeUpdate:
		return "realtimeUpdate"
	default:
		return "unknown"
	}
}

// StrongerThan reports whether t has strictly higher priority than other,
// per the fetchTypePriority table in distilled spec §4.D.
func (t FetchType) StrongerThan(other FetchType) bool {
	return t > other
}

// ScheduleResult is the closed outcome vocabulary of ScheduleFetch
// (distilled spec §3).
type ScheduleResult string

const (
	ResultStarted      ScheduleResult = "started"
	ResultSkipped      ScheduleResult = "skipped"
	ResultScheduled    ScheduleResult = "scheduled"
	ResultRTScheduled  ScheduleResult = "rt-scheduled"
)

// RefetchOnMount records "schedule a fetch at this priority when the next
// subscriber mounts" (distilled spec §3). A nil pointer means false.
type RefetchOnMount = *FetchType

// refetchPtr is a small constructor helper so call sites read as
// refetchPtr(HighPriority) instead of taking an address of a local.
func refetchPtr(t FetchType) *FetchType {
	return &t
}

// StrongerRefetch returns whichever of current/candidate is non-nil and of
// higher priority, implementing invariant 3 from distilled spec §3:
// refetchOnMount only increases in priority under invalidate*.
func StrongerRefetch(current RefetchOnMount, candidate FetchType) RefetchOnMount {
	if current == nil || candidate.StrongerThan(*current) {
		return refetchPtr(candidate)
	}
	return current
}
