package store

import "errors"

// Sentinel error taxonomy (distilled spec §7), mirroring the teacher's
// short file of package-level errors in control_plane/resilience/errors.go.
var (
	// ErrAborted is synthesized by AwaitFetch when the result it waited
	// for was discarded (a newer fetch, a mutation, or a retroactive
	// abort). It is never stored on the entity itself.
	ErrAborted = errors.New("store: fetch aborted")

	// ErrNotFound is returned by AwaitFetch when it completes without a
	// data slot populated for the entity.
	ErrNotFound = errors.New("store: not found")

	// ErrNoFetchItemFn is the fixed message from distilled spec §7 for
	// calling item-orchestrator operations on a ListQuery configured
	// without a FetchItemFn.
	ErrNoFetchItemFn = errors.New("store: no fetchItemFn was provided")
)
