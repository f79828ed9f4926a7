// Package reactive provides the small observable-state primitives the
// stores need: a batched, selector-subscribable value container and a
// deep-equal based reference-stabilization helper.
package reactive

import "github.com/google/go-cmp/cmp"

// DeepEqual reports whether a and b are structurally equal, the way the
// distilled spec's "deep compare" is defined.
func DeepEqual(a, b interface{}) bool {
	return cmp.Equal(a, b)
}

// ReusePrevIfEqual implements §4.J: if there was no previous value, current
// is returned as-is; if prev deep-equals current, prev is returned so
// subscribers observing by reference see a stable identity; otherwise
// current is returned.
//
// hadPrev distinguishes "no prior value" from "prior value happened to be
// the zero value" — unlike JS's `prev === undefined`, a Go zero value
// (empty string, nil slice, zero struct) is frequently a legitimate fetched
// result, not an absence marker.
func ReusePrevIfEqual[T any](prev T, hadPrev bool, current T) T {
	if !hadPrev {
		return current
	}
	if DeepEqual(prev, current) {
		return prev
	}
	return current
}
