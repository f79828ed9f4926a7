package cachekey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyPrimitives(t *testing.T) {
	require.Equal(t, "hello", Key("hello"))
	require.Equal(t, "42", Key(42))
	require.Equal(t, "null", Key(nil))
}

func TestKeyUndefinedPruning(t *testing.T) {
	type payload struct {
		A int     `json:"a"`
		B *string `json:"b"`
	}
	withNilB := Key(payload{A: 1, B: nil})
	noB := Key(map[string]interface{}{"a": 1})
	require.Equal(t, noB, withNilB)
}

func TestKeyNestedOrdering(t *testing.T) {
	payload := map[string]interface{}{
		"a": 1,
		"b": map[string]interface{}{
			"d": 4,
			"c": 3,
		},
	}
	require.Equal(t, `[{"a":1},{"b":[{"c":3},{"d":4}]}]`, Key(payload))
}

func TestKeyDeterminism(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": 2}
	b := map[string]interface{}{"y": 2, "x": 1}
	require.Equal(t, Key(a), Key(b))
}

func TestKeyArrayOrderPreserved(t *testing.T) {
	a := []interface{}{1, 2, 3}
	b := []interface{}{3, 2, 1}
	require.NotEqual(t, Key(a), Key(b))
}

func TestKeyStructTags(t *testing.T) {
	type Payload struct {
		UserID string `json:"userId"`
		Page   int    `json:"page"`
	}
	require.Equal(t, `[{"page":2},{"userId":"u1"}]`, Key(Payload{UserID: "u1", Page: 2}))
}
