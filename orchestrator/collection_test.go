package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollectionLazyCreate(t *testing.T) {
	fn := func(ctx context.Context, fc FetchContext, params interface{}) (FetchResult, error) {
		return FetchResult{Value: params, Success: true}, nil
	}
	c := NewCollection(func(key string) *Orchestrator {
		return New(fn, DefaultConfig())
	})

	a := c.Get("a")
	b := c.Get("a")
	require.Same(t, a, b)

	other := c.Get("b")
	require.NotSame(t, a, other)

	keys := c.Keys()
	require.ElementsMatch(t, []string{"a", "b"}, keys)

	peeked, ok := c.Peek("a")
	require.True(t, ok)
	require.Same(t, a, peeked)

	_, ok = c.Peek("missing")
	require.False(t, ok)

	c.Reset()
	_, ok = c.Peek("a")
	require.False(t, ok)

	fresh := c.Get("a")
	require.NotSame(t, a, fresh)
}
