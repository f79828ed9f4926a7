package store

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itskum47/fluxquery/orchestrator"
)

type userPayload struct {
	ID string
}

func TestCollectionAwaitFetchAndState(t *testing.T) {
	c := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			p := payload.(userPayload)
			return "name-" + p.ID, nil
		},
	})

	data, err := c.AwaitFetch(context.Background(), userPayload{ID: "1"})
	require.NoError(t, err)
	require.Equal(t, "name-1", data)

	state, ok := c.GetItemState(userPayload{ID: "1"})
	require.True(t, ok)
	require.Equal(t, orchestrator.StatusSuccess, state.Status)
	require.True(t, state.WasLoaded)
}

func TestCollectionTombstonePreservation(t *testing.T) {
	c := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			return "x", nil
		},
	})

	c.AddItemToState(userPayload{ID: "a"}, "A")
	c.AddItemToState(userPayload{ID: "b"}, "B")

	c.DeleteItemState(userPayload{ID: "a"})

	_, ok := c.GetItemState(userPayload{ID: "a"})
	require.False(t, ok)

	m := c.c.Get()
	key := c.cfg.itemKey(userPayload{ID: "a"})
	entry, exists := m[key]
	require.True(t, exists)
	require.Nil(t, entry)

	bState, ok := c.GetItemState(userPayload{ID: "b"})
	require.True(t, ok)
	require.Equal(t, "B", bState.Data)
}

func TestCollectionInvalidateItemDominance(t *testing.T) {
	c := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			return "x", nil
		},
	})
	c.AddItemToState(userPayload{ID: "1"}, "X")

	c.InvalidateItem(userPayload{ID: "1"}, orchestrator.HighPriority)
	state, _ := c.GetItemState(userPayload{ID: "1"})
	require.NotNil(t, state.RefetchOnMount)
	require.Equal(t, orchestrator.HighPriority, *state.RefetchOnMount)

	c.InvalidateItem(userPayload{ID: "1"}, orchestrator.LowPriority)
	state, _ = c.GetItemState(userPayload{ID: "1"})
	require.Equal(t, orchestrator.HighPriority, *state.RefetchOnMount)
}

func TestCollectionItemSnapshotSchedulesOnFirstMountOnly(t *testing.T) {
	var calls int32
	c := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "x", nil
		},
	})

	var mounted bool
	c.ItemSnapshot(userPayload{ID: "1"}, SnapshotOptions{}, &mounted, nil)
	require.True(t, mounted)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)

	c.ItemSnapshot(userPayload{ID: "1"}, SnapshotOptions{}, &mounted, nil)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCollectionItemSnapshotSelectionSemantics(t *testing.T) {
	c := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			return "x", nil
		},
	})

	absentAlwaysMounted := true
	absent := c.ItemSnapshot(userPayload{ID: "missing"}, SnapshotOptions{Disabled: true}, &absentAlwaysMounted, nil)
	require.Equal(t, orchestrator.StatusLoading, absent.Status)

	idleMounted := true
	idle := c.ItemSnapshot(userPayload{ID: "missing"}, SnapshotOptions{Disabled: true, ReturnIdleStatus: true}, &idleMounted, nil)
	require.Equal(t, orchestrator.StatusIdle, idle.Status)

	c.AddItemToState(userPayload{ID: "a"}, "A")
	c.DeleteItemState(userPayload{ID: "a"})
	delMounted := true
	deleted := c.ItemSnapshot(userPayload{ID: "a"}, SnapshotOptions{Disabled: true}, &delMounted, nil)
	require.Equal(t, orchestrator.StatusDeleted, deleted.Status)

	block := make(chan struct{})
	rc := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			<-block
			return "x", nil
		},
	})
	rc.AddItemToState(userPayload{ID: "b"}, "initial")
	rc.ScheduleFetch(userPayload{ID: "b"}, orchestrator.HighPriority)
	require.Eventually(t, func() bool {
		s, _ := rc.GetItemState(userPayload{ID: "b"})
		return s.Status == orchestrator.StatusRefetching
	}, time.Second, 5*time.Millisecond)

	refetchMounted := true
	collapsed := rc.ItemSnapshot(userPayload{ID: "b"}, SnapshotOptions{Disabled: true}, &refetchMounted, nil)
	require.Equal(t, orchestrator.StatusSuccess, collapsed.Status)

	raw := rc.ItemSnapshot(userPayload{ID: "b"}, SnapshotOptions{Disabled: true, ReturnRefetchingStatus: true}, &refetchMounted, nil)
	require.Equal(t, orchestrator.StatusRefetching, raw.Status)

	close(block)
}

func TestCollectionMultiItemSnapshotDedupAndMetadata(t *testing.T) {
	var calls int32
	c := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			atomic.AddInt32(&calls, 1)
			return "x", nil
		},
	})

	sub := NewMultiItemSubscriber()
	queries := []MultiItemQuery{
		{Payload: userPayload{ID: "1"}, Metadata: "one"},
		{Payload: userPayload{ID: "2"}, Metadata: "two"},
	}

	results := c.MultiItemSnapshot(queries, SnapshotOptions{}, sub, nil)
	require.Len(t, results, 2)
	require.Equal(t, "one", results[0].Metadata)
	require.Equal(t, "two", results[1].Metadata)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, 5*time.Millisecond)

	c.MultiItemSnapshot(queries, SnapshotOptions{}, sub, nil)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))

	c.MultiItemSnapshot(queries[:1], SnapshotOptions{}, sub, nil)
	sub.mu.Lock()
	_, stillTracked := sub.ignore[c.cfg.itemKey(userPayload{ID: "2"})]
	sub.mu.Unlock()
	require.False(t, stillTracked)
}

func TestCollectionSubscribeItem(t *testing.T) {
	c := NewCollection(CollectionConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context, payload interface{}) (string, error) {
			return "loaded", nil
		},
	})

	var seen []orchestrator.Status
	unsubscribe := SubscribeItem(c, userPayload{ID: "1"}, func(s ItemState[string]) orchestrator.Status {
		return s.Status
	}, func(a, b orchestrator.Status) bool { return a == b }, func(s orchestrator.Status) {
		seen = append(seen, s)
	})
	defer unsubscribe()

	_, err := c.AwaitFetch(context.Background(), userPayload{ID: "1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(seen) > 0 && seen[len(seen)-1] == orchestrator.StatusSuccess
	}, time.Second, 5*time.Millisecond)
}
