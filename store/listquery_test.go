package store

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itskum47/fluxquery/orchestrator"
)

type taskQuery struct {
	GroupID string
}

type taskItem struct {
	ID       string
	ParentID string
}

func makeItems(groupID string, n, offset int) []ListItem[taskItem] {
	out := make([]ListItem[taskItem], 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("%s-%d", groupID, offset+i)
		out = append(out, ListItem[taskItem]{
			ItemPayload: taskItem{ID: id, ParentID: groupID},
			Data:        taskItem{ID: id, ParentID: groupID},
		})
	}
	return out
}

func TestListQueryLoadMoreGrowsPage(t *testing.T) {
	var lastSize int32
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config: DefaultConfig(),
		// Deliberately mismatched from the LoadMore call's own size below,
		// so this test actually exercises a caller-chosen increment rather
		// than happening to line up with DefaultQuerySize.
		DefaultQuerySize: 50,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			atomic.StoreInt32(&lastSize, int32(size))
			return makeItems(payload.GroupID, size, 0), true, nil
		},
	})

	q := taskQuery{GroupID: "g1"}
	lq.scheduleQuerySized(q, orchestrator.HighPriority, 10)
	require.Eventually(t, func() bool {
		s, ok := lq.GetQueryState(q)
		return ok && s.Status == orchestrator.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	state, _ := lq.GetQueryState(q)
	require.Len(t, state.ItemKeys, 10)

	lq.LoadMore(q, 10)
	require.Eventually(t, func() bool {
		s, ok := lq.GetQueryState(q)
		return ok && s.Status == orchestrator.StatusSuccess && len(s.ItemKeys) == 20
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, int32(20), atomic.LoadInt32(&lastSize))

	// A second LoadMore with a different caller-chosen size grows by that
	// amount, not by DefaultQuerySize (50) and not by the previous
	// LoadMore's size (10).
	lq.LoadMore(q, 5)
	require.Eventually(t, func() bool {
		s, ok := lq.GetQueryState(q)
		return ok && s.Status == orchestrator.StatusSuccess && len(s.ItemKeys) == 25
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(25), atomic.LoadInt32(&lastSize))
}

func TestListQueryCrossEntitySync(t *testing.T) {
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config:           DefaultConfig(),
		DefaultQuerySize: 10,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			return makeItems(payload.GroupID, size, 0), false, nil
		},
		SyncItemAndQuery: func(itemPayload interface{}, query taskQuery) bool {
			it := itemPayload.(taskItem)
			return it.ParentID == query.GroupID
		},
	})

	q := taskQuery{GroupID: "g1"}
	lq.ScheduleQuery(q, orchestrator.HighPriority)
	require.Eventually(t, func() bool {
		s, ok := lq.GetQueryState(q)
		return ok && s.Status == orchestrator.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	lq.InvalidateItem(taskItem{ID: "g1-0", ParentID: "g1"}, orchestrator.HighPriority)

	state, ok := lq.GetQueryState(q)
	require.True(t, ok)
	require.NotNil(t, state.RefetchOnMount)
	require.Equal(t, orchestrator.HighPriority, *state.RefetchOnMount)
}

func TestListQueryTombstoneInQuery(t *testing.T) {
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config:           DefaultConfig(),
		DefaultQuerySize: 3,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			return makeItems(payload.GroupID, 3, 0), false, nil
		},
	})

	q := taskQuery{GroupID: "g1"}
	lq.ScheduleQuery(q, orchestrator.HighPriority)
	require.Eventually(t, func() bool {
		s, ok := lq.GetQueryState(q)
		return ok && s.Status == orchestrator.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	state, _ := lq.GetQueryState(q)
	require.Len(t, state.ItemKeys, 3)

	lq.DeleteItemState(taskItem{ID: "g1-1", ParentID: "g1"})

	state, _ = lq.GetQueryState(q)
	require.Len(t, state.ItemKeys, 2)

	m := lq.items.Get()
	entry, exists := m[lq.itemKey(taskItem{ID: "g1-1", ParentID: "g1"})]
	require.True(t, exists)
	require.Nil(t, entry)
}

func TestListQuerySnapshotSchedulesOnMountWithLoadSize(t *testing.T) {
	var lastSize int32
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config:           DefaultConfig(),
		DefaultQuerySize: 10,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			atomic.StoreInt32(&lastSize, int32(size))
			return makeItems(payload.GroupID, size, 0), false, nil
		},
	})

	q := taskQuery{GroupID: "g1"}
	var mounted bool
	result := lq.ListQuerySnapshot(q, QuerySnapshotOptions[taskItem]{LoadSize: 5}, &mounted, nil)
	require.True(t, mounted)
	require.Equal(t, orchestrator.StatusLoading, result.Query.Status)

	require.Eventually(t, func() bool {
		s, ok := lq.GetQueryState(q)
		return ok && s.Status == orchestrator.StatusSuccess
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(5), atomic.LoadInt32(&lastSize))

	result = lq.ListQuerySnapshot(q, QuerySnapshotOptions[taskItem]{}, &mounted, nil)
	require.Len(t, result.Items, 5)
}

func TestListQuerySnapshotItemSelector(t *testing.T) {
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config:           DefaultConfig(),
		DefaultQuerySize: 2,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			return makeItems(payload.GroupID, size, 0), false, nil
		},
	})

	q := taskQuery{GroupID: "g1"}
	lq.ScheduleQuery(q, orchestrator.HighPriority)
	require.Eventually(t, func() bool {
		s, ok := lq.GetQueryState(q)
		return ok && s.Status == orchestrator.StatusSuccess
	}, time.Second, 5*time.Millisecond)

	mounted := true
	result := lq.ListQuerySnapshot(q, QuerySnapshotOptions[taskItem]{
		SnapshotOptions: SnapshotOptions{Disabled: true},
		ItemSelector: func(s ItemState[taskItem]) interface{} {
			return s.Data.ID
		},
	}, &mounted, nil)

	require.Len(t, result.Items, 2)
	for _, it := range result.Items {
		_, ok := it.(string)
		require.True(t, ok)
	}
}

func TestListQuerySubscribeQuery(t *testing.T) {
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config:           DefaultConfig(),
		DefaultQuerySize: 2,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			return makeItems(payload.GroupID, size, 0), false, nil
		},
	})

	q := taskQuery{GroupID: "g1"}
	var seen []orchestrator.Status
	unsubscribe := SubscribeQuery(lq, q, func(s QueryState[taskQuery]) orchestrator.Status {
		return s.Status
	}, func(a, b orchestrator.Status) bool { return a == b }, func(s orchestrator.Status) {
		seen = append(seen, s)
	})
	defer unsubscribe()

	lq.ScheduleQuery(q, orchestrator.HighPriority)
	require.Eventually(t, func() bool {
		return len(seen) > 0 && seen[len(seen)-1] == orchestrator.StatusSuccess
	}, time.Second, 5*time.Millisecond)
}

func TestListQueryItemQuerySnapshotRequiresFetchItemFn(t *testing.T) {
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config:           DefaultConfig(),
		DefaultQuerySize: 2,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			return makeItems(payload.GroupID, size, 0), false, nil
		},
	})

	var mounted bool
	_, err := lq.ItemQuerySnapshot(taskItem{ID: "g1-0", ParentID: "g1"}, SnapshotOptions{}, &mounted, nil)
	require.ErrorIs(t, err, ErrNoFetchItemFn)
}

func TestListQueryItemQuerySnapshotSchedulesOnMount(t *testing.T) {
	var calls int32
	lq := NewListQuery(ListQueryConfig[taskQuery, taskItem]{
		Config:           DefaultConfig(),
		DefaultQuerySize: 2,
		FetchListFn: func(ctx context.Context, payload taskQuery, size int) ([]ListItem[taskItem], bool, error) {
			return makeItems(payload.GroupID, size, 0), false, nil
		},
		FetchItemFn: func(ctx context.Context, payload interface{}) (taskItem, error) {
			atomic.AddInt32(&calls, 1)
			it := payload.(taskItem)
			return it, nil
		},
	})

	var mounted bool
	state, err := lq.ItemQuerySnapshot(taskItem{ID: "g1-0", ParentID: "g1"}, SnapshotOptions{}, &mounted, nil)
	require.NoError(t, err)
	require.Equal(t, orchestrator.StatusLoading, state.Status)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, 5*time.Millisecond)

	_, err = lq.ItemQuerySnapshot(taskItem{ID: "g1-0", ParentID: "g1"}, SnapshotOptions{}, &mounted, nil)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
