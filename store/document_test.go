package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/itskum47/fluxquery/orchestrator"
)

func TestDocumentAwaitFetchSuccess(t *testing.T) {
	d := NewDocument(DocumentConfig[string]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context) (string, error) {
			return "hello", nil
		},
	})

	data, err := d.AwaitFetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, "hello", data)
	require.Equal(t, orchestrator.StatusSuccess, d.State().Status)
}

func TestDocumentReferenceStability(t *testing.T) {
	type payload struct{ N int }
	calls := 0
	d := NewDocument(DocumentConfig[*payload]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context) (*payload, error) {
			calls++
			return &payload{N: 1}, nil
		},
	})

	_, err := d.AwaitFetch(context.Background())
	require.NoError(t, err)
	first := d.State().Data

	d.ScheduleFetch(orchestrator.HighPriority)
	time.Sleep(20 * time.Millisecond)
	second := d.State().Data

	require.Same(t, first, second)
}

func TestDocumentInvalidateDataDominance(t *testing.T) {
	d := NewDocument(DocumentConfig[int]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context) (int, error) {
			return 0, nil
		},
	})

	d.InvalidateData(orchestrator.HighPriority)
	require.NotNil(t, d.State().RefetchOnMount)
	require.Equal(t, orchestrator.HighPriority, *d.State().RefetchOnMount)

	d.InvalidateData(orchestrator.LowPriority)
	require.Equal(t, orchestrator.HighPriority, *d.State().RefetchOnMount)
}

func TestDocumentFetchError(t *testing.T) {
	d := NewDocument(DocumentConfig[int]{
		Config: DefaultConfig(),
		FetchFn: func(ctx context.Context) (int, error) {
			return 0, context.DeadlineExceeded
		},
	})

	_, err := d.AwaitFetch(context.Background())
	require.Error(t, err)
	require.Equal(t, orchestrator.StatusError, d.State().Status)
}
