package invalidate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/itskum47/fluxquery/orchestrator"
)

func TestFocusTriggerFansOutLowPriority(t *testing.T) {
	var queryPriorities, itemPriorities []orchestrator.FetchType
	trigger := NewFocusTrigger(FocusTriggerConfig{
		InvalidateQueries: func(p orchestrator.FetchType) { queryPriorities = append(queryPriorities, p) },
		InvalidateItems:   func(p orchestrator.FetchType) { itemPriorities = append(itemPriorities, p) },
	})

	trigger.Fire(context.Background())

	require.Equal(t, []orchestrator.FetchType{orchestrator.LowPriority}, queryPriorities)
	require.Equal(t, []orchestrator.FetchType{orchestrator.LowPriority}, itemPriorities)
}

func TestFocusTriggerItemsOptional(t *testing.T) {
	var calls int
	trigger := NewFocusTrigger(FocusTriggerConfig{
		InvalidateQueries: func(p orchestrator.FetchType) { calls++ },
	})
	trigger.Fire(context.Background())
	require.Equal(t, 1, calls)
}
