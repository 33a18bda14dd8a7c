package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erp-sync-service/internal/config"
	"erp-sync-service/internal/upstream"
)

func day(s string) time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return t
}

func TestWindowsCoverRangeWithoutGaps(t *testing.T) {
	got := windows(day("2024-03-01"), day("2024-03-10"), 3)
	require.Len(t, got, 4)

	assert.Equal(t, day("2024-03-01"), got[0].start)
	assert.Equal(t, day("2024-03-03"), got[0].end)
	assert.Equal(t, day("2024-03-04"), got[1].start)
	assert.Equal(t, day("2024-03-06"), got[1].end)
	assert.Equal(t, day("2024-03-10"), got[3].start)
	assert.Equal(t, day("2024-03-10"), got[3].end)

	// Every day of the range belongs to exactly one window.
	for cursor := day("2024-03-01"); !cursor.After(day("2024-03-10")); cursor = cursor.AddDate(0, 0, 1) {
		count := 0
		for _, w := range got {
			if !cursor.Before(w.start) && !cursor.After(w.end) {
				count++
			}
		}
		assert.Equal(t, 1, count, "day %s", cursor.Format("2006-01-02"))
	}
}

func TestWindowsSingleDay(t *testing.T) {
	got := windows(day("2024-03-05"), day("2024-03-05"), 3)
	require.Len(t, got, 1)
	assert.Equal(t, day("2024-03-05"), got[0].start)
	assert.Equal(t, day("2024-03-05"), got[0].end)
}

func newTestOrderSyncer(t *testing.T) *OrderSyncer {
	t.Helper()
	s := NewOrderSyncer(config.OrdersConfig{
		WindowDays:      3,
		PageSize:        100,
		MaxRequests:     1000,
		MaxRequestsFull: 2000,
	}, config.SchedulerConfig{OrdersRecentDays: 7}, newFakeStore(), nil, nil, nil, nil, nil, nil)
	s.now = func() time.Time { return day("2024-03-20").Add(15 * time.Hour) }
	return s
}

func TestResolveRangeModes(t *testing.T) {
	s := newTestOrderSyncer(t)

	start, end, err := s.resolveRange(OrderJobParams{Mode: OrderModeRecent})
	require.NoError(t, err)
	assert.Equal(t, day("2024-03-14"), start)
	assert.Equal(t, day("2024-03-20"), end)

	start, end, err = s.resolveRange(OrderJobParams{Mode: OrderModeRange, StartDate: "2024-01-01", EndDate: "2024-01-31"})
	require.NoError(t, err)
	assert.Equal(t, day("2024-01-01"), start)
	assert.Equal(t, day("2024-01-31"), end)

	start, end, err = s.resolveRange(OrderJobParams{Mode: OrderModeFull})
	require.NoError(t, err)
	assert.Equal(t, day("2023-03-20"), start)
	assert.Equal(t, day("2024-03-20"), end)

	_, _, err = s.resolveRange(OrderJobParams{Mode: OrderModeRange, StartDate: "2024-02-01", EndDate: "2024-01-01"})
	assert.Error(t, err)

	_, _, err = s.resolveRange(OrderJobParams{Mode: "bogus"})
	assert.Error(t, err)
}

func TestJobStateBudget(t *testing.T) {
	state := &jobState{budget: 2}
	require.NoError(t, state.spend())
	require.NoError(t, state.spend())
	assert.ErrorIs(t, state.spend(), ErrRequestBudgetExhausted)
}

func TestPagePredates(t *testing.T) {
	start := day("2024-03-10")

	older := []upstream.OrderSummary{
		{ID: 1, CreatedDate: "2024-03-09"},
		{ID: 2, CreatedDate: "2024-03-01"},
	}
	assert.True(t, pagePredates(older, start))

	mixed := []upstream.OrderSummary{
		{ID: 1, CreatedDate: "2024-03-09"},
		{ID: 2, CreatedDate: "2024-03-11"},
	}
	assert.False(t, pagePredates(mixed, start))

	// Pages with no parseable dates cannot prove anything.
	assert.False(t, pagePredates([]upstream.OrderSummary{{ID: 1, CreatedDate: "?"}}, start))
}
