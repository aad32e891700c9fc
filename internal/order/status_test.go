package order_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/food-ordering/internal/order"
)

func TestProgressPercentage_MonotonicAlongDeliveryPath(t *testing.T) {
	path := []order.Status{
		order.StatusPending,
		order.StatusAccepted,
		order.StatusPreparing,
		order.StatusReady,
		order.StatusDispatched,
		order.StatusDelivered,
	}
	want := []int{0, 20, 40, 60, 80, 100}

	prev := -1
	for i, status := range path {
		p, ok := order.ProgressPercentage(status)
		require.True(t, ok, "no progress for %s", status)
		assert.Equal(t, want[i], p, status)
		assert.GreaterOrEqual(t, p, prev)
		prev = p
	}
}

func TestProgressPercentage_UndefinedForAbandonedOrders(t *testing.T) {
	for _, status := range []order.Status{order.StatusRejected, order.StatusCancelled} {
		_, ok := order.ProgressPercentage(status)
		assert.False(t, ok, status)
	}
}

func TestPresentationTables_CoverEveryStatus(t *testing.T) {
	m, err := order.NewMachine(nil)
	require.NoError(t, err)

	seen := map[order.Status]bool{}
	for _, action := range order.Actions() {
		target, _ := m.Target(action)
		seen[target] = true
		for _, from := range m.Sources(action) {
			seen[from] = true
		}
	}
	assert.Len(t, seen, len(order.Statuses()))

	for status := range seen {
		assert.NotEqual(t, string(status), order.Label(status), "missing label for %s", status)
		assert.NotEqual(t, "bg-gray-100 text-gray-800 border-gray-200", order.ColorClass(status), "missing color for %s", status)
	}
}

func TestLabel_UnknownStatusFallsBackToRawValue(t *testing.T) {
	assert.Equal(t, "lost", order.Label(order.Status("lost")))
	assert.Equal(t, "bg-gray-100 text-gray-800 border-gray-200", order.ColorClass(order.Status("lost")))
}

func TestEstimateVisible(t *testing.T) {
	for _, status := range order.Statuses() {
		want := status == order.StatusAccepted || status == order.StatusPreparing
		assert.Equal(t, want, order.EstimateVisible(status), status)
	}
}

func TestDescribe(t *testing.T) {
	view := order.Describe(order.StatusReady)
	require.NotNil(t, view.Progress)
	assert.Equal(t, 60, *view.Progress)
	assert.Equal(t, "Ready", view.Label)
	assert.False(t, view.Terminal)

	view = order.Describe(order.StatusCancelled)
	assert.Nil(t, view.Progress)
	assert.True(t, view.Terminal)
}
