package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestOrdersPlacedIncrementsByLabel(t *testing.T) {
	OrdersPlaced.Reset()
	OrdersPlaced.WithLabelValues("BUY", "LIMIT").Inc()
	OrdersPlaced.WithLabelValues("BUY", "LIMIT").Inc()
	OrdersPlaced.WithLabelValues("SELL", "MARKET").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(OrdersPlaced.WithLabelValues("BUY", "LIMIT")))
	assert.Equal(t, float64(1), testutil.ToFloat64(OrdersPlaced.WithLabelValues("SELL", "MARKET")))
}

func TestTimerObservesMatchingLatency(t *testing.T) {
	before := testutil.CollectAndCount(MatchingLatency)
	timer := NewTimer()
	timer.ObserveSeconds()
	after := testutil.CollectAndCount(MatchingLatency)

	assert.GreaterOrEqual(t, after, before)
}

func TestHandlerIsNotNil(t *testing.T) {
	assert.NotNil(t, Handler())
}
