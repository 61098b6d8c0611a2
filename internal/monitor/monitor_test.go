package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straddle-core/internal/events"
)

type captureSink struct {
	mu   sync.Mutex
	msgs []string
}

func (c *captureSink) Send(m string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestAlertFor(t *testing.T) {
	text, ok := alertFor(events.EventExitTriggered, events.ExitNotice{ConfigID: "c1", StrategyName: "S", Reason: "RATIO_THRESHOLD"})
	assert.True(t, ok)
	assert.Contains(t, text, "RATIO_THRESHOLD")

	_, ok = alertFor(events.EventExitCompleted, events.ExitNotice{ConfigID: "c1", Outcome: "FLAT"})
	assert.False(t, ok)

	text, ok = alertFor(events.EventExitCompleted, events.ExitNotice{ConfigID: "c1", Outcome: "SINGLE_LEG_FLAT", Iterations: 3})
	assert.True(t, ok)
	assert.Contains(t, text, "manual attention")
}

func TestMonitorForwardsAlerts(t *testing.T) {
	bus := events.NewBus()
	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	(&Monitor{Bus: bus, Sink: sink}).Start(ctx)
	bus.Publish(events.EventExitTriggered, events.ExitNotice{ConfigID: "c1", Reason: "MANUAL_EXIT"})
	bus.Publish(events.EventExitCompleted, events.ExitNotice{ConfigID: "c1", Outcome: "FLAT"})

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestLatencyHistogramStats(t *testing.T) {
	h := NewLatencyHistogram(3)
	for _, v := range []float64{5, 1, 3, 9} {
		h.Record(v)
	}
	st := h.Stats()
	assert.Equal(t, 3, st.Count)
	assert.Equal(t, 1.0, st.Min)
	assert.Equal(t, 9.0, st.Max)
}

func TestSnapshotCounters(t *testing.T) {
	m := NewSystemMetrics()
	m.IncrementOrders()
	m.IncrementOrderFailures()
	m.IncrementExits()
	m.SetGauges(4, 2)
	NewTimer(m.SyncLatency).Stop()

	snap := m.GetSnapshot()
	assert.Equal(t, uint64(1), snap.OrdersPlaced)
	assert.Equal(t, uint64(1), snap.OrderFailures)
	assert.Equal(t, uint64(1), snap.ExitsTriggered)
	assert.Equal(t, 4, snap.TrackedConfigs)
	assert.Equal(t, 1, snap.SyncLatency.Count)
}
