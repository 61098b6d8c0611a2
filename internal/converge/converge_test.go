package converge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeySetSingleOwner(t *testing.T) {
	ks := NewKeySet()

	var wins atomic.Int32
	var wg sync.WaitGroup
	releases := make(chan func(), 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, ok := ks.TryAcquire("S|NFO|1|NFO|2"); ok {
				wins.Add(1)
				releases <- release
			}
		}()
	}
	wg.Wait()
	close(releases)

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, []string{"S|NFO|1|NFO|2"}, ks.Active())

	release := <-releases
	release()
	release()
	assert.False(t, ks.Held("S|NFO|1|NFO|2"))

	_, ok := ks.TryAcquire("S|NFO|1|NFO|2")
	assert.True(t, ok)
}

func TestUntil(t *testing.T) {
	ctx := context.Background()

	var n atomic.Int32
	ok := Until(ctx, time.Millisecond, time.Second, func() bool { return n.Add(1) >= 3 })
	assert.True(t, ok)

	start := time.Now()
	ok = Until(ctx, time.Millisecond, 20*time.Millisecond, func() bool { return false })
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, Until(cancelled, time.Millisecond, time.Second, func() bool { return false }))
}

func TestLotMath(t *testing.T) {
	cases := []struct {
		name                          string
		target, net, sign, lot, wantR int64
		wantNet                       int64
	}{
		{"flat buy leg", 4, 0, 1, 75, 4, 0},
		{"partially filled buy", 4, 150, 1, 75, 2, 2},
		{"sell leg counts shorts", 3, -75, -1, 75, 2, 1},
		{"partial lot never rounds up", 2, 100, 1, 75, 0, 1},
		{"overfilled", 1, 300, 1, 75, 0, 4},
		{"wrong direction adds", 1, -75, 1, 75, 2, -1},
		{"missing lot size defaults to one", 5, 2, 1, 0, 3, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.wantR, RemainingLots(tc.target, tc.net, tc.sign, tc.lot))
			assert.Equal(t, tc.wantNet, NetLots(tc.net, tc.sign, tc.lot))
		})
	}
}

func TestGCD(t *testing.T) {
	require.Equal(t, int64(4), GCD(12, 8))
	require.Equal(t, int64(5), GCD(0, -5))
	require.Equal(t, int64(1), GCD(7, 9))
}
