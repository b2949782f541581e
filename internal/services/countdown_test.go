package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTimerTarget struct {
	mu       sync.Mutex
	ticks    int
	expireAt int
}

func (f *fakeTimerTarget) DecrementTimer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks++
	return f.expireAt > 0 && f.ticks == f.expireAt
}

func (f *fakeTimerTarget) Ticks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func TestCountdownStopsAndFiresOnExpiry(t *testing.T) {
	target := &fakeTimerTarget{expireAt: 3}
	var expiries int32
	driver := NewCountdownDriver(target, func() { atomic.AddInt32(&expiries, 1) }, zap.NewNop().Sugar())
	driver.interval = 2 * time.Millisecond

	driver.Start()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&expiries) == 1 }, time.Second, time.Millisecond)

	// The driver stops itself on the expiring tick.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, target.Ticks())
	assert.False(t, driver.Running())
	assert.EqualValues(t, 1, atomic.LoadInt32(&expiries))
}

func TestCountdownStopPreventsFurtherTicks(t *testing.T) {
	target := &fakeTimerTarget{}
	driver := NewCountdownDriver(target, nil, zap.NewNop().Sugar())
	driver.interval = 2 * time.Millisecond

	driver.Start()
	require.Eventually(t, func() bool { return target.Ticks() >= 2 }, time.Second, time.Millisecond)
	driver.Stop()

	seen := target.Ticks()
	time.Sleep(20 * time.Millisecond)
	assert.LessOrEqual(t, target.Ticks(), seen+1, "at most one in-flight tick after Stop")
	assert.False(t, driver.Running())
}

func TestCountdownStartIsIdempotent(t *testing.T) {
	target := &fakeTimerTarget{}
	driver := NewCountdownDriver(target, nil, zap.NewNop().Sugar())
	driver.interval = 5 * time.Millisecond

	driver.Start()
	driver.Start()
	assert.True(t, driver.Running())

	driver.Stop()
	driver.Stop()
	assert.False(t, driver.Running())
}
