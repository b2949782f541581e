package services

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// TimerTarget is what the countdown ticks against. DecrementTimer reports
// whether this tick performed the expiry transition.
type TimerTarget interface {
	DecrementTimer() bool
}

// CountdownDriver fires a single one-second tick against the payment session
// while it is active. The tick that reaches zero flips the session inactive,
// and onExpired runs exactly once on that tick; a terminal push arriving in
// the same instant loses or wins the race inside the session, never both.
type CountdownDriver struct {
	target    TimerTarget
	onExpired func()
	interval  time.Duration
	logger    *zap.SugaredLogger

	mu   sync.Mutex
	stop chan struct{}
}

func NewCountdownDriver(target TimerTarget, onExpired func(), logger *zap.SugaredLogger) *CountdownDriver {
	return &CountdownDriver{
		target:    target,
		onExpired: onExpired,
		interval:  time.Second,
		logger:    logger,
	}
}

// Start begins ticking. Starting an already running driver is a no-op.
func (d *CountdownDriver) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return
	}
	stop := make(chan struct{})
	d.stop = stop
	go d.run(stop)
}

// Stop halts ticking. Safe to call repeatedly and from any goroutine.
func (d *CountdownDriver) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == nil {
		return
	}
	close(d.stop)
	d.stop = nil
}

// Running reports whether the driver is currently ticking.
func (d *CountdownDriver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stop != nil
}

func (d *CountdownDriver) run(stop chan struct{}) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if d.target.DecrementTimer() {
				d.logger.Info("payment countdown reached zero")
				if d.onExpired != nil {
					d.onExpired()
				}
				d.clear(stop)
				return
			}
		case <-stop:
			return
		}
	}
}

func (d *CountdownDriver) clear(stop chan struct{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop == stop {
		d.stop = nil
	}
}
