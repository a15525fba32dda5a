package machine

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const DefaultDebounce = 500 * time.Millisecond

// Debouncer is a single-shot timer that can be restarted. Only the most
// recent Restart may fire.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration

	mu    sync.Mutex
	timer *clock.Timer
	gen   uint64
}

func NewDebouncer(c clock.Clock, delay time.Duration) *Debouncer {
	if c == nil {
		c = clock.New()
	}
	if delay < 0 {
		delay = 0
	}
	return &Debouncer{clock: c, delay: delay}
}

func (d *Debouncer) Delay() time.Duration {
	return d.delay
}

// Restart drops any pending timer and schedules fire after the delay. fire
// is called with the generation returned here.
func (d *Debouncer) Restart(fire func(gen uint64)) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopLocked()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		live := gen == d.gen && d.timer != nil
		if live {
			d.timer = nil
		}
		d.mu.Unlock()
		if live {
			fire(gen)
		}
	})
	return gen
}

// Stop drops the pending timer, if any.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopLocked()
	d.mu.Unlock()
}

// Pending reports whether a timer is scheduled and has not fired.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
