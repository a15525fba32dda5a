package service

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pders01/roster/internal/machine"
	"github.com/pders01/roster/internal/people"
	"github.com/pders01/roster/internal/search"
)

// DefaultLatency is the simulated round trip of the local service.
const DefaultLatency = 500 * time.Millisecond

// Local answers fetches from a Searcher after a simulated delay, so the
// controller behaves the same as against a remote API.
type Local struct {
	searcher search.Searcher
	clock    clock.Clock
	latency  time.Duration
	limit    int
}

type LocalOption func(*Local)

func WithLatency(d time.Duration) LocalOption {
	return func(l *Local) { l.latency = d }
}

func WithClock(c clock.Clock) LocalOption {
	return func(l *Local) { l.clock = c }
}

// WithLimit caps the number of people returned. Zero means no cap.
func WithLimit(n int) LocalOption {
	return func(l *Local) { l.limit = n }
}

func NewLocal(searcher search.Searcher, opts ...LocalOption) *Local {
	l := &Local{searcher: searcher, clock: clock.New(), latency: DefaultLatency}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fetch waits out the latency and then searches. It returns ctx.Err() if
// ctx ends first.
func (l *Local) Fetch(ctx context.Context, filter people.Filter) ([]people.Person, error) {
	if l.latency > 0 {
		timer := l.clock.Timer(l.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	found, err := l.searcher.Search(filter, l.limit)
	if err != nil {
		return nil, people.FetchError{Message: "searching people: " + err.Error()}
	}
	return found, nil
}

func (l *Local) Start(filter people.Filter, deliver machine.Deliver) machine.CancelFunc {
	return machine.ServiceFunc(l.Fetch).Start(filter, deliver)
}
