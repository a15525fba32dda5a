package machine

import (
	"context"

	"github.com/pders01/roster/internal/people"
)

// Deliver receives the single outcome of a fetch.
type Deliver func(found []people.Person, err error)

// CancelFunc suppresses delivery of a fetch that has not resolved yet.
type CancelFunc func()

// Service starts people fetches. After the returned CancelFunc has been
// called, deliver must not be invoked.
type Service interface {
	Start(filter people.Filter, deliver Deliver) CancelFunc
}

// ServiceFunc adapts a blocking, context-aware fetch into a Service. The
// fetch runs on its own goroutine and its context is cancelled by the
// returned CancelFunc.
type ServiceFunc func(ctx context.Context, filter people.Filter) ([]people.Person, error)

func (f ServiceFunc) Start(filter people.Filter, deliver Deliver) CancelFunc {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		found, err := f(ctx, filter)
		if ctx.Err() != nil {
			return
		}
		deliver(found, err)
	}()
	return CancelFunc(cancel)
}
