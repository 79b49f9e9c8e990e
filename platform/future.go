package platform

import (
	"context"
	"errors"
)

// future resolves once the matching ack envelope arrives, or the
// connection drops before it does.
type future struct {
	done chan struct{}
	err  error
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

func (f *future) resolve(err error) {
	select {
	case <-f.done:
		return // already resolved
	default:
	}
	f.err = err
	close(f.done)
}

// Get implements model.Future.
func (f *future) Get(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errNotConnected = errors.New("platform: not connected")
