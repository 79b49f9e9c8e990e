package intake

import (
	"sync"
	"time"

	"github.com/telegate/gwcore/model"
)

// Item is one accepted submission queued for the Storage Writer.
type Item struct {
	ConnectorName string
	ConnectorID   string
	Data          *model.ConvertedData
}

// queue is an unbounded (memory-only) FIFO, so Submit never blocks
// longer than the time to acquire one mutex (spec §4.1) — a fixed-size
// buffered channel would impose an artificial backpressure bound the
// spec explicitly rules out.
type queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []Item
}

func newQueue() *queue {
	q := &queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) push(item Item) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
	q.cond.Signal()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// popBatch drains up to maxItems, waiting up to maxWait for the first
// item to arrive if the queue is currently empty. It returns as soon as
// at least one item is queued; it does not wait for the batch to fill.
// Both bounds of the Storage Writer's "≤1000 items or ≤500ms window"
// rule (spec §4.2) therefore hold as upper limits.
func (q *queue) popBatch(maxItems int, maxWait time.Duration, stopCh <-chan struct{}) []Item {
	deadline := time.Now().Add(maxWait)

	q.mu.Lock()
	for len(q.items) == 0 {
		if !q.waitUntil(deadline, stopCh) {
			q.mu.Unlock()
			return nil
		}
	}

	n := len(q.items)
	if n > maxItems {
		n = maxItems
	}
	batch := q.items[:n]
	q.items = q.items[n:]
	q.mu.Unlock()
	return batch
}

// waitUntil blocks on the condition variable until either it's signaled
// or deadline passes, checking stopCh so the worker can still respond
// to shutdown within the 1s interruptible-wait bound (spec §5). Must
// be called with q.mu held; returns with q.mu held.
func (q *queue) waitUntil(deadline time.Time, stopCh <-chan struct{}) bool {
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return false
	}

	expired := false
	timer := time.AfterFunc(remaining, func() {
		q.mu.Lock()
		expired = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	select {
	case <-stopCh:
		return false
	default:
	}

	q.cond.Wait()
	if expired {
		return false
	}
	select {
	case <-stopCh:
		return false
	default:
	}
	return len(q.items) > 0
}
