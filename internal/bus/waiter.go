package bus

import (
	"context"
	"sync"
	"time"
)

// AckWaiter matches acks arriving on the shared ack topic to callers blocked
// in Wait. One waiter per correlation id; a late or unknown ack is dropped.
type AckWaiter struct {
	mu      sync.Mutex
	pending map[string]chan Ack
}

func NewAckWaiter() *AckWaiter {
	return &AckWaiter{pending: make(map[string]chan Ack)}
}

// Wait blocks until an ack with the given correlation id arrives, the
// timeout elapses, or ctx is cancelled.
func (w *AckWaiter) Wait(ctx context.Context, correlationID string, timeout time.Duration) (Ack, bool) {
	ch := make(chan Ack, 1)

	w.mu.Lock()
	w.pending[correlationID] = ch
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.pending, correlationID)
		w.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, true
	case <-timer.C:
		return Ack{}, false
	case <-ctx.Done():
		return Ack{}, false
	}
}

// Deliver routes an ack to its waiter. Returns false if nobody is waiting
// (timed out already, or a duplicate delivery).
func (w *AckWaiter) Deliver(ack Ack) bool {
	w.mu.Lock()
	ch, ok := w.pending[ack.CorrelationID]
	if ok {
		delete(w.pending, ack.CorrelationID)
	}
	w.mu.Unlock()

	if !ok {
		return false
	}
	ch <- ack
	return true
}
