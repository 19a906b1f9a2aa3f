package transport

import "sync"

// swapQueue is a FIFO whose consumer takes the whole backlog at once and
// processes it without holding the lock.
type swapQueue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *swapQueue[T]) push(v T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
	return len(q.items)
}

func (q *swapQueue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *swapQueue[T]) swap() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// inbox is the inbound frame queue plus its backpressure state. The
// backpressure flag and the set of parked receivers change under the same
// lock as the queue so a poll can never miss a receiver that is about to
// park.
type inbox struct {
	mu            sync.Mutex
	frames        [][]byte
	ceiling       int
	backpressured bool
	parked        []*receiver
}

func newInbox(ceiling int) *inbox {
	return &inbox{ceiling: ceiling}
}

func (b *inbox) push(f []byte) {
	b.mu.Lock()
	b.frames = append(b.frames, f)
	b.mu.Unlock()
}

func (b *inbox) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// park registers r as paused when the queue is at the ceiling. engaged is
// true when this call switched backpressure on.
func (b *inbox) park(r *receiver) (parked, engaged bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.frames) < b.ceiling {
		return false, false
	}
	engaged = !b.backpressured
	b.backpressured = true
	b.parked = append(b.parked, r)
	return true, engaged
}

// drain swaps out the queue, clears backpressure and hands back the
// receivers that must resume reading. Resuming is the caller's job, outside
// this lock.
func (b *inbox) drain() ([][]byte, []*receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	frames := b.frames
	b.frames = nil
	resume := b.parked
	b.parked = nil
	b.backpressured = false
	return frames, resume
}

func (b *inbox) isBackpressured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backpressured
}
