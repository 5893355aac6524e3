package audio

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueSize is the chunk capacity used when a [ChunkQueue] is created
// with a non-positive size. At 1024-frame reads from a 48 kHz device this
// holds roughly five seconds of audio.
const DefaultQueueSize = 256

// ChunkQueue is a bounded FIFO of [Chunk] values shared between exactly one
// producer (the capture loop) and one consumer (the segmentation engine).
// Pushes never block; the consumer waits for data with [ChunkQueue.Wait].
//
// ChunkQueue is safe for concurrent use.
type ChunkQueue struct {
	mu       sync.Mutex
	items    []Chunk
	capacity int

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
}

// NewChunkQueue returns an empty queue holding at most capacity chunks.
func NewChunkQueue(capacity int) *ChunkQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &ChunkQueue{
		items:    make([]Chunk, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

// TryPush appends c if the queue has room and reports whether it did.
func (q *ChunkQueue) TryPush(c Chunk) bool {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.notify()
	return true
}

// PushDropOldest appends c, evicting the oldest queued chunk when the queue
// is full. It reports whether a chunk was evicted.
func (q *ChunkQueue) PushDropOldest(c Chunk) (dropped bool) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		copy(q.items, q.items[1:])
		q.items = q.items[:len(q.items)-1]
		dropped = true
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.notify()
	return dropped
}

// DrainAll removes and returns every queued chunk in push order. Returns nil
// when the queue is empty.
func (q *ChunkQueue) DrainAll() []Chunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := make([]Chunk, len(q.items))
	copy(out, q.items)
	clear(q.items)
	q.items = q.items[:0]
	return out
}

// Clear discards every queued chunk and returns how many were discarded.
func (q *ChunkQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	clear(q.items)
	q.items = q.items[:0]
	return n
}

// Len returns the number of queued chunks.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Cap returns the maximum number of chunks the queue holds.
func (q *ChunkQueue) Cap() int { return q.capacity }

// Wait blocks until a push happens, timeout elapses, or ctx is done. It
// returns true when woken by a push. A wake-up may be stale (the chunks were
// already drained), so callers must tolerate an empty [ChunkQueue.DrainAll].
func (q *ChunkQueue) Wait(ctx context.Context, timeout time.Duration) bool {
	if q.Len() > 0 {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.ready:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// notify records a pending wake-up without blocking.
func (q *ChunkQueue) notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
