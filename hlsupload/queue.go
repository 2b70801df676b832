package hlsupload

import (
	"container/heap"
	"sync"
)

// segmentHeap orders segments by tier first, then by ascending sequence
// within a tier. A requeued segment therefore lands ahead of every
// later segment of its tier.
type segmentHeap []*Segment

func (h segmentHeap) Len() int { return len(h) }

func (h segmentHeap) Less(i, j int) bool {
	if h[i].Tier != h[j].Tier {
		return h[i].Tier < h[j].Tier
	}
	return h[i].Sequence < h[j].Sequence
}

func (h segmentHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *segmentHeap) Push(x any) { *h = append(*h, x.(*Segment)) }

func (h *segmentHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// segmentQueue is the single synchronized hand-off point between
// segment discovery and the upload workers. Enqueue never blocks,
// Dequeue blocks until an item is available or the queue is finished.
//
// Close only ends discovery; a segment handed out for an attempt stays
// accounted for until Done or Requeue, so a retry is still admitted
// after the last segment was discovered. Shutdown ends everything.
type segmentQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    segmentHeap
	inflight int
	closed   bool
	shutdown bool
}

func newSegmentQueue() *segmentQueue {
	q := &segmentQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a newly discovered segment. Returns false once the
// queue is closed.
func (q *segmentQueue) Enqueue(s *Segment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	heap.Push(&q.items, s)
	q.cond.Signal()
	return true
}

// Dequeue removes the highest priority segment, blocking while more
// work is possible. Returns false when no further segment will ever
// be handed out. The caller owns the segment until Done or Requeue.
func (q *segmentQueue) Dequeue() (*Segment, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.shutdown {
			return nil, false
		}
		if len(q.items) > 0 {
			q.inflight++
			return heap.Pop(&q.items).(*Segment), true
		}
		// an in-flight attempt may still be requeued
		if q.closed && q.inflight == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}

// Done releases a dequeued segment whose attempt reached a final
// outcome.
func (q *segmentQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inflight--
	q.cond.Broadcast()
}

// Requeue puts a dequeued segment back for another attempt. Returns
// false after Shutdown.
func (q *segmentQueue) Requeue(s *Segment) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.inflight--
	if q.shutdown {
		q.cond.Broadcast()
		return false
	}

	heap.Push(&q.items, s)
	q.cond.Broadcast()
	return true
}

// Close stops admission of new segments. Items already queued are
// still handed out until the queue is drained.
func (q *segmentQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Shutdown closes the queue and discards everything still queued.
// Used on fatal conditions where queued work must not start.
func (q *segmentQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.shutdown = true
	q.items = nil
	q.cond.Broadcast()
}

func (q *segmentQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
