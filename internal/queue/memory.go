package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a single-process delayed queue backed by a min-heap on
// due time. It is the test backend and a reasonable default for
// single-node deployments; crash recovery comes from the due-work
// selector re-picking queued occurrences, not from queue durability.
type MemoryQueue struct {
	mu    sync.Mutex
	items delayHeap
	byRef map[JobRef]*delayedItem
	wake  chan struct{}
}

type delayedItem struct {
	ref   JobRef
	job   Job
	due   time.Time
	index int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		byRef: make(map[JobRef]*delayedItem),
		wake:  make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) (JobRef, error) {
	if delay < 0 {
		delay = 0
	}

	item := &delayedItem{
		ref: JobRef(uuid.NewString()),
		job: job,
		due: time.Now().Add(delay),
	}

	q.mu.Lock()
	heap.Push(&q.items, item)
	q.byRef[item.ref] = item
	q.mu.Unlock()

	q.notify()
	return item.ref, nil
}

func (q *MemoryQueue) Cancel(ctx context.Context, ref JobRef) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.byRef[ref]
	if !ok {
		return nil
	}
	heap.Remove(&q.items, item.index)
	delete(q.byRef, ref)
	return nil
}

// Len returns the number of jobs waiting to become due.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Start delivers due jobs to the handler until ctx is done. Delivery is
// sequential; concurrency belongs to the worker pool behind the
// handler.
func (q *MemoryQueue) Start(ctx context.Context, handler Handler) {
	for {
		item, wait := q.next()
		if item != nil {
			_ = handler(ctx, item.job)
			continue
		}

		if wait <= 0 {
			// Empty queue: block until something arrives.
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// next pops a due job, or reports how long to wait for the earliest
// one. (nil, 0) means the queue is empty.
func (q *MemoryQueue) next() (*delayedItem, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Len() == 0 {
		return nil, 0
	}

	head := q.items[0]
	wait := time.Until(head.due)
	if wait > 0 {
		return nil, wait
	}

	item := heap.Pop(&q.items).(*delayedItem)
	delete(q.byRef, item.ref)
	return item, 0
}

func (q *MemoryQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

type delayHeap []*delayedItem

func (h delayHeap) Len() int           { return len(h) }
func (h delayHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h delayHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *delayHeap) Push(x interface{}) {
	item := x.(*delayedItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}
