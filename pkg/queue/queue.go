// Package queue implements the priority-ordered ready queue: tasks whose
// dependencies are unmet wait in a held set; ready tasks dequeue by
// (priority descending, created_at ascending).
package queue

import (
	"container/heap"
	"context"
	"sync"

	"github.com/gleitzeit/gleitzeit/pkg/task"
)

// Queue is a thread-safe, priority-ordered ready queue with a companion
// held set for tasks awaiting dependency resolution. Modeled on the
// teacher's MemoryQueue (signal channel + mutex-guarded slice), generalized
// to a heap keyed by (priority desc, created_at asc) instead of a single
// priority int, and to dependency-gated enqueue.
type Queue struct {
	mu     sync.Mutex
	ready  readyHeap
	held   map[string]*heldEntry
	signal chan struct{}
	closed bool
}

type heldEntry struct {
	task *task.Task
}

// New creates an empty queue.
func New() *Queue {
	q := &Queue{
		held:   make(map[string]*heldEntry),
		signal: make(chan struct{}, 1),
	}
	heap.Init(&q.ready)
	return q
}

// EnqueueBatch inserts every task. Those whose dependencies are not yet
// satisfied (per isReady) are held; the rest enter the ready heap
// immediately.
func (q *Queue) EnqueueBatch(tasks []*task.Task, isReady func(*task.Task) bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		if isReady(t) {
			heap.Push(&q.ready, t)
		} else {
			q.held[t.ID] = &heldEntry{task: t}
		}
	}
	q.notify()
}

// Promote moves a held task into the ready heap (its last dependency
// resolved). No-op if the id isn't held.
func (q *Queue) Promote(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.held[taskID]
	if !ok {
		return
	}
	delete(q.held, taskID)
	heap.Push(&q.ready, entry.task)
	q.notify()
}

// Dequeue pops the highest-priority ready task whose protocol+method is
// supported, per supports. Returns (nil, false) immediately if none
// qualify right now (non-blocking variant); DequeueWait blocks.
func (q *Queue) Dequeue(supports func(protocol, method string) bool) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dequeueLocked(supports)
}

func (q *Queue) dequeueLocked(supports func(protocol, method string) bool) (*task.Task, bool) {
	var skipped []*task.Task
	var found *task.Task

	for q.ready.Len() > 0 {
		t := heap.Pop(&q.ready).(*task.Task)
		if supports == nil || supports(t.Protocol, t.Method) {
			found = t
			break
		}
		skipped = append(skipped, t)
	}
	for _, t := range skipped {
		heap.Push(&q.ready, t)
	}
	return found, found != nil
}

// DequeueWait blocks until a qualifying task is available or ctx is done.
func (q *Queue) DequeueWait(ctx context.Context, supports func(protocol, method string) bool) (*task.Task, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		t, ok := q.dequeueLocked(supports)
		q.mu.Unlock()
		if ok {
			return t, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.signal:
		}
	}
}

// MarkCompleted promotes any held tasks whose dependencies are now fully
// satisfied, per isReady, and returns the ids that became ready. taskID
// itself is not looked up: the completed task already left the queue
// when it was dequeued.
func (q *Queue) MarkCompleted(taskID string, isReady func(*task.Task) bool) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var newlyReady []string
	for id, entry := range q.held {
		if isReady(entry.task) {
			heap.Push(&q.ready, entry.task)
			delete(q.held, id)
			newlyReady = append(newlyReady, id)
		}
	}
	if len(newlyReady) > 0 {
		q.notify()
	}
	return newlyReady
}

// MarkFailed removes the named held tasks (dependents that must not run),
// per error_strategy's decision made by the caller (pkg/resolver).
func (q *Queue) MarkFailed(taskIDs []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range taskIDs {
		delete(q.held, id)
	}
}

// Cancel removes a task from either the ready heap or the held set.
// Returns true if it was found and removed.
func (q *Queue) Cancel(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.held[taskID]; ok {
		delete(q.held, taskID)
		return true
	}
	for i, t := range q.ready {
		if t.ID == taskID {
			heap.Remove(&q.ready, i)
			return true
		}
	}
	return false
}

// Len returns the combined count of ready and held tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + len(q.held)
}

// Close unblocks any waiting DequeueWait callers with ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// ErrQueueClosed is returned by DequeueWait once the queue has been closed.
var ErrQueueClosed = &QueueError{message: "queue is closed"}

// QueueError reports a queue-related error.
type QueueError struct{ message string }

func (e *QueueError) Error() string { return e.message }

// readyHeap orders by (priority descending, created_at ascending).
type readyHeap []*task.Task

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *readyHeap) Push(x interface{}) {
	*h = append(*h, x.(*task.Task))
}
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
