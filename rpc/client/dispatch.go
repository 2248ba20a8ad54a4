package client

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// node represents a single element in the queue
type node[T interface{}] struct {
	value T
	next  atomic.Pointer[node[T]]
}

// dispatchQueue is an unbounded lock-free multi-producer single-consumer queue whose
// consumer goroutine hands every item to a handler. It decouples the read loop of a
// connection from subscription and publisher callbacks: Push never blocks, and items
// pushed by the same goroutine are handled in push order.
type dispatchQueue[T interface{}] struct {
	head    atomic.Pointer[node[T]]
	tail    atomic.Pointer[node[T]]
	handler func(T)
	done    chan struct{}
	closed  atomic.Bool

	// Condition variable for efficient waiting
	mu   sync.Mutex
	cond *sync.Cond
}

// newDispatchQueue creates a queue and starts its consumer goroutine
func newDispatchQueue[T interface{}](handler func(T)) *dispatchQueue[T] {
	// Create a sentinel node (dummy node at the beginning)
	sentinel := &node[T]{}

	q := &dispatchQueue[T]{
		handler: handler,
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.consume()

	return q
}

// Push adds an item to the queue.
// Returns true if the item was added, or false if the queue is closed.
func (q *dispatchQueue[T]) Push(value T) bool {
	if q.closed.Load() {
		return false
	}

	newNode := &node[T]{value: value}

	var backoff uint8 = 0
	for {
		tailNode := q.tail.Load()

		next := tailNode.next.Load()
		if next == nil {
			// the tail has no next node yet, try to append our node
			if tailNode.next.CompareAndSwap(nil, newNode) {
				// CAS may fail if another producer already moved the tail forward
				q.tail.CompareAndSwap(tailNode, newNode)

				// signal under the lock, otherwise the wakeup can be lost between
				// the consumer's emptiness check and its Wait
				q.mu.Lock()
				q.cond.Signal()
				q.mu.Unlock()
				return true
			}
		} else {
			// help update the tail pointer if another producer has already appended a node
			q.tail.CompareAndSwap(tailNode, next)
		}

		// exponential backoff under contention
		if backoff < 10 {
			backoff++
			for i := 0; i < 1<<backoff; i++ {
				runtime.Gosched()
			}
		}
		runtime.Gosched()
	}
}

// consume hands queued items to the handler until the queue is closed and drained
func (q *dispatchQueue[T]) consume() {
	defer close(q.done)

	for {
		hasItems := false

		for {
			head := q.head.Load()
			next := head.next.Load()
			if next == nil {
				break
			}
			hasItems = true

			value := next.value
			q.head.Store(next)

			// help go gc
			var zero T
			next.value = zero

			q.handler(value)
		}

		if !hasItems && q.closed.Load() {
			return
		}

		if !hasItems {
			q.mu.Lock()
			// Double-check condition after acquiring lock
			if q.head.Load().next.Load() == nil && !q.closed.Load() {
				q.cond.Wait()
			}
			q.mu.Unlock()
		}
	}
}

// Close prevents further pushes. Items already queued are still handled.
func (q *dispatchQueue[T]) Close() {
	q.closed.Store(true)

	q.mu.Lock()
	q.cond.Signal()
	q.mu.Unlock()
}

// Done is closed once the queue is closed and every item was handled
func (q *dispatchQueue[T]) Done() <-chan struct{} {
	return q.done
}

// Len returns an approximate count of the number of queued items. O(n).
func (q *dispatchQueue[T]) Len() int {
	count := 0
	for current := q.head.Load().next.Load(); current != nil; current = current.next.Load() {
		count++
	}
	return count
}
