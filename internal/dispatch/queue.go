package dispatch

// fifo is a first-in first-out queue. It is not safe for concurrent use;
// the dispatcher guards it with its own mutex.
type fifo[T comparable] struct {
	items []T
}

// Enqueue adds an element to the back of the queue.
func (q *fifo[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the front element. The boolean is false when
// the queue is empty.
func (q *fifo[T]) Dequeue() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

// Remove deletes the first occurrence of item, keeping the order of the
// rest. It reports whether the item was present.
func (q *fifo[T]) Remove(item T) bool {
	for i, it := range q.items {
		if it == item {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of queued elements.
func (q *fifo[T]) Len() int {
	return len(q.items)
}
