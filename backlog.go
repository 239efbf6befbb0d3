package trunk

import "trunk/internal/pqueue"

// backlog is the trunk-wide queue of requests that have no connection yet
// (spec.md §2.5, §4.4).
type backlog struct {
	heap pqueue.Heap[*Request]
}

func (b *backlog) push(r *Request) {
	r.tconn = nil
	r.state = StateBacklog
	b.heap.Push(r)
}

func (b *backlog) len() int { return b.heap.Len() }

func (b *backlog) pop() *Request {
	if b.heap.Len() == 0 {
		return nil
	}
	return b.heap.Pop()
}

func (b *backlog) peek() *Request {
	if b.heap.Len() == 0 {
		return nil
	}
	return b.heap.Peek()
}

func (b *backlog) remove(r *Request) {
	if r.heapIdx >= 0 {
		b.heap.Remove(r.heapIdx)
	}
}

func (b *backlog) drain() []*Request {
	return b.heap.Drain()
}
