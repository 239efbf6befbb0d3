// Package pqueue implements a generic, index-tracking binary heap.
//
// It exists in place of the source design's intrusive doubly-linked lists
// plus separate red-black trees keyed by state (spec.md Design Notes §9):
// each tconn's pending/cancel queues, and the trunk-wide backlog, are one of
// these heaps, and the elements know their own index so an element can be
// removed from the middle of the heap in O(log n) without a linear scan —
// the property a cancelled-while-pending request needs.
package pqueue

// Item is anything that can sit in a Heap. The index an Indexed element
// carries is heap-maintained state: callers must not set it, only read it
// to decide whether an item is currently queued (HeapIndex() == -1 means
// "not in any heap").
type Item interface {
	// Less reports whether the receiver sorts before other. Implementations
	// provide their own tie-break (e.g. an insertion sequence number) so
	// that equal-priority items pop in insertion order (spec.md §3, §5).
	Less(other Item) bool
}

// Indexed is implemented by heap elements to let the heap record their
// current slot for O(log n) arbitrary removal.
type Indexed interface {
	Item
	HeapIndex() int
	SetHeapIndex(i int)
}

// Heap is a binary min-heap over Indexed elements.
type Heap[T Indexed] struct {
	items []T
}

// Len returns the number of queued items.
func (h *Heap[T]) Len() int { return len(h.items) }

// Push inserts item, maintaining the heap property. O(log n).
func (h *Heap[T]) Push(item T) {
	item.SetHeapIndex(len(h.items))
	h.items = append(h.items, item)
	h.up(len(h.items) - 1)
}

// Peek returns the minimum item without removing it. Panics if empty.
func (h *Heap[T]) Peek() T {
	return h.items[0]
}

// Pop removes and returns the minimum item. Panics if empty.
func (h *Heap[T]) Pop() T {
	return h.Remove(h.items[0].HeapIndex())
}

// Remove removes the item at heap index i, wherever it sits, and returns
// it. O(log n). This is the operation the intrusive-list design could only
// do in O(n); here every item knows its own slot.
func (h *Heap[T]) Remove(i int) T {
	n := len(h.items) - 1
	removed := h.items[i]
	if n != i {
		h.items[i] = h.items[n]
		h.items[i].SetHeapIndex(i)
	}
	var zero T
	h.items[n] = zero
	h.items = h.items[:n]
	if n != i {
		h.down(i)
		h.up(i)
	}
	removed.SetHeapIndex(-1)
	return removed
}

// Fix re-establishes the heap property for the item at index i after its
// sort key has changed in place (e.g. a Tconn's load changed while it sits
// in the trunk's Active-pool ordering heap). O(log n).
func (h *Heap[T]) Fix(i int) {
	if !h.down(i) {
		h.up(i)
	}
}

// Each calls fn for every queued item in unspecified order.
func (h *Heap[T]) Each(fn func(T)) {
	for _, it := range h.items {
		fn(it)
	}
}

// Drain removes and returns every queued item, emptying the heap. Items are
// returned in heap (not sorted) order; callers that need priority order
// should Pop() repeatedly instead.
func (h *Heap[T]) Drain() []T {
	out := h.items
	for _, it := range out {
		it.SetHeapIndex(-1)
	}
	h.items = nil
	return out
}

func (h *Heap[T]) less(i, j int) bool { return h.items[i].Less(h.items[j]) }

func (h *Heap[T]) swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].SetHeapIndex(i)
	h.items[j].SetHeapIndex(j)
}

func (h *Heap[T]) up(j int) {
	for {
		i := (j - 1) / 2
		if i == j || !h.less(j, i) {
			break
		}
		h.swap(i, j)
		j = i
	}
}

func (h *Heap[T]) down(i0 int) bool {
	i := i0
	n := len(h.items)
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 {
			break
		}
		j := j1
		if j2 := j1 + 1; j2 < n && h.less(j2, j1) {
			j = j2
		}
		if !h.less(j, i) {
			break
		}
		h.swap(i, j)
		i = j
	}
	return i > i0
}
