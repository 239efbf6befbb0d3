package pqueue

import "testing"

type testItem struct {
	prio int
	seq  int
	idx  int
}

func (t *testItem) Less(other Item) bool {
	o := other.(*testItem)
	if t.prio != o.prio {
		return t.prio < o.prio
	}
	return t.seq < o.seq
}

func (t *testItem) HeapIndex() int     { return t.idx }
func (t *testItem) SetHeapIndex(i int) { t.idx = i }

func TestHeapOrdersByPriorityThenSeq(t *testing.T) {
	h := &Heap[*testItem]{}
	items := []*testItem{
		{prio: 2, seq: 0},
		{prio: 1, seq: 1},
		{prio: 1, seq: 2},
		{prio: 3, seq: 3},
	}
	for _, it := range items {
		h.Push(it)
	}

	var gotSeq []int
	for h.Len() > 0 {
		gotSeq = append(gotSeq, h.Pop().seq)
	}

	want := []int{1, 2, 0, 3}
	if len(gotSeq) != len(want) {
		t.Fatalf("got %v, want %v", gotSeq, want)
	}
	for i := range want {
		if gotSeq[i] != want[i] {
			t.Fatalf("got %v, want %v", gotSeq, want)
		}
	}
}

func TestHeapRemoveArbitrary(t *testing.T) {
	h := &Heap[*testItem]{}
	a := &testItem{prio: 1, seq: 0}
	b := &testItem{prio: 2, seq: 1}
	c := &testItem{prio: 3, seq: 2}
	h.Push(a)
	h.Push(b)
	h.Push(c)

	removed := h.Remove(b.HeapIndex())
	if removed != b {
		t.Fatalf("removed wrong item: %v", removed)
	}
	if b.HeapIndex() != -1 {
		t.Fatalf("removed item should have index -1, got %d", b.HeapIndex())
	}
	if h.Len() != 2 {
		t.Fatalf("want len 2, got %d", h.Len())
	}

	first := h.Pop()
	second := h.Pop()
	if first != a || second != c {
		t.Fatalf("unexpected pop order: %v, %v", first, second)
	}
}

func TestHeapDrain(t *testing.T) {
	h := &Heap[*testItem]{}
	h.Push(&testItem{prio: 1})
	h.Push(&testItem{prio: 2})

	drained := h.Drain()
	if len(drained) != 2 {
		t.Fatalf("want 2 drained items, got %d", len(drained))
	}
	if h.Len() != 0 {
		t.Fatalf("heap should be empty after drain, got len %d", h.Len())
	}
	for _, it := range drained {
		if it.HeapIndex() != -1 {
			t.Fatalf("drained item should have index -1, got %d", it.HeapIndex())
		}
	}
}
