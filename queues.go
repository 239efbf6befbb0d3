package trunk

import "container/list"

// orderedSet is an insertion-ordered set of *Request, used for the sent and
// cancel_sent containers (spec.md §4.2): membership must support O(1)
// add/remove, and iteration order must be insertion order since it backs
// the "two requests enqueued in order... popped in enqueue order" guarantee
// when a tconn's whole in-flight set is requeued on connection loss.
type orderedSet struct {
	l     list.List
	byReq map[*Request]*list.Element
}

func newOrderedSet() *orderedSet {
	return &orderedSet{byReq: make(map[*Request]*list.Element)}
}

func (s *orderedSet) add(r *Request) {
	e := s.l.PushBack(r)
	s.byReq[r] = e
}

func (s *orderedSet) remove(r *Request) bool {
	e, ok := s.byReq[r]
	if !ok {
		return false
	}
	s.l.Remove(e)
	delete(s.byReq, r)
	return true
}

func (s *orderedSet) contains(r *Request) bool {
	_, ok := s.byReq[r]
	return ok
}

func (s *orderedSet) len() int { return len(s.byReq) }

// each walks the set in insertion order. fn must not mutate the set.
func (s *orderedSet) each(fn func(*Request)) {
	for e := s.l.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Request))
	}
}

// drain removes and returns every member, in insertion order, emptying the
// set.
func (s *orderedSet) drain() []*Request {
	out := make([]*Request, 0, len(s.byReq))
	for e := s.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*Request))
	}
	s.l.Init()
	s.byReq = make(map[*Request]*list.Element)
	return out
}
