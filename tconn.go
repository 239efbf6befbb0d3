package trunk

import (
	"time"

	"trunk/internal/pqueue"
)

// Tconn is the trunk's wrapper around one physical Connection (spec.md
// §4.3): it owns that Connection's six request queues and computes its
// own I/O interest.
type Tconn struct {
	id      uint64
	connSeq uint64 // stable tie-break for ConnectionPrioritise
	trunk   *Trunk
	conn    Connection
	state   ConnState

	// userInactive is sticky: once the user calls SignalInactive, automatic
	// reactivation on queue drain is disabled until SignalActive (§4.3).
	userInactive bool

	pending       pqueue.Heap[*Request]
	partial       *Request
	sent          *orderedSet
	cancel        pqueue.Heap[*Request]
	cancelPartial *Request
	cancelSent    *orderedSet

	uses      uint64
	createdAt time.Time
	lastWant  IOEvents

	poolIdx int // index within the trunk's Active-pool ordering heap
}

func newTconn(trunkRef *Trunk, id uint64, conn Connection) *Tconn {
	return &Tconn{
		id:        id,
		connSeq:   id,
		trunk:     trunkRef,
		conn:      conn,
		state:     ConnHalted,
		sent:      newOrderedSet(),
		cancelSent: newOrderedSet(),
		createdAt: trunkRef.now(),
		poolIdx:   -1,
	}
}

// ID returns the tconn's stable identifier.
func (tc *Tconn) ID() uint64 { return tc.id }

// State returns the tconn's current lifecycle state.
func (tc *Tconn) State() ConnState { return tc.state }

// Uses returns how many requests this tconn has fully sent over its
// lifetime, for the max_uses knob (spec.md §6).
func (tc *Tconn) Uses() uint64 { return tc.uses }

// CreatedAt returns when this tconn was allocated, for the lifetime knob.
func (tc *Tconn) CreatedAt() time.Time { return tc.createdAt }

// Load is the number of requests currently occupying this tconn
// (pending+partial+sent), the quantity max_req_per_conn and
// target_req_per_conn are measured against (spec.md §4.3, §4.5).
func (tc *Tconn) Load() int {
	n := tc.pending.Len() + tc.sent.len()
	if tc.partial != nil {
		n++
	}
	return n
}

// Less implements pqueue.Item for the trunk's Active-pool ordering heap.
func (tc *Tconn) Less(other pqueue.Item) bool {
	o := other.(*Tconn)
	if tc.trunk.cb.ConnectionPrioritise(tc, o) {
		return true
	}
	if o.trunk.cb.ConnectionPrioritise(o, tc) {
		return false
	}
	return tc.connSeq < o.connSeq
}

func (tc *Tconn) HeapIndex() int     { return tc.poolIdx }
func (tc *Tconn) SetHeapIndex(i int) { tc.poolIdx = i }

// wantEvents computes the I/O interest this tconn should currently report
// (spec.md §4.3).
func (tc *Tconn) wantEvents() IOEvents {
	var e IOEvents
	if tc.state&ConnReadable != 0 {
		e |= EventRead
	}
	if !tc.trunk.cfg.AlwaysWritable {
		if tc.pending.Len() > 0 || tc.partial != nil || tc.cancel.Len() > 0 || tc.cancelPartial != nil {
			e |= EventWrite
		}
	}
	return e
}

// notify recomputes I/O interest and, if it changed since the last call,
// invokes Callbacks.ConnectionNotify once (coalesced per Design Notes §9
// "state transition first, then a single coalesced notify at the end of
// the callback").
func (tc *Tconn) notify() {
	if tc.trunk.cfg.AlwaysWritable {
		// Writability is implicit in this mode; the user never calls
		// SignalWritable, so only Read interest is worth reporting.
	}
	want := tc.wantEvents()
	if want == tc.lastWant {
		return
	}
	tc.lastWant = want
	if tc.trunk.cb.ConnectionNotify != nil {
		tc.trunk.cb.ConnectionNotify(tc, want)
	}
}

// PopRequest removes and returns the highest-priority request from tc's
// pending queue, or nil if there is none to write right now. It returns
// nil whenever the partial slot is occupied, which is what makes "stop
// calling PopRequest after a partial write" the natural behaviour of a
// simple drain loop rather than a rule the caller must remember (spec.md
// §4.3, §5).
func (tc *Tconn) PopRequest() *Request {
	if tc.partial != nil || tc.pending.Len() == 0 {
		return nil
	}
	return tc.pending.Pop()
}

// PopCancel is PopRequest's counterpart for the cancel queue.
func (tc *Tconn) PopCancel() *Request {
	if tc.cancelPartial != nil || tc.cancel.Len() == 0 {
		return nil
	}
	return tc.cancel.Pop()
}

// HasCancelWork reports whether tc has anything queued in its cancel
// pipeline; signal_writable runs request_cancel_mux first when this holds
// (spec.md §4.3).
func (tc *Tconn) HasCancelWork() bool {
	return tc.cancel.Len() > 0 || tc.cancelPartial != nil
}
