package trunk

// This file implements the request-side Signal* operations of spec.md §4.3
// and §4.6: the entry points a connection engine calls as it writes,
// reads, and cancels requests on a tconn. Each one asserts the request was
// in the state it is documented to come from (spec.md §8 invariant 1: a
// request is in exactly one state and one container at a time) and leaves
// it in exactly one new state/container.

// SignalPartial records that r's bytes were partially written to the wire.
// Only one request may be Partial per tconn at a time (spec.md §4.2); it
// occupies that slot until SignalSent.
func (t *Trunk) SignalPartial(r *Request) {
	assert(r.state == StatePending, "SignalPartial: request %d not Pending (got %s)", r.seq, r.state)
	tc := r.tconn
	assert(tc.partial == nil, "SignalPartial: tconn %d already has a partial request", tc.id)
	r.state = StatePartial
	tc.partial = r
}

// SignalSent records that r was fully written, either directly from Pending
// (the whole write fit in one call) or from Partial (a prior partial write
// finished).
func (t *Trunk) SignalSent(r *Request) {
	tc := r.tconn
	switch r.state {
	case StatePartial:
		assert(tc.partial == r, "SignalSent: tconn %d partial slot holds a different request", tc.id)
		tc.partial = nil
	case StatePending:
	default:
		assert(false, "SignalSent: request %d not Pending/Partial (got %s)", r.seq, r.state)
	}
	r.state = StateSent
	tc.sent.add(r)
	tc.uses++
	tc.notify()
}

// SignalComplete delivers a successful result for a Sent request.
func (t *Trunk) SignalComplete(r *Request) {
	tc := r.tconn
	assert(r.state == StateSent, "SignalComplete: request %d not Sent (got %s)", r.seq, r.state)
	tc.sent.remove(r)
	r.state = StateComplete
	t.cb.RequestComplete(r)
	t.releaseRequest(r)
	t.afterDetach(tc)
}

// SignalFail fails r outright from Backlog, Pending, Partial, or Sent.
func (t *Trunk) SignalFail(r *Request, err error) {
	tc := r.tconn
	switch r.state {
	case StateBacklog:
		t.backlog.remove(r)
	case StatePending:
		// A request RequestMux already popped is no longer in the heap.
		if r.heapIdx >= 0 {
			tc.pending.Remove(r.heapIdx)
		}
	case StatePartial:
		tc.partial = nil
	case StateSent:
		tc.sent.remove(r)
	default:
		assert(false, "SignalFail: request %d in unexpected state %s", r.seq, r.state)
	}
	r.state = StateFailed
	t.cb.RequestFail(r, err)
	t.releaseRequest(r)
	if tc != nil {
		t.afterDetach(tc)
	}
}

// SignalCancel asks to cancel r (spec.md §4.6). A request that never left
// Backlog/Unassigned is dropped immediately with no RequestCancelMux
// round-trip, since no bytes for it were ever written. One already Pending,
// Partial, or Sent moves into the cancel pipeline if Callbacks.RequestCancelMux
// is configured, or is failed immediately if it isn't (Callbacks doc comment,
// "nil means cancelling a Sent/Partial request short-circuits to a silent
// fail/detach").
func (t *Trunk) SignalCancel(r *Request, reason Reason) {
	r.reason = reason
	switch r.state {
	case StateUnassigned, StateBacklog:
		if r.state == StateBacklog {
			t.backlog.remove(r)
		}
		t.finishCancel(r, reason, nil)
	case StatePending:
		// Never reached the wire at all: always short-circuit, even if a
		// RequestCancelMux is configured (spec.md §4.6, "never Sent/Partial").
		tc := r.tconn
		tc.pending.Remove(r.heapIdx)
		t.finishCancel(r, reason, tc)
	case StatePartial:
		tc := r.tconn
		tc.partial = nil
		t.beginCancelOrFinish(r, tc, reason)
	case StateSent:
		tc := r.tconn
		tc.sent.remove(r)
		t.beginCancelOrFinish(r, tc, reason)
	default:
		// Already cancelling or already terminal: cancelling twice is a
		// caller no-op, not an invariant violation.
	}
}

func (t *Trunk) beginCancelOrFinish(r *Request, tc *Tconn, reason Reason) {
	if t.cb.RequestCancelMux == nil {
		t.finishCancel(r, reason, tc)
		return
	}
	if t.cb.RequestCancel != nil {
		t.cb.RequestCancel(r, reason)
	}
	r.state = StateCancel
	r.tconn = tc
	tc.cancel.Push(r)
	tc.notify()
}

func (t *Trunk) finishCancel(r *Request, reason Reason, tc *Tconn) {
	r.state = StateFailed
	r.tconn = nil
	t.cb.RequestFail(r, ErrCancelled)
	t.releaseRequest(r)
	if tc != nil {
		t.afterDetach(tc)
	}
}

// SignalCancelPartial is SignalPartial's counterpart for the cancel
// pipeline: a cancel packet was partially written to the wire.
func (t *Trunk) SignalCancelPartial(r *Request) {
	assert(r.state == StateCancel, "SignalCancelPartial: request %d not Cancel (got %s)", r.seq, r.state)
	tc := r.tconn
	assert(tc.cancelPartial == nil, "SignalCancelPartial: tconn %d already has a cancel-partial request", tc.id)
	r.state = StateCancelPartial
	tc.cancelPartial = r
}

// SignalCancelSent records that r's cancel packet was fully written.
func (t *Trunk) SignalCancelSent(r *Request) {
	tc := r.tconn
	switch r.state {
	case StateCancelPartial:
		assert(tc.cancelPartial == r, "SignalCancelSent: tconn %d cancel-partial slot holds a different request", tc.id)
		tc.cancelPartial = nil
	case StateCancel:
	default:
		assert(false, "SignalCancelSent: request %d not Cancel/CancelPartial (got %s)", r.seq, r.state)
	}
	r.state = StateCancelSent
	tc.cancelSent.add(r)
	tc.notify()
}

// SignalCancelComplete records that the far end acknowledged r's
// cancellation; the request resolves as Failed, since no application result
// will ever arrive for it. It is valid from either CancelSent (the usual
// case: the cancel packet was sent and the ack arrived) or Cancel (spec.md
// §4.6: a caller may learn of the cancellation's completion before the
// cancel-mux ever got around to writing it).
func (t *Trunk) SignalCancelComplete(r *Request) {
	tc := r.tconn
	switch r.state {
	case StateCancelSent:
		tc.cancelSent.remove(r)
	case StateCancel:
		tc.cancel.Remove(r.heapIdx)
	default:
		assert(false, "SignalCancelComplete: request %d not Cancel/CancelSent (got %s)", r.seq, r.state)
	}
	r.state = StateFailed
	t.cb.RequestFail(r, ErrCancelled)
	t.releaseRequest(r)
	t.afterDetach(tc)
}

// afterDetach runs whenever a request leaves a tconn (completed, failed, or
// cancelled): it re-orders the Active-pool heap for the load change, offers
// the freed capacity to the backlog, and closes tc if it was only waiting to
// drain (spec.md §4.5, §12.3).
func (t *Trunk) afterDetach(tc *Tconn) {
	if tc.state == ConnActive {
		t.pools.fixActive(tc)
		if t.backlog.len() > 0 {
			t.drainBacklogOnto(tc)
			return
		}
		tc.notify()
	} else if tc.state == ConnInactive {
		t.checkAutoCapacity(tc)
	}
	t.maybeCloseDraining(tc)
}

// maybeCloseDraining closes tc once a Draining/DrainingToFree tconn has
// nothing left in flight (§12.3: "a Draining tconn with an already-empty
// in-flight set closes on the next tick, not after a full extra interval").
func (t *Trunk) maybeCloseDraining(tc *Tconn) {
	if tc.state&ConnDrainingAny == 0 {
		return
	}
	if tc.Load() > 0 || tc.HasCancelWork() {
		return
	}
	_ = tc.conn.Close()
}
