package trunk

import "trunk/internal/flog"

// This file handles connection-level state transitions (spec.md §4.5,
// §4.7): a Connection's Watcher calls into onConnActive/onConnFailed/
// onConnClosed, and the user-facing SignalWritable/SignalReadable/
// SignalActive/SignalInactive/SignalReconnect live here alongside them since
// all of them ultimately route through detachTconn or drainBacklogOnto.

// onConnActive fires when a Connection reports it is usable for the first
// time (Halted/Connecting -> Active), or after a reconnect. A tconn the
// caller previously marked Inactive stays Inactive until an explicit
// SignalActive (the "sticky" rule, spec.md §4.3).
func (t *Trunk) onConnActive(tc *Tconn) {
	if tc.userInactive {
		t.pools.transition(tc, ConnInactive)
		return
	}
	t.pools.transition(tc, ConnActive)
	t.drainBacklogOnto(tc)
}

// onConnFailed fires when a Connection dies outright. Every request it was
// holding is requeued or failed per detachTconn, and the tconn itself moves
// to Failed rather than Closed, since nothing closed it on purpose.
func (t *Trunk) onConnFailed(tc *Tconn, err error) {
	t.pools.transition(tc, ConnFailed)
	t.detachTconn(tc, ReasonMove)
	flog.Warnf("trunk: connection %d failed: %v", tc.id, err)
}

// onConnClosed fires once a Connection has fully torn down, whether from a
// graceful drain (maybeCloseDraining called conn.Close()) or from the
// engine's own housekeeping. Any work still attached (possible if Close was
// called out of band) is detached first.
func (t *Trunk) onConnClosed(tc *Tconn) {
	if tc.state != ConnFailed {
		t.detachTconn(tc, ReasonMove)
	}
	t.closeTconn(tc)
}

// failRequest resolves r as failed outright, with no container to remove it
// from (used for backlog items already drained wholesale, e.g. on Stop).
func (t *Trunk) failRequest(r *Request, err error) {
	r.state = StateFailed
	r.tconn = nil
	t.cb.RequestFail(r, err)
	t.releaseRequest(r)
}

// detachTconn forcibly clears every request tc is holding (spec.md §4.2,
// §4.7): every treq in partial ∪ pending ∪ sent moves to Unassigned with
// reason Move (or whatever reason is given) and gets an advisory
// RequestCancel first, regardless of whether it had ever reached the wire —
// the callback exists so the caller can detach its own tracking, not to
// report what the wire actually carried. Requests already mid-cancellation
// are not requeued: the far end that would have acknowledged the cancel is
// gone, so they resolve as failed instead of being silently resurrected on
// another tconn.
func (t *Trunk) detachTconn(tc *Tconn, reason Reason) {
	var toRequeue []*Request

	toRequeue = append(toRequeue, tc.pending.Drain()...)
	if tc.partial != nil {
		toRequeue = append(toRequeue, tc.partial)
		tc.partial = nil
	}
	toRequeue = append(toRequeue, tc.sent.drain()...)

	var toFail []*Request
	toFail = append(toFail, tc.cancel.Drain()...)
	if tc.cancelPartial != nil {
		toFail = append(toFail, tc.cancelPartial)
		tc.cancelPartial = nil
	}
	toFail = append(toFail, tc.cancelSent.drain()...)

	for _, r := range toRequeue {
		r.reason = reason
		if t.cb.RequestCancel != nil {
			t.cb.RequestCancel(r, reason)
		}
		r.tconn = nil
		r.state = StateUnassigned
		t.routeOrBacklog(r)
	}
	for _, r := range toFail {
		r.state = StateFailed
		r.tconn = nil
		t.cb.RequestFail(r, ErrCancelled)
		t.releaseRequest(r)
	}
}

// SignalWritable is called when the caller's event loop reports tc is
// writable. Queued cancellations drain first if any are pending, then
// ordinary requests, matching Design Notes' requirement that a cancel for a
// request already sent must reach the wire promptly (spec.md §4.3, §4.6).
func (t *Trunk) SignalWritable(tc *Tconn) error {
	if tc.HasCancelWork() && t.cb.RequestCancelMux != nil {
		if err := t.cb.RequestCancelMux(tc); err != nil {
			return err
		}
	}
	if tc.partial == nil && tc.pending.Len() > 0 {
		if err := t.cb.RequestMux(tc); err != nil {
			return err
		}
	}
	tc.notify()
	return nil
}

// SignalReadable is called when tc's underlying Connection has bytes ready.
func (t *Trunk) SignalReadable(tc *Tconn) error {
	err := t.cb.RequestDemux(tc)
	tc.notify()
	return err
}

// SignalActive clears tc's sticky inactive flag and, if tc was Inactive,
// reactivates it immediately (spec.md §4.3).
func (t *Trunk) SignalActive(tc *Tconn) {
	tc.userInactive = false
	if tc.state == ConnInactive {
		t.pools.transition(tc, ConnActive)
		t.drainBacklogOnto(tc)
	}
}

// SignalInactive marks tc Inactive: it keeps whatever it is already
// holding but stops receiving new work from the backlog until SignalActive
// (spec.md §4.3). The flag is sticky across a future reconnect.
func (t *Trunk) SignalInactive(tc *Tconn) {
	tc.userInactive = true
	if tc.state == ConnActive {
		t.pools.transition(tc, ConnInactive)
	}
}

// SignalReconnect asks tc to drop and re-establish (spec.md §4.5, §4.7).
// Every request it holds is detached and requeued/failed exactly as on an
// unplanned failure, then the underlying Connection is asked to reconnect;
// tc re-enters the pool as Connecting and reports Active again through the
// normal Watcher path.
func (t *Trunk) SignalReconnect(tc *Tconn, reason Reason) error {
	t.pools.transition(tc, ConnConnecting)
	t.detachTconn(tc, reason)
	return tc.conn.Reconnect(reason)
}
