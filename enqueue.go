package trunk

// Enqueue routes r onto the best available Active tconn, or the trunk-wide
// backlog if none qualifies right now (spec.md §4.4). r must have just come
// from Alloc (state Unassigned).
func (t *Trunk) Enqueue(r *Request) EnqueueResult {
	if r == nil {
		return Fail
	}
	if r.state != StateUnassigned {
		return Fail
	}
	if t.stopping {
		return Fail
	}

	if tc := t.pickTconn(); tc != nil {
		t.assignToTconn(r, tc)
		return Ok
	}

	if t.cfg.Max == 0 {
		return DstUnavailable
	}
	if !t.cfg.AllowsBacklogAtMax() && t.pools.count(ConnNonClosed) >= int(t.cfg.Max) && t.pools.count(ConnConnecting) == 0 {
		return NoCapacity
	}

	t.backlog.push(r)
	return InBacklog
}

// routeOrBacklog re-admits a request that already belongs to the trunk
// (one requeued after its tconn died, drained, or was asked to reconnect).
// Unlike Enqueue it never rejects: a request the trunk already accepted
// either finds a new tconn or waits in the backlog.
func (t *Trunk) routeOrBacklog(r *Request) {
	if tc := t.pickTconn(); tc != nil {
		t.assignToTconn(r, tc)
		return
	}
	t.backlog.push(r)
}

// pickTconn returns the best Active tconn with spare capacity under
// max_req_per_conn, or nil if none qualifies.
func (t *Trunk) pickTconn() *Tconn {
	tc := t.pools.bestActive()
	if tc == nil {
		return nil
	}
	if t.cfg.MaxReqPerConn > 0 && uint32(tc.Load()) >= t.cfg.MaxReqPerConn {
		return nil
	}
	return tc
}

func (t *Trunk) assignToTconn(r *Request, tc *Tconn) {
	r.tconn = tc
	r.state = StatePending
	tc.pending.Push(r)
	t.pools.fixActive(tc)
	t.checkAutoCapacity(tc)
	t.pokeMux(tc)
}

// drainBacklogOnto pulls requests off the trunk backlog onto tc for as long
// as both have room, used when tc becomes Active or its load drops enough to
// take more work (spec.md §4.4, §4.5).
func (t *Trunk) drainBacklogOnto(tc *Tconn) {
	for t.backlog.len() > 0 {
		if t.cfg.MaxReqPerConn > 0 && uint32(tc.Load()) >= t.cfg.MaxReqPerConn {
			break
		}
		r := t.backlog.pop()
		r.tconn = tc
		r.state = StatePending
		tc.pending.Push(r)
	}
	t.pools.fixActive(tc)
	t.checkAutoCapacity(tc)
	t.pokeMux(tc)
}

// checkAutoCapacity applies the automatic Active<->Inactive transition of
// spec.md §4.3: a tconn that fills to max_req_per_conn stops accepting new
// routing until its load falls back below the threshold. It never overrides
// a user-sticky SignalInactive, and never fires when max_req_per_conn is 0
// (no cap).
func (t *Trunk) checkAutoCapacity(tc *Tconn) {
	if t.cfg.MaxReqPerConn == 0 {
		return
	}
	load := uint32(tc.Load())
	switch tc.state {
	case ConnActive:
		if load >= t.cfg.MaxReqPerConn {
			t.pools.transition(tc, ConnInactive)
		}
	case ConnInactive:
		if !tc.userInactive && load < t.cfg.MaxReqPerConn {
			t.pools.transition(tc, ConnActive)
			t.drainBacklogOnto(tc)
		}
	}
}

// pokeMux gives tc a chance to write immediately when writability is
// implicit (Config.AlwaysWritable); otherwise it just recomputes I/O
// interest so the caller's event loop picks the change up (spec.md §4.3).
func (t *Trunk) pokeMux(tc *Tconn) {
	if t.cfg.AlwaysWritable {
		_ = t.cb.RequestMux(tc)
		return
	}
	tc.notify()
}
