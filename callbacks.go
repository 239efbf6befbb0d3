package trunk

// Connection is the handle the trunk holds for one physical connection. The
// connection engine that implements it owns the state machine of halted →
// connecting → connected → failed → closed, reconnection backoff, and
// timers (spec.md §1); the trunk only ever calls Start/Reconnect/Close and
// expects state transitions to arrive through the Watcher it is given at
// allocation time.
type Connection interface {
	// Start asks a Halted connection to begin connecting.
	Start() error
	// Reconnect asks a connected (or connecting) connection to drop and
	// re-establish, for whatever reason the caller names.
	Reconnect(reason Reason) error
	// Close tears the connection down for good.
	Close() error
}

// Watcher is the observer a Connection invokes on state transitions. The
// trunk implements it and registers it once per Tconn (Design Notes §9:
// "express as an explicit observer interface the trunk registers once per
// tconn; avoid global callback registries").
type Watcher interface {
	OnConnecting()
	OnActive()
	OnFailed(err error)
	OnClosed()
}

// Callbacks is the vtable a Trunk is constructed with (spec.md §6). Every
// field is required unless noted otherwise.
type Callbacks struct {
	// ConnectionAlloc produces a fresh Halted Connection and registers w as
	// its Watcher. The trunk calls Start() on the result itself.
	ConnectionAlloc func(tc *Tconn, w Watcher) (Connection, error)

	// ConnectionNotify is called whenever a Tconn's I/O interest changes
	// (spec.md §4.3). When Config.AlwaysWritable is true it is still
	// called, but the events never include EventWrite, since in that mode
	// writability is implicit.
	ConnectionNotify func(tc *Tconn, events IOEvents)

	// ConnectionPrioritise gives a strict weak ordering over Active tconns
	// for routing ("fewest requests first" is the typical choice); it must
	// return true iff a sorts strictly before b. Ties are broken by a
	// stable insertion sequence internally.
	ConnectionPrioritise func(a, b *Tconn) bool

	// RequestPrioritise gives a strict weak ordering over the user payload
	// (preq) carried by two requests, for use within pending/cancel/backlog
	// heaps. Ties are broken by insertion order internally.
	RequestPrioritise func(a, b any) bool

	// RequestMux drains tc's pending queue. The implementation calls
	// tc.PopRequest() itself, in a loop, to pull as many requests as it
	// wants to write in this one invocation; for each it writes what it
	// can and calls exactly one of SignalPartial/SignalSent/SignalFail.
	// Once it has called SignalPartial for a request, tc.PopRequest
	// returns nil until the partial slot clears, so the natural "write
	// until the socket pushes back" loop is also the contractually
	// correct one (spec.md §4.3, §5: "must not call pop_request again
	// after signalling partial").
	RequestMux func(tc *Tconn) error

	// RequestDemux is invoked when tc becomes readable. Implementations
	// read one logical response, correlate it to the originating request
	// (by whatever id their wire format carries), and call the matching
	// Signal* method.
	RequestDemux func(tc *Tconn) error

	// RequestCancelMux serializes queued cancellations onto tc, draining
	// via tc.PopCancel() the same way RequestMux drains tc.PopRequest().
	// Optional: a nil value means cancelling a Sent/Partial request
	// short-circuits straight to a silent fail/detach (spec.md §4.6,
	// signal_cancel row).
	RequestCancelMux func(tc *Tconn) error

	// RequestCancel notifies the caller that r is being cancelled, with
	// reason Move (connection loss/drain/reconnect) or Signal (explicit
	// SignalCancel). It is advisory; the caller may use it to detach its
	// own tracking of r. With reason Move it is called for every Pending,
	// Partial and Sent request of the tconn being detached. On SignalCancel
	// it is called only when r enters the cancel pipeline (r was Partial or
	// Sent and RequestCancelMux is set); any other cancelled request is
	// failed without it.
	RequestCancel func(r *Request, reason Reason)

	// RequestComplete delivers a successful result. Called at most once
	// per request, only after a prior SignalSent.
	RequestComplete func(r *Request)

	// RequestFail delivers a terminal failure.
	RequestFail func(r *Request, err error)

	// RequestFree is invoked exactly once per request, after
	// RequestComplete, RequestFail, or a cancel-complete, or from
	// Trunk.Free for a request that was never enqueued. The caller may
	// release preq/rctx here.
	RequestFree func(r *Request)
}

func (cb *Callbacks) validate() error {
	switch {
	case cb.ConnectionAlloc == nil:
		return newAssertion("Callbacks.ConnectionAlloc is required")
	case cb.ConnectionPrioritise == nil:
		return newAssertion("Callbacks.ConnectionPrioritise is required")
	case cb.RequestPrioritise == nil:
		return newAssertion("Callbacks.RequestPrioritise is required")
	case cb.RequestMux == nil:
		return newAssertion("Callbacks.RequestMux is required")
	case cb.RequestDemux == nil:
		return newAssertion("Callbacks.RequestDemux is required")
	case cb.RequestCancel == nil:
		return newAssertion("Callbacks.RequestCancel is required")
	case cb.RequestComplete == nil:
		return newAssertion("Callbacks.RequestComplete is required")
	case cb.RequestFail == nil:
		return newAssertion("Callbacks.RequestFail is required")
	case cb.RequestFree == nil:
		return newAssertion("Callbacks.RequestFree is required")
	}
	return nil
}
