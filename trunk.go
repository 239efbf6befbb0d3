package trunk

import (
	"context"
	"fmt"
	"time"

	"trunk/internal/flog"
	"trunk/internal/reqpool"
)

// Trunk is a managed bundle of homogeneous, long-lived outbound connections
// to a remote service, across which a stream of application requests is
// multiplexed (spec.md §1). It is not internally locked: every exported
// method must be called from the single thread that owns the embedding
// event loop (spec.md §5).
type Trunk struct {
	cfg *Config
	cb  *Callbacks

	pools   *pools
	backlog backlog
	reqs    *reqpool.Pool

	reqSeq  uint64
	connSeq uint64

	stopping bool

	aboveTargetSince time.Time
	belowTargetSince time.Time

	clock func() time.Time
}

// New constructs a Trunk from cfg and cb. cfg is validated; cb's required
// fields must all be set. It does not open any connections — call Start for
// that.
func New(cfg *Config, cb *Callbacks) (*Trunk, error) {
	if cfg == nil {
		return nil, fmt.Errorf("trunk: nil config")
	}
	if errs := cfg.validate(); len(errs) > 0 {
		return nil, fmt.Errorf("trunk: invalid config: %w", joinErrors(errs))
	}
	if err := cb.validate(); err != nil {
		return nil, err
	}
	t := &Trunk{
		cfg:   cfg,
		cb:    cb,
		pools: newPools(),
		reqs:  reqpool.New(cfg.ReqPoolHeaders, cfg.ReqPoolSize, cfg.ReqCleanupDelay),
		clock: time.Now,
	}
	return t, nil
}

func (t *Trunk) now() time.Time { return t.clock() }

// Config returns the trunk's (read-only) configuration.
func (t *Trunk) Config() *Config { return t.cfg }

// Start opens conf.start connections, as Halted connections transitioning
// to Connecting (spec.md §4.5 "Starting connections").
func (t *Trunk) Start() error {
	for i := uint16(0); i < t.cfg.Start; i++ {
		if _, err := t.spawnConn(); err != nil {
			return err
		}
	}
	return nil
}

// spawnConn allocates one new Halted tconn and asks it to start connecting.
// It is the only path that calls Callbacks.ConnectionAlloc.
func (t *Trunk) spawnConn() (*Tconn, error) {
	t.connSeq++
	id := t.connSeq
	tc := newTconn(t, id, nil)
	w := &tconnWatcher{tc: tc}

	conn, err := t.cb.ConnectionAlloc(tc, w)
	if err != nil {
		return nil, fmt.Errorf("trunk: connection_alloc: %w", err)
	}
	if conn == nil {
		return nil, ErrNilConnection
	}
	tc.conn = conn
	t.pools.insert(tc)

	if err := conn.Start(); err != nil {
		// Allocation succeeded but start failed outright: treat as an
		// immediate failure so the tconn still traverses Failed, keeping
		// requeue/close bookkeeping uniform.
		t.pools.transition(tc, ConnFailed)
		flog.Warnf("trunk: connection %d failed to start: %v", tc.id, err)
		return tc, nil
	}
	return tc, nil
}

// tconnWatcher adapts Connection state-transition callbacks onto the
// owning Tconn's trunk (Design Notes §9: "an explicit observer interface
// the trunk registers once per tconn").
type tconnWatcher struct {
	tc *Tconn
}

func (w *tconnWatcher) OnConnecting() {
	w.tc.trunk.pools.transition(w.tc, ConnConnecting)
}

func (w *tconnWatcher) OnActive() {
	w.tc.trunk.onConnActive(w.tc)
}

func (w *tconnWatcher) OnFailed(err error) {
	w.tc.trunk.onConnFailed(w.tc, err)
}

func (w *tconnWatcher) OnClosed() {
	w.tc.trunk.onConnClosed(w.tc)
}

// Alloc allocates a new Request carrying preq/rctx, in state Unassigned
// (spec.md §4.1).
func (t *Trunk) Alloc(preq, rctx any) *Request {
	t.reqSeq++
	return &Request{
		seq:     t.reqSeq,
		state:   StateUnassigned,
		preq:    preq,
		rctx:    rctx,
		trunk:   t,
		heapIdx: -1,
		buf:     t.reqs.Get(),
	}
}

// releaseRequest runs Callbacks.RequestFree and returns r's scratch buffer
// to the reqpool's TTL free list, the terminal step for every path a
// request can resolve through (complete, fail, or cancel-complete).
func (t *Trunk) releaseRequest(r *Request) {
	t.cb.RequestFree(r)
	t.reqs.Release(r.seq, r.buf)
}

// Free releases r. Only valid while r is Unassigned or in a terminal state
// (spec.md §4.1); it is the caller's manual-discard path, distinct from the
// automatic RequestFree the trunk invokes after completion/failure. A
// terminal r has already run through releaseRequest via its Signal* call, so
// Free only hurries its buffer out of the TTL free list; an Unassigned r
// (allocated, then discarded without ever being enqueued) has never run
// RequestFree at all, so Free is the one place that must call it, to keep
// "RequestFree exactly once per treq" true for that path too.
func (t *Trunk) Free(r *Request) error {
	if r.state != StateUnassigned && !r.state.Terminal() {
		return fmt.Errorf("trunk: cannot free request in state %s: %w", r.state, ErrInvalidState)
	}
	if r.state == StateUnassigned {
		t.releaseRequest(r)
		return nil
	}
	t.reqs.Reclaim(r.seq)
	return nil
}

// Stop begins shutdown (§12.5 of SPEC_FULL.md): every backlogged request
// fails immediately, and every non-Closed tconn is detached (its held
// requests advisory-cancelled and failed, same as a connection loss) and
// told to Close. Stop does not block waiting for Close to complete — the
// single-threaded model has no way to do that without the embedding event
// loop's cooperation — it only reports whether shutdown was already
// complete by the time it ran, or ctx expired while tconns were still
// closing. Callers that need a true soft drain (let in-flight requests
// finish) should stop calling Enqueue, wait for Stats() to show no pending
// or sent requests, and only then call Stop.
func (t *Trunk) Stop(ctx context.Context) error {
	t.stopping = true

	for _, r := range t.backlog.drain() {
		t.failRequest(r, ErrStopping)
	}

	var toClose []*Tconn
	t.pools.each(func(tc *Tconn) {
		if tc.state != ConnClosed {
			toClose = append(toClose, tc)
		}
	})
	for _, tc := range toClose {
		t.pools.transition(tc, ConnDrainingToFree)
	}
	for _, tc := range toClose {
		t.detachTconn(tc, ReasonMove)
		_ = tc.conn.Close()
	}

	// detachTconn may have routed some requests back into the backlog
	// (nothing is Active anymore to claim them); those fail too.
	for _, r := range t.backlog.drain() {
		t.failRequest(r, ErrStopping)
	}

	if t.pools.count(ConnNonClosed) == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Draining reports whether the trunk has begun graceful shutdown.
func (t *Trunk) Draining() bool { return t.stopping }

// EachActive calls fn for every currently Active tconn, in unspecified
// order. It exists for event loops that need to enumerate connections to
// poll or select on (e.g. to call SignalReadable/SignalWritable once real
// I/O readiness arrives).
func (t *Trunk) EachActive(fn func(*Tconn)) {
	t.pools.eachActive(fn)
}

// closeTconn finalizes a Closed tconn: it is removed from trunk bookkeeping
// entirely.
func (t *Trunk) closeTconn(tc *Tconn) {
	t.pools.transition(tc, ConnClosed)
	t.pools.remove(tc)
}
