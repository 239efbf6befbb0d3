package trunk

import (
	"context"
	"testing"
	"time"
)

// fakeConn is a trivial Connection whose Start/Reconnect/Close are driven
// synchronously by the test, standing in for a real connengine.
type fakeConn struct {
	w          Watcher
	reconnects int
	closed     bool
}

func (f *fakeConn) Start() error                  { return nil }
func (f *fakeConn) Reconnect(reason Reason) error { f.reconnects++; return nil }
func (f *fakeConn) Close() error {
	f.closed = true
	f.w.OnClosed()
	return nil
}

type recorder struct {
	completed []uint64
	failed    []uint64
	freed     []uint64
	cancelled []uint64
}

func newTestTrunk(t *testing.T, cfg *Config) (*Trunk, map[uint64]*fakeConn, *recorder) {
	t.Helper()
	conns := make(map[uint64]*fakeConn)
	rec := &recorder{}

	cb := &Callbacks{
		ConnectionAlloc: func(tc *Tconn, w Watcher) (Connection, error) {
			fc := &fakeConn{w: w}
			conns[tc.ID()] = fc
			return fc, nil
		},
		ConnectionPrioritise: func(a, b *Tconn) bool { return a.Load() < b.Load() },
		RequestPrioritise:    func(a, b any) bool { return false },
		RequestMux:           func(tc *Tconn) error { return nil },
		RequestDemux:         func(tc *Tconn) error { return nil },
		RequestCancel: func(r *Request, reason Reason) {
			rec.cancelled = append(rec.cancelled, r.seq)
		},
		RequestComplete: func(r *Request) { rec.completed = append(rec.completed, r.seq) },
		RequestFail:     func(r *Request, err error) { rec.failed = append(rec.failed, r.seq) },
		RequestFree:     func(r *Request) { rec.freed = append(rec.freed, r.seq) },
	}

	tr, err := New(cfg, cb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tr, conns, rec
}

func baseConfig() *Config {
	cfg := &Config{Start: 1, Min: 1, Max: 4, Connecting: 2}
	cfg.setDefaults()
	return cfg
}

func TestEnqueueBacklogsWithNoActiveTconn(t *testing.T) {
	tr, _, _ := newTestTrunk(t, baseConfig())
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := tr.Alloc("payload", nil)
	got := tr.Enqueue(r)
	if got != InBacklog {
		t.Fatalf("Enqueue() = %s, want InBacklog", got)
	}
	if tr.backlog.len() != 1 {
		t.Fatalf("backlog.len() = %d, want 1", tr.backlog.len())
	}
}

func TestEnqueueRoutesOntoActiveTconn(t *testing.T) {
	tr, conns, _ := newTestTrunk(t, baseConfig())
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection allocated, got %d", len(conns))
	}
	for _, fc := range conns {
		fc.w.OnActive()
	}

	r := tr.Alloc("payload", nil)
	got := tr.Enqueue(r)
	if got != Ok {
		t.Fatalf("Enqueue() = %s, want Ok", got)
	}
	if r.state != StatePending {
		t.Fatalf("request state = %s, want Pending", r.state)
	}
	if r.tconn == nil || r.tconn.Load() != 1 {
		t.Fatalf("expected request assigned to a tconn with load 1")
	}
}

func TestBacklogDrainsOntoNewlyActiveTconn(t *testing.T) {
	tr, conns, _ := newTestTrunk(t, baseConfig())
	if err := tr.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	r := tr.Alloc("payload", nil)
	if got := tr.Enqueue(r); got != InBacklog {
		t.Fatalf("Enqueue() = %s, want InBacklog", got)
	}

	for _, fc := range conns {
		fc.w.OnActive()
	}

	if tr.backlog.len() != 0 {
		t.Fatalf("backlog.len() = %d, want 0 after activation", tr.backlog.len())
	}
	if r.state != StatePending {
		t.Fatalf("request state = %s, want Pending", r.state)
	}
}

func TestRequestLifecycleCompletes(t *testing.T) {
	tr, conns, rec := newTestTrunk(t, baseConfig())
	_ = tr.Start()
	for _, fc := range conns {
		fc.w.OnActive()
	}

	r := tr.Alloc("payload", nil)
	tr.Enqueue(r)
	tc := r.tconn

	popped := tc.PopRequest()
	if popped != r {
		t.Fatalf("PopRequest did not return the enqueued request")
	}
	tr.SignalPartial(r)
	if r.state != StatePartial {
		t.Fatalf("state = %s, want Partial", r.state)
	}
	if tc.PopRequest() != nil {
		t.Fatal("PopRequest must return nil while the partial slot is occupied")
	}
	tr.SignalSent(r)
	if r.state != StateSent {
		t.Fatalf("state = %s, want Sent", r.state)
	}
	if tc.Uses() != 1 {
		t.Fatalf("Uses() = %d, want 1", tc.Uses())
	}

	tr.SignalComplete(r)
	if r.state != StateComplete {
		t.Fatalf("state = %s, want Complete", r.state)
	}
	if len(rec.completed) != 1 || rec.completed[0] != r.seq {
		t.Fatalf("RequestComplete not invoked for seq %d: %v", r.seq, rec.completed)
	}
	if len(rec.freed) != 1 {
		t.Fatalf("RequestFree not invoked: %v", rec.freed)
	}
}

func TestSignalCancelPendingWithoutCancelMuxFailsImmediately(t *testing.T) {
	tr, conns, rec := newTestTrunk(t, baseConfig())
	_ = tr.Start()
	for _, fc := range conns {
		fc.w.OnActive()
	}

	r := tr.Alloc("payload", nil)
	tr.Enqueue(r)

	tr.SignalCancel(r, ReasonSignal)
	if r.state != StateFailed {
		t.Fatalf("state = %s, want Failed", r.state)
	}
	if len(rec.failed) != 1 || rec.failed[0] != r.seq {
		t.Fatalf("RequestFail not invoked for cancelled request: %v", rec.failed)
	}
}

func TestSignalCancelSentRoutesThroughCancelMux(t *testing.T) {
	cfg := baseConfig()
	tr, conns, rec := newTestTrunk(t, cfg)
	tr.cb.RequestCancelMux = func(tc *Tconn) error { return nil }
	_ = tr.Start()
	for _, fc := range conns {
		fc.w.OnActive()
	}

	r := tr.Alloc("payload", nil)
	tr.Enqueue(r)
	tc := r.tconn
	tc.PopRequest()
	tr.SignalSent(r)

	tr.SignalCancel(r, ReasonSignal)
	if r.state != StateCancel {
		t.Fatalf("state = %s, want Cancel", r.state)
	}
	if len(rec.cancelled) != 1 {
		t.Fatalf("RequestCancel not invoked: %v", rec.cancelled)
	}
	if !tc.HasCancelWork() {
		t.Fatal("tconn should report cancel work pending")
	}

	popped := tc.PopCancel()
	if popped != r {
		t.Fatal("PopCancel did not return the cancelled request")
	}
	tr.SignalCancelSent(r)
	if r.state != StateCancelSent {
		t.Fatalf("state = %s, want CancelSent", r.state)
	}
	tr.SignalCancelComplete(r)
	if r.state != StateFailed {
		t.Fatalf("state = %s, want Failed", r.state)
	}
}

// TestSignalCancelCompleteFromCancelState covers spec.md §4.6's
// signal_cancel_complete precondition state∈{CancelSent, Cancel}: an ack can
// arrive before the cancel-mux ever wrote the cancel packet.
func TestSignalCancelCompleteFromCancelState(t *testing.T) {
	cfg := baseConfig()
	tr, conns, rec := newTestTrunk(t, cfg)
	tr.cb.RequestCancelMux = func(tc *Tconn) error { return nil }
	_ = tr.Start()
	for _, fc := range conns {
		fc.w.OnActive()
	}

	r := tr.Alloc("payload", nil)
	tr.Enqueue(r)
	tc := r.tconn
	tc.PopRequest()
	tr.SignalSent(r)

	tr.SignalCancel(r, ReasonSignal)
	if r.state != StateCancel {
		t.Fatalf("state = %s, want Cancel", r.state)
	}

	tr.SignalCancelComplete(r)
	if r.state != StateFailed {
		t.Fatalf("state = %s, want Failed", r.state)
	}
	if len(rec.failed) != 1 || rec.failed[0] != r.seq {
		t.Fatalf("failed = %v, want exactly one entry for seq %d", rec.failed, r.seq)
	}
	if len(rec.freed) != 1 {
		t.Fatalf("freed = %v, want exactly one free", rec.freed)
	}
	if tc.HasCancelWork() {
		t.Fatal("tconn should have no cancel work left after SignalCancelComplete from Cancel")
	}
}

func TestConnectionFailureRequeuesPendingRequests(t *testing.T) {
	cfg := baseConfig()
	cfg.Start = 2
	cfg.Min = 2
	tr, conns, _ := newTestTrunk(t, cfg)
	_ = tr.Start()
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(conns))
	}
	for _, fc := range conns {
		fc.w.OnActive()
	}

	r := tr.Alloc("payload", nil)
	if got := tr.Enqueue(r); got != Ok {
		t.Fatalf("Enqueue() = %s, want Ok", got)
	}
	victim := r.tconn

	conns[victim.ID()].w.OnFailed(ErrStopping)

	if r.state != StatePending {
		t.Fatalf("state = %s, want Pending (requeued onto the surviving tconn)", r.state)
	}
	if r.tconn == victim {
		t.Fatal("request should have moved off the failed tconn")
	}
	if victim.State() != ConnFailed {
		t.Fatalf("victim state = %s, want Failed", victim.State())
	}
}

func TestStopFailsBacklogAndClosesConnections(t *testing.T) {
	tr, conns, rec := newTestTrunk(t, baseConfig())
	_ = tr.Start()

	r := tr.Alloc("payload", nil)
	tr.Enqueue(r)

	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if len(rec.failed) == 0 {
		t.Fatal("expected backlogged request to be failed on Stop")
	}
	for _, fc := range conns {
		if !fc.closed {
			t.Fatal("expected connection to be closed on Stop")
		}
	}
}

func TestTickEnforcesMinimum(t *testing.T) {
	cfg := baseConfig()
	cfg.Min = 2
	cfg.Start = 1
	tr, conns, _ := newTestTrunk(t, cfg)
	_ = tr.Start()
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection after Start, got %d", len(conns))
	}

	tr.Tick(time.Now())
	if len(conns) != 2 {
		t.Fatalf("expected Tick to top up to Min=2, got %d", len(conns))
	}
}

func TestFreeUnassignedRequestInvokesRequestFreeOnce(t *testing.T) {
	tr, _, rec := newTestTrunk(t, baseConfig())
	_ = tr.Start()

	r := tr.Alloc("never enqueued", nil)
	if err := tr.Free(r); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if len(rec.freed) != 1 || rec.freed[0] != r.seq {
		t.Fatalf("RequestFree calls = %v, want exactly one for seq %d", rec.freed, r.seq)
	}

	// Freeing an already-terminal request must not call RequestFree again
	// (it already ran once, from the Complete/Fail path).
	r2 := tr.Alloc("terminal", nil)
	tr.Enqueue(r2)
	r2.state = StateFailed
	rec.freed = nil
	if err := tr.Free(r2); err != nil {
		t.Fatalf("Free: %v", err)
	}
	if len(rec.freed) != 0 {
		t.Fatalf("RequestFree calls = %v, want none (already freed on the terminal path)", rec.freed)
	}
}

func TestStatsReflectsPopulation(t *testing.T) {
	tr, conns, _ := newTestTrunk(t, baseConfig())
	_ = tr.Start()
	for _, fc := range conns {
		fc.w.OnActive()
	}
	r := tr.Alloc("payload", nil)
	tr.Enqueue(r)

	s := tr.Stats()
	if s.Active != 1 {
		t.Fatalf("Stats().Active = %d, want 1", s.Active)
	}
	if s.Pending != 1 {
		t.Fatalf("Stats().Pending = %d, want 1", s.Pending)
	}
}
