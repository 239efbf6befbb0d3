package trunk

import "trunk/internal/pqueue"

// Request is one in-flight application request (treq, spec.md §4.1). It
// carries the caller's payload (preq) and result slot (rctx), which remain
// caller-owned until RequestFree fires (spec.md §3 "Ownership"); the trunk
// only ever reads them through the Callbacks vtable.
type Request struct {
	seq    uint64
	state  ReqState
	tconn  *Tconn // nil when Unassigned/Backlog/terminal
	preq   any
	rctx   any
	reason Reason

	trunk   *Trunk
	heapIdx int     // pqueue.Indexed bookkeeping; -1 when not queued
	buf     *[]byte // scratch buffer from the trunk's reqpool, for RequestMux/RequestDemux use
}

// Buf returns a scratch byte buffer reserved for this request's lifetime,
// sized per Config.ReqPoolHeaders, for mux/demux implementations that need
// header scratch space without allocating per request.
func (r *Request) Buf() *[]byte { return r.buf }

// Preq returns the caller's protocol payload.
func (r *Request) Preq() any { return r.preq }

// Rctx returns the caller's result slot.
func (r *Request) Rctx() any { return r.rctx }

// State returns the request's current lifecycle state.
func (r *Request) State() ReqState { return r.state }

// Tconn returns the connection currently holding this request, or nil.
func (r *Request) Tconn() *Tconn { return r.tconn }

// Reason returns the most recent cancellation/requeue reason recorded
// against this request (spec.md §4.1); ReasonNone if none has ever applied.
func (r *Request) Reason() Reason { return r.reason }

// Less implements pqueue.Item: total order via Callbacks.RequestPrioritise,
// with sequence number as the stable tie-break (spec.md §3, §5, §8
// invariant 7).
func (r *Request) Less(other pqueue.Item) bool {
	o := other.(*Request)
	if r.trunk.cb.RequestPrioritise(r.preq, o.preq) {
		return true
	}
	if o.trunk.cb.RequestPrioritise(o.preq, r.preq) {
		return false
	}
	return r.seq < o.seq
}

// HeapIndex and SetHeapIndex implement pqueue.Indexed.
func (r *Request) HeapIndex() int     { return r.heapIdx }
func (r *Request) SetHeapIndex(i int) { r.heapIdx = i }
