package trunk

// ReqState is the state of a single in-flight request (treq). A request is
// in exactly one state, and in at most one queue/container, at any time.
type ReqState int

const (
	// StateUnassigned: just allocated, or just detached from a tconn.
	StateUnassigned ReqState = iota
	// StateBacklog: sitting in the trunk-wide backlog heap.
	StateBacklog
	// StatePending: in a tconn's pending heap, not yet written.
	StatePending
	// StatePartial: partially written on one tconn (at most one per tconn).
	StatePartial
	// StateSent: fully written, awaiting a response.
	StateSent
	// StateReapable: completed, parked on the free list, not yet released.
	StateReapable
	// StateCancel: marked for cancellation, awaiting cancel-mux.
	StateCancel
	// StateCancelPartial: cancel bytes partially written (at most one per tconn).
	StateCancelPartial
	// StateCancelSent: cancel sent, awaiting a cancel-ack.
	StateCancelSent
	// StateComplete: result delivered. Terminal.
	StateComplete
	// StateFailed: terminal failure.
	StateFailed
)

func (s ReqState) String() string {
	switch s {
	case StateUnassigned:
		return "Unassigned"
	case StateBacklog:
		return "Backlog"
	case StatePending:
		return "Pending"
	case StatePartial:
		return "Partial"
	case StateSent:
		return "Sent"
	case StateReapable:
		return "Reapable"
	case StateCancel:
		return "Cancel"
	case StateCancelPartial:
		return "CancelPartial"
	case StateCancelSent:
		return "CancelSent"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a state transitions never leave.
func (s ReqState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// ConnState is a bitmask enum for a Tconn's lifecycle state. A given Tconn
// occupies exactly one of these values at a time; the mask representation
// exists so callers can query unions of states cheaply (see pools.count,
// which backs Trunk.Stats).
type ConnState uint8

const (
	ConnHalted ConnState = 1 << iota
	ConnConnecting
	ConnActive
	ConnInactive
	ConnDraining
	ConnDrainingToFree
	ConnFailed
	ConnClosed
)

// ConnReadable is the set of states in which a response could still arrive
// on the underlying Connection (§4.3 "Read is requested when...").
const ConnReadable = ConnActive | ConnInactive | ConnDraining | ConnDrainingToFree

// ConnDrainingAny is the set of "accepts no new work, closes when empty"
// states.
const ConnDrainingAny = ConnDraining | ConnDrainingToFree

// ConnNonClosed is every state except Closed, used for the conf.max bound.
const ConnNonClosed = ConnHalted | ConnConnecting | ConnActive | ConnInactive | ConnDrainingAny | ConnFailed

func (s ConnState) String() string {
	switch s {
	case ConnHalted:
		return "Halted"
	case ConnConnecting:
		return "Connecting"
	case ConnActive:
		return "Active"
	case ConnInactive:
		return "Inactive"
	case ConnDraining:
		return "Draining"
	case ConnDrainingToFree:
		return "DrainingToFree"
	case ConnFailed:
		return "Failed"
	case ConnClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Reason explains why a request was cancelled, requeued, or otherwise moved
// off a connection outside the normal complete/fail path.
type Reason int

const (
	// ReasonNone is the zero value: no cancellation reason set.
	ReasonNone Reason = iota
	// ReasonMove: the treq was requeued because its tconn died or was
	// asked to reconnect/drain; no cancel packet was sent for it.
	ReasonMove
	// ReasonSignal: the user explicitly called SignalCancel.
	ReasonSignal
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonMove:
		return "Move"
	case ReasonSignal:
		return "Signal"
	default:
		return "Unknown"
	}
}

// IOEvents is the set of I/O readiness a Tconn asks the caller to watch for
// on its underlying Connection (§4.3).
type IOEvents uint8

const (
	EventRead IOEvents = 1 << iota
	EventWrite
)

func (e IOEvents) Want(ev IOEvents) bool { return e&ev != 0 }
