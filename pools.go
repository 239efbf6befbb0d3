package trunk

import "trunk/internal/pqueue"

// pools is the trunk's index of tconns partitioned by lifecycle state
// (spec.md §4.4). Active tconns are kept in a priority heap ordered by
// Callbacks.ConnectionPrioritise, since routing needs "best candidate" in
// O(log n); every other state is a plain set, since nothing orders within
// them.
type pools struct {
	all            map[uint64]*Tconn
	active         pqueue.Heap[*Tconn]
	halted         map[uint64]*Tconn
	connecting     map[uint64]*Tconn
	inactive       map[uint64]*Tconn
	draining       map[uint64]*Tconn
	drainingToFree map[uint64]*Tconn
	failed         map[uint64]*Tconn
	closed         map[uint64]*Tconn
}

func newPools() *pools {
	return &pools{
		all:            make(map[uint64]*Tconn),
		halted:         make(map[uint64]*Tconn),
		connecting:     make(map[uint64]*Tconn),
		inactive:       make(map[uint64]*Tconn),
		draining:       make(map[uint64]*Tconn),
		drainingToFree: make(map[uint64]*Tconn),
		failed:         make(map[uint64]*Tconn),
		closed:         make(map[uint64]*Tconn),
	}
}

func (p *pools) setOf(state ConnState) map[uint64]*Tconn {
	switch state {
	case ConnHalted:
		return p.halted
	case ConnConnecting:
		return p.connecting
	case ConnInactive:
		return p.inactive
	case ConnDraining:
		return p.draining
	case ConnDrainingToFree:
		return p.drainingToFree
	case ConnFailed:
		return p.failed
	case ConnClosed:
		return p.closed
	default:
		return nil
	}
}

// insert adds a brand new tconn, initially in Halted state.
func (p *pools) insert(tc *Tconn) {
	assert(tc.state == ConnHalted, "new tconn must start Halted, got %s", tc.state)
	p.all[tc.id] = tc
	p.halted[tc.id] = tc
}

// transition moves tc from its current state container to newState,
// updating tc.state. It is the only place a Tconn's state field changes.
func (p *pools) transition(tc *Tconn, newState ConnState) {
	old := tc.state
	if old == newState {
		return
	}
	if old == ConnActive {
		p.active.Remove(tc.poolIdx)
	} else if s := p.setOf(old); s != nil {
		delete(s, tc.id)
	}

	tc.state = newState

	if newState == ConnActive {
		p.active.Push(tc)
	} else if s := p.setOf(newState); s != nil {
		s[tc.id] = tc
	} else {
		assert(false, "unknown target connection state %v", newState)
	}
}

// remove fully removes a tconn from the trunk's bookkeeping, used once it
// is genuinely gone (Closed and freed).
func (p *pools) remove(tc *Tconn) {
	if tc.state == ConnActive {
		if tc.poolIdx >= 0 {
			p.active.Remove(tc.poolIdx)
		}
	} else if s := p.setOf(tc.state); s != nil {
		delete(s, tc.id)
	}
	delete(p.all, tc.id)
}

// fixActive re-establishes the Active-pool heap ordering for tc after its
// load changed; a no-op if tc is not currently Active.
func (p *pools) fixActive(tc *Tconn) {
	if tc.state == ConnActive && tc.poolIdx >= 0 {
		p.active.Fix(tc.poolIdx)
	}
}

// bestActive returns the highest-priority Active tconn, or nil.
func (p *pools) bestActive() *Tconn {
	if p.active.Len() == 0 {
		return nil
	}
	return p.active.Peek()
}

// count returns the number of tconns whose state bit is set in mask
// (spec.md §3, §6 stats queries).
func (p *pools) count(mask ConnState) int {
	n := 0
	if mask&ConnHalted != 0 {
		n += len(p.halted)
	}
	if mask&ConnConnecting != 0 {
		n += len(p.connecting)
	}
	if mask&ConnActive != 0 {
		n += p.active.Len()
	}
	if mask&ConnInactive != 0 {
		n += len(p.inactive)
	}
	if mask&ConnDraining != 0 {
		n += len(p.draining)
	}
	if mask&ConnDrainingToFree != 0 {
		n += len(p.drainingToFree)
	}
	if mask&ConnFailed != 0 {
		n += len(p.failed)
	}
	if mask&ConnClosed != 0 {
		n += len(p.closed)
	}
	return n
}

// each calls fn for every tconn the trunk currently knows about, in
// unspecified order.
func (p *pools) each(fn func(*Tconn)) {
	for _, tc := range p.all {
		fn(tc)
	}
}

// eachActive calls fn for every Active tconn, in unspecified order.
func (p *pools) eachActive(fn func(*Tconn)) {
	p.active.Each(fn)
}
