package trunk

// Snapshot is a point-in-time view of the trunk's population and request
// queues, returned by Stats (§12.1 of SPEC_FULL.md).
type Snapshot struct {
	Halted         int
	Connecting     int
	Active         int
	Inactive       int
	Draining       int
	DrainingToFree int
	Failed         int

	Backlog int

	Pending    int
	Sent       int
	Cancelling int
}

// Stats computes a fresh Snapshot. It is O(tconns+requests) and meant for
// periodic introspection, not a hot-path call.
func (t *Trunk) Stats() Snapshot {
	s := Snapshot{
		Halted:         t.pools.count(ConnHalted),
		Connecting:     t.pools.count(ConnConnecting),
		Active:         t.pools.count(ConnActive),
		Inactive:       t.pools.count(ConnInactive),
		Draining:       t.pools.count(ConnDraining),
		DrainingToFree: t.pools.count(ConnDrainingToFree),
		Failed:         t.pools.count(ConnFailed),
		Backlog:        t.backlog.len(),
	}
	t.pools.each(func(tc *Tconn) {
		s.Pending += tc.pending.Len()
		s.Sent += tc.sent.len()
		if tc.partial != nil {
			s.Pending++
		}
		s.Cancelling += tc.cancel.Len() + tc.cancelSent.len()
		if tc.cancelPartial != nil {
			s.Cancelling++
		}
	})
	return s
}
