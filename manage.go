package trunk

import (
	"time"

	"trunk/internal/flog"
)

// Tick runs the trunk's periodic management pass (spec.md §4.5): the
// embedding event loop should call it roughly every Config.ManageInterval.
// now is threaded through rather than read internally so tests can drive it
// deterministically.
func (t *Trunk) Tick(now time.Time) {
	if t.stopping {
		return
	}
	t.enforceLifetimes(now)
	t.enforceMinimum()
	t.enforceTargetHysteresis(now)
}

// enforceLifetimes drains any Active/Inactive tconn past Config.MaxUses or
// Config.Lifetime. It asks the tconn to reconnect rather than yanking it, so
// in-flight requests land elsewhere instead of failing outright.
func (t *Trunk) enforceLifetimes(now time.Time) {
	var expired []*Tconn
	t.pools.each(func(tc *Tconn) {
		if tc.state != ConnActive && tc.state != ConnInactive {
			return
		}
		if t.cfg.MaxUses > 0 && tc.uses >= t.cfg.MaxUses {
			expired = append(expired, tc)
			return
		}
		if t.cfg.Lifetime > 0 && now.Sub(tc.createdAt) >= t.cfg.Lifetime {
			expired = append(expired, tc)
		}
	})
	for _, tc := range expired {
		if err := t.SignalReconnect(tc, ReasonMove); err != nil {
			flog.Warnf("trunk: lifetime reconnect of connection %d failed: %v", tc.id, err)
		}
	}
}

// enforceMinimum tops the pool up to Config.Min, bounded by Config.Max and
// no more than Config.Connecting simultaneous connection attempts
// (spec.md §4.5).
func (t *Trunk) enforceMinimum() {
	have := t.pools.count(ConnNonClosed)
	connecting := t.pools.count(ConnConnecting)
	for have < int(t.cfg.Min) && have < int(t.cfg.Max) && connecting < int(t.cfg.Connecting) {
		if _, err := t.spawnConn(); err != nil {
			flog.Warnf("trunk: enforce_minimum: spawn failed: %v", err)
			break
		}
		have++
		connecting++
	}
}

// enforceTargetHysteresis opens a connection once average load across
// Active and Inactive tconns (backlog included) has sat above
// Config.TargetReqPerConn for Config.OpenDelay, and drains the best-ranked
// Active connection (pools.bestActive) once it has sat below the target for
// Config.CloseDelay, provided the Active pool would not drop under
// Config.Min (spec.md §4.5). TargetReqPerConn of 0 disables the whole
// mechanism.
func (t *Trunk) enforceTargetHysteresis(now time.Time) {
	if t.cfg.TargetReqPerConn == 0 {
		return
	}
	active := t.pools.count(ConnActive)
	// A tconn that filled to max_req_per_conn sits in Inactive
	// (checkAutoCapacity) and still carries load, so it counts toward the
	// measurement alongside the Active ones.
	inService := t.pools.count(ConnActive | ConnInactive)
	if inService == 0 {
		t.aboveTargetSince = time.Time{}
		t.belowTargetSince = time.Time{}
		return
	}

	// The measurement is pending-per-active-connection across the whole
	// trunk, not just what already fit inside max_req_per_conn: backlogged
	// requests are demand an Active tconn would be carrying if it had
	// spare capacity, so they count toward the average that decides
	// whether to grow the pool.
	var totalLoad int
	t.pools.each(func(tc *Tconn) {
		if tc.state&(ConnActive|ConnInactive) != 0 {
			totalLoad += tc.Load()
		}
	})
	totalLoad += t.backlog.len()
	avg := float64(totalLoad) / float64(inService)
	target := float64(t.cfg.TargetReqPerConn)

	if avg > target {
		t.belowTargetSince = time.Time{}
		if t.aboveTargetSince.IsZero() {
			t.aboveTargetSince = now
			return
		}
		if now.Sub(t.aboveTargetSince) < t.cfg.OpenDelay {
			return
		}
		if t.pools.count(ConnNonClosed) < int(t.cfg.Max) && t.pools.count(ConnConnecting) < int(t.cfg.Connecting) {
			if _, err := t.spawnConn(); err != nil {
				flog.Warnf("trunk: open_delay: spawn failed: %v", err)
			}
		}
		t.aboveTargetSince = now
		return
	}

	t.aboveTargetSince = time.Time{}
	if avg >= target || active <= int(t.cfg.Min) {
		t.belowTargetSince = time.Time{}
		return
	}
	if t.belowTargetSince.IsZero() {
		t.belowTargetSince = now
		return
	}
	if now.Sub(t.belowTargetSince) < t.cfg.CloseDelay {
		return
	}
	if tc := t.pools.bestActive(); tc != nil {
		t.pools.transition(tc, ConnDraining)
		t.maybeCloseDraining(tc)
	}
	t.belowTargetSince = now
}
