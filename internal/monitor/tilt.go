package monitor

import "time"

// tiltState implements the TILT safety mode, spec.md §4.8: on a clock
// jump or a long stall between ticks, probing keeps running but the
// "acting half" -- ODOWN escalation, vote emission, failover stepping
// -- is suppressed until the period elapses.
type tiltState struct {
	active    bool
	startedAt time.Time
}

// checkTiltLocked must be called once per tick, before anything else,
// with sv.mu held. now is passed in rather than read from time.Now()
// so tests can drive synthetic clock jumps.
func (sv *Supervisor) checkTiltLocked(now time.Time) {
	delta := now.Sub(sv.prevTick)
	sv.prevTick = now

	if !sv.tilt.active {
		if delta < 0 || delta > TiltTrigger {
			sv.tilt.active = true
			sv.tilt.startedAt = now
			sv.emitPlusLocked(eventTilt, nil, false, "clock jump or stall detected, delta=%s", delta)
		}
		return
	}

	if now.Sub(sv.tilt.startedAt) >= TiltPeriod {
		sv.tilt.active = false
		sv.emitMinusLocked(eventTilt, nil, false, "tilt period elapsed")
	}
}

func (sv *Supervisor) tiltActiveLocked() bool {
	return sv.tilt.active
}
