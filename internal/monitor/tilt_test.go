package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckTiltLockedEntersOnClockJump(t *testing.T) {
	sv := newTestSupervisor()
	base := time.Now()
	sv.prevTick = base

	sv.checkTiltLocked(base.Add(1 * time.Second))
	assert.False(t, sv.tiltActiveLocked(), "a small forward delta must not trigger TILT")

	sv.checkTiltLocked(base.Add(1*time.Second + TiltTrigger + time.Second))
	assert.True(t, sv.tiltActiveLocked(), "a delta past TiltTrigger must enter TILT")
}

func TestCheckTiltLockedEntersOnBackwardsClock(t *testing.T) {
	sv := newTestSupervisor()
	base := time.Now()
	sv.prevTick = base

	sv.checkTiltLocked(base.Add(-5 * time.Second))
	assert.True(t, sv.tiltActiveLocked(), "time moving backwards must enter TILT")
}

func TestCheckTiltLockedExitsAfterPeriod(t *testing.T) {
	sv := newTestSupervisor()
	base := time.Now()
	sv.prevTick = base
	sv.checkTiltLocked(base.Add(-1 * time.Second))
	if !sv.tiltActiveLocked() {
		t.Fatal("expected TILT to be active after a backwards clock jump")
	}
	tiltStart := sv.tilt.startedAt

	sv.checkTiltLocked(tiltStart.Add(TiltPeriod / 2))
	assert.True(t, sv.tiltActiveLocked(), "TILT must remain active before the period elapses")

	sv.checkTiltLocked(tiltStart.Add(TiltPeriod + time.Second))
	assert.False(t, sv.tiltActiveLocked(), "TILT must clear once the period elapses")
}

func TestTickSkipsFailoverStepWhileTilted(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	p.FailoverState = StateWaitStart

	sv.mu.Lock()
	sv.prevTick = time.Now().Add(-1 * time.Hour) // force a TILT-triggering gap
	sv.mu.Unlock()

	sv.Tick()

	assert.Equal(t, StateWaitStart, p.FailoverState, "failover stepping must not advance while tilted")
}
