package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func replicaFor(p *Instance, name string, priority int, runID string) *Instance {
	now := time.Now()
	r := newInstance(KindReplica, name, Address{IP: "10.0.1.1", Port: 6380})
	r.Master = p
	r.Priority = priority
	r.RunID = runID
	r.LastValidPong = now
	r.LastInfoRefresh = now
	p.Replicas[name] = r
	return r
}

func TestSelectReplicaLockedExcludesPriorityZero(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	replicaFor(p, "r1", 0, "run-a")
	best := replicaFor(p, "r2", 10, "run-b")

	got := selectReplicaLocked(time.Now(), p)
	assert.Same(t, best, got)
}

func TestSelectReplicaLockedLowerPriorityWins(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	best := replicaFor(p, "r1", 1, "run-a")
	replicaFor(p, "r2", 100, "run-b")

	got := selectReplicaLocked(time.Now(), p)
	assert.Same(t, best, got)
}

func TestSelectReplicaLockedTiebreaksByRunID(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	best := replicaFor(p, "r1", 5, "aaa")
	replicaFor(p, "r2", 5, "zzz")

	got := selectReplicaLocked(time.Now(), p)
	assert.Same(t, best, got)
}

func TestSelectReplicaLockedExcludesSDown(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	down := replicaFor(p, "r1", 1, "run-a")
	down.Flags.set(FlagSDown)
	best := replicaFor(p, "r2", 100, "run-b")

	got := selectReplicaLocked(time.Now(), p)
	assert.Same(t, best, got)
}

func TestSelectReplicaLockedExcludesStaleInfo(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	now := time.Now()
	stale := replicaFor(p, "r1", 1, "run-a")
	stale.LastInfoRefresh = now.Add(-InfoValidityTime - InfoPeriod - time.Second)
	best := replicaFor(p, "r2", 100, "run-b")

	got := selectReplicaLocked(now, p)
	assert.Same(t, best, got)
}

func TestSelectReplicaLockedNoCandidates(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	assert.Nil(t, selectReplicaLocked(time.Now(), p))
}

func TestAbortFailoverLockedResetsState(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	p.FailoverState = StateSelectSlave
	p.PromotedReplica = replicaFor(p, "r1", 1, "run-a")

	sv.abortFailoverLocked(p, "test-abort", false)

	assert.Equal(t, StateNone, p.FailoverState)
}
