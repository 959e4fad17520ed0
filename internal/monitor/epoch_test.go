package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVoteLockedIsFirstComeFirstServedWithinEpoch(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	leader, epoch := sv.voteLocked(p, 5, "runid-A", time.Now())
	assert.Equal(t, "runid-A", leader)
	assert.Equal(t, uint64(5), epoch)

	// A later ask in the same epoch must get the first answer back,
	// not overwrite it with a different candidate.
	leader2, epoch2 := sv.voteLocked(p, 5, "runid-B", time.Now())
	assert.Equal(t, "runid-A", leader2)
	assert.Equal(t, uint64(5), epoch2)

	// A higher epoch is a fresh election and may pick a new leader.
	leader3, epoch3 := sv.voteLocked(p, 6, "runid-B", time.Now())
	assert.Equal(t, "runid-B", leader3)
	assert.Equal(t, uint64(6), epoch3)
}

func TestVoteLockedBumpsGlobalEpoch(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	sv.voteLocked(p, 42, "some-run-id", time.Now())
	assert.Equal(t, uint64(42), sv.currentEpoch)
}

func TestVoteLockedRejectsVoteStaleAgainstCurrentEpoch(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	// current_epoch has already moved to 10 (e.g. from a peer's Hello),
	// but this primary's own leader_epoch is still at 0. A vote request
	// carrying req_epoch=3 beats the primary's stored leader_epoch but
	// is stale relative to current_epoch, so it must not win the slot.
	sv.currentEpoch = 10

	leader, epoch := sv.voteLocked(p, 3, "runid-A", time.Now())
	assert.Equal(t, "", leader)
	assert.Equal(t, uint64(0), epoch)
}

func TestVoteLockedJittersFailoverStartTime(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	now := time.Now()

	sv.voteLocked(p, 1, "runid-A", now)

	assert.False(t, p.FailoverStartTime.Before(now), "jitter must not move start time earlier than now")
	assert.True(t, p.FailoverStartTime.Before(now.Add(2*time.Second+time.Millisecond)), "jitter must stay within the 0-2s window")
}

func TestStartElectionLockedSelfVotes(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	sv.startElectionLocked(p, time.Now())

	assert.Equal(t, sv.selfRunID, p.Leader)
	assert.Equal(t, sv.currentEpoch, p.FailoverEpoch)
	assert.Equal(t, p.FailoverEpoch, p.LeaderEpoch)
}

func TestTallyElectionLockedRequiresQuorumAndMajority(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 3)

	sv.startElectionLocked(p, time.Now())

	// Only the self-vote exists so far: 1 vote, but quorum is 3 and
	// there are no peers yet so majority is 1 -- needed is max(3,1)=3.
	votes, won := sv.tallyElectionLocked(p)
	assert.Equal(t, 1, votes)
	assert.False(t, won)

	peer1 := newInstance(KindPeer, "peer1", Address{IP: "10.0.0.2", Port: 26379})
	peer1.Leader = sv.selfRunID
	peer1.LeaderEpoch = p.FailoverEpoch
	peer2 := newInstance(KindPeer, "peer2", Address{IP: "10.0.0.3", Port: 26379})
	peer2.Leader = sv.selfRunID
	peer2.LeaderEpoch = p.FailoverEpoch
	p.Peers["peer1"] = peer1
	p.Peers["peer2"] = peer2

	votes, won = sv.tallyElectionLocked(p)
	assert.Equal(t, 3, votes)
	assert.True(t, won)
}

func TestTallyElectionLockedIgnoresStaleEpochVotes(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 1)
	sv.startElectionLocked(p, time.Now())

	peer := newInstance(KindPeer, "peer1", Address{IP: "10.0.0.2", Port: 26379})
	peer.Leader = sv.selfRunID
	peer.LeaderEpoch = p.FailoverEpoch - 1 // vote for a previous epoch
	p.Peers["peer1"] = peer

	votes, _ := sv.tallyElectionLocked(p)
	assert.Equal(t, 1, votes, "a vote recorded against a stale epoch must not count")
}
