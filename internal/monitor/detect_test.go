package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckSDownLockedMarksDownAfterSilence(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	p.DownAfterPeriod = 5 * time.Second
	now := time.Now()
	p.LastValidPong = now.Add(-10 * time.Second)

	checkSDownLocked(now, p)

	assert.True(t, p.Flags.has(FlagSDown))
	assert.Equal(t, now, p.SDownSince)
}

func TestCheckSDownLockedClearsOnFreshPong(t *testing.T) {
	p := newPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	p.DownAfterPeriod = 5 * time.Second
	p.Flags.set(FlagSDown)
	now := time.Now()
	p.LastValidPong = now

	checkSDownLocked(now, p)

	assert.False(t, p.Flags.has(FlagSDown))
	assert.True(t, p.SDownSince.IsZero())
}

func TestCheckODownLockedRequiresQuorumVotes(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 3)
	p.Flags.set(FlagSDown)
	now := time.Now()

	// Self vote only: 1 < quorum 3.
	sv.checkODownLocked(now, p)
	assert.False(t, p.Flags.has(FlagODown))

	peer1 := newInstance(KindPeer, "peer1", Address{IP: "10.0.0.2", Port: 26379})
	peer1.Flags.set(FlagMasterDown)
	peer1.LastODownQueryReply = now
	peer2 := newInstance(KindPeer, "peer2", Address{IP: "10.0.0.3", Port: 26379})
	peer2.Flags.set(FlagMasterDown)
	peer2.LastODownQueryReply = now
	p.Peers["peer1"] = peer1
	p.Peers["peer2"] = peer2

	sv.checkODownLocked(now, p)
	assert.True(t, p.Flags.has(FlagODown), "self + 2 corroborating peers must reach quorum 3")
}

func TestCheckODownLockedClearsWhenNotSDown(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 1)
	p.Flags.set(FlagODown)

	sv.checkODownLocked(time.Now(), p)

	assert.False(t, p.Flags.has(FlagODown), "ODOWN cannot persist once this monitor no longer sees SDOWN")
}

func TestCheckODownLockedIgnoresStalePeerVotes(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 3)
	p.Flags.set(FlagSDown)
	now := time.Now()

	peer1 := newInstance(KindPeer, "peer1", Address{IP: "10.0.0.2", Port: 26379})
	peer1.Flags.set(FlagMasterDown)
	peer1.LastODownQueryReply = now.Add(-time.Hour) // stale vote, must not count
	peer2 := newInstance(KindPeer, "peer2", Address{IP: "10.0.0.3", Port: 26379})
	peer2.Flags.set(FlagMasterDown)
	peer2.LastODownQueryReply = now
	p.Peers["peer1"] = peer1
	p.Peers["peer2"] = peer2

	sv.checkODownLocked(now, p)
	assert.False(t, p.Flags.has(FlagODown), "a stale peer vote must not count toward quorum")

	peer1.LastODownQueryReply = now
	sv.checkODownLocked(now, p)
	assert.True(t, p.Flags.has(FlagODown), "a fresh peer vote must count toward quorum")
}

func TestAnswerIsMasterDownByAddrFalseWhileTilted(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	p.Flags.set(FlagSDown)
	sv.tilt.active = true

	down, _, _ := sv.AnswerIsMasterDownByAddr(p.Addr, 1, "some-run-id")
	assert.False(t, down, "a TILTed monitor must always answer down=0")
}

func TestAnswerIsMasterDownByAddrUnknownAddress(t *testing.T) {
	sv := newTestSupervisor()
	sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	down, leaderRunID, leaderEpoch := sv.AnswerIsMasterDownByAddr(Address{IP: "10.0.0.99", Port: 9999}, 1, "some-run-id")

	assert.False(t, down)
	assert.Equal(t, "*", leaderRunID)
	assert.Equal(t, uint64(0), leaderEpoch)
}

func TestAnswerIsMasterDownByAddrReportsLocalSDownView(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	p.Flags.set(FlagSDown)

	down, _, _ := sv.AnswerIsMasterDownByAddr(p.Addr, 1, "some-run-id")
	assert.True(t, down)
}
