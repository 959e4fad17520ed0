package monitor

import (
	"math/rand"
	"time"
)

// voteLocked is the vote(primary, req_epoch, req_run_id) procedure of
// spec.md §4.5: a primary's leader slot is first-come-first-served
// within an epoch -- whichever run_id asks first for a given
// leader_epoch wins it, and every later ask in the same epoch gets
// told the same answer instead of overwriting it. The overwrite also
// requires this monitor's own current_epoch to not have moved past
// req_epoch already -- otherwise a vote request carrying a stale epoch
// could still clobber a primary's leader slot just because it beats
// that primary's own leader_epoch. A successful vote reseeds
// failover_start_time with up to 2s of jitter so competing monitors'
// next election attempts desync instead of colliding. Must be called
// with sv.mu held.
func (sv *Supervisor) voteLocked(p *Instance, reqEpoch uint64, reqRunID string, now time.Time) (leader string, leaderEpoch uint64) {
	if reqEpoch > sv.currentEpoch {
		sv.currentEpoch = reqEpoch
	}
	if p.LeaderEpoch < reqEpoch && sv.currentEpoch <= reqEpoch {
		p.Leader = reqRunID
		p.LeaderEpoch = reqEpoch
		p.FailoverStartTime = now.Add(time.Duration(rand.Intn(2000)) * time.Millisecond)
		sv.emitLocked(eventVoteForLeader, p, false, "%s %d %s", p.Name, reqEpoch, reqRunID)
	}
	return p.Leader, p.LeaderEpoch
}

// startElectionLocked bumps the global epoch and casts this monitor's
// own vote for itself, spec.md §4.5 step 1-2. Called once when a
// primary transitions into StateWaitStart and this monitor decides to
// contend for leadership.
func (sv *Supervisor) startElectionLocked(p *Instance, now time.Time) {
	sv.currentEpoch++
	p.FailoverEpoch = sv.currentEpoch
	sv.emitLocked(eventNewEpoch, p, false, "%s %d", p.Name, sv.currentEpoch)
	sv.voteLocked(p, sv.currentEpoch, sv.selfRunID, now)
}

// tallyElectionLocked counts votes cast for this monitor in the
// current failover epoch: its own self-vote plus every peer whose last
// is-master-down-by-addr reply reported leader==selfRunID at exactly
// that epoch. spec.md §4.5 step 4: win requires at least quorum votes
// AND a majority of the known peer set (quorum alone can be smaller
// than half the deployment when configured conservatively).
func (sv *Supervisor) tallyElectionLocked(p *Instance) (votes int, won bool) {
	if p.Leader == sv.selfRunID && p.LeaderEpoch == p.FailoverEpoch {
		votes = 1
	}
	for _, peer := range p.Peers {
		if peer.Leader == sv.selfRunID && peer.LeaderEpoch == p.FailoverEpoch {
			votes++
		}
	}
	majority := (len(p.Peers)+1)/2 + 1
	needed := p.Quorum
	if majority > needed {
		needed = majority
	}
	won = votes >= needed
	return votes, won
}
