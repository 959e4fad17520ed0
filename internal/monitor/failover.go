package monitor

import (
	"bufio"
	"sort"
	"strconv"
	"time"
)

// transitionLocked moves a primary's failover FSM to a new state,
// recording the transition time and emitting the event spec.md §6
// requires for every state change.
func (sv *Supervisor) transitionLocked(p *Instance, state FailoverState, now time.Time) {
	p.FailoverState = state
	p.FailoverStateChangeTime = now
	sv.emitLocked(eventFailoverState, p, false, "%s %s", p.Name, state.String())
}

// abortFailoverLocked returns a primary to StateNone, clearing the
// in-progress bookkeeping so a later SDOWN/ODOWN cycle can start a
// fresh attempt. reason is logged but not otherwise load-bearing.
func (sv *Supervisor) abortFailoverLocked(p *Instance, reason string, timeout bool) {
	sign := eventFailoverAbort
	if timeout {
		sign = eventFailoverEndTO
	}
	sv.emitLocked(sign, p, true, "%s %s", p.Name, reason)
	p.FailoverState = StateNone
	p.PromotedReplica = nil
	for _, r := range p.Replicas {
		r.ReconfState = ReconfNone
	}
}

// stepFailoverLocked advances one primary's failover FSM by one tick,
// spec.md §4.6. Must be called with sv.mu held; the handful of steps
// that need to talk to a replica (SLAVEOF NO ONE, SLAVEOF <new>) are
// dispatched as lock-free jobs the same way probes and asks are, via
// the returned jobs slice -- callers run them and feed results back
// through applyFailoverJobLocked.
func (sv *Supervisor) stepFailoverLocked(now time.Time, p *Instance) []failoverJob {
	if p.FailoverState != StateNone && now.Sub(p.FailoverStartTime) > p.FailoverTimeout {
		sv.abortFailoverLocked(p, "failover-timeout", true)
		return nil
	}

	switch p.FailoverState {
	case StateNone:
		cooledDown := now.Sub(p.FailoverStartTime) >= 2*p.FailoverTimeout
		if p.Flags.has(FlagODown) && p.Flags.has(FlagCanFailover) && cooledDown {
			sv.transitionLocked(p, StateWaitStart, now)
			sv.startElectionLocked(p, now)
		}

	case StateWaitStart:
		votes, won := sv.tallyElectionLocked(p)
		sv.emitLocked(eventTryFailover, p, false, "%s votes=%d", p.Name, votes)
		if won {
			sv.emitLocked(eventElectedLeader, p, false, "%s %d", p.Name, p.FailoverEpoch)
			sv.transitionLocked(p, StateSelectSlave, now)
		} else if now.Sub(p.FailoverStartTime) > ElectionTimeout {
			sv.abortFailoverLocked(p, "election-timeout", false)
		}

	case StateSelectSlave:
		best := selectReplicaLocked(now, p)
		if best == nil {
			sv.abortFailoverLocked(p, "no-good-slave", false)
			return nil
		}
		p.PromotedReplica = best
		sv.transitionLocked(p, StateSendSlaveofNoOne, now)

	case StateSendSlaveofNoOne:
		promoted := p.PromotedReplica
		if promoted == nil {
			sv.abortFailoverLocked(p, "lost-promoted-replica", false)
			return nil
		}
		if promoted.Flags.has(FlagPromoted) {
			sv.transitionLocked(p, StateWaitPromotion, now)
			return nil
		}
		if promoted.CmdLink != nil && !promoted.CmdLink.Busy {
			promoted.CmdLink.Busy = true
			return []failoverJob{{kind: jobPromote, key: keyFor(p.Name, promoted), conn: promoted.CmdLink.connOrNil(), primaryName: p.Name}}
		}

	case StateWaitPromotion:
		if p.PromotedReplica != nil && p.PromotedReplica.Flags.has(FlagPromoted) {
			sv.emitLocked(eventPromotedSlave, p, false, "%s", p.PromotedReplica.Name)
			sv.transitionLocked(p, StateReconfSlaves, now)
		}

	case StateReconfSlaves:
		jobs := sv.reconfSlavesLocked(now, p)
		if allReplicasReconfiguredLocked(p) {
			sv.transitionLocked(p, StateUpdateConfig, now)
		}
		return jobs

	case StateUpdateConfig:
		sv.finishFailoverLocked(p, now)
	}
	return nil
}

// selectReplicaLocked implements spec.md §4.6's ordering: priority=0,
// SDOWN, ODOWN and DISCONNECTED candidates are excluded, along with
// anything whose view of the world is too stale to trust -- a pong or
// INFO older than INFO_VALIDITY_TIME (the INFO bound relaxes by
// INFO_PERIOD while the primary itself isn't SDOWN, since a healthy
// primary still gets probed on the slow period), or a reported
// master-link-down duration that outruns how long this monitor has
// itself seen the primary down plus 10 down-after periods of slack.
// Survivors are ranked by priority ascending then run_id ascending,
// with a null run_id sorting last.
func selectReplicaLocked(now time.Time, p *Instance) *Instance {
	var candidates []*Instance
	for _, r := range p.Replicas {
		if r.Priority == 0 {
			continue
		}
		if r.Flags.has(FlagSDown) || r.Flags.has(FlagODown) || r.Flags.has(FlagDisconnected) {
			continue
		}
		if now.Sub(r.LastValidPong) > InfoValidityTime {
			continue
		}
		infoBound := InfoValidityTime
		if !p.Flags.has(FlagSDown) {
			infoBound += InfoPeriod
		}
		if now.Sub(r.LastInfoRefresh) > infoBound {
			continue
		}
		if r.MasterLinkDownSince > now.Sub(p.SDownSince)+10*p.DownAfterPeriod {
			continue
		}
		candidates = append(candidates, r)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if a.RunID == "" {
			return false
		}
		if b.RunID == "" {
			return true
		}
		return a.RunID < b.RunID
	})
	return candidates[0]
}

// reconfSlavesLocked advances RECONF_SLAVES: every replica other than
// the promoted one needs a SLAVEOF pointed at the new primary, bounded
// to ParallelSyncs concurrent in-flight reconfigs and retried after
// SlaveReconfRetryPeriod, spec.md §4.6.
func (sv *Supervisor) reconfSlavesLocked(now time.Time, p *Instance) []failoverJob {
	var jobs []failoverJob
	inFlight := 0
	for _, r := range p.Replicas {
		if r == p.PromotedReplica {
			r.ReconfState = ReconfDone
			continue
		}
		if r.ReconfState == ReconfInProg {
			inFlight++
		}
	}
	for _, r := range p.Replicas {
		if r == p.PromotedReplica || r.ReconfState == ReconfDone {
			continue
		}
		if inFlight >= r.Master.ParallelSyncs {
			break
		}
		switch r.ReconfState {
		case ReconfNone:
		case ReconfSent:
			if now.Sub(r.ReconfSentAt) < SlaveReconfRetryPeriod {
				continue
			}
		case ReconfInProg:
			continue
		}
		if r.CmdLink == nil || r.CmdLink.Conn == nil || r.CmdLink.Busy {
			continue
		}
		r.CmdLink.Busy = true
		r.ReconfState = ReconfInProg
		r.ReconfSentAt = now
		inFlight++
		sv.emitLocked(eventSlaveReconfSent, p, false, "%s", r.Name)
		jobs = append(jobs, failoverJob{
			kind:        jobReconfigure,
			key:         keyFor(p.Name, r),
			conn:        r.CmdLink.connOrNil(),
			primaryName: p.Name,
			newAddr:     p.PromotedReplica.Addr,
		})
	}
	return jobs
}

func allReplicasReconfiguredLocked(p *Instance) bool {
	for _, r := range p.Replicas {
		if r.ReconfState != ReconfDone {
			return false
		}
	}
	return true
}

// finishFailoverLocked performs the UPDATE_CONFIG step: the old
// primary's record becomes a replica of the newly promoted one, the
// promoted replica's address takes over the primary slot, config_epoch
// is bumped to the failover epoch, the client-reconfig script (when one
// is configured) is enqueued, and every replica this monitor already
// knew about is preserved as a replica record of the new address,
// spec.md §4.6/§4.7. The +switch-master and failover-end events emitted
// here are not WARNING-level, so no notification script is enqueued.
func (sv *Supervisor) finishFailoverLocked(p *Instance, now time.Time) {
	promoted := p.PromotedReplica
	if promoted == nil {
		sv.abortFailoverLocked(p, "lost-promoted-replica", false)
		return
	}
	oldAddr := p.Addr
	newAddr := promoted.Addr

	sv.emitPlusLocked(eventSwitchMaster, p, false, "%s %s %d %s %d", p.Name, oldAddr.IP, oldAddr.Port, newAddr.IP, newAddr.Port)
	if p.ClientReconfigScript != "" {
		sv.scripts.enqueueClientReconfig(p.ClientReconfigScript, p.Name, "master", "start",
			oldAddr.IP, oldAddr.Port, newAddr.IP, newAddr.Port)
	}

	oldReplicaAddrs := make([]Address, 0, len(p.Replicas))
	for _, r := range p.Replicas {
		oldReplicaAddrs = append(oldReplicaAddrs, r.Addr)
	}

	p.reset(false)
	p.Addr = newAddr
	p.ConfigEpoch = p.FailoverEpoch

	for _, addr := range oldReplicaAddrs {
		if addr.Equal(newAddr) {
			continue
		}
		sv.addReplicaLocked(p, addr)
	}

	former := sv.addReplicaLocked(p, oldAddr)
	former.ReportedMasterHost = newAddr.IP
	former.ReportedMasterPort = newAddr.Port

	sv.emitLocked(eventFailoverEnd, p, false, "%s", p.Name)
	p.FailoverState = StateNone
	p.PromotedReplica = nil
}

// failoverJob is the lock-free command dispatched from
// stepFailoverLocked; jobKind distinguishes the two blocking calls the
// FSM needs (SLAVEOF NO ONE vs SLAVEOF <new primary>).
type jobKind int

const (
	jobPromote jobKind = iota
	jobReconfigure
)

type failoverJob struct {
	kind        jobKind
	key         linkOwnerKey
	conn        netConn
	primaryName string
	newAddr     Address
}

// runFailoverJob performs the blocking SLAVEOF call for one
// failoverJob. It never touches Supervisor state.
func (sv *Supervisor) runFailoverJob(job failoverJob) bool {
	if job.conn == nil {
		return false
	}
	var parts []string
	switch job.kind {
	case jobPromote:
		parts = []string{"SLAVEOF", "NO", "ONE"}
	case jobReconfigure:
		parts = []string{"SLAVEOF", job.newAddr.IP, strconv.Itoa(job.newAddr.Port)}
	}
	job.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := job.conn.Write([]byte(encodeCommand(parts))); err != nil {
		return false
	}
	r := bufio.NewReader(readerAdapter{job.conn})
	reply, err := readSimpleOrError(r)
	return err == nil && reply == "OK"
}

// applyFailoverJobLocked folds the result of a blocking SLAVEOF call
// back into the replica record. Must be called with sv.mu held.
func (sv *Supervisor) applyFailoverJobLocked(job failoverJob, success bool) {
	inst := sv.resolveLocked(job.key)
	if inst == nil {
		return
	}
	if inst.CmdLink != nil {
		inst.CmdLink.Busy = false
	}
	switch job.kind {
	case jobPromote:
		if success {
			inst.Flags.set(FlagPromoted)
			p := sv.masters[job.primaryName]
			if p != nil && p.FailoverState == StateSendSlaveofNoOne {
				sv.transitionLocked(p, StateWaitPromotion, time.Now())
			}
		}
	case jobReconfigure:
		if success {
			inst.ReconfState = ReconfDone
			p := sv.masters[job.primaryName]
			if p != nil {
				sv.emitLocked(eventSlaveReconfInprog, p, false, "%s", inst.Name)
				sv.emitLocked(eventSlaveReconfDone, p, false, "%s", inst.Name)
			}
		} else {
			inst.ReconfState = ReconfSent
			inst.ReconfSentAt = time.Now()
		}
	}
}
