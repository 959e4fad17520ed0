package monitor

import "time"

// Tick runs one pass of the monitor's cooperative scheduling loop,
// spec.md §5: compute everything that needs doing while holding the
// single coarse lock, then perform all blocking I/O for this tick
// lock-free, then re-acquire the lock just long enough for each result
// to be folded back in. This is the generalization of the spec's
// single-threaded reactor onto a goroutine-per-blocking-call model (the
// "pin to one thread OR guard the registry with one lock" note in
// spec.md §5; this module takes the latter).
func (sv *Supervisor) Tick() {
	now := time.Now()

	sv.mu.Lock()
	sv.checkTiltLocked(now)
	tilted := sv.tiltActiveLocked()

	var reconnects []reconnectDecision
	var probes []probeJob
	var asks []askJob
	var fjobs []failoverJob

	for _, p := range sv.masters {
		reconnects = append(reconnects, sv.planReconnectsLocked(now, p)...)
		probes = append(probes, sv.scheduleProbesLocked(now, p)...)

		if p.CmdLink != nil && now.Sub(p.LastHelloPublish) >= PublishPeriod {
			sv.publishHelloLocked(p, now)
			for _, r := range p.Replicas {
				sv.publishHelloLocked(r, now)
			}
		}

		if tilted {
			continue
		}

		checkSDownLocked(now, p)
		for _, r := range p.Replicas {
			checkSDownLocked(now, r)
		}
		for _, peer := range p.Peers {
			checkSDownLocked(now, peer)
		}
		sv.checkODownLocked(now, p)
		asks = append(asks, sv.scheduleAsksLocked(now, p)...)
		fjobs = append(fjobs, sv.stepFailoverLocked(now, p)...)
	}
	sv.scripts.tick(now)
	sv.mu.Unlock()

	for _, d := range reconnects {
		sv.inflight.Add(1)
		go sv.dialAndApply(d)
	}
	for _, job := range probes {
		sv.inflight.Add(1)
		go sv.runProbeAndApply(job)
	}
	for _, job := range asks {
		sv.inflight.Add(1)
		go sv.runAskAndApply(job)
	}
	for _, job := range fjobs {
		sv.inflight.Add(1)
		go sv.runFailoverJobAndApply(job)
	}
}

func (sv *Supervisor) runProbeAndApply(job probeJob) {
	defer sv.inflight.Done()
	infoBody, pingReply, ok := sv.runProbe(job)
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.applyProbeResultLocked(job, infoBody, pingReply, ok, job.key.primaryName)
}

func (sv *Supervisor) runAskAndApply(job askJob) {
	defer sv.inflight.Done()
	down, leaderRunID, leaderEpoch, ok := sv.runAsk(job, sv.selfRunID)
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.applyAskResultLocked(job, down, leaderRunID, leaderEpoch, ok)
}

func (sv *Supervisor) runFailoverJobAndApply(job failoverJob) {
	defer sv.inflight.Done()
	ok := sv.runFailoverJob(job)
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.applyFailoverJobLocked(job, ok)
}

// Run drives Tick on a fixed interval until Stop is called, the shape
// of the teacher's own server accept loop generalized to a ticker
// instead of a listener.
func (sv *Supervisor) Run(period time.Duration) {
	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-sv.stop:
				return
			case <-ticker.C:
				sv.Tick()
			}
		}
	}()
}
