package monitor

import "time"

// The views below are the read-only snapshots the admin query surface
// (internal/server/monitor_server.go) renders into SENTINEL replies.
// They exist so a connection-handling goroutine never holds a pointer
// into the live registry past the lock that protected it.

type MasterView struct {
	Name        string
	IP          string
	Port        int
	Quorum      int
	NumReplicas int
	NumPeers    int
	SDown       bool
	ODown       bool
	FailoverState string
}

type ReplicaView struct {
	Name             string
	IP               string
	Port             int
	Priority         int
	MasterLinkStatus string
	SDown            bool
}

type PeerView struct {
	Name  string
	IP    string
	Port  int
	RunID string
}

// Masters returns a snapshot of every monitored primary.
func (sv *Supervisor) Masters() []MasterView {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	out := make([]MasterView, 0, len(sv.masters))
	for _, p := range sv.masters {
		out = append(out, MasterView{
			Name: p.Name, IP: p.Addr.IP, Port: p.Addr.Port, Quorum: p.Quorum,
			NumReplicas: len(p.Replicas), NumPeers: len(p.Peers),
			SDown: p.Flags.has(FlagSDown), ODown: p.Flags.has(FlagODown),
			FailoverState: p.FailoverState.String(),
		})
	}
	return out
}

// Replicas returns a snapshot of one primary's replicas.
func (sv *Supervisor) Replicas(name string) ([]ReplicaView, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	p, ok := sv.masters[name]
	if !ok {
		return nil, false
	}
	out := make([]ReplicaView, 0, len(p.Replicas))
	for _, r := range p.Replicas {
		out = append(out, ReplicaView{
			Name: r.Name, IP: r.Addr.IP, Port: r.Addr.Port, Priority: r.Priority,
			MasterLinkStatus: r.MasterLinkStatus, SDown: r.Flags.has(FlagSDown),
		})
	}
	return out, true
}

// Peers returns a snapshot of the peer monitors watching one primary.
func (sv *Supervisor) Peers(name string) ([]PeerView, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	p, ok := sv.masters[name]
	if !ok {
		return nil, false
	}
	out := make([]PeerView, 0, len(p.Peers))
	for _, peer := range p.Peers {
		out = append(out, PeerView{Name: peer.Name, IP: peer.Addr.IP, Port: peer.Addr.Port, RunID: peer.RunID})
	}
	return out, true
}

// MasterAddr implements `SENTINEL get-master-addr-by-name`. Once a
// failover has advanced past RECONF_SLAVES the promoted replica is
// already serving writes even though p.Addr itself only moves over in
// UPDATE_CONFIG, so callers asking mid-failover get the promoted
// replica's address instead of the about-to-be-retired one.
func (sv *Supervisor) MasterAddr(name string) (Address, bool) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	p, ok := sv.masters[name]
	if !ok {
		return Address{}, false
	}
	if p.FailoverState > StateReconfSlaves && p.PromotedReplica != nil {
		return p.PromotedReplica.Addr, true
	}
	return p.Addr, true
}

// ForceFailover implements `SENTINEL failover <name>`: starts the FSM
// immediately regardless of ODOWN status, spec.md §4.6's
// force-failover entry point. Returns false if the primary is unknown
// or a failover is already in progress.
func (sv *Supervisor) ForceFailover(name string) bool {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	p, ok := sv.masters[name]
	if !ok || p.FailoverState != StateNone {
		return false
	}
	p.Flags.set(FlagForceFailover)
	sv.transitionLocked(p, StateWaitStart, time.Now())
	sv.startElectionLocked(p, time.Now())
	return true
}

// PendingScriptView is one queued script invocation as `SENTINEL
// pending-scripts` must enumerate it, spec.md §6.
type PendingScriptView struct {
	Argv      []string
	RetryNum  int
	StartTime time.Time
}

// PendingScripts implements `SENTINEL pending-scripts`: the full queued
// job list (argv, retry count, scheduled start time), not just a count.
func (sv *Supervisor) PendingScripts() []PendingScriptView {
	jobs := sv.scripts.pending()
	out := make([]PendingScriptView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, PendingScriptView{Argv: j.argv, RetryNum: j.retryNum, StartTime: j.startTime})
	}
	return out
}
