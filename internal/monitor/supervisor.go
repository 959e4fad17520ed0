package monitor

import (
	"crypto/rand"
	"encoding/hex"
	"path"
	"sync"
	"time"
)

// Supervisor is the process-wide singleton spec.md §9 calls out: epoch,
// TILT, the instance registry and the script queue all live here behind
// one coarse lock, since every tick touches the global epoch anyway and
// finer locking buys nothing (spec.md §5).
type Supervisor struct {
	mu sync.Mutex

	selfRunID string
	selfAddr  Address

	currentEpoch uint64

	masters map[string]*Instance

	tilt tiltState

	prevTick time.Time

	scripts *scriptExecutor

	// inflight tracks outstanding probe goroutines purely so Stop can
	// wait for them to land their (lock-guarded) mutation before the
	// process exits; it is not consulted for scheduling.
	inflight sync.WaitGroup

	stop chan struct{}
	wg   sync.WaitGroup

	cfg GlobalConfig
}

// GlobalConfig carries the process-wide settings that are not
// per-primary (the per-primary ones -- quorum, timeouts, scripts --
// live on the Instance itself once `monitor` directives are parsed).
type GlobalConfig struct {
	AnnounceIP   string
	AnnouncePort int
}

func NewSupervisor(cfg GlobalConfig) *Supervisor {
	sv := &Supervisor{
		selfRunID: generateRunID(),
		selfAddr:  Address{IP: cfg.AnnounceIP, Port: cfg.AnnouncePort},
		masters:   make(map[string]*Instance),
		stop:      make(chan struct{}),
		cfg:       cfg,
	}
	sv.scripts = newScriptExecutor()
	sv.prevTick = time.Now()
	return sv
}

func generateRunID() string {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails on a broken system entropy
		// source; there is nothing sane to do but fall back to a
		// fixed-but-distinguishable id rather than crash the monitor.
		logf().WithError(err).Error("failed to read entropy for run id")
	}
	return hex.EncodeToString(buf)
}

func (sv *Supervisor) SelfRunID() string { return sv.selfRunID }

// AddPrimary registers a primary from configuration. Calling it twice
// for the same name is a no-op (config load dedups by construction).
func (sv *Supervisor) AddPrimary(name string, addr Address, quorum int) *Instance {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if p, ok := sv.masters[name]; ok {
		return p
	}
	p := newPrimary(name, addr, quorum)
	sv.masters[name] = p
	return p
}

func (sv *Supervisor) Primary(name string) *Instance {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.masters[name]
}

func (sv *Supervisor) PrimaryNames() []string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	names := make([]string, 0, len(sv.masters))
	for n := range sv.masters {
		names = append(names, n)
	}
	return names
}

// ResetMatching implements `SENTINEL reset <glob>`: drops replicas and
// peers and clears runtime flags for every primary whose name matches,
// emitting +reset-master per spec.md §6.
func (sv *Supervisor) ResetMatching(glob string) int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	count := 0
	for name, p := range sv.masters {
		ok, err := path.Match(glob, name)
		if err != nil || !ok {
			continue
		}
		p.reset(true)
		sv.emitLocked(eventResetMaster, p, false, "reset-master %s", name)
		count++
	}
	return count
}

// addReplica inserts a newly observed replica into a primary's
// sub-registry, deduping by derived name. Called with sv.mu held.
func (sv *Supervisor) addReplicaLocked(p *Instance, addr Address) *Instance {
	name := DeriveName(addr)
	if r, ok := p.Replicas[name]; ok {
		return r
	}
	r := newInstance(KindReplica, name, addr)
	r.Master = p
	r.Priority = 100
	r.MasterLinkStatus = "down"
	p.Replicas[name] = r
	sv.emitLocked(eventSlave, p, false, "slave %s discovered for master %s", name, p.Name)
	return r
}

// addOrUpdatePeer locates or creates a peer-monitor record in the
// primary's peer sub-registry, first removing any existing peer that
// shares the same run_id OR the same address -- a topology change or a
// monitor restart under a new run_id, spec.md §4.3 step 1.
func (sv *Supervisor) addOrUpdatePeerLocked(p *Instance, addr Address, runID string) *Instance {
	name := DeriveName(addr)
	for key, peer := range p.Peers {
		if peer.RunID == runID || peer.Addr.Equal(addr) {
			if key != name || peer.RunID != runID {
				if peer.Addr.Equal(addr) && peer.RunID != runID {
					// Same address, new run_id: the peer monitor restarted
					// and is recognized via the address match, spec.md §8.
					sv.emitLocked(eventReboot, p, false, "reboot %s %s", p.Name, key)
				}
				delete(p.Peers, key)
				sv.emitLocked(eventDupSentinel, p, false, "dup-sentinel %s %s", p.Name, key)
				break
			}
			peer.LastHelloReceived = time.Now()
			return peer
		}
	}
	peer := newInstance(KindPeer, name, addr)
	peer.RunID = runID
	peer.WatchedPrimaryName = p.Name
	p.Peers[name] = peer
	sv.emitLocked(eventSentinel, p, false, "sentinel %s %s", name, p.Name)
	return peer
}

// Stop halts the tick loop and the script executor.
func (sv *Supervisor) Stop() {
	close(sv.stop)
	sv.wg.Wait()
	sv.inflight.Wait()
	sv.scripts.stop()
}
