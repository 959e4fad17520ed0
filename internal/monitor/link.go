package monitor

import (
	"fmt"
	"net"
	"time"
)

// lookupLocked resolves a (primaryName, instanceName) pair back through
// the registry. instanceName == "" means "the primary itself". A miss
// (primary reset out from under an in-flight probe, replica removed)
// returns nil, which every caller must treat as a silent no-op -- this
// is the generational-handle design note applied without an explicit
// generation field on the lookup path, since removal from the map is
// itself the signal.
func (sv *Supervisor) lookupLocked(primaryName, instanceName string) *Instance {
	p, ok := sv.masters[primaryName]
	if !ok {
		return nil
	}
	if instanceName == "" {
		return p
	}
	if r, ok := p.Replicas[instanceName]; ok {
		return r
	}
	if peer, ok := p.Peers[instanceName]; ok {
		return peer
	}
	return nil
}

// linkOwnerKey identifies an instance for a callback closure to
// re-resolve through the registry rather than closing over the
// *Instance pointer directly (the "Async callback lifetimes" design
// note).
type linkOwnerKey struct {
	primaryName  string
	instanceName string // "" for the primary itself
	generation   uint64
}

func keyFor(primaryName string, inst *Instance) linkOwnerKey {
	name := inst.Name
	if inst.Kind == KindPrimary {
		name = ""
	}
	return linkOwnerKey{primaryName: primaryName, instanceName: name, generation: inst.generation}
}

// resolveLocked re-finds the instance a callback was issued for,
// returning nil if it vanished or was reset (generation advanced) in
// the meantime.
func (sv *Supervisor) resolveLocked(key linkOwnerKey) *Instance {
	inst := sv.lookupLocked(key.primaryName, key.instanceName)
	if inst == nil || inst.generation != key.generation {
		return nil
	}
	return inst
}

// needsPubsubLink reports whether an instance kind owns a pub/sub link
// in addition to the commands link, spec.md §4.1 ("Monitor instances
// own only the commands link").
func needsPubsubLink(kind Kind) bool {
	return kind == KindPrimary || kind == KindReplica
}

// reconnectDecision is what the tick loop computed needs dialing, with
// the lock already released by the time it runs.
type reconnectDecision struct {
	key       linkOwnerKey
	addr      Address
	authPass  string
	needCmd   bool
	needPubsub bool
}

// planReconnectsLocked walks every instance under every primary and
// returns the set that need a link (re)established this tick, applying
// the cycling policy (force-kill stale/idle links) along the way. Must
// be called with sv.mu held; the actual dialing happens lock-free.
func (sv *Supervisor) planReconnectsLocked(now time.Time, p *Instance) []reconnectDecision {
	var out []reconnectDecision

	consider := func(inst *Instance, authPass string) {
		sv.cycleStaleLinksLocked(now, inst)

		needCmd := inst.CmdLink == nil
		needPubsub := needsPubsubLink(inst.Kind) && inst.PubsubLink == nil

		if !needCmd && !needPubsub {
			inst.Flags.clear(FlagDisconnected)
			return
		}
		inst.Flags.set(FlagDisconnected)
		out = append(out, reconnectDecision{
			key:        keyFor(p.Name, inst),
			addr:       inst.Addr,
			authPass:   authPass,
			needCmd:    needCmd,
			needPubsub: needPubsub,
		})
	}

	consider(p, p.AuthPass)
	for _, r := range p.Replicas {
		consider(r, p.AuthPass)
	}
	for _, peer := range p.Peers {
		consider(peer, "")
	}
	return out
}

// cycleStaleLinksLocked force-kills links that have outlived
// MIN_LINK_RECONNECT_PERIOD while idle, spec.md §4.1.
func (sv *Supervisor) cycleStaleLinksLocked(now time.Time, inst *Instance) {
	downAfter := inst.effectiveDownAfter()

	if inst.CmdLink != nil && now.Sub(inst.CmdLink.OpenedAt) > MinLinkReconnectPeriod {
		if now.Sub(inst.LastAnyPong) > downAfter/2 {
			inst.CmdLink = nil
		}
	}
	if inst.PubsubLink != nil && now.Sub(inst.PubsubLink.OpenedAt) > MinLinkReconnectPeriod {
		if now.Sub(inst.LastHelloReceived) > 3*PublishPeriod {
			inst.PubsubLink = nil
		}
	}
}

// effectiveDownAfter returns the down-after period governing this
// instance: its own for a primary, its primary's for a replica, and
// DefaultDownAfterPeriod for a peer (or a replica with no primary set).
func (inst *Instance) effectiveDownAfter() time.Duration {
	switch inst.Kind {
	case KindPrimary:
		if inst.DownAfterPeriod == 0 {
			return DefaultDownAfterPeriod
		}
		return inst.DownAfterPeriod
	case KindReplica:
		if inst.Master != nil {
			return inst.Master.effectiveDownAfter()
		}
	}
	return DefaultDownAfterPeriod
}

// dialAndApply performs the actual (blocking, lock-free) connection
// work for one reconnectDecision and then re-acquires sv.mu to apply
// whatever succeeded, re-resolving the target through the registry.
func (sv *Supervisor) dialAndApply(d reconnectDecision) {
	defer sv.inflight.Done()

	var cmdConn net.Conn
	var pubsubConn net.Conn
	var err error

	if d.needCmd {
		cmdConn, err = net.DialTimeout("tcp", d.addr.String(), 2*time.Second)
		if err != nil {
			sv.noteLinkFailureLocked(d.key, "cmd-link")
			cmdConn = nil
		} else if d.authPass != "" {
			if !authenticate(cmdConn, d.authPass) {
				logf().WithField("addr", d.addr.String()).Debug("-cmd-link auth failed, probes will fail until cycled")
			}
		}
	}
	if d.needPubsub {
		pubsubConn, err = net.DialTimeout("tcp", d.addr.String(), 2*time.Second)
		if err == nil {
			if !subscribeHello(pubsubConn) {
				pubsubConn.Close()
				pubsubConn = nil
			}
		} else {
			sv.noteLinkFailureLocked(d.key, "pubsub-link")
			pubsubConn = nil
		}
	}

	if cmdConn == nil && pubsubConn == nil {
		return
	}

	sv.mu.Lock()
	defer sv.mu.Unlock()
	inst := sv.resolveLocked(d.key)
	if inst == nil {
		if cmdConn != nil {
			cmdConn.Close()
		}
		if pubsubConn != nil {
			pubsubConn.Close()
		}
		return
	}
	now := time.Now()
	if cmdConn != nil {
		inst.CmdLink = &Link{State: LinkConnected, Conn: cmdConn, OpenedAt: now, LastUsedAt: now}
	}
	if pubsubConn != nil {
		inst.PubsubLink = &Link{State: LinkConnected, Conn: pubsubConn, OpenedAt: now, LastUsedAt: now}
		go sv.pumpHello(d.key, pubsubConn)
	}
	if inst.CmdLink != nil && (!needsPubsubLink(inst.Kind) || inst.PubsubLink != nil) {
		inst.Flags.clear(FlagDisconnected)
	}
}

func (sv *Supervisor) noteLinkFailureLocked(key linkOwnerKey, which string) {
	logf().WithFields(map[string]interface{}{"primary": key.primaryName, "instance": key.instanceName}).Debugf("-%s transient failure", which)
}

// authenticate issues AUTH as the first command on a fresh link, per
// spec.md §4.1. Failure is not fatal to the connection -- it just means
// subsequent probes will fail their reply classification and the link
// gets cycled on the normal idle policy.
func authenticate(conn net.Conn, pass string) bool {
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	cmd := fmt.Sprintf("*2\r\n$4\r\nAUTH\r\n$%d\r\n%s\r\n", len(pass), pass)
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return false
	}
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	return err == nil && n > 0 && buf[0] == '+'
}

func subscribeHello(conn net.Conn) bool {
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	cmd := fmt.Sprintf("*2\r\n$9\r\nSUBSCRIBE\r\n$%d\r\n%s\r\n", len(HelloChannel), HelloChannel)
	if _, err := conn.Write([]byte(cmd)); err != nil {
		return false
	}
	buf := make([]byte, 256)
	_, err := conn.Read(buf)
	return err == nil
}
