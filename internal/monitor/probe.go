package monitor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// probeJob is a unit of scheduled work for one instance: send INFO
// and/or PING over its already-open commands link. Built while sv.mu
// is held, executed lock-free, applied back under the lock -- the same
// shape as reconnectDecision in link.go.
type probeJob struct {
	key      linkOwnerKey
	conn     netConn
	sendInfo bool
	sendPing bool
}

// scheduleProbesLocked walks a primary and its replicas/peers and
// decides which need an INFO and/or PING issued this tick, honoring
// InfoPeriod/InfoPeriodFast, PingPeriod and MaxPendingCommands. Must be
// called with sv.mu held.
func (sv *Supervisor) scheduleProbesLocked(now time.Time, p *Instance) []probeJob {
	var out []probeJob

	infoPeriodFor := func(inst *Instance) time.Duration {
		if p.Flags.has(FlagODown) || p.FailoverState != StateNone {
			return InfoPeriodFast
		}
		return InfoPeriod
	}

	consider := func(inst *Instance) {
		if inst.CmdLink == nil || inst.CmdLink.Conn == nil || inst.CmdLink.Busy {
			return
		}
		if inst.PendingCommands >= MaxPendingCommands {
			return
		}
		job := probeJob{key: keyFor(p.Name, inst), conn: inst.CmdLink.Conn}
		if inst.Kind != KindPeer && now.Sub(inst.LastInfoRefresh) >= infoPeriodFor(inst) {
			job.sendInfo = true
		}
		if now.Sub(inst.LastAnyPong) >= PingPeriod {
			job.sendPing = true
		}
		if job.sendInfo || job.sendPing {
			inst.PendingCommands++
			inst.CmdLink.Busy = true
			out = append(out, job)
		}
	}

	consider(p)
	for _, r := range p.Replicas {
		consider(r)
	}
	for _, peer := range p.Peers {
		consider(peer)
	}
	return out
}

// runProbe performs the blocking write/read for one job and returns raw
// replies keyed by command. It never touches Supervisor state.
func (sv *Supervisor) runProbe(job probeJob) (infoBody string, pingReply string, ok bool) {
	job.conn.SetDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewReader(readerAdapter{job.conn})

	if job.sendInfo {
		if _, err := job.conn.Write([]byte("*1\r\n$4\r\nINFO\r\n")); err != nil {
			return "", "", false
		}
		body, err := readBulkReply(r)
		if err != nil {
			return "", "", false
		}
		infoBody = body
	}
	if job.sendPing {
		if _, err := job.conn.Write([]byte("*1\r\n$4\r\nPING\r\n")); err != nil {
			return infoBody, "", job.sendInfo
		}
		line, err := readSimpleOrError(r)
		if err != nil {
			return infoBody, "", job.sendInfo
		}
		pingReply = line
	}
	return infoBody, pingReply, true
}

// readerAdapter lets netConn (which is Read/Write/Close/SetDeadline,
// not io.Reader by name) satisfy bufio.NewReader's io.Reader
// requirement without an extra type assertion at every call site.
type readerAdapter struct{ c netConn }

func (a readerAdapter) Read(p []byte) (int, error) { return a.c.Read(p) }

// readBulkReply reads a single RESP bulk string reply ($len\r\n...\r\n).
func readBulkReply(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '$' {
		return "", fmt.Errorf("unexpected reply %q", line)
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil || n < 0 {
		return "", fmt.Errorf("bad bulk length %q", line)
	}
	buf := make([]byte, n+2)
	if _, err := readFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

// readSimpleOrError reads a +OK/-ERR style single-line reply and
// returns it with the leading sigil stripped.
func readSimpleOrError(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return "", fmt.Errorf("empty reply")
	}
	return line[1:], nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// classifyPing turns a raw single-line reply (sigil already stripped)
// into the PONG/LOADING/MASTERDOWN/BUSY/other taxonomy spec.md §4.2
// requires for SDOWN timing: only a valid PONG or a recognized
// transient-busy reply counts toward LastValidPong.
func classifyPing(reply string) string {
	switch {
	case reply == "PONG":
		return "pong"
	case strings.HasPrefix(reply, "LOADING"):
		return "loading"
	case strings.HasPrefix(reply, "MASTERDOWN"):
		return "masterdown"
	case strings.HasPrefix(reply, "BUSY"):
		return "busy"
	default:
		return "other"
	}
}

// applyProbeResultLocked folds a completed probe back into the registry
// state, re-resolving the target instance so a result for a removed or
// reset instance is silently dropped. Must be called with sv.mu held.
func (sv *Supervisor) applyProbeResultLocked(job probeJob, infoBody, pingReply string, success bool, primaryName string) {
	inst := sv.resolveLocked(job.key)
	if inst == nil {
		return
	}
	if inst.CmdLink != nil {
		inst.CmdLink.Busy = false
	}
	if job.sendInfo || job.sendPing {
		inst.PendingCommands--
		if inst.PendingCommands < 0 {
			inst.PendingCommands = 0
		}
	}
	if !success {
		return
	}
	now := time.Now()
	inst.LastAnyPong = now

	if job.sendPing {
		class := classifyPing(pingReply)
		if class == "pong" || class == "loading" || class == "busy" {
			inst.LastValidPong = now
		}
	}
	if job.sendInfo && infoBody != "" {
		sv.applyInfoLocked(primaryName, inst, infoBody, now)
	}
}

// applyInfoLocked parses an INFO replication-section body and folds
// role, run_id and replication topology into the instance, handling the
// two structural transitions spec.md §4.2 calls out: a replica
// reporting itself as master (promotion, outside of a failover this
// monitor started) and a primary reporting itself as a replica
// (demoted by an external REPLICAOF).
func (sv *Supervisor) applyInfoLocked(primaryName string, inst *Instance, body string, now time.Time) {
	fields := parseInfoBody(body)
	inst.LastInfoRefresh = now

	if runID := fields["run_id"]; runID != "" {
		inst.RunID = runID
	}

	role := fields["role"]
	switch role {
	case "master":
		inst.RoleReported = KindPrimary
	case "slave":
		inst.RoleReported = KindReplica
	}
	if inst.RoleReportedSince.IsZero() || inst.RoleReported != priorRole(inst) {
		inst.RoleReportedSince = now
	}

	p, ok := sv.masters[primaryName]
	if !ok {
		return
	}

	switch inst.Kind {
	case KindPrimary:
		if role == "slave" {
			// The configured primary now reports itself as a replica of
			// someone else -- leave topology alone; the failover FSM (if
			// any) or the next Hello will reconcile it. We still record
			// what it claims; the RoleReported set above is what
			// AnswerIsMasterDownByAddr checks, and SDOWN does not look
			// at either.
			inst.ReportedMasterHost = fields["master_host"]
		}
	case KindReplica:
		inst.ReportedMasterHost = fields["master_host"]
		if port, err := strconv.Atoi(fields["master_port"]); err == nil {
			inst.ReportedMasterPort = port
		}
		inst.MasterLinkStatus = fields["master_link_status"]
		if pr, err := strconv.Atoi(fields["slave_priority"]); err == nil {
			inst.Priority = pr
		}
		if secs, err := strconv.Atoi(fields["master_link_down_since_seconds"]); err == nil {
			inst.MasterLinkDownSince = time.Duration(secs) * time.Second
		}
		if role == "master" && inst.Master == p && !p.Flags.has(FlagForceFailover) {
			// An external promotion: someone ran SLAVEOF NO ONE on this
			// replica without going through this monitor's failover FSM.
			// Reflect it as a switch-master so query callers and scripts
			// see the new topology instead of a stale "down" replica.
			sv.emitPlusLocked(eventSwitchMaster, p, false, "%s %s %d %s %d", p.Name, p.Addr.IP, p.Addr.Port, inst.Addr.IP, inst.Addr.Port)
			oldAddr := p.Addr
			p.reset(false)
			p.Addr = inst.Addr
			delete(p.Replicas, inst.Name)
			former := sv.addReplicaLocked(p, oldAddr)
			former.ReportedMasterHost = inst.Addr.IP
			former.ReportedMasterPort = inst.Addr.Port
			return
		}
	}

	if role == "master" && inst.Kind == KindPrimary {
		sv.discoverReplicasFromInfoLocked(p, fields)
	}
}

func priorRole(inst *Instance) Kind {
	if inst.Kind == KindPrimary {
		return KindPrimary
	}
	return KindReplica
}

// discoverReplicasFromInfoLocked adds any replica named in a primary's
// INFO output that this monitor has not yet seen, spec.md §4.2. This
// is the only path that discovers replicas; Hello gossip discovers peer
// monitors, not replicas. Both slaveN: forms get parsed: the
// key/value form (ip=...,port=...,state=...,offset=...) newer servers
// report, and the old comma-positional form (ip,port,state) some
// instances still send.
func (sv *Supervisor) discoverReplicasFromInfoLocked(p *Instance, fields map[string]string) {
	for i := 0; ; i++ {
		raw, ok := fields[fmt.Sprintf("slave%d", i)]
		if !ok {
			return
		}
		ip, port, ok := parseSlaveLine(raw)
		if !ok {
			continue
		}
		addr := Address{IP: ip, Port: port}
		name := DeriveName(addr)
		if _, exists := p.Replicas[name]; exists {
			continue
		}
		sv.addReplicaLocked(p, addr)
	}
}

// parseSlaveLine extracts ip/port from one slaveN: value, trying the
// key/value form first and falling back to the old positional form
// (ip,port,state) when none of the parts contain "=".
func parseSlaveLine(raw string) (ip string, port int, ok bool) {
	parts := strings.Split(raw, ",")
	kv := make(map[string]string)
	positional := true
	for _, part := range parts {
		eq := strings.IndexByte(part, '=')
		if eq < 0 {
			continue
		}
		positional = false
		kv[part[:eq]] = part[eq+1:]
	}
	if !positional {
		p, err := strconv.Atoi(kv["port"])
		if kv["ip"] == "" || err != nil {
			return "", 0, false
		}
		return kv["ip"], p, true
	}
	if len(parts) < 2 {
		return "", 0, false
	}
	p, err := strconv.Atoi(parts[1])
	if parts[0] == "" || err != nil {
		return "", 0, false
	}
	return parts[0], p, true
}

// parseInfoBody turns a Redis-style "key:value\r\n" INFO body into a
// flat map, skipping section headers ("# Replication") and blank
// lines. slaveN:ip=..,port=..,state=..,offset=.. lines are kept as a
// single raw value under their own key; callers that need per-slave
// detail parse that value further.
func parseInfoBody(body string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(body, "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		out[line[:idx]] = line[idx+1:]
	}
	return out
}
