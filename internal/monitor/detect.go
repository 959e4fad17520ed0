package monitor

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// checkSDownLocked applies the subjective-down test of spec.md §4.2 to
// a single instance: no valid PING reply within its down-after period.
// Only PING replies are considered; INFO freshness and the role a
// primary reports do not affect SDOWN here. Must be called with sv.mu
// held.
func checkSDownLocked(now time.Time, inst *Instance) {
	downAfter := inst.effectiveDownAfter()
	silent := now.Sub(inst.LastValidPong) > downAfter

	wasDown := inst.Flags.has(FlagSDown)
	if silent {
		if !wasDown {
			inst.SDownSince = now
		}
		inst.Flags.set(FlagSDown)
	} else {
		inst.Flags.clear(FlagSDown)
		inst.SDownSince = time.Time{}
	}
}

// checkODownLocked applies the objective-down quorum test, spec.md
// §4.4: a primary is ODOWN once this monitor's own SDOWN view is
// corroborated by at least quorum-1 peers reporting FlagMasterDown (or
// the monitor's own SDOWN counts as the first vote). Must be called
// with sv.mu held.
func (sv *Supervisor) checkODownLocked(now time.Time, p *Instance) {
	if !p.Flags.has(FlagSDown) {
		if p.Flags.has(FlagODown) {
			sv.emitMinusLocked(eventODown, p, false, "%s %s %d", p.Name, p.Addr.IP, p.Addr.Port)
		}
		p.Flags.clear(FlagODown)
		p.ODownSince = time.Time{}
		return
	}

	votes := 1
	for _, peer := range p.Peers {
		if peer.Flags.has(FlagMasterDown) && now.Sub(peer.LastODownQueryReply) <= InfoValidityTime {
			votes++
		}
	}

	wasDown := p.Flags.has(FlagODown)
	if votes >= p.Quorum {
		if !wasDown {
			p.ODownSince = now
			sv.emitPlusLocked(eventODown, p, true, "%s %s %d #quorum %d/%d", p.Name, p.Addr.IP, p.Addr.Port, votes, p.Quorum)
		}
		p.Flags.set(FlagODown)
	} else {
		if wasDown {
			sv.emitMinusLocked(eventODown, p, false, "%s %s %d", p.Name, p.Addr.IP, p.Addr.Port)
		}
		p.Flags.clear(FlagODown)
		p.ODownSince = time.Time{}
	}
}

// askJob is a scheduled is-master-down-by-addr query to one peer,
// spec.md §4.4. Built under sv.mu, run lock-free, applied back under
// the lock like every other link.go/probe.go job.
type askJob struct {
	key         linkOwnerKey
	conn        netConn
	primaryAddr Address
	epoch       uint64
}

// scheduleAsksLocked returns one askJob per peer that is due (per
// AskPeriod) to be asked this monitor's is-master-down-by-addr
// question about p. Only fires while p is SDOWN -- there is nothing to
// corroborate otherwise. Must be called with sv.mu held.
func (sv *Supervisor) scheduleAsksLocked(now time.Time, p *Instance) []askJob {
	if !p.Flags.has(FlagSDown) {
		return nil
	}
	var out []askJob
	for _, peer := range p.Peers {
		if peer.CmdLink == nil || peer.CmdLink.Conn == nil || peer.CmdLink.Busy {
			continue
		}
		if now.Sub(peer.LastODownQueryReply) < AskPeriod {
			continue
		}
		peer.CmdLink.Busy = true
		out = append(out, askJob{
			key:         keyFor(p.Name, peer),
			conn:        peer.CmdLink.Conn,
			primaryAddr: p.Addr,
			epoch:       sv.currentEpoch,
		})
	}
	return out
}

// runAsk issues SENTINEL is-master-down-by-addr <ip> <port> <epoch>
// <run_id> and parses the 3-element array reply
// (down-state, leader-run-id, leader-epoch), spec.md §4.4/§4.5.
func (sv *Supervisor) runAsk(job askJob, selfRunID string) (downState bool, leaderRunID string, leaderEpoch uint64, ok bool) {
	job.conn.SetDeadline(time.Now().Add(1 * time.Second))
	epochStr := strconv.FormatUint(job.epoch, 10)
	port := strconv.Itoa(job.primaryAddr.Port)
	parts := []string{"SENTINEL", "is-master-down-by-addr", job.primaryAddr.IP, port, epochStr, selfRunID}
	cmd := encodeCommand(parts)
	if _, err := job.conn.Write([]byte(cmd)); err != nil {
		return false, "", 0, false
	}
	r := bufio.NewReader(readerAdapter{job.conn})
	reply, err := readArrayReply(r)
	if err != nil || len(reply) != 3 {
		return false, "", 0, false
	}
	downState = reply[0] == "1"
	leaderRunID = reply[1]
	leaderEpoch, _ = strconv.ParseUint(reply[2], 10, 64)
	return downState, leaderRunID, leaderEpoch, true
}

// applyAskResultLocked folds a peer's is-master-down-by-addr reply
// back into that peer's record. Must be called with sv.mu held.
func (sv *Supervisor) applyAskResultLocked(job askJob, downState bool, leaderRunID string, leaderEpoch uint64, success bool) {
	peer := sv.resolveLocked(job.key)
	if peer == nil {
		return
	}
	if peer.CmdLink != nil {
		peer.CmdLink.Busy = false
	}
	peer.LastODownQueryReply = time.Now()
	if !success {
		return
	}
	if downState {
		peer.Flags.set(FlagMasterDown)
	} else {
		peer.Flags.clear(FlagMasterDown)
	}
	if leaderEpoch > sv.currentEpoch {
		sv.currentEpoch = leaderEpoch
	}
	if leaderEpoch == sv.currentEpoch && leaderRunID != "" {
		peer.Leader = leaderRunID
		peer.LeaderEpoch = leaderEpoch
	}
}

// encodeCommand builds a RESP array of bulk strings for an outbound
// command. Shared by the AUTH/INFO/PING writers in link.go/probe.go and
// the SENTINEL sub-command writers here.
func encodeCommand(parts []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(parts))
	for _, p := range parts {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(p), p)
	}
	return b.String()
}

// readArrayReply reads a RESP array of bulk strings, the shape every
// SENTINEL sub-command reply in this package uses.
func readArrayReply(r *bufio.Reader) ([]string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] != '*' {
		return nil, fmt.Errorf("unexpected reply %q", line)
	}
	count, err := strconv.Atoi(line[1:])
	if err != nil || count < 0 {
		return nil, fmt.Errorf("bad array length %q", line)
	}
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		s, err := readBulkReply(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// AnswerIsMasterDownByAddr implements the server side of spec.md §4.4:
// a peer asking this monitor's opinion of a primary's health. name is
// resolved by address since the asking peer may not share this
// monitor's naming for the primary. down is ODOWN's own vote input, not
// ODOWN itself -- it is SDOWN gated on still reporting role:master and
// on this monitor not being TILTed (§4.8: a TILTed monitor never
// advances or contributes a vote).
func (sv *Supervisor) AnswerIsMasterDownByAddr(addr Address, reqEpoch uint64, reqRunID string) (down bool, leaderRunID string, leaderEpoch uint64) {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	var p *Instance
	for _, m := range sv.masters {
		if m.Addr.Equal(addr) {
			p = m
			break
		}
	}
	if p == nil {
		return false, "*", 0
	}
	stillPrimary := p.RoleReported == KindPrimary
	down = !sv.tiltActiveLocked() && p.Flags.has(FlagSDown) && stillPrimary

	if reqEpoch > sv.currentEpoch {
		sv.currentEpoch = reqEpoch
	}
	if down && p.Flags.has(FlagCanFailover) {
		sv.voteLocked(p, reqEpoch, reqRunID, time.Now())
	}
	return down, orStar(p.Leader), p.LeaderEpoch
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
