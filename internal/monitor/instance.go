package monitor

import (
	"time"
)

// Kind is the exactly-one-of role spec.md §3 assigns to every monitored
// instance.
type Kind int

const (
	KindPrimary Kind = iota
	KindReplica
	KindPeer
)

func (k Kind) String() string {
	switch k {
	case KindPrimary:
		return "master"
	case KindReplica:
		return "slave"
	case KindPeer:
		return "sentinel"
	default:
		return "unknown"
	}
}

// FailoverState is the primary's failover FSM position, spec.md §4.6.
type FailoverState int

const (
	StateNone FailoverState = iota
	StateWaitStart
	StateSelectSlave
	StateSendSlaveofNoOne
	StateWaitPromotion
	StateReconfSlaves
	StateUpdateConfig
)

func (s FailoverState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateWaitStart:
		return "wait-start"
	case StateSelectSlave:
		return "select-slave"
	case StateSendSlaveofNoOne:
		return "send-slaveof-noone"
	case StateWaitPromotion:
		return "wait-promotion"
	case StateReconfSlaves:
		return "reconf-slaves"
	case StateUpdateConfig:
		return "update-config"
	default:
		return "unknown"
	}
}

// ReconfState is a replica's progress through being re-pointed at a new
// primary during RECONF_SLAVES, spec.md §4.6.
type ReconfState int

const (
	ReconfNone ReconfState = iota
	ReconfSent
	ReconfInProg
	ReconfDone
)

// Flags is the small orthogonal flag set left over once role, failover
// state and reconfig state are factored out into their own enums (the
// "State-flag bag -> tagged variants" design note).
type Flags uint16

const (
	FlagDisconnected Flags = 1 << iota
	FlagSDown
	FlagODown
	FlagScriptKillSent
	FlagCanFailover
	FlagForceFailover
	FlagMasterDown // peer's reported view of its primary
	FlagPromoted
)

func (f Flags) has(bit Flags) bool  { return f&bit != 0 }
func (f *Flags) set(bit Flags)      { *f |= bit }
func (f *Flags) clear(bit Flags)    { *f &^= bit }

// LinkState is one of {absent, connecting, connected}, spec.md §4.1.
type LinkState int

const (
	LinkAbsent LinkState = iota
	LinkConnecting
	LinkConnected
)

// Link is one of the two logical links (commands, pub/sub) an instance
// owns.
type Link struct {
	State      LinkState
	Conn       netConn
	OpenedAt   time.Time
	LastUsedAt time.Time
	Authed     bool

	// Busy marks a commands link as having a job in flight on it. Every
	// scheduler (probes, asks, failover commands) must skip an instance
	// whose CmdLink is Busy and the corresponding apply step must clear
	// it, since two goroutines writing the same connection concurrently
	// would interleave RESP frames.
	Busy bool
}

// connOrNil lets callers reach for a possibly-absent link's connection
// without a nil-pointer check at every call site.
func (l *Link) connOrNil() netConn {
	if l == nil {
		return nil
	}
	return l.Conn
}

// Instance is one monitored target: a primary, a replica, or a peer
// monitor. Every field below is guarded by the owning Supervisor's
// single coarse lock (spec.md §5) -- Instance itself carries no lock.
type Instance struct {
	Kind Kind
	Name string // operator name for primaries; derived ip:port otherwise
	Addr Address
	RunID string

	Flags        Flags
	RoleReported Kind
	RoleReportedSince time.Time

	// generation is bumped on reset/removal so stale async results
	// (captured by name+generation in a callback closure) become
	// no-ops instead of resurrecting a removed instance. See the
	// "Async callback lifetimes" design note.
	generation uint64

	// Links
	CmdLink    *Link
	PubsubLink *Link
	PendingCommands int

	// Timers (spec.md §3)
	LastValidPong    time.Time
	LastAnyPong      time.Time
	LastHelloPublish time.Time
	LastHelloReceived time.Time
	LastODownQueryReply time.Time
	LastInfoRefresh  time.Time
	SDownSince       time.Time
	ODownSince       time.Time

	// Primary-only fields.
	ConfigEpoch   uint64
	FailoverEpoch uint64
	LeaderEpoch   uint64
	Leader        string // run_id this monitor voted for, for this primary

	FailoverState           FailoverState
	FailoverStateChangeTime time.Time
	FailoverStartTime       time.Time

	Replicas map[string]*Instance // keyed by derived name
	Peers    map[string]*Instance // keyed by derived name

	Quorum               int
	ParallelSyncs        int
	AuthPass             string
	NotificationScript   string
	ClientReconfigScript string
	FailoverTimeout      time.Duration
	DownAfterPeriod      time.Duration

	PromotedReplica *Instance

	// Replica-only fields.
	Master              *Instance
	ReportedMasterHost  string
	ReportedMasterPort  int
	MasterLinkStatus    string // "up" / "down" as last reported by INFO
	MasterLinkDownSince time.Duration // master_link_down_since_seconds, as last reported by INFO
	Priority            int
	ReplicaChangeTime   time.Time
	ReconfState         ReconfState
	ReconfSentAt        time.Time

	// Peer-only: the primary name this peer monitor is watching, as
	// advertised in its Hello tuple, so switch-master/quorum bookkeeping
	// can find its way back to the right primary record.
	WatchedPrimaryName string
}

// netConn is the minimal surface the monitor needs from a connection so
// tests can substitute a fake without dialing real sockets.
type netConn interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
	SetDeadline(t time.Time) error
}

func newInstance(kind Kind, name string, addr Address) *Instance {
	return &Instance{
		Kind: kind,
		Name: name,
		Addr: addr,
	}
}

// newPrimary builds a primary record seeded from configuration.
func newPrimary(name string, addr Address, quorum int) *Instance {
	p := newInstance(KindPrimary, name, addr)
	p.Replicas = make(map[string]*Instance)
	p.Peers = make(map[string]*Instance)
	p.Quorum = quorum
	p.ParallelSyncs = DefaultParallelSyncs
	p.FailoverTimeout = DefaultFailoverTimeout
	p.DownAfterPeriod = DefaultDownAfterPeriod
	p.Flags.set(FlagCanFailover)
	return p
}

// reset preserves primary identity while dropping replicas (and
// optionally peers) and clearing runtime flags, per spec.md §3
// Lifecycles.
func (p *Instance) reset(dropPeers bool) {
	p.generation++
	p.Replicas = make(map[string]*Instance)
	if dropPeers {
		p.Peers = make(map[string]*Instance)
	}
	p.Flags &^= FlagSDown | FlagODown | FlagScriptKillSent | FlagForceFailover | FlagMasterDown
	p.FailoverState = StateNone
	p.PromotedReplica = nil
	p.RunID = ""
	p.CmdLink = nil
	p.PubsubLink = nil
	p.PendingCommands = 0
	p.SDownSince = time.Time{}
	p.ODownSince = time.Time{}
}
