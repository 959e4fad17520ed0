package server

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"redis/internal/monitor"
	"redis/internal/protocol"
)

// MonitorServer exposes the admin/query RESP surface spec.md §6
// describes (SENTINEL sub-commands, PING, INFO) in front of a
// monitor.Supervisor. It follows the teacher's own accept-loop shape --
// one goroutine per connection, a RESP command dispatcher, graceful
// shutdown draining in-flight connections -- generalized from a single
// monitored master to the Supervisor's full registry.
type MonitorServer struct {
	config          *MonitorConfig
	listener        net.Listener
	sv              *monitor.Supervisor
	connections     sync.Map
	connIDCounter   atomic.Int64
	activeConnCount atomic.Int64
	wg              sync.WaitGroup
	shutdownChan    chan struct{}
	mu              sync.RWMutex
	isShutdown      bool
}

// NewMonitorServer creates the admin server for an already-configured
// Supervisor (primaries registered via monitor.LoadConfig).
func NewMonitorServer(cfg *MonitorConfig, sv *monitor.Supervisor) *MonitorServer {
	return &MonitorServer{
		config:       cfg,
		sv:           sv,
		shutdownChan: make(chan struct{}),
	}
}

func (s *MonitorServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	log.Printf("Monitor admin server listening on %s", addr)

	go s.acceptConnections(ctx)

	<-ctx.Done()
	return nil
}

func (s *MonitorServer) acceptConnections(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		default:
			conn, err := s.listener.Accept()
			if err != nil {
				s.mu.RLock()
				shutdown := s.isShutdown
				s.mu.RUnlock()
				if shutdown {
					return
				}
				log.Printf("Error accepting connection: %v", err)
				continue
			}

			if s.activeConnCount.Load() >= int64(s.config.MaxConnections) {
				conn.Close()
				continue
			}

			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		}
	}
}

func (s *MonitorServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	connID := s.connIDCounter.Add(1)
	s.activeConnCount.Add(1)
	defer s.activeConnCount.Add(-1)

	s.connections.Store(connID, conn)
	defer s.connections.Delete(connID)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		default:
			conn.SetReadDeadline(time.Now().Add(30 * time.Second))
			cmd, err := protocol.ParseCommand(reader)
			if err != nil {
				return
			}
			conn.Write(s.execute(cmd))
		}
	}
}

func (s *MonitorServer) Shutdown() {
	s.mu.Lock()
	if s.isShutdown {
		s.mu.Unlock()
		return
	}
	s.isShutdown = true
	s.mu.Unlock()

	close(s.shutdownChan)
	if s.listener != nil {
		s.listener.Close()
	}
	s.connections.Range(func(_, value interface{}) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
		}
		return true
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Println("monitor server shutdown timeout, forcing exit")
	}

	s.sv.Stop()
}

func (s *MonitorServer) execute(cmd *protocol.Command) []byte {
	if len(cmd.Args) == 0 {
		return protocol.EncodeError("ERR no command provided")
	}
	switch strings.ToUpper(cmd.Args[0]) {
	case "PING":
		return protocol.EncodeSimpleString("PONG")
	case "SENTINEL":
		if len(cmd.Args) < 2 {
			return protocol.EncodeError("ERR wrong number of arguments for 'sentinel' command")
		}
		return s.handleSentinel(cmd.Args[1:])
	case "INFO":
		return s.handleInfo()
	default:
		return protocol.EncodeError(fmt.Sprintf("ERR unknown command '%s'", cmd.Args[0]))
	}
}

func (s *MonitorServer) handleSentinel(args []string) []byte {
	if len(args) == 0 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel' command")
	}
	switch strings.ToUpper(args[0]) {
	case "MASTERS":
		return s.handleMasters()
	case "MASTER":
		return s.handleMaster(args[1:])
	case "SLAVES", "REPLICAS":
		return s.handleReplicas(args[1:])
	case "SENTINELS":
		return s.handleSentinels(args[1:])
	case "GET-MASTER-ADDR-BY-NAME":
		return s.handleGetMasterAddrByName(args[1:])
	case "RESET":
		return s.handleReset(args[1:])
	case "FAILOVER":
		return s.handleFailover(args[1:])
	case "IS-MASTER-DOWN-BY-ADDR":
		return s.handleIsMasterDownByAddr(args[1:])
	case "PENDING-SCRIPTS":
		return s.handlePendingScripts()
	default:
		return protocol.EncodeError(fmt.Sprintf("ERR Unknown sentinel subcommand '%s'", args[0]))
	}
}

func (s *MonitorServer) handleMasters() []byte {
	masters := s.sv.Masters()
	var rows [][]byte
	for _, m := range masters {
		rows = append(rows, protocol.EncodeInterfaceArray([]interface{}{
			"name", m.Name, "ip", m.IP, "port", m.Port,
			"quorum", m.Quorum, "num-slaves", m.NumReplicas, "num-other-sentinels", m.NumPeers,
			"flags", masterFlags(m),
		}))
	}
	return protocol.EncodeRawArray(rows)
}

func (s *MonitorServer) handleMaster(args []string) []byte {
	if len(args) < 1 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel master' command")
	}
	for _, m := range s.sv.Masters() {
		if m.Name == args[0] {
			return protocol.EncodeInterfaceArray([]interface{}{
				"name", m.Name, "ip", m.IP, "port", m.Port,
				"quorum", m.Quorum, "num-slaves", m.NumReplicas, "num-other-sentinels", m.NumPeers,
				"flags", masterFlags(m),
			})
		}
	}
	return protocol.EncodeNullBulkString()
}

func masterFlags(m monitor.MasterView) string {
	switch {
	case m.ODown:
		return "o_down"
	case m.SDown:
		return "s_down"
	case m.FailoverState != "none":
		return "failover_in_progress"
	default:
		return "master"
	}
}

func (s *MonitorServer) handleReplicas(args []string) []byte {
	if len(args) < 1 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel replicas' command")
	}
	replicas, ok := s.sv.Replicas(args[0])
	if !ok {
		return protocol.EncodeNilArray()
	}
	var rows [][]byte
	for _, r := range replicas {
		flags := "slave"
		if r.SDown {
			flags = "s_down,slave"
		}
		rows = append(rows, protocol.EncodeInterfaceArray([]interface{}{
			"name", fmt.Sprintf("%s:%d", r.IP, r.Port), "ip", r.IP, "port", r.Port,
			"master-link-status", r.MasterLinkStatus, "slave-priority", r.Priority, "flags", flags,
		}))
	}
	return protocol.EncodeRawArray(rows)
}

func (s *MonitorServer) handleSentinels(args []string) []byte {
	if len(args) < 1 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel sentinels' command")
	}
	peers, ok := s.sv.Peers(args[0])
	if !ok {
		return protocol.EncodeNilArray()
	}
	var rows [][]byte
	for _, p := range peers {
		rows = append(rows, protocol.EncodeInterfaceArray([]interface{}{
			"name", p.Name, "ip", p.IP, "port", p.Port, "runid", p.RunID,
		}))
	}
	return protocol.EncodeRawArray(rows)
}

func (s *MonitorServer) handleGetMasterAddrByName(args []string) []byte {
	if len(args) < 1 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel get-master-addr-by-name' command")
	}
	addr, ok := s.sv.MasterAddr(args[0])
	if !ok {
		return protocol.EncodeNullBulkString()
	}
	return protocol.EncodeArray([]string{addr.IP, strconv.Itoa(addr.Port)})
}

func (s *MonitorServer) handlePendingScripts() []byte {
	jobs := s.sv.PendingScripts()
	var rows [][]byte
	for _, j := range jobs {
		rows = append(rows, protocol.EncodeInterfaceArray([]interface{}{
			"argv", strings.Join(j.Argv, " "),
			"retry-num", j.RetryNum,
			"start-time", j.StartTime.Unix(),
		}))
	}
	return protocol.EncodeRawArray(rows)
}

func (s *MonitorServer) handleReset(args []string) []byte {
	if len(args) < 1 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel reset' command")
	}
	return protocol.EncodeInteger(s.sv.ResetMatching(args[0]))
}

func (s *MonitorServer) handleFailover(args []string) []byte {
	if len(args) < 1 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel failover' command")
	}
	if !s.sv.ForceFailover(args[0]) {
		return protocol.EncodeError("ERR No such master with that name, or failover already in progress")
	}
	return protocol.EncodeSimpleString("OK")
}

func (s *MonitorServer) handleIsMasterDownByAddr(args []string) []byte {
	if len(args) < 4 {
		return protocol.EncodeError("ERR wrong number of arguments for 'sentinel is-master-down-by-addr' command")
	}
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return protocol.EncodeError("ERR invalid port")
	}
	epoch, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return protocol.EncodeError("ERR invalid epoch")
	}
	down, leaderRunID, leaderEpoch := s.sv.AnswerIsMasterDownByAddr(monitor.Address{IP: args[0], Port: port}, epoch, args[3])

	downStr := "0"
	if down {
		downStr = "1"
	}
	return protocol.EncodeArray([]string{downStr, leaderRunID, strconv.FormatUint(leaderEpoch, 10)})
}

func (s *MonitorServer) handleInfo() []byte {
	var b strings.Builder
	b.WriteString("# Sentinel\r\n")
	fmt.Fprintf(&b, "run_id:%s\r\n", s.sv.SelfRunID())
	masters := s.sv.Masters()
	fmt.Fprintf(&b, "sentinel_masters:%d\r\n", len(masters))
	for i, m := range masters {
		fmt.Fprintf(&b, "master%d:name=%s,status=%s,address=%s:%d,slaves=%d,sentinels=%d\r\n",
			i, m.Name, masterFlags(m), m.IP, m.Port, m.NumReplicas, m.NumPeers+1)
	}
	return protocol.EncodeBulkString(b.String())
}
