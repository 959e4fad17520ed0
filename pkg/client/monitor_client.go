package client

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"redis/internal/protocol"
)

// MonitorClient is a Redis-like client that discovers its primary and
// replicas through a monitor cluster instead of a fixed address,
// adapted from the teacher's SentinelClient to the monitor's admin
// query surface (internal/server.MonitorServer).
type MonitorClient struct {
	monitorAddrs []string
	masterName   string

	masterConn   net.Conn
	replicaConns []net.Conn
	connMu       sync.RWMutex

	roundRobin int
	mu         sync.Mutex

	masterAddr   string
	replicaAddrs []string

	requireStrongConsistency bool
	healthCheckInterval      time.Duration
	stopHealthCheck          chan struct{}
}

// MonitorClientOptions configures a MonitorClient.
type MonitorClientOptions struct {
	MonitorAddrs             []string
	MasterName               string
	RequireStrongConsistency bool          // Verify connected to master before critical reads
	HealthCheckInterval      time.Duration // How often to verify master connection (0 = disabled)
}

// NewMonitorClient creates a new monitor-aware client.
func NewMonitorClient(opts MonitorClientOptions) (*MonitorClient, error) {
	if len(opts.MonitorAddrs) == 0 {
		return nil, errors.New("at least one monitor address required")
	}
	if opts.MasterName == "" {
		return nil, errors.New("master name required")
	}

	client := &MonitorClient{
		monitorAddrs:             opts.MonitorAddrs,
		masterName:               opts.MasterName,
		requireStrongConsistency: opts.RequireStrongConsistency,
		healthCheckInterval:      opts.HealthCheckInterval,
		stopHealthCheck:          make(chan struct{}),
	}

	if err := client.reconnectToMaster(); err != nil {
		return nil, fmt.Errorf("failed to connect to master: %w", err)
	}

	if err := client.discoverReplicas(); err != nil {
		fmt.Printf("Warning: failed to discover replicas: %v\n", err)
	}

	if client.healthCheckInterval > 0 {
		go client.healthCheck()
	}

	return client, nil
}

// queryMonitorForMaster queries the monitor cluster for the current
// master address, trying each monitor in turn -- only one needs to
// answer since they all watch the same primary.
func (c *MonitorClient) queryMonitorForMaster() (string, error) {
	for _, addr := range c.monitorAddrs {
		host, port, err := c.queryGetMasterAddrByName(addr)
		if err != nil {
			continue
		}
		return fmt.Sprintf("%s:%d", host, port), nil
	}
	return "", errors.New("all monitors unreachable")
}

func (c *MonitorClient) queryGetMasterAddrByName(monitorAddr string) (string, int, error) {
	conn, err := net.DialTimeout("tcp", monitorAddr, 2*time.Second)
	if err != nil {
		return "", 0, err
	}
	defer conn.Close()

	cmd := protocol.EncodeArray([]string{"SENTINEL", "GET-MASTER-ADDR-BY-NAME", c.masterName})
	if _, err := conn.Write(cmd); err != nil {
		return "", 0, err
	}

	reader := bufio.NewReader(conn)
	reply, err := protocol.ParseCommand(reader)
	if err != nil {
		return "", 0, err
	}
	if len(reply.Args) != 2 {
		return "", 0, errors.New("malformed get-master-addr-by-name reply")
	}
	var port int
	if _, err := fmt.Sscanf(reply.Args[1], "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port in reply: %w", err)
	}
	return reply.Args[0], port, nil
}

// queryMonitorForReplicas queries the monitor cluster for the replica
// list of the watched master. Unlike the teacher's original, which
// dropped the parsed reply on the floor and always returned an empty
// slice, this parses the real SENTINEL REPLICAS reply -- an array of
// per-replica arrays, which protocol.ParseCommand cannot walk since it
// only flattens one level of bulk strings, so replies are read with
// readRESPValue below instead.
func (c *MonitorClient) queryMonitorForReplicas() ([]string, error) {
	for _, addr := range c.monitorAddrs {
		addrs, err := c.queryReplicas(addr)
		if err != nil {
			continue
		}
		return addrs, nil
	}
	return nil, errors.New("all monitors unreachable")
}

func (c *MonitorClient) queryReplicas(monitorAddr string) ([]string, error) {
	conn, err := net.DialTimeout("tcp", monitorAddr, 2*time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	cmd := protocol.EncodeArray([]string{"SENTINEL", "REPLICAS", c.masterName})
	if _, err := conn.Write(cmd); err != nil {
		return nil, err
	}

	reader := bufio.NewReader(conn)
	rows, err := readRESPArray(reader)
	if err != nil {
		return nil, err
	}

	// Each row is itself an array of "name" <name> "ip" <ip> "port"
	// <port> ... flattened key/value pairs, the shape
	// EncodeInterfaceArray gives a replica record in the monitor's
	// admin server.
	var addrs []string
	for _, row := range rows {
		fields, ok := row.([]interface{})
		if !ok {
			continue
		}
		var ip, port string
		for i := 0; i+1 < len(fields); i += 2 {
			key, _ := fields[i].(string)
			val, _ := fields[i+1].(string)
			switch key {
			case "ip":
				ip = val
			case "port":
				port = val
			}
		}
		if ip != "" && port != "" {
			addrs = append(addrs, fmt.Sprintf("%s:%s", ip, port))
		}
	}
	return addrs, nil
}

// readRESPArray reads one top-level RESP array reply whose elements
// may themselves be arrays, bulk strings, or integers -- the general
// shape of SENTINEL sub-command replies, which protocol.Command's
// single-level bulk-string array does not cover.
func readRESPArray(r *bufio.Reader) ([]interface{}, error) {
	v, err := readRESPValue(r)
	if err != nil {
		return nil, err
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, errors.New("expected array reply")
	}
	return arr, nil
}

func readRESPValue(r *bufio.Reader) (interface{}, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty reply line")
	}
	switch line[0] {
	case '*':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid array length: %w", err)
		}
		if n < 0 {
			return nil, nil
		}
		items := make([]interface{}, 0, n)
		for i := 0; i < n; i++ {
			item, err := readRESPValue(r)
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		}
		return items, nil
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid bulk length: %w", err)
		}
		if n < 0 {
			return nil, nil
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	case ':':
		return strconv.ParseInt(line[1:], 10, 64)
	case '+':
		return line[1:], nil
	case '-':
		return nil, errors.New(line[1:])
	default:
		return nil, fmt.Errorf("unexpected reply prefix %q", line[0])
	}
}

func (c *MonitorClient) reconnectToMaster() error {
	masterAddr, err := c.queryMonitorForMaster()
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("tcp", masterAddr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to master %s: %w", masterAddr, err)
	}

	c.connMu.Lock()
	if c.masterConn != nil {
		c.masterConn.Close()
	}
	c.masterConn = conn
	c.masterAddr = masterAddr
	c.connMu.Unlock()

	fmt.Printf("Connected to master: %s\n", masterAddr)
	return nil
}

func (c *MonitorClient) discoverReplicas() error {
	replicaAddrs, err := c.queryMonitorForReplicas()
	if err != nil {
		return err
	}

	var newConns []net.Conn
	for _, addr := range replicaAddrs {
		conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
		if err != nil {
			continue
		}
		newConns = append(newConns, conn)
	}

	c.connMu.Lock()
	for _, conn := range c.replicaConns {
		conn.Close()
	}
	c.replicaConns = newConns
	c.replicaAddrs = replicaAddrs
	c.connMu.Unlock()

	return nil
}

func (c *MonitorClient) healthCheck() {
	ticker := time.NewTicker(c.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			currentMaster, err := c.queryMonitorForMaster()
			if err != nil {
				continue
			}

			c.connMu.RLock()
			connected := c.masterAddr
			c.connMu.RUnlock()

			if currentMaster != connected {
				fmt.Printf("Master changed from %s to %s, reconnecting...\n", connected, currentMaster)
				c.reconnectToMaster()
				c.discoverReplicas()
			}
		case <-c.stopHealthCheck:
			return
		}
	}
}

// verifyConnectedToMaster checks that the existing master connection
// still reports role:master, catching an externally-promoted replica
// before a write is sent to it.
func (c *MonitorClient) verifyConnectedToMaster() bool {
	c.connMu.RLock()
	conn := c.masterConn
	c.connMu.RUnlock()

	if conn == nil {
		return false
	}

	cmd := protocol.EncodeArray([]string{"INFO", "replication"})
	if _, err := conn.Write(cmd); err != nil {
		return false
	}

	reader := bufio.NewReader(conn)
	reply, err := protocol.ParseCommand(reader)
	if err != nil {
		return false
	}
	return len(reply.Args) > 0 && strings.Contains(reply.Args[0], "role:master")
}

// Set writes a key-value pair (always goes to master).
func (c *MonitorClient) Set(key, value string) error {
	return c.executeWriteCommand("SET", key, value)
}

// Get reads a value (uses a replica if available, master otherwise).
func (c *MonitorClient) Get(key string) (string, error) {
	return c.executeReadCommand("GET", key)
}

func (c *MonitorClient) executeWriteCommand(cmd string, args ...string) error {
	return c.executeWriteCommandWithRetry(cmd, 3, args...)
}

func (c *MonitorClient) executeWriteCommandWithRetry(cmd string, maxRetries int, args ...string) error {
	if maxRetries <= 0 {
		return errors.New("max retries exceeded - master may be unstable")
	}

	c.connMu.RLock()
	conn := c.masterConn
	c.connMu.RUnlock()

	if conn == nil {
		if err := c.reconnectToMaster(); err != nil {
			return fmt.Errorf("failed to connect to master: %w", err)
		}
		c.connMu.RLock()
		conn = c.masterConn
		c.connMu.RUnlock()
	}

	fullArgs := append([]string{cmd}, args...)
	respCmd := protocol.EncodeArray(fullArgs)

	if _, err := conn.Write(respCmd); err != nil {
		c.reconnectToMaster()
		return c.executeWriteCommandWithRetry(cmd, maxRetries-1, args...)
	}

	reader := bufio.NewReader(conn)
	response, err := protocol.ParseCommand(reader)
	if err != nil {
		c.reconnectToMaster()
		return c.executeWriteCommandWithRetry(cmd, maxRetries-1, args...)
	}

	if len(response.Args) > 0 && strings.Contains(response.Args[0], "READONLY") {
		c.reconnectToMaster()
		return c.executeWriteCommandWithRetry(cmd, maxRetries-1, args...)
	}

	return nil
}

func (c *MonitorClient) executeReadCommand(cmd string, args ...string) (string, error) {
	if c.requireStrongConsistency {
		if !c.verifyConnectedToMaster() {
			c.reconnectToMaster()
		}
		return c.executeReadFromMaster(cmd, args...)
	}

	c.connMu.RLock()
	replicaCount := len(c.replicaConns)
	c.connMu.RUnlock()

	if replicaCount > 0 {
		result, err := c.executeReadFromReplica(cmd, args...)
		if err == nil {
			return result, nil
		}
	}

	return c.executeReadFromMaster(cmd, args...)
}

func (c *MonitorClient) executeReadFromReplica(cmd string, args ...string) (string, error) {
	c.mu.Lock()
	c.connMu.RLock()

	if len(c.replicaConns) == 0 {
		c.connMu.RUnlock()
		c.mu.Unlock()
		return "", errors.New("no replicas available")
	}

	replica := c.replicaConns[c.roundRobin%len(c.replicaConns)]
	c.roundRobin++
	c.connMu.RUnlock()
	c.mu.Unlock()

	fullArgs := append([]string{cmd}, args...)
	respCmd := protocol.EncodeArray(fullArgs)

	if _, err := replica.Write(respCmd); err != nil {
		return "", err
	}

	reader := bufio.NewReader(replica)
	response, err := protocol.ParseCommand(reader)
	if err != nil {
		return "", err
	}

	if len(response.Args) > 0 {
		return response.Args[0], nil
	}
	return "", nil
}

func (c *MonitorClient) executeReadFromMaster(cmd string, args ...string) (string, error) {
	return c.executeReadFromMasterWithRetry(cmd, 3, args...)
}

func (c *MonitorClient) executeReadFromMasterWithRetry(cmd string, maxRetries int, args ...string) (string, error) {
	if maxRetries <= 0 {
		return "", errors.New("max retries exceeded - master may be unstable")
	}

	c.connMu.RLock()
	conn := c.masterConn
	c.connMu.RUnlock()

	fullArgs := append([]string{cmd}, args...)
	respCmd := protocol.EncodeArray(fullArgs)

	if _, err := conn.Write(respCmd); err != nil {
		c.reconnectToMaster()
		return c.executeReadFromMasterWithRetry(cmd, maxRetries-1, args...)
	}

	reader := bufio.NewReader(conn)
	response, err := protocol.ParseCommand(reader)
	if err != nil {
		c.reconnectToMaster()
		return c.executeReadFromMasterWithRetry(cmd, maxRetries-1, args...)
	}

	if len(response.Args) > 0 {
		return response.Args[0], nil
	}
	return "", nil
}

// Close closes all connections and stops the health-check loop.
func (c *MonitorClient) Close() {
	close(c.stopHealthCheck)

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.masterConn != nil {
		c.masterConn.Close()
	}
	for _, conn := range c.replicaConns {
		conn.Close()
	}
}
