package server

// MonitorConfig holds the bind address for the admin query surface. The
// monitored primaries/replicas/peers themselves are loaded from a
// monitor.LoadConfig file, not from here -- this only covers where the
// admin RESP listener itself binds.
type MonitorConfig struct {
	Host           string
	Port           int
	MaxConnections int
}

// DefaultMonitorConfig returns the default admin listener configuration.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Host:           "0.0.0.0",
		Port:           26379,
		MaxConnections: 10000,
	}
}
