package monitor

import "time"

// Constants from spec.md §6. Names mirror the spec prose so a reader
// can cross-reference directly.
const (
	InfoPeriod            = 10 * time.Second
	InfoPeriodFast         = 1 * time.Second // when parent is ODOWN or FAILOVER_IN_PROGRESS
	PingPeriod            = 1 * time.Second
	AskPeriod             = 1 * time.Second
	PublishPeriod         = 2 * time.Second
	DefaultDownAfterPeriod = 30 * time.Second
	TiltTrigger           = 2 * time.Second
	TiltPeriod            = 30 * PingPeriod
	InfoValidityTime      = 5 * time.Second
	ElectionTimeout       = 10 * time.Second
	DefaultFailoverTimeout = 180 * time.Second
	DefaultParallelSyncs  = 1
	MinLinkReconnectPeriod = 15 * time.Second
	SlaveReconfRetryPeriod = 10 * time.Second

	MaxQueue           = 256
	MaxRunning         = 16
	MaxRuntime         = 60 * time.Second
	MaxRetry           = 10
	RetryDelay         = 30 * time.Second

	MaxPendingCommands = 100

	DefaultPort = 26379

	HelloChannel = "__sentinel__:hello"
)
