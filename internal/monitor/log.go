package monitor

import (
	"github.com/sirupsen/logrus"
)

// logger is the package-wide structured logger. The teacher's "redis"
// server logs through the bare stdlib log package; the monitor adopts
// logrus instead since the Hello/epoch/failover surface is exactly the
// kind of event stream that wants structured fields (primary, run_id,
// epoch) rather than pre-formatted strings.
var logger = logrus.New()

func init() {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func logf() *logrus.Entry {
	return logger.WithField("component", "monitor")
}
