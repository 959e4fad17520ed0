package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor() *Supervisor {
	return NewSupervisor(GlobalConfig{AnnounceIP: "127.0.0.1", AnnouncePort: 26379})
}

func TestAddPrimaryDedupsByName(t *testing.T) {
	sv := newTestSupervisor()

	p1 := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)
	p2 := sv.AddPrimary("mymaster", Address{IP: "10.0.0.99", Port: 9999}, 5)

	assert.Same(t, p1, p2, "a second AddPrimary call for the same name must be a no-op")
	assert.Equal(t, 2, p1.Quorum, "the original quorum must survive the duplicate call")
	assert.Equal(t, "10.0.0.1", p1.Addr.IP)
}

func TestLoadConfigRegistersPrimariesAndDirectives(t *testing.T) {
	sv := newTestSupervisor()

	cfg := `
# a comment
monitor mymaster 10.0.0.1 6379 2
down-after-milliseconds mymaster 5000
parallel-syncs mymaster 3
can-failover mymaster no
`
	require.NoError(t, sv.LoadConfig(strings.NewReader(cfg)))

	p := sv.Primary("mymaster")
	require.NotNil(t, p)
	assert.Equal(t, 5*time.Second, p.DownAfterPeriod)
	assert.Equal(t, 3, p.ParallelSyncs)
	assert.False(t, p.Flags.has(FlagCanFailover))
}

func TestLoadConfigRejectsDirectiveBeforeMonitor(t *testing.T) {
	sv := newTestSupervisor()
	err := sv.LoadConfig(strings.NewReader("down-after-milliseconds mymaster 5000\n"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnknownDirective(t *testing.T) {
	sv := newTestSupervisor()
	err := sv.LoadConfig(strings.NewReader("bogus-directive foo\n"))
	assert.Error(t, err)
}

func TestResetMatchingGlob(t *testing.T) {
	sv := newTestSupervisor()
	sv.AddPrimary("prod-cache", Address{IP: "10.0.0.1", Port: 6379}, 2)
	sv.AddPrimary("prod-db", Address{IP: "10.0.0.2", Port: 6379}, 2)
	sv.AddPrimary("staging-db", Address{IP: "10.0.0.3", Port: 6379}, 2)

	p := sv.Primary("prod-db")
	sv.mu.Lock()
	p.Replicas["r1"] = newInstance(KindReplica, "r1", Address{IP: "10.0.0.9", Port: 6379})
	p.Flags.set(FlagSDown)
	sv.mu.Unlock()

	n := sv.ResetMatching("prod-*")
	assert.Equal(t, 2, n)
	assert.Empty(t, p.Replicas, "reset must drop replicas")
	assert.False(t, p.Flags.has(FlagSDown), "reset must clear runtime flags")

	staging := sv.Primary("staging-db")
	assert.NotNil(t, staging, "a non-matching primary must be untouched")
}

func TestForceFailoverRefusesWhenAlreadyInProgress(t *testing.T) {
	sv := newTestSupervisor()
	sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	assert.True(t, sv.ForceFailover("mymaster"))
	assert.False(t, sv.ForceFailover("mymaster"), "a second force-failover while one is in progress must fail")
}

func TestForceFailoverUnknownMaster(t *testing.T) {
	sv := newTestSupervisor()
	assert.False(t, sv.ForceFailover("no-such-master"))
}
