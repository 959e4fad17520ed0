package monitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInfoBodySkipsHeadersAndBlankLines(t *testing.T) {
	body := "# Replication\r\nrole:master\r\n\r\nconnected_slaves:2\r\nslave0:ip=10.0.0.2,port=6380,state=online,offset=100\r\n"

	fields := parseInfoBody(body)

	assert.Equal(t, "master", fields["role"])
	assert.Equal(t, "2", fields["connected_slaves"])
	assert.Equal(t, "ip=10.0.0.2,port=6380,state=online,offset=100", fields["slave0"])
	_, hasHeader := fields["# Replication"]
	assert.False(t, hasHeader)
}

func TestDiscoverReplicasFromInfoLockedAddsNewReplicasOnly(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	fields := map[string]string{
		"slave0": "ip=10.0.0.2,port=6380,state=online,offset=1",
		"slave1": "ip=10.0.0.3,port=6381,state=online,offset=1",
	}
	sv.discoverReplicasFromInfoLocked(p, fields)

	require.Len(t, p.Replicas, 2)

	// A second pass over the same fields must not duplicate anything.
	sv.discoverReplicasFromInfoLocked(p, fields)
	assert.Len(t, p.Replicas, 2)
}

func TestDiscoverReplicasFromInfoLockedParsesPositionalForm(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	fields := map[string]string{
		"slave0": "10.0.0.2,6380,online",
	}
	sv.discoverReplicasFromInfoLocked(p, fields)

	require.Len(t, p.Replicas, 1)
	r, ok := p.Replicas[DeriveName(Address{IP: "10.0.0.2", Port: 6380})]
	require.True(t, ok)
	assert.Equal(t, 6380, r.Addr.Port)
}

func TestDiscoverReplicasFromInfoLockedSkipsMalformedEntries(t *testing.T) {
	sv := newTestSupervisor()
	p := sv.AddPrimary("mymaster", Address{IP: "10.0.0.1", Port: 6379}, 2)

	fields := map[string]string{
		"slave0": "ip=10.0.0.2,port=not-a-number",
	}
	sv.discoverReplicasFromInfoLocked(p, fields)

	assert.Empty(t, p.Replicas)
}

func TestClassifyPing(t *testing.T) {
	assert.Equal(t, "pong", classifyPing("PONG"))
	assert.Equal(t, "loading", classifyPing("LOADING still loading"))
	assert.Equal(t, "masterdown", classifyPing("MASTERDOWN link down"))
	assert.Equal(t, "busy", classifyPing("BUSY script running"))
	assert.Equal(t, "other", classifyPing("ERR unknown"))
}
