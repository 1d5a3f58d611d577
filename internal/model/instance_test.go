package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		ok       bool
	}{
		{InstanceStateQueued, InstanceStateProvisioning, true},
		{InstanceStateQueued, InstanceStateTerminated, true},
		{InstanceStateQueued, InstanceStateError, true},
		{InstanceStateProvisioning, InstanceStateActive, true},
		{InstanceStateProvisioning, InstanceStateError, true},
		{InstanceStateActive, InstanceStateTerminating, true},
		{InstanceStateTerminating, InstanceStateTerminated, true},
		{InstanceStateActive, InstanceStateError, false},
		{InstanceStateActive, InstanceStateQueued, false},
		{InstanceStateError, InstanceStateTerminating, false},
		{InstanceStateTerminated, InstanceStateQueued, false},
		{InstanceStateTerminating, InstanceStateActive, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminalState(InstanceStateError))
	assert.True(t, IsTerminalState(InstanceStateTerminated))
	for _, s := range NonTerminalStates() {
		assert.False(t, IsTerminalState(s), s)
	}
}

func TestMetadataValueScan(t *testing.T) {
	m := Metadata{MetaQueuePosition: "3", MetaPriority: "10"}
	v, err := m.Value()
	require.NoError(t, err)

	var out Metadata
	require.NoError(t, out.Scan(v))
	assert.Equal(t, m, out)

	n, ok := out.Int(MetaQueuePosition)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)
	_, ok = out.Int(MetaQueuePosition)
	assert.False(t, ok)
}
