package cluster

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPlatformReadiness(t *testing.T) {
	p := NewMemoryPlatform(nil, 50*time.Millisecond)
	ctx := context.Background()

	_, err := p.GetWorkload(ctx, "i-1")
	assert.ErrorIs(t, err, ErrNotFound)

	w, err := p.CreateWorkload(ctx, WorkloadSpec{InstanceID: "i-1", Image: "nginx", Port: 80})
	require.NoError(t, err)
	assert.Equal(t, "i-1", w.InstanceID)

	w, err = p.GetWorkload(ctx, "i-1")
	require.NoError(t, err)
	assert.False(t, w.Ready)
	assert.Empty(t, w.URL)

	require.Eventually(t, func() bool {
		w, err := p.GetWorkload(ctx, "i-1")
		return err == nil && w.Ready && w.URL != ""
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, p.DeleteWorkload(ctx, "i-1"))
	require.NoError(t, p.DeleteWorkload(ctx, "i-1"))
	assert.Equal(t, 0, p.WorkloadCount())
	assert.Equal(t, 2, p.Calls("DeleteWorkload"))
}

func TestMemoryPlatformFailureInjection(t *testing.T) {
	p := NewMemoryPlatform(nil, 0)
	ctx := context.Background()

	boom := errors.New("quota exceeded")
	p.SetCreateError(boom)
	_, err := p.CreateWorkload(ctx, WorkloadSpec{InstanceID: "i-1"})
	assert.ErrorIs(t, err, boom)

	p.SetCreateError(nil)
	p.SetNeverReady(true)
	_, err = p.CreateWorkload(ctx, WorkloadSpec{InstanceID: "i-1"})
	require.NoError(t, err)
	w, err := p.GetWorkload(ctx, "i-1")
	require.NoError(t, err)
	assert.False(t, w.Ready)
}

func TestInstanceLabels(t *testing.T) {
	labels := instanceLabels(WorkloadSpec{InstanceID: "i-1", Port: 8080, Labels: map[string]string{"course": "a"}}, "main")
	assert.Equal(t, "true", labels[LabelManaged])
	assert.Equal(t, "i-1", labels[LabelInstance])
	assert.Equal(t, "8080", labels[LabelPort])
	assert.Equal(t, "a", labels["course"])

	labels = instanceLabels(WorkloadSpec{InstanceID: "i-1", Port: 8080}, "companion")
	_, ok := labels[LabelPort]
	assert.False(t, ok)
}

func TestEnvListSorted(t *testing.T) {
	env := envList(map[string]string{"B": "2", "A": "1"}, map[string]string{"FLAG": "x"})
	assert.Equal(t, []string{"A=1", "B=2", "FLAG=x"}, env)
}
