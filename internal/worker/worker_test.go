package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"
	"labspawn/internal/repository/sqlitetest"
	"labspawn/pkg/cluster"
	"labspawn/pkg/cluster/mocks"
	"labspawn/pkg/log"

	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	pool     *Pool
	queue    *queue.MemoryQueue
	repo     repository.InstanceRepository
	platform *cluster.MemoryPlatform
}

func testConfig() Config {
	return Config{
		Workers:           2,
		Lease:             time.Second,
		ProvisionTimeout:  2 * time.Second,
		TerminateTimeout:  time.Second,
		ReadyPollInterval: 10 * time.Millisecond,
		RetryInitial:      5 * time.Millisecond,
	}
}

func testContents(t *testing.T) repository.ContentRepository {
	contents, err := repository.NewStaticContentRepository([]*model.Content{
		{Ref: "web-101", Image: "ghcr.io/labspawn/web-101", Port: 8080, Env: map[string]string{"mode": "easy"}},
	})
	require.NoError(t, err)
	return contents
}

func newFixture(t *testing.T, conf Config, platform cluster.Platform) (*fixture, *Pool) {
	t.Helper()
	repo := repository.NewInstanceRepository(repository.NewRepository(log.NewNop(), sqlitetest.New(t)))
	q := queue.NewMemoryQueue(queue.Options{MaxInFlight: 4, Lease: conf.Lease})
	mem, _ := platform.(*cluster.MemoryPlatform)
	pool := NewPool(conf, q, repo, testContents(t), platform, NewMetrics(prometheus.NewRegistry(), q), log.NewNop())
	return &fixture{pool: pool, queue: q, repo: repo, platform: mem}, pool
}

func (f *fixture) launch(t *testing.T, instanceID string) {
	t.Helper()
	ctx := context.Background()
	inst := &model.Instance{InstanceID: instanceID, OwnerID: "u-" + instanceID, ContentRef: "web-101", State: model.InstanceStateQueued}
	require.NoError(t, f.repo.Create(ctx, inst))
	taskID, err := f.queue.Enqueue(ctx, &queue.Task{InstanceID: instanceID, Kind: queue.KindProvision, Priority: 10})
	require.NoError(t, err)
	require.NoError(t, f.repo.SetTask(ctx, instanceID, model.InstanceStateQueued, taskID))
}

func (f *fixture) claim(t *testing.T) *queue.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := f.queue.Dequeue(ctx)
	require.NoError(t, err)
	return task
}

func (f *fixture) get(t *testing.T, instanceID string) *model.Instance {
	t.Helper()
	inst, err := f.repo.Get(context.Background(), instanceID)
	require.NoError(t, err)
	require.NotNil(t, inst)
	return inst
}

func (f *fixture) enqueueTerminate(t *testing.T, instanceID string) {
	t.Helper()
	_, err := f.queue.Enqueue(context.Background(), &queue.Task{InstanceID: instanceID, Kind: queue.KindTerminate, Priority: 0})
	require.NoError(t, err)
}

func TestProvisionRoundTrip(t *testing.T) {
	f, pool := newFixture(t, testConfig(), cluster.NewMemoryPlatform(nil, 30*time.Millisecond))
	f.launch(t, "i-1")

	task := f.claim(t)
	result := pool.Execute(context.Background(), task)
	require.True(t, result.Success, result.Error)
	assert.NotEmpty(t, result.URL)

	inst := f.get(t, "i-1")
	assert.Equal(t, model.InstanceStateActive, inst.State)
	assert.Equal(t, result.URL, inst.ExternalURL)
	assert.Equal(t, SecretName("i-1"), inst.SecretRef)
	assert.Empty(t, inst.Metadata)

	data, err := f.platform.GetSecret(context.Background(), inst.SecretRef)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(data["FLAG"], "flag{"), data["FLAG"])

	view, err := f.queue.Peek(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskDone, view.State)
	assert.True(t, view.Result.Success)
}

func TestProvisionTimeoutEndsInError(t *testing.T) {
	conf := testConfig()
	conf.ProvisionTimeout = 200 * time.Millisecond
	platform := cluster.NewMemoryPlatform(nil, 0)
	platform.SetNeverReady(true)
	f, pool := newFixture(t, conf, platform)
	f.launch(t, "i-1")

	start := time.Now()
	result := pool.Execute(context.Background(), f.claim(t))
	elapsed := time.Since(start)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
	assert.Less(t, elapsed, conf.ProvisionTimeout+conf.TerminateTimeout+time.Second)

	inst := f.get(t, "i-1")
	assert.Equal(t, model.InstanceStateError, inst.State)
	assert.NotEmpty(t, inst.Metadata[model.MetaError])
	assert.Empty(t, inst.SecretRef)
	assert.Nil(t, inst.ActiveKey)
	assert.Equal(t, 0, platform.WorkloadCount())

	_, err := platform.GetSecret(context.Background(), SecretName("i-1"))
	assert.ErrorIs(t, err, cluster.ErrNotFound)
}

func TestProvisionInvalidWorkloadFailsFast(t *testing.T) {
	platform := cluster.NewMemoryPlatform(nil, 0)
	platform.SetCreateError(fmt.Errorf("%w: no such image", cluster.ErrInvalidWorkload))
	f, pool := newFixture(t, testConfig(), platform)
	f.launch(t, "i-1")

	start := time.Now()
	result := pool.Execute(context.Background(), f.claim(t))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no such image")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, platform.Calls("CreateWorkload"))
	assert.Equal(t, model.InstanceStateError, f.get(t, "i-1").State)
}

func TestProvisionUnknownContent(t *testing.T) {
	f, pool := newFixture(t, testConfig(), cluster.NewMemoryPlatform(nil, 0))
	ctx := context.Background()
	require.NoError(t, f.repo.Create(ctx, &model.Instance{InstanceID: "i-1", OwnerID: "u1", ContentRef: "gone", State: model.InstanceStateQueued}))
	_, err := f.queue.Enqueue(ctx, &queue.Task{InstanceID: "i-1", Kind: queue.KindProvision})
	require.NoError(t, err)

	result := pool.Execute(ctx, f.claim(t))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "content gone not found")
	assert.Equal(t, model.InstanceStateError, f.get(t, "i-1").State)
	assert.Equal(t, 0, f.platform.Calls("CreateWorkload"))
}

func TestProvisionResumesRedeliveredTask(t *testing.T) {
	f, pool := newFixture(t, testConfig(), cluster.NewMemoryPlatform(nil, 0))
	f.launch(t, "i-1")
	secretRef := SecretName("i-1")
	require.NoError(t, f.repo.Transition(context.Background(), "i-1", model.InstanceStateQueued, model.InstanceStateProvisioning, repository.TransitionFields{
		SecretRef: &secretRef,
	}))

	result := pool.Execute(context.Background(), f.claim(t))
	require.True(t, result.Success, result.Error)
	assert.Equal(t, model.InstanceStateActive, f.get(t, "i-1").State)
}

func TestProvisionSkipsInstanceBeingTerminated(t *testing.T) {
	f, pool := newFixture(t, testConfig(), cluster.NewMemoryPlatform(nil, 0))
	f.launch(t, "i-1")
	require.NoError(t, f.repo.Transition(context.Background(), "i-1", model.InstanceStateQueued, model.InstanceStateTerminating, repository.TransitionFields{}))

	result := pool.Execute(context.Background(), f.claim(t))
	assert.False(t, result.Success)
	assert.Equal(t, 0, f.platform.Calls("CreateWorkload"))
	assert.Equal(t, 0, f.platform.Calls("CreateSecret"))
}

func TestTerminateBeforeProvisionClaimedSkipsCluster(t *testing.T) {
	f, pool := newFixture(t, testConfig(), cluster.NewMemoryPlatform(nil, 0))
	ctx := context.Background()
	f.launch(t, "i-1")

	// 创建任务已被认领，但还没把实例切到 PROVISIONING
	provisionTask := f.claim(t)
	require.NoError(t, f.repo.Transition(ctx, "i-1", model.InstanceStateQueued, model.InstanceStateTerminating, repository.TransitionFields{}))

	f.enqueueTerminate(t, "i-1")
	result := pool.Execute(ctx, f.claim(t))
	require.True(t, result.Success, result.Error)

	inst := f.get(t, "i-1")
	assert.Equal(t, model.InstanceStateTerminated, inst.State)
	assert.Empty(t, inst.SecretRef)
	assert.Equal(t, 0, f.platform.Calls("DeleteWorkload"))
	assert.Equal(t, 0, f.platform.Calls("DeleteSecret"))

	result = pool.Execute(ctx, provisionTask)
	assert.False(t, result.Success)
	assert.Equal(t, 0, f.platform.Calls("CreateWorkload"))
	assert.Equal(t, 0, f.platform.Calls("CreateSecret"))
	assert.Equal(t, model.InstanceStateTerminated, f.get(t, "i-1").State)
}

func TestTerminateActiveInstance(t *testing.T) {
	f, pool := newFixture(t, testConfig(), cluster.NewMemoryPlatform(nil, 0))
	f.launch(t, "i-1")
	require.True(t, pool.Execute(context.Background(), f.claim(t)).Success)
	secretRef := f.get(t, "i-1").SecretRef

	f.enqueueTerminate(t, "i-1")
	result := pool.Execute(context.Background(), f.claim(t))
	require.True(t, result.Success, result.Error)

	inst := f.get(t, "i-1")
	assert.Equal(t, model.InstanceStateTerminated, inst.State)
	assert.Empty(t, inst.SecretRef)
	assert.Empty(t, inst.Metadata)
	assert.Nil(t, inst.ActiveKey)
	assert.Equal(t, 0, f.platform.WorkloadCount())

	_, err := f.platform.GetSecret(context.Background(), secretRef)
	assert.ErrorIs(t, err, cluster.ErrNotFound)

	// 第二次销毁是无操作的成功
	f.enqueueTerminate(t, "i-1")
	deletes := f.platform.Calls("DeleteWorkload")
	result = pool.Execute(context.Background(), f.claim(t))
	assert.True(t, result.Success)
	assert.Equal(t, deletes, f.platform.Calls("DeleteWorkload"))
	assert.Equal(t, model.InstanceStateTerminated, f.get(t, "i-1").State)
}

func TestTerminateKeepsTerminatingWhenDeleteFails(t *testing.T) {
	conf := testConfig()
	conf.TerminateTimeout = 100 * time.Millisecond
	f, pool := newFixture(t, conf, cluster.NewMemoryPlatform(nil, 0))
	f.launch(t, "i-1")
	require.True(t, pool.Execute(context.Background(), f.claim(t)).Success)

	f.platform.SetDeleteError(fmt.Errorf("api server unavailable"))
	f.enqueueTerminate(t, "i-1")
	result := pool.Execute(context.Background(), f.claim(t))
	assert.False(t, result.Success)
	assert.Equal(t, model.InstanceStateTerminating, f.get(t, "i-1").State)
}

func TestTerminateRacesProvisioning(t *testing.T) {
	ctrl := gomock.NewController(t)
	platform := mocks.NewMockPlatform(ctrl)
	f, pool := newFixture(t, testConfig(), platform)
	f.launch(t, "i-1")
	ctx := context.Background()

	platform.EXPECT().GetSecret(gomock.Any(), SecretName("i-1")).Return(nil, cluster.ErrNotFound)
	platform.EXPECT().CreateSecret(gomock.Any(), SecretName("i-1"), gomock.Any(), gomock.Any()).Return(nil)
	platform.EXPECT().CreateWorkload(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, spec cluster.WorkloadSpec) (*cluster.Workload, error) {
			assert.Equal(t, "easy", spec.Env["MODE"])
			assert.Equal(t, SecretName("i-1"), spec.SecretRef)
			// 创建过程中用户发起了销毁
			err := f.repo.Transition(ctx, "i-1", model.InstanceStateProvisioning, model.InstanceStateTerminating, repository.TransitionFields{})
			require.NoError(t, err)
			return &cluster.Workload{InstanceID: spec.InstanceID}, nil
		})
	platform.EXPECT().GetWorkload(gomock.Any(), "i-1").Return(&cluster.Workload{InstanceID: "i-1", Ready: true, URL: "http://lab:1"}, nil)
	// 激活失败后清理自己创建的资源
	platform.EXPECT().DeleteWorkload(gomock.Any(), "i-1").Return(nil)
	platform.EXPECT().DeleteSecret(gomock.Any(), SecretName("i-1")).Return(nil)

	result := pool.Execute(ctx, f.claim(t))
	assert.False(t, result.Success)
	assert.Equal(t, model.InstanceStateTerminating, f.get(t, "i-1").State)
}

func TestPoolRunDrainsQueue(t *testing.T) {
	f, pool := newFixture(t, testConfig(), cluster.NewMemoryPlatform(nil, 0))
	for _, id := range []string{"i-1", "i-2", "i-3"} {
		f.launch(t, id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, id := range []string{"i-1", "i-2", "i-3"} {
			if f.get(t, id).State != model.InstanceStateActive {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
}
