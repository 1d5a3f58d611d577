package service

import (
	"context"
	"testing"
	"time"

	v1 "labspawn/api/v1"
	"labspawn/internal/model"
	"labspawn/internal/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollQueuedPositionDecreases(t *testing.T) {
	f := newFixture(t, queue.Options{MaxInFlight: 1})
	ctx := context.Background()

	var last *v1.LaunchResponseData
	for _, ref := range []string{"web-101", "pwn-201"} {
		for _, caller := range []Caller{learner, otherUser} {
			resp, err := f.instances.Launch(ctx, caller, &v1.LaunchRequest{ContentRef: ref})
			require.NoError(t, err)
			last = resp
		}
	}

	prev := -1
	for i := 0; i < 4; i++ {
		st, err := f.status.Poll(ctx, otherUser, last.InstanceID, last.TaskID)
		require.NoError(t, err)
		require.Equal(t, v1.StatusQueued, st.Status)
		require.NotNil(t, st.Position)
		require.NotNil(t, st.Priority)
		assert.Equal(t, 10, *st.Priority)
		if prev >= 0 {
			assert.Less(t, *st.Position, prev)
		}
		prev = *st.Position
		f.runNext(t)
	}
	assert.Equal(t, 0, prev)
}

func TestPollClaimedIsInProgress(t *testing.T) {
	f := newFixture(t, queue.Options{})
	ctx := context.Background()

	resp, err := f.instances.Launch(ctx, learner, &v1.LaunchRequest{ContentRef: "web-101"})
	require.NoError(t, err)
	dctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_, err = f.queue.Dequeue(dctx)
	require.NoError(t, err)

	st, err := f.status.Poll(ctx, learner, resp.InstanceID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusProvisioning, st.Status)
	assert.True(t, st.InProgress)
	assert.Nil(t, st.Position)
	assert.False(t, st.Status.Final())
}

func TestPollActiveSurvivesResultPurge(t *testing.T) {
	f := newFixture(t, queue.Options{ResultGrace: time.Nanosecond})
	ctx := context.Background()

	resp, err := f.instances.Launch(ctx, learner, &v1.LaunchRequest{ContentRef: "web-101"})
	require.NoError(t, err)
	result := f.runNext(t)
	require.True(t, result.Success)

	st, err := f.status.Poll(ctx, learner, resp.InstanceID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusActive, st.Status)
	assert.Equal(t, result.URL, st.URL)

	time.Sleep(2 * time.Millisecond)
	n, err := f.queue.PurgeResults(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	st, err = f.status.Poll(ctx, learner, resp.InstanceID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusActive, st.Status)
	assert.Equal(t, result.URL, st.URL)
}

func TestPollByTaskOnly(t *testing.T) {
	f := newFixture(t, queue.Options{ResultGrace: time.Nanosecond})
	ctx := context.Background()

	resp, err := f.instances.Launch(ctx, learner, &v1.LaunchRequest{ContentRef: "web-101"})
	require.NoError(t, err)

	st, err := f.status.Poll(ctx, learner, "", resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusQueued, st.Status)
	assert.Equal(t, resp.InstanceID, st.InstanceID)

	_, err = f.status.Poll(ctx, otherUser, "", resp.TaskID)
	assert.ErrorIs(t, err, v1.ErrForbidden)

	result := f.runNext(t)
	require.True(t, result.Success)
	time.Sleep(2 * time.Millisecond)
	_, err = f.queue.PurgeResults(ctx)
	require.NoError(t, err)

	// 队列里的结果已清理，按实例记录的任务 id 找回
	st, err = f.status.Poll(ctx, learner, "", resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusActive, st.Status)
	assert.Equal(t, result.URL, st.URL)

	_, err = f.status.Poll(ctx, learner, "", "no-such-task")
	assert.ErrorIs(t, err, v1.ErrNotFound)
	_, err = f.status.Poll(ctx, learner, "", "")
	assert.ErrorIs(t, err, v1.ErrBadRequest)
}

func TestPollErrorFromResultAndInstance(t *testing.T) {
	f := newFixture(t, queue.Options{ResultGrace: time.Nanosecond})
	ctx := context.Background()
	f.platform.SetNeverReady(true)

	resp, err := f.instances.Launch(ctx, learner, &v1.LaunchRequest{ContentRef: "web-101"})
	require.NoError(t, err)
	result := f.runNext(t)
	require.False(t, result.Success)

	st, err := f.status.Poll(ctx, learner, resp.InstanceID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusError, st.Status)
	assert.Equal(t, result.Error, st.Error)

	time.Sleep(2 * time.Millisecond)
	_, err = f.queue.PurgeResults(ctx)
	require.NoError(t, err)

	st, err = f.status.Poll(ctx, learner, resp.InstanceID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusError, st.Status)
	assert.NotEmpty(t, st.Error)
}

func TestPollUnknownWhenTaskLost(t *testing.T) {
	f := newFixture(t, queue.Options{})
	ctx := context.Background()

	inst := &model.Instance{InstanceID: "i-lost", OwnerID: learner.UserID, ContentRef: "web-101", State: model.InstanceStateQueued, TaskID: "gone"}
	require.NoError(t, f.repo.Create(ctx, inst))

	st, err := f.status.Poll(ctx, learner, "i-lost", "gone")
	require.NoError(t, err)
	assert.Equal(t, v1.StatusUnknown, st.Status)
	assert.True(t, st.Status.Final())
}

func TestPollTerminatedAfterTerminate(t *testing.T) {
	f := newFixture(t, queue.Options{})
	ctx := context.Background()

	resp, err := f.instances.Launch(ctx, learner, &v1.LaunchRequest{ContentRef: "web-101"})
	require.NoError(t, err)
	require.True(t, f.runNext(t).Success)
	out, err := f.instances.Terminate(ctx, learner, resp.InstanceID)
	require.NoError(t, err)

	// 旧的创建任务结果仍在，但实例已在销毁中
	st, err := f.status.Poll(ctx, learner, resp.InstanceID, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusTerminating, st.Status)
	assert.True(t, st.InProgress)

	st, err = f.status.Poll(ctx, learner, resp.InstanceID, out.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusQueued, st.Status)
	assert.Equal(t, 0, *st.Priority)

	require.True(t, f.runNext(t).Success)
	st, err = f.status.Poll(ctx, learner, resp.InstanceID, out.TaskID)
	require.NoError(t, err)
	assert.Equal(t, v1.StatusTerminated, st.Status)

	// 不带 task_id 时使用实例记录的任务
	st, err = f.status.Poll(ctx, learner, resp.InstanceID, "")
	require.NoError(t, err)
	assert.Equal(t, v1.StatusTerminated, st.Status)
}

func TestPollRejectsForeignTask(t *testing.T) {
	f := newFixture(t, queue.Options{})
	ctx := context.Background()

	a, err := f.instances.Launch(ctx, learner, &v1.LaunchRequest{ContentRef: "web-101"})
	require.NoError(t, err)
	b, err := f.instances.Launch(ctx, learner, &v1.LaunchRequest{ContentRef: "pwn-201"})
	require.NoError(t, err)

	_, err = f.status.Poll(ctx, learner, a.InstanceID, b.TaskID)
	assert.ErrorIs(t, err, v1.ErrNotFound)

	_, err = f.status.Poll(ctx, otherUser, a.InstanceID, a.TaskID)
	assert.ErrorIs(t, err, v1.ErrForbidden)
}

func TestFromInstanceActiveWithoutURL(t *testing.T) {
	st := fromInstance(&model.Instance{InstanceID: "i-1", State: model.InstanceStateActive}, "t-1")
	assert.Equal(t, v1.StatusUnknown, st.Status)

	st = fromInstance(&model.Instance{InstanceID: "i-1", State: model.InstanceStateError, Metadata: model.ErrorMetadata("image pull failed")}, "t-1")
	assert.Equal(t, v1.StatusError, st.Status)
	assert.Equal(t, "image pull failed", st.Error)
}
