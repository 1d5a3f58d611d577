//go:build integration

package cluster

import (
	"context"
	"testing"
	"time"

	"labspawn/pkg/log"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// DockerPlatformSuite 需要本机可用的 docker daemon:
//
//	go test ./pkg/cluster/ -tags integration -v
type DockerPlatformSuite struct {
	suite.Suite
	ctx      context.Context
	cancel   context.CancelFunc
	platform *DockerPlatform
}

func (s *DockerPlatformSuite) SetupSuite() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 3*time.Minute)
	p, err := NewDockerPlatform(s.ctx, DockerConfig{PullImages: true}, NewMemorySecretStore(), log.NewNop())
	require.NoError(s.T(), err)
	require.NoError(s.T(), p.Ping(s.ctx), "docker must be available for integration tests")
	s.platform = p
}

func (s *DockerPlatformSuite) TearDownSuite() {
	s.cancel()
}

func (s *DockerPlatformSuite) TestWorkloadLifecycle() {
	id := "labspawn-it-" + time.Now().Format("150405")
	require.NoError(s.T(), s.platform.CreateSecret(s.ctx, "flag-"+id, map[string]string{"FLAG": "flag{it}"}, nil))

	_, err := s.platform.CreateWorkload(s.ctx, WorkloadSpec{
		InstanceID: id,
		Image:      "nginx:alpine",
		Port:       80,
		SecretRef:  "flag-" + id,
	})
	require.NoError(s.T(), err)
	defer func() { _ = s.platform.DeleteWorkload(context.Background(), id) }()

	s.Eventually(func() bool {
		w, err := s.platform.GetWorkload(s.ctx, id)
		return err == nil && w.Ready
	}, 30*time.Second, 500*time.Millisecond)

	require.NoError(s.T(), s.platform.DeleteWorkload(s.ctx, id))
	_, err = s.platform.GetWorkload(s.ctx, id)
	s.ErrorIs(err, ErrNotFound)
	require.NoError(s.T(), s.platform.DeleteWorkload(s.ctx, id))
}

func TestDockerPlatformSuite(t *testing.T) {
	suite.Run(t, new(DockerPlatformSuite))
}
