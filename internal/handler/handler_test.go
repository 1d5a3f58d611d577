package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"labspawn/internal/handler"
	"labspawn/internal/model"
	"labspawn/internal/queue"
	"labspawn/internal/repository"
	"labspawn/internal/repository/sqlitetest"
	"labspawn/internal/router"
	"labspawn/internal/server"
	"labspawn/internal/service"
	"labspawn/internal/worker"
	"labspawn/pkg/cluster"
	"labspawn/pkg/jwt"
	"labspawn/pkg/log"
	"labspawn/pkg/sid"

	"github.com/gavv/httpexpect/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	engine *gin.Engine
	queue  *queue.MemoryQueue
	pool   *worker.Pool
	jwt    *jwt.JWT
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithLogger(t, log.NewNop())
}

func newTestEnvWithLogger(t *testing.T, logger *log.Logger) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conf := viper.New()
	conf.Set("env", "test")
	conf.Set("orchestrator.priority.default", 10)
	conf.Set("orchestrator.priority.privileged", 1)
	conf.Set("orchestrator.watch.interval", 20*time.Millisecond)

	repo := repository.NewRepository(logger, sqlitetest.New(t))
	instanceRepo := repository.NewInstanceRepository(repo)
	userRepo := repository.NewUserRepository(repo)
	contents, err := repository.NewStaticContentRepository([]*model.Content{
		{Ref: "web-101", Name: "Web 101", Image: "ghcr.io/labspawn/web-101", Port: 8080},
	})
	require.NoError(t, err)

	q := queue.NewMemoryQueue(queue.Options{MaxPending: 100})
	platform := cluster.NewMemoryPlatform(nil, 0)
	registry := server.NewRegistry()
	pool := worker.NewPool(worker.Config{
		Workers:           1,
		Lease:             time.Second,
		ProvisionTimeout:  2 * time.Second,
		TerminateTimeout:  time.Second,
		ReadyPollInterval: 5 * time.Millisecond,
		RetryInitial:      5 * time.Millisecond,
	}, q, instanceRepo, contents, platform, worker.NewMetrics(registry, q), logger)

	j := jwt.NewJwtWithKey("handler-test")
	svc := service.NewService(logger, sid.NewSid())
	h := handler.NewHandler(logger)
	deps := router.RouterDeps{
		Logger: logger,
		Config: conf,
		JWT:    j,
		InstanceHandler: handler.NewInstanceHandler(h, conf,
			service.NewInstanceService(svc, conf, q, instanceRepo, contents, userRepo),
			service.NewStatusService(svc, q, instanceRepo),
		),
		SecretHandler: handler.NewSecretHandler(h, service.NewSecretBroker(svc, conf, platform, instanceRepo)),
		HealthHandler: handler.NewHealthHandler(h, platform, q),
	}
	s := server.NewHTTPServer(deps, registry)
	return &testEnv{engine: s.Engine, queue: q, pool: pool, jwt: j}
}

func (e *testEnv) token(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := e.jwt.GenToken(userID, role, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return "Bearer " + token
}

// runNext 认领并执行下一个任务
func (e *testEnv) runNext(t *testing.T) queue.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	task, err := e.queue.Dequeue(ctx)
	require.NoError(t, err)
	return e.pool.Execute(context.Background(), task)
}

func newHttpExcept(t *testing.T, engine *gin.Engine) *httpexpect.Expect {
	return httpexpect.WithConfig(httpexpect.Config{
		Client: &http.Client{
			Transport: httpexpect.NewBinder(engine),
			Jar:       httpexpect.NewCookieJar(),
		},
		Reporter: httpexpect.NewAssertReporter(t),
		Printers: []httpexpect.Printer{
			httpexpect.NewDebugPrinter(t, true),
		},
	})
}

func TestLaunchRequiresToken(t *testing.T) {
	env := newTestEnv(t)
	e := newHttpExcept(t, env.engine)

	e.POST("/api/v1/instances").
		WithJSON(map[string]string{"content_ref": "web-101"}).
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("code").Number().IsEqual(401)
}

func TestInstanceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	e := newHttpExcept(t, env.engine)
	alice := env.token(t, "u-alice", jwt.RoleLearner)
	bob := env.token(t, "u-bob", jwt.RoleLearner)

	launched := e.POST("/api/v1/instances").
		WithHeader("Authorization", alice).
		WithJSON(map[string]string{"content_ref": "web-101"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	launched.Value("code").Number().IsEqual(0)
	data := launched.Value("data").Object()
	instanceID := data.Value("instance_id").String().NotEmpty().Raw()
	taskID := data.Value("task_id").String().NotEmpty().Raw()

	// 同一题目再次申请返回已有实例
	conflict := e.POST("/api/v1/instances").
		WithHeader("Authorization", alice).
		WithJSON(map[string]string{"content_ref": "web-101"}).
		Expect().
		Status(http.StatusConflict).
		JSON().Object()
	conflict.Value("code").Number().IsEqual(3001)
	conflict.Value("data").Object().Value("instance_id").String().IsEqual(instanceID)

	status := e.GET("/api/v1/instances/{id}/status", instanceID).
		WithHeader("Authorization", alice).
		WithQuery("task_id", taskID).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object()
	status.Value("status").String().IsEqual("QUEUED")
	status.Value("position").Number().IsEqual(0)
	status.Value("priority").Number().IsEqual(10)

	e.GET("/api/v1/tasks/status").
		WithHeader("Authorization", alice).
		WithQuery("task_id", taskID).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("instance_id").String().IsEqual(instanceID)
	e.GET("/api/v1/tasks/status").
		WithHeader("Authorization", alice).
		Expect().
		Status(http.StatusBadRequest)

	e.GET("/api/v1/instances/{id}/status", instanceID).
		WithHeader("Authorization", bob).
		WithQuery("task_id", taskID).
		Expect().
		Status(http.StatusForbidden)

	result := env.runNext(t)
	require.True(t, result.Success, result.Error)

	status = e.GET("/api/v1/instances/{id}/status", instanceID).
		WithHeader("Authorization", alice).
		WithQuery("task_id", taskID).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object()
	status.Value("status").String().IsEqual("ACTIVE")
	status.Value("url").String().IsEqual(result.URL)

	item := e.GET("/api/v1/instances/{id}", instanceID).
		WithHeader("Authorization", alice).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object()
	item.Value("state").String().IsEqual(model.InstanceStateActive)
	secretRef := item.Value("secret_ref").String().NotEmpty().Raw()

	e.GET("/api/v1/secrets/{ref}", secretRef).
		WithHeader("Authorization", alice).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("value").String().HasPrefix("flag{")

	e.GET("/api/v1/secrets/{ref}", secretRef).
		WithHeader("Authorization", bob).
		Expect().
		Status(http.StatusForbidden)

	e.DELETE("/api/v1/instances/{id}", instanceID).
		WithHeader("Authorization", alice).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("state").String().IsEqual(model.InstanceStateTerminating)

	// 重复销毁仍然成功
	e.DELETE("/api/v1/instances/{id}", instanceID).
		WithHeader("Authorization", alice).
		Expect().
		Status(http.StatusOK)

	require.True(t, env.runNext(t).Success)

	e.GET("/api/v1/instances/{id}", instanceID).
		WithHeader("Authorization", alice).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("state").String().IsEqual(model.InstanceStateTerminated)

	e.GET("/api/v1/secrets/{ref}", secretRef).
		WithHeader("Authorization", alice).
		Expect().
		Status(http.StatusNotFound)
}

func TestLaunchUnknownContent(t *testing.T) {
	env := newTestEnv(t)
	e := newHttpExcept(t, env.engine)

	e.POST("/api/v1/instances").
		WithHeader("Authorization", env.token(t, "u-alice", jwt.RoleLearner)).
		WithJSON(map[string]string{"content_ref": "nope"}).
		Expect().
		Status(http.StatusNotFound).
		JSON().Object().Value("code").Number().IsEqual(3003)

	e.POST("/api/v1/instances").
		WithHeader("Authorization", env.token(t, "u-alice", jwt.RoleLearner)).
		WithJSON(map[string]string{}).
		Expect().
		Status(http.StatusBadRequest)
}

func TestPrivilegedEndpoints(t *testing.T) {
	env := newTestEnv(t)
	e := newHttpExcept(t, env.engine)
	learner := env.token(t, "u-alice", jwt.RoleLearner)
	admin := env.token(t, "u-admin", jwt.RoleAdmin)

	e.POST("/api/v1/instances").
		WithHeader("Authorization", learner).
		WithJSON(map[string]string{"content_ref": "web-101"}).
		Expect().
		Status(http.StatusOK)

	e.GET("/api/v1/instances").
		WithHeader("Authorization", learner).
		WithQuery("scope", "all").
		Expect().
		Status(http.StatusForbidden)

	e.GET("/api/v1/instances").
		WithHeader("Authorization", admin).
		WithQuery("scope", "all").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("total").Number().IsEqual(1)

	e.GET("/api/v1/instances").
		WithHeader("Authorization", learner).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("list").Array().Length().IsEqual(1)

	e.GET("/api/v1/queue/stats").
		WithHeader("Authorization", learner).
		Expect().
		Status(http.StatusForbidden)

	e.GET("/api/v1/queue/stats").
		WithHeader("Authorization", admin).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("pending").Number().IsEqual(1)

	e.GET("/api/v1/contents").
		WithHeader("Authorization", learner).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Array().Length().IsEqual(1)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)
	e := newHttpExcept(t, env.engine)

	e.GET("/healthz").
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("status").String().IsEqual("ok")

	e.GET("/metrics").
		Expect().
		Status(http.StatusOK).
		Body().Contains("labspawn_queue_pending")
}

func TestWatchPushesUntilActive(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.engine)
	defer srv.Close()
	e := newHttpExcept(t, env.engine)
	alice := env.token(t, "u-alice", jwt.RoleLearner)

	instanceID := e.POST("/api/v1/instances").
		WithHeader("Authorization", alice).
		WithJSON(map[string]string{"content_ref": "web-101"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("instance_id").String().Raw()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/instances/" + instanceID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Authorization": []string{alice}})
	require.NoError(t, err)
	defer conn.Close()

	var first map[string]interface{}
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "QUEUED", first["status"])

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if task, err := env.queue.Dequeue(ctx); err == nil {
			env.pool.Execute(context.Background(), task)
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var last map[string]interface{}
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		last = msg
	}
	require.NotNil(t, last)
	assert.Equal(t, "ACTIVE", last["status"])
	assert.NotEmpty(t, last["url"])
}
