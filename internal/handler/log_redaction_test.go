package handler_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"labspawn/pkg/jwt"
	"labspawn/pkg/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogsOmitFlagAndToken(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	env := newTestEnvWithLogger(t, &log.Logger{Logger: zap.New(core)})
	e := newHttpExcept(t, env.engine)
	bearer := env.token(t, "u-alice", jwt.RoleLearner)
	rawToken := strings.TrimPrefix(bearer, "Bearer ")

	instanceID := e.POST("/api/v1/instances").
		WithHeader("Authorization", bearer).
		WithJSON(map[string]string{"content_ref": "web-101"}).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("instance_id").String().Raw()
	require.True(t, env.runNext(t).Success)

	secretRef := e.GET("/api/v1/instances/{id}", instanceID).
		WithHeader("Authorization", bearer).
		WithQuery("access_token", rawToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("secret_ref").String().NotEmpty().Raw()

	flag := e.GET("/api/v1/secrets/{ref}", secretRef).
		WithHeader("Authorization", bearer).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("data").Object().Value("value").String().NotEmpty().Raw()

	require.NotZero(t, logs.Len())
	var sawSecretResponse bool
	for _, entry := range logs.All() {
		line := fmt.Sprintf("%s %v", entry.Message, entry.ContextMap())
		assert.NotContains(t, line, flag)
		assert.NotContains(t, line, rawToken)
		if entry.Message == "Response" && strings.Contains(line, "[redacted]") {
			sawSecretResponse = true
		}
	}
	assert.True(t, sawSecretResponse)
}
