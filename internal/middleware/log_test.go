package middleware

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactURL(t *testing.T) {
	u, err := url.Parse("/api/v1/instances/i-1/watch?task_id=t-1&access_token=secret-token")
	require.NoError(t, err)

	got := RedactURL(u)
	assert.NotContains(t, got, "secret-token")
	assert.Contains(t, got, "task_id=t-1")
	assert.Contains(t, got, "access_token=%5Bredacted%5D")
	// 原始 URL 不能被修改，鉴权还要读取
	assert.Equal(t, "secret-token", u.Query().Get("access_token"))

	plain, err := url.Parse("/api/v1/instances?page=2")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/instances?page=2", RedactURL(plain))
	assert.Empty(t, RedactURL(nil))
}

func TestRedactHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret-token")
	h.Set("Content-Type", "application/json")

	got := redactHeaders(h)
	assert.Equal(t, redacted, got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "Bearer secret-token", h.Get("Authorization"))
	assert.Empty(t, redactHeaders(http.Header{}).Get("Authorization"))
}

func TestIsSensitiveResponse(t *testing.T) {
	assert.True(t, isSensitiveResponse("/api/v1/secrets/flag-i-1"))
	assert.False(t, isSensitiveResponse("/api/v1/instances/i-1"))
}
