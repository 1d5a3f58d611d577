package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"labspawn/pkg/log"

	"github.com/duke-git/lancet/v2/cryptor"
	"github.com/duke-git/lancet/v2/random"
	"github.com/gin-gonic/gin"

	"go.uber.org/zap"
)

const redacted = "[redacted]"

// 响应体里带 flag 的路由，只记录状态码不记录内容
var sensitiveResponsePrefixes = []string{
	"/api/v1/secrets/",
}

// 不落日志的 header / query
var (
	sensitiveHeaders = []string{"Authorization", "Cookie", "Set-Cookie", "Sec-Websocket-Protocol"}
	sensitiveQueries = []string{"access_token"}
)

func RequestLogMiddleware(logger *log.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// The configuration is initialized once per request
		uuid, err := random.UUIdV4()
		if err != nil {
			return
		}
		trace := cryptor.Md5String(uuid)
		logger.WithValue(ctx, zap.String("trace", trace))
		logger.WithValue(ctx, zap.String("request_method", ctx.Request.Method))
		logger.WithValue(ctx, zap.Any("request_headers", redactHeaders(ctx.Request.Header)))
		logger.WithValue(ctx, zap.String("request_url", RedactURL(ctx.Request.URL)))

		// 对于非 multipart/form-data 请求，记录 body（截断避免过大）
		if ctx.Request.Body != nil {
			ct := ctx.ContentType()
			if strings.HasPrefix(ct, "multipart/form-data") {
				logger.WithValue(ctx, zap.String("request_params", "[multipart/form-data body omitted]"))
			} else {
				bodyBytes, _ := ctx.GetRawData()
				// 还原 Body，后续 handler 依然可以读取
				ctx.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

				const maxLogBody = 4096
				logBody := bodyBytes
				if len(logBody) > maxLogBody {
					logBody = logBody[:maxLogBody]
				}
				logger.WithValue(ctx, zap.String("request_params", string(logBody)))
			}
		}
		logger.WithContext(ctx).Info("Request")
		ctx.Next()
	}
}

func ResponseLogMiddleware(logger *log.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		// WebSocket 请求跳过 ResponseLogMiddleware，避免干扰 WebSocket 握手
		if ctx.GetHeader("Upgrade") == "websocket" {
			startTime := time.Now()
			ctx.Next()
			duration := time.Since(startTime).String()
			logger.WithContext(ctx).Info("Response (WebSocket)", zap.Any("time", duration))
			return
		}

		if isSensitiveResponse(ctx.Request.URL.Path) {
			startTime := time.Now()
			ctx.Next()
			duration := time.Since(startTime).String()
			logger.WithContext(ctx).Info("Response",
				zap.String("response_body", redacted),
				zap.Int("status", ctx.Writer.Status()),
				zap.Any("time", duration))
			return
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: ctx.Writer}
		ctx.Writer = blw
		startTime := time.Now()
		ctx.Next()
		duration := time.Since(startTime).String()
		logger.WithContext(ctx).Info("Response", zap.Any("response_body", blw.body.String()), zap.Any("time", duration))
	}
}

type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func isSensitiveResponse(path string) bool {
	for _, prefix := range sensitiveResponsePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func redactHeaders(h http.Header) http.Header {
	out := h.Clone()
	for _, key := range sensitiveHeaders {
		if _, ok := out[http.CanonicalHeaderKey(key)]; ok {
			out.Set(key, redacted)
		}
	}
	return out
}

// RedactURL 返回去掉 token 类 query 之后的 URL 字符串
func RedactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	if u.RawQuery == "" {
		return u.String()
	}
	query := u.Query()
	changed := false
	for _, key := range sensitiveQueries {
		if query.Has(key) {
			query.Set(key, redacted)
			changed = true
		}
	}
	if !changed {
		return u.String()
	}
	clean := *u
	clean.RawQuery = query.Encode()
	return clean.String()
}
