package middleware

import (
	"net/http"

	v1 "labspawn/api/v1"
	"labspawn/pkg/jwt"
	"labspawn/pkg/log"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ClaimsKey = "claims"

func StrictAuth(j *jwt.JWT, logger *log.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenString := ctx.Request.Header.Get("Authorization")
		// 浏览器 WebSocket 无法携带 header，握手请求允许通过 query 传 token
		if tokenString == "" && ctx.GetHeader("Upgrade") == "websocket" {
			tokenString = ctx.Query("access_token")
		}
		if tokenString == "" {
			logger.WithContext(ctx).Warn("No token", zap.Any("data", map[string]interface{}{
				"url":    RedactURL(ctx.Request.URL),
				"params": ctx.Params,
			}))
			v1.HandleError(ctx, http.StatusUnauthorized, v1.ErrUnauthorized, nil)
			ctx.Abort()
			return
		}

		claims, err := j.ParseToken(tokenString)
		if err != nil {
			logger.WithContext(ctx).Warn("token error", zap.Any("data", map[string]interface{}{
				"url":    RedactURL(ctx.Request.URL),
				"params": ctx.Params,
			}), zap.Error(err))
			v1.HandleError(ctx, http.StatusUnauthorized, v1.ErrUnauthorized, nil)
			ctx.Abort()
			return
		}

		ctx.Set(ClaimsKey, claims)
		recoveryLoggerFunc(ctx, logger)
		ctx.Next()
	}
}

func recoveryLoggerFunc(ctx *gin.Context, logger *log.Logger) {
	if userInfo, ok := ctx.MustGet(ClaimsKey).(*jwt.MyCustomClaims); ok {
		logger.WithValue(ctx, zap.String("UserId", userInfo.UserId), zap.String("Role", userInfo.Role))
	}
}
