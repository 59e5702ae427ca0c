package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RateCounter 在固定窗口内为主体计数，返回本次计数后的窗口内总数
type RateCounter interface {
	Hit(ctx context.Context, subject string, window time.Duration) (int64, error)
}

// RateLimit 返回一个 Gin 中间件，基于固定窗口计数限流。
// 已认证请求按用户限流 (须挂在 Auth 之后)，否则按客户端 IP。
// 计数失败时放行请求 (限流不应成为可用性的单点)。
func RateLimit(counter RateCounter, maxRequests int, window time.Duration) gin.HandlerFunc {
	if counter == nil {
		panic("counter cannot be nil for RateLimit middleware")
	}
	if maxRequests <= 0 {
		panic("maxRequests must be positive for RateLimit middleware")
	}
	if window <= 0 {
		panic("window duration must be positive for RateLimit middleware")
	}

	return func(c *gin.Context) {
		subject := rateLimitSubject(c)
		count, err := counter.Hit(c.Request.Context(), subject, window)
		if err != nil {
			logrus.WithError(err).WithField("subject", subject).Error("RateLimit: Counter failed, allowing request")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		remaining := int64(maxRequests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(maxRequests) {
			logrus.WithField("subject", subject).Warn("RateLimit: Too many requests")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"code": "RESOURCE_EXHAUSTED", "error": "Too many requests"})
			return
		}
		c.Next()
	}
}

func rateLimitSubject(c *gin.Context) string {
	if identity, ok := CurrentIdentity(c); ok {
		return "user:" + identity.UserID
	}
	return "ip:" + c.ClientIP()
}
