package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
)

const identityContextKey = "identity"

// ErrMissingAuthHeader 表示缺少 Authorization 头
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// ErrMalformedAuthHeader 表示 Authorization 头不是 "Bearer <token>" 格式
var ErrMalformedAuthHeader = errors.New("malformed Authorization header")

// TokenVerifier 校验令牌并返回身份，service.AuthService 满足该接口
type TokenVerifier interface {
	Verify(token string) (domain.Identity, error)
}

// Auth 返回一个 Gin 中间件，校验 Bearer 令牌并把身份写入上下文。
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	if verifier == nil {
		panic("TokenVerifier cannot be nil for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Rejecting request without usable token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "Authorization header is required"})
			return
		}

		identity, err := verifier.Verify(tokenStr)
		if err != nil {
			logrus.WithError(err).Warn("Auth middleware: Invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "Invalid or expired token"})
			return
		}

		c.Set(identityContextKey, identity)
		c.Set("user_id", identity.UserID)
		logrus.WithField("user_id", identity.UserID).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// CurrentIdentity 读取 Auth 中间件写入的身份
func CurrentIdentity(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityContextKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok && identity.UserID != ""
}

// ExtractBearerToken 从 Authorization 头提取令牌
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAuthHeader
	}
	parts := strings.Fields(header)
	// 使用 EqualFold 忽略 "Bearer" 的大小写
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrMalformedAuthHeader
	}
	return parts[1], nil
}
