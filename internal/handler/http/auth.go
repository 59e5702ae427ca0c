package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/domain"
	"planning-poker/internal/dto"
	"planning-poker/internal/service"
)

// GuestIssuer 签发访客身份，service.AuthService 满足该接口
type GuestIssuer interface {
	IssueGuest(ctx context.Context, displayName string) (string, domain.Identity, error)
}

// AuthHandler 封装了访客认证相关的 HTTP 处理逻辑
type AuthHandler struct {
	issuer GuestIssuer
}

// NewAuthHandler 创建 AuthHandler 实例
func NewAuthHandler(issuer GuestIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

// GuestLoginResponse 访客登录成功的响应结构体
type GuestLoginResponse struct {
	Token string          `json:"token"`
	User  domain.Identity `json:"user"`
}

// Guest 处理访客登录请求：生成新的用户 ID 并签发令牌
func (h *AuthHandler) Guest(c *gin.Context) {
	var req dto.GuestLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logrus.WithError(err).Warn("Handler.Guest: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, string(service.CodeInvalidArgument), "displayName is required")
		return
	}

	token, identity, err := h.issuer.IssueGuest(c.Request.Context(), req.DisplayName)
	if err != nil {
		HandleServiceError(c, err)
		return
	}

	logrus.WithField("user_id", identity.UserID).Info("Handler.Guest: Guest logged in")
	SuccessResponse(c, http.StatusOK, GuestLoginResponse{Token: token, User: identity})
}
