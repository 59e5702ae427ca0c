package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"planning-poker/internal/service"
)

var statusByCode = map[service.Code]int{
	service.CodeNotFound:          http.StatusNotFound,
	service.CodeForbidden:         http.StatusForbidden,
	service.CodeInvalidState:      http.StatusConflict,
	service.CodeQuorumNotMet:      http.StatusConflict,
	service.CodeResourceExhausted: http.StatusServiceUnavailable,
	service.CodeUnauthorized:      http.StatusUnauthorized,
	service.CodeInvalidArgument:   http.StatusBadRequest,
}

// StatusOf 把业务错误码映射为 HTTP 状态码
func StatusOf(code service.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleServiceError 把 Service 返回的错误转换为 HTTP 响应
func HandleServiceError(c *gin.Context, err error) {
	code, message := service.Describe(err)
	status := StatusOf(code)
	logCtx := logrus.WithFields(logrus.Fields{"path": c.FullPath(), "code": code})
	if status >= http.StatusInternalServerError {
		logCtx.WithError(err).Error("Unhandled internal server error")
	} else {
		logCtx.WithError(err).Debug("Request rejected by service")
	}
	ErrorResponse(c, status, string(code), message)
}
