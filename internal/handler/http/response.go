package http

import "github.com/gin-gonic/gin"

// ErrorResponse 写出统一的错误响应体 {"code": ..., "error": ...}
func ErrorResponse(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "error": message})
}

func SuccessResponse(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
