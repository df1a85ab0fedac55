package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// errorResponse 错误响应体，字段名与前端约定保持一致。
type errorResponse struct {
	Error string `json:"error"`
}

// Fail 返回错误响应。
func Fail(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{Error: msg})
}

// OK 返回 200 成功响应。
func OK(c *gin.Context, payload interface{}) {
	c.JSON(http.StatusOK, payload)
}
