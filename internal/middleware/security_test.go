package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"roxmail/backend/internal/monitoring"
)

func TestRecoveryHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("panic 恢复为 500 并计入指标", func(t *testing.T) {
		metrics := monitoring.NewMetrics()
		router := gin.New()
		router.Use(RecoveryHandler(zap.NewNop(), metrics))
		router.GET("/boom", func(c *gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)

		// 从指标端点确认 panic 被计数
		mw := httptest.NewRecorder()
		metrics.HTTPHandler().ServeHTTP(mw, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Contains(t, mw.Body.String(), "roxmail_panics_total 1")
	})

	t.Run("未注入指标时照常恢复", func(t *testing.T) {
		router := gin.New()
		router.Use(RecoveryHandler(zap.NewNop(), nil))
		router.GET("/boom", func(c *gin.Context) { panic("boom") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestBodySizeLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("超过声明上限的请求被拒绝", func(t *testing.T) {
		router := gin.New()
		router.Use(BodySizeLimit(16))
		router.POST("/echo", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodPost, "/echo", nil)
		req.ContentLength = 64
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})
}
