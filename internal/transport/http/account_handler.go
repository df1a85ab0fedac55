package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/identity"
	"roxmail/backend/internal/middleware"
)

// AccountHandler 处理会话建立与账户查询。
type AccountHandler struct {
	verifier middleware.TokenVerifier
	sessions middleware.SessionCache
	cfg      *config.SessionConfig
	log      *zap.Logger
}

// NewAccountHandler 创建账户处理器。
func NewAccountHandler(verifier middleware.TokenVerifier, sessions middleware.SessionCache, cfg *config.SessionConfig, log *zap.Logger) *AccountHandler {
	return &AccountHandler{
		verifier: verifier,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
	}
}

type setTokenRequest struct {
	Token string `json:"token"`
}

// SetToken 接收登录弹窗传来的令牌，验证后写入会话 Cookie。
func (h *AccountHandler) SetToken(c *gin.Context) {
	var req setTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Token == "" {
		Fail(c, http.StatusBadRequest, MsgTokenRequired)
		return
	}

	user, err := h.verifier.VerifyToken(c.Request.Context(), req.Token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			Fail(c, http.StatusUnauthorized, MsgInvalidToken)
		} else {
			h.log.Error("identity verification unavailable", zap.Error(err))
			Fail(c, http.StatusServiceUnavailable, MsgAuthServiceUnavailable)
		}
		return
	}

	if err := h.sessions.CacheSession(c.Request.Context(), req.Token, user, h.cfg.CacheTTL); err != nil {
		h.log.Warn("session cache store failed", zap.Error(err))
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, req.Token, int(h.cfg.TokenTTL.Seconds()), "/", "", false, true)
	OK(c, gin.H{"success": true, "user": user})
}

// Logout 清除会话 Cookie 与服务端缓存。
func (h *AccountHandler) Logout(c *gin.Context) {
	if token, err := c.Cookie(h.cfg.CookieName); err == nil && token != "" {
		if err := h.sessions.DeleteCachedSession(c.Request.Context(), token); err != nil {
			h.log.Warn("session cache delete failed", zap.Error(err))
		}
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.CookieName, "", -1, "/", "", false, true)
	OK(c, gin.H{"success": true})
}

// GetUser 返回当前登录用户。
func (h *AccountHandler) GetUser(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}
	OK(c, gin.H{"user": user})
}
