package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/identity"
)

// TokenVerifier 负责向身份服务校验会话令牌
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*domain.User, error)
}

// SessionCache 缓存已校验的会话，减少对身份服务的往返。
// 缓存未命中返回 (nil, nil)。
type SessionCache interface {
	CacheSession(ctx context.Context, token string, user *domain.User, ttl time.Duration) error
	GetCachedSession(ctx context.Context, token string) (*domain.User, error)
	DeleteCachedSession(ctx context.Context, token string) error
}

// SessionAuth 会话认证中间件
//
// 令牌来源按优先级依次为 Cookie、Authorization 头。
// 签名校验由身份服务完成，这里只做本地过期预检：
// 已过期的令牌不值得发起一次网络往返。
type SessionAuth struct {
	verifier TokenVerifier
	cache    SessionCache
	cfg      *config.SessionConfig
	log      *zap.Logger
}

// NewSessionAuth 创建会话认证中间件
func NewSessionAuth(verifier TokenVerifier, cache SessionCache, cfg *config.SessionConfig, log *zap.Logger) *SessionAuth {
	return &SessionAuth{
		verifier: verifier,
		cache:    cache,
		cfg:      cfg,
		log:      log,
	}
}

// Handler 返回认证中间件，校验通过后在上下文中写入 user 与 userID
func (sa *SessionAuth) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sa.extractToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			c.Abort()
			return
		}

		if expired(token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired"})
			c.Abort()
			return
		}

		ctx := c.Request.Context()

		// 先查缓存，未命中再访问身份服务
		if user, err := sa.cache.GetCachedSession(ctx, token); err != nil {
			sa.log.Warn("session cache lookup failed", zap.Error(err))
		} else if user != nil {
			sa.attach(c, user)
			c.Next()
			return
		}

		user, err := sa.verifier.VerifyToken(ctx, token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid session"})
			} else {
				sa.log.Error("identity verification unavailable", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Authentication service unavailable"})
			}
			c.Abort()
			return
		}

		if err := sa.cache.CacheSession(ctx, token, user, sa.cfg.CacheTTL); err != nil {
			sa.log.Warn("session cache store failed", zap.Error(err))
		}

		sa.attach(c, user)
		c.Next()
	}
}

// Invalidate 清除指定令牌的会话缓存，登出时调用
func (sa *SessionAuth) Invalidate(ctx context.Context, token string) {
	if err := sa.cache.DeleteCachedSession(ctx, token); err != nil {
		sa.log.Warn("session cache delete failed", zap.Error(err))
	}
}

// ExtractToken 暴露令牌提取逻辑，供登出等端点复用
func (sa *SessionAuth) ExtractToken(c *gin.Context) string {
	return sa.extractToken(c)
}

func (sa *SessionAuth) attach(c *gin.Context, user *domain.User) {
	c.Set("user", user)
	c.Set("userID", user.ID)
}

func (sa *SessionAuth) extractToken(c *gin.Context) string {
	if cookie, err := c.Cookie(sa.cfg.CookieName); err == nil && cookie != "" {
		return cookie
	}

	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}

	return ""
}

// expired 对 JWT 形式的令牌做本地过期预检。
// 无法解析或没有 exp 声明时放行，交给身份服务裁决。
func expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}

	return exp.Before(time.Now())
}

// GetUser 从上下文取出已认证用户
func GetUser(c *gin.Context) (*domain.User, bool) {
	value, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := value.(*domain.User)
	return user, ok
}
