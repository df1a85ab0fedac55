package cache

import (
	"context"
	"sync"
	"time"

	"roxmail/backend/internal/domain"
)

// localTTLCap 本地条目的最长存活时间。
//
// 共享存储里的会话可能被其他实例注销，本地副本活得太久会
// 放大不一致窗口。
const localTTLCap = time.Minute

// Backend 是会话缓存的共享存储层。
type Backend interface {
	CacheSession(ctx context.Context, token string, user *domain.User, ttl time.Duration) error
	GetCachedSession(ctx context.Context, token string) (*domain.User, error)
	DeleteCachedSession(ctx context.Context, token string) error
}

// SessionCache 两级会话缓存。
//
// 本地 sync.Map 作为 L1 挡掉绝大多数读，共享存储作为 L2
// 在多实例间同步。读路径先 L1 后 L2，L2 命中回填 L1。
type SessionCache struct {
	backing Backend
	data    sync.Map
}

type sessionEntry struct {
	user      *domain.User
	expiresAt time.Time
}

// NewSessionCache 创建两级会话缓存。
func NewSessionCache(backing Backend) *SessionCache {
	c := &SessionCache{backing: backing}
	go c.cleanupLoop()
	return c
}

// CacheSession 写入会话，本地与共享存储双写。
func (c *SessionCache) CacheSession(ctx context.Context, token string, user *domain.User, ttl time.Duration) error {
	c.storeLocal(token, user, ttl)
	return c.backing.CacheSession(ctx, token, user, ttl)
}

// GetCachedSession 读取会话，未命中返回 (nil, nil)。
func (c *SessionCache) GetCachedSession(ctx context.Context, token string) (*domain.User, error) {
	if val, ok := c.data.Load(token); ok {
		entry := val.(*sessionEntry)
		if time.Now().Before(entry.expiresAt) {
			copied := *entry.user
			return &copied, nil
		}
		c.data.Delete(token)
	}

	user, err := c.backing.GetCachedSession(ctx, token)
	if err != nil || user == nil {
		return user, err
	}

	c.storeLocal(token, user, localTTLCap)
	return user, nil
}

// DeleteCachedSession 删除会话，本地与共享存储同时失效。
func (c *SessionCache) DeleteCachedSession(ctx context.Context, token string) error {
	c.data.Delete(token)
	return c.backing.DeleteCachedSession(ctx, token)
}

func (c *SessionCache) storeLocal(token string, user *domain.User, ttl time.Duration) {
	if ttl <= 0 || ttl > localTTLCap {
		ttl = localTTLCap
	}
	copied := *user
	c.data.Store(token, &sessionEntry{
		user:      &copied,
		expiresAt: time.Now().Add(ttl),
	})
}

// cleanupLoop 定期清理过期条目
func (c *SessionCache) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.data.Range(func(key, value interface{}) bool {
			entry := value.(*sessionEntry)
			if now.After(entry.expiresAt) {
				c.data.Delete(key)
			}
			return true
		})
	}
}
