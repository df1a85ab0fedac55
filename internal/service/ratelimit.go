package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"roxmail/backend/internal/storage"
)

// SendLimiter 按用户、按自然小时限制外发邮件数量。
//
// 计数器采用读取-判定-写回：Check 读出当前值并判定，Commit 写回加一后
// 的值。两步之间没有原子性，并发发送可能让实际计数略微超过上限。
// 这里接受这种弱一致：配额是防滥用阈值而不是计费额度，换来的是
// 存储后端只需要最朴素的 Get/Set 语义。
type SendLimiter struct {
	repo  storage.RateLimitRepository
	limit int64
	log   *zap.Logger
	now   func() time.Time // 测试注入
}

// NewSendLimiter 创建发送限流器。
func NewSendLimiter(repo storage.RateLimitRepository, limit int64, log *zap.Logger) *SendLimiter {
	return &SendLimiter{repo: repo, limit: limit, log: log, now: time.Now}
}

// hourBucket 返回当前 UTC 小时桶，格式 YYYYMMDDHH。
// 桶随墙钟切换，配额在整点瞬间重置。
func (l *SendLimiter) hourBucket() string {
	return l.now().UTC().Format("2006010215")
}

// Check 判定用户当前小时是否还有配额。
//
// 返回当前计数供 Commit 复用；配额已满返回 ErrRateLimited。
// 计数器读不出来时放行而不是拒绝，限流器自身故障不应阻断投递。
func (l *SendLimiter) Check(ctx context.Context, userID string) (int64, error) {
	count, err := l.repo.GetSendCount(ctx, userID, l.hourBucket())
	if err != nil {
		l.log.Warn("rate limit counter unavailable, allowing send",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return 0, nil
	}
	if count >= l.limit {
		return count, ErrRateLimited
	}
	return count, nil
}

// Commit 在发送成功后把计数写回为 count+1。
func (l *SendLimiter) Commit(ctx context.Context, userID string, count int64) error {
	if err := l.repo.SetSendCount(ctx, userID, l.hourBucket(), count+1); err != nil {
		return fmt.Errorf("failed to commit send count: %w", err)
	}
	return nil
}
