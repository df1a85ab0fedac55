package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/pool"
	"roxmail/backend/internal/storage"
)

// asyncActivityTimeout 后台落盘的超时时间
const asyncActivityTimeout = 5 * time.Second

// AsyncActivityWriter 把审计日志写入转为后台任务。
//
// 审计写入在所有业务路径上都是尽力而为的，不应拖慢请求；
// 队列满时退回同步写，保证日志不丢。
type AsyncActivityWriter struct {
	repo storage.ActivityLogRepository
	pool *pool.WorkerPool
	log  *zap.Logger
}

// NewAsyncActivityWriter 创建异步审计写入器。
func NewAsyncActivityWriter(repo storage.ActivityLogRepository, p *pool.WorkerPool, log *zap.Logger) *AsyncActivityWriter {
	return &AsyncActivityWriter{repo: repo, pool: p, log: log}
}

// AppendActivity 提交一条审计日志。
func (w *AsyncActivityWriter) AppendActivity(ctx context.Context, entry *domain.ActivityLog) error {
	submitted := w.pool.TrySubmit(func() {
		taskCtx, cancel := context.WithTimeout(context.Background(), asyncActivityTimeout)
		defer cancel()
		if err := w.repo.AppendActivity(taskCtx, entry); err != nil {
			w.log.Warn("async activity write failed",
				zap.String("action", string(entry.Action)),
				zap.Error(err),
			)
		}
	})
	if !submitted {
		return w.repo.AppendActivity(ctx, entry)
	}
	return nil
}
