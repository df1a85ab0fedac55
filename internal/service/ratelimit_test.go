package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roxmail/backend/internal/storage/memory"
)

// failingRateRepo 模拟计数器后端故障
type failingRateRepo struct{}

func (failingRateRepo) GetSendCount(ctx context.Context, userID, hourBucket string) (int64, error) {
	return 0, errors.New("backend down")
}

func (failingRateRepo) SetSendCount(ctx context.Context, userID, hourBucket string, count int64) error {
	return errors.New("backend down")
}

func TestSendLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("配额未满时放行并返回当前计数", func(t *testing.T) {
		limiter := NewSendLimiter(memory.NewStore(), 100, zap.NewNop())
		count, err := limiter.Check(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("配额用满时拒绝", func(t *testing.T) {
		store := memory.NewStore()
		limiter := NewSendLimiter(store, 100, zap.NewNop())
		require.NoError(t, store.SetSendCount(ctx, "uid-1", limiter.hourBucket(), 100))

		_, err := limiter.Check(ctx, "uid-1")
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("Commit 写回加一后的计数", func(t *testing.T) {
		store := memory.NewStore()
		limiter := NewSendLimiter(store, 100, zap.NewNop())

		count, err := limiter.Check(ctx, "uid-1")
		require.NoError(t, err)
		require.NoError(t, limiter.Commit(ctx, "uid-1", count))

		got, err := store.GetSendCount(ctx, "uid-1", limiter.hourBucket())
		require.NoError(t, err)
		assert.Equal(t, int64(1), got)
	})

	t.Run("小时桶为 UTC 墙钟格式", func(t *testing.T) {
		limiter := NewSendLimiter(memory.NewStore(), 100, zap.NewNop())
		limiter.now = func() time.Time {
			return time.Date(2025, 9, 1, 10, 59, 59, 0, time.UTC)
		}
		assert.Equal(t, "2025090110", limiter.hourBucket())
	})

	t.Run("整点切换后配额重置", func(t *testing.T) {
		store := memory.NewStore()
		limiter := NewSendLimiter(store, 100, zap.NewNop())
		limiter.now = func() time.Time {
			return time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
		}
		require.NoError(t, store.SetSendCount(ctx, "uid-1", "2025090110", 100))

		limiter.now = func() time.Time {
			return time.Date(2025, 9, 1, 11, 0, 0, 0, time.UTC)
		}
		count, err := limiter.Check(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("计数器故障时放行", func(t *testing.T) {
		limiter := NewSendLimiter(failingRateRepo{}, 100, zap.NewNop())
		count, err := limiter.Check(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("检查与提交交错时允许少量超发", func(t *testing.T) {
		store := memory.NewStore()
		limiter := NewSendLimiter(store, 100, zap.NewNop())
		require.NoError(t, store.SetSendCount(ctx, "uid-1", limiter.hourBucket(), 99))

		// 两次检查都读到 99，于是第 100 封和第 101 封都被放行
		first, err := limiter.Check(ctx, "uid-1")
		require.NoError(t, err)
		second, err := limiter.Check(ctx, "uid-1")
		require.NoError(t, err)
		assert.Equal(t, first, second)

		require.NoError(t, limiter.Commit(ctx, "uid-1", first))
		require.NoError(t, limiter.Commit(ctx, "uid-1", second))

		// 计数只到 100：交错窗口内多放行的那一封不被计入
		got, err := store.GetSendCount(ctx, "uid-1", limiter.hourBucket())
		require.NoError(t, err)
		assert.Equal(t, int64(100), got)

		// 窗口过后计数器已满，后续请求被拒绝
		_, err = limiter.Check(ctx, "uid-1")
		assert.ErrorIs(t, err, ErrRateLimited)
	})
}
