package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/storage"
)

func TestStoreEmails(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("写入后可按目录读取", func(t *testing.T) {
		email := &domain.Email{
			ID:        "mail-1",
			From:      "alice@roxmail.in",
			To:        "bob@roxmail.in",
			Subject:   "hello",
			Body:      "world",
			Timestamp: 100,
		}
		require.NoError(t, store.SaveEmail(ctx, "bob", domain.FolderInbox, email))

		got, err := store.GetEmail(ctx, "bob", domain.FolderInbox, "mail-1")
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Subject)
	})

	t.Run("两份副本互不影响", func(t *testing.T) {
		email := &domain.Email{ID: "mail-2", From: "alice@roxmail.in", To: "bob@roxmail.in", Timestamp: 200}
		require.NoError(t, store.SaveEmail(ctx, "bob", domain.FolderInbox, email))
		require.NoError(t, store.SaveEmail(ctx, "alice", domain.FolderSent, email))

		require.NoError(t, store.UpdateEmailFields(ctx, "bob", domain.FolderInbox, "mail-2", map[string]interface{}{"read": true}))

		sent, err := store.GetEmail(ctx, "alice", domain.FolderSent, "mail-2")
		require.NoError(t, err)
		assert.False(t, sent.Read)
	})

	t.Run("列表按时间戳倒序", func(t *testing.T) {
		list, err := store.ListEmails(ctx, "bob", domain.FolderInbox)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "mail-2", list[0].ID)
		assert.Equal(t, "mail-1", list[1].ID)
	})

	t.Run("读取不存在的邮件返回哨兵错误", func(t *testing.T) {
		_, err := store.GetEmail(ctx, "bob", domain.FolderInbox, "missing")
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)
	})

	t.Run("删除后不可再读取", func(t *testing.T) {
		require.NoError(t, store.DeleteEmail(ctx, "bob", domain.FolderInbox, "mail-1"))
		_, err := store.GetEmail(ctx, "bob", domain.FolderInbox, "mail-1")
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)
	})

	t.Run("删除不存在的邮件返回哨兵错误", func(t *testing.T) {
		err := store.DeleteEmail(ctx, "bob", domain.FolderInbox, "mail-1")
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)
	})
}

func TestStoreRateCounts(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("未写入时计数为零", func(t *testing.T) {
		count, err := store.GetSendCount(ctx, "uid-1", "2025090110")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("覆盖写后读取新值", func(t *testing.T) {
		require.NoError(t, store.SetSendCount(ctx, "uid-1", "2025090110", 42))
		count, err := store.GetSendCount(ctx, "uid-1", "2025090110")
		require.NoError(t, err)
		assert.Equal(t, int64(42), count)
	})

	t.Run("不同小时桶互不干扰", func(t *testing.T) {
		count, err := store.GetSendCount(ctx, "uid-1", "2025090111")
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})
}

func TestStoreDevices(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("同一设备重复注册为覆盖写", func(t *testing.T) {
		first := &domain.DeviceRegistration{UserID: "uid-1", DeviceID: "dev-1", Token: "old", Channel: domain.ChannelPush, Enabled: true}
		require.NoError(t, store.SaveDevice(ctx, first))

		second := &domain.DeviceRegistration{UserID: "uid-1", DeviceID: "dev-1", Token: "new", Channel: domain.ChannelPush, Enabled: true}
		require.NoError(t, store.SaveDevice(ctx, second))

		devices, err := store.ListDevices(ctx, "uid-1")
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, "new", devices[0].Token)
	})

	t.Run("删除后列表为空", func(t *testing.T) {
		require.NoError(t, store.DeleteDevice(ctx, "uid-1", "dev-1"))
		devices, err := store.ListDevices(ctx, "uid-1")
		require.NoError(t, err)
		assert.Empty(t, devices)
	})

	t.Run("删除不存在的设备返回哨兵错误", func(t *testing.T) {
		err := store.DeleteDevice(ctx, "uid-1", "dev-1")
		assert.ErrorIs(t, err, storage.ErrDeviceNotFound)
	})

	t.Run("删除与重新订阅之间没有顺序保证，以最后写入为准", func(t *testing.T) {
		reg := &domain.DeviceRegistration{UserID: "uid-2", DeviceID: "dev-9", Token: "tok", Channel: domain.ChannelPush, Enabled: true}
		require.NoError(t, store.SaveDevice(ctx, reg))
		require.NoError(t, store.DeleteDevice(ctx, "uid-2", "dev-9"))

		// 自愈删除之后到达的重新订阅会让设备重新出现
		require.NoError(t, store.SaveDevice(ctx, reg))
		devices, err := store.ListDevices(ctx, "uid-2")
		require.NoError(t, err)
		require.Len(t, devices, 1)

		// 反过来，订阅之后到达的删除让设备消失
		require.NoError(t, store.DeleteDevice(ctx, "uid-2", "dev-9"))
		devices, err = store.ListDevices(ctx, "uid-2")
		require.NoError(t, err)
		assert.Empty(t, devices)
	})
}

func TestStoreNotifications(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("写入后可列出", func(t *testing.T) {
		record := &domain.NotificationRecord{ID: "n-1", UserID: "uid-1", Title: "新邮件", Timestamp: 100}
		require.NoError(t, store.SaveNotification(ctx, record))

		records, err := store.ListNotifications(ctx, "uid-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.False(t, records[0].Read)
	})

	t.Run("标记已读", func(t *testing.T) {
		require.NoError(t, store.MarkNotificationRead(ctx, "uid-1", "n-1"))
		records, err := store.ListNotifications(ctx, "uid-1")
		require.NoError(t, err)
		assert.True(t, records[0].Read)
	})

	t.Run("标记不存在的通知返回哨兵错误", func(t *testing.T) {
		err := store.MarkNotificationRead(ctx, "uid-1", "missing")
		assert.ErrorIs(t, err, storage.ErrNotificationNotFound)
	})
}

func TestStoreSessions(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	user := &domain.User{ID: "uid-1", Email: "alice@roxmail.in"}

	t.Run("缓存命中", func(t *testing.T) {
		require.NoError(t, store.CacheSession(ctx, "token-1", user, time.Minute))
		got, err := store.GetCachedSession(ctx, "token-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "uid-1", got.ID)
	})

	t.Run("过期后视为未命中", func(t *testing.T) {
		require.NoError(t, store.CacheSession(ctx, "token-2", user, -time.Second))
		got, err := store.GetCachedSession(ctx, "token-2")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("删除后视为未命中", func(t *testing.T) {
		require.NoError(t, store.DeleteCachedSession(ctx, "token-1"))
		got, err := store.GetCachedSession(ctx, "token-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	})
}

func TestStoreActivity(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.AppendActivity(ctx, &domain.ActivityLog{UserID: "uid-1", Action: domain.ActionEmailSent}))
	require.NoError(t, store.AppendActivity(ctx, &domain.ActivityLog{UserID: "uid-1", Action: domain.ActionEmailRead}))

	entries := store.Activities()
	require.Len(t, entries, 2)
	assert.Equal(t, domain.ActionEmailSent, entries[0].Action)
}
