package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/storage/memory"
)

func newWelcomeFixture(t *testing.T) (*WelcomeService, *memory.Store, *fakePusher) {
	t.Helper()
	store := memory.NewStore()
	pusher := &fakePusher{}
	notifier := NewNotificationService(store, store, store, pusher, zap.NewNop())
	cfg := &config.MailConfig{SystemSender: "team@roxmail.in", SystemSenderName: "Roxmail Team"}
	return NewWelcomeService(store, notifier, cfg, zap.NewNop()), store, pusher
}

func TestWelcomeEmailID(t *testing.T) {
	t.Run("同一用户永远得到同一个 ID", func(t *testing.T) {
		assert.Equal(t, WelcomeEmailID("uid-1"), WelcomeEmailID("uid-1"))
	})

	t.Run("不同用户的 ID 互不相同", func(t *testing.T) {
		assert.NotEqual(t, WelcomeEmailID("uid-1"), WelcomeEmailID("uid-2"))
	})
}

func TestDeliverWelcome(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "uid-1", Email: "alice@roxmail.in", FirstName: "Alice"}

	t.Run("首次投递写入收件箱", func(t *testing.T) {
		svc, store, _ := newWelcomeFixture(t)

		result, err := svc.Deliver(ctx, user)
		require.NoError(t, err)
		assert.False(t, result.AlreadyExists)

		email, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, result.EmailID)
		require.NoError(t, err)
		assert.Equal(t, "team@roxmail.in", email.From)
		assert.Equal(t, "Roxmail Team", email.SenderName)
		assert.True(t, email.Starred)
		assert.False(t, email.Read)
		assert.Contains(t, email.Body, "Alice")
	})

	t.Run("重复投递幂等", func(t *testing.T) {
		svc, store, _ := newWelcomeFixture(t)

		first, err := svc.Deliver(ctx, user)
		require.NoError(t, err)
		second, err := svc.Deliver(ctx, user)
		require.NoError(t, err)

		assert.True(t, second.AlreadyExists)
		assert.Equal(t, first.EmailID, second.EmailID)

		emails, err := store.ListEmails(ctx, "uid-1", domain.FolderInbox)
		require.NoError(t, err)
		assert.Len(t, emails, 1)
	})

	t.Run("投递附带欢迎通知", func(t *testing.T) {
		svc, store, _ := newWelcomeFixture(t)

		result, err := svc.Deliver(ctx, user)
		require.NoError(t, err)

		records, err := store.ListNotifications(ctx, "uid-1")
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, domain.EventWelcome, records[0].Payload.Kind)
		assert.Equal(t, result.EmailID, records[0].Payload.Data["email_id"])
	})

	t.Run("重复投递不再发通知", func(t *testing.T) {
		svc, store, _ := newWelcomeFixture(t)

		_, err := svc.Deliver(ctx, user)
		require.NoError(t, err)
		_, err = svc.Deliver(ctx, user)
		require.NoError(t, err)

		records, err := store.ListNotifications(ctx, "uid-1")
		require.NoError(t, err)
		assert.Len(t, records, 1)
	})
}
