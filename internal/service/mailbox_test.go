package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/security"
	"roxmail/backend/internal/storage"
	"roxmail/backend/internal/storage/memory"
)

func newMailboxFixture(t *testing.T) (*MailboxService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	svc := NewMailboxService(store, store, security.NewSanitizer(), zap.NewNop())
	return svc, store
}

func seedEmail(t *testing.T, store *memory.Store, userID string, folder domain.Folder, email *domain.Email) {
	t.Helper()
	require.NoError(t, store.SaveEmail(context.Background(), userID, folder, email))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "uid-1", Email: "alice@roxmail.in"}
	svc, store := newMailboxFixture(t)

	seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{ID: "old", To: "alice@roxmail.in", Subject: "first", Body: "b", Timestamp: 100})
	seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{ID: "new", To: "alice@roxmail.in", Subject: "second", Body: "b", Timestamp: 200})

	t.Run("摘要按时间戳倒序", func(t *testing.T) {
		summaries, err := svc.List(ctx, user, domain.FolderInbox, "10.0.0.1")
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		assert.Equal(t, "new", summaries[0].ID)
		assert.Equal(t, "old", summaries[1].ID)
	})

	t.Run("摘要不携带正文", func(t *testing.T) {
		summaries, err := svc.List(ctx, user, domain.FolderInbox, "")
		require.NoError(t, err)
		assert.Equal(t, "first", summaries[1].Subject)
	})

	t.Run("访问被记入审计日志", func(t *testing.T) {
		entries := store.Activities()
		require.NotEmpty(t, entries)
		assert.Equal(t, domain.ActionEmailsAccessed, entries[0].Action)
	})
}

func TestFetch(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "uid-1", Email: "alice@roxmail.in"}

	t.Run("收件箱邮件读取时翻已读标志", func(t *testing.T) {
		svc, store := newMailboxFixture(t)
		seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{ID: "m1", To: "alice@roxmail.in", Subject: "hi", Body: "b"})

		email, err := svc.Fetch(ctx, user, "m1", "")
		require.NoError(t, err)
		assert.True(t, email.Read)

		stored, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, "m1")
		require.NoError(t, err)
		assert.True(t, stored.Read)
	})

	t.Run("发件箱邮件不翻标志", func(t *testing.T) {
		svc, store := newMailboxFixture(t)
		seedEmail(t, store, "uid-1", domain.FolderSent, &domain.Email{ID: "m2", From: "alice@roxmail.in", Subject: "hi", Body: "b"})

		email, err := svc.Fetch(ctx, user, "m2", "")
		require.NoError(t, err)
		assert.False(t, email.Read)
	})

	t.Run("同名邮件优先命中收件箱", func(t *testing.T) {
		svc, store := newMailboxFixture(t)
		seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{ID: "dup", To: "alice@roxmail.in", Subject: "inbox copy"})
		seedEmail(t, store, "uid-1", domain.FolderSent, &domain.Email{ID: "dup", From: "alice@roxmail.in", Subject: "sent copy"})

		email, err := svc.Fetch(ctx, user, "dup", "")
		require.NoError(t, err)
		assert.Equal(t, "inbox copy", email.Subject)
	})

	t.Run("非所有者访问被拒绝", func(t *testing.T) {
		svc, store := newMailboxFixture(t)
		seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{ID: "m3", From: "x@y.com", To: "other@roxmail.in"})

		_, err := svc.Fetch(ctx, user, "m3", "")
		assert.ErrorIs(t, err, ErrAccessDenied)
	})

	t.Run("不存在的邮件返回业务错误", func(t *testing.T) {
		svc, _ := newMailboxFixture(t)
		_, err := svc.Fetch(ctx, user, "missing", "")
		assert.ErrorIs(t, err, ErrEmailNotFound)
	})
}

func TestStarAndMarkRead(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "uid-1", Email: "alice@roxmail.in"}
	svc, store := newMailboxFixture(t)
	seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{ID: "m1", To: "alice@roxmail.in"})

	t.Run("设置星标", func(t *testing.T) {
		require.NoError(t, svc.Star(ctx, user, "m1", true))
		email, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, "m1")
		require.NoError(t, err)
		assert.True(t, email.Starred)
	})

	t.Run("取消星标", func(t *testing.T) {
		require.NoError(t, svc.Star(ctx, user, "m1", false))
		email, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, "m1")
		require.NoError(t, err)
		assert.False(t, email.Starred)
	})

	t.Run("显式标记已读与未读", func(t *testing.T) {
		require.NoError(t, svc.MarkRead(ctx, user, "m1", true))
		email, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, "m1")
		require.NoError(t, err)
		assert.True(t, email.Read)

		require.NoError(t, svc.MarkRead(ctx, user, "m1", false))
		email, err = store.GetEmail(ctx, "uid-1", domain.FolderInbox, "m1")
		require.NoError(t, err)
		assert.False(t, email.Read)
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "uid-1", Email: "alice@roxmail.in"}

	t.Run("只删除调用方自己的副本", func(t *testing.T) {
		svc, store := newMailboxFixture(t)
		email := &domain.Email{ID: "m1", From: "alice@roxmail.in", To: "bob@roxmail.in"}
		seedEmail(t, store, "uid-1", domain.FolderSent, email)
		seedEmail(t, store, "uid-bob", domain.FolderInbox, email)

		require.NoError(t, svc.Delete(ctx, user, "m1", ""))

		_, err := store.GetEmail(ctx, "uid-1", domain.FolderSent, "m1")
		assert.ErrorIs(t, err, storage.ErrEmailNotFound)

		_, err = store.GetEmail(ctx, "uid-bob", domain.FolderInbox, "m1")
		assert.NoError(t, err)
	})

	t.Run("非所有者不能删除", func(t *testing.T) {
		svc, store := newMailboxFixture(t)
		seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{ID: "m2", To: "other@roxmail.in"})

		err := svc.Delete(ctx, user, "m2", "")
		assert.ErrorIs(t, err, ErrAccessDenied)
	})
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	user := &domain.User{ID: "uid-1", Email: "alice@roxmail.in"}
	svc, store := newMailboxFixture(t)

	seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{
		ID:      "bad",
		To:      "alice@roxmail.in",
		Subject: "report",
		Body:    "<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> abc123",
	})
	seedEmail(t, store, "uid-1", domain.FolderInbox, &domain.Email{
		ID:      "good",
		To:      "alice@roxmail.in",
		Subject: "clean",
		Body:    "nothing wrong here",
	})
	seedEmail(t, store, "uid-1", domain.FolderSent, &domain.Email{
		ID:      "bad-sent",
		From:    "alice@roxmail.in",
		Subject: "=======",
		Body:    "tail",
	})

	t.Run("只修复带冲突标记的邮件", func(t *testing.T) {
		result, err := svc.Cleanup(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Scanned)
		assert.Equal(t, 2, result.Repaired)

		repaired, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, "bad")
		require.NoError(t, err)
		assert.NotContains(t, repaired.Body, "<<<<<<<")
		assert.NotContains(t, repaired.Body, ">>>>>>>")

		untouched, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, "good")
		require.NoError(t, err)
		assert.Equal(t, "nothing wrong here", untouched.Body)
	})

	t.Run("修复后再次扫描无事可做", func(t *testing.T) {
		result, err := svc.Cleanup(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 0, result.Repaired)
	})

	t.Run("修复同步刷新摘要", func(t *testing.T) {
		repaired, err := store.GetEmail(ctx, "uid-1", domain.FolderInbox, "bad")
		require.NoError(t, err)
		assert.Equal(t, domain.MakePreview(repaired.Body), repaired.Preview)
	})
}
