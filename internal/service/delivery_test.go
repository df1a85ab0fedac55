package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/security"
	"roxmail/backend/internal/storage/memory"
)

// fakeResolver 按映射表解析收件地址
type fakeResolver struct {
	users map[string]string // email -> userID
	err   error
}

func (f *fakeResolver) FindUserByEmail(ctx context.Context, email string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.users[email], nil
}

type deliveryFixture struct {
	svc      *DeliveryService
	store    *memory.Store
	resolver *fakeResolver
	pusher   *fakePusher
	notifier *NotificationService
}

func newDeliveryFixture(t *testing.T, limit int64) *deliveryFixture {
	t.Helper()
	store := memory.NewStore()
	pusher := &fakePusher{}
	notifier := NewNotificationService(store, store, store, pusher, zap.NewNop())
	resolver := &fakeResolver{users: map[string]string{"bob@roxmail.in": "uid-bob"}}
	limiter := NewSendLimiter(store, limit, zap.NewNop())
	svc := NewDeliveryService(store, store, limiter, resolver, notifier, security.NewSanitizer(), zap.NewNop())
	return &deliveryFixture{svc: svc, store: store, resolver: resolver, pusher: pusher, notifier: notifier}
}

var alice = &domain.User{ID: "uid-alice", Email: "alice@roxmail.in", FirstName: "Alice", LastName: "Lin"}

func TestSend(t *testing.T) {
	ctx := context.Background()

	t.Run("双副本投递成功", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)

		result, err := f.svc.Send(ctx, alice, DeliveryInput{
			To:      "bob@roxmail.in",
			Subject: "hello",
			Body:    "how are you",
		})
		require.NoError(t, err)
		assert.True(t, result.RecipientFound)
		assert.Empty(t, result.Degraded)

		sent, err := f.store.GetEmail(ctx, "uid-alice", domain.FolderSent, result.EmailID)
		require.NoError(t, err)
		assert.Equal(t, "alice@roxmail.in", sent.From)
		assert.Equal(t, "Alice Lin", sent.SenderName)
		assert.False(t, sent.Read)

		inbox, err := f.store.GetEmail(ctx, "uid-bob", domain.FolderInbox, result.EmailID)
		require.NoError(t, err)
		assert.Equal(t, sent.Body, inbox.Body)
	})

	t.Run("收件人收到新邮件通知", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)
		_, err := f.notifier.Subscribe(ctx, &domain.User{ID: "uid-bob"}, SubscribeInput{DeviceID: "phone", Token: "tok-bob", Channel: domain.ChannelPush})
		require.NoError(t, err)
		f.pusher.sent = nil

		result, err := f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Subject: "hi", Body: "x"})
		require.NoError(t, err)
		assert.True(t, result.Notified)

		require.Len(t, f.pusher.sent, 1)
		assert.Equal(t, "New email from Alice Lin", f.pusher.sent[0].Title)
		assert.Equal(t, "hi", f.pusher.sent[0].Body)
		assert.Equal(t, result.EmailID, f.pusher.sent[0].Data["email_id"])
	})

	t.Run("空主题的通知正文使用占位符", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)
		_, err := f.notifier.Subscribe(ctx, &domain.User{ID: "uid-bob"}, SubscribeInput{DeviceID: "phone", Token: "tok-bob", Channel: domain.ChannelPush})
		require.NoError(t, err)
		f.pusher.sent = nil

		_, err = f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Body: "x"})
		require.NoError(t, err)
		require.Len(t, f.pusher.sent, 1)
		assert.Equal(t, "(No subject)", f.pusher.sent[0].Body)
	})

	t.Run("未注册收件人只保存发件副本", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)

		result, err := f.svc.Send(ctx, alice, DeliveryInput{To: "nobody@elsewhere.com", Subject: "hi", Body: "x"})
		require.NoError(t, err)
		assert.False(t, result.RecipientFound)
		assert.False(t, result.Notified)
		assert.Empty(t, result.Degraded)

		_, err = f.store.GetEmail(ctx, "uid-alice", domain.FolderSent, result.EmailID)
		assert.NoError(t, err)
	})

	t.Run("解析服务故障降级为仅发件副本", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)
		f.resolver.err = errors.New("identity service down")

		result, err := f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Subject: "hi", Body: "x"})
		require.NoError(t, err)
		assert.False(t, result.RecipientFound)
		assert.Contains(t, result.Degraded, "recipient_resolution")
	})

	t.Run("第 100 封放行第 101 封拒绝", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)
		for i := 0; i < 100; i++ {
			_, err := f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Subject: fmt.Sprintf("msg %d", i), Body: "x"})
			require.NoError(t, err)
		}

		_, err := f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Subject: "one too many", Body: "x"})
		assert.ErrorIs(t, err, ErrRateLimited)
	})

	t.Run("限流拒绝时不写任何副本", func(t *testing.T) {
		f := newDeliveryFixture(t, 0)

		_, err := f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Subject: "hi", Body: "x"})
		require.ErrorIs(t, err, ErrRateLimited)

		sent, err := f.store.ListEmails(ctx, "uid-alice", domain.FolderSent)
		require.NoError(t, err)
		assert.Empty(t, sent)
	})

	t.Run("校验失败时不写任何副本", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)
		cases := []DeliveryInput{
			{To: "not-an-address", Subject: "hi", Body: "x"},
			{To: "bob@roxmail.in", Subject: strings.Repeat("s", domain.MaxSubjectLength+1), Body: "x"},
			{To: "bob@roxmail.in", Subject: "hi", Body: strings.Repeat("b", domain.MaxBodyLength+1)},
		}
		for _, input := range cases {
			_, err := f.svc.Send(ctx, alice, input)
			var verr *domain.ValidationError
			assert.ErrorAs(t, err, &verr)
		}

		sent, err := f.store.ListEmails(ctx, "uid-alice", domain.FolderSent)
		require.NoError(t, err)
		assert.Empty(t, sent)
	})

	t.Run("收件地址统一为小写", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)

		result, err := f.svc.Send(ctx, alice, DeliveryInput{To: "  Bob@Roxmail.IN ", Subject: "hi", Body: "x"})
		require.NoError(t, err)
		assert.True(t, result.RecipientFound)

		sent, err := f.store.GetEmail(ctx, "uid-alice", domain.FolderSent, result.EmailID)
		require.NoError(t, err)
		assert.Equal(t, "bob@roxmail.in", sent.To)
	})

	t.Run("内容在写入时转义且只转义一次", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)

		result, err := f.svc.Send(ctx, alice, DeliveryInput{
			To:      "bob@roxmail.in",
			Subject: "<script>alert(1)</script>",
			Body:    "a < b & c",
		})
		require.NoError(t, err)

		sent, err := f.store.GetEmail(ctx, "uid-alice", domain.FolderSent, result.EmailID)
		require.NoError(t, err)
		assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", sent.Subject)
		assert.Equal(t, "a &lt; b &amp; c", sent.Body)
	})

	t.Run("合并冲突标记在写入前被清洗", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)

		result, err := f.svc.Send(ctx, alice, DeliveryInput{
			To:      "bob@roxmail.in",
			Subject: "hi",
			Body:    "<<<<<<< HEAD\nours\n=======\ntheirs\n>>>>>>> abc123\ntail",
		})
		require.NoError(t, err)

		sent, err := f.store.GetEmail(ctx, "uid-alice", domain.FolderSent, result.EmailID)
		require.NoError(t, err)
		assert.NotContains(t, sent.Body, "<<<<<<<")
		assert.NotContains(t, sent.Body, "=======")
	})

	t.Run("长正文生成截断摘要", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)
		body := strings.Repeat("a", 150)

		result, err := f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Subject: "hi", Body: body})
		require.NoError(t, err)

		sent, err := f.store.GetEmail(ctx, "uid-alice", domain.FolderSent, result.EmailID)
		require.NoError(t, err)
		assert.Equal(t, strings.Repeat("a", 100)+"...", sent.Preview)
	})

	t.Run("发送成功后追加审计日志", func(t *testing.T) {
		f := newDeliveryFixture(t, 100)

		result, err := f.svc.Send(ctx, alice, DeliveryInput{To: "bob@roxmail.in", Subject: "hi", Body: "x", IPAddress: "10.0.0.1"})
		require.NoError(t, err)

		entries := f.store.Activities()
		require.NotEmpty(t, entries)
		last := entries[len(entries)-1]
		assert.Equal(t, domain.ActionEmailSent, last.Action)
		assert.Equal(t, result.EmailID, last.EmailID)
		assert.Equal(t, "bob@roxmail.in", last.Recipient)
		assert.Equal(t, "10.0.0.1", last.IPAddress)
	})
}
