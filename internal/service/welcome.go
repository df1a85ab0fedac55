package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/storage"
)

// WelcomeService 负责为新用户投递一次性的欢迎邮件。
//
// 邮件 ID 由用户 ID 哈希派生，同一用户永远得到同一个 ID，
// 幂等判定只需一次按键读取，无须扫描整个收件箱。
type WelcomeService struct {
	repo     storage.MailboxRepository
	notifier Notifier
	sender   string
	name     string
	log      *zap.Logger
	now      func() time.Time // 测试注入
}

// NewWelcomeService 创建欢迎邮件服务。
func NewWelcomeService(repo storage.MailboxRepository, notifier Notifier, cfg *config.MailConfig, log *zap.Logger) *WelcomeService {
	return &WelcomeService{
		repo:     repo,
		notifier: notifier,
		sender:   cfg.SystemSender,
		name:     cfg.SystemSenderName,
		log:      log,
		now:      time.Now,
	}
}

// WelcomeEmailID 返回用户的确定性欢迎邮件 ID。
func WelcomeEmailID(userID string) string {
	sum := blake2b.Sum256([]byte(userID))
	return "welcome-" + hex.EncodeToString(sum[:16])
}

// WelcomeResult 汇总欢迎邮件的投递结果。
type WelcomeResult struct {
	EmailID       string
	AlreadyExists bool
}

// Deliver 向用户收件箱写入欢迎邮件，重复调用幂等。
func (s *WelcomeService) Deliver(ctx context.Context, user *domain.User) (*WelcomeResult, error) {
	emailID := WelcomeEmailID(user.ID)

	_, err := s.repo.GetEmail(ctx, user.ID, domain.FolderInbox, emailID)
	if err == nil {
		return &WelcomeResult{EmailID: emailID, AlreadyExists: true}, nil
	}
	if !errors.Is(err, storage.ErrEmailNotFound) {
		return nil, err
	}

	now := s.now()
	body := welcomeBody(user)
	email := &domain.Email{
		ID:         emailID,
		From:       s.sender,
		SenderName: s.name,
		To:         user.Email,
		Subject:    "Welcome to Roxmail! 🎉",
		Body:       body,
		Preview:    fmt.Sprintf("Welcome to Roxmail, %s! 🎉 Your secure email journey begins now.", user.FirstName),
		Timestamp:  now.Unix(),
		Time:       now.Format("03:04 PM"),
		Date:       now.Format("January 02, 2006"),
		Starred:    true,
	}
	if err := s.repo.SaveEmail(ctx, user.ID, domain.FolderInbox, email); err != nil {
		return nil, err
	}

	if _, err := s.notifier.Dispatch(ctx, user.ID,
		"Welcome to Roxmail! 🎉",
		fmt.Sprintf("Hi %s, your secure email experience starts here!", user.FirstName),
		domain.NotificationPayload{
			Kind: domain.EventWelcome,
			Data: map[string]string{"email_id": emailID},
		},
	); err != nil {
		s.log.Warn("welcome notification failed",
			zap.String("user_id", user.ID),
			zap.Error(err),
		)
	}

	return &WelcomeResult{EmailID: emailID}, nil
}

func welcomeBody(user *domain.User) string {
	return fmt.Sprintf(`<div style="max-width: 600px; margin: 0 auto; font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; color: #202124;">
  <div style="background: linear-gradient(135deg, #1a73e8 0%%, #667eea 100%%); padding: 40px 30px; text-align: center; color: white; border-radius: 12px 12px 0 0;">
    <h1 style="margin: 0 0 10px 0; font-size: 32px;">Welcome to Roxmail!</h1>
    <p style="margin: 0; font-size: 18px;">Hi %s, your secure email journey begins now</p>
  </div>
  <div style="padding: 30px;">
    <h2 style="color: #1a73e8;">🚀 Quick Start Guide</h2>
    <ul style="line-height: 1.8;">
      <li><strong>Compose:</strong> Click the compose button to send your first email</li>
      <li><strong>Organize:</strong> Star important emails to find them quickly</li>
      <li><strong>Notifications:</strong> Enable push notifications to never miss a message</li>
      <li><strong>Account:</strong> Manage settings from your account dashboard</li>
    </ul>
    <h2 style="color: #34a853;">🔒 Security &amp; Privacy</h2>
    <ul style="line-height: 1.8;">
      <li>Content is sanitized before it reaches your mailbox</li>
      <li>Multi-device support with per-device notification control</li>
      <li>Your session is verified on every request</li>
    </ul>
    <p style="margin-top: 30px;">Need help? Just reply to this email.</p>
    <p style="color: #1a73e8; font-weight: 600;">The Roxmail Team</p>
    <p style="font-size: 12px; color: #9aa0a6;">This email was sent to %s because you created a Roxmail account.</p>
  </div>
</div>`, user.FirstName, user.Email)
}
