package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/monitoring"
	"roxmail/backend/internal/security"
	"roxmail/backend/internal/storage"
)

// Resolver 把收件地址解析为注册用户。
type Resolver interface {
	FindUserByEmail(ctx context.Context, email string) (string, error)
}

// Notifier 向收件人分发新邮件通知。
type Notifier interface {
	Dispatch(ctx context.Context, userID, title, body string, payload domain.NotificationPayload) (bool, error)
}

// DeliveryInput 定义一次发送请求。
type DeliveryInput struct {
	To        string
	Subject   string
	Body      string
	IPAddress string
	UserAgent string
}

// DeliveryResult 汇总一次投递的结果。
//
// 投递是分级成功的：发件副本落盘即算成功，收件人未注册、
// 通知分发失败只会出现在 Degraded 列表里，不改变成功结论。
type DeliveryResult struct {
	EmailID        string
	RecipientFound bool
	Notified       bool
	Degraded       []string
}

// DeliveryService 编排一封外发邮件的完整投递流程。
//
// 流程顺序固定：校验、限流判定、清洗转义、发件副本落盘、
// 收件人解析、收件副本落盘、通知分发、限流计数写回、审计。
// 发件副本落盘之前的任何失败都让整个请求失败；之后的失败
// 一律降级。
type DeliveryService struct {
	repo      storage.MailboxRepository
	activity  storage.ActivityLogRepository
	limiter   *SendLimiter
	resolver  Resolver
	notifier  Notifier
	sanitizer *security.Sanitizer
	metrics   *monitoring.Metrics // 可选
	log       *zap.Logger
	now       func() time.Time // 测试注入
}

// NewDeliveryService 创建投递编排服务。
func NewDeliveryService(
	repo storage.MailboxRepository,
	activity storage.ActivityLogRepository,
	limiter *SendLimiter,
	resolver Resolver,
	notifier Notifier,
	sanitizer *security.Sanitizer,
	log *zap.Logger,
) *DeliveryService {
	return &DeliveryService{
		repo:      repo,
		activity:  activity,
		limiter:   limiter,
		resolver:  resolver,
		notifier:  notifier,
		sanitizer: sanitizer,
		log:       log,
		now:       time.Now,
	}
}

// SetMetrics 注入指标收集器。
func (s *DeliveryService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// degrade 在结果中登记一个降级阶段。
func (s *DeliveryService) degrade(result *DeliveryResult, stage string) {
	result.Degraded = append(result.Degraded, stage)
	if s.metrics != nil {
		s.metrics.RecordDeliveryDegradation(stage)
	}
}

// Send 以 sender 的身份投递一封邮件。
func (s *DeliveryService) Send(ctx context.Context, sender *domain.User, input DeliveryInput) (*DeliveryResult, error) {
	to := strings.TrimSpace(strings.ToLower(input.To))
	if err := domain.ValidateAddress(to); err != nil {
		return nil, err
	}
	if err := domain.ValidateSubject(input.Subject); err != nil {
		return nil, err
	}
	if err := domain.ValidateBody(input.Body); err != nil {
		return nil, err
	}

	count, err := s.limiter.Check(ctx, sender.ID)
	if err != nil {
		return nil, err
	}

	// 写入前清洗一次，之后不再转义
	safeSubject := s.sanitizer.EscapeHTML(s.sanitizer.Clean(input.Subject))
	safeBody := s.sanitizer.EscapeHTML(s.sanitizer.Clean(input.Body))

	now := s.now()
	email := &domain.Email{
		ID:         uuid.NewString(),
		From:       sender.Email,
		SenderName: sender.DisplayName(),
		To:         to,
		Subject:    safeSubject,
		Body:       safeBody,
		Preview:    domain.MakePreview(safeBody),
		Timestamp:  now.Unix(),
		Time:       now.Format("03:04 PM"),
		Date:       now.Format("2006-01-02"),
		IPAddress:  input.IPAddress,
		UserAgent:  domain.TruncateUserAgent(input.UserAgent),
	}

	if err := s.repo.SaveEmail(ctx, sender.ID, domain.FolderSent, email); err != nil {
		return nil, err
	}

	result := &DeliveryResult{EmailID: email.ID}

	recipientID, err := s.resolver.FindUserByEmail(ctx, to)
	if err != nil {
		s.log.Warn("recipient resolution failed, delivering to sent folder only",
			zap.String("to", to),
			zap.Error(err),
		)
		s.degrade(result, "recipient_resolution")
	}

	if recipientID != "" {
		result.RecipientFound = true
		if err := s.repo.SaveEmail(ctx, recipientID, domain.FolderInbox, email); err != nil {
			s.log.Error("failed to write inbox copy",
				zap.String("recipient_id", recipientID),
				zap.String("email_id", email.ID),
				zap.Error(err),
			)
			s.degrade(result, "inbox_copy")
		} else {
			subject := safeSubject
			if subject == "" {
				subject = "(No subject)"
			}
			notified, err := s.notifier.Dispatch(ctx, recipientID,
				"New email from "+email.SenderName,
				subject,
				domain.NotificationPayload{
					Kind: domain.EventNewEmail,
					Data: map[string]string{
						"email_id": email.ID,
						"sender":   email.From,
					},
				},
			)
			if err != nil {
				s.log.Warn("notification dispatch failed",
					zap.String("recipient_id", recipientID),
					zap.Error(err),
				)
				s.degrade(result, "notification")
			}
			result.Notified = notified
		}
	}

	if err := s.limiter.Commit(ctx, sender.ID, count); err != nil {
		s.log.Warn("failed to commit rate counter",
			zap.String("user_id", sender.ID),
			zap.Error(err),
		)
		s.degrade(result, "rate_counter")
	}

	if err := s.activity.AppendActivity(ctx, &domain.ActivityLog{
		Action:    domain.ActionEmailSent,
		UserID:    sender.ID,
		EmailID:   email.ID,
		Recipient: to,
		Timestamp: email.Timestamp,
		IPAddress: input.IPAddress,
	}); err != nil {
		s.log.Warn("failed to append activity log", zap.Error(err))
	}

	return result, nil
}

// InboundInput 定义一封从外部 SMTP 进入的邮件。
type InboundInput struct {
	From       string
	SenderName string
	To         string
	Subject    string
	Body       string
}

// DeliverInbound 把一封外部来信写入已解析收件人的收件箱。
//
// 来信不占用任何用户的发送配额，也没有发件副本；收件箱落盘
// 失败让整个投递失败（SMTP 层据此返回临时错误），通知分发
// 失败照常降级。
func (s *DeliveryService) DeliverInbound(ctx context.Context, recipientID string, input InboundInput) (*DeliveryResult, error) {
	safeSubject := s.sanitizer.EscapeHTML(s.sanitizer.Clean(input.Subject))
	safeBody := s.sanitizer.EscapeHTML(s.sanitizer.Clean(input.Body))

	senderName := input.SenderName
	if senderName == "" {
		senderName = input.From
	}

	now := s.now()
	email := &domain.Email{
		ID:         uuid.NewString(),
		From:       input.From,
		SenderName: senderName,
		To:         input.To,
		Subject:    safeSubject,
		Body:       safeBody,
		Preview:    domain.MakePreview(safeBody),
		Timestamp:  now.Unix(),
		Time:       now.Format("03:04 PM"),
		Date:       now.Format("2006-01-02"),
	}

	if err := s.repo.SaveEmail(ctx, recipientID, domain.FolderInbox, email); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordEmailInbound()
	}

	result := &DeliveryResult{EmailID: email.ID, RecipientFound: true}

	subject := safeSubject
	if subject == "" {
		subject = "(No subject)"
	}
	notified, err := s.notifier.Dispatch(ctx, recipientID,
		"New email from "+senderName,
		subject,
		domain.NotificationPayload{
			Kind: domain.EventNewEmail,
			Data: map[string]string{
				"email_id": email.ID,
				"sender":   email.From,
			},
		},
	)
	if err != nil {
		s.log.Warn("notification dispatch failed",
			zap.String("recipient_id", recipientID),
			zap.Error(err),
		)
		s.degrade(result, "notification")
	}
	result.Notified = notified

	return result, nil
}
