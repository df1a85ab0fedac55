package smtp

import (
	"context"
	"io"
	"strings"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"roxmail/backend/internal/security"
	"roxmail/backend/internal/service"
)

// Resolver 把收件地址解析为注册用户
type Resolver interface {
	FindUserByEmail(ctx context.Context, email string) (string, error)
}

// Backend 实现 go-smtp 的 Backend 接口。
//
// 这是一个只接收邮件的 SMTP 服务器：
//   - 只接受发往本地域名、且地址对应注册用户的邮件
//   - 不支持对外发送，不做邮件中继
//
// Rcpt() 是防止开放中继的核心：域名不在本地列表或地址解析不到
// 用户时一律返回 550 拒绝。
type Backend struct {
	delivery     *service.DeliveryService
	resolver     Resolver
	filter       *security.ContentFilter
	localDomains map[string]bool
	limiter      *ConnectionLimiter // 可选
	log          *zap.Logger
}

// NewBackend 创建 SMTP Backend。
func NewBackend(delivery *service.DeliveryService, resolver Resolver, filter *security.ContentFilter, localDomains []string, log *zap.Logger) *Backend {
	domains := make(map[string]bool, len(localDomains))
	for _, d := range localDomains {
		domains[strings.ToLower(d)] = true
	}
	return &Backend{
		delivery:     delivery,
		resolver:     resolver,
		filter:       filter,
		localDomains: domains,
		log:          log,
	}
}

// SetConnectionLimiter 注入连接限流器。
func (b *Backend) SetConnectionLimiter(l *ConnectionLimiter) {
	b.limiter = l
}

// NewSession 创建新的 SMTP 会话。
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	if b.limiter != nil && !b.limiter.Acquire() {
		return nil, &gosmtp.SMTPError{
			Code:         421,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 5},
			Message:      "too many connections, try again later",
		}
	}
	return &session{backend: b}, nil
}

type session struct {
	backend     *Backend
	fromAddress string
	recipients  []recipient
	released    bool
}

type recipient struct {
	address string
	userID  string
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, opts *gosmtp.MailOptions) error {
	s.fromAddress = normalizeAddress(from)
	return nil
}

// Rcpt 处理 RCPT 命令。
//
// 验证流程：
//  1. 提取收件人域名，必须在本地域名列表中
//  2. 通过身份服务解析地址对应的用户
//  3. 两步任一失败返回 550 拒绝
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	addr := normalizeAddress(to)

	parts := strings.Split(addr, "@")
	if len(parts) != 2 {
		return &gosmtp.SMTPError{
			Code:         501,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 3},
			Message:      "invalid recipient address",
		}
	}

	if !s.backend.localDomains[parts[1]] {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "relay access denied - domain not managed by this server",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userID, err := s.backend.resolver.FindUserByEmail(ctx, addr)
	if err != nil {
		s.backend.log.Warn("recipient resolution failed during SMTP session",
			zap.String("to", addr),
			zap.Error(err),
		)
		return &gosmtp.SMTPError{
			Code:         451,
			EnhancedCode: gosmtp.EnhancedCode{4, 4, 3},
			Message:      "recipient lookup temporarily unavailable",
		}
	}
	if userID == "" {
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
			Message:      "recipient mailbox not found",
		}
	}

	s.recipients = append(s.recipients, recipient{address: addr, userID: userID})
	return nil
}

// Data 处理邮件内容。
func (s *session) Data(r io.Reader) error {
	rawBytes, err := io.ReadAll(io.LimitReader(r, 10<<20)) // 10MB
	if err != nil {
		return err
	}

	parsed, err := ParseEmail(rawBytes)
	if err != nil {
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "malformed message content",
		}
	}

	body := parsed.Text
	if body == "" {
		body = parsed.HTML
	}

	if ok, reason := s.backend.filter.Allow(parsed.Subject + "\n" + body); !ok {
		s.backend.log.Warn("inbound message rejected by content filter",
			zap.String("from", s.fromAddress),
			zap.String("reason", reason),
		)
		return &gosmtp.SMTPError{
			Code:         550,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 1},
			Message:      "message rejected by content policy",
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, rcpt := range s.recipients {
		result, err := s.backend.delivery.DeliverInbound(ctx, rcpt.userID, service.InboundInput{
			From:       s.fromAddress,
			SenderName: parsed.SenderName,
			To:         rcpt.address,
			Subject:    parsed.Subject,
			Body:       body,
		})
		if err != nil {
			s.backend.log.Error("inbound delivery failed",
				zap.String("to", rcpt.address),
				zap.Error(err),
			)
			return &gosmtp.SMTPError{
				Code:         451,
				EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
				Message:      "temporary delivery failure",
			}
		}

		s.backend.log.Info("inbound email delivered",
			zap.String("email_id", result.EmailID),
			zap.String("to", rcpt.address),
			zap.Bool("notified", result.Notified),
		)
	}
	return nil
}

// Reset 重置会话状态。
func (s *session) Reset() {
	s.fromAddress = ""
	s.recipients = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	if s.backend.limiter != nil && !s.released {
		s.backend.limiter.Release()
		s.released = true
	}
	return nil
}

func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	addr = strings.Trim(addr, "<>")
	return strings.ToLower(addr)
}
