package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/security"
	"roxmail/backend/internal/storage"
)

// MailboxService 封装邮箱读取与管理操作。
//
// 邮件查找统一走"先收件箱后发件箱"的目录顺序，找到即停；
// 所有单封操作都要求调用方对邮件具有所有权。
type MailboxService struct {
	repo      storage.MailboxRepository
	activity  storage.ActivityLogRepository
	sanitizer *security.Sanitizer
	log       *zap.Logger
}

// NewMailboxService 创建邮箱业务服务。
func NewMailboxService(repo storage.MailboxRepository, activity storage.ActivityLogRepository, sanitizer *security.Sanitizer, log *zap.Logger) *MailboxService {
	return &MailboxService{repo: repo, activity: activity, sanitizer: sanitizer, log: log}
}

// List 列出用户指定目录下的全部邮件摘要，按时间戳倒序。
func (s *MailboxService) List(ctx context.Context, user *domain.User, folder domain.Folder, ip string) ([]domain.EmailSummary, error) {
	emails, err := s.repo.ListEmails(ctx, user.ID, folder)
	if err != nil {
		return nil, err
	}
	// 部分后端按键扫描返回，顺序在这里统一
	sort.Slice(emails, func(i, j int) bool { return emails[i].Timestamp > emails[j].Timestamp })

	out := make([]domain.EmailSummary, 0, len(emails))
	for i := range emails {
		out = append(out, emails[i].Summary())
	}

	s.recordActivity(ctx, &domain.ActivityLog{
		Action:    domain.ActionEmailsAccessed,
		UserID:    user.ID,
		Count:     len(out),
		Timestamp: time.Now().Unix(),
		IPAddress: ip,
	})
	return out, nil
}

// locate 按收件箱、发件箱的顺序查找邮件。
func (s *MailboxService) locate(ctx context.Context, userID, emailID string) (*domain.Email, domain.Folder, error) {
	for _, folder := range []domain.Folder{domain.FolderInbox, domain.FolderSent} {
		email, err := s.repo.GetEmail(ctx, userID, folder, emailID)
		if err == nil {
			return email, folder, nil
		}
		if !errors.Is(err, storage.ErrEmailNotFound) {
			return nil, "", err
		}
	}
	return nil, "", ErrEmailNotFound
}

// Fetch 读取单封邮件全文。
//
// 收件箱邮件会顺带翻已读标志；标志写回失败只记日志，
// 读取本身仍然成功。
func (s *MailboxService) Fetch(ctx context.Context, user *domain.User, emailID, ip string) (*domain.Email, error) {
	email, folder, err := s.locate(ctx, user.ID, emailID)
	if err != nil {
		return nil, err
	}
	if !email.Owns(folder, user.Email) {
		return nil, ErrAccessDenied
	}

	if folder == domain.FolderInbox && !email.Read {
		if err := s.repo.UpdateEmailFields(ctx, user.ID, folder, emailID, map[string]interface{}{"read": true}); err != nil {
			s.log.Warn("failed to flip read flag",
				zap.String("email_id", emailID),
				zap.Error(err),
			)
		} else {
			email.Read = true
		}
	}

	s.recordActivity(ctx, &domain.ActivityLog{
		Action:    domain.ActionEmailRead,
		UserID:    user.ID,
		EmailID:   emailID,
		Timestamp: time.Now().Unix(),
		IPAddress: ip,
	})
	return email, nil
}

// Star 设置或取消星标。
func (s *MailboxService) Star(ctx context.Context, user *domain.User, emailID string, starred bool) error {
	email, folder, err := s.locate(ctx, user.ID, emailID)
	if err != nil {
		return err
	}
	if !email.Owns(folder, user.Email) {
		return ErrAccessDenied
	}
	return s.repo.UpdateEmailFields(ctx, user.ID, folder, emailID, map[string]interface{}{"starred": starred})
}

// MarkRead 显式设置已读标志。
func (s *MailboxService) MarkRead(ctx context.Context, user *domain.User, emailID string, read bool) error {
	email, folder, err := s.locate(ctx, user.ID, emailID)
	if err != nil {
		return err
	}
	if !email.Owns(folder, user.Email) {
		return ErrAccessDenied
	}
	return s.repo.UpdateEmailFields(ctx, user.ID, folder, emailID, map[string]interface{}{"read": read})
}

// Delete 删除一封邮件（只删调用方自己的副本）。
func (s *MailboxService) Delete(ctx context.Context, user *domain.User, emailID, ip string) error {
	email, folder, err := s.locate(ctx, user.ID, emailID)
	if err != nil {
		return err
	}
	if !email.Owns(folder, user.Email) {
		return ErrAccessDenied
	}
	if err := s.repo.DeleteEmail(ctx, user.ID, folder, emailID); err != nil {
		return err
	}

	s.recordActivity(ctx, &domain.ActivityLog{
		Action:    domain.ActionEmailDeleted,
		UserID:    user.ID,
		EmailID:   emailID,
		Timestamp: time.Now().Unix(),
		IPAddress: ip,
	})
	return nil
}

// CleanupResult 汇总一次修复扫描的结果。
type CleanupResult struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
}

// Cleanup 扫描用户两个目录中的历史邮件，修复残留的合并冲突标记。
//
// 新写入的邮件在投递时已经清洗过，这里只处理旧数据；
// 单封修复失败跳过并继续。
func (s *MailboxService) Cleanup(ctx context.Context, user *domain.User) (*CleanupResult, error) {
	result := &CleanupResult{}
	for _, folder := range []domain.Folder{domain.FolderInbox, domain.FolderSent} {
		emails, err := s.repo.ListEmails(ctx, user.ID, folder)
		if err != nil {
			return nil, err
		}
		for i := range emails {
			email := &emails[i]
			result.Scanned++

			if !s.sanitizer.Corrupted(email.Subject) && !s.sanitizer.Corrupted(email.Body) {
				continue
			}
			cleanSubject := s.sanitizer.Clean(email.Subject)
			cleanBody := s.sanitizer.Clean(email.Body)
			fields := map[string]interface{}{
				"subject": cleanSubject,
				"body":    cleanBody,
				"preview": domain.MakePreview(cleanBody),
			}
			if err := s.repo.UpdateEmailFields(ctx, user.ID, folder, email.ID, fields); err != nil {
				s.log.Warn("failed to repair email",
					zap.String("email_id", email.ID),
					zap.String("folder", string(folder)),
					zap.Error(err),
				)
				continue
			}
			result.Repaired++
		}
	}
	return result, nil
}

// recordActivity 追加审计日志，失败只记警告。
func (s *MailboxService) recordActivity(ctx context.Context, entry *domain.ActivityLog) {
	if err := s.activity.AppendActivity(ctx, entry); err != nil {
		s.log.Warn("failed to append activity log",
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}
