package storage

import (
	"context"
	"errors"
	"time"

	"roxmail/backend/internal/domain"
)

var (
	// ErrEmailNotFound 邮件未找到错误
	ErrEmailNotFound = errors.New("email not found")
	// ErrNotificationNotFound 通知记录未找到错误
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrDeviceNotFound 设备注册未找到错误
	ErrDeviceNotFound = errors.New("device not found")
)

// MailboxRepository 定义邮箱数据存取操作。
//
// 底层是按 用户ID -> 目录 -> 邮件ID 嵌套的层级键值存储；
// 发件人副本与收件人副本是独立的数据，互不共享。
type MailboxRepository interface {
	// SaveEmail 在指定用户的指定目录写入一封邮件（整条覆盖写）。
	SaveEmail(ctx context.Context, userID string, folder domain.Folder, email *domain.Email) error
	// GetEmail 读取单封邮件，不存在时返回 ErrEmailNotFound。
	GetEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) (*domain.Email, error)
	// ListEmails 列出指定目录下的全部邮件。
	ListEmails(ctx context.Context, userID string, folder domain.Folder) ([]domain.Email, error)
	// UpdateEmailFields 局部更新邮件的可变字段（read、starred 或清理修复后的文本字段）。
	UpdateEmailFields(ctx context.Context, userID string, folder domain.Folder, emailID string, fields map[string]interface{}) error
	// DeleteEmail 删除指定目录中的一封邮件。
	DeleteEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) error
}

// RateLimitRepository 定义发信限流计数器的存取操作。
//
// 读取与写回是两次独立调用，中间没有任何并发控制：同一用户的并发
// 发送可能读到同一个计数值从而小幅突破限额。这是有意保留的
// 弱一致性设计（见 DESIGN.md），接口形态允许未来换成原子自增。
type RateLimitRepository interface {
	// GetSendCount 读取 (userID, hourBucket) 的当前计数，键不存在时返回 0。
	GetSendCount(ctx context.Context, userID, hourBucket string) (int64, error)
	// SetSendCount 覆盖写 (userID, hourBucket) 的计数。
	SetSendCount(ctx context.Context, userID, hourBucket string, count int64) error
}

// DeviceRepository 定义设备注册数据的存取操作。
type DeviceRepository interface {
	// SaveDevice 写入设备注册，同一 (userID, deviceID) 覆盖写。
	SaveDevice(ctx context.Context, reg *domain.DeviceRegistration) error
	// ListDevices 列出用户的全部设备注册。
	ListDevices(ctx context.Context, userID string) ([]domain.DeviceRegistration, error)
	// DeleteDevice 删除一条设备注册（令牌失效时由分发器调用）。
	DeleteDevice(ctx context.Context, userID, deviceID string) error
}

// NotificationRepository 定义通知记录的存取操作。
type NotificationRepository interface {
	// SaveNotification 写入一条通知记录。
	SaveNotification(ctx context.Context, record *domain.NotificationRecord) error
	// ListNotifications 列出用户的全部通知记录。
	ListNotifications(ctx context.Context, userID string) ([]domain.NotificationRecord, error)
	// MarkNotificationRead 将通知标记为已读。
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

// ActivityLogRepository 定义审计日志的追加操作。
type ActivityLogRepository interface {
	// AppendActivity 有序追加一条审计日志。
	AppendActivity(ctx context.Context, entry *domain.ActivityLog) error
}

// SessionRepository 定义会话校验结果的缓存操作。
type SessionRepository interface {
	CacheSession(ctx context.Context, token string, user *domain.User, ttl time.Duration) error
	GetCachedSession(ctx context.Context, token string) (*domain.User, error)
	DeleteCachedSession(ctx context.Context, token string) error
}

// Store 定义完整的存储接口。
type Store interface {
	MailboxRepository
	RateLimitRepository
	DeviceRepository
	NotificationRepository
	ActivityLogRepository
	SessionRepository

	// 工具方法
	Close() error
	Health() error
}
