package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/storage"
)

// emailRow 邮件表
type emailRow struct {
	UserID     string `gorm:"primaryKey;size:64"`
	Folder     string `gorm:"primaryKey;size:16"`
	EmailID    string `gorm:"primaryKey;size:64"`
	FromAddr   string `gorm:"size:320"`
	SenderName string `gorm:"size:200"`
	ToAddr     string `gorm:"size:320"`
	Subject    string
	Body       string
	Preview    string `gorm:"size:512"`
	Timestamp  int64  `gorm:"index"`
	TimeLabel  string `gorm:"size:32"`
	DateLabel  string `gorm:"size:32"`
	Read       bool
	Starred    bool
	IPAddress  string `gorm:"size:64"`
	UserAgent  string `gorm:"size:200"`
}

func (emailRow) TableName() string { return "emails" }

// rateRow 限流计数表
type rateRow struct {
	UserID     string `gorm:"primaryKey;size:64"`
	HourBucket string `gorm:"primaryKey;size:16"`
	Count      int64
	UpdatedAt  time.Time
}

func (rateRow) TableName() string { return "send_rate_counts" }

// deviceRow 设备注册表
type deviceRow struct {
	UserID       string `gorm:"primaryKey;size:64"`
	DeviceID     string `gorm:"primaryKey;size:128"`
	Token        string
	Channel      string `gorm:"size:16"`
	Enabled      bool
	UserAgent    string `gorm:"size:200"`
	SubscribedAt int64
	LastActive   int64
	IPAddress    string `gorm:"size:64"`
}

func (deviceRow) TableName() string { return "device_registrations" }

// notificationRow 通知记录表
type notificationRow struct {
	UserID    string `gorm:"primaryKey;size:64"`
	ID        string `gorm:"primaryKey;size:64"`
	Title     string `gorm:"size:300"`
	Body      string
	Kind      string            `gorm:"size:32"`
	Data      map[string]string `gorm:"serializer:json"`
	Timestamp int64             `gorm:"index"`
	Read      bool
}

func (notificationRow) TableName() string { return "notifications" }

// activityRow 审计日志表
type activityRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	UserID    string `gorm:"index;size:64"`
	Action    string `gorm:"size:64"`
	EmailID   string `gorm:"size:64"`
	Recipient string `gorm:"size:320"`
	Count     int
	IPAddress string `gorm:"size:64"`
	Timestamp int64  `gorm:"index"`
}

func (activityRow) TableName() string { return "activity_logs" }

// sessionRow 会话缓存表
type sessionRow struct {
	Token     string    `gorm:"primaryKey;size:512"`
	UserID    string    `gorm:"size:64"`
	Email     string    `gorm:"size:320"`
	FirstName string    `gorm:"size:100"`
	LastName  string    `gorm:"size:100"`
	ExpiresAt time.Time `gorm:"index"`
}

func (sessionRow) TableName() string { return "session_cache" }

// Store 基于 PostgreSQL 的存储后端，适合需要 SQL 查询与备份的部署。
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewStore 连接数据库并自动迁移表结构。
func NewStore(cfg *config.DatabaseConfig, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.AutoMigrate(&emailRow{}, &rateRow{}, &deviceRow{}, &notificationRow{}, &activityRow{}, &sessionRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	log.Info("connected to PostgreSQL")
	return &Store{db: db, log: log}, nil
}

func toEmailRow(userID string, folder domain.Folder, e *domain.Email) *emailRow {
	return &emailRow{
		UserID:     userID,
		Folder:     string(folder),
		EmailID:    e.ID,
		FromAddr:   e.From,
		SenderName: e.SenderName,
		ToAddr:     e.To,
		Subject:    e.Subject,
		Body:       e.Body,
		Preview:    e.Preview,
		Timestamp:  e.Timestamp,
		TimeLabel:  e.Time,
		DateLabel:  e.Date,
		Read:       e.Read,
		Starred:    e.Starred,
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
	}
}

func fromEmailRow(row *emailRow) *domain.Email {
	return &domain.Email{
		ID:         row.EmailID,
		From:       row.FromAddr,
		SenderName: row.SenderName,
		To:         row.ToAddr,
		Subject:    row.Subject,
		Body:       row.Body,
		Preview:    row.Preview,
		Timestamp:  row.Timestamp,
		Time:       row.TimeLabel,
		Date:       row.DateLabel,
		Read:       row.Read,
		Starred:    row.Starred,
		IPAddress:  row.IPAddress,
		UserAgent:  row.UserAgent,
	}
}

// SaveEmail 覆盖写一封邮件。
func (s *Store) SaveEmail(ctx context.Context, userID string, folder domain.Folder, email *domain.Email) error {
	return s.db.WithContext(ctx).Save(toEmailRow(userID, folder, email)).Error
}

// GetEmail 读取单封邮件。
func (s *Store) GetEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) (*domain.Email, error) {
	var row emailRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND folder = ? AND email_id = ?", userID, string(folder), emailID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}
	return fromEmailRow(&row), nil
}

// ListEmails 列出目录下的全部邮件，按时间戳倒序。
func (s *Store) ListEmails(ctx context.Context, userID string, folder domain.Folder) ([]domain.Email, error) {
	var rows []emailRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND folder = ?", userID, string(folder)).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}

	out := make([]domain.Email, 0, len(rows))
	for i := range rows {
		out = append(out, *fromEmailRow(&rows[i]))
	}
	return out, nil
}

// UpdateEmailFields 局部更新邮件字段。
func (s *Store) UpdateEmailFields(ctx context.Context, userID string, folder domain.Folder, emailID string, fields map[string]interface{}) error {
	updates := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		switch key {
		case "read", "starred", "subject", "body", "preview":
			updates[key] = value
		}
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&emailRow{}).
		Where("user_id = ? AND folder = ? AND email_id = ?", userID, string(folder), emailID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrEmailNotFound
	}
	return nil
}

// DeleteEmail 删除一封邮件。
func (s *Store) DeleteEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND folder = ? AND email_id = ?", userID, string(folder), emailID).
		Delete(&emailRow{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete email: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrEmailNotFound
	}
	return nil
}

// GetSendCount 读取限流计数器。
func (s *Store) GetSendCount(ctx context.Context, userID, hourBucket string) (int64, error) {
	var row rateRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND hour_bucket = ?", userID, hourBucket).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get send count: %w", err)
	}
	return row.Count, nil
}

// SetSendCount 覆盖写限流计数器。
func (s *Store) SetSendCount(ctx context.Context, userID, hourBucket string, count int64) error {
	row := rateRow{UserID: userID, HourBucket: hourBucket, Count: count, UpdatedAt: time.Now()}
	return s.db.WithContext(ctx).Save(&row).Error
}

// SaveDevice 覆盖写设备注册。
func (s *Store) SaveDevice(ctx context.Context, reg *domain.DeviceRegistration) error {
	row := deviceRow{
		UserID:       reg.UserID,
		DeviceID:     reg.DeviceID,
		Token:        reg.Token,
		Channel:      string(reg.Channel),
		Enabled:      reg.Enabled,
		UserAgent:    reg.UserAgent,
		SubscribedAt: reg.SubscribedAt,
		LastActive:   reg.LastActive,
		IPAddress:    reg.IPAddress,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// ListDevices 列出用户的全部设备注册。
func (s *Store) ListDevices(ctx context.Context, userID string) ([]domain.DeviceRegistration, error) {
	var rows []deviceRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("device_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	out := make([]domain.DeviceRegistration, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.DeviceRegistration{
			UserID:       row.UserID,
			DeviceID:     row.DeviceID,
			Token:        row.Token,
			Channel:      domain.DeviceChannel(row.Channel),
			Enabled:      row.Enabled,
			UserAgent:    row.UserAgent,
			SubscribedAt: row.SubscribedAt,
			LastActive:   row.LastActive,
			IPAddress:    row.IPAddress,
		})
	}
	return out, nil
}

// DeleteDevice 删除一条设备注册。
func (s *Store) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	result := s.db.WithContext(ctx).
		Where("user_id = ? AND device_id = ?", userID, deviceID).
		Delete(&deviceRow{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete device: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}

// SaveNotification 写入一条通知记录。
func (s *Store) SaveNotification(ctx context.Context, record *domain.NotificationRecord) error {
	row := notificationRow{
		UserID:    record.UserID,
		ID:        record.ID,
		Title:     record.Title,
		Body:      record.Body,
		Kind:      string(record.Payload.Kind),
		Data:      record.Payload.Data,
		Timestamp: record.Timestamp,
		Read:      record.Read,
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// ListNotifications 列出用户的全部通知记录，按时间戳倒序。
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]domain.NotificationRecord, error) {
	var rows []notificationRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}

	out := make([]domain.NotificationRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.NotificationRecord{
			ID:        row.ID,
			UserID:    row.UserID,
			Title:     row.Title,
			Body:      row.Body,
			Payload:   domain.NotificationPayload{Kind: domain.EventKind(row.Kind), Data: row.Data},
			Timestamp: row.Timestamp,
			Read:      row.Read,
		})
	}
	return out, nil
}

// MarkNotificationRead 将通知标记为已读。
func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	result := s.db.WithContext(ctx).Model(&notificationRow{}).
		Where("user_id = ? AND id = ?", userID, notificationID).
		Update("read", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return storage.ErrNotificationNotFound
	}
	return nil
}

// AppendActivity 追加一条审计日志。
func (s *Store) AppendActivity(ctx context.Context, entry *domain.ActivityLog) error {
	row := activityRow{
		UserID:    entry.UserID,
		Action:    string(entry.Action),
		EmailID:   entry.EmailID,
		Recipient: entry.Recipient,
		Count:     entry.Count,
		IPAddress: entry.IPAddress,
		Timestamp: entry.Timestamp,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// CacheSession 缓存令牌校验结果。
func (s *Store) CacheSession(ctx context.Context, token string, user *domain.User, ttl time.Duration) error {
	row := sessionRow{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		ExpiresAt: time.Now().Add(ttl),
	}
	return s.db.WithContext(ctx).Save(&row).Error
}

// GetCachedSession 读取缓存的校验结果，过期视为未命中。
func (s *Store) GetCachedSession(ctx context.Context, token string) (*domain.User, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}
	if time.Now().After(row.ExpiresAt) {
		return nil, nil
	}
	return &domain.User{ID: row.UserID, Email: row.Email, FirstName: row.FirstName, LastName: row.LastName}, nil
}

// DeleteCachedSession 删除缓存的校验结果。
func (s *Store) DeleteCachedSession(ctx context.Context, token string) error {
	return s.db.WithContext(ctx).Where("token = ?", token).Delete(&sessionRow{}).Error
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连通性。
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}
