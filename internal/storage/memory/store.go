package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/storage"
)

// Store 使用内存保存邮箱、设备与通知数据，主要用于开发验证与测试。
//
// 锁只保护进程内的 map 结构本身；读取-写回之间的竞态语义与
// 生产后端保持一致，限流计数器依然可能被并发突破。
type Store struct {
	mu            sync.RWMutex
	emails        map[string]map[domain.Folder]map[string]*domain.Email // userID -> folder -> emailID
	rateCounts    map[string]int64                                      // "userID/hourBucket" -> count
	devices       map[string]map[string]*domain.DeviceRegistration      // userID -> deviceID
	notifications map[string]map[string]*domain.NotificationRecord      // userID -> notificationID
	activity      []*domain.ActivityLog
	sessions      map[string]*sessionEntry // token -> 校验结果
}

// sessionEntry 会话缓存条目
type sessionEntry struct {
	user      *domain.User
	expiresAt time.Time
}

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{
		emails:        make(map[string]map[domain.Folder]map[string]*domain.Email),
		rateCounts:    make(map[string]int64),
		devices:       make(map[string]map[string]*domain.DeviceRegistration),
		notifications: make(map[string]map[string]*domain.NotificationRecord),
		activity:      make([]*domain.ActivityLog, 0),
		sessions:      make(map[string]*sessionEntry),
	}
}

// SaveEmail 在指定用户目录写入一封邮件（覆盖写）。
//
// 存入的是值拷贝，发件人与收件人的两份副本写入后互不影响。
func (s *Store) SaveEmail(ctx context.Context, userID string, folder domain.Folder, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	folders, ok := s.emails[userID]
	if !ok {
		folders = make(map[domain.Folder]map[string]*domain.Email)
		s.emails[userID] = folders
	}
	box, ok := folders[folder]
	if !ok {
		box = make(map[string]*domain.Email)
		folders[folder] = box
	}

	clone := *email
	box[email.ID] = &clone
	return nil
}

// GetEmail 读取单封邮件，返回值拷贝。
func (s *Store) GetEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email, ok := s.emails[userID][folder][emailID]
	if !ok {
		return nil, storage.ErrEmailNotFound
	}
	clone := *email
	return &clone, nil
}

// ListEmails 列出指定目录下的全部邮件，按时间戳倒序。
func (s *Store) ListEmails(ctx context.Context, userID string, folder domain.Folder) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	box := s.emails[userID][folder]
	out := make([]domain.Email, 0, len(box))
	for _, email := range box {
		out = append(out, *email)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// UpdateEmailFields 局部更新邮件的可变字段。
func (s *Store) UpdateEmailFields(ctx context.Context, userID string, folder domain.Folder, emailID string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email, ok := s.emails[userID][folder][emailID]
	if !ok {
		return storage.ErrEmailNotFound
	}

	for key, value := range fields {
		switch key {
		case "read":
			if v, ok := value.(bool); ok {
				email.Read = v
			}
		case "starred":
			if v, ok := value.(bool); ok {
				email.Starred = v
			}
		case "subject":
			if v, ok := value.(string); ok {
				email.Subject = v
			}
		case "body":
			if v, ok := value.(string); ok {
				email.Body = v
			}
		case "preview":
			if v, ok := value.(string); ok {
				email.Preview = v
			}
		}
	}
	return nil
}

// DeleteEmail 删除指定目录中的一封邮件。
func (s *Store) DeleteEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	box := s.emails[userID][folder]
	if _, ok := box[emailID]; !ok {
		return storage.ErrEmailNotFound
	}
	delete(box, emailID)
	return nil
}

// GetSendCount 读取限流计数器当前值，键不存在时返回 0。
func (s *Store) GetSendCount(ctx context.Context, userID, hourBucket string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rateCounts[userID+"/"+hourBucket], nil
}

// SetSendCount 覆盖写限流计数器。
func (s *Store) SetSendCount(ctx context.Context, userID, hourBucket string, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateCounts[userID+"/"+hourBucket] = count
	return nil
}

// SaveDevice 写入设备注册，同一 (userID, deviceID) 覆盖写。
func (s *Store) SaveDevice(ctx context.Context, reg *domain.DeviceRegistration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices, ok := s.devices[reg.UserID]
	if !ok {
		devices = make(map[string]*domain.DeviceRegistration)
		s.devices[reg.UserID] = devices
	}
	clone := *reg
	devices[reg.DeviceID] = &clone
	return nil
}

// ListDevices 列出用户的全部设备注册。
func (s *Store) ListDevices(ctx context.Context, userID string) ([]domain.DeviceRegistration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeviceRegistration, 0, len(s.devices[userID]))
	for _, reg := range s.devices[userID] {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out, nil
}

// DeleteDevice 删除一条设备注册。
func (s *Store) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.devices[userID]
	if _, ok := devices[deviceID]; !ok {
		return storage.ErrDeviceNotFound
	}
	delete(devices, deviceID)
	return nil
}

// SaveNotification 写入一条通知记录。
func (s *Store) SaveNotification(ctx context.Context, record *domain.NotificationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.notifications[record.UserID]
	if !ok {
		records = make(map[string]*domain.NotificationRecord)
		s.notifications[record.UserID] = records
	}
	clone := *record
	records[record.ID] = &clone
	return nil
}

// ListNotifications 列出用户的全部通知记录，按时间戳倒序。
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]domain.NotificationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.NotificationRecord, 0, len(s.notifications[userID]))
	for _, record := range s.notifications[userID] {
		out = append(out, *record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// MarkNotificationRead 将通知标记为已读。
func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.notifications[userID][notificationID]
	if !ok {
		return storage.ErrNotificationNotFound
	}
	record.Read = true
	return nil
}

// AppendActivity 有序追加一条审计日志。
func (s *Store) AppendActivity(ctx context.Context, entry *domain.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	s.activity = append(s.activity, &clone)
	return nil
}

// Activities 返回全部审计日志的快照（测试辅助）。
func (s *Store) Activities() []domain.ActivityLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ActivityLog, 0, len(s.activity))
	for _, entry := range s.activity {
		out = append(out, *entry)
	}
	return out
}

// CacheSession 缓存令牌校验结果。
func (s *Store) CacheSession(ctx context.Context, token string, user *domain.User, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *user
	s.sessions[token] = &sessionEntry{user: &clone, expiresAt: time.Now().Add(ttl)}
	return nil
}

// GetCachedSession 读取缓存的校验结果，过期或不存在时返回 nil。
func (s *Store) GetCachedSession(ctx context.Context, token string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sessions[token]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, nil
	}
	clone := *entry.user
	return &clone, nil
}

// DeleteCachedSession 删除缓存的校验结果（登出时调用）。
func (s *Store) DeleteCachedSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Close 关闭存储（内存实现无事可做）。
func (s *Store) Close() error { return nil }

// Health 健康检查。
func (s *Store) Health() error { return nil }
