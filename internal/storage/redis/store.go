package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"roxmail/backend/internal/config"
	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/storage"
)

// 键空间布局：
//
//	mail:<uid>:<folder>:<emailID>   JSON 序列化的邮件
//	rate:<uid>:<hourBucket>         限流计数器，2 小时过期
//	device:<uid>:<deviceID>         JSON 序列化的设备注册
//	notif:<uid>:<notificationID>    JSON 序列化的通知记录
//	activity:<uid>                  审计日志列表（LPUSH，保留最近 1000 条）
//	session:<token>                 缓存的令牌校验结果
const (
	emailKeyPrefix    = "mail:"
	rateKeyPrefix     = "rate:"
	deviceKeyPrefix   = "device:"
	notifKeyPrefix    = "notif:"
	activityKeyPrefix = "activity:"
	sessionKeyPrefix  = "session:"

	rateBucketTTL   = 2 * time.Hour
	activityMaxKeep = 1000
)

// Store 基于 Redis 的生产存储后端。
type Store struct {
	rdb *goredis.Client
	log *zap.Logger
}

// NewStore 连接 Redis 并返回存储实例。
func NewStore(cfg *config.RedisConfig, log *zap.Logger) (*Store, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("connected to Redis",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
	)

	return &Store{rdb: rdb, log: log}, nil
}

func emailKey(userID string, folder domain.Folder, emailID string) string {
	return emailKeyPrefix + userID + ":" + string(folder) + ":" + emailID
}

// SaveEmail 序列化邮件并覆盖写。
func (s *Store) SaveEmail(ctx context.Context, userID string, folder domain.Folder, email *domain.Email) error {
	data, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("failed to marshal email: %w", err)
	}
	return s.rdb.Set(ctx, emailKey(userID, folder, email.ID), data, 0).Err()
}

// GetEmail 读取并反序列化一封邮件。
func (s *Store) GetEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) (*domain.Email, error) {
	data, err := s.rdb.Get(ctx, emailKey(userID, folder, emailID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, storage.ErrEmailNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get email: %w", err)
	}

	var email domain.Email
	if err := json.Unmarshal(data, &email); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email: %w", err)
	}
	return &email, nil
}

// ListEmails 扫描目录前缀下的全部邮件。
//
// 使用 SCAN 而不是 KEYS，避免阻塞 Redis。
func (s *Store) ListEmails(ctx context.Context, userID string, folder domain.Folder) ([]domain.Email, error) {
	pattern := emailKeyPrefix + userID + ":" + string(folder) + ":*"

	var out []domain.Email
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue // 扫描与读取之间被删除
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get email: %w", err)
		}
		var email domain.Email
		if err := json.Unmarshal(data, &email); err != nil {
			s.log.Warn("skipping malformed email record", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		out = append(out, email)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan emails: %w", err)
	}
	return out, nil
}

// UpdateEmailFields 读取-改写-写回邮件的可变字段。
func (s *Store) UpdateEmailFields(ctx context.Context, userID string, folder domain.Folder, emailID string, fields map[string]interface{}) error {
	email, err := s.GetEmail(ctx, userID, folder, emailID)
	if err != nil {
		return err
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
	return s.SaveEmail(ctx, userID, folder, email)
}

// DeleteEmail 删除一封邮件。
func (s *Store) DeleteEmail(ctx context.Context, userID string, folder domain.Folder, emailID string) error {
	deleted, err := s.rdb.Del(ctx, emailKey(userID, folder, emailID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete email: %w", err)
	}
	if deleted == 0 {
		return storage.ErrEmailNotFound
	}
	return nil
}

// GetSendCount 读取限流计数器，键不存在时返回 0。
func (s *Store) GetSendCount(ctx context.Context, userID, hourBucket string) (int64, error) {
	val, err := s.rdb.Get(ctx, rateKeyPrefix+userID+":"+hourBucket).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get send count: %w", err)
	}
	count, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed send count %q: %w", val, err)
	}
	return count, nil
}

// SetSendCount 覆盖写限流计数器，小时桶两小时后自动过期。
func (s *Store) SetSendCount(ctx context.Context, userID, hourBucket string, count int64) error {
	return s.rdb.Set(ctx, rateKeyPrefix+userID+":"+hourBucket, count, rateBucketTTL).Err()
}

// storedDevice 在域类型之外补上对前端隐藏、但必须持久化的字段。
type storedDevice struct {
	domain.DeviceRegistration
	Token     string `json:"token"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// SaveDevice 写入设备注册。
func (s *Store) SaveDevice(ctx context.Context, reg *domain.DeviceRegistration) error {
	data, err := json.Marshal(storedDevice{DeviceRegistration: *reg, Token: reg.Token, IPAddress: reg.IPAddress})
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}
	return s.rdb.Set(ctx, deviceKeyPrefix+reg.UserID+":"+reg.DeviceID, data, 0).Err()
}

// ListDevices 扫描用户的全部设备注册。
func (s *Store) ListDevices(ctx context.Context, userID string) ([]domain.DeviceRegistration, error) {
	var out []domain.DeviceRegistration
	iter := s.rdb.Scan(ctx, 0, deviceKeyPrefix+userID+":*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get device: %w", err)
		}
		var stored storedDevice
		if err := json.Unmarshal(data, &stored); err != nil {
			s.log.Warn("skipping malformed device record", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		reg := stored.DeviceRegistration
		reg.Token = stored.Token
		reg.IPAddress = stored.IPAddress
		out = append(out, reg)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan devices: %w", err)
	}
	return out, nil
}

// DeleteDevice 删除一条设备注册。
func (s *Store) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	deleted, err := s.rdb.Del(ctx, deviceKeyPrefix+userID+":"+deviceID).Result()
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	if deleted == 0 {
		return storage.ErrDeviceNotFound
	}
	return nil
}

// SaveNotification 写入一条通知记录。
func (s *Store) SaveNotification(ctx context.Context, record *domain.NotificationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.rdb.Set(ctx, notifKeyPrefix+record.UserID+":"+record.ID, data, 0).Err()
}

// ListNotifications 扫描用户的全部通知记录。
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]domain.NotificationRecord, error) {
	var out []domain.NotificationRecord
	iter := s.rdb.Scan(ctx, 0, notifKeyPrefix+userID+":*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get notification: %w", err)
		}
		var record domain.NotificationRecord
		if err := json.Unmarshal(data, &record); err != nil {
			s.log.Warn("skipping malformed notification record", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		out = append(out, record)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan notifications: %w", err)
	}
	return out, nil
}

// MarkNotificationRead 将通知标记为已读。
func (s *Store) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	key := notifKeyPrefix + userID + ":" + notificationID
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return storage.ErrNotificationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get notification: %w", err)
	}

	var record domain.NotificationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	record.Read = true

	updated, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return s.rdb.Set(ctx, key, updated, 0).Err()
}

// AppendActivity 追加审计日志并裁剪旧条目。
func (s *Store) AppendActivity(ctx context.Context, entry *domain.ActivityLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal activity log: %w", err)
	}
	key := activityKeyPrefix + entry.UserID
	pipe := s.rdb.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, activityMaxKeep-1)
	_, err = pipe.Exec(ctx)
	return err
}

// CacheSession 缓存令牌校验结果。
func (s *Store) CacheSession(ctx context.Context, token string, user *domain.User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal session user: %w", err)
	}
	return s.rdb.Set(ctx, sessionKeyPrefix+token, data, ttl).Err()
}

// GetCachedSession 读取缓存的校验结果，未命中时返回 nil。
func (s *Store) GetCachedSession(ctx context.Context, token string) (*domain.User, error) {
	data, err := s.rdb.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached session: %w", err)
	}

	var user domain.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session user: %w", err)
	}
	return &user, nil
}

// DeleteCachedSession 删除缓存的校验结果。
func (s *Store) DeleteCachedSession(ctx context.Context, token string) error {
	return s.rdb.Del(ctx, sessionKeyPrefix+token).Err()
}

// Close 关闭 Redis 连接。
func (s *Store) Close() error {
	if err := s.rdb.Close(); err != nil {
		s.log.Error("failed to close Redis connection", zap.Error(err))
		return err
	}
	s.log.Info("Redis connection closed")
	return nil
}

// Health 检查 Redis 连通性。
func (s *Store) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
