package service

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/monitoring"
	"roxmail/backend/internal/push"
	"roxmail/backend/internal/storage"
)

// Pusher 推送网关客户端接口。
type Pusher interface {
	Send(ctx context.Context, msg *push.Message) error
}

// Broadcaster 把通知实时广播给已连接的 WebSocket 客户端。
type Broadcaster interface {
	BroadcastToUser(userID string, payload interface{})
}

// maxPushConcurrency 单次分发的最大并发推送数
const maxPushConcurrency = 8

// NotificationService 负责通知的记录、设备订阅与推送分发。
//
// 记录先落盘：一次逻辑事件恰好产生一条通知记录，仅轮询的设备
// 依靠这条记录发现通知。推送只是加速通道，任何推送失败都不会
// 让已落盘的记录消失。
type NotificationService struct {
	devices     storage.DeviceRepository
	records     storage.NotificationRepository
	activity    storage.ActivityLogRepository
	pusher      Pusher
	broadcaster Broadcaster         // 可选
	metrics     *monitoring.Metrics // 可选
	log         *zap.Logger
}

// NewNotificationService 创建通知业务服务。
func NewNotificationService(
	devices storage.DeviceRepository,
	records storage.NotificationRepository,
	activity storage.ActivityLogRepository,
	pusher Pusher,
	log *zap.Logger,
) *NotificationService {
	return &NotificationService{
		devices:  devices,
		records:  records,
		activity: activity,
		pusher:   pusher,
		log:      log,
	}
}

// SetBroadcaster 注入 WebSocket 广播器。
func (s *NotificationService) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// SetMetrics 注入指标收集器。
func (s *NotificationService) SetMetrics(m *monitoring.Metrics) {
	s.metrics = m
}

// Dispatch 为一次逻辑事件创建通知记录并向用户的全部设备扇出。
//
// 返回值表示是否有任何设备实际收到了通知（推送成功，或存在
// 依靠轮询的已启用设备）。记录写入失败是唯一让 Dispatch 整体
// 失败的情况。
func (s *NotificationService) Dispatch(ctx context.Context, userID, title, body string, payload domain.NotificationPayload) (bool, error) {
	record := &domain.NotificationRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		Payload:   payload,
		Timestamp: time.Now().Unix(),
	}
	if err := s.records.SaveNotification(ctx, record); err != nil {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.RecordNotificationStored()
	}

	devices, err := s.devices.ListDevices(ctx, userID)
	if err != nil {
		s.log.Warn("failed to list devices for fan-out",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		devices = nil
	}

	notified := s.fanOut(ctx, userID, record, devices)

	if s.broadcaster != nil {
		s.broadcaster.BroadcastToUser(userID, record)
	}
	return notified, nil
}

// fanOut 并发向可推送设备发送，轮询设备只要已启用即视为可达。
func (s *NotificationService) fanOut(ctx context.Context, userID string, record *domain.NotificationRecord, devices []domain.DeviceRegistration) bool {
	var reached atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxPushConcurrency)

	for i := range devices {
		device := devices[i]
		if !device.Enabled {
			continue
		}
		if !device.PushCapable() {
			reached.Store(true)
			continue
		}

		g.Go(func() error {
			err := s.pusher.Send(gctx, &push.Message{
				Token:   device.Token,
				Title:   record.Title,
				Body:    record.Body,
				Data:    record.Payload.Flatten(),
				Android: push.DefaultAndroidHints(),
				Webpush: push.DefaultWebpushHints(),
			})
			switch {
			case err == nil:
				reached.Store(true)
				s.recordPush("success")
			case errors.Is(err, push.ErrTokenNotRegistered):
				// 网关明确报告令牌失效，删除注册完成自愈
				s.recordPush("stale_token")
				if delErr := s.devices.DeleteDevice(gctx, userID, device.DeviceID); delErr != nil && !errors.Is(delErr, storage.ErrDeviceNotFound) {
					s.log.Warn("failed to remove stale device",
						zap.String("device_id", device.DeviceID),
						zap.Error(delErr),
					)
				} else {
					if s.metrics != nil {
						s.metrics.RecordStaleDeviceRemoved()
					}
					s.log.Info("removed device with stale push token",
						zap.String("user_id", userID),
						zap.String("device_id", device.DeviceID),
					)
				}
			case errors.Is(err, push.ErrGatewayDisabled):
				// 未配置网关不算失败，记录仍可被轮询到
			default:
				s.recordPush("failure")
				s.log.Warn("push delivery failed",
					zap.String("device_id", device.DeviceID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return reached.Load()
}

func (s *NotificationService) recordPush(result string) {
	if s.metrics != nil {
		s.metrics.RecordPushAttempt(result)
	}
}

// SubscribeInput 定义订阅请求。
type SubscribeInput struct {
	DeviceID  string
	Token     string
	Channel   domain.DeviceChannel
	UserAgent string
	IPAddress string
}

// Subscribe 注册或刷新一台设备的通知订阅。
//
// 同一 (用户, 设备) 覆盖写；注册成功后向该设备发一条测试推送，
// 测试推送失败不影响订阅结果。
func (s *NotificationService) Subscribe(ctx context.Context, user *domain.User, input SubscribeInput) (*domain.DeviceRegistration, error) {
	now := time.Now().Unix()
	reg := &domain.DeviceRegistration{
		UserID:       user.ID,
		DeviceID:     input.DeviceID,
		Token:        input.Token,
		Channel:      input.Channel,
		Enabled:      true,
		UserAgent:    domain.TruncateUserAgent(input.UserAgent),
		SubscribedAt: now,
		LastActive:   now,
		IPAddress:    input.IPAddress,
	}
	if err := s.devices.SaveDevice(ctx, reg); err != nil {
		return nil, err
	}

	if err := s.activity.AppendActivity(ctx, &domain.ActivityLog{
		Action:    domain.ActionSubscribed,
		UserID:    user.ID,
		Timestamp: now,
		IPAddress: input.IPAddress,
	}); err != nil {
		s.log.Warn("failed to append activity log", zap.Error(err))
	}

	if reg.PushCapable() {
		err := s.pusher.Send(ctx, &push.Message{
			Token:   reg.Token,
			Title:   "Roxmail Notifications Enabled",
			Body:    "You'll now receive push notifications for new emails!",
			Data:    domain.NotificationPayload{Kind: domain.EventTest}.Flatten(),
			Android: push.DefaultAndroidHints(),
			Webpush: push.DefaultWebpushHints(),
		})
		if err != nil && !errors.Is(err, push.ErrGatewayDisabled) {
			s.log.Warn("test push failed after subscribe",
				zap.String("device_id", reg.DeviceID),
				zap.Error(err),
			)
		}
	}
	return reg, nil
}

// List 列出用户的全部通知记录，按时间戳倒序。
func (s *NotificationService) List(ctx context.Context, userID string) ([]domain.NotificationRecord, error) {
	records, err := s.records.ListNotifications(ctx, userID)
	if err != nil {
		return nil, err
	}
	// 部分后端按键扫描返回，顺序在这里统一
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp > records[j].Timestamp })
	return records, nil
}

// MarkRead 将通知标记为已读。
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID string) error {
	err := s.records.MarkNotificationRead(ctx, userID, notificationID)
	if errors.Is(err, storage.ErrNotificationNotFound) {
		return ErrNotificationNotFound
	}
	return err
}
