package httptransport

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/middleware"
	"roxmail/backend/internal/service"
)

// NotificationHandler 处理通知订阅与查询请求。
type NotificationHandler struct {
	notifications *service.NotificationService
	log           *zap.Logger
}

// NewNotificationHandler 创建通知处理器。
func NewNotificationHandler(notifications *service.NotificationService, log *zap.Logger) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, log: log}
}

type subscribeRequest struct {
	Token     string `json:"token"`
	Type      string `json:"type"`
	DeviceID  string `json:"deviceId"`
	UserAgent string `json:"userAgent"`
}

// Subscribe 注册当前设备的通知订阅。
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}
	if req.Token == "" {
		Fail(c, http.StatusBadRequest, MsgTokenRequired)
		return
	}

	channel := domain.ChannelPoll
	if req.Type == string(domain.ChannelPush) {
		channel = domain.ChannelPush
	}

	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = "unknown"
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request.UserAgent()
	}

	_, err := h.notifications.Subscribe(c.Request.Context(), user, service.SubscribeInput{
		DeviceID:  deviceID,
		Token:     req.Token,
		Channel:   channel,
		UserAgent: userAgent,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		h.log.Error("failed to subscribe device", zap.Error(err))
		Fail(c, http.StatusInternalServerError, MsgSubscribeFailed)
		return
	}
	OK(c, gin.H{"success": true, "message": "Notifications enabled successfully"})
}

// notificationView 是通知列表的前端视图。
type notificationView struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	Timestamp int64             `json:"timestamp"`
}

// List 列出当前用户的未读通知，按时间戳倒序。
//
// 查询失败时返回空列表而不是错误。
func (h *NotificationHandler) List(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	records, err := h.notifications.List(c.Request.Context(), user.ID)
	if err != nil {
		h.log.Error("failed to list notifications", zap.Error(err))
		records = nil
	}

	views := make([]notificationView, 0, len(records))
	for i := range records {
		record := &records[i]
		if record.Read {
			continue
		}
		views = append(views, notificationView{
			ID:        record.ID,
			Title:     record.Title,
			Body:      record.Body,
			Data:      record.Payload.Flatten(),
			Timestamp: record.Timestamp,
		})
	}
	OK(c, gin.H{"notifications": views})
}

type markNotificationReadRequest struct {
	NotificationID string `json:"notificationId"`
}

// MarkRead 将通知标记为已读。
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	var req markNotificationReadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.NotificationID == "" {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	if err := h.notifications.MarkRead(c.Request.Context(), user.ID, req.NotificationID); err != nil {
		RespondError(c, err, MsgMarkNotifFailed)
		return
	}
	OK(c, gin.H{"success": true})
}
