package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/middleware"
	"roxmail/backend/internal/service"
)

// MailHandler 处理邮件相关的 HTTP 请求。
type MailHandler struct {
	delivery *service.DeliveryService
	mailbox  *service.MailboxService
	welcome  *service.WelcomeService
	log      *zap.Logger
}

// NewMailHandler 创建邮件处理器。
func NewMailHandler(delivery *service.DeliveryService, mailbox *service.MailboxService, welcome *service.WelcomeService, log *zap.Logger) *MailHandler {
	return &MailHandler{
		delivery: delivery,
		mailbox:  mailbox,
		welcome:  welcome,
		log:      log,
	}
}

type sendEmailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Message string `json:"message"` // 旧版字段，body 缺省时回退
}

// SendEmail 发送一封邮件。
func (h *MailHandler) SendEmail(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	var req sendEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	body := req.Body
	if body == "" {
		body = req.Message
	}

	result, err := h.delivery.Send(c.Request.Context(), user, service.DeliveryInput{
		To:        strings.TrimSpace(req.To),
		Subject:   strings.TrimSpace(req.Subject),
		Body:      strings.TrimSpace(body),
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		RespondError(c, err, MsgSendFailed)
		return
	}

	resp := gin.H{
		"success": true,
		"message": "Email sent successfully",
		"emailId": result.EmailID,
	}
	if len(result.Degraded) > 0 {
		resp["degraded"] = result.Degraded
	}
	OK(c, resp)
}

// ListInbox 列出收件箱邮件。
//
// 列表读取失败时返回空列表而不是错误，前端据此渲染空收件箱。
func (h *MailHandler) ListInbox(c *gin.Context) {
	h.listFolder(c, domain.FolderInbox)
}

// ListSent 列出已发送邮件。
func (h *MailHandler) ListSent(c *gin.Context) {
	h.listFolder(c, domain.FolderSent)
}

func (h *MailHandler) listFolder(c *gin.Context, folder domain.Folder) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	emails, err := h.mailbox.List(c.Request.Context(), user, folder, c.ClientIP())
	if err != nil {
		h.log.Error("failed to list emails",
			zap.String("folder", string(folder)),
			zap.Error(err),
		)
		emails = []domain.EmailSummary{}
	}
	OK(c, gin.H{"emails": emails})
}

// GetEmail 读取单封邮件全文。
func (h *MailHandler) GetEmail(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	emailID := c.Param("emailId")
	if emailID == "" || len(emailID) > 100 {
		Fail(c, http.StatusBadRequest, "Invalid email ID")
		return
	}

	email, err := h.mailbox.Fetch(c.Request.Context(), user, emailID, c.ClientIP())
	if err != nil {
		RespondError(c, err, MsgFetchFailed)
		return
	}
	OK(c, gin.H{"success": true, "email": email})
}

type starEmailRequest struct {
	EmailID string `json:"emailId"`
	Starred *bool  `json:"starred"` // 缺省视为加星
}

// StarEmail 设置或取消星标。
func (h *MailHandler) StarEmail(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	var req starEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.EmailID == "" {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	starred := true
	if req.Starred != nil {
		starred = *req.Starred
	}

	if err := h.mailbox.Star(c.Request.Context(), user, req.EmailID, starred); err != nil {
		RespondError(c, err, MsgUpdateFailed)
		return
	}
	OK(c, gin.H{"success": true})
}

type markReadRequest struct {
	EmailID string `json:"emailId"`
}

// MarkRead 将邮件标记为已读。
func (h *MailHandler) MarkRead(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	var req markReadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.EmailID == "" {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	if err := h.mailbox.MarkRead(c.Request.Context(), user, req.EmailID, true); err != nil {
		RespondError(c, err, MsgUpdateFailed)
		return
	}
	OK(c, gin.H{"success": true})
}

type deleteEmailRequest struct {
	EmailIDs []string `json:"emailIds"`
}

// DeleteEmail 批量删除邮件。
//
// 只删除调用方自己的副本，已经不存在的邮件跳过。
func (h *MailHandler) DeleteEmail(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	var req deleteEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	for _, emailID := range req.EmailIDs {
		err := h.mailbox.Delete(c.Request.Context(), user, emailID, c.ClientIP())
		if err != nil && !errors.Is(err, service.ErrEmailNotFound) {
			RespondError(c, err, MsgDeleteFailed)
			return
		}
	}
	OK(c, gin.H{"success": true})
}

// SendWelcomeEmail 为当前用户投递欢迎邮件，重复调用幂等。
func (h *MailHandler) SendWelcomeEmail(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	result, err := h.welcome.Deliver(c.Request.Context(), user)
	if err != nil {
		RespondError(c, err, MsgWelcomeFailed)
		return
	}

	resp := gin.H{"success": true, "emailId": result.EmailID}
	if result.AlreadyExists {
		resp["message"] = "Welcome email already sent"
	}
	OK(c, resp)
}

// CleanupEmails 修复历史邮件中残留的合并冲突标记。
func (h *MailHandler) CleanupEmails(c *gin.Context) {
	user, ok := middleware.GetUser(c)
	if !ok {
		Fail(c, http.StatusUnauthorized, MsgNotAuthenticated)
		return
	}

	result, err := h.mailbox.Cleanup(c.Request.Context(), user)
	if err != nil {
		RespondError(c, err, MsgCleanupFailed)
		return
	}
	OK(c, gin.H{"success": true, "cleaned": result.Repaired, "scanned": result.Scanned})
}
