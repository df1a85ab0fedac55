package httptransport

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"roxmail/backend/internal/domain"
	"roxmail/backend/internal/identity"
	"roxmail/backend/internal/service"
)

// 通用错误消息，文案与前端展示约定一致
const (
	MsgNotAuthenticated       = "Not authenticated"
	MsgInvalidRequest         = "Invalid request"
	MsgRecipientRequired      = "Recipient email is required"
	MsgInvalidRecipient       = "Invalid recipient email format"
	MsgSubjectTooLong         = "Subject too long (max 200 characters)"
	MsgBodyTooLong            = "Message too long (max 50,000 characters)"
	MsgRateLimited            = "Rate limit exceeded. Please try again later."
	MsgAccessDenied           = "Access denied"
	MsgEmailNotFound          = "Email not found"
	MsgNotificationNotFound   = "Notification not found"
	MsgTokenRequired          = "Token required"
	MsgInvalidToken           = "Invalid token"
	MsgSendFailed             = "Failed to send email"
	MsgFetchFailed            = "Failed to fetch email"
	MsgUpdateFailed           = "Failed to update email"
	MsgDeleteFailed           = "Failed to delete emails"
	MsgSubscribeFailed        = "Failed to subscribe"
	MsgMarkNotifFailed        = "Failed to mark notification as read"
	MsgWelcomeFailed          = "Failed to send welcome email"
	MsgCleanupFailed          = "Failed to clean emails"
	MsgAuthServiceUnavailable = "Authentication service unavailable"
)

// RespondError 把业务错误映射为 HTTP 响应。
//
// fallback 是未识别错误的兜底文案，对应 500。
func RespondError(c *gin.Context, err error, fallback string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		Fail(c, http.StatusBadRequest, validationMessage(verr))
	case errors.Is(err, service.ErrRateLimited):
		Fail(c, http.StatusTooManyRequests, MsgRateLimited)
	case errors.Is(err, service.ErrAccessDenied):
		Fail(c, http.StatusForbidden, MsgAccessDenied)
	case errors.Is(err, service.ErrEmailNotFound):
		Fail(c, http.StatusNotFound, MsgEmailNotFound)
	case errors.Is(err, service.ErrNotificationNotFound):
		Fail(c, http.StatusNotFound, MsgNotificationNotFound)
	case errors.Is(err, identity.ErrInvalidToken):
		Fail(c, http.StatusUnauthorized, MsgInvalidToken)
	default:
		Fail(c, http.StatusInternalServerError, fallback)
	}
}

// validationMessage 把字段校验错误翻译成前端文案。
func validationMessage(err *domain.ValidationError) string {
	switch err.Field {
	case "to":
		if strings.Contains(err.Reason, "required") {
			return MsgRecipientRequired
		}
		return MsgInvalidRecipient
	case "subject":
		return MsgSubjectTooLong
	case "body":
		return MsgBodyTooLong
	}
	return MsgInvalidRequest
}
