package domain

import (
	"fmt"
	"regexp"
)

// 内容长度上限
const (
	MaxSubjectLength   = 200   // 主题最大字符数
	MaxBodyLength      = 50000 // 正文最大字符数
	MaxUserAgentLength = 200   // User-Agent 截断长度
	PreviewLength      = 100   // 摘要截取长度
)

// emailPattern 标准邮箱地址格式
var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// ValidationError 表示带字段信息的校验错误。
type ValidationError struct {
	Field  string // 出错的字段名
	Reason string // 具体原因
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError 创建字段级校验错误。
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// ValidateAddress 校验邮箱地址格式。
func ValidateAddress(address string) error {
	if address == "" {
		return NewValidationError("to", "recipient email is required")
	}
	if !emailPattern.MatchString(address) {
		return NewValidationError("to", "invalid recipient email format")
	}
	return nil
}

// ValidateSubject 校验主题长度。
func ValidateSubject(subject string) error {
	if len([]rune(subject)) > MaxSubjectLength {
		return NewValidationError("subject", fmt.Sprintf("subject too long (max %d characters)", MaxSubjectLength))
	}
	return nil
}

// ValidateBody 校验正文长度。
func ValidateBody(body string) error {
	if len([]rune(body)) > MaxBodyLength {
		return NewValidationError("body", fmt.Sprintf("message too long (max %d characters)", MaxBodyLength))
	}
	return nil
}

// TruncateUserAgent 截断 User-Agent 到存储允许的长度。
func TruncateUserAgent(ua string) string {
	if len(ua) > MaxUserAgentLength {
		return ua[:MaxUserAgentLength]
	}
	return ua
}

// MakePreview 从（已清理的）正文生成摘要。
//
// 正文不超过 100 字符时原样返回，超过时截断并追加省略号。
func MakePreview(body string) string {
	runes := []rune(body)
	if len(runes) <= PreviewLength {
		return body
	}
	return string(runes[:PreviewLength]) + "..."
}
