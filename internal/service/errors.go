package service

import "errors"

// 业务层哨兵错误，由 HTTP 层映射为对应的状态码与提示。
var (
	// ErrRateLimited 当前小时的发送配额已用完
	ErrRateLimited = errors.New("hourly send limit reached")
	// ErrAccessDenied 调用方不拥有目标邮件
	ErrAccessDenied = errors.New("access denied")
	// ErrEmailNotFound 两个目录里都找不到目标邮件
	ErrEmailNotFound = errors.New("email not found")
	// ErrNotificationNotFound 通知记录不存在
	ErrNotificationNotFound = errors.New("notification not found")
)
