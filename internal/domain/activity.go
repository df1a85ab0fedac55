package domain

// ActivityAction 表示审计日志记录的动作类型。
type ActivityAction string

const (
	ActionEmailSent      ActivityAction = "email_sent"
	ActionEmailsAccessed ActivityAction = "emails_accessed"
	ActionEmailRead      ActivityAction = "email_read"
	ActionEmailDeleted   ActivityAction = "email_deleted"
	ActionSubscribed     ActivityAction = "notifications_subscribed"
)

// ActivityLog 表示一条审计日志。
//
// 每次改变状态的操作（发送、读取、删除、订阅）之后追加一条，
// 追加失败不影响主流程。
type ActivityLog struct {
	Action    ActivityAction `json:"action"`
	UserID    string         `json:"userId"`
	EmailID   string         `json:"emailId,omitempty"`
	Recipient string         `json:"recipient,omitempty"`
	Count     int            `json:"count,omitempty"`
	Timestamp int64          `json:"timestamp"` // Unix 秒
	IPAddress string         `json:"ipAddress"`
}
