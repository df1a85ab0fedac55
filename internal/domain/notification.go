package domain

// EventKind 表示通知事件的已知类型。
type EventKind string

const (
	EventNewEmail EventKind = "new_email" // 收到新邮件
	EventWelcome  EventKind = "welcome"   // 欢迎邮件
	EventTest     EventKind = "test"      // 订阅成功后的测试通知
)

// NotificationPayload 是通知携带的数据载荷。
//
// Kind 为已知事件类型；Data 是开放的字符串扩展字段，
// 推送网关要求所有值均为字符串。
type NotificationPayload struct {
	Kind EventKind         `json:"type"`
	Data map[string]string `json:"data,omitempty"`
}

// Flatten 将载荷展开为推送网关所需的字符串映射。
func (p NotificationPayload) Flatten() map[string]string {
	out := make(map[string]string, len(p.Data)+1)
	for k, v := range p.Data {
		out[k] = v
	}
	out["type"] = string(p.Kind)
	return out
}

// NotificationRecord 表示一条持久化的通知记录。
//
// 每次逻辑事件的分发恰好创建一条记录，与推送是否真正到达任何设备
// 无关；仅轮询的设备依靠这条记录发现通知。记录不会被本系统自动删除。
type NotificationRecord struct {
	ID        string              `json:"id"`
	UserID    string              `json:"userId"`
	Title     string              `json:"title"`
	Body      string              `json:"body"`
	Payload   NotificationPayload `json:"data"`
	Timestamp int64               `json:"timestamp"` // Unix 秒
	Read      bool                `json:"read"`
}
