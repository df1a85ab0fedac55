package domain

// DeviceChannel 表示设备的通知通道类型。
type DeviceChannel string

const (
	// ChannelPush 可通过推送网关直达的设备（持有网关令牌）
	ChannelPush DeviceChannel = "fcm"
	// ChannelPoll 仅依赖轮询通知记录的设备（浏览器等）
	ChannelPoll DeviceChannel = "browser"
)

// DeviceRegistration 表示一个用户设备的通知订阅。
//
// 同一用户可以注册多台设备（按 DeviceID 区分）；同一设备的并发订阅
// 采用覆盖写（last-write-wins），不做合并。推送网关明确报告令牌失效时
// 由分发器删除该注册。
type DeviceRegistration struct {
	UserID       string        `json:"userId"`
	DeviceID     string        `json:"deviceId"`
	Token        string        `json:"-"` // 推送令牌不返回给前端
	Channel      DeviceChannel `json:"type"`
	Enabled      bool          `json:"notificationsEnabled"`
	UserAgent    string        `json:"userAgent"`
	SubscribedAt int64         `json:"subscribedAt"` // Unix 秒
	LastActive   int64         `json:"lastActive"`   // Unix 秒
	IPAddress    string        `json:"-"`
}

// PushCapable 判断设备是否可以走推送网关。
func (d *DeviceRegistration) PushCapable() bool {
	return d.Channel == ChannelPush && d.Token != ""
}
