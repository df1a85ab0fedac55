package domain

// Folder 表示邮件所在的邮箱目录。
type Folder string

const (
	FolderInbox Folder = "inbox" // 收件箱
	FolderSent  Folder = "sent"  // 已发送
)

// Email 表示一封用户邮件的业务实体。
//
// 邮件写入后除 Read、Starred 标志以及清理修复（Sanitizer）外不可变。
// 发件人副本与收件人副本是两份独立的数据，写入后各自演化互不影响。
type Email struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	SenderName string `json:"senderName"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Preview    string `json:"preview"`   // 正文前 100 字符摘要
	Timestamp  int64  `json:"timestamp"` // Unix 秒
	Time       string `json:"time"`      // 展示用时间，如 "03:04 PM"
	Date       string `json:"date"`      // 展示用日期，如 "2024-01-02"
	Read       bool   `json:"read"`
	Starred    bool   `json:"starred"`
	IPAddress  string `json:"-"` // 来源 IP，不返回给前端
	UserAgent  string `json:"-"` // 截断后的 User-Agent
}

// EmailSummary 是邮件列表场景的轻量视图。
type EmailSummary struct {
	ID         string `json:"id"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	SenderName string `json:"senderName,omitempty"`
	Subject    string `json:"subject"`
	Preview    string `json:"preview"`
	Time       string `json:"time"`
	Date       string `json:"date"`
	Timestamp  int64  `json:"timestamp"`
	Read       bool   `json:"read"`
	Starred    bool   `json:"starred"`
}

// Summary 生成邮件的列表视图。
func (e *Email) Summary() EmailSummary {
	return EmailSummary{
		ID:         e.ID,
		From:       e.From,
		To:         e.To,
		SenderName: e.SenderName,
		Subject:    e.Subject,
		Preview:    e.Preview,
		Time:       e.Time,
		Date:       e.Date,
		Timestamp:  e.Timestamp,
		Read:       e.Read,
		Starred:    e.Starred,
	}
}

// Owns 判断给定地址是否拥有这封邮件。
//
// 收件箱副本按 to 判定，已发送副本按 from 判定；目录归属不明确时
// 退化为 to 或 from 任一匹配即可。
func (e *Email) Owns(folder Folder, address string) bool {
	switch folder {
	case FolderInbox:
		if e.To == address {
			return true
		}
	case FolderSent:
		if e.From == address {
			return true
		}
	}
	return e.To == address || e.From == address
}
