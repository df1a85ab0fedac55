package domain

// User 表示身份服务返回的用户记录。
//
// 身份校验完全委托给外部身份服务，本系统只消费校验结果，
// 不保存密码等任何凭据信息。
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// DisplayName 返回用户的展示名称。
func (u *User) DisplayName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
