package domain

import "github.com/shopspring/decimal"

// User 服务端返回的用户资料
type User struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Email     string          `json:"email"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt Timestamp       `json:"created_at"`
}

// Session 登录会话：Credential 与 User 同时存在或同时为空
type Session struct {
	Credential string
	User       *User
}

// Active 会话是否处于登录状态
func (s *Session) Active() bool {
	return s != nil && s.Credential != "" && s.User != nil
}

// Clone 返回副本，调用方修改不会影响 Session Store
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := &Session{Credential: s.Credential}
	if s.User != nil {
		u := *s.User
		out.User = &u
	}
	return out
}
