// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザー（認証主体）を表す。
// Emailは小文字に正規化された一意な値。
// PasswordHashは外部に返さない。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Public はPasswordHashを取り除いたコピーを返す。
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.PasswordHash = ""
	return &c
}
