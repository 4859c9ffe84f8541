// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 認証そのものは外部のIdPが担い、ここでは二要素認証の設定状況のみを保持する。
type User struct {
	ID                 string
	Email              string
	Name               string
	TwoFactorEnabled   bool // 二要素認証を有効にしているか
	TwoFactorConfirmed bool // TOTPデバイスの登録が完了しているか
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NeedsTwoFactorSetup は二要素認証が有効だがセットアップが未完了かを返す。
func (u *User) NeedsTwoFactorSetup() bool {
	return u.TwoFactorEnabled && !u.TwoFactorConfirmed
}

// LoginSession はユーザーのログインセッションを表す。
// Cookieのsession_idで参照される。
type LoginSession struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
