// Package model はドメインモデルを定義する。
package model

import "time"

// User はサービス利用ユーザーを表す。
// 認証プロバイダーのsubject（Auth0ID）ごとにちょうど1レコード存在する。
type User struct {
	ID        string
	Auth0ID   string
	Email     string
	Name      string
	Picture   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Session はユーザーのログインセッションを表す。
// Claimsにはログイン時に検証済みのIDトークンのクレーム（JSON）を保持する。
type Session struct {
	ID        string
	UserID    string
	Claims    []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}
