// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TitleSanitizer はユーザーが入力したタスクのタイトルからマークアップを除去する。
// bluemondayのStrictPolicyを使用し、全てのタグと属性を取り除いたプレーンテキストのみを残す。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TitleSanitizer はタイトル文字列のサニタイズ機能のインターフェースを定義する。
// タスクの作成時、保存前に使用される。
type TitleSanitizer interface {
	// Sanitize はマークアップを除去し、前後の空白を取り除いたテキストを返す。
	// script, styleタグは中身ごと除去される。
	// HTMLエンティティはデコードした文字で返す（"a &amp; b" は "a & b"）。
	// 空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// titleSanitizer はTitleSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに使用できる。
type titleSanitizer struct {
	policy *bluemonday.Policy
}

// NewTitleSanitizer はTitleSanitizerの新しいインスタンスを生成する。
func NewTitleSanitizer() *titleSanitizer {
	return &titleSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はマークアップを除去したタイトルを返す。
func (s *titleSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}
