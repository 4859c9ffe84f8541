// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザーが入力する自由記述（文字起こし・話速コメント）から
// HTMLマークアップを取り除き、プレーンテキストとして保存できる形に整える。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は自由記述テキストのサニタイズ機能のインターフェース。
// セッションの作成・更新・一括更新で保存前に使用される。
type TextSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// script・styleタグは中身ごと除去する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした実体参照は元の文字に戻す。出力時のエスケープはテンプレート側で行う。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
