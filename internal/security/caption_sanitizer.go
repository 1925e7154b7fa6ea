package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxCaptionRunes はキャプションの最大文字数。
const MaxCaptionRunes = 2000

// CaptionSanitizer は投稿キャプションからマークアップを取り除き、プレーンテキストにする。
// キャプションはレコード本文にそのまま入るため、HTMLは一切許可しない。
type CaptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewCaptionSanitizer はCaptionSanitizerを生成する。
func NewCaptionSanitizer() *CaptionSanitizer {
	return &CaptionSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープされた文字を戻したうえで前後の空白を取り除く。
// MaxCaptionRunesを超える部分は切り捨てる。
func (s *CaptionSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))

	if utf8.RuneCountInString(text) > MaxCaptionRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:MaxCaptionRunes]))
	}
	return text
}
