package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCaptionSanitizer_Sanitize(t *testing.T) {
	s := NewCaptionSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "空文字列", input: "", want: ""},
		{name: "プレーンテキストはそのまま", input: "夕焼けの写真", want: "夕焼けの写真"},
		{name: "タグを除去", input: "<b>太字</b>と<i>斜体</i>", want: "太字と斜体"},
		{name: "scriptは中身ごと除去", input: "前<script>alert(1)</script>後", want: "前後"},
		{name: "アンパサンドを保持", input: "Tom & Jerry", want: "Tom & Jerry"},
		{name: "引用符を保持", input: `"quoted" 'single'`, want: `"quoted" 'single'`},
		{name: "前後の空白を除去", input: "  \n caption \t ", want: "caption"},
		{name: "改行を正規化", input: "line1\r\nline2", want: "line1\nline2"},
		{name: "ハッシュタグを保持", input: "#nostr #golang", want: "#nostr #golang"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCaptionSanitizer_Truncates(t *testing.T) {
	s := NewCaptionSanitizer()
	long := strings.Repeat("あ", MaxCaptionRunes+10)

	got := s.Sanitize(long)
	if utf8.RuneCountInString(got) != MaxCaptionRunes {
		t.Errorf("rune count = %d, want %d", utf8.RuneCountInString(got), MaxCaptionRunes)
	}
	if !utf8.ValidString(got) {
		t.Error("truncated caption should be valid UTF-8")
	}
}

func TestCaptionSanitizer_Idempotent(t *testing.T) {
	s := NewCaptionSanitizer()
	input := "<p>旅行 & 写真</p>"

	once := s.Sanitize(input)
	if twice := s.Sanitize(once); twice != once {
		t.Errorf("Sanitize is not idempotent: %q vs %q", once, twice)
	}
}
