package security

import "testing"

func TestSanitizeText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Ada Lovelace", "Ada Lovelace"},
		{"タグが除去される", "<b>Ada</b> Lovelace", "Ada Lovelace"},
		{"scriptは中身ごと除去される", "<script>alert(1)</script>Bob", "Bob"},
		{"styleは中身ごと除去される", "<style>body{}</style>Carol", "Carol"},
		{"イベント属性を持つタグも除去される", `<img src=x onerror="alert(1)">Dan`, "Dan"},
		{"アンパサンドはエスケープされない", "Tom & Jerry", "Tom & Jerry"},
		{"連続する空白がまとめられる", "  Grace \n\t Hopper  ", "Grace Hopper"},
		{"制御文字が除去される", "Ali\x07ce", "Ali ce"},
		{"日本語の名前", "<p>山田 太郎</p>", "山田 太郎"},
		{"空文字列", "", ""},
		{"タグのみ", "<div></div>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	inputs := []string{
		"<b>Ada</b>   Lovelace",
		"Tom & Jerry",
		"<script>x</script>Bob",
	}
	for _, in := range inputs {
		once := sanitizer.SanitizeText(in)
		twice := sanitizer.SanitizeText(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

// compile-time interface check
var _ TextSanitizerService = NewTextSanitizer()
