package security

import (
	"strings"
	"testing"
)

func TestSanitize_AllowedMarkupSurvives(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name         string
		input        string
		wantContains []string
	}{
		{"段落と強調", "<p>今日は<strong>晴れ</strong>でした</p>", []string{"<p>", "<strong>晴れ</strong>", "</p>"}},
		{"改行", "1行目<br>2行目", []string{"<br>", "1行目", "2行目"}},
		{"リスト", "<ul><li>a</li></ul><ol><li>b</li></ol>", []string{"<ul>", "<ol>", "<li>a</li>", "<li>b</li>"}},
		{"引用とコード", "<blockquote>引用</blockquote><pre><code>x := 1</code></pre>", []string{"<blockquote>引用</blockquote>", "<pre><code>"}},
		{"https画像", `<img src="https://example.com/a.png" alt="写真">`, []string{"<img", "https://example.com/a.png", "写真"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, want := range tt.wantContains {
				if !strings.Contains(got, want) {
					t.Errorf("Sanitize(%q) = %q, expected to contain %q", tt.input, got, want)
				}
			}
		})
	}
}

func TestSanitize_DangerousMarkupRemoved(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		name       string
		input      string
		wantAbsent []string
		wantKept   string
	}{
		{"script", `<p>本文</p><script>alert('xss')</script>`, []string{"<script", "alert"}, "本文"},
		{"iframe", `<p>本文</p><iframe src="https://evil.example"></iframe>`, []string{"<iframe", "evil.example"}, "本文"},
		{"style", `<p>本文</p><style>body{display:none}</style>`, []string{"<style", "display:none"}, "本文"},
		{"onイベント属性", `<p onclick="steal()">本文</p>`, []string{"onclick", "steal"}, "本文"},
		{"http画像", `<img src="http://example.com/a.png">`, []string{"http://example.com/a.png"}, ""},
		{"javascriptリンク", `<a href="javascript:alert(1)">リンク</a>`, []string{"javascript:"}, "リンク"},
		{"許可外タグ", `<div><span>本文</span></div>`, []string{"<div", "<span"}, "本文"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizer.Sanitize(tt.input)
			for _, absent := range tt.wantAbsent {
				if strings.Contains(got, absent) {
					t.Errorf("Sanitize(%q) = %q, should not contain %q", tt.input, got, absent)
				}
			}
			if tt.wantKept != "" && !strings.Contains(got, tt.wantKept) {
				t.Errorf("Sanitize(%q) = %q, expected to keep %q", tt.input, got, tt.wantKept)
			}
		})
	}
}

func TestSanitize_LinksOpenInNewTabWithoutReferrer(t *testing.T) {
	got := NewContentSanitizer().Sanitize(`<a href="https://example.com">元記事</a>`)

	for _, want := range []string{`href="https://example.com"`, `target="_blank"`, "noopener", "noreferrer"} {
		if !strings.Contains(got, want) {
			t.Errorf("Sanitize() = %q, expected to contain %q", got, want)
		}
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	sanitizer := NewContentSanitizer()
	input := `<p>本文<strong>太字</strong></p><a href="https://example.com">リンク</a>`

	once := sanitizer.Sanitize(input)
	if twice := sanitizer.Sanitize(once); once != twice {
		t.Errorf("double sanitize changed output: %q -> %q", once, twice)
	}
	if got := sanitizer.Sanitize(""); got != "" {
		t.Errorf("Sanitize(\"\") = %q, want empty", got)
	}
}

func TestStripTags(t *testing.T) {
	sanitizer := NewContentSanitizer()

	tests := []struct {
		input string
		want  string
	}{
		{"こんにちは", "こんにちは"},
		{"  前後の空白  ", "前後の空白"},
		{"<b>Hello</b> & <i>World</i>", "Hello & World"},
		{"<script>alert(1)</script>タイトル", "タイトル"},
		{`<a href="https://example.com">リンク</a>`, "リンク"},
		{"<p></p>", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := sanitizer.StripTags(tt.input); got != tt.want {
				t.Errorf("StripTags(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
