package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer は投稿の本文とプレーンテキスト項目をサニタイズする。
// 並行に使用できる。
type ContentSanitizer struct {
	content *bluemonday.Policy
	strict  *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
//
// 本文のポリシー:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, img
//   - script, iframe, style と on* 属性は許可リストにないため除去される
//   - imgのsrcはhttpsのみ
//   - aには target="_blank" と rel="noopener noreferrer" を付与する
func NewContentSanitizer() *ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return true
	})

	return &ContentSanitizer{
		content: p,
		strict:  bluemonday.StrictPolicy(),
	}
}

// Sanitize は投稿本文のHTMLを許可リストに従ってサニタイズする。
// 同一入力に対して常に同一出力を返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return s.content.Sanitize(rawHTML)
}

// StripTags はタイトル等のプレーンテキスト項目からすべてのタグを取り除き、前後の空白を除く。
// 結果はプレーンテキストのため、文字参照は元の文字に戻す。
func (s *ContentSanitizer) StripTags(text string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(text)))
}
