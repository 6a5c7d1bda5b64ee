package importer

import (
	"bytes"
	"mime"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

type feedKind int

const (
	kindRSS feedKind = iota
	kindAtom
)

// feedLink はHTMLのheadで宣言されたフィードへのリンク。
type feedLink struct {
	URL  string
	Kind feedKind
}

var (
	feedMediaTypes = []string{"application/rss+xml", "application/atom+xml", "application/feed+xml"}
	xmlMediaTypes  = []string{"text/xml", "application/xml"}
)

// sniffSize はXMLのルート要素を探す先頭バイト数。
const sniffSize = 4096

func mediaTypeOf(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// isFeedDocument はレスポンスがRSS/Atomそのものかを判定する。
// 汎用のXMLやContent-Type不明の場合はボディ先頭のルート要素を見る。
func isFeedDocument(contentType string, body []byte) bool {
	mt := mediaTypeOf(contentType)
	if slices.Contains(feedMediaTypes, mt) {
		return true
	}
	if mt != "" && mt != "application/octet-stream" && !slices.Contains(xmlMediaTypes, mt) {
		return false
	}
	return looksLikeFeed(body)
}

func looksLikeFeed(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), sniffSize)]))
	switch {
	case strings.Contains(head, "<rss"), strings.Contains(head, "<rdf:rdf"):
		return true
	case strings.Contains(head, "<feed") && strings.Contains(head, "http://www.w3.org/2005/atom"):
		return true
	}
	return false
}

func isHTML(contentType string) bool {
	mt := mediaTypeOf(contentType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

// discoverFeedLinks はheadの<link rel="alternate">からフィードURLを集める。
// 相対URLはpageURLを基準に解決する。bodyに達した時点で打ち切る。
func discoverFeedLinks(page []byte, pageURL string) []feedLink {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []feedLink
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return links
		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if string(name) == "body" {
				return links
			}
			if string(name) != "link" || !hasAttr {
				continue
			}
			if l, ok := parseLinkTag(z, base); ok {
				links = append(links, l)
			}
		}
	}
}

func parseLinkTag(z *html.Tokenizer, base *url.URL) (feedLink, bool) {
	attrs := map[string]string{}
	for more := true; more; {
		var key, val []byte
		key, val, more = z.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
	}

	if !slices.Contains(strings.Fields(strings.ToLower(attrs["rel"])), "alternate") {
		return feedLink{}, false
	}

	var kind feedKind
	switch mediaTypeOf(attrs["type"]) {
	case "application/rss+xml":
		kind = kindRSS
	case "application/atom+xml":
		kind = kindAtom
	default:
		return feedLink{}, false
	}

	href := strings.TrimSpace(attrs["href"])
	if href == "" {
		return feedLink{}, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return feedLink{}, false
	}
	return feedLink{URL: base.ResolveReference(ref).String(), Kind: kind}, true
}

// pickFeedLink は候補から1件を選ぶ。
// 優先順位: ページと同じホスト > Atom > 出現順
func pickFeedLink(links []feedLink, pageURL string) (feedLink, bool) {
	if len(links) == 0 {
		return feedLink{}, false
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1
	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 2
		}
		if l.Kind == kindAtom {
			score++
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return links[best], true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
