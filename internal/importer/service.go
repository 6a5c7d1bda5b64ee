// Package importer は外部のRSS/Atomフィードから投稿を取り込む。
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/smarbl/internal/metrics"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/post"
	"github.com/hitoshi/smarbl/internal/security"
)

const (
	userAgent     = "smarbl/1.0 (+feed import)"
	acceptHeader  = "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.5"
	maxTitleRunes = 255
)

// URLGuard は取得先URLの検証インターフェース。
type URLGuard interface {
	ValidateURL(rawURL string) error
}

// PostCreator は取り込んだ記事を投稿として保存するインターフェース。
type PostCreator interface {
	CreateAll(ctx context.Context, authorID string, inputs []post.CreateInput) ([]*model.Post, error)
}

// 0以下の上限値を指定した場合に使う既定値。
const (
	DefaultMaxBodySize int64 = 5 << 20
	DefaultMaxItems          = 20
)

// Options は取り込みの上限値。0以下の値は既定値に置き換える。
type Options struct {
	MaxBodySize int64
	MaxItems    int
}

// Result は取り込み結果。
type Result struct {
	FeedURL   string
	FeedTitle string
	Posts     []*model.Post
}

// Service はフィードの取得・検出・パース・投稿化を行う。
type Service struct {
	guard    URLGuard
	client   *http.Client
	posts    PostCreator
	metrics  metrics.MetricsCollector
	parser   *gofeed.Parser
	maxBody  int64
	maxItems int
}

// NewService はServiceを生成する。
// clientには本番ではSSRFGuard.NewSafeClientで作ったクライアントを渡す。
func NewService(guard URLGuard, client *http.Client, posts PostCreator, collector metrics.MetricsCollector, opts Options) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = DefaultMaxBodySize
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = DefaultMaxItems
	}
	return &Service{
		guard:    guard,
		client:   client,
		posts:    posts,
		metrics:  collector,
		parser:   gofeed.NewParser(),
		maxBody:  opts.MaxBodySize,
		maxItems: opts.MaxItems,
	}
}

// document は取得したレスポンス。
type document struct {
	url         string
	contentType string
	body        []byte
}

// Import はrawURLのフィード（またはフィードを宣言したHTMLページ）を取得し、
// 先頭からMaxItems件の記事をauthorIDの投稿として1つのトランザクションで作成する。
// 1. URLを検証（INVALID_URL / SSRF_BLOCKED）
// 2. 取得（FETCH_FAILED）
// 3. HTMLならheadのフィードリンクをたどる（FEED_NOT_DETECTED）
// 4. パース（PARSE_FAILED）して投稿を作成
func (s *Service) Import(ctx context.Context, authorID, rawURL string) (*Result, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}

	doc, err := s.fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	if !isFeedDocument(doc.contentType, doc.body) {
		if !isHTML(doc.contentType) {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		link, ok := pickFeedLink(discoverFeedLinks(doc.body, doc.url), doc.url)
		if !ok {
			return nil, model.NewFeedNotDetectedError(rawURL)
		}
		if doc, err = s.fetch(ctx, link.URL); err != nil {
			return nil, err
		}
	}

	feed, err := s.parser.Parse(bytes.NewReader(doc.body))
	if err != nil {
		slog.Warn("failed to parse feed",
			slog.String("feed_url", doc.url),
			slog.String("error", err.Error()),
		)
		return nil, model.NewParseFailedError()
	}

	inputs := s.toInputs(feed.Items)
	created := []*model.Post{}
	if len(inputs) > 0 {
		if created, err = s.posts.CreateAll(ctx, authorID, inputs); err != nil {
			return nil, err
		}
	}

	s.metrics.RecordPostsImported(len(created))
	slog.Info("feed imported",
		slog.String("user_id", authorID),
		slog.String("feed_url", doc.url),
		slog.Int("posts", len(created)),
	)

	return &Result{
		FeedURL:   doc.url,
		FeedTitle: strings.TrimSpace(feed.Title),
		Posts:     created,
	}, nil
}

// fetch はURLを検証してから取得する。2xx以外とサイズ超過はFETCH_FAILED。
func (s *Service) fetch(ctx context.Context, rawURL string) (*document, error) {
	if err := s.guard.ValidateURL(rawURL); err != nil {
		if errors.Is(err, security.ErrBlockedDestination) {
			return nil, model.NewSSRFBlockedError()
		}
		return nil, model.NewInvalidURLError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		slog.Warn("failed to fetch import source",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewFetchFailedError("接続できませんでした")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, model.NewFetchFailedError(fmt.Sprintf("HTTPステータス %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, model.NewFetchFailedError("レスポンスの読み取りに失敗しました")
	}
	if int64(len(body)) > s.maxBody {
		return nil, model.NewFetchFailedError("レスポンスが大きすぎます")
	}

	final := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	return &document{url: final, contentType: resp.Header.Get("Content-Type"), body: body}, nil
}

// toInputs は先頭maxItems件の記事を投稿入力にする。
// フィードは新しい順に並ぶため、古い記事から作成して投稿日時の順序を保つ。
func (s *Service) toInputs(items []*gofeed.Item) []post.CreateInput {
	var inputs []post.CreateInput
	for _, it := range items {
		if len(inputs) == s.maxItems {
			break
		}
		if in, ok := itemToInput(it); ok {
			inputs = append(inputs, in)
		}
	}
	slices.Reverse(inputs)
	return inputs
}

func itemToInput(it *gofeed.Item) (post.CreateInput, bool) {
	if it == nil {
		return post.CreateInput{}, false
	}
	link := strings.TrimSpace(it.Link)

	title := strings.TrimSpace(it.Title)
	if title == "" {
		title = link
	}
	if title == "" {
		return post.CreateInput{}, false
	}
	title = truncateRunes(title, maxTitleRunes)

	content := strings.TrimSpace(it.Content)
	if content == "" {
		content = strings.TrimSpace(it.Description)
	}
	if link != "" {
		content += fmt.Sprintf(`<p><a href="%s">%s</a></p>`, html.EscapeString(link), html.EscapeString(link))
	}
	if content == "" {
		content = html.EscapeString(title)
	}

	return post.CreateInput{Title: title, Content: content}, true
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
