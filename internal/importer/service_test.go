package importer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/smarbl/internal/metrics"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/post"
	"github.com/hitoshi/smarbl/internal/repository"
	"github.com/hitoshi/smarbl/internal/repository/memstore"
	"github.com/hitoshi/smarbl/internal/security"
)

// --- モック ---

type guardFunc func(rawURL string) error

func (f guardFunc) ValidateURL(rawURL string) error { return f(rawURL) }

var allowAll = guardFunc(func(string) error { return nil })

type importCounter struct {
	metrics.NopCollector
	total int
}

func (c *importCounter) RecordPostsImported(n int) { c.total += n }

// --- テストデータ ---

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Blog</title>
  <item><title>Third</title><link>https://example.com/3</link><description><![CDATA[<p>本文3</p><script>alert(1)</script>]]></description></item>
  <item><title>Second</title><link>https://example.com/2</link><description>本文2</description></item>
  <item><title>First</title><link>https://example.com/1</link><description>本文1</description></item>
</channel>
</rss>`

const atomFeed = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Blog</title>
  <id>urn:example:atom</id>
  <updated>2026-01-01T00:00:00Z</updated>
  <entry>
    <title>Atom entry</title>
    <id>urn:example:a1</id>
    <link href="https://example.com/a1"/>
    <updated>2026-01-01T00:00:00Z</updated>
    <summary>要約</summary>
  </entry>
</feed>`

const emptyFeed = `<?xml version="1.0"?><rss version="2.0"><channel><title>Empty</title></channel></rss>`

func newFeedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	serve := func(path, contentType, body string) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			fmt.Fprint(w, body)
		})
	}

	serve("/rss.xml", "application/rss+xml; charset=utf-8", rssFeed)
	serve("/generic.xml", "text/xml", rssFeed)
	serve("/atom.xml", "application/atom+xml", atomFeed)
	serve("/empty.xml", "application/rss+xml", emptyFeed)
	serve("/broken.xml", "application/rss+xml", "this is not a feed")
	serve("/data.json", "application/json", `{"items":[]}`)
	serve("/page.html", "text/html; charset=utf-8", `<!DOCTYPE html><html><head>
<title>Blog</title>
<link rel="alternate" type="application/rss+xml" href="https://other.example.net/rss.xml">
<link rel="alternate" type="application/atom+xml" href="/atom.xml">
</head><body></body></html>`)
	serve("/plain.html", "text/html", `<html><head><title>No feeds</title></head><body><link rel="alternate" type="application/rss+xml" href="/rss.xml"></body></html>`)
	serve("/internal.html", "text/html", `<html><head><link rel="alternate" type="application/rss+xml" href="http://169.254.169.254/latest/feed"></head></html>`)
	mux.HandleFunc("/big.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, strings.Repeat(" ", 2048)+emptyFeed)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	srv     *httptest.Server
	repos   repository.Repositories
	posts   *post.Service
	counter *importCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()
	if err := repos.Users.Create(context.Background(), &model.User{ID: "alice", Email: "alice@x.com"}); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
	return &fixture{
		srv:     newFeedServer(t),
		repos:   repos,
		posts:   post.NewService(store, repos, security.NewContentSanitizer()),
		counter: &importCounter{},
	}
}

func (f *fixture) service(guard URLGuard, opts Options) *Service {
	return NewService(guard, f.srv.Client(), f.posts, f.counter, opts)
}

func (f *fixture) storedTitles(t *testing.T) []string {
	t.Helper()
	posts, err := f.repos.Posts.ListByUserID(context.Background(), "alice")
	if err != nil {
		t.Fatalf("failed to list posts: %v", err)
	}
	titles := []string{}
	for _, p := range posts {
		titles = append(titles, p.Title)
	}
	return titles
}

var defaultOptions = Options{MaxBodySize: 1 << 20, MaxItems: 2}

// --- Import ---

// TestImport_RSSFeed_CreatesNewestItems は先頭MaxItems件だけが投稿になり、フィードの新しい順が保たれることを検証する。
func TestImport_RSSFeed_CreatesNewestItems(t *testing.T) {
	f := newFixture(t)

	res, err := f.service(allowAll, defaultOptions).Import(context.Background(), "alice", f.srv.URL+"/rss.xml")
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}

	if res.FeedTitle != "Example Blog" || res.FeedURL != f.srv.URL+"/rss.xml" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Posts) != 2 {
		t.Fatalf("posts = %d, want 2", len(res.Posts))
	}
	if got := strings.Join(f.storedTitles(t), ","); got != "Third,Second" {
		t.Errorf("stored titles = %s, want Third,Second", got)
	}
	if f.counter.total != 2 {
		t.Errorf("imported metric = %d, want 2", f.counter.total)
	}

	for _, p := range res.Posts {
		if p.UserID != "alice" {
			t.Errorf("post %s author = %s", p.ID, p.UserID)
		}
		if p.Title != "Third" {
			continue
		}
		if strings.Contains(p.Content, "script") {
			t.Errorf("content should be sanitized: %q", p.Content)
		}
		if !strings.Contains(p.Content, "<p>本文3</p>") || !strings.Contains(p.Content, `href="https://example.com/3"`) {
			t.Errorf("content = %q, want body and source link", p.Content)
		}
	}
}

// TestImport_NonPositiveOptions_UseDefaults は0以下の上限値が無制限や全件拒否にならず既定値で動くことを検証する。
func TestImport_NonPositiveOptions_UseDefaults(t *testing.T) {
	f := newFixture(t)
	svc := f.service(allowAll, Options{MaxBodySize: -1, MaxItems: -1})

	if svc.maxBody != DefaultMaxBodySize || svc.maxItems != DefaultMaxItems {
		t.Errorf("limits = %d/%d, want defaults", svc.maxBody, svc.maxItems)
	}

	res, err := svc.Import(context.Background(), "alice", f.srv.URL+"/rss.xml")
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if len(res.Posts) != 3 {
		t.Errorf("posts = %d, want all 3 items", len(res.Posts))
	}
}

func TestImport_GenericXMLWithRSSBody(t *testing.T) {
	f := newFixture(t)

	res, err := f.service(allowAll, defaultOptions).Import(context.Background(), "alice", f.srv.URL+"/generic.xml")
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if len(res.Posts) != 2 {
		t.Errorf("posts = %d, want 2", len(res.Posts))
	}
}

// TestImport_HTMLPage_FollowsSameHostFeed はHTMLページから同一ホストのAtomフィードを選んで取り込むことを検証する。
func TestImport_HTMLPage_FollowsSameHostFeed(t *testing.T) {
	f := newFixture(t)

	res, err := f.service(allowAll, defaultOptions).Import(context.Background(), "alice", f.srv.URL+"/page.html")
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}

	if res.FeedURL != f.srv.URL+"/atom.xml" {
		t.Errorf("FeedURL = %s, want atom feed on the same host", res.FeedURL)
	}
	if res.FeedTitle != "Atom Blog" || len(res.Posts) != 1 {
		t.Fatalf("result = %+v", res)
	}
	p := res.Posts[0]
	if p.Title != "Atom entry" || !strings.Contains(p.Content, "要約") {
		t.Errorf("post = %+v", p)
	}
}

func TestImport_EmptyFeed(t *testing.T) {
	f := newFixture(t)

	res, err := f.service(allowAll, defaultOptions).Import(context.Background(), "alice", f.srv.URL+"/empty.xml")
	if err != nil {
		t.Fatalf("Import returned error: %v", err)
	}
	if len(res.Posts) != 0 || f.counter.total != 0 {
		t.Errorf("result = %+v, want no posts", res)
	}
}

func TestImport_Errors(t *testing.T) {
	blockMetadata := guardFunc(func(rawURL string) error {
		if strings.Contains(rawURL, "169.254.169.254") {
			return fmt.Errorf("%w: metadata", security.ErrBlockedDestination)
		}
		return nil
	})

	tests := []struct {
		name     string
		guard    URLGuard
		opts     Options
		path     string
		rawURL   string
		wantCode string
	}{
		{name: "空のURL", guard: allowAll, opts: defaultOptions, rawURL: "  ", wantCode: model.ErrCodeInvalidURL},
		{name: "許可されないスキーム", guard: security.NewSSRFGuard(), opts: defaultOptions, rawURL: "ftp://example.com/feed", wantCode: model.ErrCodeInvalidURL},
		{name: "ループバック宛て", guard: security.NewSSRFGuard(), opts: defaultOptions, path: "/rss.xml", wantCode: model.ErrCodeSSRFBlocked},
		{name: "フィードリンク先が内部アドレス", guard: blockMetadata, opts: defaultOptions, path: "/internal.html", wantCode: model.ErrCodeSSRFBlocked},
		{name: "404", guard: allowAll, opts: defaultOptions, path: "/missing", wantCode: model.ErrCodeFetchFailed},
		{name: "サイズ超過", guard: allowAll, opts: Options{MaxBodySize: 512, MaxItems: 2}, path: "/big.xml", wantCode: model.ErrCodeFetchFailed},
		{name: "フィードリンクのないHTML", guard: allowAll, opts: defaultOptions, path: "/plain.html", wantCode: model.ErrCodeFeedNotDetected},
		{name: "フィードでもHTMLでもない", guard: allowAll, opts: defaultOptions, path: "/data.json", wantCode: model.ErrCodeFeedNotDetected},
		{name: "パースできないフィード", guard: allowAll, opts: defaultOptions, path: "/broken.xml", wantCode: model.ErrCodeParseFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rawURL := tt.rawURL
			if tt.path != "" {
				rawURL = f.srv.URL + tt.path
			}

			_, err := f.service(tt.guard, tt.opts).Import(context.Background(), "alice", rawURL)
			if !model.HasCode(err, tt.wantCode) {
				t.Fatalf("err = %v, want %s", err, tt.wantCode)
			}
			if titles := f.storedTitles(t); len(titles) != 0 {
				t.Errorf("posts were created: %v", titles)
			}
		})
	}
}

func TestImport_UnknownAuthor(t *testing.T) {
	f := newFixture(t)

	_, err := f.service(allowAll, defaultOptions).Import(context.Background(), "ghost", f.srv.URL+"/rss.xml")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
	if f.counter.total != 0 {
		t.Errorf("imported metric = %d, want 0", f.counter.total)
	}
}

func TestImport_CanceledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service(allowAll, defaultOptions).Import(ctx, "alice", f.srv.URL+"/rss.xml")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
