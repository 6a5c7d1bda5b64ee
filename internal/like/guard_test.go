package like

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
	"github.com/hitoshi/smarbl/internal/repository/memstore"
)

// --- モック ---

type recordingCollector struct {
	mu    sync.Mutex
	likes map[string]int
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{likes: make(map[string]int)}
}

func (c *recordingCollector) RecordLogin(string)                 {}
func (c *recordingCollector) RecordRegistration()                {}
func (c *recordingCollector) RecordTokenRejected(string)         {}
func (c *recordingCollector) RecordPostsImported(int)            {}
func (c *recordingCollector) RecordHTTPStatus(int)               {}
func (c *recordingCollector) RecordRequestLatency(time.Duration) {}
func (c *recordingCollector) RecordLike(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.likes[outcome]++
}

// flakyTxManager は最初のfailures回だけ直列化失敗を返し、以降はinnerに委譲する。
type flakyTxManager struct {
	inner    repository.TxManager
	failures int
	calls    int
}

func (m *flakyTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	m.calls++
	if m.calls <= m.failures {
		return fmt.Errorf("failed to commit transaction: %w", repository.ErrSerialization)
	}
	return m.inner.WithinTx(ctx, fn)
}

// --- ヘルパー ---

type fixture struct {
	store *memstore.Store
	guard *Guard
	stats *recordingCollector
}

// newFixture はU1が投稿P1を持ち、U2・U3が存在する状態を作る。
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	repos := store.Repositories()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"U1", "U2", "U3"} {
		u := &model.User{
			ID:           id,
			Name:         id,
			Email:        fmt.Sprintf("%s@x.com", id),
			PasswordHash: "hash-" + id,
			CreatedAt:    base.Add(time.Duration(i) * time.Second),
		}
		if err := repos.Users.Create(ctx, u); err != nil {
			t.Fatalf("failed to seed user: %v", err)
		}
	}
	if err := repos.Posts.Create(ctx, &model.Post{ID: "P1", UserID: "U1", Title: "hello", CreatedAt: base}); err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}

	stats := newRecordingCollector()
	return &fixture{
		store: store,
		guard: NewGuard(store, repos.Likes, stats),
		stats: stats,
	}
}

func (f *fixture) count(t *testing.T, postID string) int {
	t.Helper()
	n, err := f.store.Repositories().Likes.CountByPostID(context.Background(), postID)
	if err != nil {
		t.Fatalf("CountByPostID returned error: %v", err)
	}
	return n
}

// --- テスト ---

func TestGuard_Like_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.guard.Like(ctx, "P1", "U1"); !model.HasCode(err, model.ErrCodeSelfLikeRejected) {
		t.Fatalf("self like: err = %v, want SELF_LIKE_REJECTED", err)
	}

	like, err := f.guard.Like(ctx, "P1", "U2")
	if err != nil {
		t.Fatalf("first like: unexpected error %v", err)
	}
	if like.ID == "" || like.PostID != "P1" || like.UserID != "U2" {
		t.Errorf("like = %+v, want post P1 by U2 with an ID", like)
	}
	if n := f.count(t, "P1"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}

	if _, err := f.guard.Like(ctx, "P1", "U2"); !model.HasCode(err, model.ErrCodeDuplicateLike) {
		t.Fatalf("second like: err = %v, want DUPLICATE_LIKE", err)
	}
	if n := f.count(t, "P1"); n != 1 {
		t.Errorf("count = %d, want 1 after duplicate", n)
	}
}

func TestGuard_Like_SelfLikeRejectedRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.guard.Like(ctx, "P1", "U1"); !model.HasCode(err, model.ErrCodeSelfLikeRejected) {
			t.Fatalf("attempt %d: err = %v, want SELF_LIKE_REJECTED", i, err)
		}
	}

	if _, err := f.guard.Like(ctx, "P1", "U2"); err != nil {
		t.Fatalf("like by U2: unexpected error %v", err)
	}

	if _, err := f.guard.Like(ctx, "P1", "U1"); !model.HasCode(err, model.ErrCodeSelfLikeRejected) {
		t.Errorf("after other likes: err = %v, want SELF_LIKE_REJECTED", err)
	}
	if n := f.count(t, "P1"); n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestGuard_Like_PostNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.guard.Like(context.Background(), "missing", "U2")
	if !model.HasCode(err, model.ErrCodePostNotFound) {
		t.Errorf("err = %v, want POST_NOT_FOUND", err)
	}
}

func TestGuard_Like_UserNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.guard.Like(context.Background(), "P1", "ghost")
	if !model.HasCode(err, model.ErrCodeUserNotFound) {
		t.Errorf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestGuard_Like_PostCheckedBeforeUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.guard.Like(context.Background(), "missing", "ghost")
	if !model.HasCode(err, model.ErrCodePostNotFound) {
		t.Errorf("err = %v, want POST_NOT_FOUND", err)
	}
}

// TestGuard_Like_ConcurrentIdenticalRequests_ConstraintPath は全トランザクションが
// 存在確認を通過してからコミットする状況で、一意制約により1件だけが成功することを検証する。
func TestGuard_Like_ConcurrentIdenticalRequests_ConstraintPath(t *testing.T) {
	f := newFixture(t)
	const n = 8

	var arrived sync.WaitGroup
	arrived.Add(n)
	f.store.SetBeforeCommitHook(func() {
		arrived.Done()
		arrived.Wait()
	})

	successes, duplicates, others := runConcurrentLikes(t, f.guard, "P1", "U2", n)

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if duplicates != n-1 {
		t.Errorf("duplicates = %d, want %d", duplicates, n-1)
	}
	if len(others) != 0 {
		t.Errorf("unexpected errors: %v", others)
	}
	if c := f.count(t, "P1"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
	if f.stats.likes["created"] != 1 || f.stats.likes["duplicate"] != n-1 {
		t.Errorf("recorded outcomes = %v", f.stats.likes)
	}
}

// TestGuard_Like_ConcurrentIdenticalRequests はスケジューリングに任せた並行実行でも
// 1件だけが成功することを検証する。
func TestGuard_Like_ConcurrentIdenticalRequests(t *testing.T) {
	f := newFixture(t)
	const n = 32

	successes, duplicates, others := runConcurrentLikes(t, f.guard, "P1", "U2", n)

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if duplicates != n-1 {
		t.Errorf("duplicates = %d, want %d", duplicates, n-1)
	}
	if len(others) != 0 {
		t.Errorf("unexpected errors: %v", others)
	}
	if c := f.count(t, "P1"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
}

func runConcurrentLikes(t *testing.T, g *Guard, postID, userID string, n int) (successes, duplicates int, others []error) {
	t.Helper()

	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := g.Like(context.Background(), postID, userID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case model.HasCode(err, model.ErrCodeDuplicateLike):
				duplicates++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return successes, duplicates, others
}

func TestGuard_Like_DifferentUsersConcurrently_AllSucceed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, uid := range []string{"U2", "U3"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.guard.Like(ctx, "P1", uid)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("like %d: unexpected error %v", i, err)
		}
	}
	if c := f.count(t, "P1"); c != 2 {
		t.Errorf("count = %d, want 2", c)
	}
}

func TestGuard_Like_RetriesSerializationFailure(t *testing.T) {
	f := newFixture(t)
	tx := &flakyTxManager{inner: f.store, failures: 2}
	g := NewGuard(tx, f.store.Repositories().Likes, f.stats)

	if _, err := g.Like(context.Background(), "P1", "U2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.calls != 3 {
		t.Errorf("calls = %d, want 3", tx.calls)
	}
	if c := f.count(t, "P1"); c != 1 {
		t.Errorf("count = %d, want 1", c)
	}
}

func TestGuard_Like_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	tx := &flakyTxManager{inner: f.store, failures: 100}
	g := NewGuard(tx, f.store.Repositories().Likes, f.stats)

	_, err := g.Like(context.Background(), "P1", "U2")
	if !errors.Is(err, repository.ErrSerialization) {
		t.Fatalf("err = %v, want ErrSerialization", err)
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		t.Errorf("infrastructure failure should not be a domain error, got %v", apiErr)
	}
	if tx.calls != maxTxAttempts {
		t.Errorf("calls = %d, want %d", tx.calls, maxTxAttempts)
	}
	if f.stats.likes["error"] != 1 {
		t.Errorf("recorded outcomes = %v, want one error", f.stats.likes)
	}
}

func TestGuard_Like_CanceledContext_LeavesNoLike(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.guard.Like(ctx, "P1", "U2"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c := f.count(t, "P1"); c != 0 {
		t.Errorf("count = %d, want 0", c)
	}
}

func TestGuard_CountFor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repos := f.store.Repositories()

	if err := repos.Posts.Create(ctx, &model.Post{ID: "P2", UserID: "U2"}); err != nil {
		t.Fatalf("failed to seed post: %v", err)
	}
	for _, uid := range []string{"U2", "U3"} {
		if _, err := f.guard.Like(ctx, "P1", uid); err != nil {
			t.Fatalf("like: unexpected error %v", err)
		}
	}

	counts, err := f.guard.CountFor(ctx, []string{"P1", "P2", "P1", "missing"})
	if err != nil {
		t.Fatalf("CountFor returned error: %v", err)
	}

	want := map[string]int{"P1": 2, "P2": 0}
	if len(counts) != len(want) {
		t.Fatalf("counts = %v, want %v", counts, want)
	}
	for id, n := range want {
		if counts[id] != n {
			t.Errorf("counts[%s] = %d, want %d", id, counts[id], n)
		}
	}
}

func TestGuard_CountFor_Empty(t *testing.T) {
	f := newFixture(t)

	counts, err := f.guard.CountFor(context.Background(), nil)
	if err != nil {
		t.Fatalf("CountFor returned error: %v", err)
	}
	if counts == nil || len(counts) != 0 {
		t.Errorf("counts = %v, want empty map", counts)
	}
}

func TestGuard_LikersOf_InsertionOrderWithoutHashes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, uid := range []string{"U3", "U2"} {
		if _, err := f.guard.Like(ctx, "P1", uid); err != nil {
			t.Fatalf("like: unexpected error %v", err)
		}
	}

	likers, err := f.guard.LikersOf(ctx, "P1")
	if err != nil {
		t.Fatalf("LikersOf returned error: %v", err)
	}
	if len(likers) != 2 || likers[0].ID != "U3" || likers[1].ID != "U2" {
		t.Fatalf("likers = %+v, want [U3 U2]", likers)
	}
	for _, u := range likers {
		if u.PasswordHash != "" {
			t.Errorf("liker %s exposes password hash", u.ID)
		}
	}
}

func TestGuard_LikersOf_PostNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.guard.LikersOf(context.Background(), "missing")
	if !model.HasCode(err, model.ErrCodePostNotFound) {
		t.Errorf("err = %v, want POST_NOT_FOUND", err)
	}
}

func TestGuard_LikersOf_NoLikes_ReturnsEmpty(t *testing.T) {
	f := newFixture(t)

	likers, err := f.guard.LikersOf(context.Background(), "P1")
	if err != nil {
		t.Fatalf("LikersOf returned error: %v", err)
	}
	if len(likers) != 0 {
		t.Errorf("likers = %v, want empty", likers)
	}
}
