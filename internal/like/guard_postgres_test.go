package like

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/smarbl/internal/database"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
)

// TestGuard_Like_ConcurrentIdenticalRequests_Postgres はSERIALIZABLEのPostgreSQL上で
// 同一のいいねを並行実行し、直列化失敗の再試行を経ても1件だけが成功することを検証する。
// TEST_DATABASE_URL が未設定の場合はスキップする。
func TestGuard_Like_ConcurrentIdenticalRequests_Postgres(t *testing.T) {
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}
	const n = 8

	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	db, err := database.Open(dbURL, n+2)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	// 1. 投稿者・いいねするユーザー・投稿を用意（他テストと衝突しないよう一意なIDを使う）
	ctx := context.Background()
	repos := repository.NewPostgresRepositories(db)
	now := time.Now().UTC().Truncate(time.Microsecond)

	author := &model.User{ID: uuid.NewString(), Name: "author", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	liker := &model.User{ID: uuid.NewString(), Name: "liker", PasswordHash: "hash", CreatedAt: now, UpdatedAt: now}
	for _, u := range []*model.User{author, liker} {
		u.Email = u.ID + "@example.com"
		if err := repos.Users.Create(ctx, u); err != nil {
			t.Fatalf("Create(user) error = %v", err)
		}
	}
	post := &model.Post{ID: uuid.NewString(), UserID: author.ID, Title: "t", Content: "c", CreatedAt: now, UpdatedAt: now}
	if err := repos.Posts.Create(ctx, post); err != nil {
		t.Fatalf("Create(post) error = %v", err)
	}
	t.Cleanup(func() {
		db.Exec("DELETE FROM users WHERE id = ANY($1::uuid[])", "{"+author.ID+","+liker.ID+"}")
	})

	// 2. 同一のいいねを並行実行
	stats := newRecordingCollector()
	guard := NewGuard(repository.NewPostgresTxManager(db), repos.Likes, stats)
	successes, duplicates, others := runConcurrentLikes(t, guard, post.ID, liker.ID, n)

	// 3. 1件だけ成功し、残りは全て重複いいね
	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if duplicates != n-1 {
		t.Errorf("duplicates = %d, want %d", duplicates, n-1)
	}
	if len(others) != 0 {
		t.Errorf("unexpected errors: %v", others)
	}

	count, err := repos.Likes.CountByPostID(ctx, post.ID)
	if err != nil {
		t.Fatalf("CountByPostID() error = %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if stats.likes["created"] != 1 || stats.likes["duplicate"] != n-1 {
		t.Errorf("recorded outcomes = %v", stats.likes)
	}
}
