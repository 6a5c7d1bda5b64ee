package repository

import (
	"context"
	"fmt"

	"github.com/hitoshi/smarbl/internal/model"
	"github.com/lib/pq"
)

// PostgresLikeRepo はPostgreSQLを使用したいいねリポジトリ。
// likes(post_id, user_id) の一意インデックスが重複いいねを物理的に防ぐ。
type PostgresLikeRepo struct {
	db DBTX
}

// NewPostgresLikeRepo はPostgresLikeRepoを生成する。
func NewPostgresLikeRepo(db DBTX) *PostgresLikeRepo {
	return &PostgresLikeRepo{db: db}
}

// Exists は(postID, userID)のいいねが存在するかを返す。
func (r *PostgresLikeRepo) Exists(ctx context.Context, postID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM likes WHERE post_id = $1 AND user_id = $2)`,
		postID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check like existence: %w", mapPQError(err))
	}
	return exists, nil
}

// Create はいいねを作成する。
// 一意制約違反はErrDuplicateとして返す。
func (r *PostgresLikeRepo) Create(ctx context.Context, like *model.Like) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO likes (id, post_id, user_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		like.ID, like.PostID, like.UserID, like.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert like: %w", mapPQError(err))
	}
	return nil
}

// CountByPostID は投稿のいいね数を返す。
func (r *PostgresLikeRepo) CountByPostID(ctx context.Context, postID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM likes WHERE post_id = $1`,
		postID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count likes: %w", mapPQError(err))
	}
	return count, nil
}

// CountByPostIDs は存在する投稿ごとのいいね数を1クエリで集計する。
func (r *PostgresLikeRepo) CountByPostIDs(ctx context.Context, postIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(postIDs))
	if len(postIDs) == 0 {
		return counts, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT p.id, COUNT(l.id)
		 FROM posts p
		 LEFT JOIN likes l ON l.post_id = p.id
		 WHERE p.id = ANY($1::uuid[])
		 GROUP BY p.id`,
		pq.Array(postIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes by posts: %w", mapPQError(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			postID string
			count  int
		)
		if err := rows.Scan(&postID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan like count: %w", err)
		}
		counts[postID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate like counts: %w", err)
	}

	return counts, nil
}

// ListLikersByPostID は投稿にいいねしたユーザーをいいねした順（seq昇順）に返す。
func (r *PostgresLikeRepo) ListLikersByPostID(ctx context.Context, postID string) ([]*model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.name, u.email, u.password_hash, u.created_at, u.updated_at
		 FROM likes l
		 JOIN users u ON u.id = l.user_id
		 WHERE l.post_id = $1
		 ORDER BY l.seq`,
		postID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list likers: %w", mapPQError(err))
	}
	defer rows.Close()

	var users []*model.User
	for rows.Next() {
		u := &model.User{}
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan liker: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate likers: %w", err)
	}

	return users, nil
}

// DeleteByPostID は投稿に付いた全いいねを削除する。
func (r *PostgresLikeRepo) DeleteByPostID(ctx context.Context, postID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM likes WHERE post_id = $1`, postID); err != nil {
		return fmt.Errorf("failed to delete likes by post: %w", mapPQError(err))
	}
	return nil
}

// DeleteByUserID は指定ユーザーが付けた全いいねを削除する。
func (r *PostgresLikeRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM likes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete likes by user: %w", mapPQError(err))
	}
	return nil
}

// DeleteByPostAuthor は指定ユーザーの投稿に付いた全いいねを削除する。
func (r *PostgresLikeRepo) DeleteByPostAuthor(ctx context.Context, authorID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM likes WHERE post_id IN (SELECT id FROM posts WHERE user_id = $1)`,
		authorID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete likes on author's posts: %w", mapPQError(err))
	}
	return nil
}

// compile-time interface check
var _ LikeRepository = (*PostgresLikeRepo)(nil)
