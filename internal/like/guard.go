// Package like はいいねの業務ルールを提供する。
//
// 1ユーザーは1投稿に1回だけいいねでき、自分の投稿にはいいねできない。
// 存在確認と挿入は1つのトランザクション内で行い、さらに
// likes(post_id, user_id) の一意制約違反も重複いいねとして扱う。
package like

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/smarbl/internal/metrics"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
)

// maxTxAttempts は直列化失敗時にトランザクションを実行する最大回数。
const maxTxAttempts = 3

// Guard はいいねの不変条件を守りながらいいねを作成・集計する。
type Guard struct {
	txManager repository.TxManager
	likeRepo  repository.LikeRepository
	metrics   metrics.MetricsCollector
	now       func() time.Time
	newID     func() string
}

// NewGuard はGuardを生成する。
// likeRepoはトランザクション外の集計に使用する。
func NewGuard(txManager repository.TxManager, likeRepo repository.LikeRepository, collector metrics.MetricsCollector) *Guard {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Guard{
		txManager: txManager,
		likeRepo:  likeRepo,
		metrics:   collector,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Like はuserIDのユーザーとしてpostIDの投稿にいいねする。
//
// 返すエラー:
//   - POST_NOT_FOUND: 投稿が存在しない
//   - USER_NOT_FOUND: ユーザーが存在しない
//   - SELF_LIKE_REJECTED: 自分の投稿
//   - DUPLICATE_LIKE: 既にいいね済み（並行リクエストで一意制約に当たった場合を含む）
//
// それ以外のエラーはインフラ障害としてそのまま返す。
// 直列化失敗は最大3回まで再試行し、それでも失敗した場合は汎用エラー（500）として返す。
func (g *Guard) Like(ctx context.Context, postID, userID string) (*model.Like, error) {
	var (
		created *model.Like
		err     error
	)
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		created, err = g.likeOnce(ctx, postID, userID)
		if !errors.Is(err, repository.ErrSerialization) {
			break
		}
		slog.Warn("like transaction could not be serialized",
			slog.String("post_id", postID),
			slog.String("user_id", userID),
			slog.Int("attempt", attempt),
		)
	}

	if errors.Is(err, repository.ErrDuplicate) {
		err = model.NewDuplicateLikeError()
	}

	g.metrics.RecordLike(outcomeOf(err))

	if err != nil {
		return nil, err
	}

	slog.Info("like created",
		slog.String("like_id", created.ID),
		slog.String("post_id", postID),
		slog.String("user_id", userID),
	)
	return created, nil
}

// likeOnce は確認と挿入を1つのトランザクションで実行する。
func (g *Guard) likeOnce(ctx context.Context, postID, userID string) (*model.Like, error) {
	var created *model.Like

	err := g.txManager.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		// 1. 投稿の存在確認
		post, err := repos.Posts.FindByID(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to find post: %w", err)
		}
		if post == nil {
			return model.NewPostNotFoundError(postID)
		}

		// 2. ユーザーの存在確認
		user, err := repos.Users.FindByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if user == nil {
			return model.NewUserNotFoundError()
		}

		// 3. 自己いいねの拒否
		if post.UserID == userID {
			return model.NewSelfLikeRejectedError()
		}

		// 4. 既存いいねの確認
		exists, err := repos.Likes.Exists(ctx, postID, userID)
		if err != nil {
			return fmt.Errorf("failed to check existing like: %w", err)
		}
		if exists {
			return model.NewDuplicateLikeError()
		}

		// 5. 挿入（一意制約違反はErrDuplicateとして返る）
		like := &model.Like{
			ID:        g.newID(),
			PostID:    postID,
			UserID:    userID,
			CreatedAt: g.now(),
		}
		if err := repos.Likes.Create(ctx, like); err != nil {
			return err
		}

		created = like
		return nil
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// CountFor は投稿IDごとのいいね数を返す。
// 存在しない投稿IDは結果に含まれない。重複したIDは1つにまとめる。
func (g *Guard) CountFor(ctx context.Context, postIDs []string) (map[string]int, error) {
	unique := make([]string, 0, len(postIDs))
	seen := make(map[string]bool, len(postIDs))
	for _, id := range postIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}

	if len(unique) == 0 {
		return map[string]int{}, nil
	}

	counts, err := g.likeRepo.CountByPostIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes: %w", err)
	}
	return counts, nil
}

// LikersOf は投稿にいいねしたユーザーをいいねした順に返す。
// 投稿が存在しない場合はPOST_NOT_FOUNDを返す。
func (g *Guard) LikersOf(ctx context.Context, postID string) ([]*model.User, error) {
	var likers []*model.User

	err := g.txManager.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		post, err := repos.Posts.FindByID(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to find post: %w", err)
		}
		if post == nil {
			return model.NewPostNotFoundError(postID)
		}

		users, err := repos.Likes.ListLikersByPostID(ctx, postID)
		if err != nil {
			return fmt.Errorf("failed to list likers: %w", err)
		}
		likers = make([]*model.User, len(users))
		for i, u := range users {
			likers[i] = u.Public()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return likers, nil
}

// outcomeOf はLikeの結果をメトリクスラベルに変換する。
func outcomeOf(err error) string {
	var apiErr *model.APIError
	switch {
	case err == nil:
		return metrics.LikeCreated
	case !errors.As(err, &apiErr):
		return metrics.LikeError
	}

	switch apiErr.Code {
	case model.ErrCodeDuplicateLike:
		return metrics.LikeDuplicate
	case model.ErrCodeSelfLikeRejected:
		return metrics.LikeSelf
	case model.ErrCodePostNotFound:
		return metrics.LikePostNotFound
	case model.ErrCodeUserNotFound:
		return metrics.LikeUserNotFound
	default:
		return metrics.LikeError
	}
}
