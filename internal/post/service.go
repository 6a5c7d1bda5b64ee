// Package post は投稿の作成・取得・削除のドメインロジックを提供する。
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
	"github.com/hitoshi/smarbl/internal/security"
)

// Sanitizer は投稿内容のサニタイズインターフェース。
type Sanitizer interface {
	Sanitize(rawHTML string) string
	StripTags(text string) string
}

// CreateInput は投稿作成の入力。
type CreateInput struct {
	Title   string
	Content string
}

// Validate はサニタイズ後の入力を検証する。
func (in CreateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&in.Content, validation.Required),
	)
}

// Detail は投稿といいね数の組。
type Detail struct {
	Post      *model.Post
	LikeCount int
}

// Service は投稿のサービス層。
type Service struct {
	txManager repository.TxManager
	postRepo  repository.PostRepository
	userRepo  repository.UserRepository
	likeRepo  repository.LikeRepository
	sanitizer Sanitizer
	now       func() time.Time
	newID     func() string
}

// NewService はServiceを生成する。
func NewService(txManager repository.TxManager, repos repository.Repositories, sanitizer Sanitizer) *Service {
	return &Service{
		txManager: txManager,
		postRepo:  repos.Posts,
		userRepo:  repos.Users,
		likeRepo:  repos.Likes,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Create はauthorIDのユーザーとして投稿を作成する。
// タイトルはタグを除去し、本文は許可リストでサニタイズしてから検証する。
func (s *Service) Create(ctx context.Context, authorID string, in CreateInput) (*model.Post, error) {
	created, err := s.CreateAll(ctx, authorID, []CreateInput{in})
	if err != nil {
		return nil, err
	}
	return created[0], nil
}

// CreateAll は複数の投稿を1つのトランザクションで作成する。
// いずれかの入力が不正な場合は1件も作成しない。
func (s *Service) CreateAll(ctx context.Context, authorID string, inputs []CreateInput) ([]*model.Post, error) {
	posts := make([]*model.Post, 0, len(inputs))
	now := s.now()
	for i, in := range inputs {
		clean := CreateInput{
			Title:   s.sanitizer.StripTags(in.Title),
			Content: s.sanitizer.Sanitize(in.Content),
		}
		if err := clean.Validate(); err != nil {
			return nil, model.NewValidationError(err.Error())
		}
		posts = append(posts, &model.Post{
			ID:        s.newID(),
			UserID:    authorID,
			Title:     clean.Title,
			Content:   clean.Content,
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
			UpdatedAt: now,
		})
	}

	err := s.txManager.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		author, err := repos.Users.FindByID(ctx, authorID)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if author == nil {
			return model.NewUserNotFoundError()
		}

		for _, p := range posts {
			if err := repos.Posts.Create(ctx, p); err != nil {
				return fmt.Errorf("failed to create post: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range posts {
		slog.Info("post created",
			slog.String("post_id", p.ID),
			slog.String("user_id", authorID),
		)
	}
	return posts, nil
}

// Get は投稿といいね数を返す。
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	p, err := s.postRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}
	if p == nil {
		return nil, model.NewPostNotFoundError(id)
	}

	count, err := s.likeRepo.CountByPostID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to count likes: %w", err)
	}

	return &Detail{Post: p, LikeCount: count}, nil
}

// ListByUser はユーザーの投稿を新しい順に返す。
func (s *Service) ListByUser(ctx context.Context, userID string) ([]*model.Post, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}

	posts, err := s.postRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	return posts, nil
}

// Delete は投稿者本人の投稿をいいねとともに削除する。
// 投稿者以外はFORBIDDENを返す。
func (s *Service) Delete(ctx context.Context, callerID, id string) error {
	err := s.txManager.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		p, err := repos.Posts.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to find post: %w", err)
		}
		if p == nil {
			return model.NewPostNotFoundError(id)
		}
		if p.UserID != callerID {
			return model.NewForbiddenError()
		}

		// 1. いいねを削除
		if err := repos.Likes.DeleteByPostID(ctx, id); err != nil {
			return fmt.Errorf("failed to delete likes: %w", err)
		}

		// 2. 投稿を削除
		if err := repos.Posts.DeleteByID(ctx, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return model.NewPostNotFoundError(id)
			}
			return fmt.Errorf("failed to delete post: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("post deleted",
		slog.String("post_id", id),
		slog.String("user_id", callerID),
	)
	return nil
}

var _ Sanitizer = (*security.ContentSanitizer)(nil)
