// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/hitoshi/smarbl/internal/auth"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
)

// PasswordHasher はパスワード変更時のハッシュ化インターフェース。
type PasswordHasher interface {
	Hash(secret string) (string, error)
}

// UpdateInput はユーザー更新の入力。nilの項目は変更しない。
type UpdateInput struct {
	Name     *string
	Email    *string
	Password *string
}

// Validate は更新入力の形式を検証する。
func (in UpdateInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.NilOrNotEmpty, validation.RuneLength(1, 255)),
		validation.Field(&in.Email, validation.NilOrNotEmpty, validation.Length(3, 255), is.Email),
		validation.Field(&in.Password, validation.NilOrNotEmpty, validation.Length(1, auth.MaxPasswordBytes)),
	)
}

func (in UpdateInput) normalized() UpdateInput {
	out := in
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		out.Name = &name
	}
	if in.Email != nil {
		email := auth.NormalizeEmail(*in.Email)
		out.Email = &email
	}
	return out
}

// Service はユーザー管理のサービス層。
type Service struct {
	txManager repository.TxManager
	userRepo  repository.UserRepository
	hasher    PasswordHasher
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(txManager repository.TxManager, userRepo repository.UserRepository, hasher PasswordHasher) *Service {
	return &Service{
		txManager: txManager,
		userRepo:  userRepo,
		hasher:    hasher,
		now:       time.Now,
	}
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u.Public(), nil
}

// List は全ユーザーを登録順に返す。
func (s *Service) List(ctx context.Context) ([]*model.User, error) {
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]*model.User, len(users))
	for i, u := range users {
		out[i] = u.Public()
	}
	return out, nil
}

// Update はユーザー自身のプロフィールを更新する。
// 他ユーザーの更新はFORBIDDEN、メールアドレスの重複はVALIDATION_ERRORを返す。
func (s *Service) Update(ctx context.Context, callerID, id string, in UpdateInput) (*model.User, error) {
	if callerID != id {
		return nil, model.NewForbiddenError()
	}

	in = in.normalized()
	if err := in.Validate(); err != nil {
		return nil, model.NewValidationError(err.Error())
	}

	// パスワードのハッシュ化はトランザクションの外で行う
	var newHash string
	if in.Password != nil {
		hashed, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, err
		}
		newHash = hashed
	}

	var updated *model.User
	err := s.txManager.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		u, err := repos.Users.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if u == nil {
			return model.NewUserNotFoundError()
		}

		if in.Name != nil {
			u.Name = *in.Name
		}
		if in.Email != nil && *in.Email != u.Email {
			other, err := repos.Users.FindByEmail(ctx, *in.Email)
			if err != nil {
				return fmt.Errorf("failed to find user: %w", err)
			}
			if other != nil {
				return duplicateEmailError()
			}
			u.Email = *in.Email
		}
		if newHash != "" {
			u.PasswordHash = newHash
		}
		u.UpdatedAt = s.now()

		if err := repos.Users.Update(ctx, u); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return duplicateEmailError()
			}
			return fmt.Errorf("failed to update user: %w", err)
		}

		updated = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("user updated", slog.String("user_id", id))
	return updated.Public(), nil
}

// Delete はユーザー自身のアカウントを関連データとともに削除する。
// 削除順序: 付けたいいね → 自分の投稿に付いたいいね → 投稿 → ユーザー
// すべて1つのトランザクションで行う。
func (s *Service) Delete(ctx context.Context, callerID, id string) error {
	if callerID != id {
		return model.NewForbiddenError()
	}

	err := s.txManager.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		u, err := repos.Users.FindByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to find user: %w", err)
		}
		if u == nil {
			return model.NewUserNotFoundError()
		}

		// 1. ユーザーが付けたいいねを削除
		if err := repos.Likes.DeleteByUserID(ctx, id); err != nil {
			return fmt.Errorf("failed to delete likes given by user: %w", err)
		}

		// 2. ユーザーの投稿に付いたいいねを削除
		if err := repos.Likes.DeleteByPostAuthor(ctx, id); err != nil {
			return fmt.Errorf("failed to delete likes on user's posts: %w", err)
		}

		// 3. 投稿を削除
		if err := repos.Posts.DeleteByUserID(ctx, id); err != nil {
			return fmt.Errorf("failed to delete posts: %w", err)
		}

		// 4. ユーザーを削除
		if err := repos.Users.DeleteByID(ctx, id); err != nil {
			return fmt.Errorf("failed to delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.Info("user deleted", slog.String("user_id", id))
	return nil
}

func duplicateEmailError() *model.APIError {
	return model.NewValidationError("このメールアドレスは既に登録されています")
}
