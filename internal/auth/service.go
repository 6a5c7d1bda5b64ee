// Package auth はパスワード認証、ユーザー登録、ベアラートークンの検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/smarbl/internal/credential"
	"github.com/hitoshi/smarbl/internal/metrics"
	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
	"github.com/hitoshi/smarbl/internal/token"
)

// ErrUnknownSubject はトークンの署名は正しいが、subjectのユーザーが存在しないことを表す。
var ErrUnknownSubject = errors.New("unknown token subject")

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, storedHash string) bool
	VerifyDummy(secret string) bool
}

// TokenCodec はトークンの発行と検証のインターフェース。
type TokenCodec interface {
	Issue(subject string) (*token.Issued, error)
	Decode(tokenString string) (*token.Claims, error)
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	hasher   PasswordHasher
	codec    TokenCodec
	metrics  metrics.MetricsCollector
	now      func() time.Time
	newID    func() string
}

// NewService はServiceを生成する。
func NewService(
	userRepo repository.UserRepository,
	hasher PasswordHasher,
	codec TokenCodec,
	collector metrics.MetricsCollector,
) *Service {
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	return &Service{
		userRepo: userRepo,
		hasher:   hasher,
		codec:    codec,
		metrics:  collector,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Login はメールアドレスとパスワードを照合し、トークンを発行する。
// ユーザーが存在しない場合もパスワード不一致の場合もINVALID_CREDENTIALSを返す。
// 存在しない場合もダミーハッシュと照合し、応答時間で区別できないようにする。
func (s *Service) Login(ctx context.Context, email, secret string) (*token.Issued, error) {
	user, err := s.userRepo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if user == nil {
		s.hasher.VerifyDummy(secret)
		s.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(secret, user.PasswordHash) {
		s.metrics.RecordLogin(metrics.LoginInvalidCredentials)
		return nil, model.NewInvalidCredentialsError()
	}

	issued, err := s.codec.Issue(user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	s.metrics.RecordLogin(metrics.LoginSuccess)
	slog.Info("user logged in", slog.String("user_id", user.ID))

	return issued, nil
}

// Register はユーザーを登録し、パスワードハッシュを除いたユーザーを返す。
// 入力形式の不正、メールアドレスの重複はVALIDATION_ERRORを返す。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in = in.normalized()
	if err := in.Validate(); err != nil {
		return nil, model.NewValidationError(err.Error())
	}

	// 1. メールアドレスの重複確認
	existing, err := s.userRepo.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if existing != nil {
		return nil, duplicateEmailError()
	}

	// 2. パスワードのハッシュ化（平文は保存しない）
	hashed, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	// 3. 作成（並行登録による一意制約違反も重複として扱う）
	now := s.now()
	user := &model.User{
		ID:           s.newID(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, duplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordRegistration()
	slog.Info("user registered", slog.String("user_id", user.ID))

	return user.Public(), nil
}

// Authenticate はベアラートークンを検証し、subjectのユーザーを返す。
//
// 返すエラー:
//   - token.ErrMalformedToken / token.ErrInvalidSignature / token.ErrExpired: トークン自体が無効
//   - ErrUnknownSubject: subjectのユーザーが存在しない
//
// それ以外はインフラ障害。
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*model.User, error) {
	claims, err := s.codec.Decode(tokenString)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, ErrUnknownSubject
	}

	return user.Public(), nil
}

func duplicateEmailError() *model.APIError {
	return model.NewValidationError("このメールアドレスは既に登録されています")
}

var _ PasswordHasher = (*credential.Hasher)(nil)
var _ TokenCodec = (*token.Codec)(nil)
