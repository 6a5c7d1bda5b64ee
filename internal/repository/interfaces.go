// Package repository はデータ永続化のインターフェースを定義する。
//
// 各エンティティは外部キー（ID文字列）でのみ参照し合う。
// 関連レコードの削除はサービス層がトランザクション内で明示的に行う。
package repository

import (
	"context"
	"database/sql"

	"github.com/hitoshi/smarbl/internal/model"
)

// DBTX は*sql.DBと*sql.Txの共通インターフェース。
// リポジトリはトランザクションの内外どちらでも同じ実装で動作する。
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// List は全ユーザーを作成日時順に返す。
	List(ctx context.Context) ([]*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーの名前・メールアドレス・パスワードハッシュを更新する。
	// 対象が存在しない場合はErrNotFound、メールアドレスが重複する場合はErrDuplicateを返す。
	Update(ctx context.Context, user *model.User) error

	// DeleteByID は指定IDのユーザーを削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error
}

// PostRepository は投稿データの永続化インターフェース。
type PostRepository interface {
	// FindByID は指定IDの投稿を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Post, error)

	// ListByUserID は指定ユーザーの投稿を新しい順に返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Post, error)

	// Create は投稿を作成する。
	Create(ctx context.Context, post *model.Post) error

	// DeleteByID は指定IDの投稿を削除する。存在しない場合はErrNotFoundを返す。
	DeleteByID(ctx context.Context, id string) error

	// DeleteByUserID は指定ユーザーの全投稿を削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// LikeRepository はいいねデータの永続化インターフェース。
type LikeRepository interface {
	// Exists は(postID, userID)のいいねが存在するかを返す。
	Exists(ctx context.Context, postID, userID string) (bool, error)

	// Create はいいねを作成する。(postID, userID)が重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, like *model.Like) error

	// CountByPostID は投稿のいいね数を返す。
	CountByPostID(ctx context.Context, postID string) (int, error)

	// CountByPostIDs は存在する投稿ごとのいいね数を返す。
	// 存在しない投稿IDは結果に含まれない。
	CountByPostIDs(ctx context.Context, postIDs []string) (map[string]int, error)

	// ListLikersByPostID は投稿にいいねしたユーザーをいいねした順に返す。
	ListLikersByPostID(ctx context.Context, postID string) ([]*model.User, error)

	// DeleteByPostID は投稿に付いた全いいねを削除する。
	DeleteByPostID(ctx context.Context, postID string) error

	// DeleteByUserID は指定ユーザーが付けた全いいねを削除する。
	DeleteByUserID(ctx context.Context, userID string) error

	// DeleteByPostAuthor は指定ユーザーの投稿に付いた全いいねを削除する。
	DeleteByPostAuthor(ctx context.Context, authorID string) error
}

// Repositories は同一のトランザクション（または接続）に束ねられたリポジトリの組。
type Repositories struct {
	Users UserRepository
	Posts PostRepository
	Likes LikeRepository
}

// TxManager はユニットオブワークの境界を提供する。
type TxManager interface {
	// WithinTx はfnを1つのトランザクション内で実行する。
	// fnがエラーを返すか、ctxがキャンセルされた場合は全体をロールバックし、
	// それ以外はコミットする。途中までの書き込みが残ることはない。
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
