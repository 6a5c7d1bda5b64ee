package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// NewPostgresRepositories はdb（*sql.DBまたは*sql.Tx）に束ねたリポジトリの組を返す。
func NewPostgresRepositories(db DBTX) Repositories {
	return Repositories{
		Users: NewPostgresUserRepo(db),
		Posts: NewPostgresPostRepo(db),
		Likes: NewPostgresLikeRepo(db),
	}
}

// PostgresTxManager はSERIALIZABLE分離レベルのトランザクションを提供する。
type PostgresTxManager struct {
	db   *sql.DB
	opts *sql.TxOptions
}

// NewPostgresTxManager はPostgresTxManagerを生成する。
func NewPostgresTxManager(db *sql.DB) *PostgresTxManager {
	return &PostgresTxManager{
		db:   db,
		opts: &sql.TxOptions{Isolation: sql.LevelSerializable},
	}
}

// WithinTx はfnを1つのトランザクション内で実行する。
// ctxがキャンセルされるとdatabase/sqlがトランザクションをロールバックする。
func (m *PostgresTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	tx, err := m.db.BeginTx(ctx, m.opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPQError(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, NewPostgresRepositories(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapPQError(err))
	}

	return nil
}

// compile-time interface check
var _ TxManager = (*PostgresTxManager)(nil)
