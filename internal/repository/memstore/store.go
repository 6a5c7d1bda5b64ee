// Package memstore はrepositoryのインターフェースをメモリ上で実装する。
//
// トランザクションは開始時点のスナップショットに対して実行され、
// コミット時に記録した書き込みを最新の状態へ再適用する。
// 再適用時にも一意制約・外部キー制約を検査するため、
// 並行するトランザクション同士の競合はコミット時のErrDuplicateとして現れる。
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
)

// errForeignKey は参照先が存在しない書き込みを表す。
var errForeignKey = errors.New("foreign key violation")

// state はコミット済みまたはスナップショットのデータ。
type state struct {
	users map[string]model.User
	posts map[string]model.Post
	likes []model.Like
}

func newState() *state {
	return &state{
		users: make(map[string]model.User),
		posts: make(map[string]model.Post),
	}
}

func (s *state) clone() *state {
	c := &state{
		users: make(map[string]model.User, len(s.users)),
		posts: make(map[string]model.Post, len(s.posts)),
		likes: make([]model.Like, len(s.likes)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.posts {
		c.posts[k] = v
	}
	copy(c.likes, s.likes)
	return c
}

// Store はメモリ上のデータストア。並行に使用できる。
type Store struct {
	mu sync.Mutex
	st *state

	beforeCommit func()
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{st: newState()}
}

// SetBeforeCommitHook はトランザクションのコミット直前に呼ばれる関数を設定する。
// テストで並行トランザクションの実行順序を揃えるために使用する。
func (s *Store) SetBeforeCommitHook(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = fn
}

// Repositories は呼び出しごとに即時コミットされるリポジトリの組を返す。
func (s *Store) Repositories() repository.Repositories {
	return newView(s, nil).repositories()
}

// WithinTx はfnをスナップショット上で実行し、成功時に書き込みをまとめて適用する。
// 再適用中にいずれかの書き込みが失敗した場合は何も反映しない。
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	snap := s.st.clone()
	hook := s.beforeCommit
	s.mu.Unlock()

	tx := newView(nil, snap)
	if err := fn(ctx, tx.repositories()); err != nil {
		return err
	}

	if hook != nil {
		hook()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	for _, op := range tx.ops {
		if err := op(work); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
	}
	s.st = work

	return nil
}

// view は即時コミット（store != nil）またはトランザクション（snap != nil）の読み書き窓口。
type view struct {
	store *Store
	snap  *state
	ops   []func(st *state) error
}

func newView(store *Store, snap *state) *view {
	return &view{store: store, snap: snap}
}

func (v *view) repositories() repository.Repositories {
	return repository.Repositories{
		Users: &userRepo{v: v},
		Posts: &postRepo{v: v},
		Likes: &likeRepo{v: v},
	}
}

func (v *view) read(f func(st *state)) {
	if v.store != nil {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
		f(v.store.st)
		return
	}
	f(v.snap)
}

// write はopを適用する。opは検査をすべて終えてから状態を変更すること。
func (v *view) write(op func(st *state) error) error {
	if v.store != nil {
		v.store.mu.Lock()
		defer v.store.mu.Unlock()
		return op(v.store.st)
	}
	if err := op(v.snap); err != nil {
		return err
	}
	v.ops = append(v.ops, op)
	return nil
}

// deleteLikesWhere は条件に一致するいいねを取り除く。
func (s *state) deleteLikesWhere(match func(l model.Like) bool) {
	kept := s.likes[:0]
	for _, l := range s.likes {
		if !match(l) {
			kept = append(kept, l)
		}
	}
	s.likes = kept
}

// deletePostsWhere は条件に一致する投稿とそのいいねを取り除く。
func (s *state) deletePostsWhere(match func(p model.Post) bool) {
	removed := make(map[string]bool)
	for id, p := range s.posts {
		if match(p) {
			removed[id] = true
			delete(s.posts, id)
		}
	}
	s.deleteLikesWhere(func(l model.Like) bool { return removed[l.PostID] })
}

var _ repository.TxManager = (*Store)(nil)
