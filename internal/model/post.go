package model

import "time"

// Post はユーザーの投稿を表す。
// UserIDは投稿者のUser.IDを指す外部キー。
type Post struct {
	ID        string
	UserID    string
	Title     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Like は1ユーザーが1投稿に付けたいいねを表す。
// (PostID, UserID) の組は一意で、UserIDは投稿者と異なる。
// 作成後に更新されることはなく、投稿またはユーザーの削除時にのみ削除される。
type Like struct {
	ID        string
	PostID    string
	UserID    string
	CreatedAt time.Time
}
