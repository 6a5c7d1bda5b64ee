package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/hitoshi/smarbl/internal/model"
	"github.com/hitoshi/smarbl/internal/repository"
)

type userRepo struct{ v *view }

func (r *userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	var found *model.User
	r.v.read(func(st *state) {
		if u, ok := st.users[id]; ok {
			found = &u
		}
	})
	return found, nil
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var found *model.User
	r.v.read(func(st *state) {
		for _, u := range st.users {
			if u.Email == email {
				found = &u
				return
			}
		}
	})
	return found, nil
}

func (r *userRepo) List(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	r.v.read(func(st *state) {
		for _, u := range st.users {
			users = append(users, &u)
		}
	})
	sort.Slice(users, func(i, j int) bool {
		if users[i].CreatedAt.Equal(users[j].CreatedAt) {
			return users[i].ID < users[j].ID
		}
		return users[i].CreatedAt.Before(users[j].CreatedAt)
	})
	return users, nil
}

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	u := *user
	return r.v.write(func(st *state) error {
		if _, ok := st.users[u.ID]; ok {
			return fmt.Errorf("%w: users(id)", repository.ErrDuplicate)
		}
		if emailTaken(st, u.Email, u.ID) {
			return fmt.Errorf("%w: users(email)", repository.ErrDuplicate)
		}
		st.users[u.ID] = u
		return nil
	})
}

func (r *userRepo) Update(ctx context.Context, user *model.User) error {
	u := *user
	return r.v.write(func(st *state) error {
		current, ok := st.users[u.ID]
		if !ok {
			return fmt.Errorf("user %s: %w", u.ID, repository.ErrNotFound)
		}
		if emailTaken(st, u.Email, u.ID) {
			return fmt.Errorf("%w: users(email)", repository.ErrDuplicate)
		}
		u.CreatedAt = current.CreatedAt
		st.users[u.ID] = u
		return nil
	})
}

func (r *userRepo) DeleteByID(ctx context.Context, id string) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.users[id]; !ok {
			return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
		}
		// ON DELETE CASCADE 相当
		st.deleteLikesWhere(func(l model.Like) bool { return l.UserID == id })
		st.deletePostsWhere(func(p model.Post) bool { return p.UserID == id })
		delete(st.users, id)
		return nil
	})
}

func emailTaken(st *state, email, exceptID string) bool {
	for id, u := range st.users {
		if id != exceptID && u.Email == email {
			return true
		}
	}
	return false
}

type postRepo struct{ v *view }

func (r *postRepo) FindByID(ctx context.Context, id string) (*model.Post, error) {
	var found *model.Post
	r.v.read(func(st *state) {
		if p, ok := st.posts[id]; ok {
			found = &p
		}
	})
	return found, nil
}

func (r *postRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Post, error) {
	var posts []*model.Post
	r.v.read(func(st *state) {
		for _, p := range st.posts {
			if p.UserID == userID {
				posts = append(posts, &p)
			}
		}
	})
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.Equal(posts[j].CreatedAt) {
			return posts[i].ID < posts[j].ID
		}
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return posts, nil
}

func (r *postRepo) Create(ctx context.Context, post *model.Post) error {
	p := *post
	return r.v.write(func(st *state) error {
		if _, ok := st.users[p.UserID]; !ok {
			return fmt.Errorf("%w: posts(user_id)", errForeignKey)
		}
		if _, ok := st.posts[p.ID]; ok {
			return fmt.Errorf("%w: posts(id)", repository.ErrDuplicate)
		}
		st.posts[p.ID] = p
		return nil
	})
}

func (r *postRepo) DeleteByID(ctx context.Context, id string) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.posts[id]; !ok {
			return fmt.Errorf("post %s: %w", id, repository.ErrNotFound)
		}
		st.deletePostsWhere(func(p model.Post) bool { return p.ID == id })
		return nil
	})
}

func (r *postRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return r.v.write(func(st *state) error {
		st.deletePostsWhere(func(p model.Post) bool { return p.UserID == userID })
		return nil
	})
}

type likeRepo struct{ v *view }

func (r *likeRepo) Exists(ctx context.Context, postID, userID string) (bool, error) {
	exists := false
	r.v.read(func(st *state) {
		exists = likeExists(st, postID, userID)
	})
	return exists, nil
}

func (r *likeRepo) Create(ctx context.Context, like *model.Like) error {
	l := *like
	return r.v.write(func(st *state) error {
		if _, ok := st.posts[l.PostID]; !ok {
			return fmt.Errorf("%w: likes(post_id)", errForeignKey)
		}
		if _, ok := st.users[l.UserID]; !ok {
			return fmt.Errorf("%w: likes(user_id)", errForeignKey)
		}
		if likeExists(st, l.PostID, l.UserID) {
			return fmt.Errorf("%w: likes(post_id, user_id)", repository.ErrDuplicate)
		}
		st.likes = append(st.likes, l)
		return nil
	})
}

func (r *likeRepo) CountByPostID(ctx context.Context, postID string) (int, error) {
	count := 0
	r.v.read(func(st *state) {
		for _, l := range st.likes {
			if l.PostID == postID {
				count++
			}
		}
	})
	return count, nil
}

func (r *likeRepo) CountByPostIDs(ctx context.Context, postIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(postIDs))
	r.v.read(func(st *state) {
		for _, id := range postIDs {
			if _, ok := st.posts[id]; ok {
				counts[id] = 0
			}
		}
		for _, l := range st.likes {
			if _, ok := counts[l.PostID]; ok {
				counts[l.PostID]++
			}
		}
	})
	return counts, nil
}

func (r *likeRepo) ListLikersByPostID(ctx context.Context, postID string) ([]*model.User, error) {
	var users []*model.User
	r.v.read(func(st *state) {
		for _, l := range st.likes {
			if l.PostID != postID {
				continue
			}
			if u, ok := st.users[l.UserID]; ok {
				users = append(users, &u)
			}
		}
	})
	return users, nil
}

func (r *likeRepo) DeleteByPostID(ctx context.Context, postID string) error {
	return r.v.write(func(st *state) error {
		st.deleteLikesWhere(func(l model.Like) bool { return l.PostID == postID })
		return nil
	})
}

func (r *likeRepo) DeleteByUserID(ctx context.Context, userID string) error {
	return r.v.write(func(st *state) error {
		st.deleteLikesWhere(func(l model.Like) bool { return l.UserID == userID })
		return nil
	})
}

func (r *likeRepo) DeleteByPostAuthor(ctx context.Context, authorID string) error {
	return r.v.write(func(st *state) error {
		st.deleteLikesWhere(func(l model.Like) bool {
			p, ok := st.posts[l.PostID]
			return ok && p.UserID == authorID
		})
		return nil
	})
}

func likeExists(st *state, postID, userID string) bool {
	for _, l := range st.likes {
		if l.PostID == postID && l.UserID == userID {
			return true
		}
	}
	return false
}

var (
	_ repository.UserRepository = (*userRepo)(nil)
	_ repository.PostRepository = (*postRepo)(nil)
	_ repository.LikeRepository = (*likeRepo)(nil)
)
