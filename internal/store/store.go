package store

import (
	"context"
	"errors"

	"github.com/learnato/forum/internal/model"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateUsername = errors.New("duplicate username")
)

// Post sort keys accepted by ListPosts.
const (
	SortDate  = "date"
	SortVotes = "votes"
)

type PostListOpts struct {
	Sort string
}

type Store interface {
	UserStore
	PostStore
	Close() error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
}

type PostStore interface {
	CreatePost(ctx context.Context, post *model.Post) error
	GetPost(ctx context.Context, id string) (model.Post, error)
	ListPosts(ctx context.Context, opts PostListOpts) ([]model.Post, error)

	// ToggleVote flips userID's membership in the post's voter set and
	// recomputes the vote count, all inside one transaction so the
	// read-modify-write cannot interleave with another mutation of the
	// same post. Returns the post as stored after the toggle.
	ToggleVote(ctx context.Context, postID, userID string) (model.Post, error)

	// AddReply appends a reply to the post's reply sequence, same
	// single-transaction guarantee as ToggleVote.
	AddReply(ctx context.Context, postID string, reply model.Reply) (model.Post, error)
}
