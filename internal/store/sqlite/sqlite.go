package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/learnato/forum/internal/model"
	"github.com/learnato/forum/internal/store"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes the read-modify-write transactions
	// in withPost. With a pool, concurrent mutations of one post each
	// begin with a read lock and deadlock upgrading to the write lock,
	// which SQLite reports as an immediate SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	// Waits out writers from other processes sharing the file.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrations is an ordered list of SQL migrations.
// Each migration runs exactly once, tracked by schema_version table.
var migrations = []string{
	// Migration 1: Initial schema. A post row carries its replies and
	// voter set as JSON sequences, so every post mutation touches
	// exactly one row.
	`
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	author_username TEXT NOT NULL,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	votes INTEGER NOT NULL DEFAULT 0,
	voters TEXT NOT NULL DEFAULT '[]',
	replies TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_posts_votes ON posts(votes DESC);
`,
	// Future migrations go here:
	// Migration 2: `ALTER TABLE ...`,
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return err
	}

	var currentVersion int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&currentVersion); err != nil {
		return err
	}

	for i := currentVersion; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", i+1, err)
		}
	}

	return nil
}

func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users (id, username, password_hash, created_at)
VALUES (?, ?, ?, ?)
`, user.ID, user.Username, user.PasswordHash, user.CreatedAt.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateUsername
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, created_at
FROM users
WHERE id = ?
`, id)
	return scanUser(row)
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, username, password_hash, created_at
FROM users
WHERE username = ?
`, username)
	return scanUser(row)
}

func (s *Store) CreatePost(ctx context.Context, post *model.Post) error {
	voters, replies, err := marshalEmbedded(post)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO posts (id, user_id, author_username, title, content, votes, voters, replies, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, post.ID, post.UserID, post.AuthorUsername, post.Title, post.Content, post.Votes, voters, replies, post.CreatedAt.Unix())
	return err
}

func (s *Store) GetPost(ctx context.Context, id string) (model.Post, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, author_username, title, content, votes, voters, replies, created_at
FROM posts
WHERE id = ?
`, id)
	return scanPost(row)
}

func (s *Store) ListPosts(ctx context.Context, opts store.PostListOpts) ([]model.Post, error) {
	// Secondary keys keep the ordering deterministic when votes or
	// timestamps collide.
	order := "created_at DESC, id"
	if opts.Sort == store.SortVotes {
		order = "votes DESC, created_at DESC, id"
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
SELECT id, user_id, author_username, title, content, votes, voters, replies, created_at
FROM posts
ORDER BY %s
`, order))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

func (s *Store) ToggleVote(ctx context.Context, postID, userID string) (model.Post, error) {
	var post model.Post
	err := s.withPost(ctx, postID, func(p *model.Post) error {
		if p.HasVoted(userID) {
			voters := p.Voters[:0]
			for _, v := range p.Voters {
				if v != userID {
					voters = append(voters, v)
				}
			}
			p.Voters = voters
		} else {
			p.Voters = append(p.Voters, userID)
		}
		p.Votes = len(p.Voters)
		post = *p
		return nil
	})
	return post, err
}

func (s *Store) AddReply(ctx context.Context, postID string, reply model.Reply) (model.Post, error) {
	var post model.Post
	err := s.withPost(ctx, postID, func(p *model.Post) error {
		p.Replies = append(p.Replies, reply)
		post = *p
		return nil
	})
	return post, err
}

// withPost runs mutate against one post row inside a transaction: the
// row is read, changed in memory and written back before commit, so
// two concurrent mutations of the same post cannot interleave.
func (s *Store) withPost(ctx context.Context, postID string, mutate func(*model.Post) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, `
SELECT id, user_id, author_username, title, content, votes, voters, replies, created_at
FROM posts
WHERE id = ?
`, postID)
	post, err := scanPost(row)
	if err != nil {
		return err
	}
	if err = mutate(&post); err != nil {
		return err
	}
	voters, replies, err := marshalEmbedded(&post)
	if err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE posts SET votes = ?, voters = ?, replies = ? WHERE id = ?
`, post.Votes, voters, replies, postID); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

func scanUser(row *sql.Row) (model.User, error) {
	var u model.User
	var created int64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, store.ErrNotFound
		}
		return model.User{}, err
	}
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}

func scanPost(scanner interface{ Scan(dest ...any) error }) (model.Post, error) {
	var p model.Post
	var voters, replies string
	var created int64
	if err := scanner.Scan(&p.ID, &p.UserID, &p.AuthorUsername, &p.Title, &p.Content, &p.Votes, &voters, &replies, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Post{}, store.ErrNotFound
		}
		return model.Post{}, err
	}
	if err := json.Unmarshal([]byte(voters), &p.Voters); err != nil {
		return model.Post{}, fmt.Errorf("decode voters: %w", err)
	}
	if err := json.Unmarshal([]byte(replies), &p.Replies); err != nil {
		return model.Post{}, fmt.Errorf("decode replies: %w", err)
	}
	if p.Voters == nil {
		p.Voters = []string{}
	}
	if p.Replies == nil {
		p.Replies = []model.Reply{}
	}
	p.CreatedAt = time.Unix(created, 0)
	return p, nil
}

func marshalEmbedded(p *model.Post) (voters, replies string, err error) {
	if p.Voters == nil {
		p.Voters = []string{}
	}
	if p.Replies == nil {
		p.Replies = []model.Reply{}
	}
	v, err := json.Marshal(p.Voters)
	if err != nil {
		return "", "", err
	}
	r, err := json.Marshal(p.Replies)
	if err != nil {
		return "", "", err
	}
	return string(v), string(r), nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}
