package model

import "time"

// User is a registered forum account. PasswordHash never leaves the
// store layer; the json tag keeps it out of every response body.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Post embeds its replies and voter set. Votes is the cached
// cardinality of Voters, recomputed on every toggle.
type Post struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	AuthorUsername string    `json:"authorUsername"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Votes          int       `json:"votes"`
	Voters         []string  `json:"voters"`
	Replies        []Reply   `json:"replies"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Reply is owned by its parent post, ordered by append time and
// immutable once appended. AuthorUsername is a snapshot taken at
// append time; a later rename does not touch it.
type Reply struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	AuthorUsername string    `json:"authorUsername"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// HasVoted reports whether userID is present in the post's voter set.
func (p *Post) HasVoted(userID string) bool {
	for _, v := range p.Voters {
		if v == userID {
			return true
		}
	}
	return false
}
