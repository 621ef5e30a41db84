package store

import "time"

type Category struct {
	ID          string
	Name        string
	SyncEnabled bool
	CreatedAt   time.Time
}

type Topic struct {
	ID         string
	Title      string
	CategoryID string
	CreatedAt  time.Time
}

type User struct {
	ID        string
	Username  string
	Email     string
	IsSystem  bool
	CreatedAt time.Time
}

type Post struct {
	ID        string
	TopicID   string
	UserID    string
	Body      string
	CreatedAt time.Time
}

// SyncRecord is the persisted proof that a remote comment has already been
// mirrored as a local post. One record per remote comment, never updated.
type SyncRecord struct {
	PostID          string
	RemoteCommentID string
	CreatedAt       time.Time
}
