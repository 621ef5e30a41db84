package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAlreadySynced reports a uniqueness conflict on the remote comment ID:
	// another delivery won the race and the comment is already mirrored.
	ErrAlreadySynced = errors.New("comment already synced")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetTopic(ctx context.Context, topicID string) (Topic, error) {
	const query = `SELECT id, title, category_id, created_at FROM topics WHERE id = $1`
	var topic Topic
	err := s.db.QueryRowContext(ctx, query, topicID).Scan(&topic.ID, &topic.Title, &topic.CategoryID, &topic.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Topic{}, ErrNotFound
	}
	if err != nil {
		return Topic{}, fmt.Errorf("lookup topic: %w", err)
	}
	return topic, nil
}

func (s *PostgresStore) CategorySyncEnabled(ctx context.Context, categoryID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, `SELECT sync_enabled FROM categories WHERE id = $1`, categoryID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup category: %w", err)
	}
	return enabled, nil
}

func (s *PostgresStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `SELECT id, username, email, is_system, created_at FROM users WHERE LOWER(email) = LOWER($1)`
	var user User
	err := s.db.QueryRowContext(ctx, query, email).Scan(&user.ID, &user.Username, &user.Email, &user.IsSystem, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user by email: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) SystemUser(ctx context.Context) (User, error) {
	const query = `SELECT id, username, email, is_system, created_at FROM users WHERE is_system LIMIT 1`
	var user User
	err := s.db.QueryRowContext(ctx, query).Scan(&user.ID, &user.Username, &user.Email, &user.IsSystem, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("system user missing (migrations not applied?)")
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup system user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) FindSyncRecord(ctx context.Context, remoteCommentID string) (SyncRecord, error) {
	const query = `SELECT post_id, remote_comment_id, created_at FROM post_sync_records WHERE remote_comment_id = $1`
	var record SyncRecord
	err := s.db.QueryRowContext(ctx, query, remoteCommentID).Scan(&record.PostID, &record.RemoteCommentID, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SyncRecord{}, ErrNotFound
	}
	if err != nil {
		return SyncRecord{}, fmt.Errorf("lookup sync record: %w", err)
	}
	return record, nil
}

// CreateSyncedPost inserts the post and its sync record in one transaction.
// The UNIQUE constraint on post_sync_records.remote_comment_id is what closes
// the race between concurrent deliveries of the same comment: the loser gets
// ErrAlreadySynced and nothing is written.
func (s *PostgresStore) CreateSyncedPost(ctx context.Context, topicID, userID, body, remoteCommentID string) (Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, fmt.Errorf("begin create post tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	post := Post{
		ID:      newID("post"),
		TopicID: topicID,
		UserID:  userID,
		Body:    body,
	}
	const insertPost = `
		INSERT INTO posts (id, topic_id, user_id, body)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`
	if err := tx.QueryRowContext(ctx, insertPost, post.ID, post.TopicID, post.UserID, post.Body).Scan(&post.CreatedAt); err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}

	const insertRecord = `
		INSERT INTO post_sync_records (post_id, remote_comment_id)
		VALUES ($1, $2)
	`
	if _, err := tx.ExecContext(ctx, insertRecord, post.ID, remoteCommentID); err != nil {
		if isUniqueViolation(err) {
			return Post{}, ErrAlreadySynced
		}
		return Post{}, fmt.Errorf("insert sync record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return Post{}, ErrAlreadySynced
		}
		return Post{}, fmt.Errorf("commit create post tx: %w", err)
	}
	return post, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func newID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return prefix + "_" + hex.EncodeToString(bytes)
}
