package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"ticketsync/internal/config"
	"ticketsync/internal/store"
	"ticketsync/internal/zendesk"
)

// WebhookInput carries the fields of an inbound ticket webhook.
type WebhookInput struct {
	Token    string
	TicketID string
	TopicID  string
	Email    string
}

type dataStore interface {
	Ping(context.Context) error
	GetTopic(context.Context, string) (store.Topic, error)
	CategorySyncEnabled(context.Context, string) (bool, error)
	FindUserByEmail(context.Context, string) (store.User, error)
	SystemUser(context.Context) (store.User, error)
	FindSyncRecord(context.Context, string) (store.SyncRecord, error)
	CreateSyncedPost(ctx context.Context, topicID, userID, body, remoteCommentID string) (store.Post, error)
}

type ticketClient interface {
	LatestComment(ctx context.Context, ticketID string) (*zendesk.Comment, error)
}

// syncCache is an advisory fast path in front of the sync-record lookup.
// Misses and failures fall through to the store; it never decides a sync.
type syncCache interface {
	Seen(ctx context.Context, commentID string) bool
	MarkSeen(ctx context.Context, commentID string)
}

type postIndexer interface {
	IndexPost(post store.Post, topic store.Topic, ticketID string)
}

type attachmentArchiver interface {
	Archive(ctx context.Context, ticketID, commentID string, attachments []zendesk.Attachment)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	tickets  ticketClient
	cache    syncCache
	indexer  postIndexer
	archiver attachmentArchiver
}

func New(cfg config.Config, dataStore dataStore, tickets ticketClient) *Service {
	return &Service{cfg: cfg, store: dataStore, tickets: tickets}
}

func (s *Service) UseCache(cache syncCache) {
	s.cache = cache
}

func (s *Service) UseIndexer(indexer postIndexer) {
	s.indexer = indexer
}

func (s *Service) UseArchiver(archiver attachmentArchiver) {
	s.archiver = archiver
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SyncLatestComment mirrors the most recent comment of a ticket into the
// target topic, at most once per remote comment ID. A nil return means the
// webhook was accepted, whether or not a post was created.
func (s *Service) SyncLatestComment(ctx context.Context, in WebhookInput) error {
	token := s.cfg.ZendeskWebhookToken
	if token == "" || token != in.Token {
		return errUnauthorized()
	}

	if !s.cfg.ZendeskEnabled || !s.cfg.SyncCommentsFromZendesk {
		return errSyncDisabled()
	}

	ticketID := strings.TrimSpace(in.TicketID)
	if ticketID == "" {
		return errInvalidParameters("ticket_id")
	}

	topic, err := s.store.GetTopic(ctx, strings.TrimSpace(in.TopicID))
	if errors.Is(err, store.ErrNotFound) {
		return errInvalidParameters("topic_id")
	}
	if err != nil {
		return fmt.Errorf("resolve topic: %w", err)
	}

	enabled, err := s.store.CategorySyncEnabled(ctx, topic.CategoryID)
	if err != nil {
		return fmt.Errorf("check category: %w", err)
	}
	if !enabled {
		// Accepted without action: the sender must not be led to retry.
		return nil
	}

	user, err := s.resolveActor(ctx, in.Email)
	if err != nil {
		return fmt.Errorf("resolve actor: %w", err)
	}

	comment, err := s.tickets.LatestComment(ctx, ticketID)
	if err != nil {
		return errUpstream(err)
	}
	if comment == nil {
		return nil
	}

	commentID := strconv.FormatInt(comment.ID, 10)
	if s.cache != nil && s.cache.Seen(ctx, commentID) {
		return nil
	}
	if _, err := s.store.FindSyncRecord(ctx, commentID); err == nil {
		s.markSeen(ctx, commentID)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("check sync record: %w", err)
	}

	post, err := s.store.CreateSyncedPost(ctx, topic.ID, user.ID, buildPostBody(comment), commentID)
	if errors.Is(err, store.ErrAlreadySynced) {
		// A concurrent delivery won the race; this one is a duplicate.
		s.markSeen(ctx, commentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("create synced post: %w", err)
	}

	s.markSeen(ctx, commentID)
	if s.indexer != nil {
		s.indexer.IndexPost(post, topic, ticketID)
	}
	if s.archiver != nil {
		s.archiver.Archive(ctx, ticketID, commentID, comment.Attachments)
	}
	return nil
}

func (s *Service) resolveActor(ctx context.Context, email string) (store.User, error) {
	email = strings.TrimSpace(email)
	if email != "" {
		user, err := s.store.FindUserByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return store.User{}, err
		}
	}
	return s.store.SystemUser(ctx)
}

func (s *Service) markSeen(ctx context.Context, commentID string) {
	if s.cache == nil {
		return
	}
	s.cache.MarkSeen(ctx, commentID)
}
