// Package search indexes synced posts into Meilisearch, best effort. Index
// failures are logged and never surfaced to the webhook path.
package search

import (
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"ticketsync/internal/store"
)

const idxPosts = "ticketsync_posts"

// PostRecord is the indexed shape of a synced post.
type PostRecord struct {
	ID         string `json:"id"`
	TopicID    string `json:"topicId"`
	TopicTitle string `json:"topicTitle"`
	UserID     string `json:"userId"`
	TicketID   string `json:"ticketId"`
	Body       string `json:"body"`
	CreatedAt  int64  `json:"createdAt"`
}

type Indexer struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewIndexer creates a Meilisearch client and configures the posts index.
// An unreachable Meilisearch is tolerated: indexing is skipped until the
// health loop sees it recover.
func NewIndexer(url, apiKey string) *Indexer {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Indexer{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Indexer) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPosts,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxPosts, err)
	}

	index := m.client.Index(idxPosts)
	filterable := []interface{}{"topicId", "ticketId", "userId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxPosts, err)
	}
	searchable := []string{"body", "topicTitle"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxPosts, err)
	}
}

func (m *Indexer) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// IndexPost pushes one synced post into the index.
func (m *Indexer) IndexPost(post store.Post, topic store.Topic, ticketID string) {
	if !m.healthy.Load() {
		return
	}
	record := PostRecord{
		ID:         post.ID,
		TopicID:    post.TopicID,
		TopicTitle: topic.Title,
		UserID:     post.UserID,
		TicketID:   ticketID,
		Body:       post.Body,
		CreatedAt:  post.CreatedAt.Unix(),
	}
	if _, err := m.client.Index(idxPosts).AddDocuments([]PostRecord{record}, nil); err != nil {
		log.Printf("search: index post %s: %v", post.ID, err)
	}
}

// Close stops the background health monitor.
func (m *Indexer) Close() {
	close(m.done)
}
