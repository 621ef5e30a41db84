package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"ticketsync/internal/config"
	"ticketsync/internal/store"
	"ticketsync/internal/zendesk"
)

type fakeStore struct {
	pingFn                func(context.Context) error
	getTopicFn            func(context.Context, string) (store.Topic, error)
	categorySyncEnabledFn func(context.Context, string) (bool, error)
	findUserByEmailFn     func(context.Context, string) (store.User, error)
	systemUserFn          func(context.Context) (store.User, error)
	findSyncRecordFn      func(context.Context, string) (store.SyncRecord, error)
	createSyncedPostFn    func(ctx context.Context, topicID, userID, body, remoteCommentID string) (store.Post, error)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) GetTopic(ctx context.Context, topicID string) (store.Topic, error) {
	if f.getTopicFn != nil {
		return f.getTopicFn(ctx, topicID)
	}
	return store.Topic{ID: topicID, Title: "A topic", CategoryID: "cat-1"}, nil
}

func (f *fakeStore) CategorySyncEnabled(ctx context.Context, categoryID string) (bool, error) {
	if f.categorySyncEnabledFn != nil {
		return f.categorySyncEnabledFn(ctx, categoryID)
	}
	return true, nil
}

func (f *fakeStore) FindUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.findUserByEmailFn != nil {
		return f.findUserByEmailFn(ctx, email)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) SystemUser(ctx context.Context) (store.User, error) {
	if f.systemUserFn != nil {
		return f.systemUserFn(ctx)
	}
	return store.User{ID: "user_system", Username: "system", IsSystem: true}, nil
}

func (f *fakeStore) FindSyncRecord(ctx context.Context, remoteCommentID string) (store.SyncRecord, error) {
	if f.findSyncRecordFn != nil {
		return f.findSyncRecordFn(ctx, remoteCommentID)
	}
	return store.SyncRecord{}, store.ErrNotFound
}

func (f *fakeStore) CreateSyncedPost(ctx context.Context, topicID, userID, body, remoteCommentID string) (store.Post, error) {
	if f.createSyncedPostFn != nil {
		return f.createSyncedPostFn(ctx, topicID, userID, body, remoteCommentID)
	}
	return store.Post{ID: "post-1", TopicID: topicID, UserID: userID, Body: body}, nil
}

type fakeTickets struct {
	latestCommentFn func(ctx context.Context, ticketID string) (*zendesk.Comment, error)
}

func (f *fakeTickets) LatestComment(ctx context.Context, ticketID string) (*zendesk.Comment, error) {
	if f.latestCommentFn != nil {
		return f.latestCommentFn(ctx, ticketID)
	}
	return &zendesk.Comment{ID: 9001, Body: "a comment"}, nil
}

func newTestService(fs dataStore, tickets ticketClient) *Service {
	cfg := config.Config{
		ZendeskWebhookToken:     "hook-secret",
		ZendeskEnabled:          true,
		SyncCommentsFromZendesk: true,
	}
	return New(cfg, fs, tickets)
}

func validInput() WebhookInput {
	return WebhookInput{Token: "hook-secret", TicketID: "42", TopicID: "topic-1", Email: ""}
}

func assertDomainError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
}

func TestSyncRejectsMismatchedToken(t *testing.T) {
	created := false
	fs := &fakeStore{
		createSyncedPostFn: func(_ context.Context, topicID, userID, body, _ string) (store.Post, error) {
			created = true
			return store.Post{}, nil
		},
	}
	svc := newTestService(fs, &fakeTickets{})

	in := validInput()
	in.Token = "wrong"
	err := svc.SyncLatestComment(context.Background(), in)

	assertDomainError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
	if created {
		t.Fatal("expected no post creation")
	}
}

func TestSyncRejectsWhenSecretUnset(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeTickets{})
	svc.cfg.ZendeskWebhookToken = ""

	in := validInput()
	in.Token = ""
	err := svc.SyncLatestComment(context.Background(), in)

	assertDomainError(t, err, http.StatusUnauthorized, "UNAUTHORIZED")
}

func TestSyncFeatureDisabled(t *testing.T) {
	for _, name := range []string{"zendesk", "comments"} {
		t.Run(name, func(t *testing.T) {
			created := false
			fs := &fakeStore{
				createSyncedPostFn: func(_ context.Context, topicID, userID, body, _ string) (store.Post, error) {
					created = true
					return store.Post{}, nil
				},
			}
			svc := newTestService(fs, &fakeTickets{})
			if name == "zendesk" {
				svc.cfg.ZendeskEnabled = false
			} else {
				svc.cfg.SyncCommentsFromZendesk = false
			}

			err := svc.SyncLatestComment(context.Background(), validInput())

			assertDomainError(t, err, http.StatusUnprocessableEntity, "SYNC_DISABLED")
			if created {
				t.Fatal("expected no post creation")
			}
		})
	}
}

func TestSyncRequiresTicketID(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeTickets{})

	in := validInput()
	in.TicketID = "   "
	err := svc.SyncLatestComment(context.Background(), in)

	assertDomainError(t, err, http.StatusBadRequest, "INVALID_PARAMETERS")
}

func TestSyncRejectsUnknownTopic(t *testing.T) {
	fs := &fakeStore{
		getTopicFn: func(_ context.Context, _ string) (store.Topic, error) {
			return store.Topic{}, store.ErrNotFound
		},
	}
	svc := newTestService(fs, &fakeTickets{})

	err := svc.SyncLatestComment(context.Background(), validInput())

	assertDomainError(t, err, http.StatusBadRequest, "INVALID_PARAMETERS")
}

func TestSyncSkipsIneligibleCategory(t *testing.T) {
	fetched := false
	fs := &fakeStore{
		categorySyncEnabledFn: func(_ context.Context, _ string) (bool, error) {
			return false, nil
		},
	}
	tickets := &fakeTickets{
		latestCommentFn: func(_ context.Context, _ string) (*zendesk.Comment, error) {
			fetched = true
			return nil, nil
		},
	}
	svc := newTestService(fs, tickets)

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("expected silent acceptance, got %v", err)
	}
	if fetched {
		t.Fatal("expected no ticket fetch for ineligible category")
	}
}

func TestSyncFallsBackToSystemUser(t *testing.T) {
	var postedBy string
	fs := &fakeStore{
		createSyncedPostFn: func(_ context.Context, _, userID, _, _ string) (store.Post, error) {
			postedBy = userID
			return store.Post{ID: "post-1"}, nil
		},
	}
	svc := newTestService(fs, &fakeTickets{})

	in := validInput()
	in.Email = "stranger@example.com"
	if err := svc.SyncLatestComment(context.Background(), in); err != nil {
		t.Fatalf("SyncLatestComment: %v", err)
	}
	if postedBy != "user_system" {
		t.Fatalf("expected system user fallback, got %q", postedBy)
	}
}

func TestSyncUsesMatchedUser(t *testing.T) {
	var postedBy string
	fs := &fakeStore{
		findUserByEmailFn: func(_ context.Context, email string) (store.User, error) {
			if email != "alex@example.com" {
				t.Fatalf("unexpected email lookup %q", email)
			}
			return store.User{ID: "user-7", Email: email}, nil
		},
		createSyncedPostFn: func(_ context.Context, _, userID, _, _ string) (store.Post, error) {
			postedBy = userID
			return store.Post{ID: "post-1"}, nil
		},
	}
	svc := newTestService(fs, &fakeTickets{})

	in := validInput()
	in.Email = "alex@example.com"
	if err := svc.SyncLatestComment(context.Background(), in); err != nil {
		t.Fatalf("SyncLatestComment: %v", err)
	}
	if postedBy != "user-7" {
		t.Fatalf("expected matched user, got %q", postedBy)
	}
}

func TestSyncNoCommentIsAccepted(t *testing.T) {
	created := false
	fs := &fakeStore{
		createSyncedPostFn: func(_ context.Context, _, _, _, _ string) (store.Post, error) {
			created = true
			return store.Post{}, nil
		},
	}
	tickets := &fakeTickets{
		latestCommentFn: func(_ context.Context, _ string) (*zendesk.Comment, error) {
			return nil, nil
		},
	}
	svc := newTestService(fs, tickets)

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	if created {
		t.Fatal("expected no post creation without a comment")
	}
}

func TestSyncSkipsAlreadySyncedComment(t *testing.T) {
	created := false
	fs := &fakeStore{
		findSyncRecordFn: func(_ context.Context, remoteCommentID string) (store.SyncRecord, error) {
			return store.SyncRecord{PostID: "post-old", RemoteCommentID: remoteCommentID}, nil
		},
		createSyncedPostFn: func(_ context.Context, _, _, _, _ string) (store.Post, error) {
			created = true
			return store.Post{}, nil
		},
	}
	svc := newTestService(fs, &fakeTickets{})

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("expected acceptance, got %v", err)
	}
	if created {
		t.Fatal("expected no duplicate post")
	}
}

func TestSyncCreatesPostWithRenderedBody(t *testing.T) {
	var gotTopic, gotBody, gotCommentID string
	fs := &fakeStore{
		createSyncedPostFn: func(_ context.Context, topicID, _, body, remoteCommentID string) (store.Post, error) {
			gotTopic, gotBody, gotCommentID = topicID, body, remoteCommentID
			return store.Post{ID: "post-1", TopicID: topicID, Body: body}, nil
		},
	}
	tickets := &fakeTickets{
		latestCommentFn: func(_ context.Context, _ string) (*zendesk.Comment, error) {
			return &zendesk.Comment{ID: 9001, Body: "Hi", HTMLBody: "<p>Hi</p>"}, nil
		},
	}
	svc := newTestService(fs, tickets)

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("SyncLatestComment: %v", err)
	}
	if gotTopic != "topic-1" {
		t.Errorf("expected topic-1, got %q", gotTopic)
	}
	if gotBody != "<p>Hi</p>" {
		t.Errorf("expected rendered body, got %q", gotBody)
	}
	if gotCommentID != "9001" {
		t.Errorf("expected comment id 9001, got %q", gotCommentID)
	}
}

func TestSyncSwallowsUniqueViolation(t *testing.T) {
	fs := &fakeStore{
		createSyncedPostFn: func(_ context.Context, _, _, _, _ string) (store.Post, error) {
			return store.Post{}, store.ErrAlreadySynced
		},
	}
	svc := newTestService(fs, &fakeTickets{})

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("expected duplicate to be treated as success, got %v", err)
	}
}

func TestSyncUpstreamFailure(t *testing.T) {
	tickets := &fakeTickets{
		latestCommentFn: func(_ context.Context, _ string) (*zendesk.Comment, error) {
			return nil, errors.New("zendesk is down")
		},
	}
	svc := newTestService(&fakeStore{}, tickets)

	err := svc.SyncLatestComment(context.Background(), validInput())

	assertDomainError(t, err, http.StatusBadGateway, "UPSTREAM_ERROR")
}

func TestSyncRenderFailureStillCreatesPost(t *testing.T) {
	var gotBody string
	fs := &fakeStore{
		createSyncedPostFn: func(_ context.Context, _, _, body, _ string) (store.Post, error) {
			gotBody = body
			return store.Post{ID: "post-1", Body: body}, nil
		},
	}
	tickets := &fakeTickets{
		latestCommentFn: func(_ context.Context, _ string) (*zendesk.Comment, error) {
			return &zendesk.Comment{
				ID:   9001,
				Body: "hello",
				Attachments: []zendesk.Attachment{
					{FileName: "a.png", Thumbnails: []*zendesk.Attachment{nil}},
				},
			}, nil
		},
	}
	svc := newTestService(fs, tickets)

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("expected success despite render failure, got %v", err)
	}
	if gotBody != "hello" {
		t.Fatalf("expected base text only, got %q", gotBody)
	}
}

type fakeCache struct {
	mu   sync.Mutex
	seen map[string]bool
	hits int
}

func (f *fakeCache) Seen(_ context.Context, commentID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[commentID] {
		f.hits++
		return true
	}
	return false
}

func (f *fakeCache) MarkSeen(_ context.Context, commentID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	f.seen[commentID] = true
}

func TestSyncCacheShortCircuitsStoreLookup(t *testing.T) {
	lookedUp := false
	fs := &fakeStore{
		findSyncRecordFn: func(_ context.Context, _ string) (store.SyncRecord, error) {
			lookedUp = true
			return store.SyncRecord{}, store.ErrNotFound
		},
	}
	svc := newTestService(fs, &fakeTickets{})
	cache := &fakeCache{seen: map[string]bool{"9001": true}}
	svc.UseCache(cache)

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("SyncLatestComment: %v", err)
	}
	if lookedUp {
		t.Fatal("expected cache hit to skip the sync-record lookup")
	}
	if cache.hits != 1 {
		t.Fatalf("expected one cache hit, got %d", cache.hits)
	}
}

func TestSyncMarksCacheAfterCreate(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeTickets{})
	cache := &fakeCache{}
	svc.UseCache(cache)

	if err := svc.SyncLatestComment(context.Background(), validInput()); err != nil {
		t.Fatalf("SyncLatestComment: %v", err)
	}
	if !cache.seen["9001"] {
		t.Fatal("expected comment 9001 marked in cache")
	}
}

// racingStore enforces the remote-comment uniqueness the way the real store
// does, so concurrent deliveries exercise the duplicate-swallowing path.
type racingStore struct {
	fakeStore
	mu      sync.Mutex
	synced  map[string]string
	created int
}

func (r *racingStore) FindSyncRecord(_ context.Context, remoteCommentID string) (store.SyncRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if postID, ok := r.synced[remoteCommentID]; ok {
		return store.SyncRecord{PostID: postID, RemoteCommentID: remoteCommentID}, nil
	}
	return store.SyncRecord{}, store.ErrNotFound
}

func (r *racingStore) CreateSyncedPost(_ context.Context, topicID, userID, body, remoteCommentID string) (store.Post, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.synced[remoteCommentID]; ok {
		return store.Post{}, store.ErrAlreadySynced
	}
	r.created++
	post := store.Post{ID: "post-1", TopicID: topicID, UserID: userID, Body: body}
	r.synced[remoteCommentID] = post.ID
	return post, nil
}

func TestSyncConcurrentDeliveriesCreateOnePost(t *testing.T) {
	rs := &racingStore{synced: make(map[string]string)}
	svc := newTestService(rs, &fakeTickets{})

	const deliveries = 16
	var wg sync.WaitGroup
	errs := make([]error, deliveries)
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.SyncLatestComment(context.Background(), validInput())
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("delivery %d: unexpected error %v", i, err)
		}
	}
	if rs.created != 1 {
		t.Fatalf("expected exactly one post, got %d", rs.created)
	}
	if len(rs.synced) != 1 {
		t.Fatalf("expected exactly one sync record, got %d", len(rs.synced))
	}
}
