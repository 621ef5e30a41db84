// Package archive mirrors ticket attachments into S3-compatible object
// storage, best effort. Failures are logged; the webhook path never waits on
// or fails because of archival.
package archive

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"ticketsync/internal/zendesk"
)

type Archiver struct {
	client *minio.Client
	bucket string
	httpc  *http.Client
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Archiver, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		httpc:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// EnsureBucket creates the archive bucket when it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Archive downloads each non-deleted attachment and stores it under
// tickets/<ticketID>/comments/<commentID>/<fileName>.
func (a *Archiver) Archive(ctx context.Context, ticketID, commentID string, attachments []zendesk.Attachment) {
	for i := range attachments {
		attachment := &attachments[i]
		if attachment.Deleted || attachment.FileName == "" {
			continue
		}
		if err := a.archiveOne(ctx, ticketID, commentID, attachment); err != nil {
			log.Printf("archive: attachment %s (ticket %s): %v", attachment.FileName, ticketID, err)
		}
	}
}

func (a *Archiver) archiveOne(ctx context.Context, ticketID, commentID string, attachment *zendesk.Attachment) error {
	sourceURL := attachment.MappedContentURL
	if sourceURL == "" {
		sourceURL = attachment.ContentURL
	}
	if sourceURL == "" {
		return fmt.Errorf("no content url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	key := fmt.Sprintf("tickets/%s/comments/%s/%s", ticketID, commentID, attachment.FileName)
	_, err = a.client.PutObject(ctx, a.bucket, key, resp.Body, resp.ContentLength, minio.PutObjectOptions{
		ContentType: attachment.ContentType,
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
