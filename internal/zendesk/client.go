// Package zendesk is a minimal client for the Zendesk ticket comments API.
package zendesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Comment is a single message on a support ticket, as returned by the
// comments endpoint. Fetched per request, never persisted.
type Comment struct {
	ID          int64        `json:"id"`
	Body        string       `json:"body"`
	HTMLBody    string       `json:"html_body"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	FileName         string        `json:"file_name"`
	ContentType      string        `json:"content_type"`
	ContentURL       string        `json:"content_url"`
	MappedContentURL string        `json:"mapped_content_url"`
	Thumbnails       []*Attachment `json:"thumbnails"`
	Deleted          bool          `json:"deleted"`
}

type Client struct {
	baseURL  string
	username string
	apiToken string
	httpc    *http.Client
}

func NewClient(baseURL, username, apiToken string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		apiToken: apiToken,
		httpc:    &http.Client{Timeout: 15 * time.Second},
	}
}

// LatestComment fetches the most recent comment on a ticket. Returns nil
// without error when the ticket has no comments.
func (c *Client) LatestComment(ctx context.Context, ticketID string) (*Comment, error) {
	endpoint := fmt.Sprintf("%s/api/v2/tickets/%s/comments.json?sort_order=desc", c.baseURL, url.PathEscape(ticketID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build comments request: %w", err)
	}
	// Zendesk API token auth: "{email}/token" as the basic-auth user.
	req.SetBasicAuth(c.username+"/token", c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch comments for ticket %s: %w", ticketID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch comments for ticket %s: unexpected status %d", ticketID, resp.StatusCode)
	}

	var payload struct {
		Comments []Comment `json:"comments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode comments for ticket %s: %w", ticketID, err)
	}
	if len(payload.Comments) == 0 {
		return nil, nil
	}
	comment := payload.Comments[0]
	return &comment, nil
}
