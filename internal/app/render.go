package app

import (
	"fmt"
	"sort"
	"strings"

	"ticketsync/internal/zendesk"
)

const attachmentsHeader = "\n\n**Attachments**\n"

// buildPostBody renders a remote comment into the raw body of a local post.
// Pure and deterministic: same comment, same bytes.
func buildPostBody(comment *zendesk.Comment) string {
	// Prefer the html_body to preserve inline links when available.
	base := comment.HTMLBody
	if base == "" {
		base = comment.Body
	}
	return base + buildAttachmentsBody(comment)
}

// buildAttachmentsBody renders the attachments section. Any panic while
// rendering degrades to an empty section rather than failing the sync, so a
// malformed attachment can never block the post itself.
func buildAttachmentsBody(comment *zendesk.Comment) (body string) {
	defer func() {
		if recover() != nil {
			body = ""
		}
	}()

	if len(comment.Attachments) == 0 {
		return ""
	}

	lines := make([]string, 0, len(comment.Attachments))
	for i := range comment.Attachments {
		attachment := &comment.Attachments[i]
		if attachment.Deleted {
			continue
		}
		if len(attachment.Thumbnails) > 0 && !attachment.Thumbnails[0].Deleted {
			thumbnail := attachment.Thumbnails[0]
			lines = append(lines, fmt.Sprintf("[![](%s)](%s) ", contentURL(thumbnail), contentURL(attachment)))
		} else {
			lines = append(lines, fmt.Sprintf("\n* [%s (%s)](%s)", attachment.FileName, attachment.ContentType, contentURL(attachment)))
		}
	}

	if len(lines) == 0 {
		return ""
	}

	// Sort the rendered lines and reverse so thumbnail entries land above the
	// plain links. This is a textual sort of the literal line strings, kept
	// for byte-for-byte compatibility with the upstream renderer.
	sort.Strings(lines)
	for left, right := 0, len(lines)-1; left < right; left, right = left+1, right-1 {
		lines[left], lines[right] = lines[right], lines[left]
	}

	return attachmentsHeader + strings.Join(lines, "")
}

func contentURL(attachment *zendesk.Attachment) string {
	if attachment.MappedContentURL != "" {
		return attachment.MappedContentURL
	}
	return attachment.ContentURL
}
