// internal/ingest/extract.go
package ingest

import "github.com/fyrsmithlabs/msgvault/internal/socket"

// extractText returns the best-effort text of an event: the first non-empty
// value among plain text and the caption fields of image, video, and
// document attachments, in that priority order. Nil for non-text content.
func extractText(event socket.MessageEvent) *string {
	candidates := []string{
		event.Conversation,
		event.ExtendedText,
		event.ImageCaption,
		event.VideoCaption,
		event.DocumentCaption,
	}
	for _, candidate := range candidates {
		if candidate != "" {
			text := candidate
			return &text
		}
	}
	return nil
}
