package session

import "context"

// DurableLog is the slow tier: an append-only record of completed turns
// that survives cache expiry.
type DurableLog interface {
	Append(ctx context.Context, conversationID string, msg Message) error

	// Read returns up to limit most recent messages in chronological
	// order. An unknown conversation yields an empty slice, not an error.
	Read(ctx context.Context, conversationID string, limit int) ([]Message, error)
}
