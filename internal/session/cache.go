package session

import (
	"context"
	"errors"
)

// ErrMiss reports that the fast tier holds no entry for the conversation.
// A miss is not an empty history: a miss triggers the durable fallback,
// an empty slice does not.
var ErrMiss = errors.New("session: cache miss")

// ErrUnavailable reports that the fast tier could not be reached.
var ErrUnavailable = errors.New("session: cache unavailable")

// HistoryCache is the expiring fast tier for conversation history.
// Implementations own the TTL: every successful read or write slides it.
type HistoryCache interface {
	// Append adds one message to the end of the conversation's history,
	// creating the entry (and its metadata) if needed.
	Append(ctx context.Context, conversationID string, msg Message) error

	// Read returns up to limit most recent messages in chronological
	// order. limit <= 0 means all. Returns ErrMiss when the conversation
	// has no cache entry and ErrUnavailable when the tier is down.
	Read(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// Populate replaces the conversation's cached history wholesale.
	Populate(ctx context.Context, conversationID string, msgs []Message) error

	// Trim drops the oldest messages so at most maxLen remain.
	Trim(ctx context.Context, conversationID string, maxLen int) error

	// Len returns the number of cached messages.
	Len(ctx context.Context, conversationID string) (int64, error)

	// Delete removes the conversation's history and metadata.
	Delete(ctx context.Context, conversationID string) error

	// Info returns the conversation's live state. ErrMiss when unknown.
	Info(ctx context.Context, conversationID string) (Session, error)

	// Create eagerly registers a conversation before its first message.
	Create(ctx context.Context, conversationID string) (Session, error)
}
