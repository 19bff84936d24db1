package session

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/telkom-research/paperchat/internal/common"
)

// Options tunes the Manager. Zero values fall back to defaults.
type Options struct {
	// MaxMessages caps the cached history per conversation; older turns
	// are trimmed away (the durable log keeps everything).
	MaxMessages int

	WriteQueueSize int
	WriteWorkers   int
	WriteAttempts  int
	WriteBackoff   time.Duration
}

// Manager coordinates the two history tiers: an expiring fast tier and
// a durable slow tier written behind the request path. The durable tier
// is optional; without it history simply dies with the cache TTL.
type Manager struct {
	cache       HistoryCache
	durable     DurableLog
	writer      *durableWriter
	maxMessages int
}

func NewManager(cache HistoryCache, durable DurableLog, opts Options) *Manager {
	maxMessages := opts.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 50
	}

	m := &Manager{
		cache:       cache,
		durable:     durable,
		maxMessages: maxMessages,
	}
	if durable != nil {
		m.writer = newDurableWriter(durable, opts.WriteWorkers, opts.WriteQueueSize, opts.WriteAttempts, opts.WriteBackoff)
	}
	return m
}

func (m *Manager) MaxMessages() int { return m.maxMessages }

// GetHistory returns up to limit most recent turns, oldest first. It
// never fails the caller: a cache miss falls back to the durable log
// (repopulating the cache), an outage degrades to whatever the durable
// log holds, and with nothing left it returns an empty history.
func (m *Manager) GetHistory(ctx context.Context, conversationID string, limit int) []Message {
	if conversationID == "" {
		return nil
	}

	msgs, err := m.cache.Read(ctx, conversationID, limit)
	switch {
	case err == nil:
		return msgs
	case errors.Is(err, ErrMiss):
		return m.historyFromDurable(ctx, conversationID, limit, true)
	default:
		log.Printf("history cache read failed conversation_id=%s err=%v", conversationID, err)
		// do not repopulate through a failing cache
		return m.historyFromDurable(ctx, conversationID, limit, false)
	}
}

func (m *Manager) historyFromDurable(ctx context.Context, conversationID string, limit int, repopulate bool) []Message {
	if m.durable == nil {
		return nil
	}

	fetch := limit
	if repopulate && m.maxMessages > fetch {
		fetch = m.maxMessages
	}

	msgs, err := m.durable.Read(ctx, conversationID, fetch)
	if err != nil {
		log.Printf("durable read failed conversation_id=%s err=%v", conversationID, err)
		return nil
	}

	if repopulate && len(msgs) > 0 {
		if err := m.cache.Populate(ctx, conversationID, msgs); err != nil {
			log.Printf("history repopulate failed conversation_id=%s err=%v", conversationID, err)
		}
	}

	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs
}

// Append records one completed turn. The fast tier is written inline
// and trimmed to MaxMessages; the durable write is queued behind the
// request when persistDurable is set. It fails only when no tier
// accepted the message.
func (m *Manager) Append(ctx context.Context, conversationID string, msg Message, persistDurable bool) error {
	if conversationID == "" {
		return errors.New("session: conversation id is empty")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	cacheErr := m.cache.Append(ctx, conversationID, msg)
	if cacheErr != nil {
		log.Printf("history cache append failed conversation_id=%s err=%v", conversationID, cacheErr)
	} else if err := m.cache.Trim(ctx, conversationID, m.maxMessages); err != nil {
		log.Printf("history trim failed conversation_id=%s err=%v", conversationID, err)
	}

	queued := false
	if persistDurable && m.writer != nil {
		queued = m.writer.enqueue(conversationID, msg)
		if !queued {
			log.Printf("durable write queue full conversation_id=%s", conversationID)
		}
	}

	if cacheErr != nil && !queued {
		return cacheErr
	}
	return nil
}

// StartSession mints a conversation id and eagerly registers it in the
// fast tier so SessionInfo works before the first turn lands. A cache
// outage degrades to a bare id: the first append recreates the entry.
func (m *Manager) StartSession(ctx context.Context) (Session, error) {
	id, err := common.NewULID()
	if err != nil {
		return Session{}, err
	}
	sess, err := m.cache.Create(ctx, id)
	if err != nil {
		log.Printf("session create failed conversation_id=%s err=%v", id, err)
		return Session{ConversationID: id}, nil
	}
	return sess, nil
}

// Prune drops the oldest cached turns so at most keep remain, and
// reports how many were removed. keep <= 0 clears the conversation.
func (m *Manager) Prune(ctx context.Context, conversationID string, keep int) (int, error) {
	n, err := m.cache.Len(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if n <= int64(keep) {
		return 0, nil
	}
	if err := m.cache.Trim(ctx, conversationID, keep); err != nil {
		return 0, err
	}
	return int(n) - keep, nil
}

// DeleteSession removes the conversation from the fast tier. The
// durable log is untouched.
func (m *Manager) DeleteSession(ctx context.Context, conversationID string) error {
	return m.cache.Delete(ctx, conversationID)
}

func (m *Manager) SessionInfo(ctx context.Context, conversationID string) (Session, error) {
	return m.cache.Info(ctx, conversationID)
}

// Close drains pending durable writes. Call it on shutdown.
func (m *Manager) Close() {
	if m.writer != nil {
		m.writer.close()
	}
}
