package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/telkom-research/paperchat/internal/session"
)

// Store keeps per-conversation history in Redis lists. One list entry
// per turn, JSON-encoded, plus a small metadata hash per conversation.
// Every successful read or write slides the TTL on both keys.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func historyKey(conversationID string) string { return "conversation:" + conversationID }
func metaKey(conversationID string) string    { return "conversation:meta:" + conversationID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", session.ErrUnavailable, err)
}

func (s *Store) Append(ctx context.Context, conversationID string, msg session.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, historyKey(conversationID), payload)
		pipe.Expire(ctx, historyKey(conversationID), s.ttl)
		pipe.HSetNX(ctx, metaKey(conversationID), "created_at", now)
		pipe.HSet(ctx, metaKey(conversationID), "last_active_at", now)
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Read(ctx context.Context, conversationID string, limit int) ([]session.Message, error) {
	key := historyKey(conversationID)

	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if exists == 0 {
		return nil, session.ErrMiss
	}

	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	var lr *redis.StringSliceCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lr = pipe.LRange(ctx, key, start, -1)
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	vals := lr.Val()
	msgs := make([]session.Message, 0, len(vals))
	for _, v := range vals {
		var m session.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			log.Printf("skipping malformed history entry conversation_id=%s err=%v", conversationID, err)
			continue
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Store) Populate(ctx context.Context, conversationID string, msgs []session.Message) error {
	payloads := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		payloads = append(payloads, b)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, historyKey(conversationID))
		if len(payloads) > 0 {
			pipe.RPush(ctx, historyKey(conversationID), payloads...)
			pipe.Expire(ctx, historyKey(conversationID), s.ttl)
		}
		pipe.HSetNX(ctx, metaKey(conversationID), "created_at", now)
		pipe.HSet(ctx, metaKey(conversationID), "last_active_at", now)
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Trim(ctx context.Context, conversationID string, maxLen int) error {
	if maxLen <= 0 {
		// LTRIM cannot express "keep zero"
		if err := s.rdb.Del(ctx, historyKey(conversationID)).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}
	if err := s.rdb.LTrim(ctx, historyKey(conversationID), int64(-maxLen), -1).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Len(ctx context.Context, conversationID string) (int64, error) {
	n, err := s.rdb.LLen(ctx, historyKey(conversationID)).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if err := s.rdb.Del(ctx, historyKey(conversationID), metaKey(conversationID)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Info(ctx context.Context, conversationID string) (session.Session, error) {
	var (
		meta *redis.MapStringStringCmd
		llen *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		meta = pipe.HGetAll(ctx, metaKey(conversationID))
		llen = pipe.LLen(ctx, historyKey(conversationID))
		pttl = pipe.PTTL(ctx, metaKey(conversationID))
		return nil
	})
	if err != nil {
		return session.Session{}, unavailable(err)
	}

	m := meta.Val()
	if len(m) == 0 {
		return session.Session{}, session.ErrMiss
	}

	sess := session.Session{
		ConversationID: conversationID,
		MessageCount:   llen.Val(),
	}
	if t, perr := time.Parse(time.RFC3339Nano, m["created_at"]); perr == nil {
		sess.CreatedAt = t
	}
	if t, perr := time.Parse(time.RFC3339Nano, m["last_active_at"]); perr == nil {
		sess.LastActiveAt = t
	}
	if d := pttl.Val(); d > 0 {
		sess.TTLRemaining = d
	}
	return sess, nil
}

func (s *Store) Create(ctx context.Context, conversationID string) (session.Session, error) {
	now := time.Now().UTC()
	ts := now.Format(time.RFC3339Nano)

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, metaKey(conversationID), "created_at", ts)
		pipe.HSet(ctx, metaKey(conversationID), "last_active_at", ts)
		pipe.Expire(ctx, metaKey(conversationID), s.ttl)
		return nil
	})
	if err != nil {
		return session.Session{}, unavailable(err)
	}

	return session.Session{
		ConversationID: conversationID,
		CreatedAt:      now,
		LastActiveAt:   now,
		TTLRemaining:   s.ttl,
	}, nil
}
