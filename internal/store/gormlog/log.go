package gormlog

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/telkom-research/paperchat/internal/session"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Log is the durable slow tier behind the history cache.
type Log struct {
	db *gorm.DB
}

func NewLog(db *gorm.DB) *Log {
	return &Log{db: db}
}

func (l *Log) Append(ctx context.Context, conversationID string, msg session.Message) error {
	sources, err := encodeSources(msg.Sources)
	if err != nil {
		return err
	}

	createdAt := msg.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := &Conversation{ID: conversationID, Title: titleFrom(msg.Question)}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(conv).Error; err != nil {
			return err
		}
		return tx.Create(&Message{
			ConversationID: conversationID,
			Question:       msg.Question,
			Answer:         msg.Answer,
			Sources:        sources,
			CreatedAt:      createdAt,
		}).Error
	})
}

// Read returns the most recent messages in chronological order.
func (l *Log) Read(ctx context.Context, conversationID string, limit int) ([]session.Message, error) {
	q := l.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []Message
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	// reverse to ASC (oldest -> newest)
	msgs := make([]session.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		msgs = append(msgs, session.Message{
			Question:  r.Question,
			Answer:    r.Answer,
			Sources:   decodeSources(r.Sources),
			Timestamp: r.CreatedAt,
		})
	}
	return msgs, nil
}

func (l *Log) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	var c Conversation
	if err := l.db.WithContext(ctx).First(&c, "id = ?", conversationID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// DeleteConversation removes the conversation row and all its messages.
func (l *Log) DeleteConversation(ctx context.Context, conversationID string) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Conversation{}, "id = ?", conversationID).Error
	})
}

func titleFrom(question string) *string {
	t := strings.TrimSpace(question)
	if t == "" {
		return nil
	}
	if r := []rune(t); len(r) > 80 {
		t = string(r[:80])
	}
	return &t
}

func encodeSources(sources []string) (string, error) {
	if len(sources) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(sources)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSources(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
