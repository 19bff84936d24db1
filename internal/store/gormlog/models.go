package gormlog

import "time"

type Conversation struct {
	ID          string    `gorm:"primaryKey;type:varchar(128)" json:"id"`
	Title       *string   `gorm:"type:varchar(255)" json:"title"`
	IsIncognito bool      `gorm:"not null;default:false" json:"is_incognito"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

type Message struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"type:varchar(128);not null;index:idx_messages_conv_created,priority:1" json:"conversation_id"`
	Question       string    `gorm:"type:text;not null" json:"question"`
	Answer         string    `gorm:"type:text;not null" json:"answer"`
	Sources        string    `gorm:"type:text" json:"-"`
	CreatedAt      time.Time `gorm:"index:idx_messages_conv_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "messages" }
