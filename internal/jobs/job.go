package jobs

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	ConversationID string `gorm:"type:varchar(128);index;not null"`

	Query            string `gorm:"type:text;not null"`
	Language         string `gorm:"type:varchar(16)"`
	SourcePreference string `gorm:"type:varchar(32)"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_jobs_idempo,unique" json:"idempotency_key"`

	Status Status `gorm:"type:varchar(16);index;not null"`

	// Filled when succeeded
	Answer  string `gorm:"type:text"`
	Sources string `gorm:"type:text"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// SourceList decodes the stored sources column.
func (j *Job) SourceList() []string {
	if j.Sources == "" || j.Sources == "[]" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(j.Sources), &out); err != nil {
		return nil
	}
	return out
}
