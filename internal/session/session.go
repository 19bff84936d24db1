package session

import "time"

// Message is one completed turn: the user's question plus the
// assistant's answer and the sources it cited.
type Message struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Session describes the live state of one conversation in the fast tier.
type Session struct {
	ConversationID string
	CreatedAt      time.Time
	LastActiveAt   time.Time
	MessageCount   int64
	TTLRemaining   time.Duration
}

// Meta carries the per-request knobs that travel with a chat call.
type Meta struct {
	Stream           bool
	ConversationID   string
	Incognito        bool
	Language         string
	SourcePreference string
	Timezone         string
}

// IsIncognito reports whether history must not be read or written for
// this request.
func IsIncognito(meta Meta) bool {
	return meta.Incognito
}
