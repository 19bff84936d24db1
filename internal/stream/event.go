package stream

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	EventStart     EventType = "start"
	EventToken     EventType = "token"
	EventRationale EventType = "rationale"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// Event is one element of the ordered response stream. Which fields are
// meaningful depends on Type; MarshalJSON emits only the fields that
// belong to each variant.
type Event struct {
	Type           EventType
	ConversationID string
	Timestamp      time.Time
	Content        string
	Sources        []string
}

func StartEvent(conversationID string, ts time.Time) Event {
	return Event{Type: EventStart, ConversationID: conversationID, Timestamp: ts}
}

func TokenEvent(text string) Event {
	return Event{Type: EventToken, Content: text}
}

func RationaleEvent(text string) Event {
	return Event{Type: EventRationale, Content: text}
}

// DoneEvent carries the complete answer so non-incremental clients can
// ignore the token events entirely.
func DoneEvent(answer string, sources []string) Event {
	return Event{Type: EventDone, Content: answer, Sources: sources}
}

func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Content: msg}
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStart:
		return json.Marshal(struct {
			Type           EventType `json:"type"`
			ConversationID string    `json:"conversation_id,omitempty"`
			Timestamp      string    `json:"timestamp"`
		}{e.Type, e.ConversationID, e.Timestamp.UTC().Format(time.RFC3339)})
	case EventDone:
		// sources is always present on done, even when empty
		srcs := e.Sources
		if srcs == nil {
			srcs = []string{}
		}
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
			Sources []string  `json:"sources"`
		}{e.Type, e.Content, srcs})
	default:
		return json.Marshal(struct {
			Type    EventType `json:"type"`
			Content string    `json:"content"`
		}{e.Type, e.Content})
	}
}

// SSESentinel terminates every server-sent-events response, after a
// done or error event.
const SSESentinel = "data: [DONE]\n\n"

// SSEFrame renders the event as one server-sent-events frame.
func SSEFrame(e Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(b)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, b...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
