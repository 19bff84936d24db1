package pipeline

import (
	"context"

	"github.com/telkom-research/paperchat/internal/session"
)

type IncrementKind string

const (
	IncrementToken     IncrementKind = "token"
	IncrementRationale IncrementKind = "rationale"
)

// Increment is one streamed fragment of an answer in progress. Token
// fragments belong to the answer text; rationale fragments are the
// model's working notes and never land in history.
type Increment struct {
	Kind IncrementKind
	Text string
}

// Request carries everything the pipeline needs for one turn.
type Request struct {
	Query    string
	Context  string
	History  []session.Message
	Language string // answer language tag, e.g. "en-US"; empty leaves it to the model
}

// Result is the completed answer plus the context source ids it cited.
type Result struct {
	Answer  string
	Sources []string
}

// Pipeline produces an answer incrementally. Implementations close incs
// once no more increments will arrive, then deliver exactly one value
// on results or errs. The terminal channels are buffered and never
// closed, so a producer cannot block after the consumer walks away.
type Pipeline interface {
	Run(ctx context.Context, req Request) (incs <-chan Increment, results <-chan Result, errs <-chan error)
}

const systemPrompt = "You are a research assistant answering questions about scientific papers. " +
	"Ground every claim in the provided context and cite supporting passages by their bracketed ids, e.g. [doc-3]. " +
	"If the context does not cover the question, say so."

type promptMsg struct {
	Role    string
	Content string
}

// buildPrompt flattens context and history into provider chat messages,
// oldest turn first, ending with the current query.
func buildPrompt(req Request) []promptMsg {
	out := make([]promptMsg, 0, 2*len(req.History)+2)

	sys := systemPrompt
	if req.Language != "" {
		sys += "\nRespond in " + req.Language + "."
	}
	if req.Context != "" {
		sys += "\n\nContext:\n" + req.Context
	}
	out = append(out, promptMsg{Role: "system", Content: sys})

	for _, m := range req.History {
		out = append(out, promptMsg{Role: "user", Content: m.Question})
		out = append(out, promptMsg{Role: "assistant", Content: m.Answer})
	}

	out = append(out, promptMsg{Role: "user", Content: req.Query})
	return out
}
