package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

// Passage is one retrievable chunk of a paper.
type Passage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// Retriever finds context passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Empty returns no context. Used when retrieval is switched off.
type Empty struct{}

func (Empty) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	return nil, nil
}

// FileRetriever serves a JSON corpus loaded at startup, scored by token
// overlap with the query. Fine for demo corpora; a real index replaces
// this behind the same interface.
type FileRetriever struct {
	passages []Passage
}

func NewFileRetriever(path string) (*FileRetriever, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ps []Passage
	if err := json.Unmarshal(b, &ps); err != nil {
		return nil, fmt.Errorf("retrieval: parse %s: %w", path, err)
	}
	return &FileRetriever{passages: ps}, nil
}

func (r *FileRetriever) Retrieve(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		topK = 3
	}

	qTokens := tokenize(query)
	if len(qTokens) == 0 {
		return nil, nil
	}

	type scored struct {
		p     Passage
		score int
	}
	var hits []scored
	for _, p := range r.passages {
		s := overlap(qTokens, tokenize(p.Title+" "+p.Text))
		if s > 0 {
			hits = append(hits, scored{p: p, score: s})
		}
	}

	// ties keep corpus order
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > topK {
		hits = hits[:topK]
	}
	out := make([]Passage, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.p)
	}
	return out, nil
}

// FormatContext renders passages the way the answer pipeline expects:
// one block per passage, led by its bracketed id.
func FormatContext(passages []Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s\n%s", p.ID, p.Title, p.Text)
	}
	return b.String()
}

func tokenize(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		out[f] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for t := range a {
		if _, ok := b[t]; ok {
			n++
		}
	}
	return n
}
