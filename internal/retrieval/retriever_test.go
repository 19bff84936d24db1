package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testCorpus = `[
  {"id": "attention-2017", "title": "Attention Is All You Need", "text": "The transformer replaces recurrence with self attention over token sequences."},
  {"id": "bert-2018", "title": "BERT Pre-training", "text": "Deep bidirectional transformers pretrained with masked language modeling."},
  {"id": "rag-2020", "title": "Retrieval-Augmented Generation", "text": "Combines a dense retriever with a generator for knowledge intensive tasks."},
  {"id": "gpt3-2020", "title": "Language Models are Few-Shot Learners", "text": "Scaling language models improves few shot performance across tasks."}
]`

func writeCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papers.json")
	if err := os.WriteFile(path, []byte(testCorpus), 0o644); err != nil {
		t.Fatalf("write corpus: %v", err)
	}
	return path
}

func TestFileRetriever_RanksByOverlap(t *testing.T) {
	r, err := NewFileRetriever(writeCorpus(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// bert-2018 overlaps on five tokens, gpt3-2020 on one
	got, err := r.Retrieve(context.Background(), "bidirectional transformers masked language modeling", 2)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 passages, got %d", len(got))
	}
	if got[0].ID != "bert-2018" || got[1].ID != "gpt3-2020" {
		t.Fatalf("unexpected ranking: %q, %q", got[0].ID, got[1].ID)
	}
}

func TestFileRetriever_SkipsZeroScores(t *testing.T) {
	r, err := NewFileRetriever(writeCorpus(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "quantum chromodynamics lattice", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %d", len(got))
	}
}

func TestFileRetriever_EmptyQuery(t *testing.T) {
	r, err := NewFileRetriever(writeCorpus(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got, err := r.Retrieve(context.Background(), "   ?! ", 3)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for an empty query, got %v", got)
	}
}

func TestFileRetriever_DefaultTopK(t *testing.T) {
	r, err := NewFileRetriever(writeCorpus(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// every passage matches at least one token; gpt3-2020 matches three
	got, err := r.Retrieve(context.Background(), "language models tasks transformers retrieval attention", 0)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("default top-k should cap at 3, got %d", len(got))
	}
	if got[0].ID != "gpt3-2020" {
		t.Fatalf("expected gpt3-2020 ranked first, got %q", got[0].ID)
	}
}

func TestNewFileRetriever_BadInput(t *testing.T) {
	if _, err := NewFileRetriever(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for a missing corpus")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewFileRetriever(path); err == nil {
		t.Fatalf("expected error for a malformed corpus")
	}
}

func TestFormatContext_BracketedBlocks(t *testing.T) {
	got := FormatContext([]Passage{
		{ID: "doc-1", Title: "First", Text: "alpha"},
		{ID: "doc-2", Title: "Second", Text: "beta"},
	})

	want := "[doc-1] First\nalpha\n\n[doc-2] Second\nbeta"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if FormatContext(nil) != "" {
		t.Fatalf("no passages should format to an empty string")
	}
}

func TestEmpty_ReturnsNothing(t *testing.T) {
	got, err := Empty{}.Retrieve(context.Background(), "anything", 5)
	if err != nil || got != nil {
		t.Fatalf("expected nil, nil; got %v, %v", got, err)
	}
}

func TestTokenize_DropsShortTokens(t *testing.T) {
	toks := tokenize("A transformer, of self-attention! x")
	if _, ok := toks["transformer"]; !ok {
		t.Fatalf("expected transformer token, got %v", toks)
	}
	if _, ok := toks["a"]; ok {
		t.Fatalf("single-rune tokens must be dropped")
	}
	if _, ok := toks["self"]; !ok {
		t.Fatalf("hyphenated words should split, got %v", toks)
	}
	if _, ok := toks["of"]; !ok {
		t.Fatalf("two-rune tokens survive, got %v", toks)
	}
}
