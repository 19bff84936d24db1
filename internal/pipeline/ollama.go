package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type Ollama struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &Ollama{
		BaseURL: baseURL,
		Model:   model,
		// streaming answers can run long; ctx bounds each request
		Client: &http.Client{},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

type ollamaStreamResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

func (p *Ollama) Run(ctx context.Context, req Request) (<-chan Increment, <-chan Result, <-chan error) {
	incs := make(chan Increment, 16)
	results := make(chan Result, 1)
	errs := make(chan error, 1)

	go func() {
		answer, err := p.stream(ctx, req, incs)
		close(incs)
		if err != nil {
			errs <- err
			return
		}
		results <- Result{Answer: answer, Sources: ExtractCitations(answer, req.Context)}
	}()

	return incs, results, errs
}

func (p *Ollama) stream(ctx context.Context, req Request, incs chan<- Increment) (string, error) {
	if p.Client == nil {
		return "", errors.New("ollama: http client is nil")
	}

	reqBody := ollamaChatReq{
		Model:  p.Model,
		Stream: true,
		Messages: func() []ollamaMsg {
			out := make([]ollamaMsg, 0, len(req.History)*2+2)
			for _, m := range buildPrompt(req) {
				out = append(out, ollamaMsg{Role: m.Role, Content: m.Content})
			}
			return out
		}(),
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/api/chat", strings.TrimRight(p.BaseURL, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	// long JSON lines
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 2*1024*1024)

	var answer strings.Builder
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var decoded ollamaStreamResp
		if err := json.Unmarshal(line, &decoded); err != nil {
			return "", err
		}
		if decoded.Error != "" {
			return "", errors.New(decoded.Error)
		}

		if decoded.Message.Thinking != "" {
			if err := send(ctx, incs, Increment{Kind: IncrementRationale, Text: decoded.Message.Thinking}); err != nil {
				return "", err
			}
		}
		if decoded.Message.Content != "" {
			answer.WriteString(decoded.Message.Content)
			if err := send(ctx, incs, Increment{Kind: IncrementToken, Text: decoded.Message.Content}); err != nil {
				return "", err
			}
		}

		if decoded.Done {
			return answer.String(), nil
		}
	}

	if err := sc.Err(); err != nil {
		return "", err
	}
	return answer.String(), nil
}

// send delivers an increment without wedging the producer when the
// consumer is gone.
func send(ctx context.Context, incs chan<- Increment, inc Increment) error {
	select {
	case incs <- inc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
