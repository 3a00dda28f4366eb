package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/defuse/internal/util"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaBackend talks to a local Ollama server through /api/chat.
type OllamaBackend struct {
	baseURL    string
	httpClient *http.Client
	entry      ModelEntry
}

// Ollama API structures
type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"` // Max tokens
	Seed        *int     `json:"seed,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

type ollamaError struct {
	Error string `json:"error"`
}

// NewOllamaBackend creates a backend for an Ollama entry.
func NewOllamaBackend(entry ModelEntry, httpClient *http.Client) (*OllamaBackend, error) {
	baseURL := entry.BaseURL
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}

	return &OllamaBackend{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: util.WithHeaders(httpClient, entry.Headers),
		entry:      entry,
	}, nil
}

// Name returns the provider name
func (b *OllamaBackend) Name() string {
	return "ollama"
}

// Chat sends n sequential chat requests and returns each reply.
func (b *OllamaBackend) Chat(ctx context.Context, msgs []Message, params Params) ([]string, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, &ParamsError{Model: b.entry.Name, Err: err}
	}

	apiReq := ollamaRequest{
		Model:    b.entry.Model,
		Messages: make([]ollamaMessage, 0, len(msgs)),
		Stream:   false,
		Options: ollamaOptions{
			Temperature: p.Temperature,
			TopP:        p.TopP,
			TopK:        p.TopK,
			NumPredict:  p.MaxTokens,
			Seed:        p.Seed,
			Stop:        p.Stop,
		},
	}
	for _, m := range msgs {
		apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: string(m.Role), Content: m.Content})
	}

	out := make([]string, 0, p.N)
	for range p.N {
		resp, err := b.makeRequest(ctx, apiReq)
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Message.Content)
	}
	return out, nil
}

// makeRequest makes an HTTP request to the Ollama API
func (b *OllamaBackend) makeRequest(ctx context.Context, apiReq ollamaRequest) (*ollamaResponse, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, eris.Wrap(err, "marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		msg := string(respBody)
		var apiErr ollamaError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &StatusError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	var resp ollamaResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ResponseDecodeError{Model: b.entry.Name, Err: err}
	}
	return &resp, nil
}
