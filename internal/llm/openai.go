package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/defuse/internal/util"
)

// OpenAIBackend talks to any OpenAI-compatible chat completions endpoint.
type OpenAIBackend struct {
	client *openai.Client
	entry  ModelEntry
}

// NewOpenAIBackend creates a backend for an OpenAI-compatible entry.
func NewOpenAIBackend(entry ModelEntry, httpClient *http.Client) (*OpenAIBackend, error) {
	if entry.BaseURL == "" && entry.APIKey == "" {
		return nil, eris.Errorf("llm: model %q needs an api key or a base url", entry.Name)
	}

	clientConfig := openai.DefaultConfig(entry.APIKey)
	if entry.BaseURL != "" {
		clientConfig.BaseURL = entry.BaseURL
	}
	clientConfig.HTTPClient = util.WithHeaders(httpClient, entry.Headers)

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientConfig),
		entry:  entry,
	}, nil
}

// Name returns the provider name
func (b *OpenAIBackend) Name() string {
	return "openai"
}

// Chat sends one chat completion request and returns every choice.
func (b *OpenAIBackend) Chat(ctx context.Context, msgs []Message, params Params) ([]string, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, &ParamsError{Model: b.entry.Name, Err: err}
	}

	req := openai.ChatCompletionRequest{
		Model:            b.entry.Model,
		Messages:         make([]openai.ChatCompletionMessage, 0, len(msgs)),
		MaxTokens:        p.MaxTokens,
		N:                p.N,
		Stop:             p.Stop,
		Seed:             p.Seed,
		PresencePenalty:  float32(p.PresencePenalty),
		FrequencyPenalty: float32(p.FrequencyPenalty),
	}
	if p.Temperature != nil {
		// go-openai omits a zero temperature from the request body
		req.Temperature = float32(*p.Temperature)
		if req.Temperature == 0 {
			req.Temperature = math.SmallestNonzeroFloat32
		}
	}
	if p.TopP != nil {
		req.TopP = float32(*p.TopP)
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, b.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ResponseDecodeError{Model: b.entry.Name, Err: errors.New("response has no choices")}
	}

	choices := resp.Choices
	sort.SliceStable(choices, func(i, j int) bool { return choices[i].Index < choices[j].Index })

	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = c.Message.Content
	}
	return out, nil
}

func (b *OpenAIBackend) classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &StatusError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	if isDecodeError(err) {
		return &ResponseDecodeError{Model: b.entry.Name, Err: err}
	}
	return err
}
