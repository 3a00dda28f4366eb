package llm

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicBackend talks to the Anthropic Messages API through the SDK.
// The Messages API has no n parameter, so multiple samples are drawn with
// sequential requests.
type AnthropicBackend struct {
	client sdk.Client
	entry  ModelEntry
}

// NewAnthropicBackend creates a backend for an Anthropic entry.
func NewAnthropicBackend(entry ModelEntry, httpClient *http.Client) (*AnthropicBackend, error) {
	if entry.APIKey == "" {
		return nil, eris.Errorf("llm: model %q needs an anthropic api key", entry.Name)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(entry.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries belong to the gateway.
		option.WithMaxRetries(0),
	}
	if entry.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(entry.BaseURL))
	}
	for k, v := range entry.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &AnthropicBackend{
		client: sdk.NewClient(opts...),
		entry:  entry,
	}, nil
}

// Name returns the provider name
func (b *AnthropicBackend) Name() string {
	return "anthropic"
}

// Chat sends n sequential message requests and returns the text of each.
func (b *AnthropicBackend) Chat(ctx context.Context, msgs []Message, params Params) ([]string, error) {
	p, err := decodeParams(params)
	if err != nil {
		return nil, &ParamsError{Model: b.entry.Name, Err: err}
	}

	req := sdk.MessageNewParams{
		Model:     sdk.Model(b.entry.Model),
		MaxTokens: anthropicDefaultMaxTokens,
	}
	if p.MaxTokens > 0 {
		req.MaxTokens = int64(p.MaxTokens)
	}
	if p.Temperature != nil {
		req.Temperature = sdk.Float(*p.Temperature)
	}
	if p.TopP != nil {
		req.TopP = sdk.Float(*p.TopP)
	}
	if p.TopK > 0 {
		req.TopK = sdk.Int(int64(p.TopK))
	}
	if len(p.Stop) > 0 {
		req.StopSequences = p.Stop
	}

	for _, m := range msgs {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case RoleSystem:
			req.System = append(req.System, sdk.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			req.Messages = append(req.Messages, sdk.NewAssistantMessage(block))
		default:
			req.Messages = append(req.Messages, sdk.NewUserMessage(block))
		}
	}

	out := make([]string, 0, p.N)
	for range p.N {
		msg, err := b.client.Messages.New(ctx, req)
		if err != nil {
			return nil, b.classify(err)
		}

		var text strings.Builder
		found := false
		for _, c := range msg.Content {
			if c.Type == "text" {
				text.WriteString(c.Text)
				found = true
			}
		}
		if !found {
			return nil, &ResponseDecodeError{Model: b.entry.Name, Err: errors.New("response has no text content")}
		}
		out = append(out, text.String())
	}
	return out, nil
}

func (b *AnthropicBackend) classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &StatusError{StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// The SDK decodes bodies with its own JSON layer, so anything that is
	// neither an API error nor a transport error came from the body.
	return &ResponseDecodeError{Model: b.entry.Name, Err: err}
}
