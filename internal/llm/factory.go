package llm

import (
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
)

// NewBackend creates the backend for a model entry. httpClient may be nil.
func NewBackend(entry ModelEntry, httpClient *http.Client) (Backend, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if entry.Timeout > 0 && httpClient.Timeout == 0 {
		c := *httpClient
		c.Timeout = entry.Timeout
		httpClient = &c
	}

	switch strings.ToLower(entry.Provider) {
	case "openai", "":
		return NewOpenAIBackend(entry, httpClient)

	case "anthropic", "claude":
		return NewAnthropicBackend(entry, httpClient)

	case "ollama":
		return NewOllamaBackend(entry, httpClient)

	default:
		return nil, eris.Errorf("llm: unknown provider %q for model %q (supported: openai, anthropic, ollama)",
			entry.Provider, entry.Name)
	}
}
