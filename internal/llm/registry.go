package llm

import (
	"maps"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// Params holds inference parameters sent with a request
// (temperature, n, max_tokens, ...).
type Params map[string]any

// Merge returns a fresh map holding p overlaid with overrides. Neither input
// is modified.
func (p Params) Merge(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	maps.Copy(out, p)
	maps.Copy(out, overrides)
	return out
}

// ModelEntry describes one named model endpoint.
type ModelEntry struct {
	// Name is the short name used in tables and on the command line
	Name string

	// Provider selects the wire protocol: "openai", "anthropic", "ollama"
	Provider string

	// Model is the provider's model identifier
	Model string

	// BaseURL of the API (e.g. https://api.openai.com/v1)
	BaseURL string

	// APIKey sent as bearer token / x-api-key
	APIKey string

	// Headers are added to every request
	Headers map[string]string

	// Parameters are the default inference parameters
	Parameters Params

	// Timeout for a single HTTP attempt
	Timeout time.Duration
}

func (e ModelEntry) clone() ModelEntry {
	e.Headers = maps.Clone(e.Headers)
	e.Parameters = maps.Clone(e.Parameters)
	return e
}

// Registry maps model names to entries. It is built once at startup and
// never changes afterwards; lookups hand out copies.
type Registry struct {
	entries map[string]ModelEntry
}

// NewRegistry builds a registry. Names must be unique and non-empty.
func NewRegistry(entries ...ModelEntry) (*Registry, error) {
	r := &Registry{entries: make(map[string]ModelEntry, len(entries))}
	for _, e := range entries {
		if e.Name == "" {
			return nil, eris.New("llm: model entry without a name")
		}
		if _, dup := r.entries[e.Name]; dup {
			return nil, eris.Errorf("llm: duplicate model name %q", e.Name)
		}
		if e.Model == "" {
			e.Model = e.Name
		}
		r.entries[e.Name] = e.clone()
	}
	return r, nil
}

// Lookup returns a copy of the named entry.
func (r *Registry) Lookup(name string) (ModelEntry, error) {
	e, ok := r.entries[name]
	if !ok {
		return ModelEntry{}, &UnknownModelError{Name: name}
	}
	return e.clone(), nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
