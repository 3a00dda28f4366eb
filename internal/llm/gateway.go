package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/cache"
	"github.com/ppiankov/defuse/internal/worker"
)

// Completion is the result of one logical inference call.
type Completion struct {
	// Model is the registry name the call was made against
	Model string

	// Samples holds one string per requested sample, in response order
	Samples []string
}

// Text returns the first sample. It is the whole answer when n was 1.
func (c *Completion) Text() string {
	if len(c.Samples) == 0 {
		return ""
	}
	return c.Samples[0]
}

// Multi reports whether more than one sample was returned.
func (c *Completion) Multi() bool {
	return len(c.Samples) > 1
}

// Gateway performs inference calls against registered models.
type Gateway struct {
	registry   *Registry
	backends   map[string]Backend
	policy     RetryPolicy
	limiter    *worker.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Gateway) { g.policy = p }
}

// WithLimiter rate limits calls per model name.
func WithLimiter(l *worker.Limiter) Option {
	return func(g *Gateway) { g.limiter = l }
}

// WithCache memoises completions. A nil cache disables caching.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// WithHTTPClient sets the client the built-in backends use.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithBackend overrides the backend for one model name.
func WithBackend(name string, b Backend) Option {
	return func(g *Gateway) { g.backends[name] = b }
}

// WithLogger sets the logger; zap.L() is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway builds a backend for every registry entry up front so that
// configuration problems surface before the first call.
func NewGateway(registry *Registry, opts ...Option) (*Gateway, error) {
	if registry == nil {
		return nil, eris.New("llm: registry is required")
	}

	g := &Gateway{
		registry: registry,
		backends: make(map[string]Backend),
		policy:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = zap.L()
	}
	g.policy = g.policy.withDefaults()

	for _, name := range registry.Names() {
		if _, ok := g.backends[name]; ok {
			continue
		}
		entry, err := registry.Lookup(name)
		if err != nil {
			return nil, err
		}
		b, err := NewBackend(entry, g.httpClient)
		if err != nil {
			return nil, err
		}
		g.backends[name] = b
	}

	return g, nil
}

// Registry returns the registry the gateway was built from.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Complete runs prompt against the named model. overrides are merged onto the
// model's default parameters for this call only.
func (g *Gateway) Complete(ctx context.Context, model string, prompt Utterance, overrides Params) (*Completion, error) {
	entry, err := g.registry.Lookup(model)
	if err != nil {
		return nil, err
	}
	backend, ok := g.backends[entry.Name]
	if !ok {
		return nil, &UnknownModelError{Name: model}
	}

	msgs, err := BuildMessages(prompt)
	if err != nil {
		return nil, err
	}
	params := entry.Parameters.Merge(overrides)
	if _, err := decodeParams(params); err != nil {
		return nil, &ParamsError{Model: entry.Name, Err: err}
	}

	key := ""
	if g.cache != nil {
		key, err = requestKey(entry, msgs, params)
		if err != nil {
			return nil, err
		}
		if samples, ok := g.cached(key); ok {
			g.logger.Debug("completion served from cache", zap.String("model", entry.Name))
			return &Completion{Model: entry.Name, Samples: samples}, nil
		}
	}

	samples, err := g.call(ctx, entry, backend, msgs, params)
	if err != nil {
		return nil, err
	}

	if want := samplesRequested(params); len(samples) != want {
		g.logger.Warn("backend returned an unexpected number of samples",
			zap.String("model", entry.Name),
			zap.Int("requested", want),
			zap.Int("returned", len(samples)))
	}

	if g.cache != nil {
		if data, err := json.Marshal(samples); err == nil {
			if err := g.cache.Set(key, data, g.cacheTTL); err != nil {
				g.logger.Warn("failed to cache completion", zap.String("model", entry.Name), zap.Error(err))
			}
		}
	}

	return &Completion{Model: entry.Name, Samples: samples}, nil
}

// call runs the retry loop around a single backend request.
func (g *Gateway) call(ctx context.Context, entry ModelEntry, backend Backend, msgs []Message, params Params) ([]string, error) {
	for attempt := 1; ; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx, entry.Name); err != nil {
				return nil, &InferenceFailure{Model: entry.Name, Attempts: attempt - 1, Err: err}
			}
		}

		samples, err := backend.Chat(ctx, msgs, params)
		if err == nil {
			return samples, nil
		}

		var decodeErr *ResponseDecodeError
		var paramsErr *ParamsError
		if errors.As(err, &decodeErr) || errors.As(err, &paramsErr) {
			return nil, err
		}

		status := statusOf(err)
		failure := &InferenceFailure{Model: entry.Name, StatusCode: status, Attempts: attempt, Err: err}

		if ctx.Err() != nil || attempt >= g.policy.MaxAttempts || !g.policy.retryable(status) {
			return nil, failure
		}

		g.logger.Warn("inference attempt failed, retrying",
			zap.String("model", entry.Name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.policy.MaxAttempts),
			zap.Int("status", status),
			zap.Duration("delay", g.policy.Delay),
			zap.Error(err))
		if g.policy.OnRetry != nil {
			g.policy.OnRetry(entry.Name, attempt, err)
		}

		if err := g.policy.Sleep(ctx, g.policy.Delay); err != nil {
			failure.Err = err
			return nil, failure
		}
	}
}

func (g *Gateway) cached(key string) ([]string, bool) {
	data, ok := g.cache.Get(key)
	if !ok {
		return nil, false
	}
	var samples []string
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, false
	}
	return samples, true
}

func requestKey(entry ModelEntry, msgs []Message, params Params) (string, error) {
	payload, err := json.Marshal(struct {
		Messages []Message `json:"messages"`
		Params   Params    `json:"params"`
	}{msgs, params})
	if err != nil {
		return "", eris.Wrap(err, "llm: encode cache key")
	}
	return cache.CacheKey(entry.Name, entry.Provider, entry.Model, entry.BaseURL, string(payload)), nil
}

func statusOf(err error) int {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode
	}
	return 0
}
