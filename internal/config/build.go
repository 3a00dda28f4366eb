package config

import (
	"net/http"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/cache"
	"github.com/ppiankov/defuse/internal/llm"
	"github.com/ppiankov/defuse/internal/mutate"
	"github.com/ppiankov/defuse/internal/pipeline"
	"github.com/ppiankov/defuse/internal/prompts"
	"github.com/ppiankov/defuse/internal/util"
	"github.com/ppiankov/defuse/internal/verdict"
	"github.com/ppiankov/defuse/internal/worker"
)

// ModelEntry resolves environment references of one configured model.
func (m ModelConfig) ModelEntry() llm.ModelEntry {
	entry := llm.ModelEntry{
		Name:       m.Name,
		Provider:   m.Provider,
		Model:      m.Model,
		BaseURL:    os.ExpandEnv(m.BaseURL),
		APIKey:     m.APIKey,
		Parameters: llm.Params(m.Parameters),
		Timeout:    m.Timeout,
	}
	if entry.APIKey == "" && m.APIKeyEnv != "" {
		entry.APIKey = os.Getenv(m.APIKeyEnv)
	}
	for k, v := range m.Headers {
		v = os.ExpandEnv(v)
		if v == "" {
			continue
		}
		if entry.Headers == nil {
			entry.Headers = make(map[string]string)
		}
		entry.Headers[k] = v
	}
	return entry
}

// BuildRegistry creates the immutable model registry.
func (c *Config) BuildRegistry() (*llm.Registry, error) {
	entries := make([]llm.ModelEntry, 0, len(c.Models))
	for _, m := range c.Models {
		entries = append(entries, m.ModelEntry())
	}
	return llm.NewRegistry(entries...)
}

// RetryPolicy returns the gateway retry policy.
func (c *Config) RetryPolicy() llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxAttempts:       c.Retry.MaxAttempts,
		Delay:             c.Retry.Delay,
		RetryableStatuses: c.Retry.RetryableStatuses,
	}
}

// HTTPClient builds the client shared by every backend.
func (c *Config) HTTPClient() *http.Client {
	return util.NewHTTPClient(util.HTTPOptions{
		Timeout:    c.HTTP.Timeout,
		HTTPProxy:  c.HTTP.HTTPProxy,
		HTTPSProxy: c.HTTP.HTTPSProxy,
		NoProxy:    c.HTTP.NoProxy,
	})
}

// Limiter builds the per-model request limiter. It returns nil when no rate
// is configured.
func (c *Config) Limiter() *worker.Limiter {
	if c.RateLimit.RequestsPerSecond <= 0 && len(c.RateLimit.Models) == 0 {
		return nil
	}
	limiter := worker.NewLimiter(c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	for name, r := range c.RateLimit.Models {
		if canonical := c.modelName(name); canonical != "" {
			name = canonical
		}
		limiter.SetRate(name, r.RequestsPerSecond, r.Burst)
	}
	return limiter
}

// BuildGateway wires registry, retry policy, rate limiter, cache and HTTP
// client into an inference gateway.
func (c *Config) BuildGateway() (*llm.Gateway, error) {
	registry, err := c.BuildRegistry()
	if err != nil {
		return nil, err
	}

	opts := []llm.Option{
		llm.WithRetryPolicy(c.RetryPolicy()),
		llm.WithHTTPClient(c.HTTPClient()),
		llm.WithLogger(zap.L().Named("llm")),
	}
	if limiter := c.Limiter(); limiter != nil {
		opts = append(opts, llm.WithLimiter(limiter))
	}

	store, err := cache.New(c.Cache.Kind, c.Cache.Dir, c.Cache.TTL)
	if err != nil {
		return nil, err
	}
	if store != nil {
		opts = append(opts, llm.WithCache(store, c.Cache.TTL))
	}

	return llm.NewGateway(registry, opts...)
}

// LoadPrompts loads the templates and checks the configured keys exist.
func (c *Config) LoadPrompts() (*prompts.Store, error) {
	store, err := prompts.Load(c.Prompts.Dir)
	if err != nil {
		return nil, err
	}
	checks := []struct {
		family prompts.Family
		key    string
	}{
		{prompts.FamilyDocument, c.Prompts.DocKey},
		{prompts.FamilyQuestion, c.Prompts.QuestionKey},
		{prompts.FamilyResponse, c.Prompts.ResponseKey},
		{prompts.FamilyCheck, c.Prompts.CheckKey},
	}
	for _, ch := range checks {
		if err := store.Validate(ch.key, ch.family); err != nil {
			return nil, eris.Wrap(err, "config: prompts")
		}
	}
	return store, nil
}

// PipelineOptions maps the pipeline and prompts sections onto stage options.
func (c *Config) PipelineOptions() pipeline.Options {
	p := c.Pipeline
	return pipeline.Options{
		LLMQ:              p.LLMQ,
		LLMR:              p.LLMR,
		LLMEval:           p.LLMEval,
		NumQ:              p.NumQ,
		NumFact:           p.NumFact,
		Rounds:            p.Rounds,
		Samples:           p.Samples,
		DefuseGate:        p.DefuseGate,
		Workers:           p.Workers,
		DocPromptKey:      c.Prompts.DocKey,
		QuestionPromptKey: c.Prompts.QuestionKey,
		ResponsePromptKey: c.Prompts.ResponseKey,
		CheckPromptKey:    c.Prompts.CheckKey,
	}
}

// BuildPipeline creates the stage runner on top of completer.
func (c *Config) BuildPipeline(completer mutate.Completer, store *prompts.Store) (*pipeline.Pipeline, error) {
	return pipeline.New(completer, store, c.PipelineOptions(),
		pipeline.WithDocColumns(c.Schema.Documents),
		pipeline.WithQRColumns(c.Schema.Responses),
		pipeline.WithClassifier(verdict.NewClassifier(c.Verdict)),
	)
}
