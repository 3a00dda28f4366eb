// Package config loads defuse settings from defaults, the config file and
// DEFUSE_* environment variables, and builds the runtime objects they
// describe.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"

	"github.com/ppiankov/defuse/internal/llm"
	"github.com/ppiankov/defuse/internal/pipeline"
	"github.com/ppiankov/defuse/internal/verdict"
)

// EnvPrefix is the prefix of environment overrides (DEFUSE_PIPELINE_NUM_Q).
const EnvPrefix = "DEFUSE"

// Config is the complete configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Models    []ModelConfig   `mapstructure:"models" yaml:"models"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
	Cache     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	Prompts   PromptsConfig   `mapstructure:"prompts" yaml:"prompts"`
	Verdict   verdict.Phrases `mapstructure:"verdict" yaml:"verdict"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Schema    SchemaConfig    `mapstructure:"schema" yaml:"schema"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level" yaml:"level"`

	// Format is json or console
	Format string `mapstructure:"format" yaml:"format"`
}

// ModelConfig is one registry entry as written in the config file.
type ModelConfig struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`

	// BaseURL may reference environment variables ($RUNPOD_ENDPOINT_ID)
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`

	// APIKey is used as is; prefer APIKeyEnv
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`

	// APIKeyEnv names the environment variable holding the key
	APIKeyEnv string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`

	// Headers values may reference environment variables; empty results
	// are dropped
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`

	Parameters map[string]any `mapstructure:"parameters" yaml:"parameters,omitempty"`
	Timeout    time.Duration  `mapstructure:"timeout" yaml:"timeout,omitempty"`
}

// RetryConfig maps onto llm.RetryPolicy.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay             time.Duration `mapstructure:"delay" yaml:"delay"`
	RetryableStatuses []int         `mapstructure:"retryable_statuses" yaml:"retryable_statuses"`
}

// RateLimitConfig limits requests per model name.
type RateLimitConfig struct {
	// RequestsPerSecond of 0 disables limiting
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst"`
	// Models overrides the rate of single models by name
	Models map[string]ModelRateLimit `mapstructure:"models" yaml:"models,omitempty"`
}

// ModelRateLimit is the rate of one model. A burst of 0 keeps rate_limit.burst.
type ModelRateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	Burst             int     `mapstructure:"burst" yaml:"burst,omitempty"`
}

// CacheConfig selects the response cache.
type CacheConfig struct {
	// Kind is none, memory, disk or layered
	Kind string        `mapstructure:"kind" yaml:"kind"`
	Dir  string        `mapstructure:"dir" yaml:"dir"`
	TTL  time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// HTTPConfig configures the client shared by the backends.
type HTTPConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	HTTPProxy  string        `mapstructure:"http_proxy" yaml:"http_proxy"`
	HTTPSProxy string        `mapstructure:"https_proxy" yaml:"https_proxy"`
	NoProxy    string        `mapstructure:"no_proxy" yaml:"no_proxy"`
}

// PromptsConfig locates the templates and picks the variant of each family.
type PromptsConfig struct {
	// Dir holds <family>.json/.yaml files; empty uses the built-in set
	Dir         string `mapstructure:"dir" yaml:"dir"`
	DocKey      string `mapstructure:"doc_key" yaml:"doc_key"`
	QuestionKey string `mapstructure:"question_key" yaml:"question_key"`
	ResponseKey string `mapstructure:"response_key" yaml:"response_key"`
	CheckKey    string `mapstructure:"check_key" yaml:"check_key"`
}

// PipelineConfig holds the stage settings.
type PipelineConfig struct {
	LLMQ       string `mapstructure:"llm_q" yaml:"llm_q"`
	LLMR       string `mapstructure:"llm_r" yaml:"llm_r"`
	LLMEval    string `mapstructure:"llm_eval" yaml:"llm_eval"`
	NumQ       int    `mapstructure:"num_q" yaml:"num_q"`
	NumFact    int    `mapstructure:"num_fact" yaml:"num_fact"`
	Rounds     int    `mapstructure:"rounds" yaml:"rounds"`
	Samples    int    `mapstructure:"samples" yaml:"samples"`
	DefuseGate string `mapstructure:"defuse_gate" yaml:"defuse_gate"`
	Workers    int    `mapstructure:"workers" yaml:"workers"`
}

// SchemaConfig renames table columns.
type SchemaConfig struct {
	Documents pipeline.DocColumns `mapstructure:"documents" yaml:"documents"`
	Responses pipeline.QRColumns  `mapstructure:"responses" yaml:"responses"`
}

// DefaultModels reproduces the stock model registry.
func DefaultModels() []ModelConfig {
	temperature := map[string]any{"temperature": 0.7}
	return []ModelConfig{
		{
			Name:       "gpt-3.5",
			Provider:   "openai",
			Model:      "gpt-3.5-turbo",
			BaseURL:    "https://api.openai.com/v1",
			APIKeyEnv:  "OPENAI_API_KEY",
			Headers:    map[string]string{"OpenAI-Organization": "${OPENAI_ORGANIZATION_ID}", "OpenAI-Project": "${OPENAI_PROJECT_ID}"},
			Parameters: temperature,
		},
		{
			Name:       "gpt-4o",
			Provider:   "openai",
			Model:      "gpt-4o",
			BaseURL:    "https://api.openai.com/v1",
			APIKeyEnv:  "OPENAI_API_KEY",
			Parameters: temperature,
		},
		{
			Name:       "gpt-4o-mini",
			Provider:   "openai",
			Model:      "gpt-4o-mini",
			BaseURL:    "https://api.openai.com/v1",
			APIKeyEnv:  "OPENAI_API_KEY",
			Parameters: temperature,
		},
		{
			Name:       "llama3-8B-in",
			Provider:   "openai",
			Model:      "meta-llama/Meta-Llama-3-8B-Instruct",
			BaseURL:    "https://api.runpod.ai/v2/${RUNPOD_ENDPOINT_ID}/openai/v1",
			APIKeyEnv:  "RUNPOD_API_KEY",
			Parameters: temperature,
		},
	}
}

// Default returns the built-in configuration.
func Default() Config {
	opts := pipeline.DefaultOptions()
	retry := llm.DefaultRetryPolicy()
	return Config{
		Log:    LogConfig{Level: "info", Format: "console"},
		Models: DefaultModels(),
		Retry: RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			Delay:       retry.Delay,
		},
		RateLimit: RateLimitConfig{Burst: 1},
		Cache:     CacheConfig{Kind: "none", TTL: 24 * time.Hour},
		HTTP:      HTTPConfig{Timeout: 120 * time.Second},
		Prompts: PromptsConfig{
			DocKey:      opts.DocPromptKey,
			QuestionKey: opts.QuestionPromptKey,
			ResponseKey: opts.ResponsePromptKey,
			CheckKey:    opts.CheckPromptKey,
		},
		Verdict: verdict.DefaultPhrases(),
		Pipeline: PipelineConfig{
			LLMQ:       opts.LLMQ,
			LLMR:       opts.LLMR,
			LLMEval:    opts.LLMEval,
			NumQ:       opts.NumQ,
			NumFact:    opts.NumFact,
			Rounds:     opts.Rounds,
			Samples:    opts.Samples,
			DefuseGate: opts.DefuseGate,
			Workers:    opts.Workers,
		},
		Schema: SchemaConfig{
			Documents: pipeline.DefaultDocColumns(),
			Responses: pipeline.DefaultQRColumns(),
		},
	}
}

// SetDefaults registers every default with v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	models := make([]map[string]any, 0, len(d.Models))
	for _, m := range d.Models {
		models = append(models, map[string]any{
			"name":        m.Name,
			"provider":    m.Provider,
			"model":       m.Model,
			"base_url":    m.BaseURL,
			"api_key_env": m.APIKeyEnv,
			"headers":     m.Headers,
			"parameters":  m.Parameters,
		})
	}
	v.SetDefault("models", models)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.delay", d.Retry.Delay)
	v.SetDefault("retry.retryable_statuses", []int{})

	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)

	v.SetDefault("cache.kind", d.Cache.Kind)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.ttl", d.Cache.TTL)

	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.http_proxy", "")
	v.SetDefault("http.https_proxy", "")
	v.SetDefault("http.no_proxy", "")

	v.SetDefault("prompts.dir", d.Prompts.Dir)
	v.SetDefault("prompts.doc_key", d.Prompts.DocKey)
	v.SetDefault("prompts.question_key", d.Prompts.QuestionKey)
	v.SetDefault("prompts.response_key", d.Prompts.ResponseKey)
	v.SetDefault("prompts.check_key", d.Prompts.CheckKey)

	v.SetDefault("verdict.yes", d.Verdict.Yes)
	v.SetDefault("verdict.no", d.Verdict.No)

	v.SetDefault("pipeline.llm_q", d.Pipeline.LLMQ)
	v.SetDefault("pipeline.llm_r", d.Pipeline.LLMR)
	v.SetDefault("pipeline.llm_eval", d.Pipeline.LLMEval)
	v.SetDefault("pipeline.num_q", d.Pipeline.NumQ)
	v.SetDefault("pipeline.num_fact", d.Pipeline.NumFact)
	v.SetDefault("pipeline.rounds", d.Pipeline.Rounds)
	v.SetDefault("pipeline.samples", d.Pipeline.Samples)
	v.SetDefault("pipeline.defuse_gate", d.Pipeline.DefuseGate)
	v.SetDefault("pipeline.workers", d.Pipeline.Workers)

	docs := d.Schema.Documents
	v.SetDefault("schema.documents.doc_id", docs.DocID)
	v.SetDefault("schema.documents.source", docs.Source)
	v.SetDefault("schema.documents.document", docs.Document)
	v.SetDefault("schema.documents.llm_q", docs.LLMQ)
	v.SetDefault("schema.documents.doc_prompt", docs.DocPrompt)
	v.SetDefault("schema.documents.reduce_doc", docs.ReduceDoc)
	v.SetDefault("schema.documents.modify_doc", docs.ModifyDoc)
	v.SetDefault("schema.documents.expand_doc", docs.ExpandDoc)
	v.SetDefault("schema.documents.orig_questions", docs.OrigQuestions)
	v.SetDefault("schema.documents.conf_questions", docs.ConfQuestions)

	qr := d.Schema.Responses
	v.SetDefault("schema.responses.doc_id", qr.DocID)
	v.SetDefault("schema.responses.q_id", qr.QID)
	v.SetDefault("schema.responses.is_confusing", qr.IsConfusing)
	v.SetDefault("schema.responses.question", qr.Question)
	v.SetDefault("schema.responses.llm_r", qr.LLMR)
	v.SetDefault("schema.responses.response", qr.Response)
	v.SetDefault("schema.responses.confusion", qr.Confusion)
	v.SetDefault("schema.responses.defusion", qr.Defusion)
	v.SetDefault("schema.responses.is_defused", qr.IsDefused)
}

// Configure prepares v the way the CLI uses it: defaults, DEFUSE_ env
// overrides and, when configFile is set, that file.
func Configure(v *viper.Viper, configFile string) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
	}
}

// Read loads the config file registered with v. A missing default config
// file is not an error; an explicitly named one is.
func Read(v *viper.Viper) error {
	err := v.ReadInConfig()
	if err == nil {
		return nil
	}
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return eris.Wrap(err, "config: read config file")
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: decode")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	if len(c.Models) == 0 {
		return eris.New("config: at least one model must be configured")
	}
	seen := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return eris.Errorf("config: models[%d] has no name", i)
		}
		if seen[m.Name] {
			return eris.Errorf("config: duplicate model name %q", m.Name)
		}
		seen[m.Name] = true
	}

	for _, ref := range []struct{ key, name string }{
		{"pipeline.llm_q", c.Pipeline.LLMQ},
		{"pipeline.llm_r", c.Pipeline.LLMR},
		{"pipeline.llm_eval", c.Pipeline.LLMEval},
	} {
		if ref.name != "" && !seen[ref.name] {
			return eris.Errorf("config: %s refers to unknown model %q", ref.key, ref.name)
		}
	}

	switch c.Pipeline.DefuseGate {
	case pipeline.GateLabel, pipeline.GateConfusion:
	default:
		return eris.Errorf("config: pipeline.defuse_gate must be %q or %q, got %q",
			pipeline.GateLabel, pipeline.GateConfusion, c.Pipeline.DefuseGate)
	}
	for name, r := range c.RateLimit.Models {
		if c.modelName(name) == "" {
			return eris.Errorf("config: rate_limit.models refers to unknown model %q", name)
		}
		if r.RequestsPerSecond < 0 {
			return eris.Errorf("config: rate_limit.models.%s.requests_per_second must not be negative", name)
		}
	}
	if c.Retry.MaxAttempts < 1 {
		return eris.Errorf("config: retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Pipeline.Samples < 1 {
		return eris.Errorf("config: pipeline.samples must be at least 1, got %d", c.Pipeline.Samples)
	}
	return nil
}

// modelName returns the configured name matching name case-insensitively.
// Viper lowercases map keys, so rate_limit.models keys read from a file lose
// their case.
func (c *Config) modelName(name string) string {
	for _, m := range c.Models {
		if m.Name == name {
			return m.Name
		}
	}
	for _, m := range c.Models {
		if strings.EqualFold(m.Name, name) {
			return m.Name
		}
	}
	return ""
}
