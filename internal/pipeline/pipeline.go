// Package pipeline runs named stages over document and question/response
// tables. Every stage checks its column contract before it makes a single
// model call, then appends its output columns to a copy of the input.
package pipeline

import (
	"context"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/llm"
	"github.com/ppiankov/defuse/internal/mutate"
	"github.com/ppiankov/defuse/internal/prompts"
	"github.com/ppiankov/defuse/internal/table"
	"github.com/ppiankov/defuse/internal/verdict"
	"github.com/ppiankov/defuse/internal/worker"
)

// Gates deciding which rows the defuse stage checks.
const (
	// GateLabel checks rows labelled confusing.
	GateLabel = "label"
	// GateConfusion checks rows whose detected confusion is not "none".
	GateConfusion = "confusion"
)

// Options tune stage behaviour.
type Options struct {
	// LLMQ generates documents and questions
	LLMQ string `mapstructure:"llm_q" yaml:"llm_q"`

	// LLMR answers questions
	LLMR string `mapstructure:"llm_r" yaml:"llm_r"`

	// LLMEval runs the confusion and defusion checks. Empty uses each
	// row's LLM_r.
	LLMEval string `mapstructure:"llm_eval" yaml:"llm_eval"`

	NumQ    int `mapstructure:"num_q" yaml:"num_q"`
	NumFact int `mapstructure:"num_fact" yaml:"num_fact"`

	// Rounds of suppress/impute in the modify stage
	Rounds int `mapstructure:"rounds" yaml:"rounds"`

	// Samples requested from the model in detect and defuse
	Samples int `mapstructure:"samples" yaml:"samples"`

	// DefuseGate is GateLabel or GateConfusion
	DefuseGate string `mapstructure:"defuse_gate" yaml:"defuse_gate"`

	// Workers processing rows of one stage concurrently
	Workers int `mapstructure:"workers" yaml:"workers"`

	DocPromptKey      string `mapstructure:"doc_key" yaml:"doc_key"`
	QuestionPromptKey string `mapstructure:"question_key" yaml:"question_key"`
	ResponsePromptKey string `mapstructure:"response_key" yaml:"response_key"`
	CheckPromptKey    string `mapstructure:"check_key" yaml:"check_key"`
}

// DefaultOptions returns the settings used for the published experiments.
func DefaultOptions() Options {
	return Options{
		LLMQ:              "gpt-4o-mini",
		LLMR:              "gpt-3.5",
		LLMEval:           "gpt-4o-mini",
		NumQ:              5,
		NumFact:           6,
		Rounds:            mutate.DefaultRounds,
		Samples:           1,
		DefuseGate:        GateLabel,
		Workers:           1,
		DocPromptKey:      "dt-z-1",
		QuestionPromptKey: "qg-1",
		ResponsePromptKey: "rr-1",
		CheckPromptKey:    "cd-1",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	fill(&o.LLMQ, d.LLMQ)
	fill(&o.LLMR, d.LLMR)
	fill(&o.DefuseGate, d.DefuseGate)
	fill(&o.DocPromptKey, d.DocPromptKey)
	fill(&o.QuestionPromptKey, d.QuestionPromptKey)
	fill(&o.ResponsePromptKey, d.ResponsePromptKey)
	fill(&o.CheckPromptKey, d.CheckPromptKey)
	if o.NumQ <= 0 {
		o.NumQ = d.NumQ
	}
	if o.NumFact <= 0 {
		o.NumFact = d.NumFact
	}
	if o.Rounds <= 0 {
		o.Rounds = d.Rounds
	}
	if o.Samples <= 0 {
		o.Samples = 1
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// Pipeline holds what every stage needs.
type Pipeline struct {
	completer  mutate.Completer
	prompts    *prompts.Store
	engine     *mutate.Engine
	classifier *verdict.Classifier
	opts       Options
	docs       DocColumns
	qr         QRColumns
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDocColumns renames document table columns.
func WithDocColumns(c DocColumns) Option {
	return func(p *Pipeline) { p.docs = c.withDefaults() }
}

// WithQRColumns renames question/response table columns.
func WithQRColumns(c QRColumns) Option {
	return func(p *Pipeline) { p.qr = c.withDefaults() }
}

// WithClassifier replaces the default yes/no classifier.
func WithClassifier(c *verdict.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// New creates a pipeline. completer is usually an *llm.Gateway.
func New(completer mutate.Completer, store *prompts.Store, opts Options, options ...Option) (*Pipeline, error) {
	if completer == nil {
		return nil, eris.New("pipeline: completer is required")
	}
	if store == nil {
		return nil, eris.New("pipeline: prompt store is required")
	}
	opts = opts.withDefaults()
	if opts.DefuseGate != GateLabel && opts.DefuseGate != GateConfusion {
		return nil, eris.Errorf("pipeline: unknown defuse gate %q (supported: %s, %s)",
			opts.DefuseGate, GateLabel, GateConfusion)
	}

	p := &Pipeline{
		completer:  completer,
		prompts:    store,
		engine:     mutate.NewEngine(completer, store, opts.Rounds),
		classifier: verdict.NewClassifier(verdict.DefaultPhrases()),
		opts:       opts,
		docs:       DefaultDocColumns(),
		qr:         DefaultQRColumns(),
		logger:     zap.L().Named("pipeline"),
	}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Options returns the effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// DocColumns returns the document table layout in use.
func (p *Pipeline) DocColumns() DocColumns {
	return p.docs
}

// QRColumns returns the question/response table layout in use.
func (p *Pipeline) QRColumns() QRColumns {
	return p.qr
}

// checkContract verifies the required and produced columns of a stage.
func checkContract(stage string, t *table.Table, requires, produces []string) error {
	if t == nil {
		return eris.Errorf("pipeline: stage %s: no input table", stage)
	}
	if err := t.Require(stage, requires...); err != nil {
		return err
	}
	return t.Forbid(stage, produces...)
}

// registry is implemented by completers that know their model names.
type registry interface {
	Registry() *llm.Registry
}

// checkModels rejects unknown model names before any row is processed.
func (p *Pipeline) checkModels(names ...string) error {
	r, ok := p.completer.(registry)
	if !ok {
		return nil
	}
	known := r.Registry().Names()
	for _, name := range names {
		if !slices.Contains(known, name) {
			return &llm.UnknownModelError{Name: name}
		}
	}
	return nil
}

// checkPromptKeys rejects prompt keys missing from family.
func (p *Pipeline) checkPromptKeys(family prompts.Family, keys ...string) error {
	for _, k := range keys {
		if err := p.prompts.Validate(k, family); err != nil {
			return err
		}
	}
	return nil
}

// distinct returns the unique values of column in first-seen order.
func distinct(t *table.Table, column string) []string {
	var out []string
	for _, v := range t.Column(column) {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// mapRows computes one value per row of t, in row order.
func (p *Pipeline) mapRows(ctx context.Context, stage string, n int, fn worker.RowFunc[string]) ([]string, error) {
	start := time.Now()
	p.logger.Info("stage started",
		zap.String("stage", stage),
		zap.Int("rows", n),
		zap.Int("workers", p.opts.Workers))

	values, err := worker.ProcessRows(ctx, n, p.opts.Workers, fn)
	if err != nil {
		p.logger.Error("stage failed", zap.String("stage", stage), zap.Error(err))
		return nil, err
	}

	p.logger.Info("stage finished",
		zap.String("stage", stage),
		zap.Int("rows", n),
		zap.Duration("took", time.Since(start)))
	return values, nil
}

// complete runs a single-sample call and returns its text.
func (p *Pipeline) complete(ctx context.Context, model string, prompt llm.Utterance) (string, error) {
	c, err := p.completer.Complete(ctx, model, prompt, nil)
	if err != nil {
		return "", err
	}
	return c.Text(), nil
}

// sample runs a call asking for the configured number of samples.
func (p *Pipeline) sample(ctx context.Context, model string, prompt llm.Utterance) ([]string, error) {
	var overrides llm.Params
	if p.opts.Samples > 1 {
		overrides = llm.Params{"n": p.opts.Samples}
	}
	c, err := p.completer.Complete(ctx, model, prompt, overrides)
	if err != nil {
		return nil, err
	}
	return c.Samples, nil
}
