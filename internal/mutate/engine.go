// Package mutate turns a reduced fact list into a list of fabricated facts.
//
// Each round suppresses one third of the facts (indices with the same value
// mod 3) and asks the model to fill the gaps with plausible, invented
// content. Residues rotate 2, 1, 0 so three consecutive rounds touch every
// fact exactly once. A final reconciliation call keeps only the invented
// facts that actually depart from the source document.
package mutate

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/defuse/internal/llm"
	"github.com/ppiankov/defuse/internal/prompts"
	"github.com/ppiankov/defuse/internal/textparse"
)

// DefaultRounds is the number of suppress/impute rounds.
const DefaultRounds = 6

// Completer is the part of the inference gateway the engine needs.
type Completer interface {
	Complete(ctx context.Context, model string, prompt llm.Utterance, overrides llm.Params) (*llm.Completion, error)
}

// Engine runs the suppress, impute and reconcile rounds.
type Engine struct {
	completer Completer
	prompts   *prompts.Store
	rounds    int
	logger    *zap.Logger
}

// NewEngine creates an engine. rounds <= 0 uses DefaultRounds.
func NewEngine(completer Completer, store *prompts.Store, rounds int) *Engine {
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	return &Engine{
		completer: completer,
		prompts:   store,
		rounds:    rounds,
		logger:    zap.L().Named("mutate"),
	}
}

// Rounds returns the configured number of rounds.
func (e *Engine) Rounds() int {
	return e.rounds
}

// Request describes one document to mutate.
type Request struct {
	// Model is the registry name used for every call
	Model string

	// PromptKey selects the document prompt variant
	PromptKey string

	// Document is the source text
	Document string

	// Facts is the reduced document, one fact per slot
	Facts []string

	// NumFact is passed to templates as num_fact
	NumFact int
}

// Mutate runs every round and the reconciliation and returns the model's
// reconciled fact list text. An empty fact list returns "" without calling
// the model.
func (e *Engine) Mutate(ctx context.Context, req Request) (string, error) {
	if len(req.Facts) == 0 {
		return "", nil
	}

	current := append([]string(nil), req.Facts...)
	for round := 0; round < e.rounds; round++ {
		masked := Suppress(current, round)
		e.logger.Debug("suppressed facts",
			zap.Int("round", round+1),
			zap.Int("residue", MaskResidue(round)),
			zap.Int("facts", len(masked)))

		imputed, err := e.Impute(ctx, req, masked)
		if err != nil {
			e.logger.Debug("imputation failed", zap.Int("round", round+1), zap.Error(err))
			return "", err
		}
		current = imputed
	}

	return e.Reconcile(ctx, req, current)
}

// MaskResidue returns the index residue mod 3 suppressed in round (0-based).
func MaskResidue(round int) int {
	return 2 - round%3
}

// Suppress returns a copy of facts with every index i where i%3 equals the
// round's residue replaced by the missing placeholder.
func Suppress(facts []string, round int) []string {
	residue := MaskResidue(round)
	out := make([]string, len(facts))
	for i, f := range facts {
		if i%3 == residue {
			out[i] = textparse.MissingFact
		} else {
			out[i] = f
		}
	}
	return out
}

// Impute asks the model to fill the missing slots of masked. The result
// always has len(masked) entries: extra lines are dropped and absent ones
// stay missing.
func (e *Engine) Impute(ctx context.Context, req Request, masked []string) ([]string, error) {
	if len(masked) == 0 {
		return []string{}, nil
	}

	prompt, err := e.prompts.Render(prompts.FamilyDocument, req.PromptKey, prompts.Modify, prompts.Fields{
		"document": req.Document,
		"facts":    textparse.RenderList(masked),
		"num_fact": numFact(req),
	})
	if err != nil {
		return nil, err
	}

	c, err := e.completer.Complete(ctx, req.Model, llm.PlainText(prompt), nil)
	if err != nil {
		return nil, err
	}

	facts := textparse.ParseFacts(textparse.StripFactsHeader(c.Text()))
	if len(facts) != len(masked) {
		e.logger.Warn("imputation changed the number of facts",
			zap.String("model", req.Model),
			zap.Int("want", len(masked)),
			zap.Int("got", len(facts)))
	}

	out := make([]string, len(masked))
	for i := range out {
		if i < len(facts) {
			out[i] = facts[i]
		} else {
			out[i] = textparse.MissingFact
		}
	}
	return out, nil
}

// Reconcile compares the imputed facts with the original document and fact
// list and returns the model's answer unparsed.
func (e *Engine) Reconcile(ctx context.Context, req Request, imputed []string) (string, error) {
	prompt, err := e.prompts.Render(prompts.FamilyDocument, req.PromptKey, prompts.Remove, prompts.Fields{
		"document":           req.Document,
		"ori_facts":          textparse.RenderList(req.Facts),
		"hallucinated_facts": textparse.RenderList(imputed),
		"num_fact":           numFact(req),
	})
	if err != nil {
		return "", err
	}

	c, err := e.completer.Complete(ctx, req.Model, llm.PlainText(prompt), nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(c.Text()), nil
}

func numFact(req Request) int {
	if req.NumFact > 0 {
		return req.NumFact
	}
	return len(req.Facts)
}
