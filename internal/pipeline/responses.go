package pipeline

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/ppiankov/defuse/internal/llm"
	"github.com/ppiankov/defuse/internal/prompts"
	"github.com/ppiankov/defuse/internal/table"
	"github.com/ppiankov/defuse/internal/textparse"
	"github.com/ppiankov/defuse/internal/verdict"
)

type question struct {
	docID       string
	document    string
	qID         int
	isConfusing string
	text        string
}

// Respond answers every original and confusing question against its source
// document and returns a new question/response table. Original questions of
// a document come first, then its confusing ones; q_id restarts at 1 for
// each list.
func (p *Pipeline) Respond(ctx context.Context, docs *table.Table) (*table.Table, error) {
	c := p.docs
	if err := checkContract(StageRespond, docs, []string{c.DocID, c.Document, c.OrigQuestions, c.ConfQuestions}, nil); err != nil {
		return nil, err
	}
	if err := p.checkModels(p.opts.LLMR); err != nil {
		return nil, err
	}
	if err := p.checkPromptKeys(prompts.FamilyResponse, p.opts.ResponsePromptKey); err != nil {
		return nil, err
	}

	var questions []question
	for row := range docs.Len() {
		lists := []struct {
			flag   string
			column string
		}{
			{ValueNo, c.OrigQuestions},
			{ValueYes, c.ConfQuestions},
		}
		for _, l := range lists {
			for i, q := range textparse.ParseNumberedQuestions(docs.Get(row, l.column)) {
				questions = append(questions, question{
					docID:       docs.Get(row, c.DocID),
					document:    docs.Get(row, c.Document),
					qID:         i + 1,
					isConfusing: l.flag,
					text:        q,
				})
			}
		}
	}

	responses, err := p.mapRows(ctx, StageRespond, len(questions), func(ctx context.Context, row int) (string, error) {
		q := questions[row]
		prompt, err := p.responsePrompt(q.document, q.text)
		if err != nil {
			return "", err
		}
		return p.complete(ctx, p.opts.LLMR, llm.PlainText(prompt))
	})
	if err != nil {
		return nil, err
	}

	r := p.qr
	out, err := table.New(r.DocID, r.QID, r.IsConfusing, r.Question, r.LLMR, r.Response)
	if err != nil {
		return nil, err
	}
	for i, q := range questions {
		if err := out.AppendValues(q.docID, strconv.Itoa(q.qID), q.isConfusing, q.text, p.opts.LLMR, responses[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Pipeline) responsePrompt(document, question string) (string, error) {
	return p.prompts.Render(prompts.FamilyResponse, p.opts.ResponsePromptKey, prompts.Response, prompts.Fields{
		"document": document,
		"question": question,
	})
}

// documentIndex maps doc_id to document text and checks that every row of
// qr refers to a known document.
func (p *Pipeline) documentIndex(stage string, qr, docs *table.Table) (map[string]string, error) {
	if err := checkContract(stage, docs, []string{p.docs.DocID, p.docs.Document}, nil); err != nil {
		return nil, err
	}
	index := make(map[string]string, docs.Len())
	for row := range docs.Len() {
		index[docs.Get(row, p.docs.DocID)] = docs.Get(row, p.docs.Document)
	}
	for row := range qr.Len() {
		id := qr.Get(row, p.qr.DocID)
		if _, ok := index[id]; !ok {
			return nil, eris.Errorf("pipeline: stage %s: row %d refers to unknown document %q", stage, row+1, id)
		}
	}
	return index, nil
}

// evalModels returns the model used for checks on each row.
func (p *Pipeline) evalModels(qr *table.Table) []string {
	models := make([]string, qr.Len())
	for row := range models {
		if p.opts.LLMEval != "" {
			models[row] = p.opts.LLMEval
		} else {
			models[row] = qr.Get(row, p.qr.LLMR)
		}
	}
	return models
}

func (p *Pipeline) evalRequires() []string {
	if p.opts.LLMEval == "" {
		return []string{p.qr.LLMR}
	}
	return nil
}

// Detect asks the evaluation model whether each question rests on a false
// assumption. The confusion cell holds the model's explanation, or "none".
func (p *Pipeline) Detect(ctx context.Context, qr, docs *table.Table) (*table.Table, error) {
	r := p.qr
	requires := append([]string{r.DocID, r.Question}, p.evalRequires()...)
	if err := checkContract(StageDetect, qr, requires, []string{r.Confusion}); err != nil {
		return nil, err
	}
	index, err := p.documentIndex(StageDetect, qr, docs)
	if err != nil {
		return nil, err
	}
	models := p.evalModels(qr)
	if err := p.checkModels(distinctValues(models)...); err != nil {
		return nil, err
	}
	if err := p.checkPromptKeys(prompts.FamilyCheck, p.opts.CheckPromptKey); err != nil {
		return nil, err
	}

	values, err := p.mapRows(ctx, StageDetect, qr.Len(), func(ctx context.Context, row int) (string, error) {
		prompt, err := p.prompts.Render(prompts.FamilyCheck, p.opts.CheckPromptKey, prompts.Confusion, prompts.Fields{
			"document": index[qr.Get(row, r.DocID)],
			"question": qr.Get(row, r.Question),
		})
		if err != nil {
			return "", err
		}
		samples, err := p.sample(ctx, models[row], llm.PlainText(prompt))
		if err != nil {
			return "", err
		}
		return p.confusion(samples), nil
	})
	if err != nil {
		return nil, err
	}
	return appendColumn(qr, r.Confusion, values)
}

// confusion folds detection samples into a cell value. A single sample is
// "none" only when it says No. Several samples need a Yes majority to keep
// the first Yes explanation.
func (p *Pipeline) confusion(samples []string) string {
	if len(samples) == 0 {
		return ValueNone
	}
	if len(samples) == 1 {
		if p.classifier.Classify(samples[0]) == verdict.No {
			return ValueNone
		}
		return samples[0]
	}

	verdicts := make([]verdict.Verdict, len(samples))
	for i, s := range samples {
		verdicts[i] = p.classifier.Classify(s)
	}
	if verdict.Majority(verdicts) != verdict.Yes {
		return ValueNone
	}
	for i, v := range verdicts {
		if v == verdict.Yes {
			return samples[i]
		}
	}
	return ValueNone
}

// Defuse asks the evaluation model whether its answer pointed out the false
// assumption. Rows the gate skips get "n/a" in both output columns.
func (p *Pipeline) Defuse(ctx context.Context, qr, docs *table.Table) (*table.Table, error) {
	r := p.qr
	requires := []string{r.DocID, r.Question, r.Response, r.IsConfusing}
	if p.opts.DefuseGate == GateConfusion {
		requires = append(requires, r.Confusion)
	}
	requires = append(requires, p.evalRequires()...)
	if err := checkContract(StageDefuse, qr, requires, []string{r.Defusion, r.IsDefused}); err != nil {
		return nil, err
	}
	index, err := p.documentIndex(StageDefuse, qr, docs)
	if err != nil {
		return nil, err
	}
	models := p.evalModels(qr)
	if err := p.checkModels(distinctValues(models)...); err != nil {
		return nil, err
	}
	if err := p.checkPromptKeys(prompts.FamilyResponse, p.opts.ResponsePromptKey); err != nil {
		return nil, err
	}
	if err := p.checkPromptKeys(prompts.FamilyCheck, p.opts.CheckPromptKey); err != nil {
		return nil, err
	}

	type outcome struct{ defusion, isDefused string }
	outcomes := make([]outcome, qr.Len())

	_, err = p.mapRows(ctx, StageDefuse, qr.Len(), func(ctx context.Context, row int) (string, error) {
		if p.skipDefuse(qr, row) {
			outcomes[row] = outcome{ValueNA, ValueNA}
			return "", nil
		}

		document := index[qr.Get(row, r.DocID)]
		question := qr.Get(row, r.Question)
		response := qr.Get(row, r.Response)

		ask, err := p.responsePrompt(document, question)
		if err != nil {
			return "", err
		}
		check, err := p.prompts.Render(prompts.FamilyCheck, p.opts.CheckPromptKey, prompts.Defusion, prompts.Fields{
			"document": document,
			"question": question,
			"response": response,
		})
		if err != nil {
			return "", err
		}

		samples, err := p.sample(ctx, models[row], llm.Conversation{
			llm.PlainText(ask),
			llm.PlainText(response),
			llm.PlainText(check),
		})
		if err != nil {
			return "", err
		}
		text, v := p.defusion(samples)
		outcomes[row] = outcome{text, v.String()}
		return "", nil
	})
	if err != nil {
		return nil, err
	}

	out := qr.Clone()
	defusions := make([]string, len(outcomes))
	flags := make([]string, len(outcomes))
	for i, o := range outcomes {
		defusions[i] = o.defusion
		flags[i] = o.isDefused
	}
	if err := out.AddColumn(r.Defusion, defusions); err != nil {
		return nil, err
	}
	if err := out.AddColumn(r.IsDefused, flags); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) skipDefuse(qr *table.Table, row int) bool {
	if p.opts.DefuseGate == GateConfusion {
		return qr.Get(row, p.qr.Confusion) == ValueNone
	}
	return qr.Get(row, p.qr.IsConfusing) == ValueNo
}

// defusion picks the majority verdict over samples (ties are unsure) and
// the first sample text carrying it.
func (p *Pipeline) defusion(samples []string) (string, verdict.Verdict) {
	if len(samples) == 0 {
		return "", verdict.Unsure
	}
	verdicts := make([]verdict.Verdict, len(samples))
	for i, s := range samples {
		verdicts[i] = p.classifier.Classify(s)
	}
	winner := verdicts[0]
	if len(samples) > 1 {
		winner = verdict.Majority(verdicts)
	}
	for i, v := range verdicts {
		if v == winner {
			return samples[i], winner
		}
	}
	return samples[0], winner
}

func distinctValues(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
