package pipeline

import (
	"context"

	"github.com/ppiankov/defuse/internal/llm"
	"github.com/ppiankov/defuse/internal/mutate"
	"github.com/ppiankov/defuse/internal/prompts"
	"github.com/ppiankov/defuse/internal/table"
	"github.com/ppiankov/defuse/internal/textparse"
)

// Record stamps every document with the question model and the document
// prompt key used by the later document stages.
func (p *Pipeline) Record(ctx context.Context, docs *table.Table) (*table.Table, error) {
	c := p.docs
	if err := checkContract(StageRecord, docs, []string{c.Document}, []string{c.LLMQ, c.DocPrompt}); err != nil {
		return nil, err
	}
	if err := p.checkModels(p.opts.LLMQ); err != nil {
		return nil, err
	}
	if err := p.checkPromptKeys(prompts.FamilyDocument, p.opts.DocPromptKey); err != nil {
		return nil, err
	}

	out := docs.Clone()
	models := make([]string, out.Len())
	keys := make([]string, out.Len())
	for i := range models {
		models[i] = p.opts.LLMQ
		keys[i] = p.opts.DocPromptKey
	}
	if err := out.AddColumn(c.LLMQ, models); err != nil {
		return nil, err
	}
	if err := out.AddColumn(c.DocPrompt, keys); err != nil {
		return nil, err
	}
	return out, nil
}

// preflightDocs validates the per-row model names and prompt keys.
func (p *Pipeline) preflightDocs(docs *table.Table) error {
	if err := p.checkModels(distinct(docs, p.docs.LLMQ)...); err != nil {
		return err
	}
	if !docs.Has(p.docs.DocPrompt) {
		return nil
	}
	return p.checkPromptKeys(prompts.FamilyDocument, distinct(docs, p.docs.DocPrompt)...)
}

// Reduce rewrites every document as a numbered fact list.
func (p *Pipeline) Reduce(ctx context.Context, docs *table.Table) (*table.Table, error) {
	c := p.docs
	if err := checkContract(StageReduce, docs, []string{c.Document, c.LLMQ, c.DocPrompt}, []string{c.ReduceDoc}); err != nil {
		return nil, err
	}
	if err := p.preflightDocs(docs); err != nil {
		return nil, err
	}

	values, err := p.mapRows(ctx, StageReduce, docs.Len(), func(ctx context.Context, row int) (string, error) {
		prompt, err := p.prompts.Render(prompts.FamilyDocument, docs.Get(row, c.DocPrompt), prompts.Reduce, prompts.Fields{
			"document": textparse.PrepareDocument(docs.Get(row, c.Document)),
			"num_fact": p.opts.NumFact,
		})
		if err != nil {
			return "", err
		}
		text, err := p.complete(ctx, docs.Get(row, c.LLMQ), llm.PlainText(prompt))
		if err != nil {
			return "", err
		}
		return textparse.RenderList(textparse.ParseFacts(textparse.StripFactsHeader(text))), nil
	})
	if err != nil {
		return nil, err
	}
	return appendColumn(docs, c.ReduceDoc, values)
}

// Modify runs the fact mutation engine over every reduced document.
func (p *Pipeline) Modify(ctx context.Context, docs *table.Table) (*table.Table, error) {
	c := p.docs
	if err := checkContract(StageModify, docs, []string{c.Document, c.LLMQ, c.DocPrompt, c.ReduceDoc}, []string{c.ModifyDoc}); err != nil {
		return nil, err
	}
	if err := p.preflightDocs(docs); err != nil {
		return nil, err
	}

	values, err := p.mapRows(ctx, StageModify, docs.Len(), func(ctx context.Context, row int) (string, error) {
		return p.engine.Mutate(ctx, mutate.Request{
			Model:     docs.Get(row, c.LLMQ),
			PromptKey: docs.Get(row, c.DocPrompt),
			Document:  textparse.PrepareDocument(docs.Get(row, c.Document)),
			Facts:     textparse.ParseFacts(textparse.PrepareDocument(docs.Get(row, c.ReduceDoc))),
			NumFact:   p.opts.NumFact,
		})
	})
	if err != nil {
		return nil, err
	}
	return appendColumn(docs, c.ModifyDoc, values)
}

// Expand turns every modified fact list back into prose.
func (p *Pipeline) Expand(ctx context.Context, docs *table.Table) (*table.Table, error) {
	c := p.docs
	if err := checkContract(StageExpand, docs, []string{c.Document, c.LLMQ, c.DocPrompt, c.ModifyDoc}, []string{c.ExpandDoc}); err != nil {
		return nil, err
	}
	if err := p.preflightDocs(docs); err != nil {
		return nil, err
	}

	values, err := p.mapRows(ctx, StageExpand, docs.Len(), func(ctx context.Context, row int) (string, error) {
		prompt, err := p.prompts.Render(prompts.FamilyDocument, docs.Get(row, c.DocPrompt), prompts.Expand, prompts.Fields{
			"document":           textparse.PrepareDocument(docs.Get(row, c.Document)),
			"hallucinated_facts": textparse.PrepareDocument(docs.Get(row, c.ModifyDoc)),
			"num_fact":           p.opts.NumFact,
		})
		if err != nil {
			return "", err
		}
		return p.complete(ctx, docs.Get(row, c.LLMQ), llm.PlainText(prompt))
	})
	if err != nil {
		return nil, err
	}
	return appendColumn(docs, c.ExpandDoc, values)
}

// Questions writes num_q questions answered by each original document.
func (p *Pipeline) Questions(ctx context.Context, docs *table.Table) (*table.Table, error) {
	return p.QuestionsFrom(ctx, docs, p.docs.Document, p.docs.OrigQuestions)
}

// QuestionsFrom writes questions about the text in source into target.
func (p *Pipeline) QuestionsFrom(ctx context.Context, docs *table.Table, source, target string) (*table.Table, error) {
	c := p.docs
	if err := checkContract(StageQuestions, docs, []string{c.LLMQ, source}, []string{target}); err != nil {
		return nil, err
	}
	if err := p.checkModels(distinct(docs, c.LLMQ)...); err != nil {
		return nil, err
	}
	if err := p.checkPromptKeys(prompts.FamilyQuestion, p.opts.QuestionPromptKey); err != nil {
		return nil, err
	}

	values, err := p.mapRows(ctx, StageQuestions, docs.Len(), func(ctx context.Context, row int) (string, error) {
		prompt, err := p.prompts.Render(prompts.FamilyQuestion, p.opts.QuestionPromptKey, prompts.Original, prompts.Fields{
			"document": textparse.PrepareDocument(docs.Get(row, source)),
			"num_q":    p.opts.NumQ,
		})
		if err != nil {
			return "", err
		}
		text, err := p.complete(ctx, docs.Get(row, c.LLMQ), llm.PlainText(prompt))
		if err != nil {
			return "", err
		}
		return textparse.RenderList(textparse.ParseNumberedQuestions(text)), nil
	})
	if err != nil {
		return nil, err
	}
	return appendColumn(docs, target, values)
}

// Confuse writes questions that each take one fabricated fact for granted.
func (p *Pipeline) Confuse(ctx context.Context, docs *table.Table) (*table.Table, error) {
	c := p.docs
	if err := checkContract(StageConfuse, docs, []string{c.LLMQ, c.Document, c.ModifyDoc}, []string{c.ConfQuestions}); err != nil {
		return nil, err
	}
	if err := p.checkModels(distinct(docs, c.LLMQ)...); err != nil {
		return nil, err
	}
	if err := p.checkPromptKeys(prompts.FamilyQuestion, p.opts.QuestionPromptKey); err != nil {
		return nil, err
	}

	values, err := p.mapRows(ctx, StageConfuse, docs.Len(), func(ctx context.Context, row int) (string, error) {
		prompt, err := p.prompts.Render(prompts.FamilyQuestion, p.opts.QuestionPromptKey, prompts.Confusing, prompts.Fields{
			"document":           textparse.PrepareDocument(docs.Get(row, c.Document)),
			"hallucinated_facts": textparse.PrepareDocument(docs.Get(row, c.ModifyDoc)),
			"num_q":              p.opts.NumQ,
		})
		if err != nil {
			return "", err
		}
		text, err := p.complete(ctx, docs.Get(row, c.LLMQ), llm.PlainText(prompt))
		if err != nil {
			return "", err
		}
		return textparse.RenderList(textparse.ParseNumberedQuestions(text)), nil
	})
	if err != nil {
		return nil, err
	}
	return appendColumn(docs, c.ConfQuestions, values)
}

func appendColumn(t *table.Table, column string, values []string) (*table.Table, error) {
	out := t.Clone()
	if err := out.AddColumn(column, values); err != nil {
		return nil, err
	}
	return out, nil
}
