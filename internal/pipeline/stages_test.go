package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/defuse/internal/table"
)

func TestStages_CoverDefaultChain(t *testing.T) {
	p := newTestPipeline(t, &fakeCompleter{}, Options{})

	var names []string
	for _, s := range p.Stages() {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Description, s.Name)
	}
	assert.Equal(t, DefaultChain, names)
}

func TestRun_UnknownAndMetrics(t *testing.T) {
	p := newTestPipeline(t, &fakeCompleter{}, Options{})

	_, err := p.Run(context.Background(), "summarise", Tables{})
	assert.Error(t, err)
	_, err = p.Run(context.Background(), StageMetrics, Tables{})
	assert.Error(t, err)
}

func TestChain_PersistsEveryStep(t *testing.T) {
	fake := &fakeCompleter{reply: replyWith("1. fact")}
	p := newTestPipeline(t, fake, Options{})
	dir := filepath.Join(t.TempDir(), "work")

	docs := newTable(t, []string{"doc_id", "document"}, []string{"1", "doc"})
	out, summary, err := p.Chain(context.Background(), dir, []string{StageRecord, StageReduce}, Tables{Docs: docs})
	require.NoError(t, err)
	assert.Nil(t, summary)
	assert.Equal(t, "1. fact", out.Docs.Get(0, "reduce_doc"))

	for n, cols := range [][]string{
		{"doc_id", "document"},
		{"doc_id", "document", "LLM_q", "doc_prompt"},
		{"doc_id", "document", "LLM_q", "doc_prompt", "reduce_doc"},
	} {
		saved, err := table.ReadFile(filepath.Join(dir, DocsFile(n)))
		require.NoError(t, err, DocsFile(n))
		assert.Equal(t, cols, saved.Columns())
	}
}

func TestChain_FailureKeepsEarlierTables(t *testing.T) {
	fake := &fakeCompleter{reply: replyWith("1. fact")}
	p := newTestPipeline(t, fake, Options{})
	dir := t.TempDir()

	docs := newTable(t, []string{"doc_id", "document"}, []string{"1", "doc"})
	_, _, err := p.Chain(context.Background(), dir, []string{StageRecord, StageModify}, Tables{Docs: docs})
	requireSchemaError(t, err, StageModify, "reduce_doc", table.ReasonMissing)

	_, err = os.Stat(filepath.Join(dir, DocsFile(1)))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, DocsFile(2)))
	assert.True(t, os.IsNotExist(err))
}

func TestChain_UnknownStageFailsUpFront(t *testing.T) {
	fake := &fakeCompleter{reply: replyWith("1. fact")}
	p := newTestPipeline(t, fake, Options{})
	dir := filepath.Join(t.TempDir(), "work")

	docs := newTable(t, []string{"doc_id", "document"}, []string{"1", "doc"})
	_, _, err := p.Chain(context.Background(), dir, []string{StageRecord, "summarise"}, Tables{Docs: docs})
	assert.Error(t, err)
	assert.Zero(t, fake.count())
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestChain_Metrics(t *testing.T) {
	p := newTestPipeline(t, &fakeCompleter{}, Options{})
	dir := t.TempDir()

	qr := newTable(t,
		[]string{"doc_id", "q_id", "is_confusing", "question", "confusion", "defusion", "is_defused"},
		[]string{"d1", "1", "yes", "c1?", "Yes.", "No", "no"},
		[]string{"d1", "2", "yes", "c2?", "Yes.", "Yes", "yes"},
	)

	_, summary, err := p.Chain(context.Background(), dir, []string{StageMetrics}, Tables{QR: qr})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, PartitionCounts{Total: 2, Detected: 2, DetectedAndDefused: 1}, summary.Confusing)

	filter, err := table.ReadFile(filepath.Join(dir, FileFilter))
	require.NoError(t, err)
	assert.Equal(t, []string{"c1?"}, filter.Column("question"))

	text, err := os.ReadFile(filepath.Join(dir, FileMetrics))
	require.NoError(t, err)
	assert.Equal(t, summary.Text(), string(text))

	_, err = os.Stat(filepath.Join(dir, FileQROut))
	assert.NoError(t, err)
}
