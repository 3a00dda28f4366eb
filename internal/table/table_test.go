package table

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Table {
	t.Helper()
	tbl, err := New("doc_id", "document")
	require.NoError(t, err)
	require.NoError(t, tbl.AppendValues("1", "first"))
	require.NoError(t, tbl.Append(map[string]string{"doc_id": "2", "document": "second"}))
	return tbl
}

func TestTable_Basics(t *testing.T) {
	tbl := sample(t)

	assert.Equal(t, []string{"doc_id", "document"}, tbl.Columns())
	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, "second", tbl.Get(1, "document"))
	assert.Equal(t, "", tbl.Get(1, "nope"))
	assert.Equal(t, []string{"1", "2"}, tbl.Column("doc_id"))
	assert.Equal(t, map[string]string{"doc_id": "1", "document": "first"}, tbl.Row(0))

	require.NoError(t, tbl.AddColumn("reduce_doc", []string{"a", "b"}))
	assert.Equal(t, "b", tbl.Get(1, "reduce_doc"))

	assert.Error(t, tbl.AddColumn("reduce_doc", []string{"x", "y"}), "duplicate column")
	assert.Error(t, tbl.AddColumn("short", []string{"x"}), "wrong length")
	assert.Error(t, tbl.Append(map[string]string{"other": "x"}))
	assert.Error(t, tbl.AppendValues("only one"))

	_, err := New("a", "a")
	assert.Error(t, err)
}

func TestTable_CloneIsDeep(t *testing.T) {
	tbl := sample(t)
	c := tbl.Clone()
	require.NoError(t, c.AddColumn("extra", []string{"x", "y"}))

	assert.False(t, tbl.Has("extra"))
	assert.Len(t, tbl.Row(0), 2)
}

func TestTable_RequireAndForbid(t *testing.T) {
	tbl := sample(t)

	assert.NoError(t, tbl.Require("reduce", "doc_id", "document"))
	assert.NoError(t, tbl.Forbid("reduce", "reduce_doc"))

	err := tbl.Require("reduce", "document", "LLM_q")
	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, &SchemaError{Stage: "reduce", Column: "LLM_q", Reason: ReasonMissing}, schemaErr)

	err = tbl.Forbid("record", "document")
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, ReasonExists, schemaErr.Reason)
	assert.Equal(t, `stage record: column "document" already exists`, err.Error())
}

func TestCSV_RoundTrip(t *testing.T) {
	tbl := sample(t)
	require.NoError(t, tbl.AddColumn("reduce_doc", []string{"1. a\n2. \"b\"", ""}))

	var buf bytes.Buffer
	require.NoError(t, tbl.WriteCSV(&buf))

	got, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, tbl.Columns(), got.Columns())
	assert.Equal(t, tbl.Row(0), got.Row(0))
	assert.Equal(t, tbl.Row(1), got.Row(1))
}

func TestReadCSV_Edges(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		tbl, err := ReadCSV(strings.NewReader(""))
		require.NoError(t, err)
		assert.Equal(t, 0, tbl.Len())
		assert.Empty(t, tbl.Columns())
	})

	t.Run("byte order mark", func(t *testing.T) {
		tbl, err := ReadCSV(strings.NewReader("\xef\xbb\xbfdoc_id,document\n1,x\n"))
		require.NoError(t, err)
		assert.True(t, tbl.Has("doc_id"))
	})

	t.Run("ragged row", func(t *testing.T) {
		_, err := ReadCSV(strings.NewReader("a,b\n1\n"))
		assert.Error(t, err)
	})
}

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "work", "docs_0.csv")
	tbl := sample(t)

	require.NoError(t, tbl.WriteFile(path))
	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, tbl.Column("document"), got.Column("document"))

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
