package prompts

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmbeddedDefaults(t *testing.T) {
	s, err := Load("")
	require.NoError(t, err)

	for _, family := range Families() {
		keys := s.Keys(family)
		require.NotEmpty(t, keys, "family %s", family)
		for _, name := range Required[family] {
			_, err := s.Template(family, keys[0], name)
			assert.NoError(t, err, "%s/%s/%s", family, keys[0], name)
		}
	}

	out, err := s.Render(FamilyResponse, "rr-1", Response, Fields{
		"document": "The sky is blue.",
		"question": "What colour is the sky?",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Document:\n\nThe sky is blue.\n\n")
	assert.Contains(t, out, "Question:\n\nWhat colour is the sky?\n\nAnswer:")
}

func validFS() fstest.MapFS {
	return fstest.MapFS{
		"document.json": {Data: []byte(`{"k": {"reduce": "r {document}", "modify": "m", "remove": "x", "expand": "e"}}`)},
		"question.yaml": {Data: []byte("k:\n  original: [\"Write {num_q} \", \"questions.\"]\n  confusing: c\n")},
		"response.json": {Data: []byte(`{"k": {"response": "{question}"}}`)},
		"check.json":    {Data: []byte(`{"k": {"confusion": "c", "defusion": "d"}}`)},
	}
}

func TestLoadFS_ListBodiesAreConcatenated(t *testing.T) {
	s, err := LoadFS(validFS())
	require.NoError(t, err)

	body, err := s.Template(FamilyQuestion, "k", Original)
	require.NoError(t, err)
	assert.Equal(t, "Write {num_q} questions.", body)

	out, err := s.Render(FamilyQuestion, "k", Original, Fields{"num_q": 5})
	require.NoError(t, err)
	assert.Equal(t, "Write 5 questions.", out)
}

func TestLoadFS_MissingTemplate(t *testing.T) {
	fsys := validFS()
	fsys["check.json"] = &fstest.MapFile{Data: []byte(`{"k": {"confusion": "c"}}`)}

	_, err := LoadFS(fsys)

	var schemaErr *TemplateSchemaError
	require.True(t, errors.As(err, &schemaErr), "expected *TemplateSchemaError, got %T: %v", err, err)
	assert.Equal(t, FamilyCheck, schemaErr.Family)
	assert.Equal(t, "k", schemaErr.Key)
	assert.Equal(t, []string{Defusion}, schemaErr.Missing)
}

func TestLoadFS_EmptyFamily(t *testing.T) {
	fsys := validFS()
	fsys["response.json"] = &fstest.MapFile{Data: []byte(`{}`)}

	_, err := LoadFS(fsys)

	var schemaErr *TemplateSchemaError
	require.True(t, errors.As(err, &schemaErr))
	assert.Equal(t, FamilyResponse, schemaErr.Family)
}

func TestLoadFS_MissingFile(t *testing.T) {
	fsys := validFS()
	delete(fsys, "document.json")

	_, err := LoadFS(fsys)
	assert.Error(t, err)
}

func TestLoadFS_BadBody(t *testing.T) {
	tests := map[string]string{
		"number body":      `{"k": {"response": 42}}`,
		"non-string item":  `{"k": {"response": ["a", 1]}}`,
		"unclosed brace":   `{"k": {"response": "Question: {question"}}`,
		"stray close":      `{"k": {"response": "Question: }"}}`,
		"empty field name": `{"k": {"response": "Question: {}"}}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			fsys := validFS()
			fsys["response.json"] = &fstest.MapFile{Data: []byte(body)}
			_, err := LoadFS(fsys)
			assert.Error(t, err)
		})
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	for name, f := range validFS() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), f.Data, 0o644))
	}

	s, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, s.Keys(FamilyDocument))
	assert.True(t, s.HasKey(FamilyCheck, "k"))
	assert.NoError(t, s.Validate("k", Families()...))
	assert.Error(t, s.Validate("nope", FamilyCheck))
}

func TestStore_UnknownKeyAndName(t *testing.T) {
	s, err := LoadFS(validFS())
	require.NoError(t, err)

	_, err = s.Render(FamilyDocument, "missing", Reduce, nil)
	assert.Error(t, err)

	_, err = s.Render(FamilyDocument, "k", "summarise", nil)
	assert.Error(t, err)

	_, err = s.Render(FamilyDocument, "k", Reduce, Fields{})
	assert.Error(t, err, "document field not supplied")
}
