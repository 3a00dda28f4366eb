package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name   string
		tmpl   string
		fields Fields
		want   string
	}{
		{"no fields", "plain text", nil, "plain text"},
		{"string and int", "Write {num_q} questions about {document}.", Fields{"num_q": 3, "document": "cats"}, "Write 3 questions about cats."},
		{"repeated field", "{a}-{a}", Fields{"a": "x"}, "x-x"},
		{"escaped braces", `Return JSON like {{"answer": "{a}"}}`, Fields{"a": "yes"}, `Return JSON like {"answer": "yes"}`},
		{"extra fields ignored", "{a}", Fields{"a": 1, "b": 2}, "1"},
		{"value with braces is not re-expanded", "{a}", Fields{"a": "{b}"}, "{b}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Format(tt.tmpl, tt.fields)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_Errors(t *testing.T) {
	for _, tmpl := range []string{"{missing}", "open {", "close }", "{}", "{a b}"} {
		_, err := Format(tmpl, Fields{"a": 1})
		assert.Error(t, err, "template %q", tmpl)
	}
}

func TestPlaceholders(t *testing.T) {
	names, err := Placeholders("{document} and {num_q} and {document} {{literal}}")
	require.NoError(t, err)
	assert.Equal(t, []string{"document", "num_q"}, names)
}
