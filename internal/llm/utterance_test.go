package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessages(t *testing.T) {
	tests := []struct {
		name   string
		prompt Utterance
		want   []Message
	}{
		{
			name:   "plain text is a user message",
			prompt: PlainText("hello"),
			want:   []Message{{Role: RoleUser, Content: "hello"}},
		},
		{
			name:   "explicit turn passes through",
			prompt: Turn{Role: RoleSystem, Content: "rules"},
			want:   []Message{{Role: RoleSystem, Content: "rules"}},
		},
		{
			name:   "odd conversation starts with user",
			prompt: Conversation{PlainText("q"), PlainText("a"), PlainText("check")},
			want: []Message{
				{Role: RoleUser, Content: "q"},
				{Role: RoleAssistant, Content: "a"},
				{Role: RoleUser, Content: "check"},
			},
		},
		{
			name:   "even conversation starts with assistant",
			prompt: Conversation{PlainText("a"), PlainText("q")},
			want: []Message{
				{Role: RoleAssistant, Content: "a"},
				{Role: RoleUser, Content: "q"},
			},
		},
		{
			name: "mixed explicit and positional turns",
			prompt: Conversation{
				Turn{Role: RoleSystem, Content: "rules"},
				PlainText("q"),
				Turn{Role: RoleAssistant, Content: "a"},
				PlainText("check"),
			},
			want: []Message{
				{Role: RoleSystem, Content: "rules"},
				{Role: RoleUser, Content: "q"},
				{Role: RoleAssistant, Content: "a"},
				{Role: RoleUser, Content: "check"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildMessages(tt.prompt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildMessages_Invalid(t *testing.T) {
	invalid := []Utterance{
		nil,
		Conversation{},
		Turn{Content: "no role"},
		Conversation{Conversation{PlainText("nested")}},
	}
	for _, u := range invalid {
		_, err := BuildMessages(u)
		assert.Error(t, err, "prompt %#v", u)
	}
}
