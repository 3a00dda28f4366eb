package llm

import "github.com/rotisserie/eris"

// Role of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn as sent on the wire.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Utterance is a prompt: PlainText, Turn or Conversation.
type Utterance interface {
	utterance()
}

// PlainText is a user message. Inside a Conversation its role is derived from
// its position: the last element is the user, and roles alternate backwards.
type PlainText string

// Turn is a message with an explicit role, passed through unchanged.
type Turn struct {
	Role    Role
	Content string
}

// Conversation is an ordered multi-turn prompt. Elements are PlainText or Turn.
type Conversation []Utterance

func (PlainText) utterance()    {}
func (Turn) utterance()         {}
func (Conversation) utterance() {}

// BuildMessages turns an utterance into wire messages.
func BuildMessages(u Utterance) ([]Message, error) {
	switch v := u.(type) {
	case PlainText:
		return []Message{{Role: RoleUser, Content: string(v)}}, nil
	case Turn:
		if v.Role == "" {
			return nil, eris.New("llm: turn without a role")
		}
		return []Message{{Role: v.Role, Content: v.Content}}, nil
	case Conversation:
		if len(v) == 0 {
			return nil, eris.New("llm: empty conversation")
		}
		msgs := make([]Message, 0, len(v))
		for i, item := range v {
			switch e := item.(type) {
			case PlainText:
				role := RoleAssistant
				if (len(v)-i)%2 == 1 {
					role = RoleUser
				}
				msgs = append(msgs, Message{Role: role, Content: string(e)})
			case Turn:
				if e.Role == "" {
					return nil, eris.Errorf("llm: conversation turn %d without a role", i)
				}
				msgs = append(msgs, Message{Role: e.Role, Content: e.Content})
			default:
				return nil, eris.Errorf("llm: conversation element %d has unsupported type %T", i, item)
			}
		}
		return msgs, nil
	case nil:
		return nil, eris.New("llm: nil prompt")
	default:
		return nil, eris.Errorf("llm: unsupported prompt type %T", u)
	}
}
