package prompts

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Fields are the named values substituted into a template.
type Fields map[string]any

// Format substitutes {name} placeholders in tmpl with fields. Literal braces
// are written as {{ and }}. Referencing a field that is not supplied is an
// error; supplying fields the template does not use is not.
func Format(tmpl string, fields Fields) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	err := scan(tmpl, func(literal string) {
		b.WriteString(literal)
	}, func(name string) error {
		v, ok := fields[name]
		if !ok {
			return eris.Errorf("prompts: template field %q not supplied", name)
		}
		b.WriteString(fmt.Sprint(v))
		return nil
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Placeholders lists the field names tmpl references, in order of first use.
func Placeholders(tmpl string) ([]string, error) {
	var names []string
	seen := map[string]bool{}
	err := scan(tmpl, func(string) {}, func(name string) error {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
		return nil
	})
	return names, err
}

func scan(tmpl string, literal func(string), field func(string) error) error {
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			literal("{")
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			literal("}")
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return eris.Errorf("prompts: unclosed '{' at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			if name == "" || strings.ContainsAny(name, "{ \t\n") {
				return eris.Errorf("prompts: invalid placeholder %q at offset %d", name, i)
			}
			if err := field(name); err != nil {
				return err
			}
			i += end + 2
		case c == '}':
			return eris.Errorf("prompts: single '}' at offset %d", i)
		default:
			j := i
			for j < len(tmpl) && tmpl[j] != '{' && tmpl[j] != '}' {
				j++
			}
			literal(tmpl[i:j])
			i = j
		}
	}
	return nil
}
