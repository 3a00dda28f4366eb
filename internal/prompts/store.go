// Package prompts holds the prompt templates used by every stage. Templates
// are grouped into families (one file per family), keyed by a short variant
// code, and each key must define every template name its family requires.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Family names a group of templates stored in one file.
type Family string

const (
	FamilyDocument Family = "document"
	FamilyQuestion Family = "question"
	FamilyResponse Family = "response"
	FamilyCheck    Family = "check"
)

// Template names.
const (
	Reduce    = "reduce"
	Modify    = "modify"
	Remove    = "remove"
	Expand    = "expand"
	Original  = "original"
	Confusing = "confusing"
	Response  = "response"
	Confusion = "confusion"
	Defusion  = "defusion"
)

// Required lists the template names every key of a family must define.
var Required = map[Family][]string{
	FamilyDocument: {Reduce, Modify, Remove, Expand},
	FamilyQuestion: {Original, Confusing},
	FamilyResponse: {Response},
	FamilyCheck:    {Confusion, Defusion},
}

// Families returns every family in a stable order.
func Families() []Family {
	return []Family{FamilyDocument, FamilyQuestion, FamilyResponse, FamilyCheck}
}

//go:embed defaults/*.json
var defaultFS embed.FS

// TemplateSchemaError reports a prompt key that lacks required templates.
type TemplateSchemaError struct {
	Family  Family
	Key     string
	Missing []string
}

func (e *TemplateSchemaError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("prompts: no templates for family %q", e.Family)
	}
	return fmt.Sprintf("prompts: %s key %q is missing templates: %s",
		e.Family, e.Key, strings.Join(e.Missing, ", "))
}

// Store is an immutable set of loaded templates.
type Store struct {
	templates map[Family]map[string]map[string]string
}

// Load reads templates from dir. An empty dir loads the embedded defaults.
func Load(dir string) (*Store, error) {
	if dir == "" {
		sub, err := fs.Sub(defaultFS, "defaults")
		if err != nil {
			return nil, eris.Wrap(err, "prompts: open embedded defaults")
		}
		return LoadFS(sub)
	}
	return LoadFS(os.DirFS(dir))
}

// LoadFS reads <family>.json, <family>.yaml or <family>.yml for every family
// from fsys and validates them.
func LoadFS(fsys fs.FS) (*Store, error) {
	s := &Store{templates: make(map[Family]map[string]map[string]string)}

	for _, family := range Families() {
		data, name, err := readFamily(fsys, family)
		if err != nil {
			return nil, err
		}

		var raw map[string]map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, eris.Wrapf(err, "prompts: parse %s", name)
		}
		if len(raw) == 0 {
			return nil, &TemplateSchemaError{Family: family}
		}

		keys := make(map[string]map[string]string, len(raw))
		for key, entries := range raw {
			tmpls, err := decodeKey(family, key, entries)
			if err != nil {
				return nil, err
			}
			keys[key] = tmpls
		}
		s.templates[family] = keys

		zap.L().Debug("loaded prompt family",
			zap.String("family", string(family)),
			zap.String("file", name),
			zap.Int("keys", len(keys)))
	}

	return s, nil
}

func readFamily(fsys fs.FS, family Family) ([]byte, string, error) {
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		name := string(family) + ext
		data, err := fs.ReadFile(fsys, name)
		if err == nil {
			return data, name, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, name, eris.Wrapf(err, "prompts: read %s", name)
		}
	}
	return nil, "", eris.Errorf("prompts: no template file for family %q", family)
}

func decodeKey(family Family, key string, entries map[string]any) (map[string]string, error) {
	tmpls := make(map[string]string, len(entries))
	for name, v := range entries {
		body, err := joinBody(v)
		if err != nil {
			return nil, eris.Wrapf(err, "prompts: %s/%s/%s", family, key, name)
		}
		if _, err := Placeholders(body); err != nil {
			return nil, eris.Wrapf(err, "prompts: %s/%s/%s", family, key, name)
		}
		tmpls[name] = body
	}

	var missing []string
	for _, name := range Required[family] {
		if _, ok := tmpls[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, &TemplateSchemaError{Family: family, Key: key, Missing: missing}
	}
	return tmpls, nil
}

// joinBody accepts a string or a list of strings, which are concatenated.
func joinBody(v any) (string, error) {
	switch body := v.(type) {
	case string:
		return body, nil
	case []any:
		var b strings.Builder
		for i, part := range body {
			s, ok := part.(string)
			if !ok {
				return "", eris.Errorf("element %d is %T, want string", i, part)
			}
			b.WriteString(s)
		}
		return b.String(), nil
	default:
		return "", eris.Errorf("template is %T, want string or list of strings", v)
	}
}

// Keys returns the variant codes defined for family, sorted.
func (s *Store) Keys(family Family) []string {
	keys := make([]string, 0, len(s.templates[family]))
	for k := range s.templates[family] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HasKey reports whether family defines key.
func (s *Store) HasKey(family Family, key string) bool {
	_, ok := s.templates[family][key]
	return ok
}

// Template returns the raw template body.
func (s *Store) Template(family Family, key, name string) (string, error) {
	tmpls, ok := s.templates[family][key]
	if !ok {
		return "", eris.Errorf("prompts: unknown %s prompt key %q (have %s)",
			family, key, strings.Join(s.Keys(family), ", "))
	}
	body, ok := tmpls[name]
	if !ok {
		return "", eris.Errorf("prompts: %s key %q has no template %q", family, key, name)
	}
	return body, nil
}

// Render formats the named template with fields.
func (s *Store) Render(family Family, key, name string, fields Fields) (string, error) {
	body, err := s.Template(family, key, name)
	if err != nil {
		return "", err
	}
	out, err := Format(body, fields)
	if err != nil {
		return "", eris.Wrapf(err, "prompts: render %s/%s/%s", family, key, name)
	}
	return out, nil
}

// Validate checks that key exists for every family in families.
func (s *Store) Validate(key string, families ...Family) error {
	for _, f := range families {
		if !s.HasKey(f, key) {
			return eris.Errorf("prompts: unknown %s prompt key %q", f, key)
		}
	}
	return nil
}
