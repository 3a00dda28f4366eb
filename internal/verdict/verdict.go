// Package verdict classifies free-form model replies that were asked to
// start with "Yes" or "No".
package verdict

import (
	"strings"
	"unicode"
)

// Verdict is the three-way outcome of a yes/no check.
type Verdict int

const (
	Unsure Verdict = iota
	Yes
	No
)

func (v Verdict) String() string {
	switch v {
	case Yes:
		return "yes"
	case No:
		return "no"
	default:
		return "unsure"
	}
}

// Phrases lists the recognised openers for each verdict.
type Phrases struct {
	Yes []string `yaml:"yes" mapstructure:"yes"`
	No  []string `yaml:"no" mapstructure:"no"`
}

// DefaultPhrases returns the openers the bundled prompts ask for.
func DefaultPhrases() Phrases {
	return Phrases{
		Yes: []string{"yes"},
		No:  []string{"no"},
	}
}

// Classifier matches replies by prefix. Matching is case-insensitive, skips
// leading punctuation and markdown emphasis, and requires a word boundary
// after the phrase so "Nonetheless" is not read as "No".
type Classifier struct {
	yes []string
	no  []string
}

// NewClassifier builds a classifier from phrase lists. Empty lists fall back
// to the defaults.
func NewClassifier(p Phrases) *Classifier {
	def := DefaultPhrases()
	if len(p.Yes) == 0 {
		p.Yes = def.Yes
	}
	if len(p.No) == 0 {
		p.No = def.No
	}
	return &Classifier{yes: normalize(p.Yes), no: normalize(p.No)}
}

// Classify returns the verdict carried by the opening of reply.
func (c *Classifier) Classify(reply string) Verdict {
	text := strings.ToLower(strings.TrimLeftFunc(reply, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || r == '*' || r == '#' || r == '`'
	}))
	// No is checked first so that a configured "no" never loses to a
	// longer yes phrase sharing its prefix.
	if matchAny(text, c.no) {
		return No
	}
	if matchAny(text, c.yes) {
		return Yes
	}
	return Unsure
}

// Majority folds several verdicts into one. Ties and empty input are Unsure.
func Majority(verdicts []Verdict) Verdict {
	counts := map[Verdict]int{}
	for _, v := range verdicts {
		counts[v]++
	}
	switch {
	case counts[Yes] > counts[No] && counts[Yes] > counts[Unsure]:
		return Yes
	case counts[No] > counts[Yes] && counts[No] > counts[Unsure]:
		return No
	default:
		return Unsure
	}
}

func matchAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if !strings.HasPrefix(text, p) {
			continue
		}
		rest := text[len(p):]
		if rest == "" {
			return true
		}
		r := []rune(rest)[0]
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func normalize(phrases []string) []string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
