// Package textparse recovers numbered items from free-form model output and
// renders them back into numbered lists.
package textparse

import (
	"fmt"
	"regexp"
	"strings"
)

// MissingFact is the placeholder written into a suppressed fact slot.
const MissingFact = "(missing)"

var (
	questionMarker = regexp.MustCompile(`^\d+[:.]\s+`)
	factMarker     = regexp.MustCompile(`^(\d+[:.]|[:.\-*+])\s+`)
	blankRuns      = regexp.MustCompile(`\n\s*\n`)
)

// ParseNumberedQuestions extracts questions from a numbered list.
//
// A line starting with "N." or "N:" opens a new item; unmarked lines are
// joined to the open item with a single space. An item is kept only once it
// ends with '?', so an unterminated tail is dropped.
func ParseNumberedQuestions(text string) []string {
	questions := []string{}
	var chunks []string

	flush := func() {
		if len(chunks) == 0 {
			return
		}
		q := strings.TrimSpace(strings.Join(chunks, " "))
		if strings.HasSuffix(q, "?") {
			questions = append(questions, q)
		}
		chunks = nil
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if loc := questionMarker.FindStringIndex(line); loc != nil {
			flush()
			line = strings.TrimSpace(line[loc[1]:])
			if line == "" {
				continue
			}
		}
		chunks = append(chunks, line)
		if strings.HasSuffix(line, "?") {
			flush()
		}
	}
	flush()

	return questions
}

// ParseFacts splits a fact list into one slot per non-empty line, stripping
// a leading number or bullet marker.
func ParseFacts(text string) []string {
	facts := []string{}
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if loc := factMarker.FindStringIndex(line); loc != nil {
			line = strings.TrimSpace(line[loc[1]:])
		}
		if line == "" {
			continue
		}
		facts = append(facts, line)
	}
	return facts
}

// RenderList renders items as "1. item" lines joined by newlines.
func RenderList(items []string) string {
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. %s", i+1, item)
	}
	return b.String()
}

// PrepareDocument removes runs of empty lines from a raw document body.
func PrepareDocument(raw string) string {
	return blankRuns.ReplaceAllString(raw, "\n")
}

// StripFactsHeader drops a leading "Here is the list of facts:" style line
// that models like to prepend to a fact list.
func StripFactsHeader(text string) string {
	text = strings.TrimLeft(text, "\n")
	first, rest, found := strings.Cut(text, "\n")
	if !strings.Contains(strings.ToLower(first), "list of facts") {
		return text
	}
	if !found {
		return ""
	}
	return rest
}
