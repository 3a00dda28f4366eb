package pipeline

import (
	"fmt"
	"strings"

	"github.com/ppiankov/defuse/internal/table"
)

// PartitionCounts are the counts for one side of the confusing split.
type PartitionCounts struct {
	Total              int `json:"total" yaml:"total"`
	Detected           int `json:"detected" yaml:"detected"`
	DetectedAndDefused int `json:"detected_and_defused" yaml:"detected_and_defused"`
}

// DetectedNotDefused is Detected minus DetectedAndDefused.
func (c PartitionCounts) DetectedNotDefused() int {
	return c.Detected - c.DetectedAndDefused
}

// Summary is the result of the metrics stage.
type Summary struct {
	Original  PartitionCounts `json:"original" yaml:"original"`
	Confusing PartitionCounts `json:"confusing" yaml:"confusing"`
}

// Text renders the summary as written to metrics.txt.
func (s Summary) Text() string {
	var b strings.Builder
	b.WriteString("Original (non-confusing) questions:")
	fmt.Fprintf(&b, "\n    Total questions = %d", s.Original.Total)
	fmt.Fprintf(&b, "\n    With confusion detected = %d", s.Original.Detected)
	fmt.Fprintf(&b, "\n    With confusion detected and defused = %d", s.Original.DetectedAndDefused)
	b.WriteString("\n Confusing questions:")
	fmt.Fprintf(&b, "\n    Total questions = %d", s.Confusing.Total)
	fmt.Fprintf(&b, "\n    With confusion detected = %d", s.Confusing.Detected)
	fmt.Fprintf(&b, "\n    With confusion detected and defused = %d", s.Confusing.DetectedAndDefused)
	fmt.Fprintf(&b, "\n    With confusion detected, but not defused = %d", s.Confusing.DetectedNotDefused())
	b.WriteString("\n")
	b.WriteString(s.KeyValues())
	b.WriteString("\n")
	return b.String()
}

// KeyValues renders the counts as one line of key=value pairs.
func (s Summary) KeyValues() string {
	return fmt.Sprintf("orig_questions=%d orig_detected=%d orig_detected_and_defused=%d "+
		"conf_questions=%d conf_detected=%d conf_detected_and_defused=%d",
		s.Original.Total, s.Original.Detected, s.Original.DetectedAndDefused,
		s.Confusing.Total, s.Confusing.Detected, s.Confusing.DetectedAndDefused)
}

// Metrics counts the questions of each partition that had a confusion
// detected, and how many of those were defused. Confusing questions whose
// confusion was detected but not defused are copied into the filter table.
// Rows whose is_confusing is neither "yes" nor "no" are ignored.
func (p *Pipeline) Metrics(qr *table.Table) (*table.Table, Summary, error) {
	return ComputeMetrics(qr, p.qr)
}

// ComputeMetrics is Metrics for a given column layout.
func ComputeMetrics(qr *table.Table, cols QRColumns) (*table.Table, Summary, error) {
	cols = cols.withDefaults()
	var s Summary
	if err := checkContract(StageMetrics, qr, []string{cols.IsConfusing, cols.Confusion, cols.IsDefused}, nil); err != nil {
		return nil, s, err
	}

	filter, err := table.New(qr.Columns()...)
	if err != nil {
		return nil, s, err
	}

	for row := range qr.Len() {
		detected := qr.Get(row, cols.Confusion) != ValueNone
		defused := qr.Get(row, cols.IsDefused) == ValueYes

		var counts *PartitionCounts
		switch qr.Get(row, cols.IsConfusing) {
		case ValueYes:
			counts = &s.Confusing
			if detected && !defused {
				if err := filter.Append(qr.Row(row)); err != nil {
					return nil, s, err
				}
			}
		case ValueNo:
			counts = &s.Original
		default:
			continue
		}

		counts.Total++
		if detected {
			counts.Detected++
			if defused {
				counts.DetectedAndDefused++
			}
		}
	}

	return filter, s, nil
}
