package plan

import (
	"math"
	"strings"
)

// Report is the completeness evaluation of a plan's elements.
type Report struct {
	CompletenessScore int      `json:"completenessScore"`
	MissingElements   []string `json:"missingElements"`
}

// Complete reports whether every mandatory element is present.
func (r Report) Complete() bool {
	return len(r.MissingElements) == 0
}

// Meets reports whether the plan is complete or scores at least min.
func (r Report) Meets(min int) bool {
	return r.Complete() || r.CompletenessScore >= min
}

// Evaluate scores the presence of the 12 mandatory elements.
// An element counts as present when it holds non-whitespace text. Missing names follow canonical order.
func Evaluate(e Elements) Report {
	missing := make([]string, 0, ElementCount)
	complete := 0
	for i, v := range e.Values() {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, Canonical[i].Name)
			continue
		}
		complete++
	}
	return Report{
		CompletenessScore: int(math.Round(100 * float64(complete) / ElementCount)),
		MissingElements:   missing,
	}
}
