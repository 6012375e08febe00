package classifier

import (
	"regexp"
	"strings"

	"github.com/ethpandaops/resultoor/pkg/outcome"
)

// fuzzPattern matches fuzz target summaries.
// Example: process_message: passed against 1532 files in 48s
var fuzzPattern = regexp.MustCompile(`^\s*(\S+): (passed|failed|skipped) against (\d+) files in (\S+)\s*$`)

// NewFuzzClassifier creates the classifier for fuzz target logs.
func NewFuzzClassifier() Classifier {
	return &ruleClassifier{
		variant: outcome.VariantFuzz,
		rules: []rule{
			coreDumpRule,
			{
				name:    "result",
				pattern: fuzzPattern,
				extract: func(g []string) Match {
					return eventMatch(
						strings.TrimSpace(g[1]),
						outcome.Status(g[2]),
						g[3]+" files",
						g[4],
					)
				},
			},
		},
	}
}
