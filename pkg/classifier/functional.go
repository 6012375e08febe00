package classifier

import (
	"regexp"
	"strings"

	"github.com/ethpandaops/resultoor/pkg/outcome"
)

// Functional test runner summary lines. Examples:
//
//	1/250 - feature_block.py passed, Duration: 120 s
//	2/250 - wallet_backup.py skipped (wallet disabled)
//	3/250 - p2p_ping.py failed, Duration: 3 s
var (
	functionalPattern         = regexp.MustCompile(`^\s*(\d+)/(\d+) - (.+?) (passed|failed|skipped)\b(.*)$`)
	functionalDurationPattern = regexp.MustCompile(`(?:^|,\s*)Duration:\s*(.+?)\s*$`)
)

const (
	functionalFailedDetail  = "Test failed due to an error."
	functionalSkippedDetail = "Test skipped"
)

// NewFunctionalClassifier creates the classifier for functional test logs.
func NewFunctionalClassifier() Classifier {
	return &ruleClassifier{
		variant: outcome.VariantFunctional,
		rules: []rule{
			coreDumpRule,
			{
				name:    "result",
				pattern: functionalPattern,
				extract: extractFunctional,
			},
		},
	}
}

func extractFunctional(g []string) Match {
	status := outcome.Status(g[4])
	detail, duration := splitFunctionalRest(g[5])

	if detail == "" {
		switch status {
		case outcome.StatusFailed:
			detail = functionalFailedDetail
		case outcome.StatusSkipped:
			detail = functionalSkippedDetail
		}
	}

	return eventMatch(strings.TrimSpace(g[3]), status, detail, duration)
}

// splitFunctionalRest separates the free-form detail from the trailing
// "Duration: X" clause.
func splitFunctionalRest(rest string) (detail, duration string) {
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSpace(strings.TrimPrefix(rest, ","))

	if loc := functionalDurationPattern.FindStringSubmatchIndex(rest); loc != nil {
		duration = rest[loc[2]:loc[3]]
		rest = rest[:loc[0]]
	}

	detail = strings.TrimSpace(rest)
	if strings.HasPrefix(detail, "(") && strings.HasSuffix(detail, ")") {
		detail = strings.TrimSpace(detail[1 : len(detail)-1])
	}

	return detail, duration
}
