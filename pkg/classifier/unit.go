package classifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethpandaops/resultoor/pkg/outcome"
)

// Unit test output (Boost.Test via make check). Examples:
//
//	Running tests: BlockValidation from validation.cpp
//	error: in "BlockValidation": assertion failed
//	Test suite "WalletTests" is skipped because disabled
//	testing time: 2500000us
var (
	unitFailedPattern   = regexp.MustCompile(`error: in "(.+?)"`)
	unitSkippedPattern  = regexp.MustCompile(`Test suite "(.+?)" (?:is skipped(?: because (.*))?|is disabled)`)
	unitRunningPattern  = regexp.MustCompile(`Running tests: (.+?) from (.+?\.(?:cpp|h|py|java|c|rb|go|php))`)
	unitDurationPattern = regexp.MustCompile(`testing time: (\d+)us`)
)

const (
	unitFailedDetail  = "Test failed due to an error."
	unitSkippedDetail = "Test suite skipped or disabled"
)

// NewUnitClassifier creates the classifier for unit test logs.
func NewUnitClassifier() Classifier {
	return &ruleClassifier{
		variant: outcome.VariantUnit,
		rules: []rule{
			coreDumpRule,
			{
				name:    "failed",
				pattern: unitFailedPattern,
				extract: func(g []string) Match {
					return eventMatch(strings.TrimSpace(g[1]), outcome.StatusFailed, unitFailedDetail, "")
				},
			},
			{
				name:    "skipped",
				pattern: unitSkippedPattern,
				// The reason clause becomes the detail when present.
				extract: func(g []string) Match {
					detail := strings.TrimSpace(g[2])
					if detail == "" {
						detail = unitSkippedDetail
					}

					return eventMatch(strings.TrimSpace(g[1]), outcome.StatusSkipped, detail, "")
				},
			},
			{
				// A test that starts running without a later failure or skip
				// marker is recorded as passed.
				name:    "running",
				pattern: unitRunningPattern,
				extract: func(g []string) Match {
					return eventMatch(strings.TrimSpace(g[1]), outcome.StatusPassed, "", "")
				},
			},
			{
				name:    "duration",
				pattern: unitDurationPattern,
				extract: func(g []string) Match {
					return Match{Kind: MatchDuration, Duration: microsToSeconds(g[1])}
				},
			},
		},
	}
}

// microsToSeconds converts a microsecond count to whole seconds (floor).
func microsToSeconds(raw string) string {
	us, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return outcome.DefaultDuration
	}

	return fmt.Sprintf("%ds", us/1_000_000)
}
