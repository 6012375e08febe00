package classifier

import (
	"regexp"

	"github.com/ethpandaops/resultoor/pkg/outcome"
)

// MatchKind tells the scanner what a classified line carries.
type MatchKind int

const (
	// MatchEvent lines produce an outcome event.
	MatchEvent MatchKind = iota + 1
	// MatchDuration lines only update the duration context.
	MatchDuration
)

// Match is the result of classifying one line.
type Match struct {
	Kind     MatchKind
	Event    outcome.Event
	Duration string
}

// Classifier maps a single raw log line to zero or one match.
type Classifier interface {
	// Classify tests the line against the variant's rules in precedence
	// order. Returns false when no rule matches; such lines are skipped.
	Classify(line string) (Match, bool)

	// Variant returns the variant this classifier is for.
	Variant() outcome.Variant
}

// New returns the classifier for the given variant. Unknown variants get a
// classifier that never matches.
func New(variant outcome.Variant) Classifier {
	switch variant {
	case outcome.VariantUnit:
		return NewUnitClassifier()
	case outcome.VariantFunctional:
		return NewFunctionalClassifier()
	case outcome.VariantFuzz:
		return NewFuzzClassifier()
	default:
		return NewNoopClassifier()
	}
}

// rule is one (pattern, extractor) pair. Rules are evaluated in slice order
// and the first matching rule wins.
type rule struct {
	name    string
	pattern *regexp.Regexp
	extract func(groups []string) Match
}

// ruleClassifier evaluates an ordered rule list.
type ruleClassifier struct {
	variant outcome.Variant
	rules   []rule
}

// Ensure interface compliance.
var _ Classifier = (*ruleClassifier)(nil)

// Classify returns the match of the first rule whose pattern matches.
func (c *ruleClassifier) Classify(line string) (Match, bool) {
	for _, r := range c.rules {
		groups := r.pattern.FindStringSubmatch(line)
		if groups == nil {
			continue
		}

		return r.extract(groups), true
	}

	return Match{}, false
}

// Variant returns the variant.
func (c *ruleClassifier) Variant() outcome.Variant {
	return c.variant
}

// RuleNames returns the rule names in precedence order.
func (c *ruleClassifier) RuleNames() []string {
	names := make([]string, 0, len(c.rules))
	for _, r := range c.rules {
		names = append(names, r.name)
	}

	return names
}

// coreDumpPattern matches abnormal termination in any variant's output,
// including "Aborted (core dumped)".
var coreDumpPattern = regexp.MustCompile(`core dumped`)

// coreDumpRule has the highest precedence in every variant. The failing test
// cannot be identified from the marker line.
var coreDumpRule = rule{
	name:    "core_dump",
	pattern: coreDumpPattern,
	extract: func(_ []string) Match {
		return eventMatch("unknown", outcome.StatusFailedCoreDump, "Core dump occurred", "")
	},
}

func eventMatch(name string, status outcome.Status, detail, duration string) Match {
	return Match{
		Kind: MatchEvent,
		Event: outcome.Event{
			TestName: name,
			Status:   status,
			Detail:   detail,
			Duration: duration,
		},
	}
}
