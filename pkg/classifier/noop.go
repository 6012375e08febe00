package classifier

import "github.com/ethpandaops/resultoor/pkg/outcome"

// noopClassifier is used for unknown variants. It never matches.
type noopClassifier struct{}

// NewNoopClassifier creates a new no-op classifier.
func NewNoopClassifier() Classifier {
	return &noopClassifier{}
}

// Ensure interface compliance.
var _ Classifier = (*noopClassifier)(nil)

// Classify always returns false.
func (c *noopClassifier) Classify(_ string) (Match, bool) {
	return Match{}, false
}

// Variant returns an empty variant.
func (c *noopClassifier) Variant() outcome.Variant {
	return ""
}
