package outcome

// Variant identifies a test family with its own log grammar and dedup policy.
type Variant string

const (
	VariantUnit       Variant = "unit"
	VariantFunctional Variant = "functional"
	VariantFuzz       Variant = "fuzz"
)

// KeyMode decides which fields make up a record's uniqueness key.
type KeyMode int

const (
	// KeyModeHistory keeps fine-grained history: uniqueness on
	// (test_name, status, detail, duration, timestamp).
	KeyModeHistory KeyMode = iota
	// KeyModeLatest tracks the latest known state per test: uniqueness on
	// test_name alone.
	KeyModeLatest
)

// String returns the key mode name.
func (m KeyMode) String() string {
	switch m {
	case KeyModeHistory:
		return "history"
	case KeyModeLatest:
		return "latest"
	default:
		return "unknown"
	}
}

// Variants lists the supported variants.
var Variants = []Variant{VariantUnit, VariantFunctional, VariantFuzz}

// IsValid reports whether the variant is supported.
func (v Variant) IsValid() bool {
	switch v {
	case VariantUnit, VariantFunctional, VariantFuzz:
		return true
	default:
		return false
	}
}

// KeyMode returns the dedup key mode used by the variant.
func (v Variant) KeyMode() KeyMode {
	if v == VariantUnit {
		return KeyModeHistory
	}

	return KeyModeLatest
}

// UsesStagedMerge reports whether ingest goes through the staged merge.
func (v Variant) UsesStagedMerge() bool {
	return v.KeyMode() == KeyModeHistory
}
