package classifier

import (
	"testing"

	"github.com/ethpandaops/resultoor/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitClassifier_Classify(t *testing.T) {
	c := NewUnitClassifier()

	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantKind MatchKind
		want     outcome.Event
		wantDur  string
	}{
		{
			name:     "running marker is passed",
			line:     "Running tests: BlockValidation from validation.cpp",
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "BlockValidation",
				Status:   outcome.StatusPassed,
				Detail:   "",
			},
		},
		{
			name:     "running marker with surrounding text",
			line:     "[ 42%] Running tests: util_tests from test/util_tests.cpp ...",
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "util_tests",
				Status:   outcome.StatusPassed,
			},
		},
		{
			name:     "failure marker",
			line:     `error: in "BlockValidation": assertion failed`,
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "BlockValidation",
				Status:   outcome.StatusFailed,
				Detail:   "Test failed due to an error.",
			},
		},
		{
			name:     "skipped with reason",
			line:     `Test suite "WalletTests" is skipped because disabled`,
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "WalletTests",
				Status:   outcome.StatusSkipped,
				Detail:   "disabled",
			},
		},
		{
			name:     "disabled suite",
			line:     `Test suite "GuiTests" is disabled`,
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "GuiTests",
				Status:   outcome.StatusSkipped,
				Detail:   "Test suite skipped or disabled",
			},
		},
		{
			name:     "skipped without reason",
			line:     `Test suite "MempoolTests" is skipped`,
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "MempoolTests",
				Status:   outcome.StatusSkipped,
				Detail:   "Test suite skipped or disabled",
			},
		},
		{
			name:     "skipped with empty reason",
			line:     `Test suite "NetTests" is skipped because `,
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "NetTests",
				Status:   outcome.StatusSkipped,
				Detail:   "Test suite skipped or disabled",
			},
		},
		{
			name:     "core dump",
			line:     "/bin/bash: line 1: 1234 Aborted (core dumped) test/test_bitcoin",
			wantOK:   true,
			wantKind: MatchEvent,
			want: outcome.Event{
				TestName: "unknown",
				Status:   outcome.StatusFailedCoreDump,
				Detail:   "Core dump occurred",
			},
		},
		{
			name:     "duration marker",
			line:     "testing time: 2500000us",
			wantOK:   true,
			wantKind: MatchDuration,
			wantDur:  "2s",
		},
		{
			name:     "duration below one second floors to zero",
			line:     "testing time: 999999us",
			wantOK:   true,
			wantKind: MatchDuration,
			wantDur:  "0s",
		},
		{
			name:   "unrelated line",
			line:   "make[3]: Entering directory '/src'",
			wantOK: false,
		},
		{
			name:   "empty line",
			line:   "",
			wantOK: false,
		},
		{
			name:   "running marker without known extension",
			line:   "Running tests: Foo from foo.txt",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := c.Classify(tt.line)
			require.Equal(t, tt.wantOK, ok)

			if !tt.wantOK {
				return
			}

			assert.Equal(t, tt.wantKind, m.Kind)

			if tt.wantKind == MatchDuration {
				assert.Equal(t, tt.wantDur, m.Duration)

				return
			}

			assert.Equal(t, tt.want.TestName, m.Event.TestName)
			assert.Equal(t, tt.want.Status, m.Event.Status)
			assert.Equal(t, tt.want.Detail, m.Event.Detail)
		})
	}
}

func TestUnitClassifier_Precedence(t *testing.T) {
	c := NewUnitClassifier()

	rc, ok := c.(*ruleClassifier)
	require.True(t, ok)
	assert.Equal(t,
		[]string{"core_dump", "failed", "skipped", "running", "duration"},
		rc.RuleNames(),
	)

	t.Run("core dump wins over failure", func(t *testing.T) {
		m, ok := c.Classify(`error: in "Foo": core dumped`)
		require.True(t, ok)
		assert.Equal(t, outcome.StatusFailedCoreDump, m.Event.Status)
		assert.Equal(t, "unknown", m.Event.TestName)
	})

	t.Run("failure wins over running", func(t *testing.T) {
		m, ok := c.Classify(`Running tests: Foo from foo.cpp error: in "Foo"`)
		require.True(t, ok)
		assert.Equal(t, outcome.StatusFailed, m.Event.Status)
	})

	t.Run("skip wins over running", func(t *testing.T) {
		m, ok := c.Classify(`Running tests: Foo from foo.cpp Test suite "Foo" is disabled`)
		require.True(t, ok)
		assert.Equal(t, outcome.StatusSkipped, m.Event.Status)
	})
}

func TestUnitClassifier_StatusesAreKnown(t *testing.T) {
	c := NewUnitClassifier()

	lines := []string{
		"Running tests: A from a.cpp",
		`error: in "A"`,
		`Test suite "A" is disabled`,
		"core dumped",
	}

	for _, line := range lines {
		m, ok := c.Classify(line)
		require.True(t, ok, line)
		assert.Contains(t, outcome.Statuses, m.Event.Status, line)
	}
}

func TestNew(t *testing.T) {
	assert.Equal(t, outcome.VariantUnit, New(outcome.VariantUnit).Variant())
	assert.Equal(t, outcome.VariantFunctional, New(outcome.VariantFunctional).Variant())
	assert.Equal(t, outcome.VariantFuzz, New(outcome.VariantFuzz).Variant())

	noop := New("integration")
	assert.Equal(t, outcome.Variant(""), noop.Variant())

	_, ok := noop.Classify("Running tests: A from a.cpp")
	assert.False(t, ok)
}
