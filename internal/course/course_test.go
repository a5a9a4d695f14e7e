package course

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Code
		ok   bool
	}{
		{"CS 3110", "CS 3110", true},
		{"cs 3110", "CS 3110", true},
		{"cs3110", "CS 3110", true},
		{"  CS   3110 ", "CS 3110", true},
		{"CHEM 2090", "CHEM 2090", true},
		{"MATH 1920", "MATH 1920", true},
		{"ECE 2300", "ECE 2300", true},
		{"CS 211", "CS 211", true},
		{"BIOMG 1350", "", false}, // five-letter subject exceeds the canonical shape
		{"CS", "", false},
		{"3110", "", false},
		{"", "", false},
		{"C 3110", "", false},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if !tc.ok {
			require.Error(t, err, "input %q", tc.in)
			continue
		}
		require.NoError(t, err, "input %q", tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestNormalizeIdempotentProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("normalize is idempotent on accepted inputs", prop.ForAll(
		func(raw string) bool {
			once, err := Normalize(raw)
			if err != nil {
				return true // rejected inputs are outside the property
			}
			twice, err := Normalize(string(once))
			return err == nil && once == twice
		},
		gen.RegexMatch(`[A-Za-z]{2,4} ?[0-9]{3,4}[A-Za-z]?`),
	))
	properties.TestingRun(t)
}

func TestCodeParts(t *testing.T) {
	c := MustNormalize("CS 3110")
	require.Equal(t, "CS", c.Subject())
	require.Equal(t, 3110, c.Number())
	require.Equal(t, 3000, c.Level())

	suffixed := MustNormalize("MATH 1110A")
	require.Equal(t, 1110, suffixed.Number())
}

func TestExtractMentions(t *testing.T) {
	codes := ExtractMentions("Should I take cs3110 after CS 2110? Maybe MATH 1920 too. cs 3110 again.", 0)
	require.Equal(t, []Code{"CS 3110", "CS 2110", "MATH 1920"}, codes)

	capped := ExtractMentions("CS 1110 CS 2110 CS 3110", 2)
	require.Equal(t, []Code{"CS 1110", "CS 2110"}, capped)

	require.Empty(t, ExtractMentions("no courses here", 5))
}

func TestSortCodesCopies(t *testing.T) {
	in := []Code{"MATH 1920", "CS 1110"}
	out := SortCodes(in)
	require.Equal(t, []Code{"CS 1110", "MATH 1920"}, out)
	require.Equal(t, []Code{"MATH 1920", "CS 1110"}, in, "input must not be mutated")
}
