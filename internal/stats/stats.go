// Package stats implements the two one-sided significance tests used to
// compare Prototype and Baseline samples: Welch's unequal-variance t-test
// for total times and the Mann-Whitney U rank test for grades.
//
// P-values match the conventions of common statistical packages: the t
// distribution with Welch-Satterthwaite degrees of freedom, and for U the
// exact null distribution on small untied samples, otherwise a normal
// approximation with tie and continuity corrections.
package stats

import "fmt"

// Alternative selects the alternative hypothesis for the first sample
// relative to the second.
type Alternative int

const (
	TwoSided Alternative = iota
	Less
	Greater
)

// String returns the conventional name of the alternative.
func (a Alternative) String() string {
	switch a {
	case Less:
		return "less"
	case Greater:
		return "greater"
	case TwoSided:
		return "two-sided"
	default:
		return fmt.Sprintf("Alternative(%d)", int(a))
	}
}

// Test names used in error reports.
const (
	NameWelch        = "welch_t_test"
	NameMannWhitneyU = "mann_whitney_u"
)

// DefaultSignificanceLevel is the alpha used when none is configured.
const DefaultSignificanceLevel = 0.05

// TestResult is the outcome of one significance test.
type TestResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`

	// DF is the degrees of freedom for the t-test; zero for U.
	DF float64 `json:"df,omitempty"`

	// Exact is true when the U p-value came from the exact distribution.
	Exact bool `json:"exact,omitempty"`

	Significant bool `json:"significant"`
}

// Judge sets Significant for the given alpha and returns the result.
func (r TestResult) Judge(alpha float64) TestResult {
	r.Significant = r.PValue <= alpha
	return r
}
