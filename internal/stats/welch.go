package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roach88/kmeval/internal/ir"
)

// WelchTTest compares the means of x and y without assuming equal
// variances. With alt == Less the alternative is mean(x) < mean(y).
func WelchTTest(x, y []float64, alt Alternative) (TestResult, error) {
	if err := requireObservations(NameWelch, x, y); err != nil {
		return TestResult{}, err
	}

	n1, n2 := float64(len(x)), float64(len(y))
	m1, v1 := stat.MeanVariance(x, nil)
	m2, v2 := stat.MeanVariance(y, nil)

	se1, se2 := v1/n1, v2/n2
	se := se1 + se2
	if se == 0 {
		return TestResult{}, &ir.UndefinedMetricError{
			Metric: NameWelch,
			Reason: "both samples have zero variance",
		}
	}

	t := (m1 - m2) / math.Sqrt(se)
	df := se * se / (se1*se1/(n1-1) + se2*se2/(n2-1))

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	var p float64
	switch alt {
	case Less:
		p = dist.CDF(t)
	case Greater:
		p = dist.Survival(t)
	default:
		p = math.Min(1, 2*dist.Survival(math.Abs(t)))
	}

	return TestResult{Statistic: t, PValue: p, DF: df}, nil
}

func requireObservations(test string, x, y []float64) error {
	for _, s := range []struct {
		name string
		v    []float64
	}{{"first", x}, {"second", y}} {
		if len(s.v) < 2 {
			return &ir.InsufficientDataError{
				Metric: test,
				Reason: fmt.Sprintf("%s sample has %d observation(s), need at least 2", s.name, len(s.v)),
			}
		}
	}
	return nil
}
