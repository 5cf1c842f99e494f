package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/roach88/kmeval/internal/ir"
)

// exactLimit is the largest smaller-sample size for which the exact null
// distribution of U is used.
const exactLimit = 8

// MannWhitneyU tests whether x tends to be larger or smaller than y.
// With alt == Greater the alternative is that x is stochastically greater.
// The reported statistic is U for x.
func MannWhitneyU(x, y []float64, alt Alternative) (TestResult, error) {
	if err := requireObservations(NameMannWhitneyU, x, y); err != nil {
		return TestResult{}, err
	}

	n1, n2 := len(x), len(y)
	ranks, tieSum := rank(append(append([]float64{}, x...), y...))

	var r1 float64
	for _, r := range ranks[:n1] {
		r1 += r
	}
	u1 := r1 - float64(n1*(n1+1))/2

	if min(n1, n2) <= exactLimit && tieSum == 0 {
		return TestResult{Statistic: u1, PValue: exactP(u1, n1, n2, alt), Exact: true}, nil
	}

	n := float64(n1 + n2)
	mu := float64(n1*n2) / 2
	sigma := math.Sqrt(float64(n1*n2) / 12 * ((n + 1) - tieSum/(n*(n-1))))
	if sigma == 0 {
		return TestResult{}, &ir.UndefinedMetricError{
			Metric: NameMannWhitneyU,
			Reason: "all observations are tied",
		}
	}

	var p float64
	switch alt {
	case Greater:
		p = distuv.UnitNormal.Survival((u1 - mu - 0.5) / sigma)
	case Less:
		p = distuv.UnitNormal.CDF((u1 - mu + 0.5) / sigma)
	default:
		u := math.Max(u1, float64(n1*n2)-u1)
		p = math.Min(1, 2*distuv.UnitNormal.Survival((u-mu-0.5)/sigma))
	}
	return TestResult{Statistic: u1, PValue: p}, nil
}

// rank assigns 1-based ranks, averaging ties, and returns the tie
// correction term sum(t^3 - t) over tie groups.
func rank(v []float64) ([]float64, float64) {
	idx := make([]int, len(v))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return v[idx[a]] < v[idx[b]] })

	ranks := make([]float64, len(v))
	var tieSum float64
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && v[idx[j]] == v[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		if t := float64(j - i); t > 1 {
			tieSum += t*t*t - t
		}
		i = j
	}
	return ranks, tieSum
}

// exactP computes the p-value of u from the exact null distribution of U
// for sample sizes n1 and n2.
func exactP(u float64, n1, n2 int, alt Alternative) float64 {
	counts := uCounts(n1, n2)

	var total, le, ge float64
	for k, c := range counts {
		total += c
		if float64(k) <= u {
			le += c
		}
		if float64(k) >= u {
			ge += c
		}
	}

	switch alt {
	case Greater:
		return ge / total
	case Less:
		return le / total
	default:
		return math.Min(1, 2*math.Min(le, ge)/total)
	}
}

// uCounts returns, for each u in [0, n1*n2], the number of orderings of
// n1 + n2 distinct values whose U statistic equals u. The distribution is
// the same for (n1, n2) and (n2, n1), so the smaller size drives the table.
//
// Uses f(u; i, j) = f(u-j; i-1, j) + f(u; i, j-1).
func uCounts(n1, n2 int) []float64 {
	m, n := min(n1, n2), max(n1, n2)

	// prev[i] holds f(.; i, j-1); cur[i] holds f(.; i, j).
	prev := make([][]float64, m+1)
	for i := range prev {
		prev[i] = make([]float64, m*n+1)
	}
	for i := range prev {
		prev[i][0] = 1
	}

	for j := 1; j <= n; j++ {
		cur := make([][]float64, m+1)
		for i := 0; i <= m; i++ {
			cur[i] = make([]float64, m*n+1)
			if i == 0 {
				cur[0][0] = 1
				continue
			}
			for u := 0; u <= i*j; u++ {
				c := prev[i][u]
				if u >= j {
					c += cur[i-1][u-j]
				}
				cur[i][u] = c
			}
		}
		prev = cur
	}
	return prev[m]
}
