// Package stats holds the statistics used to compare maintainability before
// and after a change.
package stats

import (
	"errors"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrNoData = errors.New("stats: no data")

// WilcoxonResult is a two-sided Wilcoxon signed-rank test.
type WilcoxonResult struct {
	N         int
	Statistic float64
	Z         float64
	PValue    float64
	// EffectSize is |Z|/sqrt(N).
	EffectSize float64
}

// Wilcoxon tests whether the differences are centered on zero. Zero
// differences are ranked and then dropped (Pratt), ties get their average
// rank, and the p-value comes from the normal approximation with tie
// correction.
func Wilcoxon(diffs []float64) (WilcoxonResult, error) {
	d := clean(diffs)
	n := len(d)
	if n == 0 {
		return WilcoxonResult{}, ErrNoData
	}

	abs := make([]float64, n)
	for i, v := range d {
		abs[i] = math.Abs(v)
	}
	ranks, ties := rank(abs)

	var rPlus, rMinus float64
	zeros := 0
	for i, v := range d {
		switch {
		case v > 0:
			rPlus += ranks[i]
		case v < 0:
			rMinus += ranks[i]
		default:
			zeros++
		}
	}
	t := math.Min(rPlus, rMinus)

	nf, z0 := float64(n), float64(zeros)
	mn := nf*(nf+1)/4 - z0*(z0+1)/4
	se := nf*(nf+1)*(2*nf+1) - z0*(z0+1)*(2*z0+1)
	for _, c := range ties {
		tc := float64(c)
		se -= 0.5 * tc * (tc*tc - 1)
	}
	se = math.Sqrt(se / 24)

	res := WilcoxonResult{N: n, Statistic: t}
	if se == 0 {
		// Every difference is zero.
		res.PValue = math.NaN()
		res.Z = math.NaN()
		res.EffectSize = math.NaN()
		return res, nil
	}
	res.Z = (t - mn) / se
	res.PValue = 2 * distuv.UnitNormal.Survival(math.Abs(res.Z))
	res.EffectSize = math.Abs(res.Z) / math.Sqrt(nf)
	return res, nil
}

// rank assigns 1-based average ranks and returns the size of every group
// of tied values.
func rank(x []float64) ([]float64, []int) {
	idx := make([]int, len(x))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return x[idx[a]] < x[idx[b]] })

	ranks := make([]float64, len(x))
	var ties []int
	for i := 0; i < len(idx); {
		j := i + 1
		for j < len(idx) && x[idx[j]] == x[idx[i]] {
			j++
		}
		avg := float64(i+j+1) / 2
		for k := i; k < j; k++ {
			ranks[idx[k]] = avg
		}
		if j-i > 1 {
			ties = append(ties, j-i)
		}
		i = j
	}
	return ranks, ties
}

// clean drops NaNs, which mark unavailable measurements.
func clean(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func Mean(x []float64) float64 {
	x = clean(x)
	if len(x) == 0 {
		return math.NaN()
	}
	return stat.Mean(x, nil)
}

// Median interpolates between the two middle values of an even sample.
func Median(x []float64) float64 {
	return quantile(clean(x), 0.5)
}

// quantile uses linear interpolation between closest ranks.
func quantile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := slices.Clone(x)
	sort.Float64s(s)
	pos := p * float64(len(s)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	return s[lo] + (s[hi]-s[lo])*(pos-float64(lo))
}

// Summary mirrors the usual describe() table.
type Summary struct {
	Count int
	Mean  float64
	Std   float64
	Min   float64
	Q1    float64
	Q2    float64
	Q3    float64
	Max   float64
}

func Describe(x []float64) Summary {
	x = clean(x)
	s := Summary{Count: len(x)}
	if len(x) == 0 {
		nan := math.NaN()
		s.Mean, s.Std, s.Min, s.Q1, s.Q2, s.Q3, s.Max = nan, nan, nan, nan, nan, nan, nan
		return s
	}
	s.Mean = stat.Mean(x, nil)
	s.Std = math.NaN()
	if len(x) > 1 {
		s.Std = stat.StdDev(x, nil)
	}
	s.Min = slices.Min(x)
	s.Max = slices.Max(x)
	s.Q1 = quantile(x, 0.25)
	s.Q2 = quantile(x, 0.5)
	s.Q3 = quantile(x, 0.75)
	return s
}

// Outcome counts how often a change lowered, raised or kept a measurement.
type Outcome struct {
	Negative int
	Positive int
	Null     int
}

func (o Outcome) N() int { return o.Negative + o.Positive + o.Null }

// Proportions returns the shares of negative, positive and null outcomes.
func (o Outcome) Proportions() (neg, pos, null float64) {
	n := float64(o.N())
	if n == 0 {
		return 0, 0, 0
	}
	return float64(o.Negative) / n, float64(o.Positive) / n, float64(o.Null) / n
}

func Outcomes(diffs []float64) Outcome {
	var o Outcome
	for _, v := range diffs {
		switch {
		case math.IsNaN(v):
		case v < 0:
			o.Negative++
		case v > 0:
			o.Positive++
		default:
			o.Null++
		}
	}
	return o
}
