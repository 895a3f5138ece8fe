package report

import (
	"errors"
	"math"

	"github.com/secfix-research/maintscan/dataset"
	"github.com/secfix-research/maintscan/stats"
)

// GroupResult compares one group of changes: how many lowered, raised or
// kept maintainability, and whether the differences are centered on zero.
type GroupResult struct {
	Type string
	stats.Outcome
	Mean   float64
	Median float64
	Test   stats.WilcoxonResult
}

// Compare summarizes the differences of one group. Missing differences
// are NaN and are ignored.
func Compare(name string, diffs []float64) GroupResult {
	r := GroupResult{
		Type:    name,
		Outcome: stats.Outcomes(diffs),
		Mean:    stats.Mean(diffs),
		Median:  stats.Median(diffs),
	}
	test, err := stats.Wilcoxon(diffs)
	if errors.Is(err, stats.ErrNoData) {
		nan := math.NaN()
		test = stats.WilcoxonResult{Statistic: nan, Z: nan, PValue: nan, EffectSize: nan}
	}
	r.Test = test
	return r
}

// diffs returns col for every row, NaN where the cell is unavailable.
func diffs(t *dataset.Table, col string, keep func(i int) bool) []float64 {
	var out []float64
	for i := 0; i < t.Len(); i++ {
		if keep != nil && !keep(i) {
			continue
		}
		v, ok := t.Float(i, col)
		if !ok {
			v = math.NaN()
		}
		out = append(out, v)
	}
	return out
}

// CompareChanges compares regular changes with security changes.
func CompareChanges(security, regular *dataset.Table) []GroupResult {
	return []GroupResult{
		Compare("Regular Change", diffs(regular, dataset.ColDiff, nil)),
		Compare("Security Change", diffs(security, dataset.ColDiff, nil)),
	}
}

// ByGuideline compares each guideline's differences, labeled with the
// guideline's short name.
func ByGuideline(t *dataset.Table) []GroupResult {
	var out []GroupResult
	for _, g := range Guidelines {
		col := g.Name + "-diff"
		if !t.HasColumn(col) {
			continue
		}
		out = append(out, Compare(g.Short, diffs(t, col, nil)))
	}
	return out
}

// ByField compares the rows of each group in col.
func ByField(t *dataset.Table, col string, groups []string) []GroupResult {
	out := make([]GroupResult, 0, len(groups))
	for _, g := range groups {
		out = append(out, Compare(g, diffs(t, dataset.ColDiff, func(i int) bool {
			return t.Get(i, col) == g
		})))
	}
	return out
}

// ByLanguage maps the Language column to language groups and compares the
// groups large enough to be reported. The table is modified.
func ByLanguage(t *dataset.Table) []GroupResult {
	for i := 0; i < t.Len(); i++ {
		t.Set(i, dataset.ColLanguage, LanguageGroup(t.Get(i, dataset.ColLanguage)))
	}
	groups := foldSmallGroups(t, dataset.ColLanguage, OtherGroup)
	return ByField(t, dataset.ColLanguage, groups)
}

// BySeverity compares LOW, MEDIUM and HIGH fixes; anything else is
// UNKNOWN. The table is modified.
func BySeverity(t *dataset.Table) []GroupResult {
	keep := map[string]bool{}
	for _, s := range Severities {
		keep[s] = true
	}
	foldInto(t, dataset.ColSeverity, keep, UnknownGroup)
	return ByField(t, dataset.ColSeverity, append([]string{UnknownGroup}, Severities...))
}

// ByCWE maps the CWE column to its composite and compares the groups large
// enough to be reported; the rest, and rows without a CWE, are MISC. With
// onlyListed, rows outside the composites are dropped first. The table is
// modified.
func ByCWE(t *dataset.Table, c *Composites, onlyListed bool) []GroupResult {
	if onlyListed {
		t.Keep(func(i int) bool {
			_, ok := c.Group(t.Get(i, dataset.ColCWE))
			return ok
		})
	}
	for i := 0; i < t.Len(); i++ {
		cwe := t.Get(i, dataset.ColCWE)
		if cwe == "" {
			t.Set(i, dataset.ColCWE, MiscGroup)
			continue
		}
		if g, ok := c.Group(cwe); ok {
			t.Set(i, dataset.ColCWE, g)
		}
	}
	groups := foldSmallGroups(t, dataset.ColCWE, MiscGroup)
	return ByField(t, dataset.ColCWE, groups)
}

// Table renders results the way the report CSV files lay them out.
func Table(results []GroupResult) *dataset.Table {
	t := dataset.NewTable("type", "N", "neg", "neg_abs", "pos", "pos_abs", "nul", "nul_abs",
		"mean", "med", "test", "z", "pvalue", "effect_size")
	for i, r := range results {
		neg, pos, nul := r.Proportions()
		t.AddRow(map[string]string{"type": r.Type})
		t.SetFloat(i, "N", float64(r.N()))
		t.SetFloat(i, "neg", neg)
		t.SetFloat(i, "neg_abs", float64(r.Negative))
		t.SetFloat(i, "pos", pos)
		t.SetFloat(i, "pos_abs", float64(r.Positive))
		t.SetFloat(i, "nul", nul)
		t.SetFloat(i, "nul_abs", float64(r.Null))
		t.SetFloat(i, "mean", r.Mean)
		t.SetFloat(i, "med", r.Median)
		t.SetFloat(i, "test", r.Test.Statistic)
		t.SetFloat(i, "z", r.Test.Z)
		t.SetFloat(i, "pvalue", r.Test.PValue)
		t.SetFloat(i, "effect_size", r.Test.EffectSize)
	}
	return t
}
