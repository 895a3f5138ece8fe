package report

import (
	"path/filepath"

	"github.com/secfix-research/maintscan/dataset"
	"github.com/secfix-research/maintscan/stats"
	"github.com/sirupsen/logrus"
)

// Kind names one grouped report.
type Kind string

const (
	KindComparison Kind = "comparison"
	KindGuideline  Kind = "guideline"
	KindLanguage   Kind = "language"
	KindSeverity   Kind = "severity"
	KindCWE        Kind = "cwe"
	KindCWESpec    Kind = "cwe-spec"
)

type output struct {
	csv   string
	chart string
	size  ChartSize
}

var outputs = map[Kind]output{
	KindComparison: {"comparison_stats_report.csv", "main_comparison.pdf", ChartSize{7, 6}},
	KindGuideline:  {"guidelines_test_report.csv", "main_per_guideline.pdf", ChartSize{5, 7}},
	KindLanguage:   {"language_test_report.csv", "main_per_language.pdf", ChartSize{6, 8}},
	KindSeverity:   {"severity_test_report.csv", "main_per_severity.pdf", ChartSize{6, 6}},
	KindCWE:        {"cwe_test_report.csv", "main_per_cwe.pdf", ChartSize{5, 8}},
	KindCWESpec:    {"cwe_spec_test_report.csv", "main_per_cwe_spec.pdf", ChartSize{5, 8}},
}

// Write saves the CSV and the chart of a grouped report under dir.
func Write(dir string, kind Kind, results []GroupResult, log logrus.FieldLogger) error {
	out := outputs[kind]
	csvPath := filepath.Join(dir, out.csv)
	if err := Table(results).WriteCSV(csvPath); err != nil {
		return err
	}
	chartPath := filepath.Join(dir, out.chart)
	if err := BarChart(chartPath, results, out.size); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"report": string(kind), "csv": csvPath, "chart": chartPath}).Info("report written")
	return nil
}

// DescribeColumns summarizes numeric columns like a describe() table: one
// row per statistic, one column per input column.
func DescribeColumns(t *dataset.Table, cols []string) *dataset.Table {
	out := dataset.NewTable(append([]string{"stat"}, cols...)...)
	names := []string{"count", "mean", "std", "min", "25%", "50%", "75%", "max"}
	for _, n := range names {
		out.AddRow(map[string]string{"stat": n})
	}
	for _, c := range cols {
		s := stats.Describe(t.Floats(c))
		for i, v := range []float64{float64(s.Count), s.Mean, s.Std, s.Min, s.Q1, s.Q2, s.Q3, s.Max} {
			out.SetFloat(i, c, v)
		}
	}
	return out
}

// ProjectColumns are the project statistics summarized by default.
var ProjectColumns = []string{
	"forks", "stars", "watchers", "contributors", "commits",
	"branches", "releases", "size", "t_issues", "t_prs",
}
