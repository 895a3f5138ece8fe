// Package report turns cached BetterCodeHub analyses into the study's
// result tables, statistical comparisons and charts.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/secfix-research/maintscan/dataset"
	"github.com/secfix-research/maintscan/maintainability"
	"github.com/sirupsen/logrus"
)

// Result columns written by Export.
const (
	ColFix  = "main_fix"
	ColPrev = "main_prev"
)

// ReportSource returns the stored analysis of a commit.
type ReportSource interface {
	Get(ctx context.Context, user, project, sha string) (json.RawMessage, bool, error)
}

// ExportStats counts how the rows of an export ended up.
type ExportStats struct {
	Rows int
	// Missing rows have at least one commit that was never analyzed.
	Missing int
	// Errors are rows with an error report or an unscorable report.
	Errors int
	Scored int
}

// Export scores both commits of every row and writes main_fix, main_prev
// and diff, plus "<guideline>-fix", "-prev" and "-diff" per guideline.
// Rows whose score is unavailable keep an empty diff.
func Export(ctx context.Context, t *dataset.Table, reports ReportSource, shaCol, parentCol string, log logrus.FieldLogger) (ExportStats, error) {
	st := ExportStats{Rows: t.Len()}
	t.AddColumn(ColFix)
	t.AddColumn(ColPrev)
	t.AddColumn(dataset.ColDiff)

	for i := 0; i < t.Len(); i++ {
		owner, project := t.Get(i, dataset.ColOwner), t.Get(i, dataset.ColProject)
		sha, parent := t.Get(i, shaCol), t.Get(i, parentCol)
		t.Set(i, dataset.ColDiff, "")
		if sha == "" || parent == "" {
			continue
		}

		rawFix, okFix, err := reports.Get(ctx, owner, project, sha)
		if err != nil {
			return st, err
		}
		rawPrev, okPrev, err := reports.Get(ctx, owner, project, parent)
		if err != nil {
			return st, err
		}
		if !okFix || !okPrev {
			st.Missing++
			continue
		}
		if maintainability.IsErrorReport(rawFix) || maintainability.IsErrorReport(rawPrev) {
			st.Errors++
			continue
		}

		if err := exportRow(t, i, rawFix, rawPrev); err != nil {
			log.WithFields(logrus.Fields{"repo": owner + "/" + project, "sha": sha}).WithError(err).Warn("score unavailable")
			st.Errors++
			continue
		}
		st.Scored++
	}
	log.WithFields(logrus.Fields{
		"rows":    st.Rows,
		"scored":  st.Scored,
		"missing": st.Missing,
		"errors":  st.Errors,
	}).Info("export finished")
	return st, nil
}

func exportRow(t *dataset.Table, i int, rawFix, rawPrev json.RawMessage) error {
	fix, err := maintainability.ParseReport(rawFix)
	if err != nil {
		return err
	}
	prev, err := maintainability.ParseReport(rawPrev)
	if err != nil {
		return err
	}
	scoreFix, err := maintainability.Score(fix)
	if err != nil {
		return err
	}
	scorePrev, err := maintainability.Score(prev)
	if err != nil {
		return err
	}
	perFix, err := maintainability.ScorePerGuideline(fix)
	if err != nil {
		return err
	}
	perPrev, err := maintainability.ScorePerGuideline(prev)
	if err != nil {
		return err
	}

	t.SetFloat(i, ColFix, scoreFix)
	t.SetFloat(i, ColPrev, scorePrev)
	t.SetFloat(i, dataset.ColDiff, scoreFix-scorePrev)
	for _, g := range fix.AnalysisResults {
		p, ok := perPrev[g.Guideline]
		if !ok {
			continue
		}
		f := perFix[g.Guideline]
		t.SetFloat(i, g.Guideline+"-fix", f)
		t.SetFloat(i, g.Guideline+"-prev", p)
		t.SetFloat(i, g.Guideline+"-diff", f-p)
	}
	return nil
}

// ResultPath names the export of a dataset inside the results directory.
// The regular dataset is named after its baseline.
func ResultPath(results string, regular bool, baseline string) string {
	if regular {
		return filepath.Join(results, fmt.Sprintf("maintainability_release_%s_regular_changes.csv", baseline))
	}
	return filepath.Join(results, "maintainability_release_security_changes.csv")
}

// ExportFile reads a dataset, exports it and writes the result to out.
func ExportFile(ctx context.Context, in, out string, reports ReportSource, regular bool, log logrus.FieldLogger) (ExportStats, error) {
	t, err := dataset.ReadCSV(in)
	if err != nil {
		return ExportStats{}, err
	}
	shaCol, parentCol := dataset.ColSHA, dataset.ColParent
	if regular {
		shaCol, parentCol = dataset.ColRegular, dataset.ColRegParent
	}
	st, err := Export(ctx, t, reports, shaCol, parentCol, log.WithField("dataset", filepath.Base(in)))
	if err != nil {
		return st, err
	}
	return st, t.WriteCSV(out)
}
