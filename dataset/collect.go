package dataset

import (
	"context"
	"io"

	"github.com/secfix-research/maintscan/redis"
	"github.com/sirupsen/logrus"
)

// CommitAnalyzer analyzes one commit and caches the outcome.
type CommitAnalyzer interface {
	RobustAnalyzeCommit(ctx context.Context, user, project, sha string) error
}

// CollectStats summarizes a CollectMaintainability run.
type CollectStats struct {
	Rows    int
	Skipped int
	Failed  int
}

// CollectMaintainability analyzes both commits of every row, the change in
// shaCol and its parent in parentCol. A failing row is logged and skipped.
func CollectMaintainability(ctx context.Context, t *Table, a CommitAnalyzer, shaCol, parentCol string, log logrus.FieldLogger, progress io.Writer) (CollectStats, error) {
	st := CollectStats{Rows: t.Len()}
	log.WithField("rows", t.Len()).Info("starting dataset analysis")

	b := newBar(t.Len(), progress)
	defer b.Finish()
	for i := 0; i < t.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		owner, project := t.Get(i, ColOwner), t.Get(i, ColProject)
		sha, parent := t.Get(i, shaCol), t.Get(i, parentCol)
		b.Increment(owner + "/" + project)
		if !usableSHA(sha) || !usableSHA(parent) {
			st.Skipped++
			continue
		}
		for _, c := range []string{sha, parent} {
			if err := a.RobustAnalyzeCommit(ctx, owner, project, c); err != nil {
				if ctx.Err() != nil {
					return st, ctx.Err()
				}
				log.WithFields(logrus.Fields{"repo": owner + "/" + project, "sha": c}).WithError(err).Error("skipping project")
				st.Failed++
				break
			}
		}
	}
	return st, nil
}

func usableSHA(s string) bool {
	return s != "" && s != ErrorValue
}

// JobsFromTable turns the rows into analysis jobs, change first then
// parent.
func JobsFromTable(t *Table, shaCol, parentCol string) []redis.Job {
	var jobs []redis.Job
	for i := 0; i < t.Len(); i++ {
		owner, project := t.Get(i, ColOwner), t.Get(i, ColProject)
		for _, c := range []string{t.Get(i, shaCol), t.Get(i, parentCol)} {
			if usableSHA(c) {
				jobs = append(jobs, redis.Job{Owner: owner, Project: project, SHA: c})
			}
		}
	}
	return jobs
}
