package dataset

import (
	"context"
	"io"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/secfix-research/maintscan/github"
	"github.com/secfix-research/maintscan/gitutil"
	"github.com/sirupsen/logrus"
)

// Cloner keeps local clones of projects.
type Cloner interface {
	PersistentClone(ctx context.Context, url, root, owner, project string) (string, error)
}

// RegularSampler adds a random regular commit, its first parent and its
// message to every row that has none yet. When the fix of the row is in the
// clone too, the time from the regular commit to the fix is recorded.
type RegularSampler struct {
	Git      Cloner
	CloneDir string
	Rand     *rand.Rand
	Log      logrus.FieldLogger
	Progress io.Writer
}

// AddRandomRegularCommits fills the sha-reg, sha-reg-p, Message-reg and
// sha-reg-age columns. Rows that cannot be sampled are marked with
// ErrorValue and the run goes on.
func (s *RegularSampler) AddRandomRegularCommits(ctx context.Context, t *Table) error {
	for _, c := range []string{ColRegular, ColRegParent, ColRegMessage, ColRegAge} {
		t.AddColumn(c)
	}
	s.Log.WithField("rows", t.Len()).Info("sampling regular commits")

	b := newBar(t.Len(), s.Progress)
	defer b.Finish()
	for i := 0; i < t.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		owner, project := t.Get(i, ColOwner), t.Get(i, ColProject)
		b.Increment(owner + "/" + project)
		if t.Get(i, ColRegular) != "" {
			continue
		}
		reg, err := s.sample(ctx, owner, project, t.Get(i, ColSHA))
		if err != nil {
			s.Log.WithFields(logrus.Fields{"repo": owner + "/" + project}).WithError(err).Error("could not sample a regular commit")
			reg = regularCommit{sha: ErrorValue, parent: ErrorValue}
		}
		t.Set(i, ColRegular, reg.sha)
		t.Set(i, ColRegParent, reg.parent)
		t.Set(i, ColRegMessage, reg.message)
		if reg.hasAge {
			t.SetFloat(i, ColRegAge, reg.age.Seconds())
		}
	}
	return nil
}

type regularCommit struct {
	sha, parent, message string
	age                  time.Duration
	hasAge               bool
}

func (s *RegularSampler) sample(ctx context.Context, owner, project, fix string) (regularCommit, error) {
	var reg regularCommit
	dir, err := s.Git.PersistentClone(ctx, github.RepoURL(owner, project), s.CloneDir, owner, project)
	if err != nil {
		return reg, err
	}
	commits, err := gitutil.Commits(dir)
	if err != nil {
		return reg, err
	}
	if len(commits) == 0 {
		return reg, gitutil.ErrCommitNotFound
	}
	reg.sha = commits[s.Rand.IntN(len(commits))]
	if reg.parent, err = gitutil.ResolveRevision(dir, reg.sha+"^1"); err != nil {
		return reg, err
	}
	if reg.message, err = gitutil.CommitMessage(dir, reg.sha); err != nil {
		return reg, err
	}
	reg.message = strings.TrimSpace(reg.message)
	if usableSHA(fix) {
		age, err := gitutil.TimeBetween(dir, reg.sha, fix)
		if err == nil {
			reg.age, reg.hasAge = age, true
		} else {
			s.Log.WithFields(logrus.Fields{"repo": owner + "/" + project, "sha": fix}).WithError(err).Debug("fix is not in the clone")
		}
	}
	return reg, nil
}
