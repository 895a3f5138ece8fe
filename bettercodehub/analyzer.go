package bettercodehub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/github"
	"github.com/secfix-research/maintscan/gitutil"
	"github.com/secfix-research/maintscan/logging"
	"github.com/secfix-research/maintscan/maintainability"
	"github.com/secfix-research/maintscan/retry"
	"github.com/sirupsen/logrus"
)

// Scanner is the BetterCodeHub side of an analysis.
type Scanner interface {
	Scan(ctx context.Context, user, project string) error
	CollectReport(ctx context.Context, user, project string) (json.RawMessage, error)
}

// Repositories is the GitHub side of an analysis.
type Repositories interface {
	Repository(ctx context.Context, owner, name string) (github.Repository, error)
	Fork(ctx context.Context, owner, project string) (github.Repository, error)
	DefaultBranch(ctx context.Context, owner, name string) (string, error)
	SetDefaultBranch(ctx context.Context, owner, name, branch string) error
	BranchExists(ctx context.Context, owner, name, branch string) (bool, error)
}

// Brancher pushes a branch pointing at a commit.
type Brancher interface {
	CreateBranchFromCommit(ctx context.Context, url, branch, sha string) error
}

// Operator is asked to fix things a program cannot, such as an expired
// session. Pause returns once the operator is done.
type Operator interface {
	Pause(ctx context.Context, msg string) error
}

// Analyzer runs BetterCodeHub on single commits of GitHub projects. It
// works on a fork and is not safe for concurrent use: BetterCodeHub scans
// one project per account at a time.
type Analyzer struct {
	Reports  *cache.Reports
	BCH      Scanner
	GitHub   Repositories
	Git      Brancher
	Operator Operator
	Log      logrus.FieldLogger

	RobustPolicy  retry.Policy
	CollectPolicy retry.Policy

	// PropagationDelay lets a default branch change reach BetterCodeHub.
	PropagationDelay time.Duration
	// ScanStartDelay gives BetterCodeHub time to start a scheduled scan.
	ScanStartDelay time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
}

func NewAnalyzer(reports *cache.Reports, bch Scanner, gh Repositories, git Brancher, op Operator, log logrus.FieldLogger) *Analyzer {
	if log == nil {
		log = logging.Discard()
	}
	return &Analyzer{
		Reports:          reports,
		BCH:              bch,
		GitHub:           gh,
		Git:              git,
		Operator:         op,
		Log:              log,
		RobustPolicy:     retry.Policy{Attempts: 10, Delay: 5 * time.Second, Backoff: 10, MaxDelay: 500 * time.Second},
		CollectPolicy:    retry.Policy{Attempts: 5, Delay: 30 * time.Second, Backoff: 5, MaxDelay: 300 * time.Second},
		PropagationDelay: 5 * time.Second,
		ScanStartDelay:   20 * time.Second,
		Sleep:            retry.Sleep,
	}
}

// TemporaryBranchName is the branch that pins sha for a scan.
func TemporaryBranchName(sha string) string {
	if len(sha) > 7 {
		sha = sha[:7]
	}
	return "energy_test_" + sha
}

// RobustAnalyzeCommit analyzes a commit and caches the outcome, retrying
// the failures that tend to go away. Reports that stay wrong or incomplete
// are cached as error reports so the commit is not tried again.
func (a *Analyzer) RobustAnalyzeCommit(ctx context.Context, user, project, sha string) error {
	log := a.Log.WithFields(logrus.Fields{"repo": user + "/" + project, "sha": sha})
	log.Info("analyzing")

	policy := a.RobustPolicy
	policy.RetryIf = retryable
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay}).WithError(err).Warn("retrying")
	}
	if policy.Sleep == nil {
		policy.Sleep = a.Sleep
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		raw, err := a.AnalyzeCommitCached(ctx, user, project, sha)
		switch {
		case err == nil:
			a.logOutcome(log, raw)
			return nil
		case errors.Is(err, ErrWrongSessionDetails):
			log.Error("BetterCodeHub credentials are outdated")
			if perr := a.Operator.Pause(ctx, "Update the BetterCodeHub session in the config file."); perr != nil {
				return fmt.Errorf("waiting for new credentials: %w", perr)
			}
		case errors.Is(err, ErrStillProcessing):
			log.Warn("BetterCodeHub is still processing our projects")
		}
		return err
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		log.WithError(err).Warn("interrupted, nothing cached")
		return err
	case errors.Is(err, ErrWrongCommitReports) || errors.Is(err, ErrIncompleteCommitReports):
		log.WithError(err).Error("skipping, reports are unusable")
		return a.Reports.Put(ctx, user, project, sha, maintainability.ErrorReport)
	default:
		log.WithError(err).Error("skipping")
		return err
	}
}

func (a *Analyzer) logOutcome(log logrus.FieldLogger, raw json.RawMessage) {
	if maintainability.IsErrorReport(raw) {
		log.Warn("commit is left out")
		return
	}
	report, err := maintainability.ParseReport(raw)
	if err == nil {
		var score float64
		if score, err = maintainability.Score(report); err == nil {
			log.WithField("score", score).Info("maintainability")
			return
		}
	}
	log.WithError(err).Warn("maintainability is unavailable")
}

// AnalyzeCommitCached returns the cached analysis of a commit, running and
// caching it when it is missing. Nothing is cached on failure.
func (a *Analyzer) AnalyzeCommitCached(ctx context.Context, user, project, sha string) (json.RawMessage, error) {
	raw, ok, err := a.Reports.Get(ctx, user, project, sha)
	if err != nil {
		return nil, err
	}
	if ok {
		return raw, nil
	}
	raw, err = a.ExternalAnalyzeCommit(ctx, user, project, sha)
	if err != nil {
		return nil, err
	}
	if err := a.Reports.Put(ctx, user, project, sha, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// ExternalAnalyzeCommit analyzes a commit of a project we cannot write to by
// going through our fork. Unsupported projects yield the error report.
func (a *Analyzer) ExternalAnalyzeCommit(ctx context.Context, user, project, sha string) (json.RawMessage, error) {
	fork, err := a.GitHub.Fork(ctx, user, project)
	if err != nil {
		return nil, err
	}
	raw, err := a.AnalyzeCommit(ctx, fork.Owner, project, sha)
	if errors.Is(err, ErrProjectNotSupported) {
		a.Log.WithField("repo", user+"/"+project).WithError(err).Error("project is not supported, skipping")
		return maintainability.ErrorReport, nil
	}
	return raw, err
}

// AnalyzeCommit scans sha of user/project, which we must be able to push to.
func (a *Analyzer) AnalyzeCommit(ctx context.Context, user, project, sha string) (json.RawMessage, error) {
	repo, err := a.GitHub.Repository(ctx, user, project)
	if err != nil {
		return nil, err
	}
	branch, err := a.createBranchForCommit(ctx, repo, sha)
	if err != nil {
		return nil, err
	}
	raw, err := a.analyzeProjectInBranch(ctx, repo, branch)
	if err != nil {
		return nil, err
	}
	report, err := maintainability.ParseReport(raw)
	if err != nil {
		return nil, err
	}
	if report.SHA != sha {
		a.Log.WithFields(logrus.Fields{"want": sha, "got": report.SHA}).Error("report is for a different commit")
		return nil, fmt.Errorf("%s/%s@%s: %w", user, project, sha, ErrWrongCommitReports)
	}
	return raw, nil
}

func (a *Analyzer) createBranchForCommit(ctx context.Context, repo github.Repository, sha string) (string, error) {
	branch := TemporaryBranchName(sha)
	log := a.Log.WithFields(logrus.Fields{"repo": repo.CloneURL, "branch": branch})

	exists, err := a.GitHub.BranchExists(ctx, repo.Owner, repo.Name, branch)
	if err != nil {
		return "", err
	}
	if exists {
		log.Warn("using existing branch")
		return branch, nil
	}
	err = a.Git.CreateBranchFromCommit(ctx, repo.CloneURL, branch, sha)
	switch {
	case err == nil:
		return branch, nil
	case errors.Is(err, gitutil.ErrBranchAlreadyExists):
		log.Error("branch already exists, using it anyway")
		return branch, nil
	case errors.Is(err, gitutil.ErrCommitNotFound):
		log.Error("commit cannot be reached, leaving it out of the study")
		return "", err
	default:
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}
}

// analyzeProjectInBranch makes branch the default branch for the duration
// of a scan. The original default branch is restored even when the scan
// fails.
func (a *Analyzer) analyzeProjectInBranch(ctx context.Context, repo github.Repository, branch string) (json.RawMessage, error) {
	original, err := a.GitHub.DefaultBranch(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}
	if err := a.GitHub.SetDefaultBranch(ctx, repo.Owner, repo.Name, branch); err != nil {
		return nil, err
	}
	defer func() {
		if err := a.GitHub.SetDefaultBranch(context.WithoutCancel(ctx), repo.Owner, repo.Name, original); err != nil {
			a.Log.WithFields(logrus.Fields{"repo": repo.Owner + "/" + repo.Name, "branch": original}).
				WithError(err).Error("could not restore default branch")
		}
	}()

	if err := a.sleep(ctx, a.PropagationDelay); err != nil {
		return nil, err
	}
	return a.analyzeProject(ctx, repo.Owner, repo.Name)
}

func (a *Analyzer) analyzeProject(ctx context.Context, user, project string) (json.RawMessage, error) {
	log := a.Log.WithField("repo", user+"/"+project)
	log.Info("adding project to BetterCodeHub")
	if err := a.BCH.Scan(ctx, user, project); err != nil {
		return nil, err
	}
	log.Info("scan scheduled")
	if err := a.sleep(ctx, a.ScanStartDelay); err != nil {
		return nil, err
	}

	policy := a.CollectPolicy
	if policy.Sleep == nil {
		policy.Sleep = a.Sleep
	}
	var raw json.RawMessage
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		raw, err = a.BCH.CollectReport(ctx, user, project)
		return err
	})
	return raw, err
}

func (a *Analyzer) sleep(ctx context.Context, d time.Duration) error {
	if a.Sleep == nil {
		return retry.Sleep(ctx, d)
	}
	return a.Sleep(ctx, d)
}
