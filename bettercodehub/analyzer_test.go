package bettercodehub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/github"
	"github.com/secfix-research/maintscan/gitutil"
	"github.com/secfix-research/maintscan/maintainability"
	"github.com/secfix-research/maintscan/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sha = "abcdef1234567890abcdef1234567890abcdef12"

func reportFor(sha string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"sha":%q,"analysisResults":[{
		"guideline":"Write Short Units of Code",
		"qualityProfileVolume":[90,10],
		"qualityProfileComplianceThresholds":[1,0.49],
		"percentageOfNonCompliantCode":0.1}]}`, sha))
}

type fakeScanner struct {
	scanErrs    []error
	collectErrs []error
	report      json.RawMessage
	scans       int
	collects    int
}

func (f *fakeScanner) Scan(_ context.Context, _, _ string) error {
	f.scans++
	if len(f.scanErrs) > 0 {
		err := f.scanErrs[0]
		f.scanErrs = f.scanErrs[1:]
		return err
	}
	return nil
}

func (f *fakeScanner) CollectReport(_ context.Context, _, _ string) (json.RawMessage, error) {
	f.collects++
	if len(f.collectErrs) > 0 {
		err := f.collectErrs[0]
		f.collectErrs = f.collectErrs[1:]
		return nil, err
	}
	return f.report, nil
}

type fakeRepos struct {
	defaultBranch string
	branches      map[string]bool
	setCalls      []string
	forks         int
}

func (f *fakeRepos) Repository(_ context.Context, owner, name string) (github.Repository, error) {
	return github.Repository{Owner: owner, Name: name, CloneURL: "https://github.com/" + owner + "/" + name + ".git"}, nil
}

func (f *fakeRepos) Fork(_ context.Context, _, project string) (github.Repository, error) {
	f.forks++
	return github.Repository{Owner: "me", Name: project}, nil
}

func (f *fakeRepos) DefaultBranch(context.Context, string, string) (string, error) {
	return f.defaultBranch, nil
}

func (f *fakeRepos) SetDefaultBranch(_ context.Context, _, _, branch string) error {
	f.setCalls = append(f.setCalls, branch)
	f.defaultBranch = branch
	return nil
}

func (f *fakeRepos) BranchExists(_ context.Context, _, _, branch string) (bool, error) {
	return f.branches[branch], nil
}

type fakeBrancher struct {
	err     error
	created []string
}

func (f *fakeBrancher) CreateBranchFromCommit(_ context.Context, _, branch, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, branch)
	return nil
}

type fakeOperator struct {
	pauses int
	msgs   []string
}

func (f *fakeOperator) Pause(_ context.Context, msg string) error {
	f.pauses++
	f.msgs = append(f.msgs, msg)
	return nil
}

type fixture struct {
	a       *Analyzer
	bch     *fakeScanner
	repos   *fakeRepos
	git     *fakeBrancher
	op      *fakeOperator
	reports *cache.Reports
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		bch:     &fakeScanner{report: reportFor(sha)},
		repos:   &fakeRepos{defaultBranch: "main", branches: map[string]bool{}},
		git:     &fakeBrancher{},
		op:      &fakeOperator{},
		reports: cache.NewReports(cache.NewFileStore(filepath.Join(t.TempDir(), "bch_cache.zip"))),
	}
	f.a = NewAnalyzer(f.reports, f.bch, f.repos, f.git, f.op, nil)
	f.a.Sleep = retry.NoSleep
	return f
}

func (f *fixture) cached(t *testing.T) (json.RawMessage, bool) {
	raw, ok, err := f.reports.Get(context.Background(), "up", "proj", sha)
	require.NoError(t, err)
	return raw, ok
}

func TestAnalyzeCommitCached_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.a.AnalyzeCommitCached(ctx, "up", "proj", sha)
	require.NoError(t, err)
	second, err := f.a.AnalyzeCommitCached(ctx, "up", "proj", sha)
	require.NoError(t, err)

	assert.JSONEq(t, string(first), string(second))
	assert.Equal(t, 1, f.bch.scans)
	assert.Equal(t, 1, f.repos.forks)
	assert.Equal(t, []string{"energy_test_abcdef1"}, f.git.created)
	assert.Equal(t, []string{"energy_test_abcdef1", "main"}, f.repos.setCalls)

	raw, ok := f.cached(t)
	require.True(t, ok)
	assert.JSONEq(t, string(reportFor(sha)), string(raw))
}

func TestAnalyzeCommit_ReusesExistingBranch(t *testing.T) {
	f := newFixture(t)
	f.repos.branches["energy_test_abcdef1"] = true

	_, err := f.a.AnalyzeCommit(context.Background(), "me", "proj", sha)
	require.NoError(t, err)
	assert.Empty(t, f.git.created)
}

func TestAnalyzeCommit_BranchAlreadyExistsIsUsed(t *testing.T) {
	f := newFixture(t)
	f.git.err = gitutil.ErrBranchAlreadyExists

	_, err := f.a.AnalyzeCommit(context.Background(), "me", "proj", sha)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bch.scans)
}

func TestAnalyzeCommit_RestoresDefaultBranchOnFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.bch.scanErrs = []error{boom}

	_, err := f.a.AnalyzeCommit(context.Background(), "me", "proj", sha)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "main", f.repos.defaultBranch)
	assert.Equal(t, []string{"energy_test_abcdef1", "main"}, f.repos.setCalls)
}

func TestAnalyzeCommit_WrongCommit(t *testing.T) {
	f := newFixture(t)
	f.bch.report = reportFor("0000000")

	_, err := f.a.AnalyzeCommit(context.Background(), "me", "proj", sha)
	require.ErrorIs(t, err, ErrWrongCommitReports)
	assert.Equal(t, "main", f.repos.defaultBranch)
}

func TestAnalyzeCommit_CollectRetries(t *testing.T) {
	f := newFixture(t)
	f.bch.collectErrs = []error{ErrStillProcessing, ErrStillProcessing}

	_, err := f.a.AnalyzeCommit(context.Background(), "me", "proj", sha)
	require.NoError(t, err)
	assert.Equal(t, 3, f.bch.collects)
}

func TestRobustAnalyzeCommit_CommitNotFoundWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.git.err = fmt.Errorf("wrapped: %w", gitutil.ErrCommitNotFound)

	err := f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha)
	require.ErrorIs(t, err, gitutil.ErrCommitNotFound)
	assert.Zero(t, f.bch.scans)

	_, ok := f.cached(t)
	assert.False(t, ok)
}

func TestRobustAnalyzeCommit_NotSupportedStoresErrorReport(t *testing.T) {
	f := newFixture(t)
	f.bch.scanErrs = []error{fmt.Errorf("x: %w", ErrProjectExceedsLOCLimit)}

	require.NoError(t, f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha))
	raw, ok := f.cached(t)
	require.True(t, ok)
	assert.True(t, maintainability.IsErrorReport(raw))
}

func TestRobustAnalyzeCommit_SessionPausesAndRetries(t *testing.T) {
	f := newFixture(t)
	f.bch.scanErrs = []error{ErrWrongSessionDetails}

	require.NoError(t, f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha))
	assert.Equal(t, 1, f.op.pauses)
	require.Len(t, f.op.msgs, 1)
	assert.NotContains(t, strings.ToLower(f.op.msgs[0]), "press enter")
	assert.Equal(t, 2, f.bch.scans)
	_, ok := f.cached(t)
	assert.True(t, ok)
}

func TestRobustAnalyzeCommit_WrongReportsExhausted(t *testing.T) {
	f := newFixture(t)
	f.bch.report = reportFor("0000000")
	f.a.RobustPolicy.Attempts = 3

	require.NoError(t, f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha))
	assert.Equal(t, 3, f.bch.scans)
	raw, ok := f.cached(t)
	require.True(t, ok)
	assert.True(t, maintainability.IsErrorReport(raw))
}

func TestRobustAnalyzeCommit_InterruptedBackoffCachesNothing(t *testing.T) {
	f := newFixture(t)
	f.bch.report = reportFor("0000000")
	f.a.PropagationDelay, f.a.ScanStartDelay = 0, 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.a.Sleep = func(ctx context.Context, d time.Duration) error {
		if d == f.a.RobustPolicy.Delay {
			cancel()
		}
		return ctx.Err()
	}

	err := f.a.RobustAnalyzeCommit(ctx, "up", "proj", sha)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.bch.scans)
	_, ok := f.cached(t)
	assert.False(t, ok)
}

func TestRobustAnalyzeCommit_NetworkBlipIsRetried(t *testing.T) {
	f := newFixture(t)
	f.bch.scanErrs = []error{fmt.Errorf("POST /edge/schedule/scan: %w", &net.OpError{Op: "read", Err: syscall.ECONNRESET})}

	require.NoError(t, f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha))
	assert.Equal(t, 2, f.bch.scans)
	raw, ok := f.cached(t)
	require.True(t, ok)
	assert.False(t, maintainability.IsErrorReport(raw))
}

func TestRobustAnalyzeCommit_UnknownErrorIsTerminal(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("boom")
	f.bch.scanErrs = []error{boom}

	err := f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.bch.scans)
	_, ok := f.cached(t)
	assert.False(t, ok)
}

func TestRobustAnalyzeCommit_StillProcessingExhausted(t *testing.T) {
	f := newFixture(t)
	f.bch.scanErrs = []error{ErrStillProcessing, ErrStillProcessing}
	f.a.RobustPolicy.Attempts = 2

	err := f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha)
	require.ErrorIs(t, err, ErrStillProcessing)
	_, ok := f.cached(t)
	assert.False(t, ok)
}

func TestRobustAnalyzeCommit_CachedErrorReportIsNotRescanned(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reports.Put(context.Background(), "up", "proj", sha, maintainability.ErrorReport))

	require.NoError(t, f.a.RobustAnalyzeCommit(context.Background(), "up", "proj", sha))
	assert.Zero(t, f.bch.scans)
}
