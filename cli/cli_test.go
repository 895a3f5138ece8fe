package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleReport = `{"analysisResults":[{"guideline":"Write Code Once",` +
	`"qualityProfileVolume":[90,10],"qualityProfileComplianceThresholds":[1,0.49]}]}`

// execute runs the command tree with a config file in a temp dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(cfgPath); err != nil {
		require.NoError(t, os.WriteFile(cfgPath, []byte(`{"log_level":"error"}`), 0o644))
	}
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func seedCache(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	s := cache.NewFileStore(path)
	for k, v := range entries {
		require.NoError(t, s.Set(context.Background(), k, []byte(v)))
	}
}

func TestCommitArgs(t *testing.T) {
	o, p, s, err := commitArgs([]string{"https://github.com/owner/proj/commit/abc123"})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner", "proj", "abc123"}, []string{o, p, s})

	o, p, s, err = commitArgs([]string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, []string{o, p, s})

	_, _, _, err = commitArgs([]string{"a", "b"})
	assert.Error(t, err)
}

func TestCacheCommands(t *testing.T) {
	dir := t.TempDir()
	mainCache := filepath.Join(dir, "bch_cache.zip")
	other := filepath.Join(dir, "other_cache.json")
	seedCache(t, mainCache, map[string]string{"o/p/a": `{"error":true}`})
	seedCache(t, other, map[string]string{"o/p/b": sampleReport})

	_, err := execute(t, dir, "--cache", mainCache, "cache", "merge", other)
	require.NoError(t, err)

	out, err := execute(t, dir, "--cache", mainCache, "cache", "keys")
	require.NoError(t, err)
	assert.Equal(t, "o/p/a\no/p/b\n", out)

	out, err = execute(t, dir, "--cache", mainCache, "cache", "get", "o/p/b")
	require.NoError(t, err)
	assert.JSONEq(t, sampleReport, out)

	converted := filepath.Join(dir, "converted_cache.bson")
	_, err = execute(t, dir, "--cache", mainCache, "cache", "convert", converted)
	require.NoError(t, err)
	keys, err := cache.NewFileStore(converted).Keys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"o/p/a", "o/p/b"}, keys)

	_, err = execute(t, dir, "--cache", mainCache, "cache", "remove", "o/p/a")
	require.NoError(t, err)
	_, err = execute(t, dir, "--cache", mainCache, "cache", "get", "o/p/a")
	assert.ErrorContains(t, err, "not cached")
}

func TestScoreCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	seedCache(t, path, map[string]string{"o/p/b": sampleReport})

	out, err := execute(t, dir, "--cache", path, "score", "o", "p", "b")
	require.NoError(t, err)
	var got scoreSummary
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "o/p/b", got.Key)
	assert.InDelta(t, 90-1.02*10, got.Score, 1e-9)
	assert.Equal(t, 100.0, got.LOC)

	_, err = execute(t, dir, "--cache", path, "score", "o", "p", "missing")
	assert.ErrorContains(t, err, "has not been analyzed")
}

func TestReportCommands(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "cache.json")
	seedCache(t, cachePath, map[string]string{"o/p/fix": sampleReport, "o/p/prev": sampleReport})

	sec := filepath.Join(dir, "sec.csv")
	require.NoError(t, os.WriteFile(sec, []byte("owner,project,sha,sha-p,Severity\no,p,fix,prev,HIGH\n"), 0o644))
	results := filepath.Join(dir, "results")

	_, err := execute(t, dir, "--cache", cachePath, "report", "export", "--secdb", sec, "--results", results)
	require.NoError(t, err)
	exported, err := dataset.ReadCSV(filepath.Join(results, "maintainability_release_security_changes.csv"))
	require.NoError(t, err)
	assert.Equal(t, "0", exported.Get(0, dataset.ColDiff))

	reports := filepath.Join(dir, "reports")
	_, err = execute(t, dir, "report", "--reports", reports, "severity",
		filepath.Join(results, "maintainability_release_security_changes.csv"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(reports, "severity_test_report.csv"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(reports, "main_per_severity.pdf"))
	require.NoError(t, err)

	_, err = execute(t, dir, "report", "export", "--secdb", sec, "--baseline", "other")
	assert.ErrorContains(t, err, "baseline")
}

func TestReportDescribe(t *testing.T) {
	dir := t.TempDir()
	projects := filepath.Join(dir, "projects.csv")
	require.NoError(t, os.WriteFile(projects, []byte("name,stars,forks\na,1,5\nb,3,7\n"), 0o644))
	out := filepath.Join(dir, "stats.csv")

	_, err := execute(t, dir, "report", "describe", projects, "--out", out)
	require.NoError(t, err)
	got, err := dataset.ReadCSV(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"stat", "forks", "stars"}, got.Columns())
	assert.Equal(t, "2", got.Get(1, "stars"))
}

func TestStdinOperator(t *testing.T) {
	var out bytes.Buffer
	op := newStdinOperator(strings.NewReader("\n"), &out)
	require.NoError(t, op.Pause(context.Background(), "session expired"))
	assert.Contains(t, out.String(), "session expired")
	assert.Equal(t, 1, strings.Count(strings.ToLower(out.String()), "press enter"))

	err := newStdinOperator(strings.NewReader(""), &out).Pause(context.Background(), "again")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked, w := io.Pipe()
	defer w.Close()
	err = newStdinOperator(blocked, &out).Pause(ctx, "cancelled")
	assert.ErrorIs(t, err, context.Canceled)
}
