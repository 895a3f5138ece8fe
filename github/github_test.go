package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/google/go-github/v74/github"
	"github.com/secfix-research/maintscan/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	gh := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	gh.BaseURL = base

	c, err := newClient(gh, Options{})
	require.NoError(t, err)
	c.ForkPolicy.Sleep = retry.NoSleep
	c.EditPolicy.Sleep = retry.NoSleep
	c.CommitPolicy.Sleep = retry.NoSleep
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestParseCommitURL(t *testing.T) {
	owner, project, sha, err := ParseCommitURL("https://github.com/torvalds/linux/commit/abcdef1234567")
	require.NoError(t, err)
	assert.Equal(t, "torvalds", owner)
	assert.Equal(t, "linux", project)
	assert.Equal(t, "abcdef1234567", sha)

	_, _, _, err = ParseCommitURL("https://github.com/torvalds/linux/pull/1")
	assert.ErrorIs(t, err, ErrBadURL)
	_, _, _, err = ParseCommitURL("https://github.com/torvalds")
	assert.ErrorIs(t, err, ErrBadURL)
}

func TestParsePullRequestURL(t *testing.T) {
	owner, project, n, err := ParsePullRequestURL("https://github.com/a/b/pull/42")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", 42}, []any{owner, project, n})

	_, _, _, err = ParsePullRequestURL("https://github.com/a/b/pull/x")
	assert.ErrorIs(t, err, ErrBadURL)
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://github.com/a/b.git", RepoURL("a", "b"))
	assert.Equal(t, "https://github.com/a/b/commit/c", CommitURL("a", "b", "c"))
}

func TestRepository_Memoized(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, map[string]any{
			"name": "b", "full_name": "a/b", "default_branch": "main",
			"clone_url": "https://github.com/a/b.git",
			"owner":     map[string]any{"login": "a"},
		})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	r, err := c.Repository(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, Repository{Owner: "a", Name: "b", FullName: "a/b", CloneURL: "https://github.com/a/b.git", DefaultBranch: "main"}, r)

	_, err = c.Repository(ctx, "a", "b")
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	branch, err := c.DefaultBranch(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRepository_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/missing", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	_, err := c.Repository(context.Background(), "a", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFork_ReusesExisting(t *testing.T) {
	var forked atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/up/proj", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "proj", "owner": map[string]any{"login": "up"}})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"login": "me"})
	})
	mux.HandleFunc("/repos/me/proj", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "proj", "fork": true, "owner": map[string]any{"login": "me"}})
	})
	mux.HandleFunc("/repos/up/proj/forks", func(w http.ResponseWriter, r *http.Request) {
		forked.Store(true)
	})
	c := newTestClient(t, mux)

	fork, err := c.Fork(context.Background(), "up", "proj")
	require.NoError(t, err)
	assert.Equal(t, "me", fork.Owner)
	assert.True(t, fork.Fork)
	assert.False(t, forked.Load())
}

func TestFork_CreatesAndWaits(t *testing.T) {
	var polls atomic.Int32
	var forked atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/up/proj", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "proj", "owner": map[string]any{"login": "up"}})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"login": "me"})
	})
	mux.HandleFunc("/repos/me/proj", func(w http.ResponseWriter, r *http.Request) {
		// Visible only after the fork request and a couple of polls.
		if !forked.Load() || polls.Add(1) < 3 {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"name": "proj", "fork": true, "owner": map[string]any{"login": "me"}})
	})
	mux.HandleFunc("/repos/up/proj/forks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		forked.Store(true)
		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, map[string]any{})
	})
	c := newTestClient(t, mux)

	fork, err := c.Fork(context.Background(), "up", "proj")
	require.NoError(t, err)
	assert.Equal(t, "me", fork.Owner)
	assert.True(t, forked.Load())
	assert.EqualValues(t, 3, polls.Load())
}

func TestSetDefaultBranch_Retries(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "energy_test_abcdef1", body["default_branch"])
		if calls.Add(1) < 3 {
			http.Error(w, `{"message":"boom"}`, http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"name": "b", "default_branch": body["default_branch"]})
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.SetDefaultBranch(context.Background(), "a", "b", "energy_test_abcdef1"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestSetDefaultBranch_GivesUp(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"message":"nope"}`, http.StatusUnprocessableEntity)
	})
	c := newTestClient(t, mux)

	require.Error(t, c.SetDefaultBranch(context.Background(), "a", "b", "x"))
	assert.EqualValues(t, 3, calls.Load())
}

func TestBranchExists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/branches/main", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"name": "main"})
	})
	mux.HandleFunc("/repos/a/b/branches/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Branch not found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	ok, err := c.BranchExists(ctx, "a", "b", "main")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.BranchExists(ctx, "a", "b", "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func commitHandler(sha string, parents ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps := make([]map[string]any, 0, len(parents))
		for _, p := range parents {
			ps = append(ps, map[string]any{"sha": p})
		}
		writeJSON(w, map[string]any{
			"sha":      sha,
			"html_url": "https://github.com/a/b/commit/" + sha,
			"commit": map[string]any{
				"message": "Fix CVE-2020-1234 overflow\n",
				"author":  map[string]any{"date": "2020-05-01T10:00:00Z"},
			},
			"parents": ps,
		})
	}
}

func TestCommit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/commits/c1", commitHandler("c1", "p1"))
	c := newTestClient(t, mux)

	info, err := c.Commit(context.Background(), "a", "b", "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", info.SHA)
	assert.Equal(t, "Fix CVE-2020-1234 overflow", info.Message)
	assert.Equal(t, []string{"p1"}, info.Parents)
	assert.Equal(t, 2020, info.Date.Year())
}

func TestCommit_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/commits/c1", func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"message":"unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		commitHandler("c1")(w, r)
	})
	c := newTestClient(t, mux)

	_, err := c.Commit(context.Background(), "a", "b", "c1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestParentCommitURL(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/commits/merge", commitHandler("merge", "p1", "p2"))
	mux.HandleFunc("/repos/a/b/commits/root", commitHandler("root"))
	c := newTestClient(t, mux)
	ctx := context.Background()

	parent, err := c.ParentCommitURL(ctx, "https://github.com/a/b/commit/merge")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/a/b/commit/p1", parent)

	_, err = c.ParentCommitURL(ctx, "https://github.com/a/b/commit/root")
	assert.ErrorIs(t, err, ErrUnexpectedParent)
}

func TestPullRequestCommits_FallsBackToHead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"merge_commit_sha": "gone",
			"head":             map[string]any{"sha": "head"},
			"base":             map[string]any{"sha": "base"},
		})
	})
	mux.HandleFunc("/repos/a/b/commits/gone", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"No commit found"}`, http.StatusNotFound)
	})
	mux.HandleFunc("/repos/a/b/commits/head", commitHandler("head", "base"))
	mux.HandleFunc("/repos/a/b/commits/base", commitHandler("base"))
	c := newTestClient(t, mux)

	merge, base, err := c.PullRequestCommits(context.Background(), "https://github.com/a/b/pull/7")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/a/b/commit/head", merge)
	assert.Equal(t, "https://github.com/a/b/commit/base", base)
}

func TestCompareFiles(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/a/b/compare/p1...c1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"files": []map[string]any{{"filename": "src/main.c"}, {"filename": "README.md"}},
		})
	})
	c := newTestClient(t, mux)

	files, err := c.CompareFiles(context.Background(), "a", "b", "p1", "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"src/main.c", "README.md"}, files)
}
