package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"github_token": "gh-token",
		"bettercodehub_session": "session-1",
		"bettercodehub_xsrf_token": "xsrf-1"
	}`)

	cfg, err := NewLoader("MAINTSCAN_TEST", path).Load()
	require.NoError(t, err)

	assert.Equal(t, "gh-token", cfg.GithubToken)
	assert.Equal(t, "session-1", cfg.BettercodehubSession)
	assert.Equal(t, "xsrf-1", cfg.BettercodehubXsrfToken)
	assert.Equal(t, "https://bettercodehub.com", cfg.BettercodehubURL)
	assert.Equal(t, "bch_cache.zip", cfg.CachePath)
	assert.Equal(t, 5*time.Second, cfg.PropagationDelay)
	assert.Equal(t, 20*time.Second, cfg.ScanStartDelay)
	assert.Equal(t, "https://services.nvd.nist.gov/rest/json/cves/2.0", cfg.NvdURL)
	assert.Equal(t, 10, cfg.NvdRateLimit)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", "github_token: yaml-token\nlog_level: debug\nscan_start_delay: 1s\n")

	cfg, err := NewLoader("MAINTSCAN_TEST", path).Load()
	require.NoError(t, err)

	assert.Equal(t, "yaml-token", cfg.GithubToken)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Second, cfg.ScanStartDelay)
}

func TestLoad_EnvAndFilePrecedence(t *testing.T) {
	t.Setenv("MAINTSCAN_TEST_GITHUB_TOKEN", "env-token")
	t.Setenv("MAINTSCAN_TEST_CACHE_SIZE", "42")
	path := writeFile(t, "config.json", `{"github_token": "file-token"}`)

	cfg, err := NewLoader("MAINTSCAN_TEST", path).Load()
	require.NoError(t, err)

	assert.Equal(t, "file-token", cfg.GithubToken)
	assert.Equal(t, 42, cfg.CacheSize)
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := NewLoader("MAINTSCAN_TEST", filepath.Join(t.TempDir(), "absent.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeFile(t, "config.json", `{"log_level": "verbose"}`)

	_, err := NewLoader("MAINTSCAN_TEST", path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation")
}

func TestLoad_BadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"github_token": `)

	_, err := NewLoader("MAINTSCAN_TEST", path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config decode")
}

func TestRequire(t *testing.T) {
	l := NewLoader("MAINTSCAN_TEST", "")

	err := l.Require(Config{}, BettercodehubFields...)
	require.Error(t, err)

	err = l.Require(Config{BettercodehubSession: "s", BettercodehubXsrfToken: "x"}, BettercodehubFields...)
	require.NoError(t, err)

	err = l.Require(Config{GithubToken: "t"}, GithubFields...)
	require.NoError(t, err)
}

func TestSession_Reloads(t *testing.T) {
	path := writeFile(t, "config.json", `{"bettercodehub_session": "old", "bettercodehub_xsrf_token": "x1"}`)
	l := NewLoader("MAINTSCAN_TEST", path)

	session, xsrf, err := l.Session()
	require.NoError(t, err)
	assert.Equal(t, "old", session)
	assert.Equal(t, "x1", xsrf)

	require.NoError(t, os.WriteFile(path, []byte(`{"bettercodehub_session": "new", "bettercodehub_xsrf_token": "x2"}`), 0o600))

	session, xsrf, err = l.Session()
	require.NoError(t, err)
	assert.Equal(t, "new", session)
	assert.Equal(t, "x2", xsrf)
}
