package config

import (
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// App
	Env      string `json:"env" yaml:"env" split_words:"true" default:"prod" validate:"oneof=dev staging prod"`
	LogLevel string `json:"log_level" yaml:"log_level" split_words:"true" default:"info" validate:"oneof=debug info warn error"`

	// GitHub
	GithubToken          string `json:"github_token" yaml:"github_token" split_words:"true" validate:"required_without=GithubAppClientID"`
	GithubAppClientID    string `json:"github_app_client_id" yaml:"github_app_client_id" split_words:"true"`
	GithubAppPrivateKey  string `json:"github_app_private_key" yaml:"github_app_private_key" split_words:"true" validate:"required_with=GithubAppClientID"`
	GithubInstallationID int64  `json:"github_installation_id" yaml:"github_installation_id" split_words:"true" validate:"required_with=GithubAppClientID"`

	// BetterCodeHub
	BettercodehubURL       string `json:"bettercodehub_url" yaml:"bettercodehub_url" split_words:"true" default:"https://bettercodehub.com" validate:"url"`
	BettercodehubSession   string `json:"bettercodehub_session" yaml:"bettercodehub_session" split_words:"true" validate:"required"`
	BettercodehubXsrfToken string `json:"bettercodehub_xsrf_token" yaml:"bettercodehub_xsrf_token" split_words:"true" validate:"required"`

	// NVD
	NvdURL    string `json:"nvd_url" yaml:"nvd_url" split_words:"true" default:"https://services.nvd.nist.gov/rest/json/cves/2.0" validate:"url"`
	NvdAPIKey string `json:"nvd_api_key" yaml:"nvd_api_key" split_words:"true"`

	// Vulnerability database
	// RedisURL is a redis:// URL or a host:port address; the password,
	// database and TLS settings only apply to the latter.
	RedisURL      string `json:"redis_url" yaml:"redis_url" split_words:"true" validate:"required"`
	RedisPassword string `json:"redis_password" yaml:"redis_password" split_words:"true"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db" split_words:"true" validate:"gte=0"`
	RedisTLS      bool   `json:"redis_tls" yaml:"redis_tls" split_words:"true"`

	// Storage
	CachePath string `json:"cache_path" yaml:"cache_path" split_words:"true" default:"bch_cache.zip" validate:"required"`
	CloneDir  string `json:"clone_dir" yaml:"clone_dir" split_words:"true" default:"./tmp" validate:"required"`

	// Performance tuning
	CacheSize              int           `json:"cache_size" yaml:"cache_size" split_words:"true" default:"1000" validate:"gt=0"`
	GithubRateLimit        int           `json:"github_rate_limit" yaml:"github_rate_limit" split_words:"true" default:"80" validate:"gt=0"`
	BettercodehubRateLimit int           `json:"bettercodehub_rate_limit" yaml:"bettercodehub_rate_limit" split_words:"true" default:"20" validate:"gt=0"`
	NvdRateLimit           int           `json:"nvd_rate_limit" yaml:"nvd_rate_limit" split_words:"true" default:"10" validate:"gt=0"`
	GithubConcurrency      int           `json:"github_concurrency" yaml:"github_concurrency" split_words:"true" default:"10" validate:"gt=0"`
	HTTPClientTimeout      time.Duration `json:"http_client_timeout" yaml:"http_client_timeout" split_words:"true" default:"30s" validate:"gt=0"`
	PropagationDelay       time.Duration `json:"propagation_delay" yaml:"propagation_delay" split_words:"true" default:"5s" validate:"gte=0"`
	ScanStartDelay         time.Duration `json:"scan_start_delay" yaml:"scan_start_delay" split_words:"true" default:"20s" validate:"gte=0"`
	CheckpointEvery        int           `json:"checkpoint_every" yaml:"checkpoint_every" split_words:"true" default:"20" validate:"gt=0"`
}

// Credential fields are only required by the commands that talk to the
// corresponding upstream.
var (
	GithubFields        = []string{"GithubToken", "GithubAppPrivateKey", "GithubInstallationID"}
	BettercodehubFields = []string{"BettercodehubSession", "BettercodehubXsrfToken"}
	RedisFields         = []string{"RedisURL"}
)

type Loader struct {
	Prefix   string
	Path     string
	Validate *validator.Validate
}
