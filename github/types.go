package github

import (
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/ratelimit"
	"github.com/secfix-research/maintscan/retry"
	"github.com/sirupsen/logrus"
)

type Client struct {
	gh      *github.Client
	limiter *ratelimit.Limiter
	repos   *cache.Memo[Repository]
	log     logrus.FieldLogger

	// Policies for the calls that GitHub is known to fail transiently.
	EditPolicy   retry.Policy
	CommitPolicy retry.Policy
	ForkPolicy   retry.Policy
}

type Options struct {
	Token string

	// GitHub App installation auth, used when AppClientID is set.
	AppClientID    string
	AppPrivateKey  []byte
	InstallationID int64

	Limiter   *ratelimit.Limiter
	CacheSize int
	Logger    logrus.FieldLogger
}

// Repository is the subset of a GitHub repository the pipeline needs.
type Repository struct {
	Owner         string
	Name          string
	FullName      string
	CloneURL      string
	DefaultBranch string
	Fork          bool
}

// CommitInfo describes one commit as reported by the API.
type CommitInfo struct {
	SHA     string
	HTMLURL string
	Date    time.Time
	Message string
	Parents []string
}

const repoTTL = 10 * time.Minute
