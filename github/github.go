package github

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/jferrl/go-githubauth"
	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/logging"
	"github.com/secfix-research/maintscan/retry"
	"golang.org/x/oauth2"
)

var (
	ErrNotFound         = errors.New("github: not found")
	ErrUnexpectedParent = errors.New("github: unexpected number of parents")
	ErrBadURL           = errors.New("github: unrecognized url")
)

// NewClient authenticates either as a GitHub App installation or with a
// personal token.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	var httpClient *http.Client
	switch {
	case opts.AppClientID != "":
		appTokenSource, err := githubauth.NewApplicationTokenSource(opts.AppClientID, opts.AppPrivateKey)
		if err != nil {
			return nil, fmt.Errorf("github app auth: %w", err)
		}
		installationTokenSource := githubauth.NewInstallationTokenSource(opts.InstallationID, appTokenSource)
		httpClient = oauth2.NewClient(ctx, installationTokenSource)
	case opts.Token != "":
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}
	return newClient(github.NewClient(httpClient), opts)
}

func newClient(gh *github.Client, opts Options) (*Client, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = 256
	}
	repos, err := cache.NewMemo[Repository](size)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		gh:           gh,
		limiter:      opts.Limiter,
		repos:        repos,
		log:          logger,
		EditPolicy:   retry.Policy{Attempts: 3},
		CommitPolicy: retry.Policy{Attempts: 3, RetryIf: isTransient},
		ForkPolicy:   retry.Policy{Attempts: 5, Delay: 2 * time.Second, Backoff: 2, MaxDelay: 30 * time.Second, RetryIf: isNotFound},
	}, nil
}

// Repository returns owner/name, memoized for a few minutes.
func (c *Client) Repository(ctx context.Context, owner, name string) (Repository, error) {
	key := owner + "/" + name
	if r, ok := c.repos.Get(key); ok {
		return r, nil
	}
	r, err := c.fetchRepository(ctx, owner, name)
	if err != nil {
		return Repository{}, err
	}
	c.repos.Set(key, r, repoTTL)
	return r, nil
}

func (c *Client) fetchRepository(ctx context.Context, owner, name string) (Repository, error) {
	if err := c.limiter.WaitGithub(ctx); err != nil {
		return Repository{}, err
	}
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return Repository{}, wrap(err, "get repository %s/%s", owner, name)
	}
	return toRepository(repo), nil
}

func toRepository(r *github.Repository) Repository {
	return Repository{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		CloneURL:      r.GetCloneURL(),
		DefaultBranch: r.GetDefaultBranch(),
		Fork:          r.GetFork(),
	}
}

// LoggedUser returns the login of the authenticated user.
func (c *Client) LoggedUser(ctx context.Context) (string, error) {
	if err := c.limiter.WaitGithub(ctx); err != nil {
		return "", err
	}
	u, _, err := c.gh.Users.Get(ctx, "")
	if err != nil {
		return "", wrap(err, "get authenticated user")
	}
	return u.GetLogin(), nil
}

// Fork returns the authenticated user's fork of owner/project, creating it
// when it does not exist yet.
func (c *Client) Fork(ctx context.Context, owner, project string) (Repository, error) {
	if _, err := c.Repository(ctx, owner, project); err != nil {
		return Repository{}, err
	}
	login, err := c.LoggedUser(ctx)
	if err != nil {
		return Repository{}, err
	}
	if fork, err := c.Repository(ctx, login, project); err == nil {
		return fork, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Repository{}, err
	}

	c.log.WithField("repo", owner+"/"+project).Info("forking repository")
	if err := c.limiter.WaitGithub(ctx); err != nil {
		return Repository{}, err
	}
	_, _, err = c.gh.Repositories.CreateFork(ctx, owner, project, &github.RepositoryCreateForkOptions{})
	var accepted *github.AcceptedError
	if err != nil && !errors.As(err, &accepted) {
		return Repository{}, wrap(err, "fork %s/%s", owner, project)
	}

	// Forks are created asynchronously.
	var fork Repository
	err = retry.Do(ctx, c.ForkPolicy, func(ctx context.Context) error {
		var err error
		fork, err = c.fetchRepository(ctx, login, project)
		return err
	})
	if err != nil {
		return Repository{}, err
	}
	c.repos.Set(login+"/"+project, fork, repoTTL)
	return fork, nil
}

// DefaultBranch reads the current default branch, bypassing the memo.
func (c *Client) DefaultBranch(ctx context.Context, owner, name string) (string, error) {
	r, err := c.fetchRepository(ctx, owner, name)
	if err != nil {
		return "", err
	}
	return r.DefaultBranch, nil
}

// SetDefaultBranch points the repository's default branch at branch.
func (c *Client) SetDefaultBranch(ctx context.Context, owner, name, branch string) error {
	defer c.repos.Forget(owner + "/" + name)
	return retry.Do(ctx, c.EditPolicy, func(ctx context.Context) error {
		if err := c.limiter.WaitGithub(ctx); err != nil {
			return err
		}
		_, _, err := c.gh.Repositories.Edit(ctx, owner, name, &github.Repository{DefaultBranch: github.Ptr(branch)})
		if err != nil {
			c.log.WithFields(map[string]any{"repo": owner + "/" + name, "branch": branch}).
				Error("could not change default branch")
			return wrap(err, "set default branch of %s/%s to %s", owner, name, branch)
		}
		return nil
	})
}

// BranchExists reports whether branch exists in owner/name.
func (c *Client) BranchExists(ctx context.Context, owner, name, branch string) (bool, error) {
	if err := c.limiter.WaitGithub(ctx); err != nil {
		return false, err
	}
	_, _, err := c.gh.Repositories.GetBranch(ctx, owner, name, branch, 1)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err, "get branch %s of %s/%s", branch, owner, name)
	}
	return true, nil
}

// Commit looks up a commit, retrying on timeouts.
func (c *Client) Commit(ctx context.Context, owner, name, sha string) (CommitInfo, error) {
	var info CommitInfo
	err := retry.Do(ctx, c.CommitPolicy, func(ctx context.Context) error {
		if err := c.limiter.WaitGithub(ctx); err != nil {
			return err
		}
		rc, _, err := c.gh.Repositories.GetCommit(ctx, owner, name, sha, &github.ListOptions{})
		if err != nil {
			return wrap(err, "get commit %s of %s/%s", sha, owner, name)
		}
		info = CommitInfo{
			SHA:     rc.GetSHA(),
			HTMLURL: rc.GetHTMLURL(),
			Date:    rc.GetCommit().GetAuthor().GetDate().Time,
			Message: strings.TrimSpace(rc.GetCommit().GetMessage()),
		}
		for _, p := range rc.Parents {
			info.Parents = append(info.Parents, p.GetSHA())
		}
		return nil
	})
	return info, err
}

// ParentCommitURL returns the URL of the first parent of the commit at
// commitURL. Only regular and merge commits are accepted.
func (c *Client) ParentCommitURL(ctx context.Context, commitURL string) (string, error) {
	owner, name, sha, err := ParseCommitURL(commitURL)
	if err != nil {
		return "", err
	}
	info, err := c.Commit(ctx, owner, name, sha)
	if err != nil {
		return "", err
	}
	if n := len(info.Parents); n != 1 && n != 2 {
		return "", fmt.Errorf("%w: %d in %s", ErrUnexpectedParent, n, commitURL)
	}
	return CommitURL(owner, name, info.Parents[0]), nil
}

// PullRequestCommits returns the URLs of the merge and base commits of a
// pull request. When the merge commit is missing or unreachable the head
// commit is used instead.
func (c *Client) PullRequestCommits(ctx context.Context, prURL string) (merge, base string, err error) {
	owner, name, number, err := ParsePullRequestURL(prURL)
	if err != nil {
		return "", "", err
	}
	if err := c.limiter.WaitGithub(ctx); err != nil {
		return "", "", err
	}
	pr, _, err := c.gh.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return "", "", wrap(err, "get pull request %s", prURL)
	}

	mergeSHA := pr.GetMergeCommitSHA()
	if mergeSHA == "" {
		c.log.WithField("pr", prURL).Warn("merge commit is missing, using head")
		mergeSHA = pr.GetHead().GetSHA()
	}
	mergeInfo, err := c.Commit(ctx, owner, name, mergeSHA)
	if errors.Is(err, ErrNotFound) {
		c.log.WithField("pr", prURL).Warn("merge commit is not reachable, using head")
		mergeInfo, err = c.Commit(ctx, owner, name, pr.GetHead().GetSHA())
	}
	if err != nil {
		return "", "", err
	}
	baseInfo, err := c.Commit(ctx, owner, name, pr.GetBase().GetSHA())
	if err != nil {
		return "", "", err
	}
	return mergeInfo.HTMLURL, baseInfo.HTMLURL, nil
}

// CompareFiles lists the files changed between base and head.
func (c *Client) CompareFiles(ctx context.Context, owner, name, base, head string) ([]string, error) {
	if err := c.limiter.WaitGithub(ctx); err != nil {
		return nil, err
	}
	cmp, _, err := c.gh.Repositories.CompareCommits(ctx, owner, name, base, head, &github.ListOptions{})
	if err != nil {
		return nil, wrap(err, "compare %s...%s in %s/%s", base, head, owner, name)
	}
	files := make([]string, 0, len(cmp.Files))
	for _, f := range cmp.Files {
		files = append(files, f.GetFilename())
	}
	return files, nil
}

// RepoURL is the https clone URL of owner/project.
func RepoURL(owner, project string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, project)
}

// CommitURL is the web URL of a commit.
func CommitURL(owner, project, sha string) string {
	return fmt.Sprintf("https://github.com/%s/%s/commit/%s", owner, project, sha)
}

// ParseCommitURL splits https://github.com/{owner}/{project}/commit/{sha}.
func ParseCommitURL(raw string) (owner, project, sha string, err error) {
	parts, err := pathItems(raw)
	if err != nil || len(parts) < 5 || parts[3] != "commit" {
		return "", "", "", fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	return parts[1], parts[2], parts[4], nil
}

// ParsePullRequestURL splits https://github.com/{owner}/{project}/pull/{n}.
func ParsePullRequestURL(raw string) (owner, project string, number int, err error) {
	parts, err := pathItems(raw)
	if err != nil || len(parts) < 5 || parts[3] != "pull" {
		return "", "", 0, fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	number, err = strconv.Atoi(parts[4])
	if err != nil {
		return "", "", 0, fmt.Errorf("%w: %q", ErrBadURL, raw)
	}
	return parts[1], parts[2], number, nil
}

func pathItems(raw string) ([]string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(u.Path), "/"), nil
}

func wrap(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if isNotFound(err) {
		return fmt.Errorf("%s: %w: %v", msg, ErrNotFound, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode >= 500
}
