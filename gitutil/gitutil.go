// Package gitutil manipulates local clones of remote repositories.
package gitutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/secfix-research/maintscan/logging"
	"github.com/sirupsen/logrus"
)

var (
	ErrCommitNotFound      = errors.New("commit not found")
	ErrBranchAlreadyExists = errors.New("branch already exists")
)

// Git runs clone and push operations, authenticating with Token when set.
type Git struct {
	Token string
	// TempDir is where throwaway clones go. Empty means the OS default.
	TempDir string
	Log     logrus.FieldLogger
}

func New(token string, log logrus.FieldLogger) *Git {
	if log == nil {
		log = logging.Discard()
	}
	return &Git{Token: token, Log: log}
}

func (g *Git) auth() transport.AuthMethod {
	if g.Token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: "x-access-token", Password: g.Token}
}

// Clone clones url into dir. When dir already holds a repository it is
// opened instead.
func (g *Git) Clone(ctx context.Context, url, dir string) (*git.Repository, error) {
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url, Auth: g.auth()})
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryAlreadyExists) {
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}
	repo, err = git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("could not clone %s: %w", url, err)
	}
	return repo, nil
}

// CloneFull clones url and fetches every branch of every remote.
func (g *Git) CloneFull(ctx context.Context, url, dir string) (*git.Repository, error) {
	repo, err := g.Clone(ctx, url, dir)
	if err != nil {
		return nil, err
	}
	remotes, err := repo.Remotes()
	if err != nil {
		return nil, err
	}
	for _, remote := range remotes {
		name := remote.Config().Name
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: name,
			RefSpecs:   []config.RefSpec{config.RefSpec("+refs/heads/*:refs/remotes/" + name + "/*")},
			Auth:       g.auth(),
			Tags:       git.AllTags,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("fetch %s: %w", name, err)
		}
	}
	return repo, nil
}

// PersistentDir is where PersistentClone keeps owner/project.
func PersistentDir(root, owner, project string) string {
	return filepath.Join(root, owner+"___"+project)
}

// PersistentClone clones owner/project from url under root, reusing an
// earlier clone. It returns the clone directory.
func (g *Git) PersistentClone(ctx context.Context, url, root, owner, project string) (string, error) {
	dir := PersistentDir(root, owner, project)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", err
	}
	if _, err := g.Clone(ctx, url, dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (g *Git) withTempClone(ctx context.Context, url string, full bool, fn func(*git.Repository) error) error {
	dir, err := os.MkdirTemp(g.TempDir, "maintscan-clone-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)
	g.Log.WithField("dir", dir).Debug("temporary clone")

	var repo *git.Repository
	if full {
		repo, err = g.CloneFull(ctx, url, dir)
	} else {
		repo, err = g.Clone(ctx, url, dir)
	}
	if err != nil {
		return err
	}
	return fn(repo)
}

// CreateBranchFromCommit creates branch at sha in a temporary clone of url
// and force-pushes it.
func (g *Git) CreateBranchFromCommit(ctx context.Context, url, branch, sha string) error {
	log := g.Log.WithFields(logrus.Fields{"repo": url, "branch": branch, "sha": sha})
	return g.withTempClone(ctx, url, false, func(repo *git.Repository) error {
		hash, err := resolveCommit(repo, sha)
		if err != nil {
			log.Error("commit does not exist")
			return fmt.Errorf("%s in %s: %w", sha, url, err)
		}
		exists, err := branchExists(repo, branch)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s in %s: %w", branch, url, ErrBranchAlreadyExists)
		}
		ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)
		if err := repo.Storer.SetReference(ref); err != nil {
			return fmt.Errorf("create branch %s: %w", branch, err)
		}
		return g.forcePush(ctx, repo, branch)
	})
}

func (g *Git) forcePush(ctx context.Context, repo *git.Repository, branch string) error {
	spec := config.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/heads/%s", branch, branch))
	err := repo.PushContext(ctx, &git.PushOptions{
		RemoteName: git.DefaultRemoteName,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       g.auth(),
		Force:      true,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

func branchExists(repo *git.Repository, branch string) (bool, error) {
	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(branch),
		plumbing.NewRemoteReferenceName(git.DefaultRemoteName, branch),
	} {
		_, err := repo.Reference(name, false)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, plumbing.ErrReferenceNotFound) {
			return false, err
		}
	}
	return false, nil
}

func resolveCommit(repo *git.Repository, rev string) (plumbing.Hash, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, plumbing.ErrObjectNotFound) {
			return plumbing.ZeroHash, ErrCommitNotFound
		}
		return plumbing.ZeroHash, err
	}
	if _, err := repo.CommitObject(*hash); err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return plumbing.ZeroHash, ErrCommitNotFound
		}
		return plumbing.ZeroHash, err
	}
	return *hash, nil
}

func commitAt(dir, rev string) (*object.Commit, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	hash, err := resolveCommit(repo, rev)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rev, err)
	}
	return repo.CommitObject(hash)
}

// Commits lists every commit reachable from HEAD, newest first.
func Commits(dir string) ([]string, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	iter, err := repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, err
	}
	var out []string
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, c.Hash.String())
		return nil
	})
	return out, err
}

// ResolveRevision expands expressions such as "abc123^1" to a full sha.
func ResolveRevision(dir, rev string) (string, error) {
	c, err := commitAt(dir, rev)
	if err != nil {
		return "", err
	}
	return c.Hash.String(), nil
}

// CommitMessage is the full message of a commit.
func CommitMessage(dir, sha string) (string, error) {
	c, err := commitAt(dir, sha)
	if err != nil {
		return "", err
	}
	return c.Message, nil
}

// CommitTime is the author time of a commit.
func CommitTime(dir, sha string) (time.Time, error) {
	c, err := commitAt(dir, sha)
	if err != nil {
		return time.Time{}, err
	}
	return c.Author.When, nil
}

// TimeBetween returns the author time of b minus that of a.
func TimeBetween(dir, a, b string) (time.Duration, error) {
	ta, err := CommitTime(dir, a)
	if err != nil {
		return 0, err
	}
	tb, err := CommitTime(dir, b)
	if err != nil {
		return 0, err
	}
	return tb.Sub(ta), nil
}
