package cache

import (
	"context"
	"encoding/json"
	"strings"
)

// CommitKey identifies one (user, project, commit) analysis.
func CommitKey(user, project, sha string) string {
	return strings.Join([]string{user, project, sha}, "/")
}

// SplitCommitKey reverses CommitKey.
func SplitCommitKey(key string) (user, project, sha string, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// Reports stores BetterCodeHub results per commit.
type Reports struct {
	Store Store
}

func NewReports(s Store) *Reports {
	return &Reports{Store: s}
}

// Get returns the stored analysis of a commit, or false when the commit was
// never analyzed.
func (r *Reports) Get(ctx context.Context, user, project, sha string) (json.RawMessage, bool, error) {
	return r.Store.Get(ctx, CommitKey(user, project, sha))
}

// Put stores the analysis of a commit.
func (r *Reports) Put(ctx context.Context, user, project, sha string, report json.RawMessage) error {
	return r.Store.Set(ctx, CommitKey(user, project, sha), report)
}

// Remove forgets the analysis of a commit.
func (r *Reports) Remove(ctx context.Context, user, project, sha string) error {
	return r.Store.Remove(ctx, CommitKey(user, project, sha))
}
