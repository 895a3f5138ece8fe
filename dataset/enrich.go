package dataset

import (
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/github"
	"github.com/sirupsen/logrus"
	"github.com/src-d/enry/v2"
	"golang.org/x/sync/errgroup"
)

var cvePattern = regexp.MustCompile(`CVE-\d{4}-\d{4,7}`)

// CVECodes returns the CVE identifiers mentioned in a commit message.
func CVECodes(message string) []string {
	return cvePattern.FindAllString(message, -1)
}

// CommitSource is the GitHub API as seen by the enricher.
type CommitSource interface {
	Commit(ctx context.Context, owner, name, sha string) (github.CommitInfo, error)
	CompareFiles(ctx context.Context, owner, name, base, head string) ([]string, error)
	ParentCommitURL(ctx context.Context, commitURL string) (string, error)
	PullRequestCommits(ctx context.Context, prURL string) (merge, base string, err error)
}

// Enricher completes rows with data from GitHub: commit date, message,
// parents, CVE codes and the languages touched by the fix. Rows known only
// by a commit or pull request URL are resolved to owner, project and shas
// first. With NVD set, rows citing a CVE also get its score, severity and
// CWE.
type Enricher struct {
	GitHub      CommitSource
	Concurrency int
	// CheckpointEvery rows the table is written to Checkpoint, if set.
	CheckpointEvery int
	Checkpoint      string
	// SkipOwners are never looked up.
	SkipOwners []string

	NVD CVESource
	// NVDCache keeps NVD answers between runs. Optional.
	NVDCache cache.Store

	Log      logrus.FieldLogger
	Progress io.Writer
}

type enrichment struct {
	owner, project, sha string
	resolved            bool

	date     string
	message  string
	parent   string
	codes    string
	language string
}

type rowRef struct {
	owner, project, sha, parent, url string
	needCommit                       bool
}

// Enrich fills the missing cells of every row. A row whose lookups fail is
// logged and left as is.
func (e *Enricher) Enrich(ctx context.Context, t *Table) error {
	for _, c := range []string{ColParent, ColDate, ColMessage, ColCode, ColLanguage} {
		t.AddColumn(c)
	}
	var todo []int
	for i := 0; i < t.Len(); i++ {
		if e.needsWork(t, i) {
			todo = append(todo, i)
		}
	}
	e.Log.WithField("rows", len(todo)).Info("enriching dataset")

	chunk := e.CheckpointEvery
	if chunk <= 0 {
		chunk = len(todo)
	}
	b := newBar(len(todo), e.Progress)
	defer b.Finish()
	for start := 0; start < len(todo); start += chunk {
		batch := todo[start:min(start+chunk, len(todo))]
		results := make([]*enrichment, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(e.Concurrency, 1))
		for k, i := range batch {
			ref := rowRef{
				owner:      t.Get(i, ColOwner),
				project:    t.Get(i, ColProject),
				sha:        t.Get(i, ColSHA),
				parent:     t.Get(i, ColParent),
				url:        t.Get(i, ColURL),
				needCommit: t.Get(i, ColDate) == "",
			}
			g.Go(func() error {
				res, err := e.lookup(gctx, ref)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					e.Log.WithFields(logrus.Fields{"repo": ref.owner + "/" + ref.project, "sha": ref.sha, "url": ref.url}).WithError(err).Error("enrichment failed")
					return nil
				}
				results[k] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for k, i := range batch {
			b.Increment(t.Get(i, ColOwner) + "/" + t.Get(i, ColProject))
			if res := results[k]; res != nil {
				apply(t, i, res)
			}
		}
		if e.Checkpoint != "" {
			if err := t.WriteCSV(e.Checkpoint); err != nil {
				return err
			}
			e.Log.WithField("path", e.Checkpoint).Debug("saved checkpoint")
		}
	}
	if e.NVD != nil {
		return e.addCVEDetails(ctx, t)
	}
	return nil
}

func (e *Enricher) needsWork(t *Table, i int) bool {
	owner := t.Get(i, ColOwner)
	for _, skip := range e.SkipOwners {
		if owner == skip {
			return false
		}
	}
	if t.Get(i, ColSHA) == "" && t.Get(i, ColURL) == "" {
		return false
	}
	lang := t.Get(i, ColLanguage)
	return t.Get(i, ColDate) == "" || lang == "" || lang == "EMPTY"
}

func (e *Enricher) lookup(ctx context.Context, ref rowRef) (*enrichment, error) {
	res := &enrichment{owner: ref.owner, project: ref.project, sha: ref.sha, parent: ref.parent}
	if ref.sha == "" {
		if err := e.resolve(ctx, ref.url, res); err != nil {
			return nil, err
		}
	}
	if ref.needCommit {
		info, err := e.GitHub.Commit(ctx, res.owner, res.project, res.sha)
		if err != nil {
			return nil, err
		}
		res.date = info.Date.UTC().Format(time.RFC3339)
		res.message = info.Message
		if !res.resolved {
			res.parent = strings.Join(info.Parents, ":")
		}
		res.codes = strings.Join(CVECodes(info.Message), ",")
	}
	if res.parent == "" || strings.Contains(res.parent, ":") {
		res.language = "ERROR"
		return res, nil
	}
	files, err := e.GitHub.CompareFiles(ctx, res.owner, res.project, res.parent, res.sha)
	if err != nil {
		return nil, err
	}
	res.language = Languages(files)
	return res, nil
}

// resolve turns a pull request URL into its merge commit and base, and a
// commit URL into the commit and its first parent.
func (e *Enricher) resolve(ctx context.Context, rawURL string, res *enrichment) error {
	fixURL, parentURL := rawURL, ""
	if _, _, _, err := github.ParsePullRequestURL(rawURL); err == nil {
		fixURL, parentURL, err = e.GitHub.PullRequestCommits(ctx, rawURL)
		if err != nil {
			return err
		}
	} else {
		if _, _, _, err := github.ParseCommitURL(rawURL); err != nil {
			return err
		}
		parentURL, err = e.GitHub.ParentCommitURL(ctx, rawURL)
		if err != nil {
			return err
		}
	}

	owner, project, sha, err := github.ParseCommitURL(fixURL)
	if err != nil {
		return err
	}
	_, _, parent, err := github.ParseCommitURL(parentURL)
	if err != nil {
		return err
	}
	res.owner, res.project, res.sha, res.parent = owner, project, sha, parent
	res.resolved = true
	return nil
}

func apply(t *Table, i int, res *enrichment) {
	if res.resolved {
		t.Set(i, ColOwner, res.owner)
		t.Set(i, ColProject, res.project)
		t.Set(i, ColSHA, res.sha)
		t.Set(i, ColParent, res.parent)
	}
	if res.date != "" {
		t.Set(i, ColDate, res.date)
		t.Set(i, ColMessage, res.message)
		t.Set(i, ColParent, res.parent)
		if t.Get(i, ColCode) == "" {
			t.Set(i, ColCode, res.codes)
		}
	}
	if lang := t.Get(i, ColLanguage); lang == "" || lang == "EMPTY" {
		t.Set(i, ColLanguage, res.language)
	}
}

// Languages names the programming languages of the changed files, in
// order of first appearance. Vendored and unrecognized files are skipped.
// No recognizable file gives "ERROR".
func Languages(files []string) string {
	var langs []string
	seen := map[string]bool{}
	for _, f := range files {
		if enry.IsVendor(f) {
			continue
		}
		lang, _ := enry.GetLanguageByExtension(f)
		if lang == "" {
			lang, _ = enry.GetLanguageByFilename(f)
		}
		if lang == "" || seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
	}
	if len(langs) == 0 {
		return "ERROR"
	}
	return strings.Join(langs, ";")
}
