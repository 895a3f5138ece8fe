package dataset

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/secfix-research/maintscan/cache"
	"github.com/secfix-research/maintscan/nvd"
	"github.com/sirupsen/logrus"
)

// CVESource is the NVD API as seen by the enricher.
type CVESource interface {
	CVE(ctx context.Context, id string) (nvd.Details, error)
}

// Fix types set by MergeMultipleFixes.
const (
	FixFirst = "FIRST"
	FixLast  = "LAST"
)

// addCVEDetails fills Score, Severity and CWE of the rows citing a CVE,
// from the first code of the row. Rows that already have a CWE are
// skipped.
func (e *Enricher) addCVEDetails(ctx context.Context, t *Table) error {
	for _, c := range []string{ColScore, ColSeverity, ColCWE} {
		t.AddColumn(c)
	}
	done := 0
	for i := 0; i < t.Len(); i++ {
		codes := CVECodes(t.Get(i, ColCode))
		if len(codes) == 0 || t.Get(i, ColCWE) != "" {
			continue
		}
		d, err := e.cveDetails(ctx, codes[0])
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.Log.WithField("cve", codes[0]).WithError(err).Error("NVD lookup failed")
			continue
		}
		t.SetFloat(i, ColScore, d.Score)
		t.Set(i, ColSeverity, d.Severity)
		t.Set(i, ColCWE, d.CWE)

		done++
		if e.Checkpoint != "" && e.CheckpointEvery > 0 && done%e.CheckpointEvery == 0 {
			if err := t.WriteCSV(e.Checkpoint); err != nil {
				return err
			}
		}
	}
	e.Log.WithField("rows", done).Info("added CVE details")
	if e.Checkpoint != "" && done > 0 {
		return t.WriteCSV(e.Checkpoint)
	}
	return nil
}

// cveDetails asks NVD through the cache. Unknown CVEs are cached as empty
// details so they are not asked again.
func (e *Enricher) cveDetails(ctx context.Context, id string) (nvd.Details, error) {
	key := "nvd/" + id
	var d nvd.Details
	if e.NVDCache != nil {
		ok, err := cache.GetValue(ctx, e.NVDCache, key, &d)
		if err != nil {
			return d, err
		}
		if ok {
			return d, nil
		}
	}

	d, err := e.NVD.CVE(ctx, id)
	if errors.Is(err, nvd.ErrNotFound) {
		e.Log.WithField("cve", id).Warn("CVE is unknown to NVD")
		d, err = nvd.Details{ID: id}, nil
	}
	if err != nil {
		return d, err
	}
	if e.NVDCache != nil {
		if err := cache.SetValue(ctx, e.NVDCache, key, d); err != nil {
			return d, err
		}
	}
	return d, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02 15:04:05-07:00", "2006-01-02 15:04:05", "2006-01-02"}

func parseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// MergeMultipleFixes collapses the rows that fix the same Code into one.
// The kept row is the latest fix, typed LAST, and its parent becomes the
// parent of the earliest fix so the pair spans the whole repair. A code
// fixed once is typed FIRST. Rows without a code are left alone, and so
// are groups with an unparsable Date. It returns the number of rows
// dropped.
func MergeMultipleFixes(t *Table, log logrus.FieldLogger) int {
	t.AddColumn(ColType)
	groups := map[string][]int{}
	var order []string
	for i := 0; i < t.Len(); i++ {
		code := strings.TrimSpace(t.Get(i, ColCode))
		if code == "" {
			continue
		}
		if _, ok := groups[code]; !ok {
			order = append(order, code)
		}
		groups[code] = append(groups[code], i)
	}

	drop := map[int]bool{}
	for _, code := range order {
		rows := groups[code]
		if len(rows) == 1 {
			t.Set(rows[0], ColType, FixFirst)
			continue
		}
		first, last, ok := span(t, rows)
		if !ok {
			log.WithField("code", code).Warn("unparsable fix date, rows kept as is")
			continue
		}
		t.Set(last, ColParent, t.Get(first, ColParent))
		t.Set(last, ColType, FixLast)
		for _, i := range rows {
			if i != last {
				drop[i] = true
			}
		}
	}
	t.Keep(func(i int) bool { return !drop[i] })
	return len(drop)
}

// span returns the earliest and latest rows by Date. Ties go to the row
// that comes first.
func span(t *Table, rows []int) (first, last int, ok bool) {
	var lo, hi time.Time
	for k, i := range rows {
		d, parsed := parseDate(t.Get(i, ColDate))
		if !parsed {
			return 0, 0, false
		}
		if k == 0 || d.Before(lo) {
			lo, first = d, i
		}
		if k == 0 || d.After(hi) {
			hi, last = d, i
		}
	}
	return first, last, true
}
