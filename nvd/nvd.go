// Package nvd looks up the severity and weakness class of CVEs in the NVD
// vulnerability API.
package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/secfix-research/maintscan/logging"
	"github.com/secfix-research/maintscan/ratelimit"
	"github.com/secfix-research/maintscan/retry"
	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"

var (
	ErrNotFound = errors.New("nvd: CVE not found")
	// ErrBusy is returned for rate limiting and server errors.
	ErrBusy = errors.New("nvd: service busy")
)

// Details is what the study keeps of a CVE. Score and Severity come from
// CVSS v2 when NVD has it, like the old vulnerability pages showed, and
// from CVSS v3 otherwise.
type Details struct {
	ID       string  `json:"id"`
	Score    float64 `json:"score"`
	Severity string  `json:"severity"`
	CWE      string  `json:"cwe"`
}

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
	Limiter *ratelimit.Limiter
	Policy  retry.Policy
	Log     logrus.FieldLogger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, limiter *ratelimit.Limiter, log logrus.FieldLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
		Limiter: limiter,
		Policy: retry.Policy{
			Attempts: 4,
			Delay:    6 * time.Second,
			Backoff:  2,
			MaxDelay: time.Minute,
			RetryIf:  func(err error) bool { return errors.Is(err, ErrBusy) },
		},
		Log: log,
	}
}

type response struct {
	TotalResults    int `json:"totalResults"`
	Vulnerabilities []struct {
		CVE cve `json:"cve"`
	} `json:"vulnerabilities"`
}

type cve struct {
	ID      string `json:"id"`
	Metrics struct {
		V2  []metric `json:"cvssMetricV2"`
		V31 []metric `json:"cvssMetricV31"`
		V30 []metric `json:"cvssMetricV30"`
	} `json:"metrics"`
	Weaknesses []struct {
		Type        string `json:"type"`
		Description []struct {
			Value string `json:"value"`
		} `json:"description"`
	} `json:"weaknesses"`
}

// metric covers both layouts: v2 keeps baseSeverity next to cvssData, v3
// keeps it inside.
type metric struct {
	Type         string `json:"type"`
	BaseSeverity string `json:"baseSeverity"`
	CVSSData     struct {
		BaseScore    float64 `json:"baseScore"`
		BaseSeverity string  `json:"baseSeverity"`
	} `json:"cvssData"`
}

// CVE fetches the details of one CVE identifier.
func (c *Client) CVE(ctx context.Context, id string) (Details, error) {
	var d Details
	policy := c.Policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.Log.WithFields(logrus.Fields{"cve": id, "attempt": attempt, "delay": delay}).WithError(err).Warn("retrying NVD")
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		var err error
		d, err = c.fetch(ctx, id)
		return err
	})
	return d, err
}

func (c *Client) fetch(ctx context.Context, id string) (Details, error) {
	if err := c.Limiter.WaitNVD(ctx); err != nil {
		return Details{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"?cveId="+url.QueryEscape(id), nil)
	if err != nil {
		return Details{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("apiKey", c.APIKey)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Details{}, fmt.Errorf("nvd %s: %w", id, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Details{}, fmt.Errorf("read nvd %s: %w", id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Details{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return Details{}, fmt.Errorf("%s: status %d: %w", id, resp.StatusCode, ErrBusy)
	case resp.StatusCode != http.StatusOK:
		return Details{}, fmt.Errorf("nvd %s: unexpected status %d", id, resp.StatusCode)
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return Details{}, fmt.Errorf("decode nvd %s: %w", id, err)
	}
	if len(r.Vulnerabilities) == 0 {
		return Details{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return details(r.Vulnerabilities[0].CVE), nil
}

func details(v cve) Details {
	d := Details{ID: v.ID}
	if m, ok := primary(v.Metrics.V2); ok {
		d.Score, d.Severity = m.CVSSData.BaseScore, m.BaseSeverity
	} else if m, ok := primary(append(v.Metrics.V31, v.Metrics.V30...)); ok {
		d.Score, d.Severity = m.CVSSData.BaseScore, m.CVSSData.BaseSeverity
	}
	d.Severity = strings.ToUpper(d.Severity)
	d.CWE = weakness(v)
	return d
}

func primary(ms []metric) (metric, bool) {
	if len(ms) == 0 {
		return metric{}, false
	}
	for _, m := range ms {
		if m.Type == "Primary" {
			return m, true
		}
	}
	return ms[0], true
}

// weakness prefers a real CWE identifier from the primary source over the
// NVD-CWE-Other and NVD-CWE-noinfo placeholders.
func weakness(v cve) string {
	var fallback string
	for _, primaryOnly := range []bool{true, false} {
		for _, w := range v.Weaknesses {
			if primaryOnly && w.Type != "Primary" {
				continue
			}
			for _, desc := range w.Description {
				if strings.HasPrefix(desc.Value, "CWE-") {
					return desc.Value
				}
				if fallback == "" {
					fallback = desc.Value
				}
			}
		}
	}
	return fallback
}
