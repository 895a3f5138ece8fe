// Package bettercodehub drives BetterCodeHub scans of single commits.
package bettercodehub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/secfix-research/maintscan/logging"
	"github.com/secfix-research/maintscan/maintainability"
	"github.com/secfix-research/maintscan/ratelimit"
	"github.com/sirupsen/logrus"
)

const DefaultBaseURL = "https://bettercodehub.com"

// Credentials returns the current session cookie and XSRF token. It is
// called for every request so refreshed credentials are picked up.
type Credentials func() (session, xsrfToken string, err error)

// StaticCredentials never change.
func StaticCredentials(session, xsrfToken string) Credentials {
	return func() (string, string, error) { return session, xsrfToken, nil }
}

type Client struct {
	BaseURL     string
	HTTP        *http.Client
	Credentials Credentials
	Limiter     *ratelimit.Limiter
	// ResetOnBusy fetches the repositories page after a 429, which used to
	// unstick BetterCodeHub.
	ResetOnBusy bool
	Log         logrus.FieldLogger
}

func NewClient(baseURL string, creds Credentials, timeout time.Duration, limiter *ratelimit.Limiter, log logrus.FieldLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		HTTP:        &http.Client{Timeout: timeout},
		Credentials: creds,
		Limiter:     limiter,
		ResetOnBusy: true,
		Log:         log,
	}
}

type scanRequest struct {
	RepositoryName string `json:"repositoryName"`
}

type errorBody struct {
	Message string `json:"message"`
}

// Scan schedules a scan of the default branch of user/project.
func (c *Client) Scan(ctx context.Context, user, project string) error {
	body, err := json.Marshal(scanRequest{RepositoryName: user + "/" + project})
	if err != nil {
		return err
	}
	status, content, err := c.do(ctx, http.MethodPost, "/edge/schedule/scan", body)
	if err != nil {
		return err
	}
	if status >= 200 && status < 300 {
		return nil
	}

	log := c.Log.WithFields(logrus.Fields{"repo": user + "/" + project, "status": status})
	log.WithField("body", string(content)).Error("could not schedule scan")
	switch status {
	case http.StatusPreconditionFailed:
		var eb errorBody
		if err := json.Unmarshal(content, &eb); err != nil {
			eb.Message = string(content)
		}
		log.WithField("message", eb.Message).Warn("project cannot be analyzed")
		switch {
		case strings.Contains(eb.Message, "default branch exceeds the limit"):
			return fmt.Errorf("%s/%s: %w", user, project, ErrProjectExceedsLOCLimit)
		case strings.Contains(eb.Message, "contains no supported technologies"):
			return fmt.Errorf("%s/%s: %w", user, project, ErrProjectNotSupported)
		default:
			return fmt.Errorf("%s/%s: %w: %s", user, project, ErrProjectNotSupported, eb.Message)
		}
	case http.StatusMethodNotAllowed:
		log.Error("update the session details in the config file")
		return ErrWrongSessionDetails
	case http.StatusTooManyRequests:
		log.Error("still busy with another project")
		c.reset(ctx)
		return ErrStillProcessing
	default:
		return fmt.Errorf("%w: scan %s/%s: status %d", ErrBetterCodeHub, user, project, status)
	}
}

// CollectReport fetches the report of the last scan of user/project.
func (c *Client) CollectReport(ctx context.Context, user, project string) (json.RawMessage, error) {
	status, content, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/edge/report/%s/%s", user, project), nil)
	if err != nil {
		return nil, err
	}
	if status >= 200 && status < 300 {
		if !maintainability.HasAnalysisResults(content) {
			return nil, fmt.Errorf("%s/%s: %w", user, project, ErrIncompleteCommitReports)
		}
		return content, nil
	}

	log := c.Log.WithFields(logrus.Fields{"repo": user + "/" + project, "status": status})
	log.WithField("body", string(content)).Error("could not collect report")
	switch status {
	case http.StatusBadRequest:
		log.Warn("results are not ready yet")
		return nil, ErrStillProcessing
	case http.StatusMethodNotAllowed:
		return nil, ErrWrongSessionDetails
	case http.StatusTooManyRequests:
		c.reset(ctx)
		return nil, ErrStillProcessing
	default:
		return nil, fmt.Errorf("%w: report %s/%s: status %d", ErrBetterCodeHub, user, project, status)
	}
}

// Reset loads the repositories page.
func (c *Client) Reset(ctx context.Context) error {
	status, _, err := c.do(ctx, http.MethodGet, "/repositories", nil)
	if err != nil {
		return err
	}
	if status >= 400 {
		return fmt.Errorf("%w: reset: status %d", ErrBetterCodeHub, status)
	}
	return nil
}

func (c *Client) reset(ctx context.Context) {
	if !c.ResetOnBusy {
		return
	}
	if err := c.Reset(ctx); err != nil {
		c.Log.WithError(err).Warn("reset failed")
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	if err := c.Limiter.WaitBetterCodeHub(ctx); err != nil {
		return 0, nil, err
	}
	session, xsrf, err := c.Credentials()
	if err != nil {
		return 0, nil, fmt.Errorf("bettercodehub credentials: %w", err)
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Content-Type", "application/json;charset=UTF-8")
	req.Header.Set("Origin", c.BaseURL)
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Referer", c.BaseURL+"/repositories")
	req.Header.Set("X-XSRF-TOKEN", xsrf)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.AddCookie(&http.Cookie{Name: "SESSION", Value: session})
	req.AddCookie(&http.Cookie{Name: "XSRF-TOKEN", Value: xsrf})

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read %s: %w", path, err)
	}
	return resp.StatusCode, content, nil
}
