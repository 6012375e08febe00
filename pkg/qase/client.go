package qase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 16 * 1024 * 1024

// Client talks to a Qase-compatible test-management API.
type Client interface {
	// SuiteExists reports whether the suite exists. Only a 404 or a
	// "status": false answer means absent. Other failures are returned.
	SuiteExists(ctx context.Context, suiteID int64) (bool, error)
	CreateSuite(ctx context.Context, title, description string) (int64, error)
	ListCases(ctx context.Context, suiteID int64, limit, offset int) ([]Case, error)
	CreateCase(ctx context.Context, c *CaseCreate) (int64, error)
	CreateRun(ctx context.Context, r *RunCreate) (int64, error)
	PostResult(ctx context.Context, runID int64, r *ResultCreate) error
	CompleteRun(ctx context.Context, runID int64) error
}

// Config holds the client settings.
type Config struct {
	BaseURL           string
	ProjectCode       string
	Token             string
	Timeout           time.Duration
	Retries           int
	RequestsPerMinute int
	HTTPClient        *http.Client
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log        logrus.FieldLogger
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new remote service client.
func NewClient(log logrus.FieldLogger, cfg Config) Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(cfg.RequestsPerMinute)/60.0),
			max(1, cfg.RequestsPerMinute/60),
		)
	}

	return &client{
		log:        log.WithField("component", "qase"),
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    limiter,
	}
}

func (c *client) SuiteExists(ctx context.Context, suiteID int64) (bool, error) {
	if suiteID <= 0 {
		return false, nil
	}

	_, err := c.do(ctx, http.MethodGet, c.path("suite", strconv.FormatInt(suiteID, 10)), nil, nil)
	if err == nil {
		return true, nil
	}

	// Only a definite "not found" answer means absent. Anything else is
	// an unknown answer and must not lead to a duplicate suite.
	switch StatusCode(err) {
	case http.StatusNotFound, http.StatusOK:
		c.log.WithError(err).WithField("suite_id", suiteID).Debug("Suite not found")

		return false, nil
	default:
		return false, fmt.Errorf("checking suite %d: %w", suiteID, err)
	}
}

func (c *client) CreateSuite(ctx context.Context, title, description string) (int64, error) {
	body, err := c.do(ctx, http.MethodPost, c.path("suite"), nil, &suiteCreate{
		Title:       title,
		Description: description,
	})
	if err != nil {
		return 0, fmt.Errorf("creating suite: %w", err)
	}

	return resultID(body, "suite")
}

func (c *client) ListCases(ctx context.Context, suiteID int64, limit, offset int) ([]Case, error) {
	query := url.Values{}
	query.Set("suite_id", strconv.FormatInt(suiteID, 10))
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	body, err := c.do(ctx, http.MethodGet, c.path("case"), query, nil)
	if err != nil {
		return nil, fmt.Errorf("listing cases: %w", err)
	}

	entities := gjson.GetBytes(body, "result.entities").Array()
	cases := make([]Case, 0, len(entities))

	for _, e := range entities {
		cases = append(cases, Case{
			ID:      e.Get("id").Int(),
			Title:   e.Get("title").String(),
			SuiteID: e.Get("suite_id").Int(),
		})
	}

	return cases, nil
}

func (c *client) CreateCase(ctx context.Context, payload *CaseCreate) (int64, error) {
	body, err := c.do(ctx, http.MethodPost, c.path("case"), nil, payload)
	if err != nil {
		return 0, fmt.Errorf("creating case %q: %w", payload.Title, err)
	}

	return resultID(body, "case")
}

func (c *client) CreateRun(ctx context.Context, payload *RunCreate) (int64, error) {
	if payload.Cases == nil {
		payload.Cases = []int64{}
	}

	body, err := c.do(ctx, http.MethodPost, c.path("run"), nil, payload)
	if err != nil {
		return 0, fmt.Errorf("creating run: %w", err)
	}

	return resultID(body, "run")
}

func (c *client) PostResult(ctx context.Context, runID int64, payload *ResultCreate) error {
	if _, err := c.do(ctx, http.MethodPost,
		c.path("result", strconv.FormatInt(runID, 10)), nil, payload); err != nil {
		return fmt.Errorf("posting result for case %d: %w", payload.CaseID, err)
	}

	return nil
}

func (c *client) CompleteRun(ctx context.Context, runID int64) error {
	if _, err := c.do(ctx, http.MethodPost,
		c.path("run", strconv.FormatInt(runID, 10), "complete"), nil, nil); err != nil {
		return fmt.Errorf("completing run %d: %w", runID, err)
	}

	return nil
}

// path builds /{resource}/{project}[/{parts}...].
func (c *client) path(resource string, parts ...string) string {
	segments := append([]string{resource, url.PathEscape(c.cfg.ProjectCode)}, parts...)

	return "/" + strings.Join(segments, "/")
}

// do performs one request under the rate limiter and per-call timeout.
// Timed-out GET requests are retried; other methods are not, so a slow
// create never produces a duplicate remote entity.
func (c *client) do(
	ctx context.Context, method, path string, query url.Values, payload any,
) ([]byte, error) {
	var encoded []byte

	if payload != nil {
		var err error

		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	attempts := 1
	if method == http.MethodGet {
		attempts += max(0, c.cfg.Retries)
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}

		body, err := c.once(ctx, method, path, query, encoded)
		if err == nil {
			return body, nil
		}

		lastErr = err

		if !errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			return nil, err
		}

		if attempt < attempts {
			c.log.WithFields(logrus.Fields{
				"method":  method,
				"path":    path,
				"attempt": attempt,
			}).Warn("Remote call timed out, retrying")
		}
	}

	return nil, lastErr
}

func (c *client) once(
	ctx context.Context, method, path string, query url.Values, encoded []byte,
) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reqBody io.Reader
	if encoded != nil {
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(callCtx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Token", c.cfg.Token)
	req.Header.Set("Accept", "application/json")

	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, ErrTimeout)
		}

		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			return nil, fmt.Errorf("%s %s: reading response: %w", method, path, ErrTimeout)
		}

		return nil, fmt.Errorf("%s %s: reading response: %w", method, path, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	if status := gjson.GetBytes(body, "status"); status.Exists() && !status.Bool() {
		return nil, &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}

	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func errorMessage(body []byte) string {
	for _, path := range []string{"errorMessage", "message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.String() != "" {
			return v.String()
		}
	}

	return ""
}

func resultID(body []byte, entity string) (int64, error) {
	id := gjson.GetBytes(body, "result.id")
	if !id.Exists() || id.Int() <= 0 {
		return 0, fmt.Errorf("%s response carries no id", entity)
	}

	return id.Int(), nil
}
