// Package upstream is the client for the interview backend that owns the
// durable session record.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

const (
	DefaultBaseURL   = "http://localhost:8080/api/interviews/"
	DefaultTimeout   = 10 * time.Second
	DefaultRetries   = 2
	DefaultRetryBase = 200 * time.Millisecond

	maxErrorBody = 4 << 10
)

// StatusError is returned for a non-2xx backend response.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("upstream %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Temporary reports whether the backend may succeed on a later attempt.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

type Config struct {
	BaseURL string
	// APIKey is sent as a bearer credential when set.
	APIKey     string
	Timeout    time.Duration
	Retries    int
	RetryBase  time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the backend's interview session API. Each call is bounded
// by Timeout; FetchSession retries transient failures, PushStatus does not.
type Client struct {
	base      *url.URL
	apiKey    string
	timeout   time.Duration
	retries   int
	retryBase time.Duration
	http      *http.Client
	logger    *slog.Logger
}

func New(cfg Config) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("upstream base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream base url must be http(s), got %q", cfg.BaseURL)
	}

	c := &Client{
		base:      base,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		timeout:   cfg.Timeout,
		retries:   cfg.Retries,
		retryBase: cfg.RetryBase,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.retryBase <= 0 {
		c.retryBase = DefaultRetryBase
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// sessionMetadata is the backend's session representation.
type sessionMetadata struct {
	CandidateID flexID          `json:"candidateId"`
	TemplateID  flexID          `json:"templateId"`
	Language    string          `json:"language"`
	Status      string          `json:"status"`
	Mode        string          `json:"mode"`
	Job         *types.Job      `json:"job"`
	Template    *types.Template `json:"template"`
}

// FetchSession loads metadata for id and returns a fresh session with empty history.
func (c *Client) FetchSession(ctx context.Context, id string) (types.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var meta sessionMetadata
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(c.retries), retry.NewExponential(c.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.getJSON(ctx, "fetch_session", "sessions/"+url.PathEscape(id), nil, &meta)
		if err == nil {
			return nil
		}
		if isTransient(err) {
			c.logger.Warn("upstream fetch failed, retrying", "session_id", id, "op", "fetch_session", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return types.Session{}, err
	}

	s := types.NewSession(id)
	s.CandidateID = string(meta.CandidateID)
	s.TemplateID = string(meta.TemplateID)
	if lang := strings.TrimSpace(meta.Language); lang != "" {
		s.Language = lang
	}
	s.Status = types.ParseStatus(meta.Status)
	if mode, ok := types.ParseMode(meta.Mode); ok {
		s.Mode = mode
	}
	s.Job = meta.Job
	s.Template = meta.Template
	return s, nil
}

// PushStatus reports a status transition. It is attempted exactly once.
func (c *Client) PushStatus(ctx context.Context, id string, status types.Status) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{"status": []string{string(status)}}
	return c.do(ctx, http.MethodPut, "push_status", "sessions/"+url.PathEscape(id)+"/status", q, nil)
}

func (c *Client) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, op, path, q, out)
}

func (c *Client) do(ctx context.Context, method, op, path string, q url.Values, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	u := c.base.ResolveReference(ref)
	if q != nil {
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream %s: %w: %w", op, errMalformed, err)
	}
	return nil
}

var errMalformed = errors.New("malformed response")

// isTransient reports whether another attempt may succeed: transport errors
// and 5xx/429 responses.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return !errors.Is(err, errMalformed)
}

// flexID accepts an identifier encoded as either a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexID(n.String())
	return nil
}
