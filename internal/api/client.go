// Package api is the HTTP client for the remote interview service: session
// join and lookup, turn answer updates, activity reports and status changes.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/interviewer/internal/models"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every remote call made through the client.
const DefaultTimeout = 10 * time.Second

// RequestError is a non-2xx response from the interview service.
type RequestError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Retryable reports whether the same request may succeed later.
func (e *RequestError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// IsRetryable reports whether err is worth retrying. Transport errors
// (no response at all) are retryable; 4xx responses other than 408/429 are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RequestError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}

// Options configures a Client.
type Options struct {
	BaseURL    string        // e.g. http://localhost:8080/api
	Token      string        // optional static bearer token
	Timeout    time.Duration // default DefaultTimeout
	HTTPClient *http.Client  // overrides Token/Timeout when set
}

// Client talks to the interview service.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("api: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("api: base URL: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
		if opts.Token != "" {
			hc.Transport = &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token, TokenType: "Bearer"}),
				Base:   http.DefaultTransport,
			}
		}
	}
	return &Client{baseURL: strings.TrimRight(opts.BaseURL, "/"), http: hc}, nil
}

// BaseURL returns the service root all paths are resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// HealthURL is the reachability probe target.
func (c *Client) HealthURL() string { return c.baseURL + "/health" }

// HTTPClient returns the underlying client, shared with the probe so both
// carry the same credentials.
func (c *Client) HTTPClient() *http.Client { return c.http }

// JoinSession starts or resumes the session behind an interview link.
func (c *Client) JoinSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodGet, "/candidates/join/"+url.PathEscape(sessionID), nil, &s); err != nil {
		return nil, fmt.Errorf("api: join session %s: %w", sessionID, err)
	}
	return &s, nil
}

// GetSession fetches the current remote copy of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodGet, "/interviews/sessions/"+url.PathEscape(sessionID), nil, &s); err != nil {
		return nil, fmt.Errorf("api: get session %s: %w", sessionID, err)
	}
	return &s, nil
}

// SessionStatus returns only the status of a session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (models.SessionStatus, error) {
	s, err := c.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return s.Status, nil
}

// TurnUpdate is the body of an answer submission. SubmissionID lets the
// server collapse replays of the same answer.
type TurnUpdate struct {
	Answer          string                  `json:"answer"`
	SubmissionID    string                  `json:"submissionId"`
	ActivitySummary *models.ActivitySummary `json:"activitySummary,omitempty"`
}

// UpdateTurn records the candidate's answer for one turn.
func (c *Client) UpdateTurn(ctx context.Context, sessionID string, turnID int, u TurnUpdate) error {
	path := fmt.Sprintf("/interviews/sessions/%s/turns/%d", url.PathEscape(sessionID), turnID)
	if err := c.do(ctx, http.MethodPut, path, u, nil); err != nil {
		return fmt.Errorf("api: update turn %d: %w", turnID, err)
	}
	return nil
}

type activityReport struct {
	ActivityType models.ActivityType `json:"activityType"`
	Timestamp    time.Time           `json:"timestamp"`
	Metadata     map[string]any      `json:"metadata,omitempty"`
}

// ReportActivity forwards one suspicious activity event.
func (c *Client) ReportActivity(ctx context.Context, sessionID string, a models.SuspiciousActivity) error {
	body := activityReport{ActivityType: a.Type, Timestamp: a.Timestamp, Metadata: a.Metadata}
	path := "/interviews/sessions/" + url.PathEscape(sessionID) + "/report-activity"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("api: report activity %s: %w", a.Type, err)
	}
	return nil
}

// UpdateStatus sets the remote session status.
func (c *Client) UpdateStatus(ctx context.Context, sessionID string, status models.SessionStatus) error {
	path := "/interviews/sessions/" + url.PathEscape(sessionID) + "/status?status=" + url.QueryEscape(string(status))
	if err := c.do(ctx, http.MethodPut, path, nil, nil); err != nil {
		return fmt.Errorf("api: update status %s: %w", status, err)
	}
	return nil
}

// Pause suspends the session's clock on the server.
func (c *Client) Pause(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodPost, "/interviews/sessions/"+url.PathEscape(sessionID)+"/pause", nil, &s); err != nil {
		return nil, fmt.Errorf("api: pause %s: %w", sessionID, err)
	}
	return &s, nil
}

// Resume restarts a paused session.
func (c *Client) Resume(ctx context.Context, sessionID string) (*models.Session, error) {
	var s models.Session
	if err := c.do(ctx, http.MethodPost, "/interviews/sessions/"+url.PathEscape(sessionID)+"/resume", nil, &s); err != nil {
		return nil, fmt.Errorf("api: resume %s: %w", sessionID, err)
	}
	return &s, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p := path
		if i := strings.IndexByte(p, '?'); i >= 0 {
			p = p[:i]
		}
		return &RequestError{Method: method, Path: p, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body.
func errorMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(data, &body) == nil {
		for _, m := range []string{body.Message, body.Error, body.Detail} {
			if m != "" {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
