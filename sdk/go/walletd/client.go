// Package walletd is a Go client for the walletd task API.
package walletd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Task statuses reported by the service.
const (
	StatusPending       = "pending"
	StatusRunning       = "running"
	StatusSucceeded     = "succeeded"
	StatusFailed        = "failed"
	StatusBusinessError = "business_error"
)

// Client wraps the HTTP interactions with the walletd REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu     sync.RWMutex
	apiKey string
}

// SubmitRequest is the payload accepted by POST /api/v1/tasks. A caller
// supplied ID makes the submission idempotent.
type SubmitRequest struct {
	ID        string         `json:"id,omitempty"`
	Topic     string         `json:"topic"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Task mirrors the task record returned by the service.
type Task struct {
	ID         string         `json:"id"`
	Topic      string         `json:"topic"`
	Variables  map[string]any `json:"variables,omitempty"`
	Status     string         `json:"status"`
	Attempts   int            `json:"attempts"`
	MaxRetries int            `json:"max_retries"`
	LastError  string         `json:"last_error,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	CreatedAt  int64          `json:"created_at"`
	UpdatedAt  int64          `json:"updated_at"`
}

// Done reports whether the task will not change any more.
func (t Task) Done() bool {
	switch t.Status {
	case StatusSucceeded, StatusBusinessError:
		return true
	case StatusFailed:
		return t.Attempts >= t.MaxRetries
	default:
		return false
	}
}

// OutputString returns an output variable as a string.
func (t Task) OutputString(key string) string {
	if t.Output == nil {
		return ""
	}
	switch v := t.Output[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Stats aggregates task counts.
type Stats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Running         int   `json:"running"`
	Succeeded       int   `json:"succeeded"`
	Failed          int   `json:"failed"`
	BusinessErrors  int   `json:"business_errors"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}

// Chain is one entry of the routing table.
type Chain struct {
	ChainID     uint64 `json:"chain_id"`
	Internal    bool   `json:"internal"`
	Decimals    uint8  `json:"decimals"`
	Description string `json:"description,omitempty"`
}

// ListOptions filters List and Stats. Zero values are omitted.
type ListOptions struct {
	Limit     int
	Offset    int
	Statuses  []string
	Topic     string
	Query     string
	HasOutput *bool
	Since     time.Time
	Until     time.Time
	Ascending bool
}

func (o ListOptions) values() url.Values {
	v := url.Values{}
	if o.Limit > 0 {
		v.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		v.Set("offset", strconv.Itoa(o.Offset))
	}
	if len(o.Statuses) > 0 {
		v.Set("status", strings.Join(o.Statuses, ","))
	}
	if o.Topic != "" {
		v.Set("topic", o.Topic)
	}
	if o.Query != "" {
		v.Set("q", o.Query)
	}
	if o.HasOutput != nil {
		v.Set("has_output", strconv.FormatBool(*o.HasOutput))
	}
	if !o.Since.IsZero() {
		v.Set("since", strconv.FormatInt(o.Since.Unix(), 10))
	}
	if !o.Until.IsZero() {
		v.Set("until", strconv.FormatInt(o.Until.Unix(), 10))
	}
	if o.Ascending {
		v.Set("order", "asc")
	}
	return v
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("walletd api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("walletd api error (%d): %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the service.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// NewClient instantiates a client for the walletd API. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// SetAPIKey sets the Bearer key sent with every request.
func (c *Client) SetAPIKey(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiKey = key
}

// Submit enqueues a task.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Task, error) {
	var task Task
	if err := c.post(ctx, "/api/v1/tasks", req, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Get fetches a task by identifier.
func (c *Client) Get(ctx context.Context, taskID string) (Task, error) {
	if strings.TrimSpace(taskID) == "" {
		return Task{}, errors.New("walletd: task id is required")
	}
	var task Task
	if err := c.get(ctx, "/api/v1/tasks/"+url.PathEscape(taskID), nil, &task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// List returns tasks matching opts, most recently updated first unless
// opts.Ascending is set.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Task, error) {
	var tasks []Task
	if err := c.get(ctx, "/api/v1/tasks", opts.values(), &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Stats returns aggregated counts for tasks matching opts.
func (c *Client) Stats(ctx context.Context, opts ListOptions) (Stats, error) {
	var stats Stats
	if err := c.get(ctx, "/api/v1/tasks/stats", opts.values(), &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Chains returns the routing table known to the service.
func (c *Client) Chains(ctx context.Context) ([]Chain, error) {
	var chains []Chain
	if err := c.get(ctx, "/api/v1/chains", nil, &chains); err != nil {
		return nil, err
	}
	return chains, nil
}

// Wait polls the task until it is done or ctx ends.
func (c *Client) Wait(ctx context.Context, taskID string, interval time.Duration) (Task, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		task, err := c.Get(ctx, taskID)
		if err != nil {
			return Task{}, err
		}
		if task.Done() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	c.mu.RLock()
	key := c.apiKey
	c.mu.RUnlock()
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	// 金额等大整数保持原文。
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
