package statusboardsdk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a minimal status board HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

type Task struct {
	Name             string   `json:"name"`
	Progress         *float64 `json:"progress,omitempty"`
	SpentMinutes     *float64 `json:"spentMinutes,omitempty"`
	EstimatedMinutes *float64 `json:"estimatedMinutes,omitempty"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	CurrentTask *Task  `json:"currentTask,omitempty"`
}

type Event struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	From    string `json:"from"`
	Message string `json:"message"`
}

// State is the board document as served by GET /state.
type State struct {
	Roles    []Role  `json:"roles"`
	Events   []Event `json:"events"`
	Metadata struct {
		LastUpdate string `json:"lastUpdate"`
	} `json:"metadata"`
}

// Update is one status report. Zero-valued optional fields are omitted.
type Update struct {
	RoleID        string   `json:"roleId"`
	Status        string   `json:"status"`
	TaskName      string   `json:"taskName,omitempty"`
	Progress      *float64 `json:"progress,omitempty"`
	SpentTime     *float64 `json:"spentTime,omitempty"`
	EstimatedTime *float64 `json:"estimatedTime,omitempty"`
	EventMessage  string   `json:"eventMessage,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// State fetches the full document.
func (c *Client) State(ctx context.Context) (State, error) {
	var resp State
	err := c.do(ctx, http.MethodGet, "state", nil, &resp)
	return resp, err
}

// Update submits a status report.
func (c *Client) Update(ctx context.Context, u Update) error {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, "update", u, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.New("update not acknowledged")
	}
	return nil
}

// Watch subscribes to change notifications and calls fn with each token
// until ctx is done, the stream ends, or fn returns an error.
func (c *Client) Watch(ctx context.Context, fn func(token string) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("stream"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	// Streams stay open indefinitely, so the request timeout is dropped.
	hc := &http.Client{}
	if c.HTTPClient != nil {
		hc.Transport = c.HTTPClient.Transport
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		if err := fn(strings.TrimSpace(data)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
