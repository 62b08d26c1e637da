// internal/upload/client.go
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/recplay/api/schemas"
)

// maxResponseBytes caps how much of a service response is read.
const maxResponseBytes = 16 << 20

// APIError is returned when the service answers with a non-2xx status or ok:false.
type APIError struct {
	Status  int
	Message string
	// Diagnostics is populated by the run endpoint when the playback artifact is missing.
	Diagnostics json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("service returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("service returned HTTP %d: %s", e.Status, e.Message)
}

// Client talks to the storage and dispatch service.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a client for the service rooted at baseURL. The timeout bounds
// save, list and ping requests; run requests rely on the caller's context
// because playback can take much longer.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid service url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid service url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("upload"),
	}, nil
}

// Upload posts a recording to the save endpoint and returns the server-assigned name.
func (c *Client) Upload(ctx context.Context, rec schemas.Recording) (*schemas.SaveResult, error) {
	if rec.Actions == nil {
		rec.Actions = []schemas.Action{}
	}
	var result schemas.SaveResult
	if err := c.do(ctx, c.httpClient, http.MethodPost, "/save", rec, &result); err != nil {
		return nil, fmt.Errorf("failed to upload recording: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("failed to upload recording: %w", &APIError{Status: http.StatusOK, Message: result.Error})
	}
	c.logger.Info("Recording uploaded.", zap.String("name", result.Name), zap.Int("actions", len(rec.Actions)))
	return &result, nil
}

// List returns the names of the stored recordings.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/recordings", nil, &names); err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Run asks the service to play back a stored recording and waits for the result.
func (c *Client) Run(ctx context.Context, req schemas.RunRequest) (*schemas.RunResult, error) {
	runner := &http.Client{Transport: c.httpClient.Transport}
	var result schemas.RunResult
	if err := c.do(ctx, runner, http.MethodPost, "/run", req, &result); err != nil {
		return nil, fmt.Errorf("failed to run recording %s: %w", req.File, err)
	}
	return &result, nil
}

// Ping checks that the service is reachable.
func (c *Client) Ping(ctx context.Context) error {
	var reply struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, c.httpClient, http.MethodGet, "/ping", nil, &reply); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	if !reply.OK {
		return fmt.Errorf("ping failed: service not ok")
	}
	return nil
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, body, out interface{}) error {
	endpoint := c.baseURL.JoinPath(path)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		var failure struct {
			Error       string          `json:"error"`
			Diagnostics json.RawMessage `json:"diagnostics"`
		}
		if json.Unmarshal(data, &failure) == nil {
			apiErr.Message = failure.Error
			apiErr.Diagnostics = failure.Diagnostics
		}
		return apiErr
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
