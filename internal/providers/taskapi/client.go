// Package taskapi talks to JSON task APIs that accept a generation job on
// POST /tasks and expose its document on GET /tasks/{id}.
package taskapi

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

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

// ErrMissingBaseURL indicates that the client has no endpoint to call.
var ErrMissingBaseURL = errors.New("taskapi: base url is required")

// Options configures a task API client.
type Options struct {
	BaseURL        string
	APIKey         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client implements domain.ProviderClient over a task API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *infra.Logger
}

type createRequest struct {
	Kind           string         `json:"kind"`
	Prompt         string         `json:"prompt,omitempty"`
	NegativePrompt string         `json:"negative_prompt,omitempty"`
	ReferenceURLs  []string       `json:"reference_urls,omitempty"`
	AspectRatio    string         `json:"aspect_ratio,omitempty"`
	Style          map[string]any `json:"style,omitempty"`
	Action         string         `json:"action,omitempty"`
	ParentTaskID   string         `json:"parent_task_id,omitempty"`
}

type createResponse struct {
	TaskID  string          `json:"task_id"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Code    any             `json:"code"`
	Message string          `json:"message"`
	Error   any             `json:"error"`
}

func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("taskapi: invalid base url: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Create posts the job and returns the task id the API assigned.
func (c *Client) Create(ctx context.Context, kind domain.Kind, p domain.Payload) (string, error) {
	body, err := json.Marshal(createRequest{
		Kind:           string(kind),
		Prompt:         strings.TrimSpace(p.Prompt),
		NegativePrompt: strings.TrimSpace(p.NegativePrompt),
		ReferenceURLs:  p.ReferenceURLs,
		AspectRatio:    strings.TrimSpace(p.AspectRatio),
		Style:          p.Style,
		Action:         strings.TrimSpace(p.Action),
		ParentTaskID:   strings.TrimSpace(p.ParentTaskID),
	})
	if err != nil {
		return "", fmt.Errorf("taskapi: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tasks", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("taskapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	var decoded createResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("taskapi: decode response: %w", err)
	}
	id := firstNonEmpty(decoded.TaskID, decoded.ID, rawString(decoded.Result))
	if id == "" {
		if msg := errorMessage(decoded.Error, decoded.Message); msg != "" {
			return "", fmt.Errorf("taskapi: %s", msg)
		}
		return "", errors.New("taskapi: response carried no task id")
	}
	c.logger.Debug().Str("kind", string(kind)).Str("task_id", id).Msg("taskapi: task created")
	return id, nil
}

// CheckStatus returns the task document untouched.
func (c *Client) CheckStatus(ctx context.Context, taskID string) (domain.StatusReport, error) {
	endpoint := c.baseURL + "/tasks/" + url.PathEscape(strings.TrimSpace(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("taskapi: build request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return domain.StatusReport{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.StatusReport{}, fmt.Errorf("taskapi: decode task %s: %w", taskID, err)
	}
	return domain.StatusReport{Raw: doc}, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("taskapi: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("taskapi: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail createResponse
		if err := json.Unmarshal(raw, &detail); err == nil {
			if msg := errorMessage(detail.Error, detail.Message); msg != "" {
				return nil, fmt.Errorf("taskapi: status %d: %s", resp.StatusCode, msg)
			}
		}
		return nil, fmt.Errorf("taskapi: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func errorMessage(errField any, message string) string {
	switch e := errField.(type) {
	case string:
		if s := strings.TrimSpace(e); s != "" {
			return s
		}
	case map[string]any:
		for _, key := range []string{"message", "msg"} {
			if s, ok := e[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return strings.TrimSpace(message)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

var _ domain.ProviderClient = (*Client)(nil)
