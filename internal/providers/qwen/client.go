package qwen

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

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// ErrUnsupportedKind is returned for kinds DashScope has no async task for.
var ErrUnsupportedKind = errors.New("qwen: unsupported generation kind")

const (
	imageSynthesisPath = "/services/aigc/text2image/image-synthesis"
	videoSynthesisPath = "/services/aigc/video-generation/video-synthesis"
	imageEditPath      = "/services/aigc/image2image/image-synthesis"
)

// Options configures the DashScope async task client.
type Options struct {
	APIKey         string
	BaseURL        string
	ImageModel     string
	VideoModel     string
	EditModel      string
	DefaultSize    string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits DashScope async generation tasks and reads their status.
type Client struct {
	apiKey       string
	baseURL      string
	imageModel   string
	videoModel   string
	editModel    string
	defaultSize  string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       *infra.Logger
}

type taskRequest struct {
	Model      string     `json:"model"`
	Input      taskInput  `json:"input"`
	Parameters taskParams `json:"parameters"`
}

type taskInput struct {
	Prompt         string   `json:"prompt,omitempty"`
	NegativePrompt string   `json:"negative_prompt,omitempty"`
	ImgURL         string   `json:"img_url,omitempty"`
	BaseImageURL   string   `json:"base_image_url,omitempty"`
	RefImages      []string `json:"ref_images,omitempty"`
	Function       string   `json:"function,omitempty"`
}

type taskParams struct {
	Size         string `json:"size,omitempty"`
	N            int    `json:"n,omitempty"`
	PromptExtend *bool  `json:"prompt_extend,omitempty"`
	Watermark    *bool  `json:"watermark,omitempty"`
	Seed         *int   `json:"seed,omitempty"`
}

type taskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("qwen: invalid base url: %w", err)
	}
	defaultSize := strings.TrimSpace(opts.DefaultSize)
	if defaultSize == "" {
		defaultSize = "1024*1024"
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
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		imageModel:   orDefault(opts.ImageModel, "wanx2.1-t2i-turbo"),
		videoModel:   orDefault(opts.VideoModel, "wanx2.1-i2v-turbo"),
		editModel:    orDefault(opts.EditModel, "wanx2.1-imageedit"),
		defaultSize:  defaultSize,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       logger,
	}, nil
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Supports reports whether kind maps onto a DashScope async task.
func (c *Client) Supports(kind domain.Kind) bool {
	switch kind {
	case domain.KindImage, domain.KindVideo, domain.KindBlend, domain.KindAction:
		return true
	}
	return false
}

// Create submits an async task and returns its DashScope task id.
func (c *Client) Create(ctx context.Context, kind domain.Kind, payload domain.Payload) (string, error) {
	if !c.HasCredentials() {
		return "", ErrMissingAPIKey
	}
	path, body, err := c.buildTask(kind, payload)
	if err != nil {
		return "", err
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("qwen: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("qwen: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	raw, err := c.do(req)
	if err != nil {
		return "", err
	}
	var decoded taskResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("qwen: decode response: %w", err)
	}
	if decoded.Code != "" {
		return "", fmt.Errorf("qwen: %s (%s)", decoded.Message, decoded.Code)
	}
	taskID := strings.TrimSpace(decoded.Output.TaskID)
	if taskID == "" {
		return "", errors.New("qwen: empty task id")
	}
	c.logger.Debug().
		Str("kind", string(kind)).
		Str("model", body.Model).
		Str("task_id", taskID).
		Str("request_id", decoded.RequestID).
		Msg("qwen: task created")
	return taskID, nil
}

// CheckStatus fetches the task document. The raw payload is returned as is;
// output.task_status is surfaced as the report status.
func (c *Client) CheckStatus(ctx context.Context, taskID string) (domain.StatusReport, error) {
	if !c.HasCredentials() {
		return domain.StatusReport{}, ErrMissingAPIKey
	}
	endpoint := c.baseURL + "/tasks/" + url.PathEscape(strings.TrimSpace(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("qwen: build request: %w", err)
	}
	raw, err := c.do(req)
	if err != nil {
		return domain.StatusReport{}, err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.StatusReport{}, fmt.Errorf("qwen: decode task: %w", err)
	}
	report := domain.StatusReport{Raw: doc}
	if output, ok := doc["output"].(map[string]any); ok {
		if s, ok := output["task_status"].(string); ok {
			report.Status = s
		}
	}
	return report, nil
}

func (c *Client) buildTask(kind domain.Kind, p domain.Payload) (string, taskRequest, error) {
	refs := trimmed(p.ReferenceURLs)
	size := strings.TrimSpace(p.AspectRatio)
	if size == "" || !strings.Contains(size, "*") {
		size = c.defaultSize
	}
	params := taskParams{Size: size}
	if c.promptExtend {
		extend := true
		params.PromptExtend = &extend
	}
	watermark := c.watermark
	params.Watermark = &watermark
	if seed, ok := p.Style["seed"].(float64); ok && seed > 0 {
		s := int(seed)
		params.Seed = &s
	}
	input := taskInput{
		Prompt:         strings.TrimSpace(p.Prompt),
		NegativePrompt: strings.TrimSpace(p.NegativePrompt),
	}

	switch kind {
	case domain.KindImage:
		params.N = 1
		return imageSynthesisPath, taskRequest{Model: c.imageModel, Input: input, Parameters: params}, nil
	case domain.KindVideo:
		if len(refs) > 0 {
			input.ImgURL = refs[0]
		}
		params.Size = ""
		return videoSynthesisPath, taskRequest{Model: c.videoModel, Input: input, Parameters: params}, nil
	case domain.KindBlend:
		if len(refs) < 2 {
			return "", taskRequest{}, fmt.Errorf("qwen: blend needs 2 reference images, got %d", len(refs))
		}
		input.Function = "blend"
		input.BaseImageURL = refs[0]
		input.RefImages = refs[1:]
		params.N = 1
		return imageEditPath, taskRequest{Model: c.editModel, Input: input, Parameters: params}, nil
	case domain.KindAction:
		if len(refs) == 0 {
			return "", taskRequest{}, errors.New("qwen: action needs the parent image as reference")
		}
		input.Function = strings.ToLower(strings.TrimSpace(p.Action))
		input.BaseImageURL = refs[0]
		params.N = 1
		return imageEditPath, taskRequest{Model: c.editModel, Input: input, Parameters: params}, nil
	default:
		return "", taskRequest{}, fmt.Errorf("%w: %s", ErrUnsupportedKind, kind)
	}
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qwen: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("qwen: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("qwen: %s (%s)", detail.Message, detail.Code)
		}
		return nil, fmt.Errorf("qwen: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}

func trimmed(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var _ domain.ProviderClient = (*Client)(nil)
