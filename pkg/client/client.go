// Package client talks to a capture service over HTTP.
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 60 * time.Second

// ScreenshotRequest mirrors the POST /screenshot body. Zero fields are
// omitted so the server applies its defaults; Quality is a pointer because
// 0 is a valid quality.
type ScreenshotRequest struct {
	URL           string   `json:"url"`
	Width         int      `json:"width,omitempty"`
	Height        int      `json:"height,omitempty"`
	FullPage      bool     `json:"fullPage,omitempty"`
	Format        string   `json:"format,omitempty"`
	Quality       *int     `json:"quality,omitempty"`
	Timeout       int      `json:"timeout,omitempty"`
	WaitUntil     string   `json:"waitUntil,omitempty"`
	Delay         int      `json:"delay,omitempty"`
	Selector      string   `json:"selector,omitempty"`
	MaskSelectors []string `json:"maskSelectors,omitempty"`
	DeviceScale   float64  `json:"deviceScale,omitempty"`
	UseCache      *bool    `json:"useCache,omitempty"`
}

type ThumbnailRequest struct {
	URL      string `json:"url"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Format   string `json:"format,omitempty"`
	Quality  *int   `json:"quality,omitempty"`
	UseCache *bool  `json:"useCache,omitempty"`
}

// Quality returns a pointer to q for the request Quality fields.
func Quality(q int) *int {
	return &q
}

type Capture struct {
	Success  bool   `json:"success"`
	Cached   bool   `json:"cached"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Artifact struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
}

type Stats struct {
	CacheEntries    int    `json:"cacheEntries"`
	ValidEntries    int    `json:"validEntries"`
	ExpiredEntries  int    `json:"expiredEntries"`
	ScreenshotCount int    `json:"screenshotCount"`
	TotalSizeBytes  int64  `json:"totalSizeBytes"`
	TotalSizeMB     string `json:"totalSizeMB"`
}

type Health struct {
	Status        string `json:"status"`
	ActiveJobs    int    `json:"activeJobs"`
	MaxConcurrent int    `json:"maxConcurrent"`
	BrowserReady  bool   `json:"browserReady"`
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"error"`
	Code       string `json:"code"`
	URL        string `json:"url"`
}

func (e *APIError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("capture service: %d %s: %s (url: %s)", e.StatusCode, e.Code, e.Message, e.URL)
	}
	return fmt.Sprintf("capture service: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Rejected reports whether the service was at capacity.
func (e *APIError) Rejected() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type Client struct {
	r *resty.Client
}

// New returns a client for the service at baseURL. apiKey may be empty.
func New(baseURL, apiKey string) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		r.SetHeader("X-API-Key", apiKey)
	}
	return &Client{r: r}
}

// SetTimeout overrides DefaultTimeout.
func (c *Client) SetTimeout(d time.Duration) *Client {
	c.r.SetTimeout(d)
	return c
}

func (c *Client) Screenshot(ctx context.Context, req ScreenshotRequest) (*Capture, error) {
	var out Capture
	if err := c.do(ctx, http.MethodPost, "/screenshot", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Thumbnail(ctx context.Context, req ThumbnailRequest) (*Capture, error) {
	var out Capture
	if err := c.do(ctx, http.MethodPost, "/thumbnail", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) List(ctx context.Context) ([]Artifact, error) {
	var out struct {
		Screenshots []Artifact `json:"screenshots"`
	}
	if err := c.do(ctx, http.MethodGet, "/screenshots", nil, &out); err != nil {
		return nil, err
	}
	return out.Screenshots, nil
}

func (c *Client) Delete(ctx context.Context, filename string) error {
	return c.do(ctx, http.MethodDelete, "/screenshot/{filename}", nil, nil, filename)
}

// ClearCache drops every cache entry and returns how many were removed.
func (c *Client) ClearCache(ctx context.Context) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	if err := c.do(ctx, http.MethodPost, "/cache/clear", nil, &out); err != nil {
		return 0, err
	}
	return out.Cleared, nil
}

func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, "/cache/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Image downloads a stored artifact by filename.
func (c *Client) Image(ctx context.Context, filename string) ([]byte, error) {
	resp, err := c.r.R().
		SetContext(ctx).
		SetPathParam("filename", filename).
		Get("/screenshots/{filename}")
	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, fmt.Errorf("failed to fetch image: %s, %s", resp.Status(), resp.String())
	}

	return resp.Body(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any, filename ...string) error {
	apiErr := &APIError{}
	req := c.r.R().SetContext(ctx).SetError(apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}
	if len(filename) > 0 {
		req.SetPathParam("filename", filename[0])
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.IsError() {
		apiErr.StatusCode = resp.StatusCode()
		if apiErr.Message == "" {
			apiErr.Message = resp.Status()
		}
		return apiErr
	}

	return nil
}
