// Package wpcom implements the remotes in package wp against the
// WordPress.com REST API and the public plugin directory.
package wpcom

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

	"wpsync/internal/config"
	"wpsync/internal/wp"
)

const maxResponseBytes = 10 << 20

const (
	apiVersion1_1 = "rest/v1.1/"
	apiVersion1_2 = "rest/v1.2/"
)

var ErrDecodingFailure = errors.New("unexpected response body")

// APIError is a non-2xx answer from the REST API.
type APIError struct {
	StatusCode int
	Code       string // e.g. "authorization_required"
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	if e.Message == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	HTTPClient *http.Client // defaults to a client with Timeout
	Logger     wp.Logger
}

// OptionsFromConfig builds Options for the WordPress.com API.
func OptionsFromConfig(cfg config.APIConfig, logger wp.Logger) Options {
	return Options{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:    logger,
	}
}

// Client issues authenticated requests against one base URL.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	http      *http.Client
	logger    wp.Logger
}

// NewClient returns a Client that authenticates with token. An empty token
// sends unauthenticated requests.
func NewClient(opts Options, token string) (*Client, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = config.DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base url %q: %w", raw, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", raw)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = wp.NewNopLogger()
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	return &Client{
		base:      base,
		token:     token,
		userAgent: userAgent,
		http:      httpClient,
		logger:    logger,
	}, nil
}

// get decodes the JSON answer of GET path into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

// post sends body as JSON and decodes the answer into out, if out is non-nil.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	if body == nil {
		return c.send(ctx, method, path, query, nil, "", out)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", path, err)
	}
	return c.send(ctx, method, path, query, bytes.NewReader(payload), "application/json", out)
}

// send issues the request with body sent as contentType and decodes the
// JSON answer into out, if out is non-nil. A body that is an io.Closer is
// closed in every case.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	endpoint := c.base.JoinPath(path)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		if closer, ok := body.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("creating request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("api request", "method", method, "path", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading response of %s: %w", path, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload errorResponse
		if json.Unmarshal(data, &payload) == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		}
		c.logger.Debug("api error", "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response of %s: %w: %v", path, ErrDecodingFailure, err)
	}
	return nil
}
