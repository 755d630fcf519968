// Package odesli is the HTTP client for the song.link aggregation API.
package odesli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL     = "https://api.song.link/v1-alpha.1"
	DefaultUserCountry = "FR"
	DefaultTimeout     = 10 * time.Second
	defaultUserAgent   = "SmartLink/1.0 (https://mdmcmusicads.com)"
	maxResponseBytes   = 4 << 20
)

var (
	// ErrNotFound indicates the upstream has no data for the source URL.
	ErrNotFound = errors.New("odesli: not found on resolution service")
	// ErrUpstreamRateLimited indicates the upstream refused the call with 429.
	ErrUpstreamRateLimited = errors.New("odesli: upstream rate limited")
	// ErrTimeout indicates the call exceeded the configured timeout.
	ErrTimeout = errors.New("odesli: request timed out")
	// ErrMalformedResponse indicates a body that could not be decoded.
	ErrMalformedResponse = errors.New("odesli: malformed response")

	errMissingSourceURL = errors.New("odesli: source url required")
)

// StatusError reports a non-2xx upstream status.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("odesli: upstream status %d", e.Status)
}

// Is maps well-known statuses onto the package sentinels.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUpstreamRateLimited:
		return e.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// ClientConfig configures the aggregation API client.
type ClientConfig struct {
	BaseURL     string
	UserCountry string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      *zap.Logger
}

// Result carries the raw body alongside its decoded form.
type Result struct {
	Raw      []byte
	Response Response
}

// Client calls the links endpoint.
type Client struct {
	endpoint    string
	userCountry string
	timeout     time.Duration
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewClient constructs a Client with defaults applied.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("odesli: invalid base url: %w", err)
	}
	country := strings.TrimSpace(cfg.UserCountry)
	if country == "" {
		country = DefaultUserCountry
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint:    baseURL + "/links",
		userCountry: country,
		timeout:     timeout,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// FetchLinks issues a single call for sourceURL bounded by the configured timeout.
func (c *Client) FetchLinks(ctx context.Context, sourceURL string) (Result, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return Result{}, errMissingSourceURL
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := url.Values{}
	query.Set("url", sourceURL)
	query.Set("userCountry", c.userCountry)
	query.Set("songIfSingle", "true")

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	response, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(callCtx, err) {
			return Result{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return Result{}, fmt.Errorf("odesli: request failed: %w", err)
	}
	defer response.Body.Close()

	c.logger.Debug("odesli response",
		zap.String("source_url", sourceURL),
		zap.Int("status", response.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if response.StatusCode < 200 || response.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBytes))
		return Result{}, &StatusError{Status: response.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(callCtx, err) {
			return Result{}, fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
		}
		return Result{}, fmt.Errorf("odesli: read body: %w", err)
	}

	decoded, err := Decode(raw)
	if err != nil {
		return Result{}, err
	}
	return Result{Raw: raw, Response: decoded}, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
