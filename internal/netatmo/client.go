package netatmo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL      = "https://api.netatmo.com"
	DefaultMaxBodyBytes = 1 << 20

	tokenPath   = "/oauth2/token"
	stationPath = "/api/getstationsdata"
	measurePath = "/api/getmeasure"

	formContentType = "application/x-www-form-urlencoded;charset=utf-8"
)

// ErrTokenRejected marks responses refusing the bearer token: status 401 or
// API error code 2 (invalid token) or 3 (expired token).
var ErrTokenRejected = errors.New("access token rejected")

var (
	errNoHTTPClient = errors.New("http client not configured")
	errCircuitOpen  = errors.New("circuit breaker open")
	errBodyTooLarge = errors.New("response body exceeds size limit")
)

// ClientConfig bundles the HTTP client and response limits.
type ClientConfig struct {
	HTTPClient   *http.Client
	BaseURL      string
	MaxBodyBytes int64
}

// Client performs single form-encoded POST exchanges against the cloud API.
// It never retries; the poll loop owns retry policy.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	maxBodyBytes int64
	circuit      *gobreaker.CircuitBreaker
	logger       *zap.Logger
}

// NewClient builds a Client. Zero values in cfg fall back to defaults.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "netatmo",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 10
		},
		IsSuccessful: func(err error) bool {
			// Only transport-level failures count against the breaker.
			return err == nil || KindOf(err) != KindNetwork
		},
	})

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		httpClient:   cfg.HTTPClient,
		baseURL:      baseURL,
		maxBodyBytes: maxBody,
		circuit:      cb,
		logger:       logger.Named("client"),
	}
}

type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Post sends params to path and decodes the JSON response into out.
func (c *Client) Post(ctx context.Context, path string, params url.Values, headers map[string]string, out any) error {
	op := "post " + path
	if c.httpClient == nil {
		return networkError(op, errNoHTTPClient)
	}

	c.logger.Debug("request", zap.String("path", path), zap.Strings("params", redactedKeys(params)))

	result, err := c.circuit.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(params.Encode()))
		if err != nil {
			return nil, networkError(op, err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Content-Type", formContentType)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, networkError(op, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodyBytes+1))
		if err != nil {
			return nil, networkError(op, fmt.Errorf("read body: %w", err))
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, networkError(op, statusError(resp, body))
		}

		if int64(len(body)) > c.maxBodyBytes {
			return nil, protocolError(op, fmt.Errorf("%w (%d bytes)", errBodyTooLarge, c.maxBodyBytes))
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return networkError(op, fmt.Errorf("%w: %v", errCircuitOpen, err))
		}
		return err
	}

	body, ok := result.([]byte)
	if !ok {
		return protocolError(op, errors.New("unexpected result type from circuit breaker"))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return protocolError(op, fmt.Errorf("decode body: %w", err))
	}
	return nil
}

func statusError(resp *http.Response, body []byte) error {
	var apiErr apiErrorBody
	hasAPIErr := json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != ""

	var err error
	if hasAPIErr {
		err = fmt.Errorf("status %d: %s (code %d)", resp.StatusCode, apiErr.Error.Message, apiErr.Error.Code)
	} else {
		err = fmt.Errorf("unexpected status %s", resp.Status)
	}

	code := apiErr.Error.Code
	if resp.StatusCode == http.StatusUnauthorized || (hasAPIErr && (code == 2 || code == 3)) {
		return fmt.Errorf("%w: %w", ErrTokenRejected, err)
	}
	return err
}

// redactedKeys lists parameter names without their values; the form carries
// secrets.
func redactedKeys(params url.Values) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	return keys
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
