package docservice

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

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

const (
	// DefaultTimeout bounds one logical call, retries included.
	DefaultTimeout = 30 * time.Second

	defaultMaxTries  = 4
	maxResponseBytes = 1 << 20
)

// Config holds document-service client configuration.
type Config struct {
	// BaseURL is the service root, without a trailing slash.
	BaseURL string

	// Timeout bounds each logical call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxTries caps attempts per call, first try included.
	MaxTries uint

	// HTTPClient optionally replaces the transport. Cancellation and
	// timeouts ride on the request context either way.
	HTTPClient *http.Client

	// TokenSource optionally supplies bearer tokens for Authorization.
	TokenSource oauth2.TokenSource

	UserAgent string
	Logger    zerolog.Logger
}

// DefaultConfig returns a client configuration for local development.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8080",
		Timeout:   DefaultTimeout,
		MaxTries:  defaultMaxTries,
		UserAgent: "inkseal",
	}
}

// Client calls the document service. Construct with NewClient and inject it
// where needed; it is safe for concurrent use.
type Client struct {
	cfg     Config
	baseURL string
}

func NewClient(cfg Config) *Client {
	def := DefaultConfig()

	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = def.MaxTries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	return &Client{cfg: cfg, baseURL: strings.TrimRight(cfg.BaseURL, "/")}
}

// FetchSignableData retrieves the signing task for one (instance, field)
// pair. The data is always fetched fresh: responses are never cached, since
// every payload carries its own expiry.
func (c *Client) FetchSignableData(ctx context.Context, instanceID, signatureField string) (*SignableData, error) {
	endpoint := fmt.Sprintf("%s/signatures/instances/%s/signable-data/%s",
		c.baseURL, url.PathEscape(instanceID), url.PathEscape(signatureField))

	var data SignableData
	if err := c.doJSON(ctx, "fetch signable data", http.MethodGet, endpoint, nil, &data); err != nil {
		return nil, err
	}

	return &data, nil
}

// SubmitSignature delivers a finished signature package. When the service
// replies success=false the response is returned together with a
// *SubmissionRejectedError so the caller can record the rejection.
func (c *Client) SubmitSignature(ctx context.Context, instanceID, signatureField string, submission Submission) (*SubmissionResponse, error) {
	endpoint := fmt.Sprintf("%s/signatures/instances/%s/signatures/%s",
		c.baseURL, url.PathEscape(instanceID), url.PathEscape(signatureField))

	body, err := json.Marshal(submission)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %w", err)
	}

	var resp SubmissionResponse
	if err := c.doJSON(ctx, "submit signature", http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}

	if !resp.Success {
		return &resp, &SubmissionRejectedError{Message: resp.Message, Response: &resp}
	}

	return &resp, nil
}

// Retryable reports whether the error came from a call worth repeating.
func Retryable(err error) bool {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return netErr.Retryable()
	}

	return false
}

func (c *Client) doJSON(ctx context.Context, op, method, endpoint string, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	requestID := uuid.New().String() // Idempotency token, stable across retries

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		req.Header.Set("X-Request-Id", requestID)
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}

		if c.cfg.TokenSource != nil {
			token, err := c.cfg.TokenSource.Token()
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("failed to obtain access token: %w", err))
			}
			token.SetAuthHeader(req)
		}

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, &NetworkError{Op: op, Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, &NetworkError{Op: op, Err: err}
		}

		switch {
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, &NetworkError{Op: op, StatusCode: resp.StatusCode, Message: serviceMessage(data)}
		case resp.StatusCode >= http.StatusBadRequest:
			// Client errors will not heal on retry.
			return nil, backoff.Permanent(&NetworkError{Op: op, StatusCode: resp.StatusCode, Message: serviceMessage(data)})
		}

		return data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.cfg.MaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			c.cfg.Logger.Debug().
				Err(err).
				Dur("backoff", wait).
				Str("operation", op).
				Msg("retrying document service call")
		}),
	)
	if err != nil {
		var netErr *NetworkError
		if errors.As(err, &netErr) {
			return netErr
		}

		return &NetworkError{Op: op, Err: err}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
	}

	return nil
}

func serviceMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
	}

	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}

	return payload.Message
}
