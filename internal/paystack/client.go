// Package paystack is a client for the Paystack REST API: transaction verification and
// listing, customers, dedicated virtual accounts and bank-transfer charges.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"billpay-wallet/internal/errors"
)

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a Paystack client that issues at most requestsPerSecond calls.
func NewClient(baseURL, secretKey string, requestsPerSecond float64, logger *slog.Logger) *Client {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		SecretKey: secretKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		logger:  logger.With("component", "paystack_client"),
	}
}

// envelope is the wrapper Paystack puts around every response body.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    *Meta           `json:"meta,omitempty"`
}

type Meta struct {
	Total     int `json:"total"`
	Page      int `json:"page"`
	PageCount int `json:"pageCount"`
}

// APIError is a non-2xx answer from Paystack. It unwraps to ProviderUnavailable for
// 5xx responses and ProviderDeclined otherwise.
type APIError struct {
	StatusCode int
	Message    string
	cause      *errors.AppError
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack api error: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

func newAPIError(statusCode int, message string) *APIError {
	cause := errors.ErrProviderDeclined
	if statusCode >= http.StatusInternalServerError || statusCode == http.StatusTooManyRequests {
		cause = errors.ErrProviderUnavailable
	}
	return &APIError{
		StatusCode: statusCode,
		Message:    message,
		cause:      cause.WithDetails(message),
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload interface{}, out interface{}) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.ErrProviderUnavailable.WithDetails(err.Error())
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s request: %w", path, err)
		}
		body = bytes.NewReader(raw)
	}

	endpoint := c.BaseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("Paystack request failed", "method", method, "path", path, "error", err)
		return nil, errors.ErrProviderUnavailable.WithDetails(err.Error())
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ErrProviderUnavailable.WithDetails(err.Error())
	}

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := env.Message
		if decodeErr != nil || message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		c.logger.Warn("Paystack returned non-2xx",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
			"message", message,
			"duration", time.Since(start))
		return &env, newAPIError(resp.StatusCode, message)
	}
	if decodeErr != nil {
		return nil, errors.ErrProviderUnavailable.WithDetails("undecodable response: " + decodeErr.Error())
	}
	if !env.Status {
		return &env, newAPIError(resp.StatusCode, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return nil, errors.ErrProviderUnavailable.WithDetails("undecodable data: " + err.Error())
		}
	}

	c.logger.Debug("Paystack request completed", "method", method, "path", path, "duration", time.Since(start))
	return &env, nil
}
