// Package provider talks to the hosted text-generation endpoint.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/alibi/internal/apperr"
	"github.com/kalambet/alibi/internal/sanitize"
)

const (
	DefaultEndpoint = "https://api-inference.huggingface.co/models/mistralai/Mixtral-8x7B-Instruct-v0.1"

	defaultTimeout        = 60 * time.Second
	defaultInitialBackoff = time.Second
	maxAttempts           = 3
	maxResponseSize       = 1 << 20
)

// DefaultParameters matches the sampling settings the prompts were tuned for.
var DefaultParameters = Parameters{MaxNewTokens: 100, Temperature: 0.7, TopP: 0.9}

// Client sends prompts to the inference endpoint.
type Client struct {
	token          string
	endpoint       string
	params         Parameters
	httpClient     *http.Client
	initialBackoff time.Duration
	logger         *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithEndpoint overrides the inference URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = strings.TrimRight(endpoint, "/")
		}
	}
}

// WithParameters overrides the sampling parameters.
func WithParameters(p Parameters) Option {
	return func(c *Client) { c.params = p }
}

// WithTimeout sets the per-attempt HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithInitialBackoff sets the delay before the second attempt (for testing).
func WithInitialBackoff(d time.Duration) Option {
	return func(c *Client) { c.initialBackoff = d }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client authenticating with the given bearer token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		token:          token,
		endpoint:       DefaultEndpoint,
		params:         DefaultParameters,
		httpClient:     &http.Client{Timeout: defaultTimeout},
		initialBackoff: defaultInitialBackoff,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete generates text for prompt and returns it sanitized. A response
// that sanitizes to nothing is reported as malformed.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	raw, err := c.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text := sanitize.Clean(raw)
	if text == "" {
		return "", apperr.New(apperr.KindProviderMalformedResponse, "provider returned no usable text")
	}
	return text, nil
}

// Generate sends prompt and returns the raw generated_text. Transient
// statuses (429, 500, 502, 503, 504) are retried with exponential backoff;
// every other failure is returned immediately.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(InferenceRequest{Inputs: prompt, Parameters: c.params})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxAttempts {
		data, err := c.post(ctx, body)
		if err == nil {
			return parseGeneratedText(data)
		}

		var te *transientError
		if !errors.As(err, &te) {
			return "", apperr.Wrap(err, apperr.KindProviderUnavailable, "text provider request failed")
		}

		lastErr = err
		if attempt < maxAttempts-1 {
			backoff := c.initialBackoff << attempt
			c.logger.Warn("text provider busy, retrying", "status", te.status, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", apperr.Wrap(ctx.Err(), apperr.KindProviderUnavailable, "text provider request cancelled")
			case <-time.After(backoff):
			}
		}
	}

	return "", apperr.Wrap(lastErr, apperr.KindProviderUnavailable, "text provider unavailable after %d attempts", maxAttempts)
}

// transientError marks a response status worth retrying.
type transientError struct {
	status int
}

func (e *transientError) Error() string {
	return fmt.Sprintf("transient provider status %d", e.status)
}

func isTransient(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if isTransient(resp.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize))
		return nil, &transientError{status: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

// parseGeneratedText accepts either [{"generated_text": ...}, ...] or
// {"generated_text": ...}.
func parseGeneratedText(data []byte) (string, error) {
	trimmed := bytes.TrimSpace(data)

	var g generation
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []generation
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return "", apperr.Wrap(err, apperr.KindProviderMalformedResponse, "decoding provider response")
		}
		if len(list) == 0 {
			return "", apperr.New(apperr.KindProviderMalformedResponse, "provider returned an empty list")
		}
		g = list[0]
	} else if err := json.Unmarshal(trimmed, &g); err != nil {
		return "", apperr.Wrap(err, apperr.KindProviderMalformedResponse, "decoding provider response")
	}

	if g.GeneratedText == nil {
		return "", apperr.New(apperr.KindProviderMalformedResponse, "provider response has no generated_text")
	}
	return *g.GeneratedText, nil
}
