// Package deepblue is the HTTP client for the remote genomic region query
// service. Every call returns a two element [status, payload] envelope.
package deepblue

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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// StatusOkay is the envelope status of a successful call
const StatusOkay = "okay"

// Recorder receives one event per remote call. It may be nil.
type Recorder interface {
	RecordRemoteCall(ctx context.Context, endpoint, outcome string, duration time.Duration)
}

// Config configures the client
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
	UserAgent string
}

// Client talks to the remote query service
type Client struct {
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	agent   string
	logger  *slog.Logger
	metrics Recorder
	tracer  trace.Tracer
}

// Option customizes a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMetrics attaches a call recorder
func WithMetrics(r Recorder) Option {
	return func(c *Client) { c.metrics = r }
}

// NewClient creates a client for the service rooted at cfg.BaseURL
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", cfg.BaseURL)
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	agent := cfg.UserAgent
	if agent == "" {
		agent = "divecli/1.0"
	}

	c := &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		agent:  agent,
		logger: logger.With(slog.String("component", "deepblue")),
		tracer: otel.Tracer("divecli.deepblue"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RemoteError is a non-okay envelope returned by a simple call
type RemoteError struct {
	Endpoint string
	Status   string
	Message  string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s returned %s: %s", e.Endpoint, e.Status, e.Message)
}

// HTTPError is a non-2xx transport response
type HTTPError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// Envelope is the [status, payload] pair every call returns
type Envelope struct {
	Status  string
	Payload json.RawMessage
}

// UnmarshalJSON decodes the two element array form
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("envelope is not an array: %w", err)
	}
	if len(parts) == 0 {
		return fmt.Errorf("envelope is empty")
	}
	if err := json.Unmarshal(parts[0], &e.Status); err != nil {
		return fmt.Errorf("envelope status is not a string: %w", err)
	}
	if len(parts) > 1 {
		e.Payload = parts[1]
	}
	return nil
}

// MarshalJSON encodes the two element array form
func (e Envelope) MarshalJSON() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return json.Marshal([]interface{}{e.Status, payload})
}

// Okay reports whether the call succeeded
func (e Envelope) Okay() bool {
	return e.Status == StatusOkay
}

// message renders a non-okay payload for errors
func (e Envelope) message() string {
	var s string
	if err := json.Unmarshal(e.Payload, &s); err == nil {
		return s
	}
	return string(e.Payload)
}

// get issues a GET request and decodes the envelope
func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (Envelope, error) {
	return c.do(ctx, http.MethodGet, endpoint, params, nil)
}

// post issues a JSON POST request and decodes the envelope
func (c *Client) post(ctx context.Context, endpoint string, body interface{}) (Envelope, error) {
	return c.do(ctx, http.MethodPost, endpoint, nil, body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, params url.Values, body interface{}) (env Envelope, err error) {
	ctx, span := c.tracer.Start(ctx, "deepblue."+endpoint,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("deepblue.endpoint", endpoint),
			attribute.String("http.method", method),
		),
	)
	start := time.Now()
	defer func() {
		outcome := "okay"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if !env.Okay() {
			outcome = env.Status
		}
		span.SetAttributes(attribute.String("deepblue.outcome", outcome))
		span.End()
		if c.metrics != nil {
			c.metrics.RecordRemoteCall(ctx, endpoint, outcome, time.Since(start))
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return env, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	u := c.base.ResolveReference(&url.URL{Path: endpoint})
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return env, fmt.Errorf("failed to encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return env, fmt.Errorf("failed to create %s request: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.agent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "remote call failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return env, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return env, fmt.Errorf("failed to read %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return env, &HTTPError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}

	c.logger.DebugContext(ctx, "remote call",
		slog.String("endpoint", endpoint),
		slog.String("status", env.Status),
		slog.Duration("duration", time.Since(start)),
	)
	return env, nil
}

// id decodes an okay envelope carrying an identifier
func id(endpoint string, env Envelope) (string, error) {
	if !env.Okay() {
		return "", &RemoteError{Endpoint: endpoint, Status: env.Status, Message: env.message()}
	}
	var s string
	if err := json.Unmarshal(env.Payload, &s); err != nil {
		return "", fmt.Errorf("%s returned a non-string id: %w", endpoint, err)
	}
	return s, nil
}
