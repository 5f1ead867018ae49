package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Nubiru/bhaskara-sub000/internal/model"
)

// Common errors.
var (
	ErrBadRequest      = errors.New("http: request rejected")
	ErrNotFound        = errors.New("http: resource not found")
	ErrForbidden       = errors.New("http: access forbidden")
	ErrUnauthorized    = errors.New("http: unauthorized")
	ErrRateLimited     = errors.New("http: rate limited")
	ErrServerError     = errors.New("http: server error")
	ErrPayloadTooLarge = errors.New("http: payload exceeds size limit")
	ErrMalformedJSON   = errors.New("http: malformed json response")
)

// ReportPath is the backend endpoint that produces export payloads.
const ReportPath = "/api/v1/reports"

// HealthPath is the backend liveness endpoint.
const HealthPath = "/health"

// Options configures the HTTP client.
type Options struct {
	// BaseURL is the report backend root, e.g. http://localhost:8000.
	BaseURL string

	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout for individual requests, including reading the body.
	// Default: 60s
	Timeout time.Duration

	// RetryAttempts is the maximum number of retry attempts.
	// Default: 3
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 500ms
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 10s
	RetryMaxBackoff time.Duration

	// RateLimit caps requests per second to the backend. Zero disables it.
	RateLimit float64

	// Burst is the rate limiter bucket size.
	// Default: 1
	Burst int

	// MaxPayloadSize bounds the response body. Zero disables the check.
	MaxPayloadSize int64
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             60 * time.Second,
		RetryAttempts:       3,
		RetryBackoff:        500 * time.Millisecond,
		RetryMaxBackoff:     10 * time.Second,
		Burst:               1,
	}
}

// TransportError is returned when the backend cannot be reached, times out,
// or answers with a non-success status.
type TransportError struct {
	Op         string // "report" or "health"
	StatusCode int    // 0 when no response was received
	Timeout    bool
	Message    string // backend-provided detail, if any
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Timeout {
		b.WriteString(": timed out")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies the error as a timeout or a generic transport failure.
func (e *TransportError) ErrorKind() model.ErrorKind {
	if e.Timeout {
		return model.ErrorKindTimeout
	}
	return model.ErrorKindTransport
}

// ReportRequest is the JSON body sent to the report endpoint.
type ReportRequest struct {
	Format          string   `json:"format"`
	AnalysisIDs     []string `json:"analysis_ids"`
	IncludeCharts   bool     `json:"include_charts"`
	IncludeMetadata bool     `json:"include_metadata"`
}

// NewReportRequest builds the backend request for opts.
func NewReportRequest(opts model.Options) ReportRequest {
	return ReportRequest{
		Format:          string(opts.Format),
		AnalysisIDs:     opts.AnalysisIDs,
		IncludeCharts:   opts.IncludeCharts,
		IncludeMetadata: opts.IncludeMetadata,
	}
}

// Report is a backend response. Exactly one of Structured (for JSON
// responses) or Data (for ready-made payloads) is meaningful.
type Report struct {
	Structured any
	Data       []byte
	MIMEType   string
	Size       int64
}

// IsStructured reports whether the backend returned data that still needs
// rendering.
func (r *Report) IsStructured() bool {
	return r.Structured != nil
}

// ProgressFunc receives the running byte count of a response body. total is
// 0 when the backend did not announce a length.
type ProgressFunc func(received, total int64)

// Client talks to the report backend.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = def.RetryMaxBackoff
	}
	if opts.Burst <= 0 {
		opts.Burst = def.Burst
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
	}

	limiter := rate.NewLimiter(rate.Inf, opts.Burst)
	if opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), opts.Burst)
	}

	return &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts:    opts,
		limiter: limiter,
	}
}

// Report asks the backend to produce an export. onProgress, if non-nil, is
// called as the body streams in.
//
// Server errors, rate limiting and network failures are retried with
// exponential backoff. If ctx is cancelled the context's cause is returned
// unwrapped.
func (c *Client) Report(ctx context.Context, req ReportRequest, onProgress ProgressFunc) (*Report, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		report, err := c.report(ctx, body, onProgress)
		if err == nil {
			return report, nil
		}
		if ctx.Err() != nil {
			return nil, c.contextError(ctx, "report")
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("report request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

func (c *Client) report(ctx context.Context, body []byte, onProgress ProgressFunc) (*Report, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, c.contextError(ctx, "report")
		}
		// the wait would outlast ctx's deadline
		return nil, &TransportError{Op: "report", Timeout: true, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL+ReportPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError("report", err)
	}
	defer resp.Body.Close()

	if err := checkResponse("report", resp); err != nil {
		return nil, err
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	if c.opts.MaxPayloadSize > 0 && total > c.opts.MaxPayloadSize {
		return nil, &TransportError{Op: "report", StatusCode: resp.StatusCode, Err: ErrPayloadTooLarge}
	}

	if onProgress != nil {
		onProgress(0, total)
	}
	var r io.Reader = &countingReader{r: resp.Body, total: total, fn: onProgress}
	if c.opts.MaxPayloadSize > 0 {
		r = io.LimitReader(r, c.opts.MaxPayloadSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, transportError("report", err)
	}
	if c.opts.MaxPayloadSize > 0 && int64(len(data)) > c.opts.MaxPayloadSize {
		return nil, &TransportError{Op: "report", StatusCode: resp.StatusCode, Err: ErrPayloadTooLarge}
	}

	mediaType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}

	report := &Report{MIMEType: mediaType, Size: int64(len(data))}
	if !isJSON(mediaType) {
		report.Data = data
		return report, nil
	}

	structured, err := decodeStructured(data)
	if err != nil {
		return nil, &TransportError{Op: "report", StatusCode: resp.StatusCode, Err: err}
	}
	report.Structured = structured
	return report, nil
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	var lastErr error

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.BaseURL+HealthPath, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return c.contextError(ctx, "health")
			}
			lastErr = transportError("health", err)
			continue
		}
		err = checkResponse("health", resp)
		resp.Body.Close()
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("health check failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// contextError converts a done ctx into the error returned to callers.
// Deadlines become timeouts; cancellation returns the cause as is.
func (c *Client) contextError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TransportError{Op: op, Timeout: true, Err: context.DeadlineExceeded}
	}
	return context.Cause(ctx)
}

// backoff waits for an exponentially increasing duration with jitter.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	backoff := c.opts.RetryBackoff * time.Duration(1<<uint(attempt-1))
	if backoff > c.opts.RetryMaxBackoff {
		backoff = c.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	t := time.NewTimer(jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return c.contextError(ctx, "backoff")
	case <-t.C:
		return nil
	}
}

func transportError(op string, err error) *TransportError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout())
	return &TransportError{Op: op, Timeout: timeout, Err: err}
}

// retryable reports whether a failed attempt may succeed when repeated.
func retryable(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return false
	}
	switch {
	case te.StatusCode == 0:
		return !errors.Is(te.Err, ErrPayloadTooLarge)
	case te.StatusCode >= 500, te.StatusCode == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// checkResponse returns a TransportError for non-success responses,
// including any detail message from the body.
func checkResponse(op string, resp *http.Response) error {
	err := checkStatusCode(resp.StatusCode)
	if err == nil {
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	return &TransportError{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(snippet),
		Err:        err,
	}
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusBadRequest, code == http.StatusUnprocessableEntity:
		return ErrBadRequest
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return fmt.Errorf("%w: %d", ErrServerError, code)
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}

// errorMessage extracts a human readable message from a backend error body.
// It understands {"detail": "..."}, {"message": "..."} and
// {"error": {"message": "..."}}; anything else is returned trimmed.
func errorMessage(body []byte) string {
	var doc struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &doc); err == nil {
		switch {
		case doc.Error.Message != "":
			return doc.Error.Message
		case doc.Message != "":
			return doc.Message
		case doc.Detail != nil:
			if s, ok := doc.Detail.(string); ok {
				return s
			}
			b, _ := json.Marshal(doc.Detail)
			return string(b)
		}
	}
	return strings.TrimSpace(string(body))
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// envelopeKeys are the members allowed next to "data" in a response
// envelope such as {"success": true, "data": ..., "error": null}.
var envelopeKeys = map[string]bool{"data": true, "success": true, "error": true, "message": true}

// decodeStructured decodes a JSON body, unwrapping a response envelope.
func decodeStructured(data []byte) (any, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	if obj, ok := v.(map[string]any); ok && isEnvelope(obj) {
		if success, isBool := obj["success"].(bool); isBool && !success {
			return nil, fmt.Errorf("%w: backend reported failure: %v", ErrServerError, obj["error"])
		}
		v = obj["data"]
	}
	if v == nil {
		return nil, fmt.Errorf("%w: null result", ErrMalformedJSON)
	}
	return v, nil
}

func isEnvelope(obj map[string]any) bool {
	if _, ok := obj["data"]; !ok {
		return false
	}
	for k := range obj {
		if !envelopeKeys[k] {
			return false
		}
	}
	return true
}

// countingReader reports the running byte count to fn.
type countingReader struct {
	r     io.Reader
	n     int64
	total int64
	fn    ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += int64(n)
		if c.fn != nil {
			c.fn(c.n, c.total)
		}
	}
	return n, err
}
