package tankapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/torosent/tankpilot/internal/tracing"
)

const maxReplyBytes = 8 << 20

// Operation names used for metrics and spans.
const (
	OpStatus        = "status"
	OpSessionStatus = "session_status"
	OpStart         = "start"
	OpContinue      = "continue"
	OpStop          = "stop"
	OpArtifacts     = "artifacts"
	OpArtifact      = "artifact"
)

// Recorder receives one observation per HTTP attempt.
type Recorder interface {
	RecordCall(op string, latency time.Duration, err error)
}

// FailureLogger logs failed calls.
type FailureLogger interface {
	LogFailure(err error)
}

// Options configure a Client.
type Options struct {
	BaseURL       string
	Timeout       time.Duration // per attempt; 0 means no timeout
	HTTPClient    *http.Client  // optional; overrides Timeout
	Retry         RetryPolicy
	RatePerSecond int // client-side cap on calls per second (0 means unlimited)
	Tracer        trace.Tracer
	Propagate     bool // inject W3C trace headers
	Recorder      Recorder
	Logger        FailureLogger
}

// Client talks to one tank API endpoint. It is safe for concurrent use.
type Client struct {
	base      *url.URL
	http      *http.Client
	retry     RetryPolicy
	limiter   *rate.Limiter
	tracer    trace.Tracer
	propagate bool
	recorder  Recorder
	logger    FailureLogger
}

// New validates opts and builds a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		return nil, errors.New("tank api base URL is required")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid tank api URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid tank api URL %q: scheme must be http or https", opts.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid tank api URL %q: missing host", opts.BaseURL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(opts.Timeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RatePerSecond)
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("tankpilot")
	}

	return &Client{
		base:      base,
		http:      httpClient,
		retry:     opts.Retry,
		limiter:   limiter,
		tracer:    tracer,
		propagate: opts.Propagate,
		recorder:  opts.Recorder,
		logger:    opts.Logger,
	}, nil
}

// NewHTTPClient returns an http.Client tuned for a small number of
// long-lived API connections.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// BaseURL returns the endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Status fetches every session known to the tank.
func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	body, err := c.get(ctx, OpStatus, "/status", nil)
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(body)
}

// SessionStatus fetches a single session.
func (c *Client) SessionStatus(ctx context.Context, sessionID string) (SessionStatus, error) {
	if sessionID == "" {
		return SessionStatus{}, errors.New("session id is required")
	}
	body, err := c.get(ctx, OpSessionStatus, "/status", url.Values{"session": {sessionID}})
	if err != nil {
		return SessionStatus{}, err
	}
	root, err := parseObject(body, "session status")
	if err != nil {
		return SessionStatus{}, err
	}
	return decodeSessionStatus(root), nil
}

// Start creates a new session. It is never retried: a lost reply may still
// have started a test on the tank.
func (c *Client) Start(ctx context.Context, req StartRequest) (RunReply, error) {
	query := url.Values{}
	if req.Breakpoint != "" {
		query.Set("break", req.Breakpoint)
	}
	if req.TestID != "" {
		query.Set("test", req.TestID)
	}
	body, err := c.once(ctx, OpStart, http.MethodPost, "/run", query, req.Config, "")
	if err != nil {
		return RunReply{}, err
	}
	return decodeRunReply(body)
}

// Continue moves the breakpoint of an existing session. An empty breakpoint
// lets the session run to completion.
func (c *Client) Continue(ctx context.Context, sessionID, breakpoint string) (Reply, error) {
	if sessionID == "" {
		return Reply{}, errors.New("session id is required")
	}
	query := url.Values{"session": {sessionID}}
	if breakpoint != "" {
		query.Set("break", breakpoint)
	}
	body, err := c.get(ctx, OpContinue, "/run", query)
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(body)
}

// Stop asks the tank to stop a session.
func (c *Client) Stop(ctx context.Context, sessionID string) (Reply, error) {
	if sessionID == "" {
		return Reply{}, errors.New("session id is required")
	}
	body, err := c.get(ctx, OpStop, "/stop", url.Values{"session": {sessionID}})
	if err != nil {
		return Reply{}, err
	}
	return decodeReply(body)
}

// Artifacts lists the files a test produced.
func (c *Client) Artifacts(ctx context.Context, testID string) ([]string, error) {
	if testID == "" {
		return nil, errors.New("test id is required")
	}
	body, err := c.get(ctx, OpArtifacts, "/artifact", url.Values{"test": {testID}})
	if err != nil {
		return nil, err
	}
	return decodeArtifactList(body)
}

// Artifact streams one artifact into w and returns the number of bytes
// written. Downloads are not retried once bytes were written.
func (c *Client) Artifact(ctx context.Context, testID, filename string, w io.Writer) (int64, error) {
	if testID == "" || filename == "" {
		return 0, errors.New("test id and filename are required")
	}
	query := url.Values{"test": {testID}, "filename": {filename}}
	var written int64
	err := c.attempt(ctx, OpArtifact, http.MethodGet, "/artifact", query, nil, filename, func(resp *http.Response) error {
		n, err := io.Copy(w, resp.Body)
		written = n
		if err != nil {
			return fmt.Errorf("%w: read artifact %s: %w", ErrTransport, filename, err)
		}
		return nil
	})
	return written, err
}

func (c *Client) get(ctx context.Context, op, path string, query url.Values) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		b, err := c.once(ctx, op, http.MethodGet, path, query, nil, query.Get("session"))
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Client) once(ctx context.Context, op, method, path string, query url.Values, payload []byte, session string) ([]byte, error) {
	var body []byte
	err := c.attempt(ctx, op, method, path, query, payload, session, func(resp *http.Response) error {
		b, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
		if err != nil {
			return fmt.Errorf("%w: read %s reply: %w", ErrTransport, op, err)
		}
		body = b
		return nil
	})
	return body, err
}

// attempt performs a single HTTP exchange and hands 2xx responses to handle.
func (c *Client) attempt(ctx context.Context, op, method, path string, query url.Values, payload []byte, session string, handle func(*http.Response) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	ctx, span := tracing.StartRequestSpan(ctx, c.tracer, op, session)
	start := time.Now()
	defer func() {
		if c.recorder != nil {
			c.recorder.RecordCall(op, time.Since(start), err)
		}
		if err != nil && c.logger != nil {
			c.logger.LogFailure(fmt.Errorf("%s %s: %w", method, path, err))
		}
	}()

	target := *c.base
	target.Path = c.base.Path + path
	target.RawQuery = query.Encode()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		tracing.EndSpan(span, err)
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	req.Header.Set("Accept", "application/json")
	if c.propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		err = fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
		tracing.EndSpan(span, err)
		return err
	}
	defer resp.Body.Close()

	statusAttr := attribute.Int("http.response.status_code", resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err = decodeAPIError(resp.StatusCode, snippet)
		tracing.EndSpan(span, err, statusAttr)
		return err
	}

	err = handle(resp)
	_, _ = io.Copy(io.Discard, resp.Body)
	tracing.EndSpan(span, err, statusAttr)
	return err
}
