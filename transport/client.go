package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxResponseBytes = 16 << 20

// TokenSource supplies the bearer credential for the current session.
// An empty token means there is no session.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticToken is a TokenSource returning a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (s StaticToken) Token(context.Context) (string, error) {
	return string(s), nil
}

// Request describes a single call to the authority.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Client executes requests against the authority.
type Client struct {
	base      *url.URL
	http      *http.Client
	tokens    TokenSource
	userAgent string
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client. Its timeout is left as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTokenSource sets the credential provider.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTracer sets the tracer used for request spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

// New builds a Client from cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultConfig().UserAgent
	}

	c := &Client{
		base:      base,
		http:      &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/goliatone/go-catalogue-cache/transport"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Do executes req and decodes a 2xx JSON body into out when out is non-nil.
// Empty and 204 responses leave out untouched. Every failure is a *Error.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "catalogue "+req.Method+" "+req.Path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("catalogue.request_id", requestID),
		),
	)
	defer span.End()

	started := time.Now()
	err := c.do(ctx, req, requestID, span, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		attrs := []any{"method", req.Method, "path", req.Path, "request_id", requestID, "error", err}
		if e, ok := AsError(err); ok {
			span.SetAttributes(attribute.String("catalogue.error_kind", e.Kind.String()))
			if e.Code != "" {
				span.SetAttributes(attribute.String("catalogue.error_code", e.Code))
			}
		}
		c.logger.WarnContext(ctx, "catalogue request failed", attrs...)
		return err
	}
	span.SetStatus(codes.Ok, "")
	c.logger.DebugContext(ctx, "catalogue request",
		"method", req.Method,
		"path", req.Path,
		"request_id", requestID,
		"duration", time.Since(started),
	)
	return nil
}

func (c *Client) do(ctx context.Context, req Request, requestID string, span trace.Span, out any) error {
	httpReq, err := c.newRequest(ctx, req, requestID)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return unreachable(err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return unreachable(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeFailure(resp.StatusCode, bytes.TrimSpace(body))
	}

	if resp.StatusCode == http.StatusNoContent || resp.ContentLength == 0 || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		e := httpFailure(resp.StatusCode, err)
		e.Message = "malformed response body"
		return e
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, req Request, requestID string) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	// req.Path arrives escaped; keep it as RawPath so escaped ids survive.
	target := *c.base
	rawPath := strings.TrimRight(c.base.EscapedPath(), "/") + "/" + strings.TrimLeft(req.Path, "/")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return nil, requestFailure("invalid request path", err)
	}
	target.Path = path
	target.RawPath = rawPath
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, requestFailure("request body cannot be encoded", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, requestFailure("request cannot be built", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("X-Request-ID", requestID)

	if token := c.token(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}

// token resolves the credential; a failing source degrades to an anonymous request.
func (c *Client) token(ctx context.Context) string {
	if c.tokens == nil {
		return ""
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "token source failed, sending request without credential", "error", err)
		return ""
	}
	return strings.TrimSpace(token)
}
