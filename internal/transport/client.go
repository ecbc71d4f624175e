// Package transport speaks the actor HTTP protocol.
//
// Every method of an actor service is addressed as
// POST <endpoint>/<package.service.method> with a JSON body and the
// X-Service-Name and X-Actor-Id headers. Writes also carry
// X-Idempotency-Key so the server can collapse retries into one effect.
// Streaming reads go through POST <endpoint>/query and return a chunked
// JSON array of envelopes (see package stream).
//
// Error taxonomy:
//   - *ApplicationError: non-2xx with a grpc-status header. Terminal.
//   - *StatusError: any other non-2xx. Retryable.
//   - network errors: wrapped as returned by net/http. Retryable.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/codes"

	"github.com/roach88/actorsync/internal/ir"
)

// Header names of the actor protocol.
const (
	HeaderServiceName    = "X-Service-Name"
	HeaderActorID        = "X-Actor-Id"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderGRPCStatus     = "Grpc-Status"
	HeaderGRPCMessage    = "Grpc-Message"
)

// QueryPath is the streaming read path.
const QueryPath = "/query"

const tracerName = "github.com/roach88/actorsync/internal/transport"

// maxErrorBody bounds how much of a failed response body is kept in errors.
const maxErrorBody = 512

// Client issues requests against one actor of one service.
//
// Thread-safety: Client is safe for concurrent use; it holds no per-request
// state.
type Client struct {
	endpoint   string
	service    string
	actorID    string
	httpClient *http.Client
	warnings   *Warnings
	logger     *slog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Defaults to http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithWarnings attaches a diagnostics board.
func WithWarnings(w *Warnings) Option {
	return func(c *Client) {
		c.warnings = w
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a client for actorID of service at endpoint.
//
// endpoint is the scheme and authority, e.g. "https://localhost.direct:9991";
// a trailing slash is ignored.
func New(endpoint, service, actorID string, opts ...Option) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		service:    service,
		actorID:    actorID,
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActorID returns the addressed actor.
func (c *Client) ActorID() string { return c.actorID }

// Service returns the addressed service.
func (c *Client) Service() string { return c.service }

// Endpoint returns the normalized endpoint.
func (c *Client) Endpoint() string { return c.endpoint }

// Warnings returns the attached diagnostics board, possibly nil.
func (c *Client) Warnings() *Warnings { return c.warnings }

// Mutate performs one write attempt. The same idempotency key must be
// passed on every retry of the same logical mutation.
func (c *Client) Mutate(ctx context.Context, path string, body json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	return c.unary(ctx, path, body, idempotencyKey)
}

// Call performs a unary request without an idempotency key.
func (c *Client) Call(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error) {
	return c.unary(ctx, path, body, "")
}

func (c *Client) unary(ctx context.Context, path string, body json.RawMessage, idempotencyKey string) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "actorsync.transport "+path,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("actorsync.service", c.service),
			attribute.String("actorsync.actor_id", c.actorID),
			attribute.String("actorsync.method", path),
		),
	)
	defer span.End()
	if idempotencyKey != "" {
		span.SetAttributes(attribute.String("actorsync.idempotency_key", idempotencyKey))
	}

	resp, err := c.post(ctx, path, body, idempotencyKey)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkResponse(resp, path); err != nil {
		recordError(span, err)
		return nil, err
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("'%s' read response: %w", path, err)
		recordError(span, err)
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	return json.RawMessage(data), nil
}

// Query opens the streaming read. The caller must Close the stream.
func (c *Client) Query(ctx context.Context, q ir.QueryRequest) (*Stream, error) {
	ctx, span := c.tracer.Start(ctx, "actorsync.transport "+QueryPath,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("actorsync.service", c.service),
			attribute.String("actorsync.actor_id", c.actorID),
			attribute.String("actorsync.method", q.Method),
		),
	)

	body, err := json.Marshal(q)
	if err != nil {
		span.End()
		return nil, fmt.Errorf("encode query request: %w", err)
	}

	resp, err := c.post(ctx, QueryPath, body, "")
	if err != nil {
		recordError(span, err)
		span.End()
		return nil, err
	}
	if err := c.checkResponse(resp, ir.MethodPath(c.service, q.Method)); err != nil {
		resp.Body.Close()
		recordError(span, err)
		span.End()
		return nil, err
	}
	return newStream(resp.Body, span), nil
}

// post sends one request and maintains the unreachable warning.
func (c *Client) post(ctx context.Context, path string, body []byte, idempotencyKey string) (*http.Response, error) {
	var reader io.Reader
	// An empty request message is sent without a body.
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("{}")) {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderServiceName, c.service)
	req.Header.Set(HeaderActorID, c.actorID)
	if idempotencyKey != "" {
		req.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	}
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.warnings.Raise(WarningUnreachable, fmt.Sprintf("could not connect to '%s'", c.hostname())) {
			c.logger.Debug("endpoint unreachable", "endpoint", c.endpoint, "error", err)
		}
		return nil, fmt.Errorf("'%s' request failed: %w", path, err)
	}
	c.warnings.Clear(WarningUnreachable)
	return resp, nil
}

// checkResponse classifies a non-2xx response.
func (c *Client) checkResponse(resp *http.Response, method string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	if raw := resp.Header.Get(HeaderGRPCStatus); raw != "" {
		return &ApplicationError{
			Code:    parseCode(raw),
			Message: decodeGRPCMessage(resp.Header.Get(HeaderGRPCMessage)),
			Method:  method,
			ActorID: c.actorID,
		}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Method:     method,
		Body:       strings.TrimSpace(string(snippet)),
	}
}

func (c *Client) hostname() string {
	u, err := url.Parse(c.endpoint)
	if err != nil || u.Host == "" {
		return c.endpoint
	}
	return u.Host
}

// parseCode maps the numeric grpc-status header to a code. Garbage maps to
// Unknown.
func parseCode(raw string) codes.Code {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		return codes.Unknown
	}
	return codes.Code(n)
}

// decodeGRPCMessage undoes the percent-encoding gRPC applies to
// grpc-message. Malformed input is returned as is.
func decodeGRPCMessage(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
}
