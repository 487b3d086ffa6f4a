// Package httpclient is the JSON-over-HTTP client shared by the payment
// gateways and the provisioning sidecar. Every call is a client span and
// carries the trace context downstream.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxBody = 1 << 20

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Transient reports whether err is worth retrying: transport failures,
// timeouts, 429 and 5xx. Other statuses are final.
func Transient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	return err != nil
}

type Client struct {
	http   *http.Client
	tracer trace.Tracer
	peer   string
}

// New builds a client for one downstream peer. The per-request deadline comes
// from the caller's context; timeout is a hard ceiling.
func New(peer string, timeout time.Duration) *Client {
	return &Client{
		http:   &http.Client{Timeout: timeout},
		tracer: otel.Tracer("invite-service/httpclient"),
		peer:   peer,
	}
}

// DoJSON sends body (JSON-encoded when non-nil) and decodes a 2xx response
// into out when out is non-nil.
func (c *Client) DoJSON(ctx context.Context, method, url string, headers map[string]string, body, out any) error {
	ctx, span := c.tracer.Start(ctx, c.peer+" "+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", url),
			attribute.String("peer.service", c.peer),
		))
	defer span.End()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s request failed: %w", c.peer, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to read %s response: %w", c.peer, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(payload))}
		span.SetStatus(codes.Error, se.Error())
		return se
	}
	if out == nil || len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to decode %s response: %w", c.peer, err)
	}
	return nil
}
