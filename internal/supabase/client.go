package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Status classifies the outcome of one upsert call.
type Status int

const (
	StatusOK Status = iota
	// StatusRateLimited means the endpoint returned its rate-limit code;
	// the same call should be retried after a backoff, not re-parsed.
	StatusRateLimited
	// StatusTransient covers timeouts and connection failures.
	StatusTransient
	// StatusFatal covers every other non-2xx response for this call.
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	case StatusTransient:
		return "transient"
	case StatusFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// UpsertResult reports one batch call. RetryAfter is set when the endpoint
// supplied a Retry-After header alongside a rate-limit response.
type UpsertResult struct {
	Status     Status
	Count      int
	RetryAfter time.Duration
	Err        error
}

// OK reports whether the batch reached the store.
func (r UpsertResult) OK() bool { return r.Status == StatusOK }

// Client performs batched upserts against a PostgREST-style endpoint.
// Insert-or-update semantics are requested via the on_conflict query
// parameter plus the merge-duplicates preference.
type Client struct {
	baseURL   string
	secretKey string
	http      *http.Client
	tracer    trace.Tracer

	closeOnce sync.Once
}

// NewClient creates a new upsert client. url is the project base URL; the
// REST prefix is appended here. secretKey is the static bearer credential.
func NewClient(rawURL, secretKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(rawURL, "/") + "/rest/v1",
		secretKey: secretKey,
		http: &http.Client{
			Timeout: timeout,
		},
		tracer: otel.Tracer("supabase"),
	}
}

// Upsert sends one network call carrying the full batch. On conflict on
// conflictKey the non-key columns are overwritten, making retries idempotent.
func (c *Client) Upsert(ctx context.Context, table string, records []json.RawMessage, conflictKey string) UpsertResult {
	if len(records) == 0 {
		return UpsertResult{Status: StatusOK}
	}

	ctx, span := c.tracer.Start(ctx, "supabase.upsert",
		trace.WithAttributes(
			attribute.String("db.table", table),
			attribute.Int("db.batch_size", len(records)),
		))
	defer span.End()

	body, err := json.Marshal(records)
	if err != nil {
		return UpsertResult{Status: StatusFatal, Err: fmt.Errorf("encode batch: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/%s?on_conflict=%s", c.baseURL, url.PathEscape(table), url.QueryEscape(conflictKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return UpsertResult{Status: StatusFatal, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("apikey", c.secretKey)
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		return UpsertResult{Status: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	result := c.classifyResponse(resp, len(records))
	span.SetAttributes(attribute.String("db.outcome", result.Status.String()))
	if result.Err != nil {
		span.RecordError(result.Err)
	}
	return result
}

// Close releases idle connections. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.http.CloseIdleConnections()
		log.Info().Msg("Closing Supabase client")
	})
	return nil
}

func (c *Client) classifyResponse(resp *http.Response, count int) UpsertResult {
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		log.Warn().
			Dur("retry_after", retryAfter).
			Msg("Upsert rate limited")
		return UpsertResult{
			Status:     StatusRateLimited,
			RetryAfter: retryAfter,
			Err:        fmt.Errorf("rate limited (status %d)", resp.StatusCode),
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Debug().Int("records", count).Msg("Upsert succeeded")
		return UpsertResult{Status: StatusOK, Count: count}
	}

	// Read a bounded slice of the body for the error message
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	err := fmt.Errorf("upsert rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	log.Error().Int("status", resp.StatusCode).Msg("Upsert failed")
	return UpsertResult{Status: StatusFatal, Err: err}
}

// classifyTransportError treats timeouts and connection failures as
// transient. Only an explicit cancellation is fatal: the caller is
// shutting down and must not keep retrying.
func classifyTransportError(err error) Status {
	if errors.Is(err, context.Canceled) {
		return StatusFatal
	}
	return StatusTransient
}

// parseRetryAfter accepts both Retry-After forms: delta-seconds and an
// HTTP-date. Unparseable or past values come back as 0.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
