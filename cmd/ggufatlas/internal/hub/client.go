// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hub is the client for the upstream model catalog API.
//
// The pipeline never talks HTTP directly; every component consumes the
// Client interface so tests can substitute a fake hub. The HTTP
// implementation honors a bearer token, carries a 30 second network
// timeout, and reports rate-limit responses as a typed error so the
// fetcher and recovery layers can react to them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/telemetry"
)

// tracerName identifies this package's otel tracer.
const tracerName = "github.com/ggufatlas/ggufatlas/cmd/ggufatlas/internal/hub"

// =============================================================================
// Client Interface
// =============================================================================

// Client is the pipeline's view of the hub API.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; discovery and
// enrichment issue calls from many goroutines.
type Client interface {
	// ListModels returns model summaries matching params.
	ListModels(ctx context.Context, params ListParams) ([]ModelSummary, error)

	// ModelInfo returns the detailed summary (including siblings) for id.
	ModelInfo(ctx context.Context, id string) (*ModelSummary, error)

	// ListRepoFiles returns the filenames inside the model repository.
	ListRepoFiles(ctx context.Context, id string) ([]string, error)

	// GetPathsInfo returns per-file metadata for the given paths.
	GetPathsInfo(ctx context.Context, id string, paths []string) ([]PathInfo, error)
}

// =============================================================================
// Errors
// =============================================================================

// APIError is a non-2xx hub response.
type APIError struct {
	// StatusCode is the HTTP status the hub returned.
	StatusCode int

	// Operation names the failed call for logs and classification.
	Operation string

	// Message carries the response body excerpt, if any.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("hub %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// ErrRateLimited marks 429 responses. Wrapped inside APIError chains via
// errors.Join so both errors.Is and status inspection work.
var ErrRateLimited = errors.New("hub rate limited")

// IsRateLimited reports whether err represents a hub rate-limit signal,
// either a 429 status or well-known throttle phrasing in the message.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"rate limit", "too many requests", "quota exceeded", "throttled"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// =============================================================================
// HTTP Client
// =============================================================================

// Config configures the HTTP hub client.
type Config struct {
	// BaseURL is the API root. Default: "https://huggingface.co".
	BaseURL string

	// Token is the optional bearer token. When set, the hourly budget
	// assumed by callers is the authenticated one.
	Token string

	// Timeout is the per-call network timeout. Default: 30s.
	Timeout time.Duration

	// RequestsPerSecond optionally imposes a hard rps cap beneath the
	// adaptive limiter. Zero disables the cap.
	RequestsPerSecond float64

	// PageSize is the pagination window for uncapped listings.
	// Default: 500.
	PageSize int

	// Logger receives per-call debug logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics receives per-call counters and durations. Nil disables
	// metric recording.
	Metrics *telemetry.Metrics
}

// HTTPClient implements Client against the real hub API.
//
// # Thread Safety
//
// Safe for concurrent use. The embedded http.Client and rate.Limiter are
// both concurrency-safe; remaining fields are read-only after New.
type HTTPClient struct {
	baseURL    string
	token      string
	pageSize   int
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *telemetry.Metrics
}

// Compile-time interface satisfaction check
var _ Client = (*HTTPClient)(nil)

// New creates an HTTP hub client. Zero config fields get defaults.
func New(cfg Config) *HTTPClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://huggingface.co"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &HTTPClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		pageSize:   cfg.PageSize,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     cfg.Logger,
		tracer:     otel.Tracer(tracerName),
		metrics:    cfg.Metrics,
	}
}

// Authenticated reports whether the client carries a bearer token.
func (c *HTTPClient) Authenticated() bool {
	return c.token != ""
}

// ListModels lists models matching params. When params.Limit is zero the
// client follows pagination until the hub returns a short page.
func (c *HTTPClient) ListModels(ctx context.Context, params ListParams) ([]ModelSummary, error) {
	ctx, span := c.tracer.Start(ctx, "hub.ListModels",
		trace.WithAttributes(
			attribute.String("hub.filter", params.Filter),
			attribute.String("hub.search", params.Search),
			attribute.Int("hub.limit", params.Limit),
		))
	defer span.End()

	var out []ModelSummary
	skip := 0
	for {
		pageLimit := c.pageSize
		if params.Limit > 0 && params.Limit-len(out) < pageLimit {
			pageLimit = params.Limit - len(out)
		}
		if pageLimit <= 0 {
			break
		}

		q := url.Values{}
		if params.Filter != "" {
			q.Set("filter", params.Filter)
		}
		if params.Search != "" {
			q.Set("search", params.Search)
		}
		if params.Author != "" {
			q.Set("author", params.Author)
		}
		if params.Sort != "" {
			q.Set("sort", string(params.Sort))
			if params.Direction < 0 {
				q.Set("direction", "-1")
			}
		}
		q.Set("limit", strconv.Itoa(pageLimit))
		if skip > 0 {
			q.Set("skip", strconv.Itoa(skip))
		}

		var page []ModelSummary
		if err := c.getJSON(ctx, "/api/models?"+q.Encode(), "list_models", &page); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "list failed")
			return nil, err
		}

		out = append(out, page...)
		skip += len(page)

		if len(page) < pageLimit || (params.Limit > 0 && len(out) >= params.Limit) {
			break
		}
	}

	span.SetAttributes(attribute.Int("hub.results", len(out)))
	return out, nil
}

// ModelInfo fetches the detailed summary for one model.
func (c *HTTPClient) ModelInfo(ctx context.Context, id string) (*ModelSummary, error) {
	ctx, span := c.tracer.Start(ctx, "hub.ModelInfo",
		trace.WithAttributes(attribute.String("hub.model_id", id)))
	defer span.End()

	var info ModelSummary
	if err := c.getJSON(ctx, "/api/models/"+id, "model_info", &info); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "model info failed")
		return nil, err
	}
	if info.ID == "" {
		info.ID = id
	}
	return &info, nil
}

// ListRepoFiles returns the filenames inside the model repository.
func (c *HTTPClient) ListRepoFiles(ctx context.Context, id string) ([]string, error) {
	info, err := c.ModelInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(info.Siblings))
	for _, s := range info.Siblings {
		files = append(files, s.Rfilename)
	}
	return files, nil
}

// GetPathsInfo returns per-file metadata for the given paths.
func (c *HTTPClient) GetPathsInfo(ctx context.Context, id string, paths []string) ([]PathInfo, error) {
	ctx, span := c.tracer.Start(ctx, "hub.GetPathsInfo",
		trace.WithAttributes(
			attribute.String("hub.model_id", id),
			attribute.Int("hub.paths", len(paths)),
		))
	defer span.End()

	form := url.Values{}
	for _, p := range paths {
		form.Add("paths", p)
	}

	endpoint := "/api/models/" + id + "/paths-info/main"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build paths-info request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var infos []PathInfo
	if err := c.do(req, "paths_info", &infos); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "paths info failed")
		return nil, err
	}
	return infos, nil
}

// getJSON issues a GET against path and decodes the JSON body into out.
func (c *HTTPClient) getJSON(ctx context.Context, path, operation string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	return c.do(req, operation, out)
}

// do executes a prepared request under the optional rps cap, maps non-2xx
// statuses to APIError, and decodes the body into out when non-nil.
func (c *HTTPClient) do(req *http.Request, operation string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(req.Context(), operation, 0, time.Since(start))
		return fmt.Errorf("hub %s: %w", operation, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("hub call",
		"operation", operation,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	c.record(req.Context(), operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return errors.Join(ErrRateLimited, &APIError{
			StatusCode: resp.StatusCode,
			Operation:  operation,
			Message:    "too many requests",
		})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{
			StatusCode: resp.StatusCode,
			Operation:  operation,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// record feeds one call outcome into the pipeline metrics. status zero
// means the request never produced a response.
func (c *HTTPClient) record(ctx context.Context, operation string, status int, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.HubRequestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Int("status", status),
	))
	c.metrics.HubRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("operation", operation),
	))
	if status == http.StatusTooManyRequests {
		c.metrics.RateLimitHitsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}
