// Package convert talks to the rule conversion service, which turns a
// detection rule file into a structured condition tree or a raw linear query.
package convert

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"sigmalens/metrics"
	"sigmalens/querytree"
)

// Endpoint names, used in cache keys, metrics and errors.
const (
	EndpointStructured = "structured"
	EndpointRaw        = "raw"
)

const maxResponseSize = 16 << 20

var endpointPaths = map[string]string{
	EndpointStructured: "/convert_to_structured",
	EndpointRaw:        "/convert_to_lucene",
}

// TransportError is a failure to obtain a usable answer from the service.
type TransportError struct {
	Op         string
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("convert %s %s: status %d", e.Op, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("convert %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 for unlimited
	Burst     int
	Breaker   BreakerConfig
	Cache     Cache // optional
}

// Client fetches conversions through a cache, a rate limiter and a circuit
// breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *Breaker
	cache      Cache
	logger     *zap.SugaredLogger
}

// NewClient builds a client from opts.
func NewClient(opts Options, logger *zap.SugaredLogger) (*Client, error) {
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid conversion service URL %q: %w", opts.BaseURL, err)
	}
	breaker, err := NewBreaker(opts.Breaker)
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
		breaker:    breaker,
		cache:      opts.Cache,
		logger:     logger,
	}, nil
}

// Structured returns the condition tree of a rule. A 400 answer carries the
// service's parse error and becomes an error payload rather than an error.
func (c *Client) Structured(ctx context.Context, rulePath string) (querytree.Payload, error) {
	body, _, status, err := c.fetch(ctx, EndpointStructured, rulePath, "application/json")
	if err != nil {
		return querytree.Payload{}, err
	}
	p := querytree.ParsePayload(body)
	if status == http.StatusBadRequest {
		c.logger.Infow("Conversion service rejected rule",
			"rule_path", rulePath,
			"message", p.Message)
	}
	return p, nil
}

// Raw returns the raw linear query of a rule.
func (c *Client) Raw(ctx context.Context, rulePath string) (string, error) {
	body, _, _, err := c.fetch(ctx, EndpointRaw, rulePath, "text/plain")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// Invalidate drops cached conversions of the given rules.
func (c *Client) Invalidate(ctx context.Context, rulePaths ...string) error {
	if c.cache == nil || len(rulePaths) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rulePaths)*2)
	for _, p := range rulePaths {
		keys = append(keys, cacheKey(EndpointStructured, p), cacheKey(EndpointRaw, p))
	}
	return c.cache.Delete(ctx, keys...)
}

// InvalidateAll drops every cached conversion.
func (c *Client) InvalidateAll(ctx context.Context) error {
	if c.cache == nil {
		return nil
	}
	return c.cache.Purge(ctx)
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.State()
}

func cacheKey(endpoint, rulePath string) string {
	return endpoint + ":" + rulePath
}

// fetch returns the body, content type and status of a conversion. Only 200
// answers are cached. 400 is returned to the caller for the structured
// endpoint; every other non-200 answer is a TransportError.
func (c *Client) fetch(ctx context.Context, endpoint, rulePath, accept string) ([]byte, string, int, error) {
	ctx, span := otel.Tracer("sigmalens/convert").Start(ctx, "convert."+endpoint)
	defer span.End()
	span.SetAttributes(attribute.String("rule.path", rulePath))

	key := cacheKey(endpoint, rulePath)
	if c.cache != nil {
		e, ok, err := c.cache.Get(ctx, key)
		switch {
		case err != nil:
			c.logger.Warnw("Conversion cache read failed", "key", key, "error", err)
		case ok:
			metrics.CacheHits.WithLabelValues(c.cache.Backend()).Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return e.Body, e.ContentType, http.StatusOK, nil
		default:
			metrics.CacheMisses.WithLabelValues(c.cache.Backend()).Inc()
		}
	}

	fail := func(status int, err error) ([]byte, string, int, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, "", status, &TransportError{Op: endpoint, Path: rulePath, StatusCode: status, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		metrics.ConversionRequests.WithLabelValues(endpoint, "rate_limited").Inc()
		return fail(0, err)
	}
	if err := c.breaker.Allow(); err != nil {
		metrics.ConversionRequests.WithLabelValues(endpoint, "circuit_open").Inc()
		return fail(0, err)
	}

	start := time.Now()
	body, contentType, status, err := c.do(ctx, endpoint, rulePath, accept)
	metrics.ConversionDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if err != nil || status >= 500 {
		c.recordFailure(endpoint)
		metrics.ConversionRequests.WithLabelValues(endpoint, "error").Inc()
		if err == nil {
			err = errors.New(http.StatusText(status))
		}
		c.logger.Warnw("Conversion request failed",
			"endpoint", endpoint,
			"rule_path", rulePath,
			"status", status,
			"error", err)
		return fail(status, err)
	}
	c.recordSuccess(endpoint)

	switch {
	case status == http.StatusOK:
		metrics.ConversionRequests.WithLabelValues(endpoint, "ok").Inc()
		if endpoint == EndpointStructured {
			c.checkContract(rulePath, body)
		}
	case status == http.StatusBadRequest && endpoint == EndpointStructured:
		metrics.ConversionRequests.WithLabelValues(endpoint, "rejected").Inc()
		return body, contentType, status, nil
	default:
		metrics.ConversionRequests.WithLabelValues(endpoint, "error").Inc()
		return fail(status, errors.New(http.StatusText(status)))
	}

	if c.cache != nil {
		e := Entry{Body: body, ContentType: contentType, StoredAt: time.Now()}
		if err := c.cache.Set(ctx, key, e); err != nil {
			c.logger.Warnw("Conversion cache write failed", "key", key, "error", err)
		}
	}
	return body, contentType, status, nil
}

func (c *Client) do(ctx context.Context, endpoint, rulePath, accept string) ([]byte, string, int, error) {
	u := c.baseURL + endpointPaths[endpoint] + "?" + url.Values{"file_path": {rulePath}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", 0, err
	}
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, "", resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), resp.StatusCode, nil
}

// checkContract logs structured answers that drift from the response schema.
// The body is still parsed and cached.
func (c *Client) checkContract(rulePath string, body []byte) {
	violations, err := ValidateStructured(body)
	if err != nil {
		c.logger.Debugw("Could not check conversion response", "rule_path", rulePath, "error", err)
		return
	}
	if len(violations) == 0 {
		return
	}
	metrics.ConversionContractViolations.Inc()
	c.logger.Warnw("Conversion response does not match schema",
		"rule_path", rulePath,
		"violations", violations)
}

func (c *Client) recordFailure(endpoint string) {
	oldState, newState := c.breaker.RecordFailure()
	if oldState != newState && newState == BreakerOpen {
		metrics.CircuitBreakerState.WithLabelValues("conversion").Set(1)
		c.logger.Errorw("Conversion circuit breaker opened", "endpoint", endpoint)
	}
}

func (c *Client) recordSuccess(endpoint string) {
	oldState, newState := c.breaker.RecordSuccess()
	if oldState != newState {
		metrics.CircuitBreakerState.WithLabelValues("conversion").Set(0)
		c.logger.Infow("Conversion circuit breaker closed", "endpoint", endpoint)
	}
}
