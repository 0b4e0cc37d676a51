package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const customRulesPath = "/api/search/custom-rules"

var (
	// ErrSearchFailed is returned when the service answers success=false.
	ErrSearchFailed = errors.New("search service reported failure")
	// ErrInvalidResponse is returned when the response does not match the schema.
	ErrInvalidResponse = errors.New("invalid search service response")
)

// StatusError is a non-2xx answer from the search service.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("search service returned status %d", e.StatusCode)
}

// responseSchema is the accepted shape of a custom-rules search response.
const responseSchema = `{
  "type": "object",
  "required": ["success"],
  "properties": {
    "success": {"type": "boolean"},
    "results": {"type": ["array", "null"], "items": {"type": "object"}},
    "total_found": {"type": ["integer", "null"], "minimum": 0},
    "search_type": {"type": ["string", "null"]},
    "error": {"type": ["string", "null"]}
  }
}`

var responseSchemaLoader = gojsonschema.NewStringLoader(responseSchema)

type searchRequest struct {
	Query string       `json:"query"`
	Rules []RuleRecord `json:"rules"`
}

// Response is a decoded custom-rules search response.
type Response struct {
	Success    bool         `json:"success"`
	Results    []RuleRecord `json:"results"`
	TotalFound int          `json:"total_found"`
	SearchType string       `json:"search_type"`
	Error      string       `json:"error"`
}

// Client calls the remote advanced search service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Search evaluates query against records on the search service.
func (c *Client) Search(ctx context.Context, query string, records []RuleRecord) (*Response, error) {
	ctx, span := otel.Tracer("sigmalens/search").Start(ctx, "search.custom_rules")
	defer span.End()
	span.SetAttributes(
		attribute.String("search.query", query),
		attribute.Int("search.records", len(records)),
	)

	if records == nil {
		records = []RuleRecord{}
	}
	body, err := json.Marshal(searchRequest{Query: query, Rules: records})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+customRulesPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	result, err := gojsonschema.Validate(responseSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, result.Errors())
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !out.Success {
		msg := out.Error
		if msg == "" {
			msg = "Search failed"
		}
		return nil, fmt.Errorf("%w: %s", ErrSearchFailed, msg)
	}
	if out.Results == nil {
		out.Results = []RuleRecord{}
	}
	span.SetAttributes(attribute.Int("search.total_found", out.TotalFound))
	return &out, nil
}
