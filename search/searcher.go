package search

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"sigmalens/metrics"
)

// Search types reported in Result.SearchType.
const (
	TypeAll      = "all"
	TypeAdvanced = "advanced"
	TypeFallback = "fallback"
)

// Fallback reasons reported in Result.Reason.
const (
	ReasonTransport       = "transport"
	ReasonStatus          = "status"
	ReasonServiceError    = "service_error"
	ReasonInvalidResponse = "invalid_response"
	ReasonDisabled        = "disabled"
)

// Service evaluates advanced queries remotely. *Client implements it.
type Service interface {
	Search(ctx context.Context, query string, records []RuleRecord) (*Response, error)
}

// Result is the outcome of one search. Generation orders results so a
// consumer can drop any that a later search has superseded.
type Result struct {
	Generation uint64       `json:"generation"`
	Query      string       `json:"query"`
	Records    []RuleRecord `json:"results"`
	TotalFound int          `json:"total_found"`
	SearchType string       `json:"search_type"`
	Degraded   bool         `json:"degraded"`
	Reason     string       `json:"reason,omitempty"`
}

// Searcher asks the search service first and falls back to FilterRecords
// when it cannot answer. Failures of the service are never returned.
type Searcher struct {
	service    Service
	logger     *zap.SugaredLogger
	generation atomic.Uint64
}

// NewSearcher creates a searcher. A nil service means every non-empty query
// is answered locally.
func NewSearcher(service Service, logger *zap.SugaredLogger) *Searcher {
	return &Searcher{service: service, logger: logger}
}

// Latest returns the generation of the most recently started search.
func (s *Searcher) Latest() uint64 {
	return s.generation.Load()
}

// Search runs query over records.
func (s *Searcher) Search(ctx context.Context, records []RuleRecord, query string) Result {
	gen := s.generation.Add(1)
	query = strings.TrimSpace(query)

	if query == "" {
		all := FilterRecords(records, "")
		metrics.SearchRequests.WithLabelValues(TypeAll).Inc()
		return Result{Generation: gen, Records: all, TotalFound: len(all), SearchType: TypeAll}
	}

	if s.service == nil {
		return s.fallback(gen, records, query, ReasonDisabled)
	}

	resp, err := s.service.Search(ctx, query, records)
	if err != nil {
		reason := classify(err)
		s.logger.Warnw("Advanced search failed, using local filter",
			"query", query,
			"reason", reason,
			"error", err)
		return s.fallback(gen, records, query, reason)
	}

	metrics.SearchRequests.WithLabelValues(TypeAdvanced).Inc()
	return Result{
		Generation: gen,
		Query:      query,
		Records:    resp.Results,
		TotalFound: resp.TotalFound,
		SearchType: TypeAdvanced,
	}
}

func (s *Searcher) fallback(gen uint64, records []RuleRecord, query, reason string) Result {
	filtered := FilterRecords(records, query)
	metrics.SearchRequests.WithLabelValues(TypeFallback).Inc()
	metrics.SearchFallbacks.WithLabelValues(reason).Inc()
	return Result{
		Generation: gen,
		Query:      query,
		Records:    filtered,
		TotalFound: len(filtered),
		SearchType: TypeFallback,
		Degraded:   true,
		Reason:     reason,
	}
}

func classify(err error) string {
	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr):
		return ReasonStatus
	case errors.Is(err, ErrSearchFailed):
		return ReasonServiceError
	case errors.Is(err, ErrInvalidResponse):
		return ReasonInvalidResponse
	default:
		return ReasonTransport
	}
}
