package viewer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"sigmalens/querytree"
)

// Converter fetches both forms of a rule from the conversion service.
type Converter interface {
	Structured(ctx context.Context, rulePath string) (querytree.Payload, error)
	Raw(ctx context.Context, rulePath string) (string, error)
}

// OpenError is a transport failure while opening a rule. It carries the path
// and title for diagnostics.
type OpenError struct {
	Path  string
	Title string
	Err   error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open rule %q (%s): %v", e.Title, e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Session is one viewing surface: a coordinator plus the converter it pulls
// rules from.
type Session struct {
	ID        string
	CreatedAt time.Time

	coord  *Coordinator
	conv   Converter
	logger *zap.SugaredLogger
}

// NewSession creates an empty session.
func NewSession(id string, conv Converter, logger *zap.SugaredLogger) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		coord:     NewCoordinator(),
		conv:      conv,
		logger:    logger,
	}
}

// Coordinator exposes the session's view state.
func (s *Session) Coordinator() *Coordinator { return s.coord }

// Open fetches the structured tree for a rule and installs it. When the
// service omits the raw query it is fetched with a second call whose failure
// only leaves the raw view disabled. A response for a rule that is no longer
// the latest open is discarded with ErrStaleResponse.
func (s *Session) Open(ctx context.Context, rulePath, title string) (*Snapshot, error) {
	ticket := s.coord.Begin(rulePath, title)

	payload, err := s.conv.Structured(ctx, rulePath)
	if err != nil {
		if failErr := s.coord.Fail(ticket); failErr != nil {
			return nil, failErr
		}
		s.logger.Errorw("Failed to convert rule",
			"session_id", s.ID,
			"rule_path", rulePath,
			"title", title,
			"error", err)
		return nil, &OpenError{Path: rulePath, Title: title, Err: err}
	}

	raw := payload.OriginalQuery
	if strings.TrimSpace(raw) == "" {
		if text, rawErr := s.conv.Raw(ctx, rulePath); rawErr == nil {
			raw = text
		} else {
			s.logger.Debugw("Raw query backfill failed",
				"session_id", s.ID,
				"rule_path", rulePath,
				"error", rawErr)
		}
	}

	if err := s.coord.Complete(ticket, payload, raw); err != nil {
		if errors.Is(err, ErrStaleResponse) {
			s.logger.Debugw("Discarded stale conversion response",
				"session_id", s.ID,
				"rule_path", rulePath,
				"generation", ticket.Generation)
		}
		return nil, err
	}

	return s.coord.Current()
}

// RefreshRaw refetches the raw query of the open rule and back-fills it.
func (s *Session) RefreshRaw(ctx context.Context) error {
	ticket, err := s.coord.OpenTicket()
	if err != nil {
		return err
	}

	raw, err := s.conv.Raw(ctx, ticket.RulePath)
	if err != nil {
		return &OpenError{Path: ticket.RulePath, Title: ticket.Title, Err: err}
	}
	return s.coord.BackfillRaw(ticket, raw)
}

// Close releases the open rule.
func (s *Session) Close() {
	s.coord.Close()
}
