// Package viewer pairs a rule's structured condition tree with its raw linear
// query and keeps the two views of the open rule consistent.
package viewer

import (
	"errors"
	"strings"
	"sync"

	"sigmalens/querytree"
)

var (
	// ErrRawUnavailable is returned when switching to raw with no raw text.
	ErrRawUnavailable = errors.New("no raw query available")
	// ErrStaleResponse is returned when a response belongs to a superseded open.
	ErrStaleResponse = errors.New("response belongs to a superseded rule")
	// ErrNothingOpen is returned when no rule is open.
	ErrNothingOpen = errors.New("no rule is open")
	// ErrOpenPending is returned when a rule is still being opened.
	ErrOpenPending = errors.New("a rule is still being opened")
)

// RawUnavailableReason is shown next to the disabled raw-view affordance.
const RawUnavailableReason = "No raw query available"

// Mode is the active presentation of the open rule.
type Mode int

const (
	ModeStructured Mode = iota
	ModeRaw
)

func (m Mode) String() string {
	if m == ModeRaw {
		return "raw"
	}
	return "structured"
}

// Pairing associates one rule with its tree and raw query. Both forms
// describe the same rule.
type Pairing struct {
	RulePath string
	Title    string
	Tree     querytree.Payload
	RawText  string
}

// Ticket identifies one in-flight open.
type Ticket struct {
	Generation uint64
	RulePath   string
	Title      string
}

// RawView is the formatted raw query for display. Text is never modified.
type RawView struct {
	RulePath  string `json:"rule_path"`
	Text      string `json:"text"`
	Formatted string `json:"formatted"`
}

// Snapshot is the current state of the open rule. Pending is set while a
// newer open is in flight and the snapshot still shows the previous rule.
type Snapshot struct {
	RulePath          string            `json:"rule_path"`
	Title             string            `json:"title"`
	Mode              string            `json:"mode"`
	Status            string            `json:"status"`
	Message           string            `json:"message,omitempty"`
	Payload           querytree.Payload `json:"payload"`
	Stats             *querytree.Stats  `json:"stats,omitempty"`
	Summary           []string          `json:"summary"`
	View              *querytree.View   `json:"view,omitempty"`
	Raw               *RawView          `json:"raw,omitempty"`
	RawAvailable      bool              `json:"raw_available"`
	RawDisabledReason string            `json:"raw_disabled_reason,omitempty"`
	Collapsed         []string          `json:"collapsed"`
	Pending           bool              `json:"pending"`
}

// Coordinator owns the pairing of the open rule, its collapse state and the
// active mode. Every open is stamped with a generation; completions carrying
// an older generation are discarded.
type Coordinator struct {
	mu         sync.Mutex
	generation uint64
	pending    bool
	pairing    *Pairing
	state      querytree.DisplayState
	mode       Mode
}

// NewCoordinator returns a coordinator with nothing open.
func NewCoordinator() *Coordinator {
	return &Coordinator{}
}

// Begin starts opening a rule and returns the ticket its response must carry.
func (c *Coordinator) Begin(rulePath, title string) Ticket {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.pending = true
	return Ticket{Generation: c.generation, RulePath: rulePath, Title: title}
}

// OpenTicket returns the ticket of the open rule, for late back-fills. It
// fails while a newer open is in flight, since the generation no longer
// belongs to the open rule.
func (c *Coordinator) OpenTicket() (Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending {
		return Ticket{}, ErrOpenPending
	}
	if c.pairing == nil {
		return Ticket{}, ErrNothingOpen
	}
	return Ticket{Generation: c.generation, RulePath: c.pairing.RulePath, Title: c.pairing.Title}, nil
}

// Complete installs the response for t. It fails with ErrStaleResponse when a
// newer open has started.
func (c *Coordinator) Complete(t Ticket, payload querytree.Payload, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Generation != c.generation {
		return ErrStaleResponse
	}
	c.install(Pairing{RulePath: t.RulePath, Title: t.Title, Tree: payload, RawText: raw})
	return nil
}

// Fail ends the open stamped by t without a response. The previous rule is
// dropped so nothing keeps serving it under the failed request. It fails with
// ErrStaleResponse when a newer open has started.
func (c *Coordinator) Fail(t Ticket) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Generation != c.generation {
		return ErrStaleResponse
	}
	c.pairing = nil
	c.pending = false
	c.state = querytree.DisplayState{}
	c.mode = ModeStructured
	return nil
}

// OpenStructured installs a pairing directly, superseding any in-flight open.
func (c *Coordinator) OpenStructured(p Pairing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.install(p)
}

func (c *Coordinator) install(p Pairing) {
	c.pairing = &p
	c.pending = false
	c.state = querytree.DisplayState{}
	c.mode = ModeStructured
}

// BackfillRaw sets the raw text of the open rule if t is still current.
func (c *Coordinator) BackfillRaw(t Ticket, raw string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.Generation != c.generation || c.pairing == nil {
		return ErrStaleResponse
	}
	c.pairing.RawText = raw
	return nil
}

// RawAvailability reports whether the raw view can be shown and, if not, why.
func (c *Coordinator) RawAvailability() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rawAvailability()
}

func (c *Coordinator) rawAvailability() (bool, string) {
	if c.pairing == nil || strings.TrimSpace(c.pairing.RawText) == "" {
		return false, RawUnavailableReason
	}
	return true, ""
}

// SwitchToRaw shows the raw query of the open rule.
func (c *Coordinator) SwitchToRaw() (RawView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairing == nil {
		return RawView{}, ErrNothingOpen
	}
	if ok, _ := c.rawAvailability(); !ok {
		return RawView{}, ErrRawUnavailable
	}
	c.mode = ModeRaw
	return c.rawView(), nil
}

// SwitchToStructured re-renders the retained tree with every group open.
// It never refetches.
func (c *Coordinator) SwitchToStructured() (*querytree.View, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairing == nil {
		return nil, ErrNothingOpen
	}
	c.mode = ModeStructured
	c.state = querytree.DisplayState{}
	v, _ := querytree.RenderPayload(c.pairing.Tree, c.state)
	return v, nil
}

// Toggle flips the collapse state of a group in the open rule.
func (c *Coordinator) Toggle(groupID string) (querytree.DisplayState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairing == nil {
		return querytree.DisplayState{}, ErrNothingOpen
	}
	c.state = querytree.ToggleCollapse(c.state, groupID)
	return c.state, nil
}

// Mode returns the active presentation.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Current builds a snapshot of the open rule.
func (c *Coordinator) Current() (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pairing == nil {
		return nil, ErrNothingOpen
	}

	p := c.pairing
	snap := &Snapshot{
		RulePath:  p.RulePath,
		Title:     p.Title,
		Mode:      c.mode.String(),
		Status:    p.Tree.Kind.String(),
		Message:   p.Tree.Message,
		Payload:   p.Tree,
		Summary:   querytree.GenerateSummary(p.Tree),
		Collapsed: c.state.Collapsed(),
		Pending:   c.pending,
	}
	if _, ok := p.Tree.Tree(); ok {
		s := p.Tree.Stats()
		snap.Stats = &s
	}
	if v, ok := querytree.RenderPayload(p.Tree, c.state); ok {
		snap.View = v
	}
	snap.RawAvailable, snap.RawDisabledReason = c.rawAvailability()
	if c.mode == ModeRaw && snap.RawAvailable {
		rv := c.rawView()
		snap.Raw = &rv
	}
	return snap, nil
}

// Close discards the open rule and invalidates in-flight opens.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.pairing = nil
	c.pending = false
	c.state = querytree.DisplayState{}
	c.mode = ModeStructured
}

func (c *Coordinator) rawView() RawView {
	return RawView{
		RulePath:  c.pairing.RulePath,
		Text:      c.pairing.RawText,
		Formatted: FormatRawQuery(c.pairing.RawText),
	}
}

var rawBreaks = strings.NewReplacer(
	" AND ", "\nAND ",
	" OR ", "\nOR ",
	" NOT ", "\nNOT ",
)

// FormatRawQuery inserts line breaks before the boolean keywords of a linear
// query.
func FormatRawQuery(raw string) string {
	return rawBreaks.Replace(raw)
}
