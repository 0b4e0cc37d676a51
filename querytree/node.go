package querytree

import (
	"encoding/json"
	"strconv"
)

// OperatorKind is the comparison applied by a Condition.
// Values outside the known set are preserved verbatim.
type OperatorKind string

const (
	OpContains   OperatorKind = "contains"
	OpStartsWith OperatorKind = "startswith"
	OpEndsWith   OperatorKind = "endswith"
	OpEquals     OperatorKind = "equals"
	OpIs         OperatorKind = "is"
	OpMatches    OperatorKind = "matches"
	OpExists     OperatorKind = "exists"
	OpRaw        OperatorKind = "raw"
)

// GroupOperator combines the children of a Group.
type GroupOperator string

const (
	GroupAnd GroupOperator = "AND"
	GroupOr  GroupOperator = "OR"
	GroupNot GroupOperator = "NOT"
)

// Node is a Condition or a Group. The interface is sealed.
type Node interface {
	isNode()
}

// Condition is a leaf test of the form field/operator/value.
type Condition struct {
	Field        string
	Operator     OperatorKind
	Value        string
	FieldDisplay string // optional label supplied by the conversion service
}

// Group combines an ordered list of children. Cardinality is not enforced:
// a NOT group may carry zero or several children.
type Group struct {
	Operator GroupOperator
	Children []Node
}

func (*Condition) isNode() {}
func (*Group) isNode()     {}

// MarshalJSON encodes the condition in the conversion service's wire shape.
func (c *Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type         string `json:"type"`
		Field        string `json:"field"`
		Operator     string `json:"operator"`
		Value        string `json:"value"`
		FieldDisplay string `json:"field_display,omitempty"`
	}{"condition", c.Field, string(c.Operator), c.Value, c.FieldDisplay})
}

// MarshalJSON encodes the group in the conversion service's wire shape.
func (g *Group) MarshalJSON() ([]byte, error) {
	children := g.Children
	if children == nil {
		children = []Node{}
	}
	return json.Marshal(struct {
		Type     string `json:"type"`
		Operator string `json:"operator"`
		Children []Node `json:"children"`
	}{"group", string(g.Operator), children})
}

// PayloadKind classifies a conversion service response.
type PayloadKind int

const (
	// PayloadTree is a Group-rooted tree, the only kind eligible for
	// statistics, summary and rendering.
	PayloadTree PayloadKind = iota
	// PayloadCondition is a degenerate tree whose root is a single condition.
	PayloadCondition
	// PayloadEmpty means the rule has no detection logic to show.
	PayloadEmpty
	// PayloadError means conversion failed.
	PayloadError
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadTree:
		return "tree"
	case PayloadCondition:
		return "condition"
	case PayloadEmpty:
		return "empty"
	case PayloadError:
		return "error"
	default:
		return "unknown(" + strconv.Itoa(int(k)) + ")"
	}
}

const (
	// DefaultErrorMessage is used when an error marker carries no message.
	DefaultErrorMessage = "Failed to parse query"
	// DefaultEmptyMessage is used when an empty marker carries no message.
	DefaultEmptyMessage = "No query to display"
)

// Payload is the validated top-level value received from the conversion service.
type Payload struct {
	Kind    PayloadKind
	Message string // set for PayloadEmpty and PayloadError
	Root    Node   // set for PayloadTree and PayloadCondition

	// OriginalQuery is the raw linear query the service sent alongside the tree.
	OriginalQuery string
}

// ErrorPayload builds an error marker.
func ErrorPayload(message string) Payload {
	if message == "" {
		message = DefaultErrorMessage
	}
	return Payload{Kind: PayloadError, Message: message}
}

// EmptyPayload builds an empty marker.
func EmptyPayload(message string) Payload {
	if message == "" {
		message = DefaultEmptyMessage
	}
	return Payload{Kind: PayloadEmpty, Message: message}
}

// TreePayload wraps a group root.
func TreePayload(root *Group) Payload {
	return Payload{Kind: PayloadTree, Root: root}
}

// Tree returns the group root when the payload is a Group-rooted tree.
func (p Payload) Tree() (*Group, bool) {
	if p.Kind != PayloadTree {
		return nil, false
	}
	g, ok := p.Root.(*Group)
	return g, ok && g != nil
}

// Renderable reports whether the payload has a root node to display.
func (p Payload) Renderable() bool {
	return (p.Kind == PayloadTree || p.Kind == PayloadCondition) && p.Root != nil
}

// Stats returns the statistics of a Group-rooted tree and zero otherwise.
func (p Payload) Stats() Stats {
	g, ok := p.Tree()
	if !ok {
		return Stats{}
	}
	return ComputeStats(g)
}

// MarshalJSON encodes the payload in the conversion service's wire shape.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case PayloadTree, PayloadCondition:
		if p.Root != nil {
			return json.Marshal(p.Root)
		}
	case PayloadEmpty:
		return json.Marshal(map[string]string{"type": "empty", "message": p.Message})
	}
	return json.Marshal(map[string]string{"type": "error", "message": p.Message})
}

// ChildID returns the stable identifier of the i-th child of the node with
// the given identifier. The root is RootID.
func ChildID(parent string, i int) string {
	return parent + "." + strconv.Itoa(i)
}

// RootID identifies the root node of every tree.
const RootID = "0"
