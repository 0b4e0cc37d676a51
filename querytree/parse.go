package querytree

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ParsePayload validates a raw conversion service response body.
// It never fails: anything that does not fit the tree shape becomes an
// error marker so callers can show it inline.
func ParsePayload(data []byte) Payload {
	if !gjson.ValidBytes(data) {
		return ErrorPayload(DefaultErrorMessage + ": invalid JSON")
	}
	return ParseValue(gjson.ParseBytes(data))
}

// ParseValue classifies an already-decoded value.
//
// Classification order: error marker, empty marker, then a group or condition
// node parsed recursively. Missing optional fields fall back to defaults.
func ParseValue(raw gjson.Result) Payload {
	if !raw.IsObject() {
		return ErrorPayload(DefaultErrorMessage + ": payload is not an object")
	}

	original := raw.Get("original_query").String()

	var p Payload
	switch nodeType := raw.Get("type").String(); nodeType {
	case "error":
		p = ErrorPayload(raw.Get("message").String())
	case "empty":
		p = EmptyPayload(raw.Get("message").String())
	case "group":
		p = Payload{Kind: PayloadTree, Root: parseGroup(raw)}
	case "condition":
		p = Payload{Kind: PayloadCondition, Root: parseCondition(raw)}
	case "":
		// The conversion route answers parse failures with {"error": "..."}.
		if e := raw.Get("error"); e.Type == gjson.String {
			p = ErrorPayload(e.String())
		} else {
			p = ErrorPayload(DefaultErrorMessage + ": missing node type")
		}
	default:
		p = ErrorPayload(fmt.Sprintf("%s: unsupported node type %q", DefaultErrorMessage, nodeType))
	}

	p.OriginalQuery = original
	return p
}

// parseNode parses a nested node. Nodes of unknown type are dropped.
func parseNode(raw gjson.Result) (Node, bool) {
	if !raw.IsObject() {
		return nil, false
	}
	switch raw.Get("type").String() {
	case "group":
		return parseGroup(raw), true
	case "condition":
		return parseCondition(raw), true
	default:
		return nil, false
	}
}

func parseGroup(raw gjson.Result) *Group {
	g := &Group{
		Operator: GroupOperator(raw.Get("operator").String()),
		Children: []Node{},
	}

	children := raw.Get("children")
	if !children.IsArray() {
		return g
	}
	children.ForEach(func(_, child gjson.Result) bool {
		if n, ok := parseNode(child); ok {
			g.Children = append(g.Children, n)
		}
		return true
	})
	return g
}

func parseCondition(raw gjson.Result) *Condition {
	op := raw.Get("operator").String()
	if op == "" {
		op = string(OpContains)
	}
	return &Condition{
		Field:        raw.Get("field").String(),
		Operator:     OperatorKind(op),
		Value:        raw.Get("value").String(),
		FieldDisplay: raw.Get("field_display").String(),
	}
}
