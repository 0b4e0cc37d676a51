package querytree

import "strings"

const (
	displayValueLimit = 60

	countBadgeThreshold  = 2
	collapsibleThreshold = 3
)

// Emphasis is the visual weight of a group description.
type Emphasis string

const (
	EmphasisStrong Emphasis = "strong"
	EmphasisLight  Emphasis = "em"
	EmphasisPlain  Emphasis = "plain"
)

// ViewNode kinds.
const (
	KindGroup     = "group"
	KindCondition = "condition"
)

var operatorLabels = map[OperatorKind]string{
	OpContains:   "Contains",
	OpStartsWith: "Starts With",
	OpEndsWith:   "Ends With",
	OpEquals:     "Equals",
	OpIs:         "Is",
	OpMatches:    "Matches",
	OpExists:     "Exists",
	OpRaw:        "Raw",
}

var groupDescriptions = map[GroupOperator]string{
	GroupAnd: "All conditions must be true",
	GroupOr:  "Any condition can be true",
	GroupNot: "Condition must be false",
}

var scriptPrefixes = []string{"Set-", "Get-", "Remove-", "New-"}

// ValueTags are cosmetic hints about a condition value.
type ValueTags struct {
	Script bool `json:"script"`
	Path   bool `json:"path"`
	Flag   bool `json:"flag"`
}

// ViewNode is one rendered node. Group-only and condition-only fields are
// left empty on the other kind.
type ViewNode struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Depth int    `json:"depth"`

	Operator      string      `json:"operator,omitempty"`
	OperatorLabel string      `json:"operator_label,omitempty"`
	OperatorClass string      `json:"operator_class,omitempty"`
	Description   string      `json:"description,omitempty"`
	Emphasis      Emphasis    `json:"emphasis,omitempty"`
	ChildCount    int         `json:"child_count,omitempty"`
	ShowCount     bool        `json:"show_count,omitempty"`
	Collapsible   bool        `json:"collapsible,omitempty"`
	Collapsed     bool        `json:"collapsed,omitempty"`
	Children      []*ViewNode `json:"children,omitempty"`

	FieldDisplay string     `json:"field_display,omitempty"`
	FieldPath    string     `json:"field_path,omitempty"`
	DisplayValue string     `json:"display_value,omitempty"`
	FullValue    string     `json:"full_value,omitempty"`
	Truncated    bool       `json:"truncated,omitempty"`
	Tags         *ValueTags `json:"tags,omitempty"`
}

// IsGroup reports whether the node is a group.
func (n *ViewNode) IsGroup() bool { return n != nil && n.Kind == KindGroup }

// View is a rendered tree plus its HTML fragment.
type View struct {
	Root   *ViewNode `json:"root"`
	Markup string    `json:"markup"`
}

// Find returns the node with the given id, or nil.
func (v *View) Find(id string) *ViewNode {
	if v == nil {
		return nil
	}
	return findNode(v.Root, id)
}

func findNode(n *ViewNode, id string) *ViewNode {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return n
	}
	for _, c := range n.Children {
		if !strings.HasPrefix(id, c.ID) {
			continue
		}
		if found := findNode(c, id); found != nil {
			return found
		}
	}
	return nil
}

// Render builds the view of a tree. Collapsed groups keep their children;
// only the Collapsed flag records the presentation state.
func Render(root Node, state DisplayState) *View {
	v := &View{}
	if root == nil {
		return v
	}
	v.Root = renderNode(root, RootID, 0, state)
	v.Markup = renderMarkup(v.Root)
	return v
}

// RenderPayload renders tree and single-condition payloads. Empty and error
// payloads have nothing to render.
func RenderPayload(p Payload, state DisplayState) (*View, bool) {
	if !p.Renderable() {
		return nil, false
	}
	return Render(p.Root, state), true
}

func renderNode(n Node, id string, depth int, state DisplayState) *ViewNode {
	switch v := n.(type) {
	case *Group:
		return renderGroup(v, id, depth, state)
	case *Condition:
		return renderCondition(v, id, depth)
	default:
		return nil
	}
}

func renderGroup(g *Group, id string, depth int, state DisplayState) *ViewNode {
	vn := &ViewNode{
		ID:            id,
		Kind:          KindGroup,
		Depth:         depth,
		Operator:      string(g.Operator),
		OperatorLabel: string(g.Operator),
		OperatorClass: OperatorClass(g.Operator),
		Description:   GroupDescription(g.Operator),
		Emphasis:      emphasisFor(depth),
		ChildCount:    len(g.Children),
		ShowCount:     len(g.Children) > countBadgeThreshold,
		Collapsible:   len(g.Children) > collapsibleThreshold,
		Children:      make([]*ViewNode, 0, len(g.Children)),
	}
	vn.Collapsed = vn.Collapsible && state.IsCollapsed(id)

	for i, child := range g.Children {
		if c := renderNode(child, ChildID(id, i), depth+1, state); c != nil {
			vn.Children = append(vn.Children, c)
		}
	}
	return vn
}

func renderCondition(c *Condition, id string, depth int) *ViewNode {
	op := c.Operator
	if op == "" {
		op = OpContains
	}

	path := c.Field
	if path == "" {
		path = unknownField
	}

	display, truncated := truncateRunes(c.Value, displayValueLimit)
	return &ViewNode{
		ID:            id,
		Kind:          KindCondition,
		Depth:         depth,
		Operator:      string(op),
		OperatorLabel: OperatorLabel(op),
		FieldDisplay:  ResolveFieldDisplay(c.Field, c.FieldDisplay),
		FieldPath:     path,
		DisplayValue:  display,
		FullValue:     c.Value,
		Truncated:     truncated,
		Tags:          tagValue(c.Value),
	}
}

// OperatorLabel returns the human label of a condition operator. Unknown
// operators are returned unchanged.
func OperatorLabel(op OperatorKind) string {
	if label, ok := operatorLabels[op]; ok {
		return label
	}
	return string(op)
}

// GroupDescription returns the fixed description of a group operator.
func GroupDescription(op GroupOperator) string {
	if d, ok := groupDescriptions[op]; ok {
		return d
	}
	return "Condition group"
}

// OperatorClass returns the style class of a group operator.
func OperatorClass(op GroupOperator) string {
	switch op {
	case GroupAnd:
		return "and-group"
	case GroupOr:
		return "or-group"
	case GroupNot:
		return "not-group"
	default:
		return ""
	}
}

func emphasisFor(depth int) Emphasis {
	switch depth {
	case 0:
		return EmphasisStrong
	case 1:
		return EmphasisLight
	default:
		return EmphasisPlain
	}
}

func tagValue(value string) *ValueTags {
	t := &ValueTags{
		Path: strings.ContainsAny(value, `\/`),
		Flag: strings.HasPrefix(value, "-"),
	}
	for _, prefix := range scriptPrefixes {
		if strings.Contains(value, prefix) {
			t.Script = true
			break
		}
	}
	return t
}
