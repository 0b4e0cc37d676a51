package querytree

// Stats describes the shape of a tree.
type Stats struct {
	Groups     int `json:"groups"`
	Conditions int `json:"conditions"`
	MaxDepth   int `json:"max_depth"`
}

// ComputeStats walks the tree depth-first. The root is at depth 0 and every
// visited node, group or condition, contributes to MaxDepth.
func ComputeStats(root Node) Stats {
	var s Stats
	Walk(root, func(n Node, _ string, depth int) {
		if depth > s.MaxDepth {
			s.MaxDepth = depth
		}
		switch n.(type) {
		case *Group:
			s.Groups++
		case *Condition:
			s.Conditions++
		}
	})
	return s
}

// Walk visits every node in document order: a group before its children,
// children in their given order. id is the node's stable identifier.
func Walk(root Node, visit func(n Node, id string, depth int)) {
	if root == nil {
		return
	}
	walk(root, RootID, 0, visit)
}

func walk(n Node, id string, depth int, visit func(Node, string, int)) {
	visit(n, id, depth)
	if g, ok := n.(*Group); ok {
		for i, child := range g.Children {
			walk(child, ChildID(id, i), depth+1, visit)
		}
	}
}
