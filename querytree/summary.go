package querytree

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// Ellipsis marks truncated values.
	Ellipsis = "..."

	summaryValueLimit = 30
	summaryIndent     = "  "
)

// GenerateSummary returns the indented outline of a Group-rooted tree, one
// line per node in document order. Other payload kinds yield no lines.
func GenerateSummary(p Payload) []string {
	g, ok := p.Tree()
	if !ok {
		return []string{}
	}
	return SummarizeGroup(g)
}

// SummarizeGroup outlines the tree rooted at g.
func SummarizeGroup(g *Group) []string {
	lines := []string{}
	if g == nil {
		return lines
	}
	Walk(g, func(n Node, _ string, depth int) {
		indent := strings.Repeat(summaryIndent, depth)
		switch v := n.(type) {
		case *Group:
			lines = append(lines, fmt.Sprintf("%s%s Group (%d items)", indent, v.Operator, len(v.Children)))
		case *Condition:
			field := v.Field
			if field == "" {
				field = "Unknown"
			}
			value, _ := truncateRunes(v.Value, summaryValueLimit)
			lines = append(lines, fmt.Sprintf("%s%s %s \"%s\"", indent, field, v.Operator, value))
		}
	})
	return lines
}

// truncateRunes cuts s to limit runes and appends Ellipsis when it is longer.
func truncateRunes(s string, limit int) (string, bool) {
	if utf8.RuneCountInString(s) <= limit {
		return s, false
	}
	return string([]rune(s)[:limit]) + Ellipsis, true
}
