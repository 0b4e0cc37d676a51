package querytree

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
)

// ErrNothingToExport is returned when a view has no structure and no text.
var ErrNothingToExport = errors.New("no query content to export")

var (
	markupTag  = regexp.MustCompile(`<[^>]*>`)
	whitespace = regexp.MustCompile(`\s+`)
)

// SerializeForExport converts a rendered view into plain indented text.
// Every node is written regardless of collapse state and values are never
// truncated. Without a structured root the markup's visible text is used.
func SerializeForExport(v *View) (string, error) {
	if v == nil {
		return "", ErrNothingToExport
	}
	if v.Root != nil {
		var b strings.Builder
		writeExport(&b, v.Root)
		return strings.TrimRight(b.String(), "\n"), nil
	}

	text := markupTag.ReplaceAllString(v.Markup, " ")
	text = html.UnescapeString(text)
	text = strings.TrimSpace(whitespace.ReplaceAllString(text, " "))
	if text == "" {
		return "", ErrNothingToExport
	}
	return text, nil
}

func writeExport(b *strings.Builder, n *ViewNode) {
	b.WriteString(strings.Repeat(summaryIndent, n.Depth))
	if n.IsGroup() {
		fmt.Fprintf(b, "%s: %s\n", n.OperatorLabel, n.Description)
		for _, child := range n.Children {
			writeExport(b, child)
		}
		return
	}

	b.WriteString(n.FieldDisplay)
	if n.FieldPath != "" && n.FieldPath != n.FieldDisplay {
		fmt.Fprintf(b, " (%s)", n.FieldPath)
	}
	fmt.Fprintf(b, " %s \"%s\"\n", n.OperatorLabel, n.FullValue)
}
