package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"sigmalens/querytree"
	"sigmalens/search"
	"sigmalens/viewer"
)

// renderSnapshot prints the open rule: header, stats, summary and either the
// tree or the raw query.
func renderSnapshot(w io.Writer, snap *viewer.Snapshot) {
	headerColor.Fprintf(w, "%s\n", snap.Title)
	faintColor.Fprintf(w, "%s\n\n", snap.RulePath)

	switch snap.Status {
	case querytree.PayloadError.String():
		errorColor.Fprintf(w, "%s\n", snap.Message)
		return
	case querytree.PayloadEmpty.String():
		infoColor.Fprintf(w, "%s\n", snap.Message)
		return
	}

	if snap.Raw != nil {
		renderRaw(w, snap.Raw)
		return
	}

	if snap.Stats != nil {
		renderStats(w, *snap.Stats)
	}
	renderSummary(w, snap.Summary)
	if snap.View != nil {
		renderTree(w, snap.View.Root)
	}
	if !snap.RawAvailable {
		faintColor.Fprintf(w, "\nRaw view: %s\n", snap.RawDisabledReason)
	}
}

func renderStats(w io.Writer, s querytree.Stats) {
	fmt.Fprintf(w, "%s %d   %s %d   %s %d\n\n",
		infoColor.Sprint("Groups:"), s.Groups,
		infoColor.Sprint("Conditions:"), s.Conditions,
		infoColor.Sprint("Max depth:"), s.MaxDepth)
}

func renderSummary(w io.Writer, lines []string) {
	if len(lines) == 0 {
		return
	}
	headerColor.Fprintln(w, "Summary")
	for _, line := range lines {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w)
}

func renderRaw(w io.Writer, rv *viewer.RawView) {
	headerColor.Fprintln(w, "Raw query")
	fmt.Fprintln(w, rv.Formatted)
}

// renderTree prints a view as an indented tree. Collapsed groups show their
// size instead of their children.
func renderTree(w io.Writer, root *querytree.ViewNode) {
	if root == nil {
		return
	}
	headerColor.Fprintln(w, "Conditions")
	renderTreeNode(w, root, "", "", true)
}

func renderTreeNode(w io.Writer, n *querytree.ViewNode, prefix, branch string, last bool) {
	fmt.Fprint(w, prefix+branch)

	if !n.IsGroup() {
		renderConditionLine(w, n)
		return
	}

	fmt.Fprintf(w, "%s %s", operatorColor(n.Operator).Sprint(n.OperatorLabel), descriptionColor(n.Emphasis).Sprint(n.Description))
	if n.ShowCount {
		faintColor.Fprintf(w, " (%d)", n.ChildCount)
	}
	faintColor.Fprintf(w, "  [%s]", n.ID)
	if n.Collapsed {
		warningColor.Fprintf(w, " collapsed, %d hidden\n", n.ChildCount)
		return
	}
	fmt.Fprintln(w)

	childPrefix := prefix
	if branch != "" {
		if last {
			childPrefix += "    "
		} else {
			childPrefix += "│   "
		}
	}
	for i, c := range n.Children {
		isLast := i == len(n.Children)-1
		b := "├── "
		if isLast {
			b = "└── "
		}
		renderTreeNode(w, c, childPrefix, b, isLast)
	}
}

func renderConditionLine(w io.Writer, n *querytree.ViewNode) {
	field := color.New(color.Bold).Sprint(n.FieldDisplay)
	if n.FieldPath != "" && n.FieldPath != n.FieldDisplay {
		field += faintColor.Sprintf(" (%s)", n.FieldPath)
	}
	value := valueColor(n.Tags).Sprintf("%q", n.DisplayValue)
	if n.Truncated {
		value += faintColor.Sprint(" (truncated)")
	}
	fmt.Fprintf(w, "%s %s %s", field, infoColor.Sprint(n.OperatorLabel), value)
	faintColor.Fprintf(w, "  [%s]\n", n.ID)
}

func operatorColor(op string) *color.Color {
	switch querytree.GroupOperator(op) {
	case querytree.GroupAnd:
		return color.New(color.FgBlue, color.Bold)
	case querytree.GroupOr:
		return color.New(color.FgGreen, color.Bold)
	case querytree.GroupNot:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.Bold)
	}
}

func descriptionColor(e querytree.Emphasis) *color.Color {
	switch e {
	case querytree.EmphasisStrong:
		return color.New(color.Bold)
	case querytree.EmphasisLight:
		return color.New(color.Italic)
	default:
		return color.New(color.Reset)
	}
}

func valueColor(tags *querytree.ValueTags) *color.Color {
	switch {
	case tags == nil:
		return color.New(color.Reset)
	case tags.Script:
		return color.New(color.FgMagenta)
	case tags.Path:
		return color.New(color.FgCyan)
	case tags.Flag:
		return color.New(color.FgYellow)
	default:
		return color.New(color.Reset)
	}
}

// renderSearchResults prints search hits as a table.
func renderSearchResults(w io.Writer, res search.Result) {
	if res.Degraded && !quiet {
		warningColor.Fprintf(w, "Advanced search unavailable (%s), showing local matches\n", res.Reason)
	}
	if len(res.Records) == 0 {
		warningColor.Fprintln(w, "No rules found")
		return
	}

	headerColor.Fprintf(w, "%d rule(s) found\n", res.TotalFound)
	fmt.Fprintf(w, "%-50s %-10s %s\n", "Title", "Level", "Path")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, r := range res.Records {
		title := r.Title
		if len([]rune(title)) > 49 {
			title = string([]rune(title)[:46]) + "..."
		}
		fmt.Fprintf(w, "%-50s %-10s %s\n", title, r.Level, r.Path)
	}
}
