package querytree

import (
	"html"
	"strconv"
	"strings"
)

// renderMarkup writes the HTML fragment for a rendered tree. Every value is
// escaped; collapsed group content is hidden with an inline style.
func renderMarkup(root *ViewNode) string {
	if root == nil {
		return ""
	}
	var b strings.Builder
	writeMarkup(&b, root)
	return b.String()
}

func writeMarkup(b *strings.Builder, n *ViewNode) {
	if n.IsGroup() {
		writeGroupMarkup(b, n)
		return
	}
	writeConditionMarkup(b, n)
}

func writeGroupMarkup(b *strings.Builder, n *ViewNode) {
	esc := html.EscapeString

	b.WriteString(`<div class="query-group" data-node-id="` + esc(n.ID) + `">`)

	header := "query-group-header"
	if n.Collapsed {
		header += " collapsed"
	}
	b.WriteString(`<div class="` + header + `"`)
	if n.Collapsible {
		b.WriteString(` data-toggle="` + esc(n.ID) + `"`)
	}
	b.WriteString(`>`)

	class := "query-group-operator"
	if n.OperatorClass != "" {
		class += " " + n.OperatorClass
	}
	b.WriteString(`<span class="` + class + `">` + esc(n.OperatorLabel) + `</span>`)

	desc := esc(n.Description)
	switch n.Emphasis {
	case EmphasisStrong:
		desc = "<strong>" + desc + "</strong>"
	case EmphasisLight:
		desc = "<em>" + desc + "</em>"
	}
	b.WriteString(`<span class="query-group-description">` + desc + `</span>`)

	if n.ShowCount {
		count := strconv.Itoa(n.ChildCount)
		b.WriteString(`<span class="query-group-count" title="Complex group with ` + count + ` conditions">` + count + `</span>`)
	}
	if n.Collapsible {
		chevron := "down"
		if n.Collapsed {
			chevron = "right"
		}
		b.WriteString(`<span class="query-group-toggle chevron-` + chevron + `"></span>`)
	}
	b.WriteString(`</div>`)

	b.WriteString(`<div class="query-group-content"`)
	if n.Collapsed {
		b.WriteString(` style="display:none"`)
	}
	b.WriteString(`>`)
	for _, child := range n.Children {
		writeMarkup(b, child)
	}
	b.WriteString(`</div></div>`)
}

func writeConditionMarkup(b *strings.Builder, n *ViewNode) {
	esc := html.EscapeString

	b.WriteString(`<div class="query-condition" data-node-id="` + esc(n.ID) + `">`)
	b.WriteString(`<div class="query-condition-field" title="` + esc(n.FieldPath) + `">`)
	b.WriteString(`<div class="query-condition-field-name">` + esc(n.FieldDisplay) + `</div>`)
	b.WriteString(`<div class="query-condition-field-path">` + esc(n.FieldPath) + `</div>`)
	b.WriteString(`</div>`)
	b.WriteString(`<div class="query-condition-operator ` + esc(n.Operator) + `">` + esc(n.OperatorLabel) + `</div>`)
	b.WriteString(`<div class="query-condition-value" title="` + esc(n.FullValue) + `">`)
	b.WriteString(valueMarkup(n))
	b.WriteString(`</div></div>`)
}

// valueMarkup wraps the display value in highlight spans. Truncated values
// are shown as a plain preview.
func valueMarkup(n *ViewNode) string {
	if n.DisplayValue == "" {
		return ""
	}
	v := html.EscapeString(n.DisplayValue)
	if n.Truncated {
		return `<span class="value-preview">` + v + `</span>`
	}
	if n.Tags == nil {
		return v
	}
	if n.Tags.Script {
		v = `<span class="value-powershell">` + v + `</span>`
	}
	if n.Tags.Path {
		v = `<span class="value-path">` + v + `</span>`
	}
	if n.Tags.Flag {
		v = `<span class="value-parameter">` + v + `</span>`
	}
	return v
}
