// Package querytree models the boolean condition tree produced by the rule
// conversion service and the views derived from it.
//
// # Overview
//
// The conversion service turns a detection rule into nested AND/OR/NOT groups
// over field/operator/value conditions. This package:
//   - Parses the loosely-typed service payload into a sealed Node union (parse.go)
//   - Computes structural statistics (stats.go)
//   - Produces an indented textual outline (summary.go)
//   - Renders a collapsible view plus an HTML fragment (render.go, markup.go)
//   - Serializes a rendered view back into plain text for export (export.go)
//
// Collapse state lives in DisplayState, never on the tree itself, so a parsed
// tree is an immutable value that can be shared between rendering and export.
package querytree
