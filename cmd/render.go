package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"sigmalens/convert"
	"sigmalens/querytree"
)

var (
	renderCollapse []string
	renderExport   bool
	renderMarkup   bool
	renderValidate bool
)

// renderOutput is the JSON form of a rendered payload.
type renderOutput struct {
	Status     string           `json:"status"`
	Violations []string         `json:"schema_violations,omitempty"`
	Message    string           `json:"message,omitempty"`
	Stats      *querytree.Stats `json:"stats,omitempty"`
	Summary    []string         `json:"summary"`
	View       *querytree.View  `json:"view,omitempty"`
}

// newRenderCmd creates the 'render' subcommand
func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <payload.json>",
		Short: "Render a saved conversion service response",
		Long: `Render a structured conversion response read from a file, or from stdin
when the path is "-". No conversion service is contacted.`,
		Example: `  sigmalens render response.json
  curl -s 'localhost:5000/convert_to_structured?file_path=x.yml' | sigmalens render -
  sigmalens render response.json --export`,
		Args: cobra.ExactArgs(1),
		RunE: runRender,
	}

	cmd.Flags().StringSliceVar(&renderCollapse, "collapse", nil, "Group IDs to collapse")
	cmd.Flags().BoolVar(&renderExport, "export", false, "Print the plain-text export instead of the tree")
	cmd.Flags().BoolVar(&renderMarkup, "markup", false, "Print the HTML markup instead of the tree")
	cmd.Flags().BoolVar(&renderValidate, "validate", false, "Check the payload against the conversion response schema")

	return cmd
}

func runRender(cmd *cobra.Command, args []string) error {
	data, err := readPayload(cmd.InOrStdin(), args[0])
	if err != nil {
		return err
	}

	var violations []string
	if renderValidate {
		if violations, err = convert.ValidateStructured(data); err != nil {
			return err
		}
	}

	payload := querytree.ParsePayload(data)
	state := querytree.NewDisplayState(trimAll(renderCollapse)...)
	view, _ := querytree.RenderPayload(payload, state)
	out := cmd.OutOrStdout()

	switch {
	case renderExport:
		text, err := querytree.SerializeForExport(view)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, text)
		return nil
	case renderMarkup:
		if view == nil {
			return fmt.Errorf("nothing to render: %s", payload.Kind)
		}
		fmt.Fprintln(out, view.Markup)
		return nil
	}

	result := renderOutput{
		Status:     payload.Kind.String(),
		Violations: violations,
		Message:    payload.Message,
		Summary:    querytree.GenerateSummary(payload),
		View:       view,
	}
	if _, ok := payload.Tree(); ok {
		s := payload.Stats()
		result.Stats = &s
	}

	if outputJSON {
		return outputAsJSON(out, result)
	}

	if renderValidate {
		renderViolations(out, violations)
	}

	switch payload.Kind {
	case querytree.PayloadError:
		errorColor.Fprintf(out, "%s\n", payload.Message)
		if payload.OriginalQuery != "" {
			faintColor.Fprintf(out, "%s\n", payload.OriginalQuery)
		}
		return nil
	case querytree.PayloadEmpty:
		infoColor.Fprintf(out, "%s\n", payload.Message)
		return nil
	}

	if result.Stats != nil {
		renderStats(out, *result.Stats)
	}
	renderSummary(out, result.Summary)
	if view != nil {
		renderTree(out, view.Root)
	}
	return nil
}

// readPayload reads a response body from a file or, for "-", from in.
func readPayload(in io.Reader, name string) ([]byte, error) {
	if name != "-" {
		info, err := os.Stat(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		if info.Size() > maxPayloadFileSize {
			return nil, fmt.Errorf("payload file too large: %d bytes (max %d)", info.Size(), maxPayloadFileSize)
		}
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		defer f.Close()
		in = f
	}

	data, err := io.ReadAll(io.LimitReader(in, maxPayloadFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read payload: %w", err)
	}
	if len(data) > maxPayloadFileSize {
		return nil, fmt.Errorf("payload too large (max %d bytes)", maxPayloadFileSize)
	}
	return data, nil
}

func renderViolations(w io.Writer, violations []string) {
	if len(violations) == 0 {
		successColor.Fprintln(w, "✓ Payload matches the response schema")
		fmt.Fprintln(w)
		return
	}
	warningColor.Fprintf(w, "Payload does not match the response schema (%d issue(s)):\n", len(violations))
	for _, v := range violations {
		fmt.Fprintf(w, "  - %s\n", v)
	}
	fmt.Fprintln(w)
}

func trimAll(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
