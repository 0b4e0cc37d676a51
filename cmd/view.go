package cmd

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"sigmalens/bootstrap"
	"sigmalens/querytree"
	"sigmalens/sigma"
	"sigmalens/viewer"
)

var (
	viewRaw       bool
	viewCollapse  []string
	viewCopy      bool
	viewCopyValue string
	viewTitle     string
)

// newViewCmd creates the 'view' subcommand
func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <rule-path>",
		Short: "Show the condition tree of a rule",
		Long: `Fetch the structured condition tree of a rule from the conversion service and
print it with its statistics and a plain-language summary.

The rule path is relative to the rules directory and is passed to the
conversion service unchanged.`,
		Example: `  sigmalens view windows/process_creation/proc_creation_win_psexec.yml
  sigmalens view windows/proc.yml --collapse 0,0.1
  sigmalens view windows/proc.yml --raw
  sigmalens view windows/proc.yml --copy`,
		Args: cobra.ExactArgs(1),
		RunE: runView,
	}

	cmd.Flags().BoolVar(&viewRaw, "raw", false, "Show the raw linear query instead of the tree")
	cmd.Flags().StringSliceVar(&viewCollapse, "collapse", nil, "Group IDs to collapse")
	cmd.Flags().BoolVar(&viewCopy, "copy", false, "Copy the exported tree to the clipboard")
	cmd.Flags().StringVar(&viewCopyValue, "copy-value", "", "Copy the full value of a condition node to the clipboard")
	cmd.Flags().StringVar(&viewTitle, "title", "", "Title to display (default: the rule's title)")

	return cmd
}

func runView(cmd *cobra.Command, args []string) error {
	rulePath := args[0]
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sugar := cliLogger()

	client, err := bootstrap.InitConverter(cfg, nil, sugar)
	if err != nil {
		return err
	}

	title := viewTitle
	if title == "" {
		title = ruleTitle(cfg.Rules.Dir, rulePath)
	}

	session := viewer.NewSession("cli", client, sugar)
	defer session.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	var s *spinner.Spinner
	if !quiet && !outputJSON {
		s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
		s.Suffix = fmt.Sprintf(" Converting %s...", rulePath)
		s.Writer = cmd.ErrOrStderr()
		s.Start()
	}
	snap, err := session.Open(ctx, rulePath, title)
	if s != nil {
		s.Stop()
	}
	if err != nil {
		var openErr *viewer.OpenError
		if errors.As(err, &openErr) {
			errorColor.Fprintf(cmd.ErrOrStderr(), "✗ %s\n", openErr.Error())
		}
		return err
	}

	coord := session.Coordinator()
	for _, id := range trimAll(viewCollapse) {
		if _, err := coord.Toggle(id); err != nil {
			return err
		}
	}

	if viewRaw {
		if _, err := coord.SwitchToRaw(); err != nil {
			if !errors.Is(err, viewer.ErrRawUnavailable) {
				return err
			}
			_, reason := coord.RawAvailability()
			warningColor.Fprintf(cmd.ErrOrStderr(), "Raw view unavailable: %s\n", reason)
		}
	}

	if snap, err = coord.Current(); err != nil {
		return err
	}

	if outputJSON {
		if err := outputAsJSON(out, snap); err != nil {
			return err
		}
	} else {
		renderSnapshot(out, snap)
	}

	switch {
	case viewCopyValue != "":
		return copyNodeValue(cmd, snap.View, viewCopyValue)
	case viewCopy:
		return copyExport(cmd, snap.View)
	}
	return nil
}

// ruleTitle reads the title from the rule file when it exists locally.
func ruleTitle(rulesDir, rulePath string) string {
	rule, err := sigma.NewParser().ParseFile(filepath.Join(rulesDir, filepath.FromSlash(rulePath)))
	if err == nil && rule.Title != "" {
		return rule.Title
	}
	return path.Base(rulePath)
}

func copyExport(cmd *cobra.Command, view *querytree.View) error {
	text, err := querytree.SerializeForExport(view)
	if err != nil {
		warningColor.Fprintf(cmd.ErrOrStderr(), "Nothing to copy: %v\n", err)
		return nil
	}
	return copyText(cmd, text)
}

func copyNodeValue(cmd *cobra.Command, view *querytree.View, id string) error {
	node := view.Find(id)
	if node == nil || node.IsGroup() {
		return fmt.Errorf("no condition with id %q", id)
	}
	return copyText(cmd, node.FullValue)
}

func copyText(cmd *cobra.Command, text string) error {
	method, err := newClipboard().Write(text)
	if err != nil {
		warningColor.Fprintf(cmd.ErrOrStderr(), "Copy failed: %v\n", err)
		return nil
	}
	if !quiet {
		successColor.Fprintf(cmd.ErrOrStderr(), "✓ Copied to clipboard (%s)\n", method)
	}
	return nil
}
