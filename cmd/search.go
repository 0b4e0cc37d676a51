package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sigmalens/bootstrap"
	"sigmalens/sigma"
)

var (
	searchRulesDir string
	searchLimit    int
)

// newSearchCmd creates the 'search' subcommand
func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the rule catalog",
		Long: `Search rules by free text or by the advanced query language of the search
service. When the search service is disabled or unreachable the query is
matched as a case-insensitive substring against title, filename, description
and tags.`,
		Example: `  sigmalens search psexec
  sigmalens search 'tag:attack.t1059 AND level:high'
  sigmalens search mimikatz --rules-dir ./rules --json`,
		Args: cobra.ExactArgs(1),
		RunE: runSearch,
	}

	cmd.Flags().StringVar(&searchRulesDir, "rules-dir", "", "Rules directory (default from config)")
	cmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum number of results to print (0 for all)")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if searchRulesDir != "" {
		cfg.Rules.Dir = searchRulesDir
	}
	sugar := cliLogger()

	catalog := sigma.NewCatalog(cfg.Rules.Dir, sugar)
	if _, err := catalog.Load(); err != nil {
		return fmt.Errorf("failed to load rules from %s: %w", cfg.Rules.Dir, err)
	}

	searcher := bootstrap.InitSearcher(cfg, sugar)

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	res := searcher.Search(ctx, catalog.Records(), args[0])
	if searchLimit > 0 && len(res.Records) > searchLimit {
		res.Records = res.Records[:searchLimit]
	}

	if outputJSON {
		return outputAsJSON(cmd.OutOrStdout(), res)
	}
	renderSearchResults(cmd.OutOrStdout(), res)
	return nil
}
