package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"qresponder/internal/config"
	"qresponder/internal/engine"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Inspect grounding documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Load the configured document sources and list the documents",
	Long: `Load the configured document sources and list the documents that form the
grounding context, in the order the model sees them (website pages first in
"both" mode), with the URL each citation is rewritten to.

Examples:
	qresponder docs list --docs-dir ./docs
	qresponder docs list --sources website --website https://trust.example.com --crawl
	qresponder docs list --github-docs acme/trust-center@main:docs --github-site-url https://trust.acme.com
`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runDocsList(cmd, flagValues, os.LookupEnv))
	},
}

func runDocsList(cmd *cobra.Command, values *config.Config, lookupEnv func(string) (string, bool)) int {
	stderr := cmd.ErrOrStderr()

	c, err := effectiveConfig(cmd, values, lookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return engine.ExitFatal
	}
	if err := c.ValidateDocs(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return engine.ExitFatal
	}
	logger, err := newLogger(c)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return engine.ExitFatal
	}

	eng := engine.New(logger)
	eng.Stdout = cmd.OutOrStdout()
	eng.Stderr = stderr
	return eng.ListDocuments(context.Background(), c)
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsListCmd)

	fs := docsListCmd.Flags()
	bindDocsFlags(fs, flagValues)
	bindCredentialsFlag(fs, flagValues)
	bindTimeoutFlag(fs, flagValues)
}
