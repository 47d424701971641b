package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"qresponder/internal/flags"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "qresponder",
	Short: "Answer compliance questionnaires from your own documentation",
	Long: `qresponder fills the compliance statement column of a security questionnaire.

Each unanswered requirement is evaluated by an LLM against a grounding context
built from your documentation (local files, GitHub docs repositories, a GCS
bucket and/or your public website), and the statement is written back to the
Google Sheet or CSV file it came from. Requirements the documents do not cover
are answered "not_found".

Examples:
	# Show available commands and global flags
	qresponder --help

	# Answer a Google Sheet from a local docs directory
	qresponder run --spreadsheet <id> --docs-dir ./docs

	# Show the effective configuration (secrets masked)
	qresponder config show

	# List the documents that would ground the answers
	qresponder docs list --docs-dir ./docs --website https://trust.example.com

	# Print build info
	qresponder version

Configuration:
	Settings are layered: built-in defaults < config file < environment < flags.
	The config file is --config, or the first of ./qresponder.yaml, ./config.yaml,
	~/.config/qresponder/config.yaml and /etc/qresponder/config.yaml.`,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, flags.FlagConfig, "", "Config file (YAML or JSON)")
	pf.BoolVar(&flagValues.Runtime.Verbose, flags.FlagVerbose, false, "Enable verbose logging (debug level, every HTTP request and full error details)")
	pf.StringVar(&flagValues.Runtime.LogLevel, flags.FlagLogLevel, flagValues.Runtime.LogLevel, "Log level: debug|info|warn|error")
	pf.StringVar(&flagValues.Runtime.LogFormat, flags.FlagLogFormat, "text", "Log format: text|json")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
