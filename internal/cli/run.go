package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"qresponder/internal/config"
	"qresponder/internal/engine"
	"qresponder/internal/flags"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Answer every unresolved requirement",
	Long: `Answer every unresolved requirement of a questionnaire.

Requirements are read from the "Requirement" column of a Google Sheet
(--spreadsheet) or a CSV file (--csv). Rows whose "Compliance Statement"
column is already filled are skipped, so re-running only retries what is left.

Grounding documents come from --docs-dir, --github-docs, --gcs-docs and
--website; --sources selects which kinds are used (both, docs, website).

Authentication:
	Model: GEMINI_API_KEY (or OPENAI_API_KEY with --provider openai).
	Google Sheets and GCS: --credentials / GOOGLE_APPLICATION_CREDENTIALS, or
	Application Default Credentials.
	GitHub docs repositories: --github-token, GITHUB_TOKEN, GH_TOKEN or gh auth.

Output:
	Console output is controlled by --console-format (default: text).
	Structured outputs can be written via:
	- --out / --out-format: write an aggregate JSON document or NDJSON stream to a file
	- --emit: write an additional structured stream to stdout (json or ndjson)
	- --report: write a Markdown run report
	- --no-console: suppress the console sink (use with --emit/--out for machine output)

	NDJSON mode emits lifecycle events with a "type" field (run.started,
	run.state, row.result, run.finished).

Exit codes:
	0 = every pending row answered from the documents
	1 = some rows answered not_found
	2 = partial failure (some rows failed)
	3 = fatal error (run did not start or was aborted)

Examples:
	export GEMINI_API_KEY="<your_key>"
	qresponder run --spreadsheet 1AbC... --docs-dir ./docs

	# Local CSV, website only, list what would be answered
	qresponder run --csv questions.csv --sources website --website https://trust.example.com --dry-run

	# AI Agent: stream machine-readable events to stdout
	qresponder run --csv questions.csv --docs-dir ./docs --no-console --emit ndjson
`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runRun(cmd, flagValues, os.LookupEnv))
	},
}

func runRun(cmd *cobra.Command, values *config.Config, lookupEnv func(string) (string, bool)) int {
	stderr := cmd.ErrOrStderr()

	c, err := effectiveConfig(cmd, values, lookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return engine.ExitFatal
	}
	if err := c.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return engine.ExitFatal
	}
	logger, err := newLogger(c)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return engine.ExitFatal
	}
	if c.File != "" {
		logger.Debug("loaded config file", "path", c.File)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := engine.New(logger)
	eng.Stdout = cmd.OutOrStdout()
	eng.Stderr = stderr
	return eng.Run(ctx, c)
}

func bindSourceFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Source.SpreadsheetID, flags.FlagSpreadsheet, "", "Google spreadsheet ID to answer (env: SPREADSHEET_ID)")
	fs.IntVar(&c.Source.WorksheetIndex, flags.FlagWorksheet, 0, "0-based worksheet index; out of range falls back to the first sheet (env: WORKSHEET_INDEX)")
	fs.StringVar(&c.Source.CSV, flags.FlagCSV, "", "Read requirements from a local CSV file instead of a spreadsheet")
	fs.BoolVar(&c.Source.VerifyWrites, flags.FlagVerifyWrites, false, "Read every written cell back and retry empty writes (env: VERIFY_WRITES)")
	fs.BoolVar(&c.Pipeline.WriteFailures, flags.FlagWriteFailures, false, `Write "ERROR: <kind>" into rows that failed (default: leave them empty for the next run)`)
	fs.IntVar(&c.Pipeline.WriteAttempts, flags.FlagWriteAttempts, c.Pipeline.WriteAttempts, "Attempts per source write")
	fs.DurationVar(&c.Pipeline.WriteRetryDelay, flags.FlagWriteRetryDelay, c.Pipeline.WriteRetryDelay, "Delay between source write attempts (grows linearly)")
	fs.DurationVar(&c.Pipeline.WriteTimeout, flags.FlagWriteTimeout, c.Pipeline.WriteTimeout, "Timeout of a single source write attempt")
}

func bindCredentialsFlag(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Source.CredentialsFile, flags.FlagCredentials, "", "Google service-account JSON for Sheets and GCS (env: GOOGLE_APPLICATION_CREDENTIALS; default: Application Default Credentials)")
}

func bindDocsFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Docs.Mode, flags.FlagSources, c.Docs.Mode, "Grounding sources: both|docs|website (env: SOURCES)")
	fs.StringSliceVar(&c.Docs.Dirs, flags.FlagDocsDir, nil, "Local documentation directory (repeatable; comma-separated accepted; env: DOCS_DIR)")
	fs.StringSliceVar(&c.Docs.GitHub, flags.FlagGitHubDocs, nil, "GitHub docs repository as owner/repo[@ref][:dir] (repeatable)")
	fs.StringVar(&c.Docs.GitHubSiteURL, flags.FlagGitHubSiteURL, "", "Published site of the GitHub docs; README files link to its pages")
	fs.StringVar(&c.Docs.GitHubToken, flags.FlagGitHubToken, "", "GitHub token (default: GITHUB_TOKEN, GH_TOKEN, then gh auth token)")
	fs.StringSliceVar(&c.Docs.GCS, flags.FlagGCSDocs, nil, "GCS documents as gs://bucket/prefix (repeatable)")
	fs.StringSliceVar(&c.Docs.Websites, flags.FlagWebsite, nil, "Website start URL (repeatable; comma-separated accepted; env: WEBSITE_URLS)")
	fs.BoolVar(&c.Docs.Crawl, flags.FlagCrawl, false, "Follow same-host links from each website")
	fs.IntVar(&c.Docs.MaxPages, flags.FlagMaxPages, c.Docs.MaxPages, "Maximum pages per website crawl")
	fs.IntVar(&c.Docs.MaxContextBytes, flags.FlagMaxContextBytes, 0, "Cap on the grounding context size in bytes (0 = unlimited)")
}

func bindModelFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Model.Provider, flags.FlagProvider, c.Model.Provider, "Model provider: gemini|openai")
	fs.StringVar(&c.Model.Name, flags.FlagModel, "", fmt.Sprintf("Model name (default: %s for gemini, %s for openai)", config.DefaultGeminiModel, config.DefaultOpenAIModel))
	fs.StringVar(&c.Model.BaseURL, flags.FlagBaseURL, "", "Override the provider's OpenAI-compatible endpoint")
	fs.Float32Var(&c.Model.Temperature, flags.FlagTemperature, c.Model.Temperature, "Sampling temperature (0-2)")
	fs.IntVar(&c.Model.MaxTokens, flags.FlagMaxTokens, 0, "Maximum tokens per answer (0 = provider default)")
	fs.IntVar(&c.Model.RequestsPerMinute, flags.FlagRequestsPerMinute, 0, "Pace model calls across workers (0 = unpaced)")
	fs.DurationVar(&c.Model.Timeout, flags.FlagModelTimeout, c.Model.Timeout, "Timeout of a single model call")
	fs.StringVar(&c.Model.PromptFile, flags.FlagPromptFile, "", "Replace the default prompt with this Go text/template file")
}

func bindPipelineFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.IntVar(&c.Pipeline.Workers, flags.FlagWorkers, c.Pipeline.Workers, "Concurrent model calls (env: MAX_WORKERS, GEMINI_MAX_WORKERS)")
	fs.IntVar(&c.Pipeline.MaxAttempts, flags.FlagMaxAttempts, c.Pipeline.MaxAttempts, "Model attempts per requirement")
	fs.DurationVar(&c.Pipeline.RetryBaseDelay, flags.FlagRetryBase, c.Pipeline.RetryBaseDelay, "Base retry delay (doubles per attempt)")
	fs.DurationVar(&c.Pipeline.RetryMaxDelay, flags.FlagRetryMax, c.Pipeline.RetryMaxDelay, "Maximum retry delay")
	fs.Float64Var(&c.Pipeline.RetryJitter, flags.FlagRetryJitter, c.Pipeline.RetryJitter, "Random fraction added to each retry delay (0-1)")
	fs.DurationVar(&c.Pipeline.DrainDeadline, flags.FlagDrainDeadline, c.Pipeline.DrainDeadline, "How long in-flight calls may finish after an abort")
	fs.BoolVar(&c.Pipeline.DryRun, flags.FlagDryRun, false, "List pending requirements and loaded documents without calling the model")
}

func bindOutputFlags(fs *pflag.FlagSet, c *config.Config) {
	fs.StringVar(&c.Output.ConsoleFormat, flags.FlagConsoleFormat, c.Output.ConsoleFormat, "Console output format: text|json|ndjson")
	fs.StringSliceVar(&c.Output.ConsoleFilterStatus, flags.FlagConsoleFilterStatus, nil, "Filter console output by status (SUCCEEDED, NOT_FOUND, FAILED, ABORTED). Comma-separated.")
	fs.StringVar(&c.Output.Report, flags.FlagReport, "", "Write a Markdown run report to this path")
	fs.StringVar(&c.Output.Out, flags.FlagOut, "", "Write structured output to this path")
	fs.StringVar(&c.Output.OutFormat, flags.FlagOutFormat, "", "Structured output format for --out: json|ndjson (default: inferred from file extension)")
	fs.StringSliceVar(&c.Output.Emit, flags.FlagEmit, nil, "Emit additional structured stream to stdout: json|ndjson (repeatable; comma-separated accepted)")
	fs.BoolVar(&c.Output.NoConsole, flags.FlagNoConsole, false, "Suppress console output (use with --emit/--out/--report)")
}

func bindTimeoutFlag(fs *pflag.FlagSet, c *config.Config) {
	fs.DurationVar(&c.Runtime.Timeout, flags.FlagTimeout, c.Runtime.Timeout, "Global timeout")
}

func bindRuntimeFlags(fs *pflag.FlagSet, c *config.Config) {
	bindTimeoutFlag(fs, c)
	fs.StringVar(&c.Runtime.MetricsAddr, flags.FlagMetricsAddr, "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
}

// bindAllFlags binds every run setting; config show accepts the same flags
// so it can preview their effect.
func bindAllFlags(fs *pflag.FlagSet, c *config.Config) {
	bindSourceFlags(fs, c)
	bindCredentialsFlag(fs, c)
	bindDocsFlags(fs, c)
	bindModelFlags(fs, c)
	bindPipelineFlags(fs, c)
	bindOutputFlags(fs, c)
	bindRuntimeFlags(fs, c)
}

func init() {
	rootCmd.AddCommand(runCmd)
	bindAllFlags(runCmd.Flags(), flagValues)
}
