package flags

// Package flags defines canonical CLI flag names shared across the CLI and the
// config layer. Keeping these as constants avoids drift between Cobra flag
// wiring and code that needs to reference flags (e.g. "changed" checks when
// layering flags over the config file).
// IMPORTANT: These are flag *names* without leading dashes.
// Example usage:
//
//	cmd.Flags().StringVar(&cfg.Source.SpreadsheetID, flags.FlagSpreadsheet, "", "...")
//	arg := "--" + flags.FlagSpreadsheet
const (
	// Global
	FlagConfig    = "config"
	FlagVerbose   = "verbose"
	FlagLogLevel  = "log-level"
	FlagLogFormat = "log-format"

	// Requirement source
	FlagSpreadsheet     = "spreadsheet"
	FlagWorksheet       = "worksheet"
	FlagCSV             = "csv"
	FlagCredentials     = "credentials"
	FlagVerifyWrites    = "verify-writes"
	FlagWriteFailures   = "write-failures"
	FlagWriteAttempts   = "write-attempts"
	FlagWriteRetryDelay = "write-retry-delay"
	FlagWriteTimeout    = "write-timeout"

	// Documents
	FlagSources         = "sources"
	FlagDocsDir         = "docs-dir"
	FlagGitHubDocs      = "github-docs"
	FlagGitHubSiteURL   = "github-site-url"
	FlagGitHubToken     = "github-token"
	FlagGCSDocs         = "gcs-docs"
	FlagWebsite         = "website"
	FlagCrawl           = "crawl"
	FlagMaxPages        = "max-pages"
	FlagMaxContextBytes = "max-context-bytes"

	// Model
	FlagProvider          = "provider"
	FlagModel             = "model"
	FlagBaseURL           = "base-url"
	FlagTemperature       = "temperature"
	FlagMaxTokens         = "max-tokens"
	FlagRequestsPerMinute = "rpm"
	FlagModelTimeout      = "model-timeout"
	FlagPromptFile        = "prompt-file"

	// Pipeline
	FlagWorkers       = "workers"
	FlagMaxAttempts   = "max-attempts"
	FlagRetryBase     = "retry-base"
	FlagRetryMax      = "retry-max"
	FlagRetryJitter   = "retry-jitter"
	FlagDrainDeadline = "drain-deadline"
	FlagDryRun        = "dry-run"

	// Output
	FlagConsoleFormat       = "console-format"
	FlagConsoleFilterStatus = "console-filter-status"
	FlagReport              = "report"
	FlagOut                 = "out"
	FlagOutFormat           = "out-format"
	FlagEmit                = "emit"
	FlagNoConsole           = "no-console"

	// Runtime
	FlagTimeout     = "timeout"
	FlagMetricsAddr = "metrics-addr"
)
