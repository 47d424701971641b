package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"qresponder/internal/config"
	"qresponder/internal/flags"
	"qresponder/internal/logging"
)

var (
	// configPath is the --config value.
	configPath string

	// flagValues receives raw flag values for every command (only one command
	// runs per process). Only flags the user set are copied into the effective
	// config, so flag defaults never mask the config file or the environment.
	flagValues = config.New()
)

// flagOverrides copies one flag's value from src (flagValues) to dst.
//
// MAINTAINER NOTE: every flag bound in this package needs an entry here
// (TestFlagOverrides_CoverEveryFlag enforces it).
var flagOverrides = map[string]func(dst, src *config.Config){
	// Global
	flags.FlagVerbose:   func(d, s *config.Config) { d.Runtime.Verbose = s.Runtime.Verbose },
	flags.FlagLogLevel:  func(d, s *config.Config) { d.Runtime.LogLevel = s.Runtime.LogLevel },
	flags.FlagLogFormat: func(d, s *config.Config) { d.Runtime.LogFormat = s.Runtime.LogFormat },

	// Requirement source
	flags.FlagSpreadsheet:     func(d, s *config.Config) { d.Source.SpreadsheetID = s.Source.SpreadsheetID },
	flags.FlagWorksheet:       func(d, s *config.Config) { d.Source.WorksheetIndex = s.Source.WorksheetIndex },
	flags.FlagCSV:             func(d, s *config.Config) { d.Source.CSV = s.Source.CSV },
	flags.FlagCredentials:     func(d, s *config.Config) { d.Source.CredentialsFile = s.Source.CredentialsFile },
	flags.FlagVerifyWrites:    func(d, s *config.Config) { d.Source.VerifyWrites = s.Source.VerifyWrites },
	flags.FlagWriteFailures:   func(d, s *config.Config) { d.Pipeline.WriteFailures = s.Pipeline.WriteFailures },
	flags.FlagWriteAttempts:   func(d, s *config.Config) { d.Pipeline.WriteAttempts = s.Pipeline.WriteAttempts },
	flags.FlagWriteRetryDelay: func(d, s *config.Config) { d.Pipeline.WriteRetryDelay = s.Pipeline.WriteRetryDelay },
	flags.FlagWriteTimeout:    func(d, s *config.Config) { d.Pipeline.WriteTimeout = s.Pipeline.WriteTimeout },

	// Documents
	flags.FlagSources:         func(d, s *config.Config) { d.Docs.Mode = s.Docs.Mode },
	flags.FlagDocsDir:         func(d, s *config.Config) { d.Docs.Dirs = s.Docs.Dirs },
	flags.FlagGitHubDocs:      func(d, s *config.Config) { d.Docs.GitHub = s.Docs.GitHub },
	flags.FlagGitHubSiteURL:   func(d, s *config.Config) { d.Docs.GitHubSiteURL = s.Docs.GitHubSiteURL },
	flags.FlagGitHubToken:     func(d, s *config.Config) { d.Docs.GitHubToken = s.Docs.GitHubToken },
	flags.FlagGCSDocs:         func(d, s *config.Config) { d.Docs.GCS = s.Docs.GCS },
	flags.FlagWebsite:         func(d, s *config.Config) { d.Docs.Websites = s.Docs.Websites },
	flags.FlagCrawl:           func(d, s *config.Config) { d.Docs.Crawl = s.Docs.Crawl },
	flags.FlagMaxPages:        func(d, s *config.Config) { d.Docs.MaxPages = s.Docs.MaxPages },
	flags.FlagMaxContextBytes: func(d, s *config.Config) { d.Docs.MaxContextBytes = s.Docs.MaxContextBytes },

	// Model
	flags.FlagProvider:          func(d, s *config.Config) { d.Model.Provider = s.Model.Provider },
	flags.FlagModel:             func(d, s *config.Config) { d.Model.Name = s.Model.Name },
	flags.FlagBaseURL:           func(d, s *config.Config) { d.Model.BaseURL = s.Model.BaseURL },
	flags.FlagTemperature:       func(d, s *config.Config) { d.Model.Temperature = s.Model.Temperature },
	flags.FlagMaxTokens:         func(d, s *config.Config) { d.Model.MaxTokens = s.Model.MaxTokens },
	flags.FlagRequestsPerMinute: func(d, s *config.Config) { d.Model.RequestsPerMinute = s.Model.RequestsPerMinute },
	flags.FlagModelTimeout:      func(d, s *config.Config) { d.Model.Timeout = s.Model.Timeout },
	flags.FlagPromptFile:        func(d, s *config.Config) { d.Model.PromptFile = s.Model.PromptFile },

	// Pipeline
	flags.FlagWorkers:       func(d, s *config.Config) { d.Pipeline.Workers = s.Pipeline.Workers },
	flags.FlagMaxAttempts:   func(d, s *config.Config) { d.Pipeline.MaxAttempts = s.Pipeline.MaxAttempts },
	flags.FlagRetryBase:     func(d, s *config.Config) { d.Pipeline.RetryBaseDelay = s.Pipeline.RetryBaseDelay },
	flags.FlagRetryMax:      func(d, s *config.Config) { d.Pipeline.RetryMaxDelay = s.Pipeline.RetryMaxDelay },
	flags.FlagRetryJitter:   func(d, s *config.Config) { d.Pipeline.RetryJitter = s.Pipeline.RetryJitter },
	flags.FlagDrainDeadline: func(d, s *config.Config) { d.Pipeline.DrainDeadline = s.Pipeline.DrainDeadline },
	flags.FlagDryRun:        func(d, s *config.Config) { d.Pipeline.DryRun = s.Pipeline.DryRun },

	// Output
	flags.FlagConsoleFormat:       func(d, s *config.Config) { d.Output.ConsoleFormat = s.Output.ConsoleFormat },
	flags.FlagConsoleFilterStatus: func(d, s *config.Config) { d.Output.ConsoleFilterStatus = s.Output.ConsoleFilterStatus },
	flags.FlagReport:              func(d, s *config.Config) { d.Output.Report = s.Output.Report },
	flags.FlagOut:                 func(d, s *config.Config) { d.Output.Out = s.Output.Out },
	flags.FlagOutFormat:           func(d, s *config.Config) { d.Output.OutFormat = s.Output.OutFormat },
	flags.FlagEmit:                func(d, s *config.Config) { d.Output.Emit = s.Output.Emit },
	flags.FlagNoConsole:           func(d, s *config.Config) { d.Output.NoConsole = s.Output.NoConsole },

	// Runtime
	flags.FlagTimeout:     func(d, s *config.Config) { d.Runtime.Timeout = s.Runtime.Timeout },
	flags.FlagMetricsAddr: func(d, s *config.Config) { d.Runtime.MetricsAddr = s.Runtime.MetricsAddr },
}

// overlayChangedFlags applies the flags set on fs from src onto dst.
func overlayChangedFlags(fs *pflag.FlagSet, dst, src *config.Config) {
	fs.Visit(func(f *pflag.Flag) {
		if apply, ok := flagOverrides[f.Name]; ok {
			apply(dst, src)
		}
	})
}

// effectiveConfig layers defaults, the config file, the environment and the
// flags set on cmd (whose values were bound into src). The result is not
// validated.
func effectiveConfig(cmd *cobra.Command, src *config.Config, lookupEnv func(string) (string, bool)) (*config.Config, error) {
	c := config.New()
	if err := c.LoadFile(configPath); err != nil {
		return nil, err
	}
	if err := c.ApplyEnv(lookupEnv); err != nil {
		return nil, err
	}
	overlayChangedFlags(cmd.Flags(), c, src)
	return c, nil
}

func newLogger(c *config.Config) (*slog.Logger, error) {
	return logging.New(logging.Config{
		Level:   c.Runtime.LogLevel,
		Format:  c.Runtime.LogFormat,
		Verbose: c.Runtime.Verbose,
		Writer:  os.Stderr,
		Service: "qresponder",
	})
}
