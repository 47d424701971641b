package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"qresponder/internal/config"
	"qresponder/internal/engine"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	Long: `Print the configuration a run would use, after layering defaults, the config
file, the environment and any flags given to this command. API keys and tokens
are masked.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runConfigShow(cmd, flagValues, os.LookupEnv))
	},
}

func runConfigShow(cmd *cobra.Command, values *config.Config, lookupEnv func(string) (string, bool)) int {
	c, err := effectiveConfig(cmd, values, lookupEnv)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return engine.ExitFatal
	}
	if err := c.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: configuration is not runnable: %v\n", err)
	}
	if err := writeConfig(cmd.OutOrStdout(), c); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		return engine.ExitFatal
	}
	return engine.ExitOK
}

func writeConfig(w io.Writer, c *config.Config) error {
	heading := color.New(color.Bold)

	file := c.File
	if file == "" {
		file = "(none)"
	}
	if _, err := fmt.Fprintf(w, "%s %s\n", heading.Sprint("Config file:"), file); err != nil {
		return err
	}

	masked := c.Masked()
	sections := []struct {
		name  string
		value any
	}{
		{"source", masked.Source},
		{"docs", masked.Docs},
		{"model", masked.Model},
		{"pipeline", masked.Pipeline},
		{"output", masked.Output},
		{"runtime", masked.Runtime},
	}
	for _, s := range sections {
		data, err := yaml.Marshal(s.value)
		if err != nil {
			return fmt.Errorf("render %s: %w", s.name, err)
		}
		var b strings.Builder
		b.WriteString("\n" + heading.Sprint(s.name+":") + "\n")
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			b.WriteString("  " + line + "\n")
		}
		if _, err := io.WriteString(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	bindAllFlags(configShowCmd.Flags(), flagValues)
}
