package cli

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"qresponder/internal/config"
	"qresponder/internal/flags"
)

func init() {
	color.NoColor = true
}

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// newTestCommand returns a command with every run flag bound to a fresh
// config, parsed from args, with captured output.
func newTestCommand(t *testing.T, args ...string) (*cobra.Command, *config.Config, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	values := config.New()
	cmd := &cobra.Command{Use: "test"}
	bindAllFlags(cmd.Flags(), values)
	cmd.Flags().BoolVar(&values.Runtime.Verbose, flags.FlagVerbose, false, "")
	if err := cmd.Flags().Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	return cmd, values, &stdout, &stderr
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFlagOverrides_CoverEveryFlag(t *testing.T) {
	var walk func(c *cobra.Command)
	walk = func(c *cobra.Command) {
		check := func(f *pflag.Flag) {
			if f.Name == flags.FlagConfig || f.Name == "help" || f.Name == "version" {
				return
			}
			if _, ok := flagOverrides[f.Name]; !ok {
				t.Errorf("flag --%s of %q has no entry in flagOverrides", f.Name, c.CommandPath())
			}
		}
		c.LocalFlags().VisitAll(check)
		c.PersistentFlags().VisitAll(check)
		for _, sub := range c.Commands() {
			if sub.Name() == "completion" || sub.Name() == "help" {
				continue
			}
			walk(sub)
		}
	}
	walk(rootCmd)
}

func TestEffectiveConfig_Layering(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "qresponder.yaml", `
source:
  csv: from-file.csv
docs:
  mode: docs
pipeline:
  workers: 6
  max_attempts: 2
`)

	cmd, values, _, _ := newTestCommand(t, "--max-attempts", "5", "--docs-dir", "a,b")
	c, err := effectiveConfig(cmd, values, envMap(map[string]string{"MAX_WORKERS": "8"}))
	if err != nil {
		t.Fatalf("effectiveConfig returned error: %v", err)
	}

	if c.File != "qresponder.yaml" {
		t.Fatalf("File = %q", c.File)
	}
	if c.Source.CSV != "from-file.csv" || c.Docs.Mode != "docs" {
		t.Fatalf("file values lost: %+v %+v", c.Source, c.Docs)
	}
	// Environment beats the file; an unset flag's default does not beat either.
	if c.Pipeline.Workers != 8 {
		t.Fatalf("Workers = %d, want 8", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", c.Pipeline.MaxAttempts)
	}
	if strings.Join(c.Docs.Dirs, ",") != "a,b" {
		t.Fatalf("Dirs = %v", c.Docs.Dirs)
	}
}

func TestRunRun_ExitCode3_WhenNoSourceProvided(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd, values, _, stderr := newTestCommand(t)

	if code := runRun(cmd, values, envMap(nil)); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	if !strings.Contains(stderr.String(), "one of --spreadsheet or --csv must be provided") {
		t.Fatalf("expected validation message; stderr=%s", stderr.String())
	}
}

func TestRunRun_DryRunFromCSV(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, "docs", "security.md"), "# Security\nEncrypted at rest.\n")
	writeFile(t, filepath.Join(dir, "questions.csv"), "Requirement,Compliance Statement\nDo you encrypt data at rest?,\n")

	cmd, values, stdout, stderr := newTestCommand(t,
		"--csv", "questions.csv", "--docs-dir", "docs", "--sources", "docs", "--dry-run")
	if code := runRun(cmd, values, envMap(nil)); code != 0 {
		t.Fatalf("exit code = %d; stderr=%s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Pending requirements (1):") || !strings.Contains(out, "security.md") {
		t.Fatalf("unexpected dry run output:\n%s", out)
	}
}

func TestRunConfigShow_MasksSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd, values, stdout, stderr := newTestCommand(t, "--spreadsheet", "sheet-1", "--workers", "7")

	code := runConfigShow(cmd, values, envMap(map[string]string{"GEMINI_API_KEY": "AIzaSyExampleKey1234"}))
	if code != 0 {
		t.Fatalf("exit code = %d; stderr=%s", code, stderr.String())
	}
	out := stdout.String()
	if strings.Contains(out, "AIzaSyExampleKey1234") {
		t.Fatalf("API key leaked:\n%s", out)
	}
	for _, want := range []string{"Config file: (none)", "source:", "spreadsheet_id: sheet-1", "AIza****1234", "workers: 7", "name: " + config.DefaultGeminiModel} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
	if stderr.Len() != 0 {
		t.Fatalf("unexpected warning: %s", stderr.String())
	}
}

func TestRunConfigShow_WarnsWhenNotRunnable(t *testing.T) {
	t.Chdir(t.TempDir())
	cmd, values, stdout, stderr := newTestCommand(t)

	if code := runConfigShow(cmd, values, envMap(nil)); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stderr.String(), "not runnable") {
		t.Fatalf("expected warning, got %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "pipeline:") {
		t.Fatalf("config not printed:\n%s", stdout.String())
	}
}

func TestRunDocsList(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, filepath.Join(dir, "docs", "privacy.md"), "# Privacy\nWe do not sell data.\n")

	cmd, values, stdout, stderr := newTestCommand(t, "--docs-dir", "docs")
	if code := runDocsList(cmd, values, envMap(nil)); code != 0 {
		t.Fatalf("exit code = %d; stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "privacy.md") {
		t.Fatalf("unexpected listing:\n%s", stdout.String())
	}

	cmd, values, _, stderr = newTestCommand(t, "--sources", "pdf")
	if code := runDocsList(cmd, values, envMap(nil)); code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}
	if !strings.Contains(stderr.String(), "unsupported --sources") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestVersionCommand(t *testing.T) {
	SetBuildInfo("1.2.3", "abc123", "2026-01-01")
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"version"})
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if want := "qresponder 1.2.3\ncommit: abc123\nbuilt:  2026-01-01\n"; buf.String() != want {
		t.Fatalf("version output = %q, want %q", buf.String(), want)
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	// internal/cli -> repo root
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func goExe() string {
	if runtime.GOOS == "windows" {
		return "go.exe"
	}
	return "go"
}

func buildBinary(t *testing.T) string {
	t.Helper()

	outPath := filepath.Join(t.TempDir(), "qresponder-test")
	if runtime.GOOS == "windows" {
		outPath += ".exe"
	}

	cmd := exec.Command(goExe(), "build", "-o", outPath, "./cmd/qresponder")
	cmd.Dir = repoRoot(t)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build qresponder binary: %v; output=%s", err, string(out))
	}
	return outPath
}

func TestBinary_ExitCode3_WhenNoSourceProvided(t *testing.T) {
	if testing.Short() {
		t.Skip("builds the binary")
	}
	binary := buildBinary(t)

	cmd := exec.Command(binary, "run", "--verbose")
	cmd.Dir = t.TempDir()
	cmd.Env = withoutEnv("SPREADSHEET_ID")

	out, err := cmd.CombinedOutput()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T: %v; output=%s", err, err, string(out))
	}
	if code := exitErr.ProcessState.ExitCode(); code != 3 {
		t.Fatalf("expected exit code 3, got %d; output=%s", code, string(out))
	}
	if !strings.Contains(string(out), "one of --spreadsheet or --csv must be provided") {
		t.Fatalf("expected validation message; output=%s", string(out))
	}
}

func withoutEnv(key string) []string {
	out := make([]string, 0, len(os.Environ()))
	prefix := key + "="
	for _, e := range os.Environ() {
		if strings.HasPrefix(e, prefix) {
			continue
		}
		out = append(out, e)
	}
	return out
}
