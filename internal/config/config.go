package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// MAINTAINER NOTE: If you add/change/remove config fields, keep these in sync:
	// - CLI flags in internal/cli/run.go (bindRunFlags, flagOverrides)
	// - environment names in ApplyEnv
	Source   Source   `yaml:"source"`
	Docs     Docs     `yaml:"docs"`
	Model    Model    `yaml:"model"`
	Pipeline Pipeline `yaml:"pipeline"`
	Output   Output   `yaml:"output"`
	Runtime  Runtime  `yaml:"runtime"`

	// File is the config file that was loaded, if any.
	File string `yaml:"-"`

	envGeminiKey string
	envOpenAIKey string
}

type Source struct {
	// SpreadsheetID selects the Google spreadsheet (see --spreadsheet, SPREADSHEET_ID).
	SpreadsheetID string `yaml:"spreadsheet_id"`

	// WorksheetIndex is the 0-based tab index (see --worksheet, WORKSHEET_INDEX).
	// Out of range falls back to the first worksheet.
	WorksheetIndex int `yaml:"worksheet_index"`

	// CSV reads requirements from a local CSV file instead of a spreadsheet (see --csv).
	CSV string `yaml:"csv"`

	// CredentialsFile is a service-account JSON file (see --credentials,
	// GOOGLE_APPLICATION_CREDENTIALS). Empty uses Application Default Credentials.
	CredentialsFile string `yaml:"credentials_file"`

	// VerifyWrites reads each cell back after writing it (see --verify-writes, VERIFY_WRITES).
	VerifyWrites bool `yaml:"verify_writes"`
}

type Docs struct {
	// Mode selects which sources ground the answers (see --sources, SOURCES).
	// Allowed values: both, docs, website.
	Mode string `yaml:"mode"`

	// Dirs are local documentation directories (see --docs-dir, DOCS_DIR).
	Dirs []string `yaml:"dirs"`

	// GitHub lists repositories as owner/repo[@ref][:dir] (see --github-docs).
	GitHub []string `yaml:"github"`

	// GitHubSiteURL is the published site for GitHub docs; README files map to its pages.
	GitHubSiteURL string `yaml:"github_site_url"`

	// GitHubToken authenticates GitHub requests. Empty falls back to
	// GITHUB_TOKEN/GH_TOKEN and then the gh CLI.
	GitHubToken string `yaml:"github_token"`

	// GCS lists bucket prefixes as gs://bucket/prefix (see --gcs-docs).
	GCS []string `yaml:"gcs"`

	// Websites are start URLs (see --website, WEBSITE_URLS).
	Websites []string `yaml:"websites"`

	// Crawl follows same-host links from each website (see --crawl).
	Crawl bool `yaml:"crawl"`

	// MaxPages bounds each website crawl (see --max-pages).
	MaxPages int `yaml:"max_pages"`

	// MaxContextBytes caps the rendered grounding context (see --max-context-bytes). 0 means unlimited.
	MaxContextBytes int `yaml:"max_context_bytes"`
}

type Model struct {
	// Provider is gemini or openai (see --provider).
	Provider string `yaml:"provider"`

	// APIKey overrides GEMINI_API_KEY / OPENAI_API_KEY.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider endpoint (see --base-url).
	BaseURL string `yaml:"base_url"`

	// Name is the model name (see --model).
	Name string `yaml:"name"`

	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// RequestsPerMinute paces model calls across workers (see --rpm). 0 means unpaced.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Timeout bounds a single model call (see --model-timeout).
	Timeout time.Duration `yaml:"timeout"`

	// PromptFile replaces the default prompt template (see --prompt-file).
	PromptFile string `yaml:"prompt_file"`
}

type Pipeline struct {
	// Workers bounds concurrent model calls (see --workers, MAX_WORKERS, GEMINI_MAX_WORKERS).
	Workers int `yaml:"workers"`

	// MaxAttempts bounds model attempts per requirement (see --max-attempts).
	MaxAttempts int `yaml:"max_attempts"`

	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`
	RetryJitter    float64       `yaml:"retry_jitter"`

	// DrainDeadline bounds how long in-flight calls may finish after an abort (see --drain-deadline).
	DrainDeadline time.Duration `yaml:"drain_deadline"`

	WriteAttempts   int           `yaml:"write_attempts"`
	WriteRetryDelay time.Duration `yaml:"write_retry_delay"`
	// WriteTimeout bounds one source write attempt (see --write-timeout).
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// WriteFailures writes "ERROR: <kind>" into failed rows (see --write-failures).
	WriteFailures bool `yaml:"write_failures"`

	// DryRun lists pending requirements and documents without calling the model (see --dry-run).
	DryRun bool `yaml:"-"`
}

type Output struct {
	// ConsoleFormat controls the human-facing console sink format (see --console-format).
	// Allowed values: text, json, ndjson.
	ConsoleFormat string `yaml:"console_format"`

	// ConsoleFilterStatus filters console output by row status (see --console-filter-status).
	// Allowed values: SUCCEEDED, NOT_FOUND, FAILED, ABORTED.
	ConsoleFilterStatus []string `yaml:"console_filter_status"`

	// Report writes a Markdown report to this path (see --report).
	Report string `yaml:"report"`

	// Out writes structured output to this path (see --out).
	Out string `yaml:"out"`

	// OutFormat selects the format for --out (see --out-format).
	// Allowed values: json, ndjson. If empty, it is inferred from the --out file extension.
	OutFormat string `yaml:"out_format"`

	// Emit writes an additional structured event stream to stdout (see --emit).
	// Allowed values: json, ndjson.
	Emit []string `yaml:"emit"`

	// NoConsole suppresses the console sink (see --no-console).
	NoConsole bool `yaml:"no_console"`
}

type Runtime struct {
	// Timeout is the global run timeout (see --timeout). Must be > 0.
	Timeout time.Duration `yaml:"timeout"`

	// Verbose enables debug logging and per-request HTTP logs (see --verbose).
	Verbose bool `yaml:"verbose"`

	// LogLevel is debug, info, warn or error (see --log-level, LOG_LEVEL).
	LogLevel string `yaml:"log_level"`

	// LogFormat is text or json (see --log-format).
	LogFormat string `yaml:"log_format"`

	// MetricsAddr serves Prometheus metrics while the run is active (see --metrics-addr).
	MetricsAddr string `yaml:"metrics_addr"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	DefaultGeminiModel = "gemini-2.5-flash"
	DefaultOpenAIModel = "gpt-4o-mini"
)

func New() *Config {
	return &Config{
		Docs: Docs{
			Mode:     "both",
			MaxPages: 50,
		},
		Model: Model{
			Provider:    ProviderGemini,
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
		},
		Pipeline: Pipeline{
			Workers:         4,
			MaxAttempts:     3,
			RetryBaseDelay:  2 * time.Second,
			RetryMaxDelay:   30 * time.Second,
			RetryJitter:     0.5,
			DrainDeadline:   60 * time.Second,
			WriteAttempts:   3,
			WriteRetryDelay: 500 * time.Millisecond,
			WriteTimeout:    30 * time.Second,
		},
		Output: Output{
			ConsoleFormat: "text",
		},
		Runtime: Runtime{
			Timeout:  2 * time.Hour,
			LogLevel: "info",
		},
	}
}

// SearchPaths lists the config files tried, in order, when --config is not given.
func SearchPaths() []string {
	paths := []string{"qresponder.yaml", "config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "qresponder", "config.yaml"))
	}
	return append(paths, "/etc/qresponder/config.yaml")
}

// LoadFile overlays a YAML (or JSON) config file onto c. An explicit path must
// exist; otherwise the first existing SearchPaths entry is used, if any.
func (c *Config) LoadFile(path string) error {
	candidates := []string{path}
	if path == "" {
		candidates = SearchPaths()
	}
	for _, p := range candidates {
		data, err := os.ReadFile(p)
		if err != nil {
			if path == "" && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", p, err)
		}
		c.File = p
		return nil
	}
	return nil
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = splitCommaList([]string{v})
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: must be an integer", name, v)
		}
		*dst = n
		return nil
	}

	str("GEMINI_API_KEY", &c.envGeminiKey)
	str("OPENAI_API_KEY", &c.envOpenAIKey)
	str("SPREADSHEET_ID", &c.Source.SpreadsheetID)
	str("GOOGLE_APPLICATION_CREDENTIALS", &c.Source.CredentialsFile)
	str("SOURCES", &c.Docs.Mode)
	str("LOG_LEVEL", &c.Runtime.LogLevel)
	list("DOCS_DIR", &c.Docs.Dirs)
	list("WEBSITE_URLS", &c.Docs.Websites)

	if err := integer("WORKSHEET_INDEX", &c.Source.WorksheetIndex); err != nil {
		return err
	}
	if err := integer("GEMINI_MAX_WORKERS", &c.Pipeline.Workers); err != nil {
		return err
	}
	if err := integer("MAX_WORKERS", &c.Pipeline.Workers); err != nil {
		return err
	}
	if v, ok := lookup("VERIFY_WRITES"); ok && strings.TrimSpace(v) != "" {
		c.Source.VerifyWrites = parseBool(v)
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) Validate() error {
	// Normalize comma-delimited list inputs.
	c.Output.ConsoleFilterStatus = splitCommaList(c.Output.ConsoleFilterStatus)
	c.Output.Emit = splitCommaList(c.Output.Emit)

	// Source validation
	c.Source.SpreadsheetID = strings.TrimSpace(c.Source.SpreadsheetID)
	if c.Source.SpreadsheetID == "" && c.Source.CSV == "" {
		return errors.New("one of --spreadsheet or --csv must be provided")
	}
	if c.Source.SpreadsheetID != "" && c.Source.CSV != "" {
		return errors.New("--spreadsheet and --csv are mutually exclusive")
	}
	if c.Source.WorksheetIndex < 0 {
		return errors.New("--worksheet must be >= 0")
	}

	if err := c.ValidateDocs(); err != nil {
		return err
	}

	// Model validation
	c.Model.Provider = normalizeEnumValue(c.Model.Provider)
	switch c.Model.Provider {
	case "", ProviderGemini:
		c.Model.Provider = ProviderGemini
		if c.Model.Name == "" {
			c.Model.Name = DefaultGeminiModel
		}
		if c.Model.APIKey == "" {
			c.Model.APIKey = c.envGeminiKey
		}
	case ProviderOpenAI:
		if c.Model.Name == "" {
			c.Model.Name = DefaultOpenAIModel
		}
		if c.Model.APIKey == "" {
			c.Model.APIKey = c.envOpenAIKey
		}
	default:
		return fmt.Errorf("unsupported --provider: %s (must be one of: gemini, openai)", c.Model.Provider)
	}
	if c.Model.RequestsPerMinute < 0 {
		return errors.New("--rpm must be >= 0")
	}
	if c.Model.MaxTokens < 0 {
		return errors.New("--max-tokens must be >= 0")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return errors.New("--temperature must be between 0 and 2")
	}

	// Output validation
	c.Output.ConsoleFormat = normalizeEnumValue(c.Output.ConsoleFormat)
	if c.Output.ConsoleFormat == "" {
		return errors.New("--console-format must be one of: text, json, ndjson")
	}
	if c.Output.ConsoleFormat != "text" && c.Output.ConsoleFormat != "json" && c.Output.ConsoleFormat != "ndjson" {
		return fmt.Errorf("unsupported --console-format: %s (must be one of: text, json, ndjson)", c.Output.ConsoleFormat)
	}
	for i, s := range c.Output.ConsoleFilterStatus {
		v := strings.ToUpper(strings.TrimSpace(s))
		if v != "SUCCEEDED" && v != "NOT_FOUND" && v != "FAILED" && v != "ABORTED" {
			return fmt.Errorf("unsupported --console-filter-status: %s (must be one of: SUCCEEDED, NOT_FOUND, FAILED, ABORTED)", s)
		}
		c.Output.ConsoleFilterStatus[i] = v
	}
	for _, emit := range c.Output.Emit {
		v := normalizeEnumValue(emit)
		if v != "json" && v != "ndjson" {
			return fmt.Errorf("unsupported --emit value: %s (must be one of: json, ndjson)", emit)
		}
	}
	if c.Output.Out != "" {
		c.Output.OutFormat = normalizeEnumValue(c.Output.OutFormat)
		if c.Output.OutFormat == "" {
			ext := strings.ToLower(filepath.Ext(c.Output.Out))
			switch ext {
			case ".json":
				c.Output.OutFormat = "json"
			case ".ndjson":
				c.Output.OutFormat = "ndjson"
			default:
				if ext == "" {
					return errors.New("cannot infer output format from file extension (missing extension); use --out-format")
				}
				return fmt.Errorf("cannot infer output format from file extension %q; use --out-format", ext)
			}
		} else if c.Output.OutFormat != "json" && c.Output.OutFormat != "ndjson" {
			return fmt.Errorf("unsupported output format: %s", c.Output.OutFormat)
		}
	}

	return nil
}

// ValidateDocs checks only the document and runtime settings; commands that
// never touch the requirement source (docs list) use it instead of Validate.
func (c *Config) ValidateDocs() error {
	c.Docs.Dirs = splitCommaList(c.Docs.Dirs)
	c.Docs.GitHub = splitCommaList(c.Docs.GitHub)
	c.Docs.GCS = splitCommaList(c.Docs.GCS)
	c.Docs.Websites = splitCommaList(c.Docs.Websites)

	// Docs validation
	c.Docs.Mode = normalizeEnumValue(c.Docs.Mode)
	if c.Docs.Mode == "" {
		c.Docs.Mode = "both"
	}
	if c.Docs.Mode != "both" && c.Docs.Mode != "docs" && c.Docs.Mode != "website" {
		return fmt.Errorf("unsupported --sources: %s (must be one of: both, docs, website)", c.Docs.Mode)
	}
	for _, w := range c.Docs.Websites {
		u, err := url.Parse(w)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid --website value %q: must be an http(s) URL", w)
		}
	}
	for _, g := range c.Docs.GCS {
		if !strings.HasPrefix(g, "gs://") {
			return fmt.Errorf("invalid --gcs-docs value %q: must start with gs://", g)
		}
	}
	if c.Docs.MaxPages <= 0 {
		return errors.New("--max-pages must be >= 1")
	}
	if c.Docs.MaxContextBytes < 0 {
		return errors.New("--max-context-bytes must be >= 0")
	}

	// Runtime validation
	if c.Runtime.Timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}
	c.Runtime.LogLevel = normalizeEnumValue(c.Runtime.LogLevel)
	c.Runtime.LogFormat = normalizeEnumValue(c.Runtime.LogFormat)

	return nil
}

// RequireAPIKey reports a missing model key; dry runs do not need one.
func (c *Config) RequireAPIKey() error {
	if c.Model.APIKey != "" {
		return nil
	}
	if c.Model.Provider == ProviderOpenAI {
		return errors.New("no API key: set OPENAI_API_KEY or model.api_key")
	}
	return errors.New("no API key: set GEMINI_API_KEY or model.api_key")
}

// Masked returns a copy safe to print.
func (c *Config) Masked() Config {
	out := *c
	out.Model.APIKey = maskSecret(c.Model.APIKey)
	out.Docs.GitHubToken = maskSecret(c.Docs.GitHubToken)
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

func normalizeEnumValue(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func splitCommaList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			out = append(out, p)
		}
	}
	return out
}
