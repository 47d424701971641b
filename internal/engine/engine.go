// Package engine turns a validated config into a run: it opens the
// requirement source, builds the grounding context, wires the model client
// into the pipeline and streams outcomes to the output sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"qresponder/internal/config"
	"qresponder/internal/docs"
	"qresponder/internal/model"
	"qresponder/internal/output"
	"qresponder/internal/pipeline"
)

// Exit code contract:
// 0 = every pending row answered from the documents
// 1 = some rows answered not_found
// 2 = partial failure (some rows failed)
// 3 = fatal error (run did not start or was aborted)
const (
	ExitOK       = 0
	ExitNotFound = 1
	ExitPartial  = 2
	ExitFatal    = 3
)

func exitCodeForReport(r *pipeline.RunReport) int {
	switch {
	case r == nil || r.Fatal:
		return ExitFatal
	case r.Failed > 0:
		return ExitPartial
	case r.NotFound > 0:
		return ExitNotFound
	default:
		return ExitOK
	}
}

type Engine struct {
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer

	// Test seams. When nil the real Sheets/CSV store, document loaders and
	// model client are used.
	openSource    func(ctx context.Context, cfg *config.Config) (pipeline.Source, error)
	loadDocuments func(ctx context.Context, cfg *config.Config) ([]docs.Document, error)
	newEvaluator  func(cfg *config.Config) (pipeline.Evaluator, error)
}

func New(logger *slog.Logger) *Engine {
	return &Engine{Logger: logger, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (e *Engine) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

func (e *Engine) stderr() io.Writer {
	if e.Stderr == nil {
		return os.Stderr
	}
	return e.Stderr
}

func (e *Engine) progress(cfg *config.Config, format string, args ...any) {
	if cfg.Output.NoConsole {
		return
	}
	fmt.Fprintf(e.stderr(), format+"\n", args...)
}

func (e *Engine) setupOutputManager(cfg *config.Config) (*output.Manager, error) {
	outMgr := output.NewManager()
	add := func(name string, s output.Sink, err error) error {
		if err == nil {
			err = outMgr.AddSink(name, s)
		}
		if err != nil {
			_ = outMgr.Close()
			return fmt.Errorf("output %s: %w", name, err)
		}
		return nil
	}

	if !cfg.Output.NoConsole {
		console := output.NewConsoleSink(e.stdout(), cfg.Output.ConsoleFormat, cfg.Output.ConsoleFilterStatus...)
		if err := add("console", console, nil); err != nil {
			return nil, err
		}
	}
	for _, emit := range cfg.Output.Emit {
		es, err := output.NewEmitSink(e.stdout(), emit)
		if err := add("emit:"+emit, es, err); err != nil {
			return nil, err
		}
	}
	if cfg.Output.Out != "" {
		fs, err := output.NewFileSink(cfg.Output.Out, cfg.Output.OutFormat)
		if err := add("file:"+cfg.Output.Out, fs, err); err != nil {
			return nil, err
		}
	}
	if cfg.Output.Report != "" {
		rs, err := output.NewReportSink(cfg.Output.Report)
		if err := add("report:"+cfg.Output.Report, rs, err); err != nil {
			return nil, err
		}
	}
	return outMgr, nil
}

// publish writes v to every sink; a failing sink is logged, never fatal.
func (e *Engine) publish(mgr *output.Manager, v any) {
	if err := mgr.Write(v); err != nil {
		e.logger().Warn("output sink write failed", "error", err)
	}
}

func (e *Engine) promptTemplate(cfg *config.Config, h *docs.Handle) (string, error) {
	if cfg.Model.PromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(cfg.Model.PromptFile)
	if err != nil {
		return "", fmt.Errorf("read prompt file: %w", err)
	}
	text := string(data)
	sample := pipeline.Query{Requirement: pipeline.Requirement{RowID: "1", Text: "sample"}, Context: h, Template: text}
	if _, err := model.RenderPrompt(sample); err != nil {
		return "", fmt.Errorf("prompt file %s: %w", cfg.Model.PromptFile, err)
	}
	return text, nil
}

func pipelineOptions(cfg *config.Config, template string) pipeline.Options {
	return pipeline.Options{
		MaxWorkers:            cfg.Pipeline.Workers,
		MaxAttempts:           cfg.Pipeline.MaxAttempts,
		RetryBaseDelay:        cfg.Pipeline.RetryBaseDelay,
		RetryMaxDelay:         cfg.Pipeline.RetryMaxDelay,
		RetryJitter:           cfg.Pipeline.RetryJitter,
		ShutdownDrainDeadline: cfg.Pipeline.DrainDeadline,
		MaxWriteAttempts:      cfg.Pipeline.WriteAttempts,
		WriteRetryDelay:       cfg.Pipeline.WriteRetryDelay,
		WriteTimeout:          cfg.Pipeline.WriteTimeout,
		PromptTemplate:        template,
		WriteFailures:         cfg.Pipeline.WriteFailures,
	}
}

// Run evaluates every unresolved requirement and returns the process exit code.
func (e *Engine) Run(ctx context.Context, cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()
	verbose := cfg.Runtime.Verbose

	src, err := e.source(ctx, cfg)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error opening requirement source: %s\n", presentError(err, verbose))
		return ExitFatal
	}

	e.progress(cfg, "Loading documents...")
	h, err := e.handle(ctx, cfg)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error loading documents: %s\n", presentError(err, verbose))
		return ExitFatal
	}
	e.progress(cfg, "Loaded %d documents (%s mode).", h.Len(), h.Mode())

	if cfg.Pipeline.DryRun {
		return e.dryRun(ctx, cfg, src, h)
	}

	if err := cfg.RequireAPIKey(); err != nil {
		fmt.Fprintf(e.stderr(), "Error: %v\n", err)
		return ExitFatal
	}
	template, err := e.promptTemplate(cfg, h)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error: %v\n", err)
		return ExitFatal
	}
	eval, err := e.evaluator(cfg)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error creating model client: %v\n", err)
		return ExitFatal
	}

	reg := newRegistry()
	metrics, err := pipeline.NewMetrics(reg)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error registering metrics: %v\n", err)
		return ExitFatal
	}
	if cfg.Runtime.MetricsAddr != "" {
		_, stop, err := serveMetrics(cfg.Runtime.MetricsAddr, reg, e.logger())
		if err != nil {
			fmt.Fprintf(e.stderr(), "Error: %v\n", err)
			return ExitFatal
		}
		defer stop()
	}

	outMgr, err := e.setupOutputManager(cfg)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error creating output sinks: %v\n", err)
		return ExitFatal
	}
	defer func() {
		if err := outMgr.Close(); err != nil {
			e.logger().Warn("closing output sinks failed", "error", err)
		}
	}()

	orch, err := pipeline.NewOrchestrator(src, eval, h, pipelineOptions(cfg, template),
		pipeline.WithLogger(e.logger()),
		pipeline.WithMetrics(metrics),
		pipeline.WithObserver(func(o pipeline.RowOutcome) {
			if !verbose && o.Message != "" {
				o.Message = scrubRequest(o.Message)
			}
			e.publish(outMgr, o)
		}),
		pipeline.WithStateListener(func(s pipeline.State) {
			e.publish(outMgr, output.Event{Type: output.EventRunState, State: s})
		}),
	)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error: %v\n", err)
		return ExitFatal
	}

	e.publish(outMgr, output.Event{Type: output.EventRunStarted, Documents: h.Len()})

	report, err := orch.Run(ctx)
	logBudget(e.logger(), eval)
	code := exitCodeForReport(report)
	if err != nil {
		code = ExitFatal
		var fatal *pipeline.FatalError
		if !errors.As(err, &fatal) {
			fmt.Fprintf(e.stderr(), "Error: %s\n", presentError(err, verbose))
		}
	}
	if report != nil && !verbose {
		if report.FatalError != "" {
			report.FatalError = scrubRequest(report.FatalError)
		}
		for i := range report.Failures {
			if report.Failures[i].Message != "" {
				report.Failures[i].Message = scrubRequest(report.Failures[i].Message)
			}
		}
	}

	finished := output.Event{Type: output.EventRunFinished, Report: report, ExitCode: code}
	if report != nil {
		finished.RunID = report.RunID
	}
	e.publish(outMgr, finished)
	return code
}

// logBudget records the provider allowance left after a run when the
// evaluator tracks one.
func logBudget(logger *slog.Logger, eval pipeline.Evaluator) {
	b, ok := eval.(interface{ Budget() *model.RequestBudget })
	if !ok || b.Budget() == nil {
		return
	}
	logger.Debug("provider request budget", "remaining", b.Budget().Remaining())
}

func (e *Engine) dryRun(ctx context.Context, cfg *config.Config, src pipeline.Source, h *docs.Handle) int {
	reqs, err := src.ListRequirements(ctx)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error listing requirements: %s\n", presentError(err, cfg.Runtime.Verbose))
		return ExitFatal
	}

	w := e.stdout()
	fmt.Fprintf(w, "Pending requirements (%d):\n", len(reqs))
	for _, r := range reqs {
		fmt.Fprintf(w, "  row %s: %s\n", r.RowID, oneLine(r.Text))
	}
	fmt.Fprintf(w, "Documents (%d, %d bytes of context):\n", h.Len(), len(h.Corpus()))
	writeDocumentTable(w, h.Documents())
	return ExitOK
}

// ListDocuments loads the configured document sources and prints the
// documents that form the grounding context.
func (e *Engine) ListDocuments(ctx context.Context, cfg *config.Config) int {
	ctx, cancel := context.WithTimeout(ctx, cfg.Runtime.Timeout)
	defer cancel()

	h, err := e.handle(ctx, cfg)
	if err != nil {
		fmt.Fprintf(e.stderr(), "Error loading documents: %s\n", presentError(err, cfg.Runtime.Verbose))
		return ExitFatal
	}
	writeDocumentTable(e.stdout(), h.Documents())
	if h.Truncated() {
		fmt.Fprintf(e.stderr(), "Context truncated at %d bytes; later documents were dropped.\n", cfg.Docs.MaxContextBytes)
	}
	return ExitOK
}

func writeDocumentTable(w io.Writer, documents []docs.Document) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  NAME\tKIND\tSOURCE URL")
	for _, d := range documents {
		u := d.SourceURL
		if u == "" {
			u = "-"
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", d.Name, d.Kind, u)
	}
	_ = tw.Flush()
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
