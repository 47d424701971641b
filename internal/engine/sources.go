package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"google.golang.org/api/sheets/v4"

	"qresponder/internal/config"
	"qresponder/internal/docs"
	"qresponder/internal/docs/loaders"
	gh "qresponder/internal/github"
	"qresponder/internal/model"
	"qresponder/internal/pipeline"
	"qresponder/internal/store"
)

var errNoDocumentSources = errors.New("no document sources configured (use --docs-dir, --github-docs, --gcs-docs or --website)")

func (e *Engine) source(ctx context.Context, cfg *config.Config) (pipeline.Source, error) {
	if e.openSource != nil {
		return e.openSource(ctx, cfg)
	}
	if cfg.Source.CSV != "" {
		return store.NewCSV(cfg.Source.CSV), nil
	}
	opts, err := store.GoogleCredentials(ctx, cfg.Source.CredentialsFile, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	return store.NewSheets(ctx, store.SheetsConfig{
		SpreadsheetID:  cfg.Source.SpreadsheetID,
		WorksheetIndex: cfg.Source.WorksheetIndex,
		VerifyWrites:   cfg.Source.VerifyWrites,
		Logger:         e.logger(),
	}, opts...)
}

// documents loads every configured source. Loader failures are logged and
// tolerated as long as at least one document was loaded.
func (e *Engine) documents(ctx context.Context, cfg *config.Config) ([]docs.Document, error) {
	if e.loadDocuments != nil {
		return e.loadDocuments(ctx, cfg)
	}

	ls, closeAll, err := e.buildLoaders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer closeAll()
	if len(ls) == 0 {
		return nil, errNoDocumentSources
	}

	found, err := loaders.LoadAll(ctx, e.logger(), ls...)
	if err != nil {
		if len(found) == 0 {
			return nil, err
		}
		e.logger().Warn("some document sources failed", "error", err, "documents", len(found))
	}
	return found, nil
}

// handle builds the grounding context for cfg.Docs.Mode.
func (e *Engine) handle(ctx context.Context, cfg *config.Config) (*docs.Handle, error) {
	found, err := e.documents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	mode := docs.SourceMode(cfg.Docs.Mode)
	h, err := docs.NewHandle(mode, found, cfg.Docs.MaxContextBytes)
	if err != nil {
		return nil, err
	}
	if h.Len() == 0 {
		return nil, fmt.Errorf("no documents available for source mode %q", mode)
	}
	if h.Truncated() {
		e.logger().Warn("grounding context truncated", "max_bytes", cfg.Docs.MaxContextBytes, "kept", h.Len(), "loaded", len(found))
	}
	return h, nil
}

func (e *Engine) buildLoaders(ctx context.Context, cfg *config.Config) ([]loaders.Loader, func(), error) {
	logger := e.logger()
	mode := docs.SourceMode(cfg.Docs.Mode)
	var (
		out     []loaders.Loader
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if mode != docs.ModeWebsite {
		for _, dir := range cfg.Docs.Dirs {
			out = append(out, &loaders.LocalDir{Root: dir, Logger: logger})
		}

		if len(cfg.Docs.GitHub) > 0 {
			gl, err := e.githubLoaders(ctx, cfg)
			if err != nil {
				return nil, closeAll, err
			}
			out = append(out, gl...)
		}

		if len(cfg.Docs.GCS) > 0 {
			opts, err := store.GoogleCredentials(ctx, cfg.Source.CredentialsFile, storage.ScopeReadOnly)
			if err != nil {
				return nil, closeAll, err
			}
			client, err := storage.NewClient(ctx, opts...)
			if err != nil {
				return nil, closeAll, fmt.Errorf("gcs client: %w", err)
			}
			closers = append(closers, func() { _ = client.Close() })

			cache := loaders.NewBlobCache()
			for _, u := range cfg.Docs.GCS {
				bucket, prefix, err := loaders.ParseGCSURL(u)
				if err != nil {
					return nil, closeAll, err
				}
				l := loaders.NewGCSPrefix(client, bucket, prefix)
				l.Cache = cache
				l.Logger = logger
				out = append(out, l)
			}
		}
	}

	if mode != docs.ModeDocs {
		for _, site := range cfg.Docs.Websites {
			out = append(out, &loaders.Website{
				StartURL: site,
				MaxPages: cfg.Docs.MaxPages,
				Crawl:    cfg.Docs.Crawl,
				Logger:   logger,
			})
		}
	}

	return out, closeAll, nil
}

func (e *Engine) githubLoaders(ctx context.Context, cfg *config.Config) ([]loaders.Loader, error) {
	token, src, err := gh.ResolveToken(ctx, cfg.Docs.GitHubToken)
	if err != nil {
		return nil, err
	}
	e.logger().Debug("github token", "source", src)

	var opts []gh.Option
	if cfg.Runtime.Verbose {
		opts = append(opts, gh.WithLogger(e.logger()))
	}
	client, err := gh.NewClient(ctx, token, opts...)
	if err != nil {
		return nil, err
	}

	cache := loaders.NewBlobCache()
	out := make([]loaders.Loader, 0, len(cfg.Docs.GitHub))
	for _, spec := range cfg.Docs.GitHub {
		owner, repo, ref, dir, err := loaders.ParseGitHubSpec(spec)
		if err != nil {
			return nil, err
		}
		out = append(out, &loaders.GitHubRepo{
			Client:  client.Client,
			Owner:   owner,
			Repo:    repo,
			Ref:     ref,
			Dir:     dir,
			SiteURL: cfg.Docs.GitHubSiteURL,
			Cache:   cache,
			Logger:  e.logger(),
		})
	}
	return out, nil
}

func (e *Engine) evaluator(cfg *config.Config) (pipeline.Evaluator, error) {
	if e.newEvaluator != nil {
		return e.newEvaluator(cfg)
	}
	baseURL := cfg.Model.BaseURL
	if baseURL == "" && cfg.Model.Provider == config.ProviderOpenAI {
		baseURL = model.OpenAIBaseURL
	}
	client, err := model.NewClient(model.Config{
		APIKey:            cfg.Model.APIKey,
		BaseURL:           baseURL,
		Model:             cfg.Model.Name,
		Temperature:       cfg.Model.Temperature,
		MaxTokens:         cfg.Model.MaxTokens,
		RequestsPerMinute: cfg.Model.RequestsPerMinute,
		Timeout:           cfg.Model.Timeout,
		Logger:            e.logger(),
		LogHTTP:           cfg.Runtime.Verbose,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}
