// Package loaders collects grounding documents from local directories, GitHub
// repositories, GCS buckets and websites.
package loaders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"qresponder/internal/docs"
)

// Loader produces documents from one configured source.
type Loader interface {
	// Describe names the source in logs ("dir:./docs", "github:acme/docs", ...).
	Describe() string
	Load(ctx context.Context) ([]docs.Document, error)
}

// LoadAll runs every loader concurrently. Failing loaders are reported in the
// returned error (errors.Join) while documents from the others are kept.
// Documents are deduplicated by name; the first loader wins.
func LoadAll(ctx context.Context, logger *slog.Logger, loaders ...Loader) ([]docs.Document, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	results := make([][]docs.Document, len(loaders))
	errs := make([]error, len(loaders))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, l := range loaders {
		g.Go(func() error {
			got, err := l.Load(gctx)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				errs[i] = fmt.Errorf("%s: %w", l.Describe(), err)
				logger.Warn("document source failed", "source", l.Describe(), "error", err)
				return nil
			}
			logger.Info("documents loaded", "source", l.Describe(), "count", len(got))
			results[i] = got
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []docs.Document
	for i, docsFromLoader := range results {
		for _, d := range docsFromLoader {
			if seen[d.Name] {
				logger.Warn("duplicate document name; keeping first", "name", d.Name, "source", loaders[i].Describe())
				continue
			}
			seen[d.Name] = true
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, errors.Join(errs...)
}
