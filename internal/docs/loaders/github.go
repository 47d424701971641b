package loaders

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	gh "github.com/google/go-github/v81/github"
	"golang.org/x/sync/errgroup"

	"qresponder/internal/docs"
)

// GitHubRepo loads documentation files from a repository tree.
//
// README.md files are named after their directory ("security/encryption/README.md"
// becomes "security-encryption.md") and, when SiteURL is set, point at the
// published page SiteURL + "/security/encryption". Other files link to the
// file on GitHub.
type GitHubRepo struct {
	Client *gh.Client
	Owner  string
	Repo   string
	// Ref defaults to the repository's default branch.
	Ref string
	// Dir limits loading to a subdirectory.
	Dir     string
	SiteURL string
	Cache   *BlobCache
	Logger  *slog.Logger
	// Concurrency bounds parallel blob downloads (0 = 8).
	Concurrency int
}

// ParseGitHubSpec parses "owner/repo[@ref][:dir]".
func ParseGitHubSpec(spec string) (owner, repo, ref, dir string, err error) {
	s := strings.TrimSpace(spec)
	s = strings.TrimPrefix(s, "https://github.com/")
	if before, after, ok := strings.Cut(s, ":"); ok {
		s, dir = before, strings.Trim(after, "/")
	}
	if before, after, ok := strings.Cut(s, "@"); ok {
		s, ref = before, after
	}
	owner, repo, ok := strings.Cut(strings.Trim(s, "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", "", "", fmt.Errorf("invalid GitHub source %q (want owner/repo[@ref][:dir])", spec)
	}
	return owner, strings.TrimSuffix(repo, ".git"), ref, dir, nil
}

func (l *GitHubRepo) Describe() string {
	return fmt.Sprintf("github:%s/%s", l.Owner, l.Repo)
}

func (l *GitHubRepo) Load(ctx context.Context) ([]docs.Document, error) {
	if l.Client == nil {
		return nil, fmt.Errorf("github client is nil")
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ref := l.Ref
	if ref == "" {
		repo, _, err := l.Client.Repositories.Get(ctx, l.Owner, l.Repo)
		if err != nil {
			return nil, fmt.Errorf("get repository: %w", err)
		}
		ref = repo.GetDefaultBranch()
	}

	tree, _, err := l.Client.Git.GetTree(ctx, l.Owner, l.Repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("get tree %s: %w", ref, err)
	}
	if tree.GetTruncated() {
		logger.Warn("repository tree truncated by GitHub; some documents may be missing", "repo", l.Owner+"/"+l.Repo)
	}

	prefix := strings.Trim(l.Dir, "/")
	var entries []*gh.TreeEntry
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		p := e.GetPath()
		if prefix != "" && !strings.HasPrefix(p, prefix+"/") {
			continue
		}
		if !textExtensions[strings.ToLower(path.Ext(p))] {
			continue
		}
		entries = append(entries, e)
	}

	limit := l.Concurrency
	if limit <= 0 {
		limit = 8
	}
	var mu sync.Mutex
	out := make([]docs.Document, 0, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, e := range entries {
		g.Go(func() error {
			sha := e.GetSHA()
			data, err := l.Cache.Fetch("git:"+sha, func() ([]byte, error) {
				b, _, err := l.Client.Git.GetBlobRaw(gctx, l.Owner, l.Repo, sha)
				return b, err
			})
			if err != nil {
				return fmt.Errorf("get blob %s: %w", e.GetPath(), err)
			}
			if !isText(data) {
				logger.Warn("skipping non-text file", "path", e.GetPath())
				return nil
			}
			name, url := l.nameAndURL(e.GetPath(), ref)
			mu.Lock()
			out = append(out, docs.Document{
				Name:        name,
				SourceURL:   url,
				Kind:        docs.KindDocument,
				Fingerprint: sha,
				Content:     string(data),
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *GitHubRepo) nameAndURL(p, ref string) (string, string) {
	rel := strings.TrimPrefix(p, strings.Trim(l.Dir, "/")+"/")
	if l.Dir == "" {
		rel = p
	}
	site := strings.TrimRight(l.SiteURL, "/")

	if path.Base(rel) == "README.md" {
		dir := strings.Trim(path.Dir(rel), "./")
		name := strings.ReplaceAll(dir, "/", "-")
		if name == "" {
			name = "root"
		}
		if site != "" {
			return name + ".md", strings.TrimRight(site+"/"+dir, "/")
		}
		return name + ".md", blobURL(l.Owner, l.Repo, ref, p)
	}

	name := strings.ReplaceAll(rel, "/", "-")
	if site != "" {
		return name, site + "/" + strings.TrimSuffix(rel, path.Ext(rel))
	}
	return name, blobURL(l.Owner, l.Repo, ref, p)
}

func blobURL(owner, repo, ref, p string) string {
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", owner, repo, ref, p)
}
