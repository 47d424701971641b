package loaders

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/time/rate"

	"qresponder/internal/docs"
)

const (
	defaultMaxPages = 50
	userAgent       = "qresponder/1 (+https://github.com/qresponder)"
	maxPageBytes    = 5 << 20
)

// skippedElements are dropped along with their subtrees.
var skippedElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Footer: true,
	atom.Header: true, atom.Iframe: true, atom.Noscript: true,
}

// Website crawls pages on the start URL's host, breadth first.
type Website struct {
	StartURL string
	// MaxPages bounds the crawl (0 = 50).
	MaxPages int
	// Crawl follows same-host links; false fetches only StartURL.
	Crawl   bool
	Client  *http.Client
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

func (w *Website) Describe() string { return "web:" + w.StartURL }

func (w *Website) Load(ctx context.Context) ([]docs.Document, error) {
	start, err := url.Parse(strings.TrimSpace(w.StartURL))
	if err != nil || (start.Scheme != "http" && start.Scheme != "https") || start.Host == "" {
		return nil, fmt.Errorf("invalid website URL %q", w.StartURL)
	}
	start.Fragment, start.RawQuery = "", ""

	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	limiter := w.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(500*time.Millisecond), 1)
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxPages := w.MaxPages
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	if !w.Crawl {
		maxPages = 1
	}

	c := &crawler{client: client, limiter: limiter, logger: logger}
	robots := c.robots(ctx, start)
	if !robots.allowed(start.Path) {
		return nil, fmt.Errorf("%s is disallowed by robots.txt", start)
	}

	queue := []string{start.String()}
	visited := map[string]bool{start.String(): true}
	var out []docs.Document

	for len(queue) > 0 && len(out) < maxPages {
		current := queue[0]
		queue = queue[1:]

		page, err := c.fetch(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("skipping page", "url", current, "error", err)
			continue
		}
		if page.text != "" {
			out = append(out, page.document(current))
		}

		for _, link := range page.links {
			u, err := url.Parse(current)
			if err != nil {
				break
			}
			abs, err := u.Parse(link)
			if err != nil || (abs.Scheme != "http" && abs.Scheme != "https") || abs.Host != start.Host {
				continue
			}
			abs.Fragment, abs.RawQuery = "", ""
			key := abs.String()
			if visited[key] || !robots.allowed(abs.Path) {
				continue
			}
			visited[key] = true
			queue = append(queue, key)
		}
	}

	logger.Debug("crawl finished", "start", start.String(), "pages", len(out))
	return out, nil
}

type crawler struct {
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func (c *crawler) get(ctx context.Context, u string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return c.client.Do(req)
}

func (c *crawler) robots(ctx context.Context, start *url.URL) robotsRules {
	robotsURL := start.Scheme + "://" + start.Host + "/robots.txt"
	resp, err := c.get(ctx, robotsURL)
	if err != nil {
		c.logger.Debug("robots.txt unavailable; crawling without rules", "url", robotsURL, "error", err)
		return robotsRules{}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return robotsRules{}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 512<<10))
	if err != nil {
		return robotsRules{}
	}
	return parseRobots(body, "qresponder")
}

type page struct {
	title string
	text  string
	links []string
}

func (p page) document(u string) docs.Document {
	title := p.title
	if title == "" {
		title = "No title"
	}
	parsed, _ := url.Parse(u)
	name := u
	if parsed != nil {
		name = parsed.Host + strings.TrimRight(parsed.Path, "/")
	}
	return docs.Document{
		Name:      name,
		SourceURL: u,
		Kind:      docs.KindWebsite,
		Content:   fmt.Sprintf("# %s\nURL: %s\n\n%s\n", title, u, p.text),
	}
}

func (c *crawler) fetch(ctx context.Context, u string) (page, error) {
	resp, err := c.get(ctx, u)
	if err != nil {
		return page{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return page{}, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mt != "" && mt != "text/html" && mt != "application/xhtml+xml" {
		return page{}, fmt.Errorf("unsupported content type %q", mt)
	}

	root, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return page{}, fmt.Errorf("parse html: %w", err)
	}
	return extractPage(root), nil
}

func extractPage(root *html.Node) page {
	var p page
	var words []string

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.DataAtom == atom.Title:
				if p.title == "" && n.FirstChild != nil {
					p.title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case n.DataAtom == atom.A:
				for _, a := range n.Attr {
					if a.Key == "href" && strings.TrimSpace(a.Val) != "" {
						p.links = append(p.links, strings.TrimSpace(a.Val))
					}
				}
			case skippedElements[n.DataAtom]:
				return
			}
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	p.text = strings.Join(words, " ")
	return p
}
