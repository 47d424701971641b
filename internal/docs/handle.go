package docs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

type SourceMode string

const (
	ModeBoth    SourceMode = "both"
	ModeDocs    SourceMode = "docs"
	ModeWebsite SourceMode = "website"
)

type DocumentKind string

const (
	KindDocument DocumentKind = "document"
	KindWebsite  DocumentKind = "website"
)

// Document is a single piece of grounding content.
type Document struct {
	// Name is the display name the model is asked to cite (usually a file name).
	Name string `json:"name"`
	// SourceURL is where a reader can find the document; used to rewrite references.
	SourceURL   string       `json:"source_url,omitempty"`
	Kind        DocumentKind `json:"kind"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	Content     string       `json:"-"`
}

// Handle is the immutable grounding context shared by every worker of a run.
//
// A Handle is never mutated after NewHandle returns, so it is safe for
// concurrent use without locking.
type Handle struct {
	id        string
	mode      SourceMode
	documents []Document
	corpus    string
	truncated bool
	urlByName map[string]string
	allowed   []string
}

// NewHandle builds a Handle from loaded documents.
//
// In ModeBoth website content is ordered first so that it takes precedence.
// maxBytes caps the rendered corpus (0 = unlimited); documents past the cap are
// dropped whole and the handle reports Truncated.
func NewHandle(mode SourceMode, documents []Document, maxBytes int) (*Handle, error) {
	switch mode {
	case ModeBoth, ModeDocs, ModeWebsite:
	default:
		return nil, fmt.Errorf("unsupported source mode %q", mode)
	}

	var selected []Document
	for _, d := range documents {
		if strings.TrimSpace(d.Content) == "" {
			continue
		}
		switch {
		case mode == ModeDocs && d.Kind == KindWebsite:
			continue
		case mode == ModeWebsite && d.Kind != KindWebsite:
			continue
		}
		selected = append(selected, d)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		wi := selected[i].Kind == KindWebsite
		wj := selected[j].Kind == KindWebsite
		if wi != wj {
			return wi
		}
		return selected[i].Name < selected[j].Name
	})

	h := &Handle{
		mode:      mode,
		urlByName: make(map[string]string, len(selected)),
	}

	var b strings.Builder
	hasher := sha256.New()
	for _, d := range selected {
		block := renderDocument(d)
		if maxBytes > 0 && b.Len()+len(block) > maxBytes {
			h.truncated = true
			continue
		}
		b.WriteString(block)
		h.documents = append(h.documents, d)
		if d.SourceURL != "" {
			h.urlByName[d.Name] = d.SourceURL
		}
		h.allowed = append(h.allowed, allowedName(d))

		fp := d.Fingerprint
		if fp == "" {
			sum := sha256.Sum256([]byte(d.Content))
			fp = hex.EncodeToString(sum[:])
		}
		fmt.Fprintf(hasher, "%s\x00%s\x00", d.Name, fp)
	}
	h.corpus = b.String()
	h.id = hex.EncodeToString(hasher.Sum(nil))[:16]
	return h, nil
}

func renderDocument(d Document) string {
	var b strings.Builder
	b.WriteString("<!-- DOCUMENT: ")
	b.WriteString(d.Name)
	b.WriteString(" -->\n")
	if d.SourceURL != "" {
		b.WriteString("<!-- SOURCE_URL: ")
		b.WriteString(d.SourceURL)
		b.WriteString(" -->\n")
	}
	b.WriteString("\n")
	b.WriteString(strings.TrimSpace(d.Content))
	b.WriteString("\n\n")
	return b.String()
}

func allowedName(d Document) string {
	if d.Kind == KindWebsite && d.SourceURL != "" {
		return "Website: " + d.SourceURL
	}
	return d.Name
}

// ID is a short content hash identifying the document set.
func (h *Handle) ID() string {
	if h == nil {
		return ""
	}
	return h.id
}

func (h *Handle) Mode() SourceMode {
	if h == nil {
		return ModeDocs
	}
	return h.mode
}

// Documents returns a copy of the documents that made it into the corpus.
func (h *Handle) Documents() []Document {
	if h == nil {
		return nil
	}
	out := make([]Document, len(h.documents))
	copy(out, h.documents)
	return out
}

// Corpus is the rendered grounding text handed to the model.
func (h *Handle) Corpus() string {
	if h == nil {
		return ""
	}
	return h.corpus
}

// AllowedNames lists the identifiers a statement may cite.
func (h *Handle) AllowedNames() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.allowed))
	copy(out, h.allowed)
	return out
}

func (h *Handle) Truncated() bool {
	return h != nil && h.truncated
}

func (h *Handle) Len() int {
	if h == nil {
		return 0
	}
	return len(h.documents)
}
