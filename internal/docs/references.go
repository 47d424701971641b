package docs

import (
	"path"
	"regexp"
	"strings"
)

var (
	referencePattern = regexp.MustCompile(`\(Reference: ([^)]+)\)`)
	fileNamePattern  = regexp.MustCompile(`([^/\\,\s]+\.(?:md|markdown|txt|csv|tsv))`)
)

// FixReferences rewrites "(Reference: some-file.md, section)" citations to the
// document's SOURCE_URL. References that do not name a known document are kept.
func (h *Handle) FixReferences(text string) string {
	if h == nil || len(h.urlByName) == 0 {
		return text
	}
	return referencePattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := referencePattern.FindStringSubmatch(match)
		if len(sub) < 2 {
			return match
		}
		ref := sub[1]
		name := fileNamePattern.FindString(ref)
		if name == "" {
			return match
		}
		url, ok := h.urlByName[name]
		if !ok {
			url, ok = h.urlByName[path.Base(name)]
		}
		if !ok {
			return match
		}
		rest := ""
		if _, after, found := strings.Cut(ref, ","); found {
			rest = ", " + strings.TrimSpace(after)
		}
		return "(Reference: " + url + rest + ")"
	})
}
