package model

import (
	"strings"

	"qresponder/internal/pipeline"
)

var notFoundIndicators = []string{
	"not_found",
	"insufficient information",
	"insufficient evidence",
	"cannot be found",
	"not found in the provided documents",
}

// Normalize turns raw model output into a single-line statement or the
// not_found sentinel. When allowed is non-empty the statement must cite one of
// those names.
func Normalize(reply string, allowed []string) string {
	stmt := strings.Join(strings.Fields(reply), " ")
	stmt = strings.Trim(stmt, "\"")
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return pipeline.NotFoundStatement
	}

	lower := strings.ToLower(stmt)
	for _, ind := range notFoundIndicators {
		if strings.Contains(lower, ind) {
			return pipeline.NotFoundStatement
		}
	}

	if len(allowed) > 0 && !citesAny(lower, allowed) {
		return pipeline.NotFoundStatement
	}
	return stmt
}

func citesAny(lowerStmt string, names []string) bool {
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if strings.Contains(lowerStmt, n) {
			return true
		}
		// Website sources may be cited by bare URL.
		if url, ok := strings.CutPrefix(n, "website: "); ok && strings.Contains(lowerStmt, url) {
			return true
		}
	}
	return false
}
