// Package store reads requirement rows from a tabular source and writes
// compliance statements back into the same rows.
package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"qresponder/internal/pipeline"
)

var (
	// RequirementHeaders and StatementHeaders are matched case-insensitively
	// against the first row.
	RequirementHeaders = []string{"Requirement"}
	StatementHeaders   = []string{"Compliance Statement", "Compliance_Statement"}

	ErrMissingHeader = errors.New("missing header column")
	ErrUnknownRow    = errors.New("unknown row")
)

// FindHeaderColumn returns the 1-based index of the first header matching
// one of names, or 0.
func FindHeaderColumn(headers []string, names ...string) int {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}
	for _, name := range names {
		want := strings.ToLower(name)
		for i, h := range normalized {
			if h == want {
				return i + 1
			}
		}
	}
	return 0
}

// ColumnLetter converts a 1-based column index to its A1 letters (1 = A, 27 = AA).
func ColumnLetter(index int) string {
	var out []byte
	for n := index; n > 0; {
		n--
		out = append([]byte{byte('A' + n%26)}, out...)
		n /= 26
	}
	return string(out)
}

type columns struct {
	requirement int
	statement   int
}

func resolveColumns(headers []string) (columns, error) {
	c := columns{
		requirement: FindHeaderColumn(headers, RequirementHeaders...),
		statement:   FindHeaderColumn(headers, StatementHeaders...),
	}
	if c.requirement == 0 {
		return c, fmt.Errorf("%w: row 1 has no %q header", ErrMissingHeader, RequirementHeaders[0])
	}
	if c.statement == 0 {
		return c, fmt.Errorf("%w: row 1 has no %q header", ErrMissingHeader, StatementHeaders[0])
	}
	return c, nil
}

// unresolved turns requirement and statement columns (header first) into
// requirements for rows with text and no statement yet. RowIDs are the
// 1-based physical row numbers.
func unresolved(requirements, statements []string) []pipeline.Requirement {
	var out []pipeline.Requirement
	for i := 1; i < len(requirements); i++ {
		text := strings.TrimSpace(requirements[i])
		if text == "" {
			continue
		}
		if i < len(statements) && strings.TrimSpace(statements[i]) != "" {
			continue
		}
		out = append(out, pipeline.Requirement{RowID: pipeline.RowID(strconv.Itoa(i + 1)), Text: text})
	}
	return out
}

func parseRow(row pipeline.RowID) (int, error) {
	n, err := strconv.Atoi(string(row))
	if err != nil || n < 2 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownRow, row)
	}
	return n, nil
}
