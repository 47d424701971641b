package pipeline

import (
	"fmt"
	"strings"
)

// validateListing enforces RowID uniqueness before anything is dispatched.
func validateListing(reqs []Requirement) error {
	seen := make(map[RowID]int, len(reqs))
	for i, r := range reqs {
		if strings.TrimSpace(string(r.RowID)) == "" {
			return fmt.Errorf("requirement at position %d: %w", i, ErrEmptyRowID)
		}
		if prev, ok := seen[r.RowID]; ok {
			return fmt.Errorf("row %q at positions %d and %d: %w", r.RowID, prev, i, ErrDuplicateRowID)
		}
		seen[r.RowID] = i
	}
	return nil
}
