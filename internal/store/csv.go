package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"qresponder/internal/pipeline"
)

// CSV is a Source backed by a local CSV file with the same header layout as
// the spreadsheet. Each write rewrites the file atomically.
type CSV struct {
	path string
	mu   sync.Mutex
}

func NewCSV(path string) *CSV {
	return &CSV{path: path}
}

func (c *CSV) Describe() string { return "csv:" + c.path }

func (c *CSV) read() ([][]string, columns, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, columns{}, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, columns{}, fmt.Errorf("parse %s: %w", c.path, err)
	}
	var headers []string
	if len(records) > 0 {
		headers = records[0]
	}
	cols, err := resolveColumns(headers)
	return records, cols, err
}

func (c *CSV) ListRequirements(ctx context.Context) ([]pipeline.Requirement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records, cols, err := c.read()
	if err != nil {
		return nil, err
	}
	requirements := make([]string, len(records))
	statements := make([]string, len(records))
	for i, rec := range records {
		requirements[i] = field(rec, cols.requirement)
		statements[i] = field(rec, cols.statement)
	}
	return unresolved(requirements, statements), nil
}

func (c *CSV) WriteResult(ctx context.Context, row pipeline.RowID, statement string) error {
	n, err := parseRow(row)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	records, cols, err := c.read()
	if err != nil {
		return err
	}
	if n > len(records) {
		return fmt.Errorf("%w: %s", ErrUnknownRow, row)
	}
	rec := records[n-1]
	for len(rec) < cols.statement {
		rec = append(rec, "")
	}
	rec[cols.statement-1] = statement
	records[n-1] = rec

	return c.replace(records)
}

func (c *CSV) replace(records [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+filepath.Base(c.path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), c.path)
}

func field(rec []string, col int) string {
	if col < 1 || col > len(rec) {
		return ""
	}
	return rec[col-1]
}
