package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"qresponder/internal/pipeline"
)

var errVerifyFailed = errors.New("write verification failed: cell is empty after update")

type SheetsConfig struct {
	SpreadsheetID string
	// WorksheetIndex selects the tab; out of range falls back to the first.
	WorksheetIndex int
	// VerifyWrites reads each cell back after writing it.
	VerifyWrites bool
	// WriteInterval paces cell updates (0 = 500ms, negative = unpaced).
	WriteInterval time.Duration
	Logger        *slog.Logger
}

// Sheets is a Source backed by one worksheet of a Google spreadsheet.
type Sheets struct {
	svc     *sheets.Service
	cfg     SheetsConfig
	limiter *rate.Limiter
	logger  *slog.Logger

	mu    sync.Mutex
	title string
	cols  columns
	ready bool
}

func NewSheets(ctx context.Context, cfg SheetsConfig, opts ...option.ClientOption) (*Sheets, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("spreadsheet id is required")
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	limit := rate.Every(500 * time.Millisecond)
	switch {
	case cfg.WriteInterval > 0:
		limit = rate.Every(cfg.WriteInterval)
	case cfg.WriteInterval < 0:
		limit = rate.Inf
	}
	return &Sheets{svc: svc, cfg: cfg, limiter: rate.NewLimiter(limit, 1), logger: logger}, nil
}

// GoogleCredentials returns client options for a service-account JSON file,
// or for Application Default Credentials when path is empty.
func GoogleCredentials(ctx context.Context, path string, scopes ...string) ([]option.ClientOption, error) {
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, scopes...)
		if err != nil {
			return nil, fmt.Errorf("application default credentials: %w", err)
		}
		return []option.ClientOption{option.WithTokenSource(creds.TokenSource)}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	return []option.ClientOption{option.WithTokenSource(creds.TokenSource)}, nil
}

func (s *Sheets) Describe() string {
	return "sheets:" + s.cfg.SpreadsheetID
}

func (s *Sheets) resolve(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	ss, err := s.svc.Spreadsheets.Get(s.cfg.SpreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("open spreadsheet %s: %w", s.cfg.SpreadsheetID, err)
	}
	if len(ss.Sheets) == 0 {
		return fmt.Errorf("spreadsheet %s has no worksheets", s.cfg.SpreadsheetID)
	}
	idx := s.cfg.WorksheetIndex
	if idx < 0 || idx >= len(ss.Sheets) {
		s.logger.Warn("worksheet index out of range; using the first sheet", "index", idx, "sheets", len(ss.Sheets))
		idx = 0
	}
	title := ss.Sheets[idx].Properties.Title

	header, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, quoteSheet(title)+"!1:1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header row: %w", err)
	}
	var headers []string
	if len(header.Values) > 0 {
		headers = cellStrings(header.Values[0])
	}
	cols, err := resolveColumns(headers)
	if err != nil {
		return err
	}

	s.title, s.cols, s.ready = title, cols, true
	s.logger.Debug("worksheet resolved", "title", title,
		"requirement_column", ColumnLetter(cols.requirement), "statement_column", ColumnLetter(cols.statement))
	return nil
}

func (s *Sheets) ListRequirements(ctx context.Context) ([]pipeline.Requirement, error) {
	if err := s.resolve(ctx); err != nil {
		return nil, err
	}
	reqCol, stmtCol := ColumnLetter(s.cols.requirement), ColumnLetter(s.cols.statement)
	sheet := quoteSheet(s.title)

	resp, err := s.svc.Spreadsheets.Values.BatchGet(s.cfg.SpreadsheetID).
		Ranges(sheet+"!"+reqCol+":"+reqCol, sheet+"!"+stmtCol+":"+stmtCol).
		MajorDimension("COLUMNS").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var requirements, statements []string
	if len(resp.ValueRanges) > 0 && len(resp.ValueRanges[0].Values) > 0 {
		requirements = cellStrings(resp.ValueRanges[0].Values[0])
	}
	if len(resp.ValueRanges) > 1 && len(resp.ValueRanges[1].Values) > 0 {
		statements = cellStrings(resp.ValueRanges[1].Values[0])
	}
	return unresolved(requirements, statements), nil
}

func (s *Sheets) WriteResult(ctx context.Context, row pipeline.RowID, statement string) error {
	n, err := parseRow(row)
	if err != nil {
		return err
	}
	if err := s.resolve(ctx); err != nil {
		return err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	cell := fmt.Sprintf("%s!%s%d", quoteSheet(s.title), ColumnLetter(s.cols.statement), n)
	_, err = s.svc.Spreadsheets.Values.Update(s.cfg.SpreadsheetID, cell, &sheets.ValueRange{
		Values: [][]any{{statement}},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", cell, err)
	}

	if !s.cfg.VerifyWrites {
		return nil
	}
	got, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, cell).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("verify %s: %w", cell, err)
	}
	if len(got.Values) == 0 || len(got.Values[0]) == 0 || strings.TrimSpace(fmt.Sprint(got.Values[0][0])) == "" {
		return fmt.Errorf("%s: %w", cell, errVerifyFailed)
	}
	return nil
}

func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func cellStrings(values []any) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v != nil {
			out[i] = fmt.Sprint(v)
		}
	}
	return out
}
