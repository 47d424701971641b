package store

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"qresponder/internal/pipeline"
)

func TestColumnLetter(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{1, "A"}, {3, "C"}, {26, "Z"}, {27, "AA"}, {52, "AZ"}, {53, "BA"}, {703, "AAA"}, {0, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ColumnLetter(tc.in), "index %d", tc.in)
	}
}

func TestFindHeaderColumn(t *testing.T) {
	headers := []string{"ID", " requirement ", "Owner", "compliance_statement"}
	assert.Equal(t, 2, FindHeaderColumn(headers, RequirementHeaders...))
	assert.Equal(t, 4, FindHeaderColumn(headers, StatementHeaders...))
	assert.Equal(t, 0, FindHeaderColumn(headers, "Notes"))

	_, err := resolveColumns([]string{"Requirement"})
	require.ErrorIs(t, err, ErrMissingHeader)
}

func TestUnresolvedSkipsAnsweredAndBlankRows(t *testing.T) {
	got := unresolved(
		[]string{"Requirement", "Encrypt data?", "", "  SSO?  ", "MFA?"},
		[]string{"Compliance Statement", "", "", "", "Yes (Reference: mfa.md)"},
	)
	assert.Equal(t, []pipeline.Requirement{
		{RowID: "2", Text: "Encrypt data?"},
		{RowID: "4", Text: "SSO?"},
	}, got)
}

func writeCSV(t *testing.T, records [][]string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "questions.csv")
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, csv.NewWriter(f).WriteAll(records))
	require.NoError(t, f.Close())
	return p
}

func readCSV(t *testing.T, p string) [][]string {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func TestCSV_ListAndWrite(t *testing.T) {
	p := writeCSV(t, [][]string{
		{"#", "Requirement", "Compliance Statement"},
		{"1", "Do you encrypt data at rest?"},
		{"2", "Do you support SSO?", "Yes."},
		{"3", "Is there a bug bounty?", ""},
	})
	src := NewCSV(p)
	ctx := context.Background()

	reqs, err := src.ListRequirements(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Requirement{
		{RowID: "2", Text: "Do you encrypt data at rest?"},
		{RowID: "4", Text: "Is there a bug bounty?"},
	}, reqs)

	require.NoError(t, src.WriteResult(ctx, "2", "Yes, AES-256. (Reference: encryption.md)"))
	require.NoError(t, src.WriteResult(ctx, "4", "not_found"))

	records := readCSV(t, p)
	assert.Equal(t, "Yes, AES-256. (Reference: encryption.md)", records[1][2])
	assert.Equal(t, "Yes.", records[2][2])
	assert.Equal(t, "not_found", records[3][2])

	reqs, err = src.ListRequirements(ctx)
	require.NoError(t, err)
	assert.Empty(t, reqs)

	entries, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestCSV_Errors(t *testing.T) {
	ctx := context.Background()
	p := writeCSV(t, [][]string{{"Requirement", "Compliance Statement"}, {"Q1", ""}})
	src := NewCSV(p)

	require.ErrorIs(t, src.WriteResult(ctx, "9", "x"), ErrUnknownRow)
	require.ErrorIs(t, src.WriteResult(ctx, "1", "x"), ErrUnknownRow)
	require.ErrorIs(t, src.WriteResult(ctx, "abc", "x"), ErrUnknownRow)

	missing := NewCSV(writeCSV(t, [][]string{{"Question", "Answer"}}))
	_, err := missing.ListRequirements(ctx)
	require.ErrorIs(t, err, ErrMissingHeader)

	_, err = NewCSV(filepath.Join(t.TempDir(), "absent.csv")).ListRequirements(ctx)
	require.Error(t, err)
}

func TestCSV_ConcurrentWrites(t *testing.T) {
	records := [][]string{{"Requirement", "Compliance Statement"}}
	for i := range 20 {
		records = append(records, []string{"Q" + strconv.Itoa(i), ""})
	}
	p := writeCSV(t, records)
	src := NewCSV(p)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, src.WriteResult(context.Background(), pipeline.RowID(strconv.Itoa(i+2)), "A"+strconv.Itoa(i)))
		}()
	}
	wg.Wait()

	got := readCSV(t, p)
	for i := range 20 {
		assert.Equal(t, "A"+strconv.Itoa(i), got[i+1][1])
	}
}

// fakeSheet serves the subset of the Sheets v4 API the store uses.
type fakeSheet struct {
	t      *testing.T
	mu     sync.Mutex
	titles []string
	grid   [][]string
	writes []string
	// dropWrites makes updates succeed without storing the value.
	dropWrites bool
}

func (f *fakeSheet) cell(row, col int) string {
	if row < 1 || row > len(f.grid) || col < 1 || col > len(f.grid[row-1]) {
		return ""
	}
	return f.grid[row-1][col-1]
}

func colIndex(letter string) int {
	return int(letter[0]-'A') + 1
}

// a1 splits "'Title'!C5" into column and row ("C", 5). Whole columns give row 0.
func a1(rng string) (string, int) {
	_, ref, _ := strings.Cut(rng, "!")
	ref, _, _ = strings.Cut(ref, ":")
	i := strings.IndexFunc(ref, func(r rune) bool { return r >= '0' && r <= '9' })
	if i < 0 {
		return ref, 0
	}
	n, _ := strconv.Atoi(ref[i:])
	return ref[:i], n
}

func (f *fakeSheet) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)

	path := strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/sheet-1")
	switch {
	case path == "":
		var sheets []map[string]any
		for i, title := range f.titles {
			sheets = append(sheets, map[string]any{"properties": map[string]any{"title": title, "index": i}})
		}
		_ = enc.Encode(map[string]any{"sheets": sheets})

	case path == "/values:batchGet":
		assert.Equal(f.t, "COLUMNS", r.URL.Query().Get("majorDimension"))
		var ranges []map[string]any
		for _, rng := range r.URL.Query()["ranges"] {
			letter, _ := a1(rng)
			var col []string
			for row := 1; row <= len(f.grid); row++ {
				col = append(col, f.cell(row, colIndex(letter)))
			}
			for len(col) > 0 && col[len(col)-1] == "" {
				col = col[:len(col)-1]
			}
			ranges = append(ranges, map[string]any{"range": rng, "values": [][]string{col}})
		}
		_ = enc.Encode(map[string]any{"valueRanges": ranges})

	case strings.HasPrefix(path, "/values/") && r.Method == http.MethodGet:
		rng := strings.TrimPrefix(path, "/values/")
		if strings.HasSuffix(rng, "!1:1") {
			_ = enc.Encode(map[string]any{"range": rng, "values": [][]string{f.grid[0]}})
			return
		}
		letter, row := a1(rng)
		v := f.cell(row, colIndex(letter))
		if v == "" {
			_ = enc.Encode(map[string]any{"range": rng})
			return
		}
		_ = enc.Encode(map[string]any{"range": rng, "values": [][]string{{v}}})

	case strings.HasPrefix(path, "/values/") && r.Method == http.MethodPut:
		assert.Equal(f.t, "RAW", r.URL.Query().Get("valueInputOption"))
		rng := strings.TrimPrefix(path, "/values/")
		var body struct {
			Values [][]string `json:"values"`
		}
		if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.writes = append(f.writes, rng)
		if !f.dropWrites {
			letter, row := a1(rng)
			for len(f.grid[row-1]) < colIndex(letter) {
				f.grid[row-1] = append(f.grid[row-1], "")
			}
			f.grid[row-1][colIndex(letter)-1] = body.Values[0][0]
		}
		_ = enc.Encode(map[string]any{"updatedRange": rng, "updatedCells": 1})

	default:
		http.NotFound(w, r)
	}
}

func newSheetsStore(t *testing.T, fake *fakeSheet, cfg SheetsConfig) *Sheets {
	t.Helper()
	fake.t = t
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg.SpreadsheetID = "sheet-1"
	cfg.WriteInterval = -1
	s, err := NewSheets(context.Background(), cfg,
		option.WithEndpoint(server.URL+"/"),
		option.WithoutAuthentication(),
		option.WithHTTPClient(server.Client()),
	)
	require.NoError(t, err)
	return s
}

func TestSheets_ListAndWrite(t *testing.T) {
	fake := &fakeSheet{
		titles: []string{"Intro", "Vendor's Questions"},
		grid: [][]string{
			{"ID", "Requirement", "Compliance Statement"},
			{"1", "Encrypt data at rest?"},
			{"2", "Support SSO?", "Yes."},
			{"3", ""},
			{"4", "MFA enforced?"},
		},
	}
	s := newSheetsStore(t, fake, SheetsConfig{WorksheetIndex: 1, VerifyWrites: true})
	ctx := context.Background()

	reqs, err := s.ListRequirements(ctx)
	require.NoError(t, err)
	assert.Equal(t, []pipeline.Requirement{
		{RowID: "2", Text: "Encrypt data at rest?"},
		{RowID: "5", Text: "MFA enforced?"},
	}, reqs)

	require.NoError(t, s.WriteResult(ctx, "2", "Yes (Reference: encryption.md)"))
	require.NoError(t, s.WriteResult(ctx, "5", "not_found"))

	assert.Equal(t, []string{"'Vendor''s Questions'!C2", "'Vendor''s Questions'!C5"}, fake.writes)
	assert.Equal(t, "Yes (Reference: encryption.md)", fake.cell(2, 3))
	assert.Equal(t, "not_found", fake.cell(5, 3))
}

func TestSheets_WorksheetIndexFallsBackToFirst(t *testing.T) {
	fake := &fakeSheet{
		titles: []string{"Only"},
		grid:   [][]string{{"requirement", "compliance statement"}, {"Q1"}},
	}
	s := newSheetsStore(t, fake, SheetsConfig{WorksheetIndex: 7})

	reqs, err := s.ListRequirements(context.Background())
	require.NoError(t, err)
	require.Len(t, reqs, 1)

	require.NoError(t, s.WriteResult(context.Background(), "2", "ok"))
	assert.Equal(t, []string{"'Only'!B2"}, fake.writes)
}

func TestSheets_VerifyDetectsLostWrite(t *testing.T) {
	fake := &fakeSheet{
		titles:     []string{"Q"},
		grid:       [][]string{{"Requirement", "Compliance Statement"}, {"Q1"}},
		dropWrites: true,
	}
	s := newSheetsStore(t, fake, SheetsConfig{VerifyWrites: true})

	err := s.WriteResult(context.Background(), "2", "lost")
	require.ErrorIs(t, err, errVerifyFailed)
}

func TestSheets_MissingHeaders(t *testing.T) {
	fake := &fakeSheet{titles: []string{"Q"}, grid: [][]string{{"Question", "Answer"}}}
	s := newSheetsStore(t, fake, SheetsConfig{})

	_, err := s.ListRequirements(context.Background())
	require.ErrorIs(t, err, ErrMissingHeader)
}

func TestNewSheets_RequiresID(t *testing.T) {
	_, err := NewSheets(context.Background(), SheetsConfig{}, option.WithoutAuthentication())
	require.Error(t, err)
}
