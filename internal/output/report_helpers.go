package output

import (
	"fmt"
	"sort"
	"strings"

	"qresponder/internal/pipeline"
)

// kindGuidance tells the reader what to do about each failure kind.
var kindGuidance = map[pipeline.ErrorKind]string{
	pipeline.KindRateLimited:       "Lower --workers or --rpm; the provider kept rejecting requests after every retry.",
	pipeline.KindTransientNetwork:  "Network or provider instability; re-run to retry these rows.",
	pipeline.KindQuotaExhausted:    "The provider quota is exhausted; raise the quota or wait for it to reset before re-running.",
	pipeline.KindAuthFailed:        "Check the API key (GEMINI_API_KEY / OPENAI_API_KEY) and its permissions.",
	pipeline.KindContentRejected:   "The provider refused the prompt; review the requirement text or the grounding documents.",
	pipeline.KindWritebackFailed:   "The statement was produced but could not be saved; check sheet permissions and re-run.",
	pipeline.KindAbortedByShutdown: "The run stopped before these rows finished; they stay unresolved and are picked up by the next run.",
	pipeline.KindSourceUnavailable: "The requirement source could not be read.",
	pipeline.KindUnknown:           "Unexpected error; re-run with --verbose for details.",
}

type kindCount struct {
	Kind  pipeline.ErrorKind
	Count int
	Rows  []string
}

// countKinds groups failures by kind, most frequent first.
func countKinds(failures []pipeline.Failure) []kindCount {
	byKind := map[pipeline.ErrorKind]*kindCount{}
	for _, f := range failures {
		kc, ok := byKind[f.Kind]
		if !ok {
			kc = &kindCount{Kind: f.Kind}
			byKind[f.Kind] = kc
		}
		kc.Count++
		kc.Rows = append(kc.Rows, string(f.RowID))
	}
	out := make([]kindCount, 0, len(byKind))
	for _, kc := range byKind {
		out = append(out, *kc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// formatRowList renders "N rows (a, b, c, +M more)".
func formatRowList(rows []string, limit int) string {
	noun := "rows"
	if len(rows) == 1 {
		noun = "row"
	}
	if len(rows) == 0 {
		return "0 rows"
	}
	shown := rows
	more := ""
	if len(rows) > limit {
		shown = rows[:limit]
		more = fmt.Sprintf(", +%d more", len(rows)-limit)
	}
	return fmt.Sprintf("%d %s (%s%s)", len(rows), noun, strings.Join(shown, ", "), more)
}

// escapeCell makes s safe inside a Markdown table cell.
func escapeCell(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
