package model

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"qresponder/internal/docs"
	"qresponder/internal/pipeline"
)

// DefaultPromptTemplate is rendered once per requirement. Custom templates
// receive the same PromptData.
const DefaultPromptTemplate = `# INSTRUCTION: EVALUATE REQUIREMENT USING SPECIFIED SOURCES
# ACTIVE SOURCES: {{.Sources}}

Requirement to evaluate:
"{{.Requirement}}"

{{.SourceInstructions}}

# RESPONSE REQUIREMENTS:
- Base your response on the most relevant single source
- Be specific about which part of the source supports your answer
- Keep the entire response on a single line (no newlines)
- Keep the reasoning concise (<= 40 words)
- If the requirement is multi-part, clearly indicate which parts are addressed
- If no source contains relevant information, respond with exactly: not_found

# RESPONSE FORMAT (follow exactly):
"[Compliant/Non-compliant/Partially Compliant] - [brief reasoning] (Reference: [Source identifier], [specific section if applicable])"

# CRITICAL REMINDERS:
- NEVER combine information from multiple sources
- Choose the single best source for your response
- If uncertain, respond with: not_found

Allowed document names and URLs (you must cite exactly one of these when providing a reference):
{{range .AllowedNames}}- {{.}}
{{end}}`

const systemPreamble = `You evaluate security and compliance requirements strictly against the source material below. Each source starts with a DOCUMENT marker and, when available, a SOURCE_URL marker.

`

type PromptData struct {
	Requirement        string
	RowID              string
	Sources            string
	SourceInstructions string
	AllowedNames       []string
	Attempt            int
}

var sourceInstructions = map[docs.SourceMode]string{
	docs.ModeBoth: `# SOURCE PRIORITY (MUST FOLLOW):
1. FIRST check ALL website content for relevant information
2. ONLY if no relevant website content is found, check local documents
3. NEVER mix information from different sources

# IMPORTANT:
- WEBSITE CONTENT TAKES PRECEDENCE OVER LOCAL DOCUMENTS
- If ANY website content is relevant, you MUST use it and IGNORE local documents
- Only look at local documents if ALL website content is irrelevant`,
	docs.ModeWebsite: `# SOURCE INSTRUCTIONS:
- Use ONLY the provided website content
- If no website content is relevant, respond with: not_found
- Do not reference or use any local documents`,
	docs.ModeDocs: `# SOURCE INSTRUCTIONS:
- Use ONLY the provided local documents
- If no document is relevant, respond with: not_found`,
}

// templates caches parsed templates by source text.
var templates sync.Map

func parseTemplate(text string) (*template.Template, error) {
	if t, ok := templates.Load(text); ok {
		return t.(*template.Template), nil
	}
	t, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	actual, _ := templates.LoadOrStore(text, t)
	return actual.(*template.Template), nil
}

// RenderPrompt renders the user prompt for q. An empty q.Template uses
// DefaultPromptTemplate.
func RenderPrompt(q pipeline.Query) (string, error) {
	text := q.Template
	if strings.TrimSpace(text) == "" {
		text = DefaultPromptTemplate
	}
	t, err := parseTemplate(text)
	if err != nil {
		return "", err
	}

	mode := q.Context.Mode()
	data := PromptData{
		Requirement:        strings.TrimSpace(q.Requirement.Text),
		RowID:              string(q.Requirement.RowID),
		Sources:            strings.ToUpper(string(mode)),
		SourceInstructions: sourceInstructions[mode],
		AllowedNames:       q.Context.AllowedNames(),
		Attempt:            q.Attempt,
	}

	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

func systemMessage(h *docs.Handle) string {
	return systemPreamble + h.Corpus()
}
