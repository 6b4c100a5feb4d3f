package extraction

import (
	"os"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// MaxPromptInput bounds the article text embedded in one prompt, in bytes
const MaxPromptInput = 3000

var (
	EventTypes = []string{
		"earnings", "merger", "acquisition", "lawsuit", "downgrade", "upgrade",
		"expansion", "regulation", "partnership", "bankruptcy", "other",
	}

	Sentiments = []string{"positive", "neutral", "negative"}
)

const defaultPrompt = `You are a financial intelligence expert. Extract structured information from the news article below.

ARTICLE TEXT:
{{.Text}}

Return ONLY a JSON object (no markdown, no commentary) with exactly these fields:
{
  "company": "primary company mentioned, or null",
  "sector": "industry or sector, or null",
  "event_type": "one of: {{join .EventTypes ", "}}",
  "sentiment": "one of: {{join .Sentiments ", "}}",
  "confidence_score": 0.0 to 1.0,
  "key_metrics": {"revenue": "...", "profit": "...", "growth_percent": "...", "loss": "..."},
  "summary": "one or two sentence summary"
}
Include only key_metrics that the article states.`

// PromptTemplate renders the extraction instruction for one segment
type PromptTemplate struct {
	tmpl *template.Template
}

type promptData struct {
	Text       string
	EventTypes []string
	Sentiments []string
}

// ParsePrompt compiles a prompt template. The template sees .Text,
// .EventTypes and .Sentiments and may call join.
func ParsePrompt(text string) (*PromptTemplate, error) {
	tmpl, err := template.New("extraction").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse prompt template")
	}
	return &PromptTemplate{tmpl: tmpl}, nil
}

// DefaultPrompt returns the built-in prompt
func DefaultPrompt() *PromptTemplate {
	p, err := ParsePrompt(defaultPrompt)
	if err != nil {
		panic(err)
	}
	return p
}

// LoadPrompt reads a prompt template from path, or returns the built-in one
// when path is empty
func LoadPrompt(path string) (*PromptTemplate, error) {
	if path == "" {
		return DefaultPrompt(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to read prompt %s", path)
	}
	return ParsePrompt(string(data))
}

// Render fills the template with a segment truncated to MaxPromptInput
func (p *PromptTemplate) Render(segment string) (string, error) {
	var b strings.Builder
	err := p.tmpl.Execute(&b, promptData{
		Text:       truncate(segment, MaxPromptInput),
		EventTypes: EventTypes,
		Sentiments: Sentiments,
	})
	if err != nil {
		return "", eris.Wrap(err, "failed to render prompt")
	}
	return b.String(), nil
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
