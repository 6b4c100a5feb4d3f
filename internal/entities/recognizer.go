package entities

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"
)

// ErrNotInitialized is returned by a recognizer that was never built from rules
var ErrNotInitialized = errors.New("entity recognizer not initialized")

const (
	moneyUnits = `(?:\s?(?i:trillion|billion|million|thousand|bn|mln|mn|tn)\b|[KMBT]\b)`
	months     = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)\.?`
	capWord    = `[A-Z][A-Za-z0-9'&\-]*`
)

var (
	moneyPatterns = []string{
		`(?:US\$|C\$|A\$|[$€£¥])\s?\d+(?:,\d{3})*(?:\.\d+)?` + moneyUnits + `?`,
		`\b\d+(?:,\d{3})*(?:\.\d+)?\s?(?i:trillion|billion|million)?\s?(?:USD|EUR|GBP|JPY|(?i:dollars|euros|pounds|yen))\b`,
	}

	percentPatterns = []string{
		`[-+]?\b\d+(?:\.\d+)?\s?%`,
		`[-+]?\b\d+(?:\.\d+)?\s(?i:percent|per cent|percentage points?)\b`,
	}

	datePatterns = []string{
		`\b` + months + `\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?\b`,
		`\b\d{1,2}\s+` + months + `(?:,?\s+\d{4})?\b`,
		`\b` + months + `\s+\d{4}\b`,
		`\b\d{4}-\d{2}-\d{2}\b`,
		`\bQ[1-4]\s?(?:FY)?\s?(?:\d{4}|'?\d{2})\b`,
		`\b(?i:first|second|third|fourth)[- ](?i:quarter)(?:\s+(?:of\s+)?\d{4})?\b`,
		`\b(?:FY|(?i:fiscal(?:\s+year)?))\s?\d{2,4}\b`,
		`\b(?i:last|this|next|previous|past)\s(?i:year|quarter|month|week)\b`,
		`\b(?:Monday|Tuesday|Wednesday|Thursday|Friday|Saturday|Sunday|(?i:yesterday|today|tomorrow))\b`,
	}

	tickerPatterns = []string{
		`\((?:NASDAQ|Nasdaq|NYSE|AMEX|LSE|TSX|OTC|NYSEARCA)\s*:\s*([A-Z]{1,5}(?:\.[A-Z])?)\)`,
		`(?:^|\s)\$([A-Z]{1,5})\b`,
	}

	defaultSuffixes = []string{
		"Inc", "Incorporated", "Corp", "Corporation", "Co", "Company", "Ltd", "Limited",
		"LLC", "LLP", "PLC", "Plc", "AG", "SA", "NV", "SE", "Group", "Holdings", "Bancorp",
	}

	// Capitalized words that start sentences rather than names
	leadingStopwords = map[string]bool{
		"The": true, "A": true, "An": true, "Shares": true, "Today": true, "Yesterday": true,
		"On": true, "In": true, "At": true, "According": true, "While": true, "After": true,
		"Before": true, "When": true, "Analysts": true, "Investors": true, "Rival": true,
		"Both": true, "And": true, "But": true, "As": true, "For": true, "Of": true, "By": true,
		"Meanwhile": true, "However": true, "Also": true, "Why": true, "How": true,
	}
)

// Rules configure the recognizer
type Rules struct {
	Organizations     []KnownOrganization   `yaml:"organizations"`
	CorporateSuffixes []string              `yaml:"corporate_suffixes"`
	ExtraPatterns     map[Category][]string `yaml:"patterns"`
}

type matcher struct {
	category Category
	re       *regexp.Regexp
	group    int
}

// Recognizer finds entity spans with compiled rules. It is safe for
// concurrent use.
type Recognizer struct {
	matchers []matcher
	known    gazetteer
}

// NewRecognizer compiles rules. A malformed pattern is an error.
func NewRecognizer(rules Rules) (*Recognizer, error) {
	r := &Recognizer{known: newGazetteer(rules.Organizations)}

	add := func(category Category, pattern string, group int) error {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return eris.Wrapf(err, "invalid %s pattern %q", category, pattern)
		}
		if group > re.NumSubexp() {
			return eris.Errorf("pattern %q has no group %d", pattern, group)
		}
		r.matchers = append(r.matchers, matcher{category: category, re: re, group: group})
		return nil
	}

	suffixes := rules.CorporateSuffixes
	if len(suffixes) == 0 {
		suffixes = defaultSuffixes
	}
	if err := add(Organization, corporatePattern(suffixes), 1); err != nil {
		return nil, err
	}
	if pattern := gazetteerPattern(rules.Organizations); pattern != "" {
		if err := add(Organization, pattern, 1); err != nil {
			return nil, err
		}
	}

	builtin := []struct {
		category Category
		patterns []string
		group    int
	}{
		{Monetary, moneyPatterns, 0},
		{Percentage, percentPatterns, 0},
		{Date, datePatterns, 0},
		{Ticker, tickerPatterns, 1},
	}
	for _, b := range builtin {
		for _, p := range b.patterns {
			if err := add(b.category, p, b.group); err != nil {
				return nil, err
			}
		}
	}

	// Sorted so compilation order, and therefore output, is stable
	categories := make([]string, 0, len(rules.ExtraPatterns))
	for c := range rules.ExtraPatterns {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)
	for _, c := range categories {
		category := Category(strings.ToUpper(c))
		if _, known := priority[category]; !known {
			return nil, eris.Errorf("unknown entity category %q", c)
		}
		for _, p := range rules.ExtraPatterns[Category(c)] {
			if err := add(category, p, 0); err != nil {
				return nil, err
			}
		}
	}

	return r, nil
}

// Recognize returns the entities found in text
func (r *Recognizer) Recognize(text string) (EntitySet, error) {
	if r == nil || len(r.matchers) == 0 {
		return EntitySet{}, ErrNotInitialized
	}

	var found []Entity
	for _, m := range r.matchers {
		for _, loc := range m.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*m.group], loc[2*m.group+1]
			if start < 0 || end <= start {
				continue
			}
			if m.category == Organization {
				start = trimLeadingStopwords(text, start, end)
			}
			found = append(found, Entity{
				Text:     text[start:end],
				Category: m.category,
				Start:    start,
				End:      end,
			})
		}
	}

	return EntitySet{Entities: resolveOverlaps(found)}, nil
}

// corporatePattern matches one to five capitalized words ending in a
// corporate suffix, e.g. "Goldman Sachs Group Inc".
func corporatePattern(suffixes []string) string {
	quoted := make([]string, 0, len(suffixes))
	for _, s := range suffixes {
		s = strings.TrimSuffix(strings.TrimSpace(s), ".")
		if s != "" {
			quoted = append(quoted, regexp.QuoteMeta(s))
		}
	}
	// Longest first so "Corporation" is preferred over "Corp"
	sort.SliceStable(quoted, func(i, j int) bool { return len(quoted[i]) > len(quoted[j]) })

	return `\b((?:` + capWord + `\s+(?:&\s+)?){1,5}(?:` + strings.Join(quoted, "|") + `))\b`
}

// gazetteerPattern matches any known organization name or alias
func gazetteerPattern(orgs []KnownOrganization) string {
	var names []string
	seen := make(map[string]bool)
	for _, org := range orgs {
		for _, name := range org.Names() {
			name = strings.TrimSuffix(strings.TrimSpace(name), ".")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, boundedName(name))
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })

	return `(` + strings.Join(names, "|") + `)`
}

// trimLeadingStopwords drops sentence-initial words like "The" from an
// organization span as long as a name and suffix remain.
func trimLeadingStopwords(text string, start, end int) int {
	for {
		span := text[start:end]
		i := strings.IndexByte(span, ' ')
		if i <= 0 || !leadingStopwords[span[:i]] {
			return start
		}
		rest := strings.TrimLeft(span[i:], " ")
		if strings.Count(rest, " ") < 1 {
			return start
		}
		start = end - len(rest)
	}
}

// boundedName quotes name and anchors it with zero-width word boundaries on
// the sides that end in a word character, so adjacent names all match
func boundedName(name string) string {
	quoted := regexp.QuoteMeta(name)
	first, _ := utf8.DecodeRuneInString(name)
	last, _ := utf8.DecodeLastRuneInString(name)
	if isWordRune(first) {
		quoted = `\b` + quoted
	}
	if isWordRune(last) {
		quoted += `\b`
	}
	return quoted
}

func isWordRune(r rune) bool {
	return r == '_' || (r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)))
}
