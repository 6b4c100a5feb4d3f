// Package preprocess turns raw article bodies into bounded, ordered text
// segments that fit a single extractor call.
package preprocess

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const (
	DefaultMaxSegmentChars = 3000
	DefaultOverlap         = 200
	minSegmentChars        = 64
)

var (
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)

	// Elements whose text is never article prose
	skippedTags = map[string]bool{
		"script": true, "style": true, "noscript": true, "template": true,
		"iframe": true, "svg": true, "head": true,
	}

	// Elements that separate words when markup is removed
	blockTags = map[string]bool{
		"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
		"tr": true, "td": true, "th": true, "table": true, "section": true,
		"article": true, "blockquote": true, "figcaption": true, "hr": true,
	}
)

// Config bounds segment size. Sizes are in bytes of UTF-8 text.
type Config struct {
	MaxSegmentChars int
	Overlap         int
}

// Segment is one ordered slice of normalized article text
type Segment struct {
	Index  int    `json:"index"`
	Offset int    `json:"offset"` // byte offset into the normalized text
	Text   string `json:"text"`
}

// Preprocessor normalizes and chunks article text
type Preprocessor struct {
	maxChars int
	overlap  int
}

// New creates a preprocessor, falling back to defaults for unusable sizes
func New(cfg Config) *Preprocessor {
	maxChars := cfg.MaxSegmentChars
	if maxChars <= 0 {
		maxChars = DefaultMaxSegmentChars
	}
	if maxChars < minSegmentChars {
		maxChars = minSegmentChars
	}

	overlap := cfg.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap*2 >= maxChars {
		overlap = maxChars / 4
	}

	return &Preprocessor{maxChars: maxChars, overlap: overlap}
}

// Normalize cleans raw text and splits it into segments. Empty or unusable
// input yields no segments.
func (p *Preprocessor) Normalize(raw string) []Segment {
	text := Clean(raw)
	if text == "" {
		return nil
	}
	return p.split(text)
}

// Clean strips markup, links and e-mail addresses and collapses whitespace.
// Letter case is preserved.
func Clean(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}

	text := raw
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, " ")
	}
	text = stripMarkup(text)
	text = urlPattern.ReplaceAllString(text, " ")
	text = emailPattern.ReplaceAllString(text, " ")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError:
			return ' '
		case unicode.IsSpace(r), unicode.IsControl(r):
			return ' '
		case unicode.Is(unicode.Cf, r): // zero-width and other format characters
			return -1
		}
		return r
	}, text)

	return strings.Join(strings.Fields(text), " ")
}

// stripMarkup removes tags with the HTML tokenizer, dropping non-prose
// elements and decoding entities.
func stripMarkup(raw string) string {
	if !strings.ContainsAny(raw, "<&") {
		return raw
	}

	z := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF or a tokenizer error; keep whatever was recovered
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedTags[tag] {
				skipDepth++
			} else if blockTags[tag] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if skippedTags[tag] {
				if skipDepth > 0 {
					skipDepth--
				}
			} else if blockTags[tag] {
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}

// split cuts normalized text into windows of at most maxChars bytes, each
// starting overlap bytes before the previous one ended. Cuts land on spaces
// when possible and always on rune boundaries.
func (p *Preprocessor) split(text string) []Segment {
	if len(text) <= p.maxChars {
		return []Segment{{Index: 0, Offset: 0, Text: text}}
	}

	var segments []Segment
	start := 0
	for start < len(text) {
		end := len(text)
		if start+p.maxChars < len(text) {
			end = cutPoint(text, start, start+p.maxChars)
		}

		s, e := start, end
		for s < e && text[s] == ' ' {
			s++
		}
		for e > s && text[e-1] == ' ' {
			e--
		}
		if e > s {
			segments = append(segments, Segment{Index: len(segments), Offset: s, Text: text[s:e]})
		}

		if end >= len(text) {
			break
		}

		next := wordStart(text, end-p.overlap, end)
		if next <= start {
			next = end
		}
		start = next
	}

	return segments
}

// cutPoint picks the end of a window [start, limit)
func cutPoint(text string, start, limit int) int {
	if text[limit] == ' ' {
		return limit
	}
	if i := strings.LastIndexByte(text[start:limit], ' '); i > 0 {
		return start + i
	}

	end := limit
	for end > start && !utf8.RuneStart(text[end]) {
		end--
	}
	if end == start {
		end = limit
		for end < len(text) && !utf8.RuneStart(text[end]) {
			end++
		}
	}
	return end
}

// wordStart moves pos forward to the beginning of a word, not past limit
func wordStart(text string, pos, limit int) int {
	if pos <= 0 {
		return 0
	}
	if text[pos-1] == ' ' {
		return pos
	}
	if i := strings.IndexByte(text[pos:limit], ' '); i >= 0 {
		return pos + i + 1
	}
	for pos < limit && !utf8.RuneStart(text[pos]) {
		pos++
	}
	return pos
}
