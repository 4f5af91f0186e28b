// Package linkify turns message text into plain and link segments.
//
// Render keeps the cascading detection the web client has always used: URLs
// first, e-mail addresses only when the text has no URL, phone numbers only
// when it has neither. RenderAll detects all three kinds in one pass.
package linkify

import (
	"html"
	"regexp"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type Kind int

const (
	Text Kind = iota
	URL
	Email
	Phone
)

func (k Kind) String() string {
	switch k {
	case URL:
		return "url"
	case Email:
		return "email"
	case Phone:
		return "phone"
	default:
		return "text"
	}
}

// Segment is a run of message text. Href is empty for Text segments.
type Segment struct {
	Kind   Kind
	Text   string
	Href   string
	NewTab bool
}

var (
	urlRe   = regexp.MustCompile(`https?://[^\s<>"]+`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+\d|\b\d)(?:[\s.-]?\d){8,14}\b`)
)

type span struct {
	start, end int
	kind       Kind
}

// Render decorates URLs, else e-mails, else phone numbers.
func Render(text string) []Segment {
	for _, kind := range []Kind{URL, Email, Phone} {
		if spans := find(text, kind); len(spans) > 0 {
			return split(text, spans)
		}
	}
	return plain(text)
}

// RenderAll decorates every URL, e-mail and phone number. Overlaps resolve in
// favour of URLs, then e-mails.
func RenderAll(text string) []Segment {
	var taken []span
	for _, kind := range []Kind{URL, Email, Phone} {
		for _, s := range find(text, kind) {
			if !overlaps(taken, s) {
				taken = append(taken, s)
			}
		}
	}
	if len(taken) == 0 {
		return plain(text)
	}
	sort.Slice(taken, func(i, j int) bool { return taken[i].start < taken[j].start })
	return split(text, taken)
}

func plain(text string) []Segment {
	if text == "" {
		return nil
	}
	return []Segment{{Kind: Text, Text: text}}
}

func find(text string, kind Kind) []span {
	var re *regexp.Regexp
	switch kind {
	case URL:
		re = urlRe
	case Email:
		re = emailRe
	case Phone:
		re = phoneRe
	}

	var spans []span
	for _, loc := range re.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		if kind == URL {
			end = start + len(strings.TrimRight(text[start:end], ".,;:!?)]}'\""))
			if end-start <= len("http://") {
				continue
			}
		}
		spans = append(spans, span{start: start, end: end, kind: kind})
	}
	return spans
}

func overlaps(taken []span, s span) bool {
	for _, t := range taken {
		if s.start < t.end && t.start < s.end {
			return true
		}
	}
	return false
}

func split(text string, spans []span) []Segment {
	segments := make([]Segment, 0, 2*len(spans)+1)
	pos := 0
	for _, s := range spans {
		if s.start > pos {
			segments = append(segments, Segment{Kind: Text, Text: text[pos:s.start]})
		}
		segments = append(segments, link(s.kind, text[s.start:s.end]))
		pos = s.end
	}
	if pos < len(text) {
		segments = append(segments, Segment{Kind: Text, Text: text[pos:]})
	}
	return segments
}

func link(kind Kind, raw string) Segment {
	seg := Segment{Kind: kind, Text: raw}
	switch kind {
	case URL:
		seg.Href = raw
		seg.NewTab = true
	case Email:
		seg.Href = "mailto:" + raw
	case Phone:
		seg.Href = "tel:" + dialable(raw)
	}
	return seg
}

func dialable(raw string) string {
	var b strings.Builder
	for i, r := range raw {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// HTML renders segments as escaped HTML with anchors for links.
func HTML(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.Kind == Text {
			b.WriteString(html.EscapeString(seg.Text))
			continue
		}
		b.WriteString(`<a href="`)
		b.WriteString(html.EscapeString(seg.Href))
		b.WriteString(`"`)
		if seg.NewTab {
			b.WriteString(` target="_blank" rel="noopener noreferrer"`)
		}
		b.WriteString(`>`)
		b.WriteString(html.EscapeString(seg.Text))
		b.WriteString(`</a>`)
	}
	return b.String()
}

var linkStyle = lipgloss.NewStyle().Underline(true).Foreground(lipgloss.Color("39"))

// Terminal renders segments for a terminal, underlining links.
func Terminal(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.Kind == Text {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(linkStyle.Render(seg.Text))
	}
	return b.String()
}
