// Package parser extracts structured fields from channel post text and renders
// the stored article body. Everything here is pure.
package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/tg-ingest/internal/ingest"
)

// Delimiter tokens embedded in source posts.
const (
	markerTitle       = "名称："
	markerDescription = "描述："
	markerLink        = "链接："
	markerSize        = "📁 大小："
	markerTags        = "🏷 标签："
)

// Field fallbacks.
const (
	DefaultTitle       = "unknown"
	DefaultDescription = "none"
	DefaultLink        = "none"
	DefaultSize        = "unknown"
)

const maxTitleRunes = 24

// LinkMapping renders links whose text contains Domain as an anchor labelled Display.
type LinkMapping struct {
	Domain     string
	Display    string
	CategoryID *int
}

// Parser holds the ordered link mapping table.
type Parser struct {
	mappings []LinkMapping
}

// New returns a Parser. Mapping order is significant: the first match wins.
func New(mappings []LinkMapping) *Parser {
	cp := make([]LinkMapping, len(mappings))
	copy(cp, mappings)
	return &Parser{mappings: cp}
}

// Parse extracts the message fields. Missing markers yield the package defaults.
func (p *Parser) Parse(text string) ingest.ParsedMessage {
	out := ingest.ParsedMessage{
		Title:       extractTitle(text),
		Description: DefaultDescription,
		SizeLabel:   DefaultSize,
		Link:        DefaultLink,
		Tags:        []string{},
	}

	if i := strings.Index(text, markerDescription); i >= 0 {
		out.Description = strings.TrimSpace(untilMarker(text[i+len(markerDescription):]))
	}
	if v, ok := lineAfter(text, markerLink); ok {
		out.Link = v
	}
	if v, ok := lineAfter(text, markerSize); ok {
		out.SizeLabel = v
	}
	if v, ok := lineAfter(text, markerTags); ok {
		out.Tags = SplitTags(v)
	}

	out.LinkHTML = out.Link
	for _, m := range p.mappings {
		if m.Domain == "" || !strings.Contains(out.Link, m.Domain) {
			continue
		}
		out.LinkHTML = fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`, out.Link, m.Display)
		out.CategoryID = m.CategoryID
		break
	}
	return out
}

func extractTitle(text string) string {
	head := text
	if i := strings.Index(text, markerDescription); i >= 0 {
		head = text[:i]
	}
	head = strings.TrimSpace(strings.ReplaceAll(head, markerTitle, ""))
	if utf8.RuneCountInString(head) > maxTitleRunes {
		head = strings.TrimSpace(string([]rune(head)[:maxTitleRunes]))
	}
	if head == "" {
		return DefaultTitle
	}
	return head
}

// untilMarker cuts s at the earliest field marker that can follow a description.
func untilMarker(s string) string {
	end := len(s)
	for _, m := range []string{markerLink, markerSize, markerTags} {
		if j := strings.Index(s, m); j >= 0 && j < end {
			end = j
		}
	}
	return s[:end]
}

// lineAfter returns the trimmed text between marker and the next newline.
func lineAfter(text, marker string) (string, bool) {
	i := strings.Index(text, marker)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(marker):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest), true
}

// SplitTags drops whitespace, treats full-width commas and '#' as separators,
// and returns the non-empty tags in order.
func SplitTags(raw string) []string {
	normalized := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '，' || r == '#':
			return ','
		default:
			return r
		}
	}, raw)
	out := []string{}
	for _, tag := range strings.Split(normalized, ",") {
		if tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// FilterTags removes blocked tags. removed is the number of distinct blocked
// tags the message carried.
func FilterTags(tags []string, blocked map[string]struct{}) (kept []string, removed int) {
	kept = make([]string, 0, len(tags))
	seen := make(map[string]struct{})
	for _, tag := range tags {
		if _, ok := blocked[tag]; ok {
			if _, dup := seen[tag]; !dup {
				seen[tag] = struct{}{}
				removed++
			}
			continue
		}
		kept = append(kept, tag)
	}
	return kept, removed
}

// RenderContent builds the markdown article body. imageRef is a complete
// markdown image reference and is omitted when empty.
func RenderContent(msg ingest.ParsedMessage, imageRef string) string {
	var b strings.Builder
	if imageRef != "" {
		b.WriteString(imageRef)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "**描述**: %s\n\n**📁 大小**: %s\n\n**链接**: %s", msg.Description, msg.SizeLabel, msg.LinkHTML)
	return b.String()
}
