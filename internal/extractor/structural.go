package extractor

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"HireScout/internal/config"
	"HireScout/internal/domain"
)

// PageKind selects the selector group and the keyword-filter behavior.
type PageKind string

const (
	// PageFeed containers qualify only when their text hits a keyword.
	PageFeed PageKind = "feed"
	// PageSearch containers already matched the query; keyword filtering is skipped.
	PageSearch PageKind = "search"
)

// Page is one captured page handed to the extractor.
type Page struct {
	Kind     PageKind
	URL      string
	HTML     string
	Keywords []string
}

var truncationSuffixes = []string{"…see more", "...see more", "see more"}

// Structural extracts postings from captured markup: ordered container
// selector groups with a fallback group, per-field selector lists, and a
// visible-text concatenation fallback when no text selector yields content.
type Structural struct {
	feed   config.SelectorGroupConfig
	search config.SelectorGroupConfig
	fields config.FieldSelectorsConfig
	logger *slog.Logger
}

// NewStructural wires the configured selector lists.
func NewStructural(cfg config.ExtractorConfig, logger *slog.Logger) *Structural {
	if logger == nil {
		logger = slog.Default()
	}
	return &Structural{
		feed:   cfg.Feed,
		search: cfg.Search,
		fields: cfg.Fields,
		logger: logger,
	}
}

// Extract parses the page and returns qualifying candidate postings. Dedup by
// url-or-id is scoped to this single pass; repeated emission across calls is
// expected and absorbed by server-side dedup.
func (s *Structural) Extract(page Page) ([]domain.CandidatePosting, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	group := s.feed
	if page.Kind == PageSearch {
		group = s.search
	}

	containers := selectContainers(doc, group.Primary)
	if containers.Length() == 0 {
		containers = selectContainers(doc, group.Fallback)
	}

	now := time.Now().UTC()
	seen := map[string]struct{}{}
	var out []domain.CandidatePosting

	containers.Each(func(_ int, container *goquery.Selection) {
		text, source := s.containerText(container)
		if text == "" {
			return
		}
		if page.Kind != PageSearch && !matchesAnyKeyword(text, page.Keywords) {
			return
		}

		link := firstAttr(container, s.fields.Link, "href")
		externalID := containerID(container)

		if key := dedupKey(link, externalID); key != "" {
			if _, dup := seen[key]; dup {
				return
			}
			seen[key] = struct{}{}
		}

		out = append(out, domain.CandidatePosting{
			ExternalID: externalID,
			URL:        link,
			Text:       text,
			Author:     firstVisibleText(container, s.fields.Author),
			Engagement: firstVisibleText(container, s.fields.Engagement),
			CapturedAt: s.capturedAt(container, now),
			Source:     source,
		})
	})

	return out, nil
}

// containerText tries each configured text selector in order; the first
// visible non-empty match wins. Without one it falls back to concatenating
// the container's visible text nodes.
func (s *Structural) containerText(container *goquery.Selection) (string, domain.ExtractionSource) {
	if text := firstVisibleText(container, s.fields.Text); text != "" {
		return stripTruncation(text), domain.SourceStructural
	}
	if text := visibleText(container); text != "" {
		return stripTruncation(text), domain.SourceTextFallback
	}
	return "", domain.SourceTextFallback
}

func (s *Structural) capturedAt(container *goquery.Selection, fallback time.Time) time.Time {
	for _, selector := range s.fields.Timestamp {
		node := container.Find(selector).First()
		if node.Length() == 0 {
			continue
		}
		if value, ok := node.Attr("datetime"); ok {
			if parsed, err := time.Parse(time.RFC3339, value); err == nil {
				return parsed
			}
		}
	}
	return fallback
}

func selectContainers(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, selector := range selectors {
		if found := doc.Find(selector); found.Length() > 0 {
			return found
		}
	}
	return doc.Selection.Slice(0, 0)
}

func firstVisibleText(container *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		var text string
		container.Find(selector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			if isHidden(node) {
				return true
			}
			if candidate := strings.TrimSpace(node.Text()); candidate != "" {
				text = candidate
				return false
			}
			return true
		})
		if text != "" {
			return text
		}
	}
	return ""
}

func firstAttr(container *goquery.Selection, selectors []string, attr string) string {
	for _, selector := range selectors {
		var value string
		container.Find(selector).EachWithBreak(func(_ int, node *goquery.Selection) bool {
			if v, ok := node.Attr(attr); ok && strings.TrimSpace(v) != "" {
				value = strings.TrimSpace(v)
				return false
			}
			return true
		})
		if value != "" {
			return value
		}
	}
	return ""
}

func containerID(container *goquery.Selection) string {
	for _, attr := range []string{"data-post-id", "data-result-id", "data-urn", "data-id"} {
		if value, ok := container.Attr(attr); ok && value != "" {
			return value
		}
	}
	return ""
}

func dedupKey(url, externalID string) string {
	if url != "" {
		return url
	}
	return externalID
}

// visibleText concatenates all visible text nodes under the container,
// skipping hidden and zero-opacity subtrees.
func visibleText(container *goquery.Selection) string {
	var builder strings.Builder
	for _, node := range container.Nodes {
		collectText(node, &builder)
	}
	return strings.Join(strings.Fields(builder.String()), " ")
}

func collectText(node *html.Node, builder *strings.Builder) {
	switch node.Type {
	case html.TextNode:
		builder.WriteString(node.Data)
		builder.WriteByte(' ')
		return
	case html.ElementNode:
		if hiddenNode(node) {
			return
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, builder)
	}
}

func isHidden(sel *goquery.Selection) bool {
	for _, node := range sel.Nodes {
		if hiddenNode(node) {
			return true
		}
	}
	return false
}

func hiddenNode(node *html.Node) bool {
	for _, attr := range node.Attr {
		switch attr.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if attr.Val == "true" {
				return true
			}
		case "style":
			style := strings.ReplaceAll(strings.ToLower(attr.Val), " ", "")
			if strings.Contains(style, "display:none") ||
				strings.Contains(style, "visibility:hidden") ||
				strings.Contains(style, "opacity:0;") ||
				strings.HasSuffix(style, "opacity:0") {
				return true
			}
		}
	}
	return false
}

func stripTruncation(text string) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	for _, suffix := range truncationSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return strings.TrimSpace(trimmed[:len(trimmed)-len(suffix)])
		}
	}
	return trimmed
}

func matchesAnyKeyword(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
