package extractor

import (
	"testing"

	"HireScout/internal/config"
	"HireScout/internal/domain"
)

func testExtractorConfig() config.ExtractorConfig {
	return config.ExtractorConfig{
		Feed: config.SelectorGroupConfig{
			Primary:  []string{"div[data-post-id]"},
			Fallback: []string{"div.legacy-update"},
		},
		Search: config.SelectorGroupConfig{
			Primary: []string{"li.search-result"},
		},
		Fields: config.FieldSelectorsConfig{
			Text:       []string{"div.post-body", "span.post-text"},
			Author:     []string{"span.author-name"},
			Timestamp:  []string{"time"},
			Link:       []string{"a.post-permalink"},
			Engagement: []string{"span.social-counts"},
		},
	}
}

func TestExtractFeedWithKeywordFilter(t *testing.T) {
	t.Parallel()

	html := `
	<div data-post-id="p1">
	  <span class="author-name">Jane</span>
	  <div class="post-body">We are hiring a Go developer</div>
	  <span class="social-counts">120 reactions</span>
	  <a class="post-permalink" href="https://example.com/p1"></a>
	</div>
	<div data-post-id="p2">
	  <div class="post-body">Look at my breakfast</div>
	  <a class="post-permalink" href="https://example.com/p2"></a>
	</div>`

	out, err := NewStructural(testExtractorConfig(), nil).Extract(Page{
		Kind:     PageFeed,
		HTML:     html,
		Keywords: []string{"hiring"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 qualifying posting, got %d", len(out))
	}
	got := out[0]
	if got.URL != "https://example.com/p1" || got.ExternalID != "p1" {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if got.Author != "Jane" {
		t.Fatalf("expected author Jane, got %q", got.Author)
	}
	if got.Engagement != "120 reactions" {
		t.Fatalf("expected engagement text, got %q", got.Engagement)
	}
	if got.Source != domain.SourceStructural {
		t.Fatalf("expected structural source tag, got %s", got.Source)
	}
}

func TestExtractSearchSkipsKeywordFilter(t *testing.T) {
	t.Parallel()

	html := `
	<li class="search-result">
	  <div class="post-body">Look at my breakfast</div>
	</li>`

	out, err := NewStructural(testExtractorConfig(), nil).Extract(Page{
		Kind:     PageSearch,
		HTML:     html,
		Keywords: []string{"hiring"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(out) != 1 {
		t.Fatal("search-results containers qualify without keyword matches")
	}
}

func TestExtractFallbackContainerGroup(t *testing.T) {
	t.Parallel()

	html := `
	<div class="legacy-update">
	  <div class="post-body">Hiring now, apply today</div>
	</div>`

	out, err := NewStructural(testExtractorConfig(), nil).Extract(Page{
		Kind:     PageFeed,
		HTML:     html,
		Keywords: []string{"hiring"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(out) != 1 {
		t.Fatal("expected the fallback selector group to match")
	}
}

func TestExtractVisibleTextFallback(t *testing.T) {
	t.Parallel()

	html := `
	<div data-post-id="p3">
	  <div>
	    <p>We are hiring ML folks</p>
	    <p style="display: none">tracking junk</p>
	    <p style="opacity:0">ghost text</p>
	    <span>…see more</span>
	  </div>
	</div>`

	out, err := NewStructural(testExtractorConfig(), nil).Extract(Page{
		Kind:     PageFeed,
		HTML:     html,
		Keywords: []string{"hiring"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 posting from text fallback, got %d", len(out))
	}
	got := out[0]
	if got.Source != domain.SourceTextFallback {
		t.Fatalf("expected text-fallback source tag, got %s", got.Source)
	}
	if got.Text != "We are hiring ML folks" {
		t.Fatalf("hidden nodes and truncation must be stripped, got %q", got.Text)
	}
}

func TestExtractSinglePassDedup(t *testing.T) {
	t.Parallel()

	html := `
	<div data-post-id="p1">
	  <div class="post-body">We are hiring a Go developer</div>
	  <a class="post-permalink" href="https://example.com/p1"></a>
	</div>
	<div data-post-id="p1">
	  <div class="post-body">We are hiring a Go developer</div>
	  <a class="post-permalink" href="https://example.com/p1"></a>
	</div>`

	out, err := NewStructural(testExtractorConfig(), nil).Extract(Page{
		Kind:     PageFeed,
		HTML:     html,
		Keywords: []string{"hiring"},
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected duplicate container collapsed within the pass, got %d", len(out))
	}
}

func TestStripTruncation(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Great role …see more":   "Great role",
		"Great role ...see more": "Great role",
		"Great role see more":    "Great role",
		"Great role":             "Great role",
	}
	for in, want := range cases {
		if got := stripTruncation(in); got != want {
			t.Fatalf("stripTruncation(%q) = %q, want %q", in, got, want)
		}
	}
}
