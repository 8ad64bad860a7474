package reader

import (
	"strings"
	"testing"
)

func TestCleanTextCollapsesWhitespaceAndPreservesParagraphs(t *testing.T) {
	input := "  First   paragraph \n\n Second\tparagraph \r\n\r\nThird line "
	got := CleanText(input)
	want := "First paragraph\n\nSecond paragraph\n\nThird line"
	if got != want {
		t.Fatalf("CleanText mismatch\nwant: %q\ngot:  %q", want, got)
	}
}

func TestTruncateText(t *testing.T) {
	input := "abcdefghijklmnopqrstuvwxyz"

	got, truncated := TruncateText(input, 10)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if got != "abcdefghi…" {
		t.Fatalf("unexpected truncated text: %q", got)
	}

	full, wasTruncated := TruncateText("short", 10)
	if wasTruncated {
		t.Fatalf("expected truncated=false for short text")
	}
	if full != "short" {
		t.Fatalf("unexpected short text: %q", full)
	}
}

func TestExtractText_PlainText(t *testing.T) {
	got, err := ExtractText([]byte("  Line one \r\n\r\n line   two "), "https://example.com/a", "text/plain; charset=utf-8", "")
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if got != "Line one\n\nline two" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestExtractText_HTMLArticle(t *testing.T) {
	page := `<html><head><title>Storm</title></head><body>
<nav>Home | World | Sports</nav>
<article><h1>Storm hits coast</h1>
<p>The storm made landfall at dawn on Friday, flooding several low-lying neighborhoods along the coast and cutting power to thousands of homes.</p>
<p>Officials said emergency crews were working through the night to reach stranded residents and restore electricity across the region.</p>
</article></body></html>`

	got, err := ExtractText([]byte(page), "https://example.com/storm", "text/html", "Storm")
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if !strings.Contains(got, "made landfall at dawn") {
		t.Fatalf("expected article text, got %q", got)
	}
}
