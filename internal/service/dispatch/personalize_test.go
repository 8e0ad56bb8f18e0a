package dispatch

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lettora/crm-engine/internal/domain"
)

func TestPersonalize(t *testing.T) {
	data := map[string]string{
		"first_name": "Jane",
		"city":       "Leeds",
	}
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"simple", "Hi {{first_name}}", "Hi Jane"},
		{"whitespace inside braces", "Hi {{ first_name }}", "Hi Jane"},
		{"multiple tokens", "{{first_name}} in {{city}}", "Jane in Leeds"},
		{"unresolved token becomes empty", "Hi {{nickname}}!", "Hi !"},
		{"case insensitive lookup", "Hi {{First_Name}}", "Hi Jane"},
		{"no tokens", "plain text", "plain text"},
		{"empty content", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Personalize(tt.content, data); got != tt.want {
				t.Errorf("Personalize(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestInjectPixel(t *testing.T) {
	track := TrackingURLs{BaseURL: "https://track.example.com"}

	html := track.InjectPixel("<html><body>Hello</body></html>", "abc-123")
	want := `<html><body>Hello<img src="https://track.example.com/track/open/abc-123" width="1" height="1" style="display:none" alt="" /></body></html>`
	if html != want {
		t.Errorf("pixel placement wrong:\n got %s\nwant %s", html, want)
	}

	// No closing body tag: pixel is appended.
	html = track.InjectPixel("Hello", "abc-123")
	if !strings.HasPrefix(html, "Hello") || !strings.Contains(html, "/track/open/abc-123") {
		t.Errorf("appended pixel wrong: %s", html)
	}
}

func TestRewriteLinks(t *testing.T) {
	track := TrackingURLs{BaseURL: "https://track.example.com"}

	in := `<a href="https://lettora.co.uk/listings/42">View</a>`
	got := track.RewriteLinks(in, "abc-123")
	want := `<a href="https://track.example.com/track/click/abc-123?url=https%3A%2F%2Flettora.co.uk%2Flistings%2F42">View</a>`
	if got != want {
		t.Errorf("rewrite:\n got %s\nwant %s", got, want)
	}

	// Tracking URLs are never double-wrapped.
	in = `<a href="https://track.example.com/track/open/xyz">pixel</a>`
	if got := track.RewriteLinks(in, "abc-123"); got != in {
		t.Errorf("tracking link was rewrapped: %s", got)
	}
}

func TestSelectVariantDeterministic(t *testing.T) {
	for _, weights := range [][2]int{{50, 50}, {80, 20}} {
		vs := []domain.ABVariant{
			{Name: "A", Percentage: weights[0]},
			{Name: "B", Percentage: weights[1]},
		}
		first := SelectVariant("jane@example.com", "camp-1", vs)
		for i := 0; i < 10; i++ {
			if got := SelectVariant("jane@example.com", "camp-1", vs); got != first {
				t.Fatalf("assignment not stable: %s then %s", first, got)
			}
		}
		// Case of the email must not change the assignment.
		if got := SelectVariant("JANE@example.com", "camp-1", vs); got != first {
			t.Errorf("case-variant email changed assignment")
		}
	}
}

func TestSelectVariantRespectsWeights(t *testing.T) {
	vs := []domain.ABVariant{
		{Name: "A", Percentage: 50},
		{Name: "B", Percentage: 50},
	}
	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		counts[SelectVariant(fmt.Sprintf("user%d@example.com", i), "camp-1", vs)]++
	}
	// Loose bounds: a 50/50 split over 1000 hashed emails should not be
	// wildly skewed.
	if counts["A"] < 350 || counts["A"] > 650 {
		t.Errorf("A got %d of 1000 at 50%% weight", counts["A"])
	}
}
