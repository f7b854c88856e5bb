package canon

import "testing"

func TestCanonicalValue_StripsTrackingParams(t *testing.T) {
	got := CanonicalValue("https://Example.org/events?utm_source=fb&fbclid=abc&id=7")
	want := "https://example.org/events?id=7"
	if got != want {
		t.Errorf("CanonicalValue() = %q, want %q", got, want)
	}
}

func TestCanonicalValue_StripsFragmentAndDefaultPort(t *testing.T) {
	got := CanonicalValue("https://example.org:443/events#section")
	want := "https://example.org/events"
	if got != want {
		t.Errorf("CanonicalValue() = %q, want %q", got, want)
	}
}

func TestCanonicalValue_QueryOnlyCollapsesWhitespace(t *testing.T) {
	got := CanonicalValue("  mutual   aid   riverbend  ")
	want := "mutual aid riverbend"
	if got != want {
		t.Errorf("CanonicalValue() = %q, want %q", got, want)
	}
}

func TestCanonicalValue_Idempotent(t *testing.T) {
	inputs := []string{
		"https://Example.org/events?utm_source=fb&id=7#frag",
		"  riverbend   mutual aid  ",
		"https://reddit.com/r/riverbend",
	}
	for _, in := range inputs {
		once := CanonicalValue(in)
		twice := CanonicalValue(once)
		if once != twice {
			t.Errorf("CanonicalValue not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestDetectTarget(t *testing.T) {
	cases := []struct {
		in   string
		kind TargetKind
	}{
		{"riverbend mutual aid", TargetWebQuery},
		{"https://reddit.com/r/riverbend", TargetSocial},
		{"https://riverbendmutualaid.org", TargetURL},
	}
	for _, c := range cases {
		got := DetectTarget(c.in)
		if got.Kind != c.kind {
			t.Errorf("DetectTarget(%q).Kind = %v, want %v", c.in, got.Kind, c.kind)
		}
	}

	social := DetectTarget("https://reddit.com/r/riverbend")
	if social.Platform != "reddit" {
		t.Errorf("Platform = %q, want reddit", social.Platform)
	}
	if social.Identifier != "r/riverbend" {
		t.Errorf("Identifier = %q, want r/riverbend", social.Identifier)
	}
}

func TestDetectContentKind(t *testing.T) {
	cases := []struct {
		contentType string
		url         string
		want        ContentKind
	}{
		{"text/html; charset=utf-8", "https://x.org/events", ContentHTML},
		{"application/rss+xml", "https://x.org/feed", ContentFeed},
		{"application/pdf", "https://x.org/flyer.pdf", ContentPDF},
		{"", "https://x.org/flyer.pdf", ContentPDF},
		{"", "https://x.org/feed.xml", ContentFeed},
		{"", "https://x.org/", ContentRaw},
	}
	for _, c := range cases {
		got := DetectContentKind(c.contentType, c.url)
		if got != c.want {
			t.Errorf("DetectContentKind(%q, %q) = %v, want %v", c.contentType, c.url, got, c.want)
		}
	}
}
