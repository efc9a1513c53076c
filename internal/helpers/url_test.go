package helpers

import (
	"reflect"
	"testing"
)

func TestCanonicalPageURL(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips fragment and trailing slash",
			in:   "https://example.com/services/#pricing",
			want: "https://example.com/services",
		},
		{
			name: "normalises www variant",
			in:   "https://www.Example.com/About/",
			want: "https://example.com/About",
		},
		{
			name: "root collapses to bare host",
			in:   "https://example.com/",
			want: "https://example.com",
		},
		{
			name: "preserves query",
			in:   "https://example.com/faq?section=hours",
			want: "https://example.com/faq?section=hours",
		},
		{
			name: "keeps non-default port",
			in:   "http://example.com:8080/page",
			want: "http://example.com:8080/page",
		},
		{
			name: "drops default port",
			in:   "https://example.com:443/page",
			want: "https://example.com/page",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalPageURL(tc.in)
			if err != nil {
				t.Fatalf("CanonicalPageURL(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("CanonicalPageURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}

	for _, bad := range []string{"", "ftp://example.com/file", "https://", "://nope"} {
		if _, err := CanonicalPageURL(bad); err == nil {
			t.Fatalf("CanonicalPageURL(%q) should fail", bad)
		}
	}
}

func TestFilterInternalLinks(t *testing.T) {
	t.Parallel()

	links := []string{
		"https://example.com/about",
		"https://www.example.com/about", // same page, www variant
		"https://example.com/about#team",
		"https://other.com/x",
		"https://example.com/logo.png",
		"/contact",
		"mailto:hi@example.com",
		"javascript:void(0)",
		"https://example.com/pricing/",
		"http://127.0.0.1/admin",
	}
	got := FilterInternalLinks("https://example.com/", links)
	want := []string{
		"https://example.com/about",
		"https://example.com/contact",
		"https://example.com/pricing",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("FilterInternalLinks = %v, want %v", got, want)
	}
}

func TestFilterInternalLinksRelativeResolution(t *testing.T) {
	t.Parallel()

	got := FilterInternalLinks("https://www.example.com/docs/start", []string{"../faq", "guide"})
	want := []string{
		"https://example.com/faq",
		"https://example.com/docs/guide",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("relative resolution = %v, want %v", got, want)
	}
}

func TestFilterInternalLinksBadBase(t *testing.T) {
	t.Parallel()
	if got := FilterInternalLinks("not a url", []string{"https://example.com/a"}); got != nil {
		t.Fatalf("expected nil for unparseable base, got %v", got)
	}
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	a := ContentHash("hello world")
	if a != ContentHash("hello world") {
		t.Fatal("hash must be deterministic")
	}
	if a == ContentHash("hello world!") {
		t.Fatal("different content should not collide on a one-byte change")
	}
}
