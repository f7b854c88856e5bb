// Package canon normalizes URLs and search queries into a dedup-grade
// canonical_key (§4.1, C1). It is a pure package: no I/O, no
// allocation beyond string building, safe to call from any goroutine.
// The style — small exported functions, explicit invariants, no
// shared state — follows the teacher's normalization helpers in
// internal/ingestion (file identity keying is pure path-string math
// over git output, same shape applied here to URLs).
package canon

import (
	"net/url"
	"strings"
)

// trackingPrefixes are query-parameter name prefixes stripped from any
// URL during canonicalization (§4.1).
var trackingPrefixes = []string{"utm_", "fbclid", "gclid", "ref"}

// CanonicalValue normalizes a URL or free-text query into its
// canonical_key form. It is idempotent: CanonicalValue(CanonicalValue(x))
// == CanonicalValue(x) (§8 property 10).
func CanonicalValue(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return canonicalizeQuery(trimmed)
	}
	return canonicalizeURL(u)
}

func canonicalizeQuery(q string) string {
	fields := strings.Fields(q)
	return strings.Join(fields, " ")
}

func canonicalizeURL(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !isDefaultPort(u.Scheme, port) {
		host = host + ":" + port
	}

	q := u.Query()
	for key := range q {
		if hasTrackingPrefix(key) {
			q.Del(key)
		}
	}

	out := url.URL{
		Scheme:   strings.ToLower(u.Scheme),
		Host:     host,
		Path:     u.Path,
		RawQuery: q.Encode(),
	}
	s := out.String()
	if len(s) > 1 && strings.HasSuffix(s, "/") && !strings.HasSuffix(u.Path, "//") {
		// preserve root "/" but drop a trailing slash added by re-encoding
		// a path that had none originally.
		if !strings.HasSuffix(u.Path, "/") {
			s = strings.TrimSuffix(s, "/")
		}
	}
	return s
}

func isDefaultPort(scheme, port string) bool {
	switch scheme {
	case "http", "ws":
		return port == "80"
	case "https", "wss":
		return port == "443"
	}
	return false
}

func hasTrackingPrefix(key string) bool {
	lower := strings.ToLower(key)
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// TargetKind discriminates how a Source's canonical_value should be
// interpreted by the archive backend (§4.1, §4.2).
type TargetKind int

const (
	// TargetWebQuery is a free-text search string, not a URL.
	TargetWebQuery TargetKind = iota
	// TargetSocial is a platform-scoped identifier (e.g. a subreddit or
	// handle), detected by a recognized social host.
	TargetSocial
	// TargetURL is a plain web URL.
	TargetURL
)

// DetectedTarget is the result of DetectTarget: a TargetKind plus the
// fields relevant to that kind.
type DetectedTarget struct {
	Kind       TargetKind
	Query      string // set when Kind == TargetWebQuery
	Platform   string // set when Kind == TargetSocial
	Identifier string // set when Kind == TargetSocial
	URL        string // set when Kind == TargetURL or TargetSocial
}

// socialHosts maps a recognized host to its platform label. Matching
// is by suffix so subdomains (old.reddit.com) still resolve.
var socialHosts = map[string]string{
	"reddit.com":   "reddit",
	"twitter.com":  "twitter",
	"x.com":        "twitter",
	"instagram.com": "instagram",
	"facebook.com": "facebook",
	"nextdoor.com": "nextdoor",
	"bsky.app":     "bluesky",
}

// DetectTarget classifies a raw target string into a TargetKind (§4.1).
func DetectTarget(raw string) DetectedTarget {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return DetectedTarget{Kind: TargetWebQuery, Query: canonicalizeQuery(trimmed)}
	}

	host := strings.ToLower(u.Hostname())
	for suffix, platform := range socialHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return DetectedTarget{
				Kind:       TargetSocial,
				Platform:   platform,
				Identifier: strings.Trim(u.Path, "/"),
				URL:        trimmed,
			}
		}
	}
	return DetectedTarget{Kind: TargetURL, URL: canonicalizeURL(u)}
}

// ContentKind is the detected payload shape of a fetched target (§4.1).
type ContentKind int

const (
	ContentHTML ContentKind = iota
	ContentFeed
	ContentPDF
	ContentRaw
)

// DetectContentKind chooses a ContentKind from a MIME type, falling
// back to the target URL's file extension when the MIME type is
// absent or generic (§4.1).
func DetectContentKind(contentType, targetURL string) ContentKind {
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch {
	case strings.Contains(mime, "html"):
		return ContentHTML
	case strings.Contains(mime, "rss"), strings.Contains(mime, "atom"), strings.Contains(mime, "xml") && strings.Contains(targetURL, "feed"):
		return ContentFeed
	case strings.Contains(mime, "pdf"):
		return ContentPDF
	}

	lower := strings.ToLower(targetURL)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return ContentPDF
	case strings.HasSuffix(lower, ".rss"), strings.HasSuffix(lower, ".xml"), strings.HasSuffix(lower, "/feed"), strings.HasSuffix(lower, "/rss"):
		return ContentFeed
	case strings.HasSuffix(lower, ".html"), strings.HasSuffix(lower, ".htm"):
		return ContentHTML
	}
	if mime == "" {
		return ContentRaw
	}
	if strings.Contains(mime, "text/plain") || strings.Contains(mime, "application/json") {
		return ContentRaw
	}
	return ContentRaw
}
