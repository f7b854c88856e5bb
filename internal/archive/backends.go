package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/mmcdole/gofeed"

	"github.com/fourthplaces/rootsignal-sub002/internal/errors"
	"github.com/fourthplaces/rootsignal-sub002/internal/investigate"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// visibleText strips script/style and returns collapsed body text, the
// same HTML-to-text reduction BetterCallFirewall-Hackerecon's analyzer
// applies before handing page content to an LLM.
func visibleText(html string) (title, text string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()
	title = strings.TrimSpace(doc.Find("title").First().Text())
	text = whitespaceRegex.ReplaceAllString(doc.Find("body").Text(), " ")
	return title, strings.TrimSpace(text), nil
}

// discoverFeedURL returns the href of the first <link rel="alternate">
// tag of RSS or Atom type (§4.17), or "" when the page has none. The
// conventional /feed and /rss.xml paths are not tried here.
func discoverFeedURL(baseURL, html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	var found string
	doc.Find(`link[rel="alternate"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t, _ := s.Attr("type")
		if t == "application/rss+xml" || t == "application/atom+xml" {
			href, ok := s.Attr("href")
			if ok && href != "" {
				found = href
				return false
			}
		}
		return true
	})
	return found
}

// ChromePageBackend renders a page with a local headless Chrome
// instance (§4.2, selected when BROWSERLESS_URL is unset).
type ChromePageBackend struct {
	Timeout time.Duration
}

func NewChromePageBackend() *ChromePageBackend {
	return &ChromePageBackend{Timeout: 20 * time.Second}
}

func (b *ChromePageBackend) Fetch(ctx context.Context, url string) (string, string, error) {
	allocCtx, cancelAlloc := chromedp.NewContext(ctx)
	defer cancelAlloc()

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(allocCtx, timeout)
	defer cancel()

	var html string
	if err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return "", "", fmt.Errorf("chromedp fetch %s: %w", url, err)
	}

	return visibleText(html)
}

// BrowserlessPageBackend renders a page via a remote browserless.io
// (or compatible) /content endpoint instead of a local Chrome process
// (§4.2, selected when BROWSERLESS_URL is set).
type BrowserlessPageBackend struct {
	BaseURL string
	Token   string
	http    *http.Client
}

func NewBrowserlessPageBackend(baseURL, token string) *BrowserlessPageBackend {
	return &BrowserlessPageBackend{BaseURL: baseURL, Token: token, http: &http.Client{Timeout: 30 * time.Second}}
}

func (b *BrowserlessPageBackend) Fetch(ctx context.Context, pageURL string) (string, string, error) {
	endpoint := fmt.Sprintf("%s/content?token=%s", strings.TrimRight(b.BaseURL, "/"), b.Token)
	body := strings.NewReader(fmt.Sprintf(`{"url":%q}`, pageURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", "", fmt.Errorf("build browserless request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("browserless request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("browserless returned status %d", resp.StatusCode)
	}

	buf := new(strings.Builder)
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", "", fmt.Errorf("read browserless response: %w", err)
	}

	return visibleText(buf.String())
}

// GofeedBackend parses RSS/Atom feeds with mmcdole/gofeed — no
// feed-parsing library exists anywhere in the retrieval pack, so this
// dependency is named rather than grounded (see SPEC_FULL.md).
type GofeedBackend struct {
	parser *gofeed.Parser
}

func NewGofeedBackend() *GofeedBackend {
	return &GofeedBackend{parser: gofeed.NewParser()}
}

func (b *GofeedBackend) Fetch(ctx context.Context, url string) (*ArchivedFeed, error) {
	feed, err := b.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	items := make([]FeedItem, 0, len(feed.Items))
	var hashBody strings.Builder
	for _, it := range feed.Items {
		var published *time.Time
		if it.PublishedParsed != nil {
			published = it.PublishedParsed
		}
		items = append(items, FeedItem{
			Title:       it.Title,
			Link:        it.Link,
			Description: it.Description,
			Published:   published,
		})
		hashBody.WriteString(it.Link)
		hashBody.WriteString(it.Title)
	}

	return &ArchivedFeed{
		Title:       feed.Title,
		Items:       items,
		ContentHash: contentHash(hashBody.String()),
	}, nil
}

// SerperSearchBackend adapts investigate.SearchClient (the same Serper
// client the investigation loop uses) to the archive's SearchBackend
// interface, so a web-query Source and a corroboration query share one
// HTTP client and one rate limit.
type SerperSearchBackend struct {
	client *investigate.SearchClient
}

func NewSerperSearchBackend(client *investigate.SearchClient) *SerperSearchBackend {
	return &SerperSearchBackend{client: client}
}

func (b *SerperSearchBackend) Search(ctx context.Context, query string) ([]SearchHit, error) {
	results, err := b.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{Title: r.Title, URL: r.URL, Snippet: r.Snippet})
	}
	return hits, nil
}

// apifyActors maps a Platform to the Apify actor that scrapes it. No Go
// Apify SDK exists in the ecosystem, so this follows
// investigate.SearchClient's hand-rolled single-endpoint JSON shape:
// run the actor synchronously and read its dataset items back. Bluesky
// and the web platform have no configured actor, matching the
// original's Unsupported posts() cases for those platforms.
var apifyActors = map[Platform]string{
	PlatformReddit:    "trudax~reddit-scraper-lite",
	PlatformTwitter:   "apidojo~tweet-scraper",
	PlatformInstagram: "apify~instagram-post-scraper",
	PlatformFacebook:  "apify~facebook-posts-scraper",
	PlatformTikTok:    "clockworks~tiktok-scraper",
	PlatformNextdoor:  "",
}

// ApifySocialBackend fetches recent posts for a social Source by
// running the platform's Apify actor synchronously and reading its
// dataset back (§4.2). APIKey empty means the backend should not be
// wired into Archive at all; Platforms missing from apifyActors return
// Unsupported.
type ApifySocialBackend struct {
	apiKey string
	http   *http.Client
}

func NewApifySocialBackend(apiKey string) *ApifySocialBackend {
	return &ApifySocialBackend{apiKey: apiKey, http: &http.Client{Timeout: 60 * time.Second}}
}

type apifyPostItem struct {
	Text        string `json:"text"`
	URL         string `json:"url"`
	PublishedAt string `json:"publishedAt"`
}

func (b *ApifySocialBackend) FetchPosts(ctx context.Context, platform Platform, identifier string, limit int) ([]Post, error) {
	actor, ok := apifyActors[platform]
	if !ok || actor == "" {
		return nil, errors.Unsupported(fmt.Sprintf("no apify actor configured for platform %q", platform))
	}

	endpoint := fmt.Sprintf("https://api.apify.com/v2/acts/%s/run-sync-get-dataset-items?token=%s&memory=256", actor, b.apiKey)
	payload, err := json.Marshal(map[string]any{"identifier": identifier, "maxItems": limit})
	if err != nil {
		return nil, fmt.Errorf("marshal apify input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("build apify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("apify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("apify returned status %d", resp.StatusCode)
	}

	var items []apifyPostItem
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decode apify dataset: %w", err)
	}

	posts := make([]Post, 0, len(items))
	for _, it := range items {
		p := Post{Text: it.Text, Permalink: it.URL}
		if t, err := time.Parse(time.RFC3339, it.PublishedAt); err == nil {
			p.PublishedAt = &t
		}
		posts = append(posts, p)
	}
	return posts, nil
}
