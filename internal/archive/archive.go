// Package archive is the capability-struct fetch layer (§4.2, C2):
// one Archive holds an optional backend per content type (page, feed,
// search, social), and a SourceHandle exposes a content-type method
// per backend. A missing backend yields an errors.Unsupported error at the call
// site rather than a vtable dispatch — the "dynamic per-platform
// dispatch -> capability struct" translation named in the design
// notes, generalized from the teacher's internal/github.Extractor
// (one struct, one method per GitHub content type, internally
// fetch+parse+store) to an arbitrary set of platforms. Persistence
// follows internal/dlq.Queue's upsert-on-conflict shape, adapted from
// dead-letter bookkeeping to the append-only Interaction log.
package archive

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/errors"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

// Platform discriminates the social backends a SourceHandle may
// dispatch to (§4.2).
type Platform string

const (
	PlatformWeb       Platform = "web"
	PlatformReddit    Platform = "reddit"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformTikTok    Platform = "tiktok"
	PlatformBluesky   Platform = "bluesky"
	PlatformNextdoor  Platform = "nextdoor"
)

// ArchivedPage is one successfully fetched and parsed web page.
type ArchivedPage struct {
	Title       string
	Text        string
	ContentHash string
}

// ArchivedFeed is one successfully fetched and parsed RSS/Atom feed.
type ArchivedFeed struct {
	Title       string
	Items       []FeedItem
	ContentHash string
}

// FeedItem is one entry of a parsed feed.
type FeedItem struct {
	Title       string
	Link        string
	Description string
	Published   *time.Time
}

// ArchivedSearchResults is one search-API call's result set.
type ArchivedSearchResults struct {
	Query       string
	Results     []SearchHit
	ContentHash string
}

// SearchHit is one organic search result.
type SearchHit struct {
	Title   string
	URL     string
	Snippet string
}

// Post is one fetched social-platform post.
type Post struct {
	Text        string
	Permalink   string
	PublishedAt *time.Time
	ContentHash string
}

// PageBackend fetches and renders a single web page to visible text.
// Exactly one of ChromePageBackend (local headless) or a remote
// browserless-backed implementation is wired, selected by
// config.BrowserConfig.UseRemote (§4.2).
type PageBackend interface {
	Fetch(ctx context.Context, url string) (title, text string, err error)
}

// FeedBackend parses an RSS/Atom feed URL.
type FeedBackend interface {
	Fetch(ctx context.Context, url string) (*ArchivedFeed, error)
}

// SearchBackend issues one search-API query.
type SearchBackend interface {
	Search(ctx context.Context, query string) ([]SearchHit, error)
}

// SocialBackend fetches posts for an identifier on one platform. One
// SocialBackend serves every platform; when Archive.social is nil,
// Posts reports Unsupported for all of them (§7 Unsupported taxonomy
// entry).
type SocialBackend interface {
	FetchPosts(ctx context.Context, platform Platform, identifier string, limit int) ([]Post, error)
}

// Archive holds the optional backends and the store Interactions are
// persisted to. Nil backend fields degrade their content-type methods
// to an errors.Unsupported error rather than a panic (§9 capability struct).
type Archive struct {
	db     database.Store
	page   PageBackend
	feed   FeedBackend
	search SearchBackend
	social SocialBackend
}

// New builds an Archive from whichever backends the caller has
// configured; any of page/feed/search/social may be nil.
func New(db database.Store, page PageBackend, feed FeedBackend, search SearchBackend, social SocialBackend) *Archive {
	return &Archive{db: db, page: page, feed: feed, search: search, social: social}
}

// Source returns a handle bound to one Source record.
func (a *Archive) Source(s *models.Source) *SourceHandle {
	return &SourceHandle{archive: a, source: s}
}

// SourceHandle is the public fetch API for one Source (§9 "pending
// request, not a raw future"): each content-type method below
// constructs the request context then immediately executes it,
// playing the role of the Rust original's IntoFuture request builder
// without needing a second awaited step in Go.
type SourceHandle struct {
	archive *Archive
	source  *models.Source
}

func contentHash(body string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(body))
	return fmt.Sprintf("%016x", h.Sum64())
}

// recordInteraction persists the Interaction row for one fetch
// attempt, successful or not (§6 interaction log schema, §8 property
// 1: error == nil implies a non-empty content_hash).
func (h *SourceHandle) recordInteraction(ctx context.Context, runID, region string, kind models.InteractionKind, fetcher, hash string, duration time.Duration, fetchErr error) error {
	i := &models.Interaction{
		ID:          uuid.NewString(),
		RunID:       runID,
		Region:      region,
		Kind:        kind,
		Target:      h.source.CanonicalKey,
		TargetRaw:   h.source.CanonicalValue,
		Fetcher:     fetcher,
		ContentHash: hash,
		DurationMS:  duration.Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if fetchErr != nil {
		msg := fetchErr.Error()
		i.Error = &msg
	}
	if err := h.archive.db.InsertInteraction(ctx, i); err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// Page fetches and renders this Source's URL as a page. previousHash,
// if non-empty, is the content_hash of the last successful fetch of
// this target; when the new body hashes identically, the retry-once
// short circuit applies: the Interaction is still recorded (advancing
// last_confirmed_active downstream) but changed is false and no
// parsed ArchivedPage is returned, so the caller skips re-extraction
// (§"Supplemented from original_source/", rootsignal-archive's
// unchanged-content short circuit).
func (h *SourceHandle) Page(ctx context.Context, runID, region, previousHash string) (page *ArchivedPage, changed bool, err error) {
	if h.archive.page == nil {
		return nil, false, errors.Unsupported("no page backend configured")
	}
	if h.source.URL == nil {
		return nil, false, errors.Unsupported("source has no URL")
	}

	start := time.Now()
	title, text, fetchErr := h.archive.page.Fetch(ctx, *h.source.URL)
	duration := time.Since(start)

	if fetchErr != nil {
		_ = h.recordInteraction(ctx, runID, region, models.KindPage, "page", "", duration, fetchErr)
		return nil, false, errors.FetchFailed(fetchErr, "page fetch failed")
	}

	hash := contentHash(text)
	if err := h.recordInteraction(ctx, runID, region, models.KindPage, "page", hash, duration, nil); err != nil {
		return nil, false, err
	}
	if previousHash != "" && hash == previousHash {
		return nil, false, nil
	}

	return &ArchivedPage{Title: title, Text: text, ContentHash: hash}, true, nil
}

// Feed fetches and parses this Source's feed URL.
func (h *SourceHandle) Feed(ctx context.Context, runID, region, previousHash string) (feed *ArchivedFeed, changed bool, err error) {
	if h.archive.feed == nil {
		return nil, false, errors.Unsupported("no feed backend configured")
	}
	if h.source.URL == nil {
		return nil, false, errors.Unsupported("source has no URL")
	}

	start := time.Now()
	parsed, fetchErr := h.archive.feed.Fetch(ctx, *h.source.URL)
	duration := time.Since(start)

	if fetchErr != nil {
		_ = h.recordInteraction(ctx, runID, region, models.KindFeed, "feed", "", duration, fetchErr)
		return nil, false, errors.FetchFailed(fetchErr, "feed fetch failed")
	}

	if err := h.recordInteraction(ctx, runID, region, models.KindFeed, "feed", parsed.ContentHash, duration, nil); err != nil {
		return nil, false, err
	}
	if previousHash != "" && parsed.ContentHash == previousHash {
		return nil, false, nil
	}
	return parsed, true, nil
}

// Search issues this Source's web query against the search backend.
func (h *SourceHandle) Search(ctx context.Context, runID, region string) (*ArchivedSearchResults, error) {
	if h.archive.search == nil {
		return nil, errors.Unsupported("no search backend configured")
	}

	start := time.Now()
	hits, fetchErr := h.archive.search.Search(ctx, h.source.CanonicalValue)
	duration := time.Since(start)

	if fetchErr != nil {
		_ = h.recordInteraction(ctx, runID, region, models.KindSearch, "search", "", duration, fetchErr)
		return nil, errors.FetchFailed(fetchErr, "search failed")
	}

	hash := contentHash(h.source.CanonicalValue + fmt.Sprint(len(hits)))
	if err := h.recordInteraction(ctx, runID, region, models.KindSearch, "search", hash, duration, nil); err != nil {
		return nil, err
	}
	return &ArchivedSearchResults{Query: h.source.CanonicalValue, Results: hits, ContentHash: hash}, nil
}

// Posts fetches recent posts for a social Source on its detected
// platform (§4.2). Returns Unsupported only when the social backend is
// unconfigured (no APIFY_API_KEY). Any error from the backend —
// including its own report that a platform such as Bluesky is not
// implemented — is recorded as an Interaction and returned as
// FetchFailed.
func (h *SourceHandle) Posts(ctx context.Context, runID, region string, platform Platform, identifier string, limit int) ([]Post, error) {
	if h.archive.social == nil {
		return nil, errors.Unsupported("no social backend configured")
	}

	start := time.Now()
	posts, fetchErr := h.archive.social.FetchPosts(ctx, platform, identifier, limit)
	duration := time.Since(start)

	if fetchErr != nil {
		_ = h.recordInteraction(ctx, runID, region, models.KindSocial, string(platform), "", duration, fetchErr)
		return nil, errors.FetchFailed(fetchErr, "social fetch failed")
	}

	hash := contentHash(fmt.Sprintf("%s:%s:%d", platform, identifier, len(posts)))
	if err := h.recordInteraction(ctx, runID, region, models.KindSocial, string(platform), hash, duration, nil); err != nil {
		return nil, err
	}
	return posts, nil
}
