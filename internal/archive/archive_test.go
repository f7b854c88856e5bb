package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fourthplaces/rootsignal-sub002/internal/database"
	"github.com/fourthplaces/rootsignal-sub002/internal/errors"
	"github.com/fourthplaces/rootsignal-sub002/internal/models"
)

type fakeStore struct {
	database.Store
	interactions []*models.Interaction
}

func (f *fakeStore) InsertInteraction(ctx context.Context, i *models.Interaction) error {
	f.interactions = append(f.interactions, i)
	return nil
}

type fakePageBackend struct {
	title, text string
	err         error
}

func (b *fakePageBackend) Fetch(ctx context.Context, url string) (string, string, error) {
	return b.title, b.text, b.err
}

type fakeFeedBackend struct {
	feed *ArchivedFeed
	err  error
}

func (b *fakeFeedBackend) Fetch(ctx context.Context, url string) (*ArchivedFeed, error) {
	return b.feed, b.err
}

type fakeSearchBackend struct {
	hits []SearchHit
	err  error
}

func (b *fakeSearchBackend) Search(ctx context.Context, query string) ([]SearchHit, error) {
	return b.hits, b.err
}

type fakeSocialBackend struct {
	posts []Post
	err   error
}

func (b *fakeSocialBackend) FetchPosts(ctx context.Context, platform Platform, identifier string, limit int) ([]Post, error) {
	return b.posts, b.err
}

func testSource(url string) *models.Source {
	return &models.Source{ID: "s1", CanonicalKey: "k1", CanonicalValue: "k1", URL: &url}
}

func TestPage_NoBackendConfiguredReturnsUnsupported(t *testing.T) {
	store := &fakeStore{}
	a := New(store, nil, nil, nil, nil)
	h := a.Source(testSource("https://example.org"))

	_, changed, err := h.Page(context.Background(), "run-1", "region-1", "")
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, errors.ErrorTypeUnsupported, errors.GetType(err))
}

func TestPage_SuccessfulFetchRecordsInteractionAndReturnsParsedPage(t *testing.T) {
	store := &fakeStore{}
	backend := &fakePageBackend{title: "Title", text: "hello world"}
	a := New(store, backend, nil, nil, nil)
	h := a.Source(testSource("https://example.org"))

	page, changed, err := h.Page(context.Background(), "run-1", "region-1", "")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotNil(t, page)
	assert.Equal(t, "Title", page.Title)
	assert.NotEmpty(t, page.ContentHash)

	require.Len(t, store.interactions, 1)
	assert.True(t, store.interactions[0].Valid())
	assert.Equal(t, models.KindPage, store.interactions[0].Kind)
}

func TestPage_UnchangedContentShortCircuitsWithoutError(t *testing.T) {
	store := &fakeStore{}
	backend := &fakePageBackend{title: "Title", text: "hello world"}
	a := New(store, backend, nil, nil, nil)
	h := a.Source(testSource("https://example.org"))

	_, _, err := h.Page(context.Background(), "run-1", "region-1", "")
	require.NoError(t, err)
	previousHash := store.interactions[0].ContentHash

	page, changed, err := h.Page(context.Background(), "run-1", "region-1", previousHash)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, page)
	assert.Len(t, store.interactions, 2, "interaction still recorded on unchanged fetch")
}

func TestPage_FetchErrorRecordsInteractionWithEmptyHashAndReturnsFetchFailed(t *testing.T) {
	store := &fakeStore{}
	backend := &fakePageBackend{err: assertError("boom")}
	a := New(store, backend, nil, nil, nil)
	h := a.Source(testSource("https://example.org"))

	_, changed, err := h.Page(context.Background(), "run-1", "region-1", "")
	require.Error(t, err)
	assert.False(t, changed)
	assert.Equal(t, errors.ErrorTypeFetchFailed, errors.GetType(err))

	require.Len(t, store.interactions, 1)
	assert.NotNil(t, store.interactions[0].Error)
	assert.Empty(t, store.interactions[0].ContentHash)
	assert.True(t, store.interactions[0].Valid())
}

func TestFeed_UnchangedContentShortCircuits(t *testing.T) {
	store := &fakeStore{}
	feed := &ArchivedFeed{Title: "Feed", ContentHash: "abc123"}
	backend := &fakeFeedBackend{feed: feed}
	a := New(store, nil, backend, nil, nil)
	h := a.Source(testSource("https://example.org/feed"))

	got, changed, err := h.Feed(context.Background(), "run-1", "region-1", "abc123")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Nil(t, got)
}

func TestSearch_NoBackendReturnsUnsupported(t *testing.T) {
	store := &fakeStore{}
	a := New(store, nil, nil, nil, nil)
	h := a.Source(&models.Source{ID: "s1", CanonicalKey: "civic unrest springfield", CanonicalValue: "civic unrest springfield"})

	_, err := h.Search(context.Background(), "run-1", "region-1")
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeUnsupported, errors.GetType(err))
}

func TestSearch_SuccessRecordsInteraction(t *testing.T) {
	store := &fakeStore{}
	backend := &fakeSearchBackend{hits: []SearchHit{{Title: "a", URL: "https://a.example"}}}
	a := New(store, nil, nil, backend, nil)
	h := a.Source(&models.Source{ID: "s1", CanonicalKey: "civic unrest springfield", CanonicalValue: "civic unrest springfield"})

	res, err := h.Search(context.Background(), "run-1", "region-1")
	require.NoError(t, err)
	assert.Len(t, res.Results, 1)
	require.Len(t, store.interactions, 1)
	assert.Equal(t, models.KindSearch, store.interactions[0].Kind)
}

func TestPosts_UnsupportedPlatformPropagates(t *testing.T) {
	store := &fakeStore{}
	backend := &fakeSocialBackend{err: errors.Unsupported("bluesky posts not supported")}
	a := New(store, nil, nil, nil, backend)
	h := a.Source(testSource("https://bsky.app/profile/example"))

	_, err := h.Posts(context.Background(), "run-1", "region-1", PlatformBluesky, "example", 10)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeFetchFailed, errors.GetType(err), "backend errors are wrapped as fetch failures regardless of their own cause")
}

func TestPosts_SuccessRecordsInteractionKeyedByPlatform(t *testing.T) {
	store := &fakeStore{}
	now := time.Now().UTC()
	backend := &fakeSocialBackend{posts: []Post{{Text: "hi", Permalink: "https://reddit.com/r/x/1", PublishedAt: &now}}}
	a := New(store, nil, nil, nil, backend)
	h := a.Source(testSource("https://reddit.com/r/example"))

	posts, err := h.Posts(context.Background(), "run-1", "region-1", PlatformReddit, "example", 10)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
	require.Len(t, store.interactions, 1)
	assert.Equal(t, "reddit", store.interactions[0].Fetcher)
}

type assertError string

func (e assertError) Error() string { return string(e) }
