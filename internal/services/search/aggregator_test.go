package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/plugin"
	"norelock.dev/resonate/pluginhost/internal/sandbox"
	"norelock.dev/resonate/pluginhost/internal/services/system"
	"norelock.dev/resonate/pluginhost/internal/store"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

const healthySource = `
	module.exports = {
		platform: "Healthy",
		search: function(keyword, page, type) {
			return {
				data: [
					{ id: "h-" + page + "-1", title: "First", artist: "A", platform: "spoofed" },
					{ id: "h-" + page + "-2", title: "Second", artist: "A" }
				],
				hasMore: page < 2
			};
		},
		resolveMediaSource: function() { return { url: "u" }; }
	};
`

const brokenSource = `
	module.exports = {
		platform: "Broken",
		search: function() { throw new Error("network timeout"); },
		resolveMediaSource: function() { return { url: "u" }; }
	};
`

func newFixture(t *testing.T, sources ...string) (*Aggregator, *plugin.Registry, []string) {
	t.Helper()

	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "registry.db"), utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	rt := sandbox.NewRuntime(sandbox.Options{}, utils.NewNopLogger())
	registry := plugin.NewRegistry(rt, st, plugin.RegistryOptions{}, utils.NewNopLogger())

	ids := make([]string, 0, len(sources))
	for _, src := range sources {
		state, err := registry.Load(context.Background(), src, models.LoadOptions{})
		require.NoError(t, err)
		ids = append(ids, state.ID)
	}

	metrics := system.NewMetrics(prometheus.NewRegistry())
	agg := NewAggregator(registry, metrics, Options{ProviderTimeout: 5 * time.Second}, utils.NewNopLogger())
	return agg, registry, ids
}

func waitSettled(t *testing.T, session *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, session.Wait(ctx))
}

func providerResult(t *testing.T, session *Session, pluginID string) ProviderResult {
	t.Helper()
	for _, pr := range session.Snapshot() {
		if pr.PluginID == pluginID {
			return pr
		}
	}
	t.Fatalf("provider %s not in session", pluginID)
	return ProviderResult{}
}

func TestSearchAllIsolatesFailures(t *testing.T) {
	agg, _, ids := newFixture(t, healthySource, brokenSource)
	healthyID, brokenID := ids[0], ids[1]

	session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeMusic)
	require.NoError(t, err)
	waitSettled(t, session)

	healthy := providerResult(t, session, healthyID)
	assert.False(t, healthy.Loading)
	assert.Empty(t, healthy.Error)
	require.Len(t, healthy.Results, 2)
	assert.True(t, healthy.HasMore)
	assert.Equal(t, 1, healthy.Page)

	broken := providerResult(t, session, brokenID)
	assert.False(t, broken.Loading)
	assert.Contains(t, broken.Error, "network timeout")
	assert.Empty(t, broken.Results)
	assert.False(t, broken.HasMore)
}

func TestSearchAllStampsPlatform(t *testing.T) {
	agg, _, ids := newFixture(t, healthySource)

	session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeMusic)
	require.NoError(t, err)
	waitSettled(t, session)

	result := providerResult(t, session, ids[0])
	for _, item := range result.Results {
		assert.Equal(t, ids[0], item.Platform, "provider output must not spoof its origin")
	}
}

func TestSearchAllRejectsInvalidMediaType(t *testing.T) {
	agg, _, _ := newFixture(t, healthySource)

	_, err := agg.SearchAll(context.Background(), "test", models.MediaType("podcast"))
	assert.ErrorIs(t, err, models.ErrInvalidMediaType)
}

func TestSearchAllSkipsUnsupportedMediaTypes(t *testing.T) {
	albumCapable := `
		module.exports = {
			platform: "Albums",
			supportedSearchType: ["music", "album"],
			search: function(keyword, page, type) {
				return { data: [{ id: "a1", title: "T", artist: "A" }], hasMore: false };
			},
			resolveMediaSource: function() { return { url: "u" }; }
		};
	`
	// healthySource declares nothing, which means music only.
	agg, _, ids := newFixture(t, healthySource, albumCapable)

	session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeAlbum)
	require.NoError(t, err)
	waitSettled(t, session)

	snapshot := session.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, ids[1], snapshot[0].PluginID)
}

func TestSearchAllSkipsDisabledProviders(t *testing.T) {
	agg, registry, ids := newFixture(t, healthySource, brokenSource)
	require.NoError(t, registry.Disable(context.Background(), ids[1]))

	session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeMusic)
	require.NoError(t, err)
	waitSettled(t, session)

	snapshot := session.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, ids[0], snapshot[0].PluginID)
}

func TestLoadMoreAppendsOneProviderOnly(t *testing.T) {
	agg, _, ids := newFixture(t, healthySource, brokenSource)
	healthyID, brokenID := ids[0], ids[1]

	session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeMusic)
	require.NoError(t, err)
	waitSettled(t, session)

	brokenBefore := providerResult(t, session, brokenID)

	_, err = agg.LoadMore(session.ID, healthyID)
	require.NoError(t, err)
	waitSettled(t, session)

	healthy := providerResult(t, session, healthyID)
	require.Len(t, healthy.Results, 4, "page 2 appends to page 1")
	assert.Equal(t, "h-1-1", healthy.Results[0].ID)
	assert.Equal(t, "h-2-1", healthy.Results[2].ID)
	assert.Equal(t, 2, healthy.Page)
	assert.False(t, healthy.HasMore)

	assert.Equal(t, brokenBefore, providerResult(t, session, brokenID),
		"other providers' pagination state is untouched")
}

func TestLoadMoreGuards(t *testing.T) {
	agg, _, ids := newFixture(t, healthySource)
	healthyID := ids[0]

	session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeMusic)
	require.NoError(t, err)
	waitSettled(t, session)

	// Exhaust the provider: page 2 reports hasMore=false.
	_, err = agg.LoadMore(session.ID, healthyID)
	require.NoError(t, err)
	waitSettled(t, session)

	// Further requests are no-ops, not errors.
	_, err = agg.LoadMore(session.ID, healthyID)
	require.NoError(t, err)
	waitSettled(t, session)
	assert.Len(t, providerResult(t, session, healthyID).Results, 4)

	_, err = agg.LoadMore(session.ID, "plugin_unknown_1")
	assert.ErrorIs(t, err, models.ErrPluginNotFound)

	_, err = agg.LoadMore("no-such-session", healthyID)
	require.Error(t, err)
	assert.True(t, utils.IsNotFound(err))
}

func TestDiscardReleasesSession(t *testing.T) {
	agg, _, _ := newFixture(t, healthySource)

	session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeMusic)
	require.NoError(t, err)
	waitSettled(t, session)

	agg.Discard(session.ID)
	_, ok := agg.Get(session.ID)
	assert.False(t, ok)
}

func TestSessionEviction(t *testing.T) {
	agg, _, _ := newFixture(t, healthySource)

	var first *Session
	for i := 0; i < maxSessions+1; i++ {
		session, err := agg.SearchAll(context.Background(), "test", models.MediaTypeMusic)
		require.NoError(t, err)
		waitSettled(t, session)
		if i == 0 {
			first = session
		}
	}

	_, ok := agg.Get(first.ID)
	assert.False(t, ok, "oldest session is evicted past the cap")
}
