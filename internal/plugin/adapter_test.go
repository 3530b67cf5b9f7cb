package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/sandbox"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

func legacyFixture(t *testing.T, source string) Provider {
	t.Helper()
	rt := sandbox.NewRuntime(sandbox.Options{}, utils.NewNopLogger())
	inst, err := rt.Execute("plugin_legacy_1", source)
	require.NoError(t, err)
	provider, err := NewProvider(inst, 2)
	require.NoError(t, err)
	return provider
}

func TestLegacyDetection(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "OldSchool",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "http://media.test/a.mp3"; }
		};
	`)
	_, ok := p.(*legacyProvider)
	assert.True(t, ok)
	assert.Equal(t, "OldSchool", p.Platform())
	assert.Equal(t, "1.0.0", p.Version())
}

func TestLegacySearchFieldPriorities(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "OldSchool",
			search: function(query, page, type) {
				return {
					data: [
						{ songmid: "X", id: "Y", songname: "Blue", singer: "Ana", albumname: "Skies", pic: "http://a/p.jpg", time: 215 },
						{ id: "only-id", title: "Red", artist: "Bo" },
						{ songname: "" }
					]
				};
			},
			getMediaSource: function() { return "u"; }
		};
	`)

	result, err := p.Search(context.Background(), "blue", 1, models.MediaTypeMusic)
	require.NoError(t, err)
	require.Len(t, result.Data, 3)
	assert.Equal(t, 1, result.Page)

	first := result.Data[0]
	// songmid outranks id when both are present.
	assert.Equal(t, "X", first.ID)
	assert.Equal(t, "Blue", first.Title)
	assert.Equal(t, "Ana", first.Artist)
	assert.Equal(t, "Skies", first.Album)
	assert.Equal(t, "http://a/p.jpg", first.Artwork)
	assert.Equal(t, 215, first.Duration)
	assert.Equal(t, "OldSchool", first.Platform)
	assert.Equal(t, "Y", first.Extra["id"])

	assert.Equal(t, "only-id", result.Data[1].ID)

	third := result.Data[2]
	assert.NotEmpty(t, third.ID, "items without any id get a generated one")
	assert.Equal(t, "Unknown Title", third.Title)
	assert.Equal(t, "Unknown Artist", third.Artist)
}

func TestLegacyHasMore(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   bool
	}{
		{
			name: "explicit flag wins over heuristic",
			source: `module.exports = {
				platform: "P",
				search: function() { return { data: [{id:"1"},{id:"2"}], hasMore: false }; },
				getMediaSource: function() { return "u"; }
			};`,
			want: false,
		},
		{
			name: "full page implies more",
			source: `module.exports = {
				platform: "P",
				search: function() { return { data: [{id:"1"},{id:"2"}] }; },
				getMediaSource: function() { return "u"; }
			};`,
			want: true,
		},
		{
			name: "short page implies done",
			source: `module.exports = {
				platform: "P",
				search: function() { return { data: [{id:"1"}] }; },
				getMediaSource: function() { return "u"; }
			};`,
			want: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := legacyFixture(t, tc.source)
			result, err := p.Search(context.Background(), "q", 1, models.MediaTypeMusic)
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.HasMore)
		})
	}
}

func TestLegacyMediaSourceShapes(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "P",
			search: function() { return { data: [] }; },
			getMediaSource: function(item) {
				if (item.id === "plain") { return "http://media.test/plain.mp3"; }
				if (item.id === "rich") {
					return { url: "http://media.test/rich.flac", quality: "lossless", headers: { Referer: "http://media.test" } };
				}
				return 42;
			}
		};
	`)

	src, err := p.ResolveMediaSource(context.Background(), &models.MediaItem{ID: "plain"})
	require.NoError(t, err)
	assert.Equal(t, "http://media.test/plain.mp3", src.URL)

	src, err = p.ResolveMediaSource(context.Background(), &models.MediaItem{ID: "rich"})
	require.NoError(t, err)
	assert.Equal(t, "http://media.test/rich.flac", src.URL)
	assert.Equal(t, "lossless", src.Quality)
	assert.Equal(t, "http://media.test", src.Headers["Referer"])

	_, err = p.ResolveMediaSource(context.Background(), &models.MediaItem{ID: "bogus"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidResult)
}

func TestLegacyLyricShapes(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "P",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; },
			getLyric: function(item) {
				if (item.id === "string") { return "[00:01.00]line"; }
				if (item.id === "object") { return { rawLrc: "[00:01.00]line", translation: "[00:01.00]ligne" }; }
				if (item.id === "alt") { return { lyric: "[00:02.00]other" }; }
				return null;
			}
		};
	`)

	ctx := context.Background()

	lyric, err := p.GetLyric(ctx, &models.MediaItem{ID: "string"})
	require.NoError(t, err)
	require.NotNil(t, lyric)
	assert.Equal(t, "[00:01.00]line", lyric.RawLRC)
	assert.Empty(t, lyric.Translation)

	lyric, err = p.GetLyric(ctx, &models.MediaItem{ID: "object"})
	require.NoError(t, err)
	require.NotNil(t, lyric)
	assert.Equal(t, "[00:01.00]ligne", lyric.Translation)

	lyric, err = p.GetLyric(ctx, &models.MediaItem{ID: "alt"})
	require.NoError(t, err)
	require.NotNil(t, lyric)
	assert.Equal(t, "[00:02.00]other", lyric.RawLRC)

	lyric, err = p.GetLyric(ctx, &models.MediaItem{ID: "none"})
	require.NoError(t, err)
	assert.Nil(t, lyric)
}

func TestLegacyLyricAbsent(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "P",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; }
		};
	`)

	lyric, err := p.GetLyric(context.Background(), &models.MediaItem{ID: "x"})
	require.NoError(t, err)
	assert.Nil(t, lyric)
}

func TestLegacyAlbumAndArtist(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "P",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; },
			getAlbumInfo: function(album, page) {
				return { id: album.id, name: "Skies", artistname: "Ana", pic: "http://a/c.jpg",
					tracks: [{ songmid: "t1", songname: "Blue" }] };
			},
			getArtistWorks: function(artist, page, type) {
				return { id: artist.id, name: "Ana", tracks: [{ id: "t2", title: "Red" }] };
			}
		};
	`)

	ctx := context.Background()

	album, err := p.GetAlbumDetail(ctx, "alb-1")
	require.NoError(t, err)
	assert.Equal(t, "alb-1", album.ID)
	assert.Equal(t, "Skies", album.Title)
	assert.Equal(t, "Ana", album.Artist)
	require.Len(t, album.Tracks, 1)
	assert.Equal(t, "t1", album.Tracks[0].ID)
	assert.Equal(t, "P", album.Tracks[0].Platform)

	artist, err := p.GetArtistDetail(ctx, "art-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", artist.Name)
	require.Len(t, artist.Tracks, 1)
	assert.Equal(t, "Red", artist.Tracks[0].Title)
}

func TestLegacyRecommendationsUnsupported(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "P",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; }
		};
	`)

	_, err := p.GetRecommendations(context.Background(), 1)
	assert.ErrorIs(t, err, models.ErrUnsupportedOperation)
}

func TestLegacyConfigSchemaDerivedFromVariables(t *testing.T) {
	p := legacyFixture(t, `
		module.exports = {
			platform: "P",
			userVariables: [
				{ key: "apiKey", name: "API key", description: "token from the dashboard", type: "password" }
			],
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; }
		};
	`)

	schema, err := p.ConfigSchema(context.Background())
	require.NoError(t, err)
	require.NotNil(t, schema)
	require.Len(t, schema.Fields, 1)
	assert.Equal(t, "apiKey", schema.Fields[0].Key)
	assert.Equal(t, "API key", schema.Fields[0].Label)
	assert.Equal(t, "password", schema.Fields[0].Type)
}

func TestLegacyTestConnection(t *testing.T) {
	// A throwing explicit probe reports a connection test error, same as
	// the canonical binding.
	p := legacyFixture(t, `
		module.exports = {
			platform: "P",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; },
			testConnection: function() { throw new Error("unreachable"); }
		};
	`)
	ok, err := p.TestConnection(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConnectionTest)
	assert.False(t, ok)

	// Without a probe the trial search decides.
	p = legacyFixture(t, `
		module.exports = {
			platform: "P",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; }
		};
	`)
	ok, err = p.TestConnection(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
