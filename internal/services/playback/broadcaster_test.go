package playback

import (
	"context"
	"path/filepath"
	"sync"
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

// recorderSource journals every callback delivery into a user variable so
// tests can read the order back out of the registration record.
const recorderSource = `
	var seen = [];
	function record(entry) {
		seen.push(entry);
		env.setUserVariable("journal", seen.join(","));
	}
	module.exports = {
		platform: "Recorder",
		search: function() { return { data: [] }; },
		resolveMediaSource: function() { return { url: "u" }; },
		playbackCallback: {
			onPlaybackStart: function(report) { record("start:" + (report.track ? report.track.id : "?")); },
			onPlaybackStop: function(report) { record("stop:" + (report.track ? report.track.id : "?")); },
			onPlaybackPause: function(report) { record("pause"); }
		}
	};
`

const failingCallbackSource = `
	module.exports = {
		platform: "Flaky",
		search: function() { return { data: [] }; },
		resolveMediaSource: function() { return { url: "u" }; },
		playbackCallback: {
			onPlaybackStart: function() { throw new Error("callback exploded"); },
			onPlaybackStop: function() { throw new Error("callback exploded"); }
		}
	};
`

const deafSource = `
	module.exports = {
		platform: "Deaf",
		search: function() { return { data: [] }; },
		resolveMediaSource: function() { return { url: "u" }; }
	};
`

func newFixture(t *testing.T, sources ...string) (*Broadcaster, *plugin.Registry, []string) {
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
	b := NewBroadcaster(registry, metrics, 5*time.Second, utils.NewNopLogger())
	return b, registry, ids
}

func readJournal(t *testing.T, registry *plugin.Registry, id string) string {
	t.Helper()
	state, err := registry.Get(id)
	require.NoError(t, err)
	return state.UserVariables["journal"]
}

func TestReportNotifiesCapableProviders(t *testing.T) {
	b, registry, ids := newFixture(t, recorderSource, deafSource)

	outcome, err := b.Report(context.Background(), &models.PlaybackReport{
		Event: models.PlaybackStart,
		Track: &models.MediaItem{ID: "song-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.PlaybackStart, outcome.Event)
	assert.Equal(t, 1, outcome.Notified, "only the callback-capable provider counts")
	assert.Empty(t, outcome.Failures)
	assert.False(t, outcome.Discarded)
	assert.Equal(t, "start:song-1", readJournal(t, registry, ids[0]))
}

func TestReportRejectsUnknownEvent(t *testing.T) {
	b, _, _ := newFixture(t, recorderSource)

	_, err := b.Report(context.Background(), &models.PlaybackReport{Event: models.PlaybackEvent("rewind")})
	require.Error(t, err)
}

func TestReportIsolatesCallbackFailures(t *testing.T) {
	b, _, ids := newFixture(t, recorderSource, failingCallbackSource)
	flakyID := ids[1]

	outcome, err := b.Report(context.Background(), &models.PlaybackReport{
		Event: models.PlaybackStart,
		Track: &models.MediaItem{ID: "song-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, outcome.Notified)
	require.Contains(t, outcome.Failures, flakyID)
	assert.Contains(t, outcome.Failures[flakyID], "callback exploded")
}

func TestTrackChangedStopsBeforeStarting(t *testing.T) {
	b, registry, ids := newFixture(t, recorderSource)

	outcome, err := b.Report(context.Background(), &models.PlaybackReport{
		Event:    models.PlaybackTrackChanged,
		Previous: &models.MediaItem{ID: "old"},
		Track:    &models.MediaItem{ID: "new"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.PlaybackTrackChanged, outcome.Event)
	assert.Equal(t, 2, outcome.Notified, "stop and start each count one notification")

	assert.Equal(t, "stop:old,start:new", readJournal(t, registry, ids[0]))
}

func TestTrackChangedWithoutPrevious(t *testing.T) {
	b, registry, ids := newFixture(t, recorderSource)

	_, err := b.Report(context.Background(), &models.PlaybackReport{
		Event: models.PlaybackTrackChanged,
		Track: &models.MediaItem{ID: "first"},
	})
	require.NoError(t, err)

	assert.Equal(t, "start:first", readJournal(t, registry, ids[0]))
}

func TestReportSingleFlightDiscard(t *testing.T) {
	// A callback that holds the event in flight long enough for an
	// overlapping report to arrive.
	slowSource := `
		module.exports = {
			platform: "Slow",
			search: function() { return { data: [] }; },
			resolveMediaSource: function() { return { url: "u" }; },
			playbackCallback: {
				onPlaybackStart: function() {
					var until = Date.now() + 300;
					while (Date.now() < until) {}
				}
			}
		};
	`
	b, _, _ := newFixture(t, slowSource)

	report := &models.PlaybackReport{
		Event: models.PlaybackStart,
		Track: &models.MediaItem{ID: "song-1"},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var firstOutcome *Outcome
	go func() {
		defer wg.Done()
		firstOutcome, _ = b.Report(context.Background(), report)
	}()

	// Give the first report time to enter its fan-out.
	time.Sleep(50 * time.Millisecond)

	second, err := b.Report(context.Background(), report)
	require.NoError(t, err)
	assert.True(t, second.Discarded)
	assert.Zero(t, second.Notified)

	wg.Wait()
	require.NotNil(t, firstOutcome)
	assert.False(t, firstOutcome.Discarded)
	assert.Equal(t, 1, firstOutcome.Notified)

	// Once the first settles, the event type is free again.
	third, err := b.Report(context.Background(), report)
	require.NoError(t, err)
	assert.False(t, third.Discarded)
}

func TestReportDifferentEventsDoNotCollide(t *testing.T) {
	b, _, _ := newFixture(t, recorderSource)

	ctx := context.Background()
	start, err := b.Report(ctx, &models.PlaybackReport{Event: models.PlaybackStart, Track: &models.MediaItem{ID: "a"}})
	require.NoError(t, err)
	pause, err := b.Report(ctx, &models.PlaybackReport{Event: models.PlaybackPause})
	require.NoError(t, err)

	assert.False(t, start.Discarded)
	assert.False(t, pause.Discarded)
}
