package plugin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/sandbox"
	"norelock.dev/resonate/pluginhost/internal/store"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

const basicPlugin = `
	module.exports = {
		platform: "Demo",
		version: "1.2.0",
		userVariables: [
			{ key: "serverUrl", name: "Server URL", defaultValue: "https://api.demo.test" }
		],
		search: function(keyword, page, type) {
			return { data: [{ id: "s1", title: "T", artist: "A" }], hasMore: false };
		},
		resolveMediaSource: function() { return { url: "http://media.demo.test/s1.mp3" }; },
		readVar: function(key) { return env.getUserVariables()[key]; }
	};
`

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "registry.db"), utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return newRegistryWith(st), st
}

func newRegistryWith(st store.Store) *Registry {
	rt := sandbox.NewRuntime(sandbox.Options{}, utils.NewNopLogger())
	return NewRegistry(rt, st, RegistryOptions{}, utils.NewNopLogger())
}

func TestLoadInlinePlugin(t *testing.T) {
	r, _ := newTestRegistry(t)

	state, err := r.Load(context.Background(), basicPlugin, models.LoadOptions{})
	require.NoError(t, err)

	assert.Contains(t, state.ID, "plugin_demo_")
	assert.Equal(t, "Demo", state.Platform)
	assert.Equal(t, "1.2.0", state.Version)
	assert.True(t, state.Enabled)
	assert.True(t, state.Capabilities.Search)
	assert.True(t, state.Capabilities.MediaSource)
	assert.False(t, state.Capabilities.Lyric)
	assert.Equal(t, "https://api.demo.test", state.UserVariables["serverUrl"])
	assert.Empty(t, state.SrcURL, "inline plugins declare no update source")

	total, enabled := r.Counts()
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, enabled)
}

func TestLoadVariableOverrides(t *testing.T) {
	r, _ := newTestRegistry(t)

	state, err := r.Load(context.Background(), basicPlugin, models.LoadOptions{
		UserVariables: map[string]string{"serverUrl": "https://mirror.demo.test"},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.demo.test", state.UserVariables["serverUrl"])

	// The override is what plugin code sees.
	provider, _, err := r.ProviderByID(state.ID)
	require.NoError(t, err)
	sp := provider.(*scriptProvider)
	v, err := sp.inst.Call(context.Background(), "readVar", "serverUrl")
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.demo.test", v)
}

func TestLoadPlatformConflict(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	first, err := r.Load(ctx, basicPlugin, models.LoadOptions{})
	require.NoError(t, err)

	_, err = r.Load(ctx, basicPlugin, models.LoadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPluginExists)

	second, err := r.Load(ctx, basicPlugin, models.LoadOptions{Overwrite: true})
	require.NoError(t, err)

	_, err = r.Get(first.ID)
	assert.ErrorIs(t, err, models.ErrPluginNotFound)
	_, err = r.Get(second.ID)
	assert.NoError(t, err)

	total, _ := r.Counts()
	assert.Equal(t, 1, total)
}

func TestUnload(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	state, err := r.Load(ctx, basicPlugin, models.LoadOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Unload(ctx, state.ID))
	_, err = r.Get(state.ID)
	assert.ErrorIs(t, err, models.ErrPluginNotFound)

	err = r.Unload(ctx, state.ID)
	assert.ErrorIs(t, err, models.ErrPluginNotFound)
}

func TestEnableDisable(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	state, err := r.Load(ctx, basicPlugin, models.LoadOptions{})
	require.NoError(t, err)

	require.NoError(t, r.Disable(ctx, state.ID))

	got, err := r.Get(state.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Empty(t, r.GetEnabled())

	// Disabled plugins reject direct operations too.
	_, _, err = r.ProviderByID(state.ID)
	assert.ErrorIs(t, err, models.ErrPluginDisabled)

	require.NoError(t, r.Enable(ctx, state.ID))
	assert.Len(t, r.GetEnabled(), 1)
}

func TestSetVariableReachesProvider(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	state, err := r.Load(ctx, basicPlugin, models.LoadOptions{})
	require.NoError(t, err)

	require.NoError(t, r.SetVariable(ctx, state.ID, "apiKey", "secret-1"))

	got, err := r.Get(state.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret-1", got.UserVariables["apiKey"])

	provider, _, err := r.ProviderByID(state.ID)
	require.NoError(t, err)
	v, err := provider.(*scriptProvider).inst.Call(ctx, "readVar", "apiKey")
	require.NoError(t, err)
	assert.Equal(t, "secret-1", v)
}

func TestPluginWrittenVariablePersists(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	source := `
		module.exports = {
			platform: "Writer",
			search: function() { return { data: [] }; },
			resolveMediaSource: function() { return { url: "u" }; },
			init: function() { env.setUserVariable("deviceId", "dev-42"); }
		};
	`
	state, err := r.Load(ctx, source, models.LoadOptions{})
	require.NoError(t, err)

	provider, _, err := r.ProviderByID(state.ID)
	require.NoError(t, err)
	_, err = provider.(*scriptProvider).inst.Call(ctx, "init")
	require.NoError(t, err)

	got, err := r.Get(state.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev-42", got.UserVariables["deviceId"])

	entries, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "dev-42", entries[0].UserVariables["deviceId"])
}

func TestRestoreRoundTrip(t *testing.T) {
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "registry.db"), utils.NewNopLogger())
	require.NoError(t, err)
	defer func() { _ = st.Close(context.Background()) }()

	ctx := context.Background()

	r1 := newRegistryWith(st)
	first, err := r1.Load(ctx, basicPlugin, models.LoadOptions{
		UserVariables: map[string]string{"serverUrl": "https://mirror.demo.test"},
	})
	require.NoError(t, err)
	require.NoError(t, r1.Disable(ctx, first.ID))

	other := `
		module.exports = {
			platform: "Second",
			search: function() { return { data: [] }; },
			resolveMediaSource: function() { return { url: "u" }; }
		};
	`
	_, err = r1.Load(ctx, other, models.LoadOptions{})
	require.NoError(t, err)
	r1.Close(ctx)

	// A fresh registry over the same store comes back with both plugins,
	// their enabled flags, and their variables.
	r2 := newRegistryWith(st)
	require.NoError(t, r2.Restore(ctx))

	states := r2.GetAll()
	require.Len(t, states, 2)
	assert.Equal(t, "Demo", states[0].Platform)
	assert.False(t, states[0].Enabled)
	assert.Equal(t, "https://mirror.demo.test", states[0].UserVariables["serverUrl"])
	assert.Equal(t, "Second", states[1].Platform)
	assert.True(t, states[1].Enabled)
}

func TestUpdateFromSource(t *testing.T) {
	version := "1.0.0"
	var mu sync.Mutex
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		v := version
		mu.Unlock()
		fmt.Fprintf(w, `
			module.exports = {
				platform: "Remote",
				version: %q,
				search: function() { return { data: [] }; },
				resolveMediaSource: function() { return { url: "u" }; }
			};
		`, v)
	}))
	defer server.Close()

	r, _ := newTestRegistry(t)
	ctx := context.Background()

	state, err := r.Load(ctx, server.URL, models.LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", state.Version)
	assert.Equal(t, server.URL, state.SrcURL)

	require.NoError(t, r.Disable(ctx, state.ID))
	require.NoError(t, r.SetVariable(ctx, state.ID, "token", "abc"))

	mu.Lock()
	version = "2.0.0"
	mu.Unlock()

	updated, err := r.Update(ctx, state.ID)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", updated.Version)
	assert.False(t, updated.Enabled, "enabled flag survives an update")
	assert.Equal(t, "abc", updated.UserVariables["token"], "variables survive an update")

	total, _ := r.Counts()
	assert.Equal(t, 1, total)
}

func TestUpdateWithoutSource(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	state, err := r.Load(ctx, basicPlugin, models.LoadOptions{})
	require.NoError(t, err)

	_, err = r.Update(ctx, state.ID)
	assert.ErrorIs(t, err, models.ErrNoUpdateSource)
}

func TestLoadRejectsBrokenSource(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Load(ctx, `not javascript at all {`, models.LoadOptions{})
	assert.ErrorIs(t, err, models.ErrLoad)

	_, err = r.Load(ctx, `module.exports = { platform: "NoSearch" };`, models.LoadOptions{})
	assert.ErrorIs(t, err, models.ErrValidation)

	total, _ := r.Counts()
	assert.Equal(t, 0, total)
}

func TestLoadRejectsLegacyShapeWhenDisabled(t *testing.T) {
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "registry.db"), utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })

	rt := sandbox.NewRuntime(sandbox.Options{}, utils.NewNopLogger())
	r := NewRegistry(rt, st, RegistryOptions{DisableLegacyAdapter: true}, utils.NewNopLogger())

	legacy := `
		module.exports = {
			platform: "Old",
			search: function() { return { data: [] }; },
			getMediaSource: function() { return "u"; }
		};
	`
	_, err = r.Load(context.Background(), legacy, models.LoadOptions{})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestLoadRejectsReservedPlatform(t *testing.T) {
	r, _ := newTestRegistry(t)

	reserved := `
		module.exports = {
			platform: "本地",
			search: function() { return { data: [] }; },
			resolveMediaSource: function() { return { url: "u" }; }
		};
	`
	_, err := r.Load(context.Background(), reserved, models.LoadOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "reserved")

	total, _ := r.Counts()
	assert.Equal(t, 0, total)
}

func TestLastErrorRecordsLifecycleFailures(t *testing.T) {
	r, _ := newTestRegistry(t)

	flaky := `
		module.exports = {
			platform: "Flaky",
			search: function() { return { data: [] }; },
			resolveMediaSource: function() { return { url: "u" }; },
			onLoad: function() { throw new Error("warmup failed"); },
			testConnection: function() {
				if (env.getUserVariables().backend === "up") { return true; }
				throw new Error("backend down");
			}
		};
	`
	state, err := r.Load(context.Background(), flaky, models.LoadOptions{})
	require.NoError(t, err)
	assert.Contains(t, state.LastError, "warmup failed")

	ok, err := r.TestConnection(context.Background(), state.ID)
	assert.False(t, ok)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrConnectionTest)

	got, err := r.Get(state.ID)
	require.NoError(t, err)
	assert.Contains(t, got.LastError, "backend down")

	// A passing probe clears the recorded failure.
	require.NoError(t, r.SetVariable(context.Background(), state.ID, "backend", "up"))
	ok, err = r.TestConnection(context.Background(), state.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = r.Get(state.ID)
	require.NoError(t, err)
	assert.Empty(t, got.LastError)
}

func TestTestConnectionRequiresEnabledPlugin(t *testing.T) {
	r, _ := newTestRegistry(t)

	state, err := r.Load(context.Background(), basicPlugin, models.LoadOptions{})
	require.NoError(t, err)
	require.NoError(t, r.Disable(context.Background(), state.ID))

	_, err = r.TestConnection(context.Background(), state.ID)
	assert.ErrorIs(t, err, models.ErrPluginDisabled)
}

// failingStore rejects snapshot writes so persistence rollback is observable.
type failingStore struct{}

func (failingStore) SaveSnapshot(context.Context, []models.PluginConfig) error {
	return errors.New("disk full")
}
func (failingStore) LoadSnapshot(context.Context) ([]models.PluginConfig, error) {
	return nil, nil
}
func (failingStore) Ping(context.Context) error { return nil }
func (failingStore) Close(context.Context) error { return nil }

func TestLoadRollsBackWhenPersistFails(t *testing.T) {
	r := newRegistryWith(failingStore{})

	_, err := r.Load(context.Background(), basicPlugin, models.LoadOptions{})
	require.Error(t, err)

	total, _ := r.Counts()
	assert.Equal(t, 0, total)
}
