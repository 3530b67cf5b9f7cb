package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

func newBolt(t *testing.T) *BoltStore {
	t.Helper()
	st, err := NewBoltStore(filepath.Join(t.TempDir(), "nested", "registry.db"), utils.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return st
}

func TestBoltSnapshotRoundTrip(t *testing.T) {
	st := newBolt(t)
	ctx := context.Background()

	entries, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	now := time.Now().UTC().Truncate(time.Millisecond)
	in := []models.PluginConfig{
		{
			ID:            "plugin_demo_1",
			Name:          "Demo",
			Source:        "module.exports = {};",
			Enabled:       true,
			UserVariables: map[string]string{"serverUrl": "https://api.demo.test"},
			InstallTime:   now,
			UpdateTime:    now,
		},
		{
			ID:      "plugin_other_2",
			Name:    "Other",
			Source:  "https://plugins.example.test/other.js",
			Enabled: false,
		},
	}
	require.NoError(t, st.SaveSnapshot(ctx, in))

	out, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "plugin_demo_1", out[0].ID)
	assert.Equal(t, "https://api.demo.test", out[0].UserVariables["serverUrl"])
	assert.True(t, out[0].InstallTime.Equal(now))
	assert.Equal(t, "plugin_other_2", out[1].ID)
	assert.False(t, out[1].Enabled)
}

func TestBoltSaveReplacesSnapshot(t *testing.T) {
	st := newBolt(t)
	ctx := context.Background()

	require.NoError(t, st.SaveSnapshot(ctx, []models.PluginConfig{{ID: "a"}, {ID: "b"}}))
	require.NoError(t, st.SaveSnapshot(ctx, []models.PluginConfig{{ID: "c"}}))

	out, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "c", out[0].ID)
}

func TestBoltSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.db")
	ctx := context.Background()

	st, err := NewBoltStore(path, utils.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, st.SaveSnapshot(ctx, []models.PluginConfig{{ID: "persisted"}}))
	require.NoError(t, st.Close(ctx))

	st, err = NewBoltStore(path, utils.NewNopLogger())
	require.NoError(t, err)
	defer func() { _ = st.Close(ctx) }()

	out, err := st.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "persisted", out[0].ID)
}

func TestBoltPing(t *testing.T) {
	st := newBolt(t)
	assert.NoError(t, st.Ping(context.Background()))

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, st.Ping(cancelled))
}
