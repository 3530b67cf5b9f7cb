// Package plugin implements the provider registry and the capability surface
// exposed by loaded media provider plugins. Providers written against the
// canonical interface are bound directly; foreign-shaped providers are bound
// through the legacy adapter in adapter.go.
package plugin

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/sandbox"
)

// Provider is the canonical capability interface every registered plugin
// presents, directly or via the legacy adapter. Optional operations return
// ErrUnsupportedOperation when the underlying plugin never declared them;
// callers should branch on Capabilities instead of probing.
type Provider interface {
	// Platform returns the provider's declared platform name.
	Platform() string

	// Version returns the provider's declared version.
	Version() string

	// Capabilities returns the immutable capability declaration computed at
	// load time.
	Capabilities() models.Capabilities

	// UserVariables returns the provider's declared user variable definitions.
	UserVariables() []models.UserVariable

	// SupportedSearchTypes returns the media types the provider declares
	// searchable. An empty declaration means music only.
	SupportedSearchTypes() []models.MediaType

	// Search queries the provider for media items.
	Search(ctx context.Context, keyword string, page int, mediaType models.MediaType) (*models.SearchResult, error)

	// ResolveMediaSource resolves a playable source for an item.
	ResolveMediaSource(ctx context.Context, item *models.MediaItem) (*models.MediaSource, error)

	// GetLyric returns the lyric for an item, or nil when the provider has
	// none. Absence is expected, not exceptional.
	GetLyric(ctx context.Context, item *models.MediaItem) (*models.Lyric, error)

	// GetAlbumDetail returns album metadata and tracks.
	GetAlbumDetail(ctx context.Context, albumID string) (*models.AlbumDetail, error)

	// GetArtistDetail returns artist metadata and works.
	GetArtistDetail(ctx context.Context, artistID string) (*models.ArtistDetail, error)

	// GetRecommendations returns provider-curated items.
	GetRecommendations(ctx context.Context, page int) (*models.SearchResult, error)

	// ConfigSchema returns the provider's configuration field list.
	ConfigSchema(ctx context.Context) (*models.ConfigSchema, error)

	// TestConnection probes whether the provider can reach its backend.
	// Providers without an explicit probe fall back to a trial search.
	TestConnection(ctx context.Context) (bool, error)

	// NotifyPlayback delivers a playback lifecycle event to the provider's
	// optional playback callback.
	NotifyPlayback(ctx context.Context, event models.PlaybackEvent, report *models.PlaybackReport) error

	// OnLoad runs the provider's optional load hook.
	OnLoad(ctx context.Context) error

	// OnUnload runs the provider's optional unload hook.
	OnUnload(ctx context.Context) error

	// SetVariables replaces the user variables visible to provider code.
	SetVariables(vars map[string]string)

	// Variables returns the user variables currently visible to provider
	// code, including any the provider set itself.
	Variables() map[string]string

	// OnVariableChange registers a hook fired when provider code writes a
	// user variable through its environment.
	OnVariableChange(fn func(key, value string))
}

// reservedPlatforms are identities the host keeps for itself (the local
// library); a plugin declaring one fails validation.
var reservedPlatforms = map[string]struct{}{
	"本地": {},
}

// NewProvider binds a sandboxed instance to the capability interface,
// choosing the direct binding or the legacy adapter based on the exported
// shape, and validates the required operations.
func NewProvider(inst *sandbox.Instance, pageSize int) (Provider, error) {
	platform, _ := inst.Member("platform").(string)
	if platform == "" {
		return nil, models.NewPluginError(inst.PluginID(), "load",
			fmt.Errorf("%w: plugin does not declare a platform", models.ErrValidation))
	}
	if _, reserved := reservedPlatforms[platform]; reserved {
		return nil, models.NewPluginError(inst.PluginID(), "load",
			fmt.Errorf("%w: platform %q is reserved", models.ErrValidation, platform))
	}
	if !inst.Has("search") {
		return nil, models.NewPluginError(inst.PluginID(), "load",
			fmt.Errorf("%w: plugin does not implement search", models.ErrValidation))
	}

	switch {
	case inst.Has("resolveMediaSource"):
		return newScriptProvider(inst, platform), nil
	case inst.Has("getMediaSource"):
		return newLegacyProvider(inst, platform, pageSize), nil
	default:
		return nil, models.NewPluginError(inst.PluginID(), "load",
			fmt.Errorf("%w: plugin does not implement a media source resolver", models.ErrValidation))
	}
}

// scriptProvider binds a plugin already written against the canonical shape.
type scriptProvider struct {
	inst     *sandbox.Instance
	platform string
	version  string
	caps     models.Capabilities
	vars     []models.UserVariable
	types    []models.MediaType
}

func newScriptProvider(inst *sandbox.Instance, platform string) *scriptProvider {
	p := &scriptProvider{
		inst:     inst,
		platform: platform,
		version:  memberString(inst, "version", "1.0.0"),
	}
	p.caps = models.Capabilities{
		Search:           true,
		MediaSource:      true,
		Lyric:            inst.Has("getLyric"),
		AlbumDetail:      inst.Has("getAlbumDetail"),
		ArtistDetail:     inst.Has("getArtistDetail"),
		Recommendations:  inst.Has("getRecommendations"),
		ConfigSchema:     inst.Has("getConfigSchema"),
		TestConnection:   true,
		PlaybackCallback: inst.Has("playbackCallback.onPlaybackStart"),
	}
	p.vars = decodeUserVariables(inst.Member("userVariables"))
	p.types = decodeSearchTypes(inst.Member("supportedSearchType"))
	return p
}

func (p *scriptProvider) Platform() string { return p.platform }
func (p *scriptProvider) Version() string  { return p.version }

func (p *scriptProvider) Capabilities() models.Capabilities { return p.caps }

func (p *scriptProvider) UserVariables() []models.UserVariable { return p.vars }

func (p *scriptProvider) SupportedSearchTypes() []models.MediaType { return p.types }

func (p *scriptProvider) Search(ctx context.Context, keyword string, page int, mediaType models.MediaType) (*models.SearchResult, error) {
	var result models.SearchResult
	if err := p.inst.CallInto(ctx, "search", &result, keyword, page, string(mediaType)); err != nil {
		return nil, err
	}
	result.Page = page
	return &result, nil
}

func (p *scriptProvider) ResolveMediaSource(ctx context.Context, item *models.MediaItem) (*models.MediaSource, error) {
	var source models.MediaSource
	if err := p.inst.CallInto(ctx, "resolveMediaSource", &source, item); err != nil {
		return nil, err
	}
	if source.URL == "" {
		return nil, models.NewPluginError(p.inst.PluginID(), "resolveMediaSource",
			fmt.Errorf("%w: resolver returned no url", models.ErrInvalidResult))
	}
	return &source, nil
}

func (p *scriptProvider) GetLyric(ctx context.Context, item *models.MediaItem) (*models.Lyric, error) {
	if !p.caps.Lyric {
		return nil, nil
	}
	result, err := p.inst.Call(ctx, "getLyric", item)
	if err != nil {
		return nil, err
	}
	return normalizeLyric(result), nil
}

func (p *scriptProvider) GetAlbumDetail(ctx context.Context, albumID string) (*models.AlbumDetail, error) {
	if !p.caps.AlbumDetail {
		return nil, models.NewPluginError(p.inst.PluginID(), "getAlbumDetail", models.ErrUnsupportedOperation)
	}
	var detail models.AlbumDetail
	if err := p.inst.CallInto(ctx, "getAlbumDetail", &detail, albumID); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (p *scriptProvider) GetArtistDetail(ctx context.Context, artistID string) (*models.ArtistDetail, error) {
	if !p.caps.ArtistDetail {
		return nil, models.NewPluginError(p.inst.PluginID(), "getArtistDetail", models.ErrUnsupportedOperation)
	}
	var detail models.ArtistDetail
	if err := p.inst.CallInto(ctx, "getArtistDetail", &detail, artistID); err != nil {
		return nil, err
	}
	return &detail, nil
}

func (p *scriptProvider) GetRecommendations(ctx context.Context, page int) (*models.SearchResult, error) {
	if !p.caps.Recommendations {
		return nil, models.NewPluginError(p.inst.PluginID(), "getRecommendations", models.ErrUnsupportedOperation)
	}
	var result models.SearchResult
	if err := p.inst.CallInto(ctx, "getRecommendations", &result, page); err != nil {
		return nil, err
	}
	result.Page = page
	return &result, nil
}

func (p *scriptProvider) ConfigSchema(ctx context.Context) (*models.ConfigSchema, error) {
	if !p.caps.ConfigSchema {
		return nil, nil
	}
	var schema models.ConfigSchema
	if err := p.inst.CallInto(ctx, "getConfigSchema", &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func (p *scriptProvider) TestConnection(ctx context.Context) (bool, error) {
	if p.inst.Has("testConnection") {
		result, err := p.inst.Call(ctx, "testConnection")
		if err != nil {
			return false, models.NewPluginError(p.inst.PluginID(), "testConnection",
				fmt.Errorf("%w: %v", models.ErrConnectionTest, err))
		}
		ok, _ := result.(bool)
		return ok, nil
	}
	return probeSearch(ctx, p)
}

func (p *scriptProvider) NotifyPlayback(ctx context.Context, event models.PlaybackEvent, report *models.PlaybackReport) error {
	if !p.caps.PlaybackCallback {
		return nil
	}
	method := "playbackCallback." + event.CallbackName()
	if !p.inst.Has(method) {
		return nil
	}
	_, err := p.inst.Call(ctx, method, report)
	return err
}

func (p *scriptProvider) OnLoad(ctx context.Context) error {
	if !p.inst.Has("onLoad") {
		return nil
	}
	_, err := p.inst.Call(ctx, "onLoad")
	return err
}

func (p *scriptProvider) OnUnload(ctx context.Context) error {
	if !p.inst.Has("onUnload") {
		return nil
	}
	_, err := p.inst.Call(ctx, "onUnload")
	return err
}

func (p *scriptProvider) SetVariables(vars map[string]string) {
	p.inst.SetVariables(vars)
	notifyConfig(p.inst, vars)
}

func (p *scriptProvider) Variables() map[string]string { return p.inst.Variables() }

func (p *scriptProvider) OnVariableChange(fn func(key, value string)) { p.inst.OnVariableChange(fn) }

// notifyConfig hands the updated variable map to the plugin's optional
// setConfig hook. Hook failures are the plugin's problem; the host-side state
// is already committed.
func notifyConfig(inst *sandbox.Instance, vars map[string]string) {
	if !inst.Has("setConfig") {
		return
	}
	_, _ = inst.Call(context.Background(), "setConfig", vars)
}

// probeSearch is the shared connectivity fallback: a provider without an
// explicit probe is considered reachable if a trivial search completes.
func probeSearch(ctx context.Context, p Provider) (bool, error) {
	if _, err := p.Search(ctx, "test", 1, models.MediaTypeMusic); err != nil {
		return false, nil
	}
	return true, nil
}

func memberString(inst *sandbox.Instance, name, fallback string) string {
	if s, ok := inst.Member(name).(string); ok && s != "" {
		return s
	}
	return fallback
}

// decodeUserVariables accepts the exported userVariables declaration, a
// sequence of {key, name?, description?, type?, defaultValue?} objects.
func decodeUserVariables(raw any) []models.UserVariable {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}

	vars := make([]models.UserVariable, 0, len(items))
	for _, entry := range items {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		key, _ := m["key"].(string)
		if key == "" {
			continue
		}
		v := models.UserVariable{Key: key, Type: models.VariableTypeText}
		if s, ok := m["name"].(string); ok {
			v.Name = s
		}
		if s, ok := m["description"].(string); ok {
			v.Description = s
		}
		if s, ok := m["type"].(string); ok && s != "" {
			v.Type = models.VariableType(s)
		}
		if s, ok := m["defaultValue"].(string); ok {
			v.DefaultValue = s
		}
		vars = append(vars, v)
	}
	return vars
}

func decodeSearchTypes(raw any) []models.MediaType {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	return lo.FilterMap(items, func(entry any, _ int) (models.MediaType, bool) {
		s, ok := entry.(string)
		if !ok {
			return "", false
		}
		mt := models.MediaType(s)
		return mt, mt.Valid()
	})
}

// normalizeLyric maps the tolerated lyric shapes (string, {rawLrc,
// translation?}, {lyric}) to the canonical form, or nil when nothing usable
// came back.
func normalizeLyric(raw any) *models.Lyric {
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if v == "" {
			return nil
		}
		return &models.Lyric{RawLRC: v}
	case map[string]any:
		if s, ok := v["rawLrc"].(string); ok && s != "" {
			lyric := &models.Lyric{RawLRC: s}
			if t, ok := v["translation"].(string); ok {
				lyric.Translation = t
			}
			return lyric
		}
		if s, ok := v["lyric"].(string); ok && s != "" {
			return &models.Lyric{RawLRC: s}
		}
		return nil
	default:
		return nil
	}
}
