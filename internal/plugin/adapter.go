package plugin

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/sandbox"
)

// legacyProvider adapts a foreign-shaped plugin (query-object search,
// getMediaSource, getAlbumInfo/getArtistWorks) to the canonical capability
// interface. The field priority lists used when normalizing result items are
// part of the adapter contract and must not be reordered.
type legacyProvider struct {
	inst     *sandbox.Instance
	platform string
	version  string
	pageSize int
	caps     models.Capabilities
	vars     []models.UserVariable
	types    []models.MediaType
}

func newLegacyProvider(inst *sandbox.Instance, platform string, pageSize int) *legacyProvider {
	if pageSize <= 0 {
		pageSize = 20
	}
	p := &legacyProvider{
		inst:     inst,
		platform: platform,
		version:  memberString(inst, "version", "1.0.0"),
		pageSize: pageSize,
	}
	p.caps = models.Capabilities{
		Search:           true,
		MediaSource:      true,
		Lyric:            inst.Has("getLyric"),
		AlbumDetail:      inst.Has("getAlbumInfo"),
		ArtistDetail:     inst.Has("getArtistWorks"),
		Recommendations:  false,
		ConfigSchema:     inst.Has("getConfigSchema"),
		TestConnection:   true,
		PlaybackCallback: inst.Has("playbackCallback.onPlaybackStart"),
	}
	p.vars = decodeUserVariables(inst.Member("userVariables"))
	p.types = decodeSearchTypes(inst.Member("supportedSearchType"))
	return p
}

func (p *legacyProvider) Platform() string { return p.platform }
func (p *legacyProvider) Version() string  { return p.version }

func (p *legacyProvider) Capabilities() models.Capabilities { return p.caps }

func (p *legacyProvider) UserVariables() []models.UserVariable { return p.vars }

func (p *legacyProvider) SupportedSearchTypes() []models.MediaType { return p.types }

// Search translates the canonical call into the legacy (query, page, type)
// convention and normalizes whatever envelope comes back.
func (p *legacyProvider) Search(ctx context.Context, keyword string, page int, mediaType models.MediaType) (*models.SearchResult, error) {
	query := map[string]any{
		"keyword": keyword,
		"type":    string(mediaType),
	}

	raw, err := p.inst.Call(ctx, "search", query, page, string(mediaType))
	if err != nil {
		return nil, err
	}

	envelope, _ := raw.(map[string]any)
	items := p.normalizeItems(envelope["data"])

	return &models.SearchResult{
		Data:    items,
		HasMore: p.extractHasMore(envelope, len(items)),
		Page:    page,
	}, nil
}

// ResolveMediaSource accepts the two legacy result shapes, a bare URL string
// or an object carrying url, and rejects anything else.
func (p *legacyProvider) ResolveMediaSource(ctx context.Context, item *models.MediaItem) (*models.MediaSource, error) {
	raw, err := p.inst.Call(ctx, "getMediaSource", item, "standard")
	if err != nil {
		return nil, err
	}

	switch v := raw.(type) {
	case string:
		if v != "" {
			return &models.MediaSource{URL: v}, nil
		}
	case map[string]any:
		if url, ok := v["url"].(string); ok && url != "" {
			source := &models.MediaSource{URL: url}
			if q, ok := v["quality"].(string); ok {
				source.Quality = q
			}
			if h, ok := v["headers"].(map[string]any); ok {
				source.Headers = make(map[string]string, len(h))
				for k, hv := range h {
					source.Headers[k] = str(hv)
				}
			}
			return source, nil
		}
	}

	return nil, models.NewPluginError(p.inst.PluginID(), "getMediaSource",
		fmt.Errorf("%w: media source is neither a url string nor a {url} object", models.ErrInvalidResult))
}

// GetLyric returns nil when the legacy plugin has no lyric method; absence
// is expected, not exceptional.
func (p *legacyProvider) GetLyric(ctx context.Context, item *models.MediaItem) (*models.Lyric, error) {
	if !p.caps.Lyric {
		return nil, nil
	}
	raw, err := p.inst.Call(ctx, "getLyric", item)
	if err != nil {
		return nil, err
	}
	return normalizeLyric(raw), nil
}

func (p *legacyProvider) GetAlbumDetail(ctx context.Context, albumID string) (*models.AlbumDetail, error) {
	if !p.caps.AlbumDetail {
		return nil, models.NewPluginError(p.inst.PluginID(), "getAlbumDetail", models.ErrUnsupportedOperation)
	}

	raw, err := p.inst.Call(ctx, "getAlbumInfo", map[string]any{"id": albumID}, 1)
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, models.NewPluginError(p.inst.PluginID(), "getAlbumInfo",
			fmt.Errorf("%w: album detail is not an object", models.ErrInvalidResult))
	}

	return &models.AlbumDetail{
		ID:          pick(m, "id"),
		Title:       pick(m, "title", "name"),
		Artist:      pick(m, "artist", "artistname"),
		Artwork:     pick(m, "artwork", "pic"),
		Description: pick(m, "description"),
		Tracks:      p.normalizeItems(m["tracks"]),
	}, nil
}

func (p *legacyProvider) GetArtistDetail(ctx context.Context, artistID string) (*models.ArtistDetail, error) {
	if !p.caps.ArtistDetail {
		return nil, models.NewPluginError(p.inst.PluginID(), "getArtistDetail", models.ErrUnsupportedOperation)
	}

	raw, err := p.inst.Call(ctx, "getArtistWorks", map[string]any{"id": artistID}, 1, string(models.MediaTypeMusic))
	if err != nil {
		return nil, err
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, models.NewPluginError(p.inst.PluginID(), "getArtistWorks",
			fmt.Errorf("%w: artist detail is not an object", models.ErrInvalidResult))
	}

	return &models.ArtistDetail{
		ID:          pick(m, "id"),
		Name:        pick(m, "name", "title"),
		Avatar:      pick(m, "avatar", "pic"),
		Description: pick(m, "description"),
		Tracks:      p.normalizeItems(m["tracks"]),
	}, nil
}

func (p *legacyProvider) GetRecommendations(ctx context.Context, page int) (*models.SearchResult, error) {
	return nil, models.NewPluginError(p.inst.PluginID(), "getRecommendations", models.ErrUnsupportedOperation)
}

// ConfigSchema uses the plugin's own schema when declared and otherwise
// derives one from its user variable definitions.
func (p *legacyProvider) ConfigSchema(ctx context.Context) (*models.ConfigSchema, error) {
	if p.caps.ConfigSchema {
		raw, err := p.inst.Call(ctx, "getConfigSchema")
		if err != nil {
			return nil, err
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return nil, nil
		}
		fields, _ := m["fields"].([]any)
		schema := &models.ConfigSchema{}
		for _, f := range fields {
			fm, ok := f.(map[string]any)
			if !ok {
				continue
			}
			field := models.ConfigField{
				Key:         pick(fm, "key"),
				Label:       pick(fm, "label"),
				Type:        pick(fm, "type"),
				Placeholder: pick(fm, "placeholder"),
			}
			if req, ok := fm["required"].(bool); ok {
				field.Required = req
			}
			if field.Key != "" {
				schema.Fields = append(schema.Fields, field)
			}
		}
		return schema, nil
	}

	if len(p.vars) == 0 {
		return nil, nil
	}
	return &models.ConfigSchema{
		Fields: lo.Map(p.vars, func(v models.UserVariable, _ int) models.ConfigField {
			return models.ConfigField{
				Key:         v.Key,
				Label:       v.Name,
				Type:        string(v.Type),
				Placeholder: v.Description,
			}
		}),
	}, nil
}

// TestConnection prefers the plugin's own probe and falls back to a trial
// search. A probe that throws reports ErrConnectionTest, matching the
// canonical binding.
func (p *legacyProvider) TestConnection(ctx context.Context) (bool, error) {
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

func (p *legacyProvider) NotifyPlayback(ctx context.Context, event models.PlaybackEvent, report *models.PlaybackReport) error {
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

func (p *legacyProvider) OnLoad(ctx context.Context) error {
	if !p.inst.Has("onLoad") {
		return nil
	}
	_, err := p.inst.Call(ctx, "onLoad")
	return err
}

func (p *legacyProvider) OnUnload(ctx context.Context) error {
	if !p.inst.Has("onUnload") {
		return nil
	}
	_, err := p.inst.Call(ctx, "onUnload")
	return err
}

func (p *legacyProvider) SetVariables(vars map[string]string) {
	p.inst.SetVariables(vars)
	notifyConfig(p.inst, vars)
}

func (p *legacyProvider) Variables() map[string]string { return p.inst.Variables() }

func (p *legacyProvider) OnVariableChange(fn func(key, value string)) { p.inst.OnVariableChange(fn) }

// normalizeItems maps a raw legacy item list to canonical media items,
// skipping entries that are not objects.
func (p *legacyProvider) normalizeItems(raw any) []models.MediaItem {
	entries, ok := raw.([]any)
	if !ok {
		return []models.MediaItem{}
	}

	return lo.FilterMap(entries, func(entry any, _ int) (models.MediaItem, bool) {
		m, ok := entry.(map[string]any)
		if !ok {
			return models.MediaItem{}, false
		}
		return p.normalizeItem(m), true
	})
}

// normalizeItem applies the adapter's fixed per-field priority lists. The
// original fields are preserved verbatim in the extension bag.
func (p *legacyProvider) normalizeItem(m map[string]any) models.MediaItem {
	item := models.MediaItem{
		ID:       pick(m, "songmid", "id", "mid"),
		Title:    pick(m, "title", "name", "songname"),
		Artist:   pick(m, "artist", "singer", "artistname"),
		Album:    pick(m, "album", "albumname"),
		Artwork:  pick(m, "artwork", "pic", "image"),
		Duration: int(num(m, "duration", "time")),
		Platform: p.platform,
		Extra:    m,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Title == "" {
		item.Title = "Unknown Title"
	}
	if item.Artist == "" {
		item.Artist = "Unknown Artist"
	}
	return item
}

// extractHasMore honors an explicit hasMore flag and otherwise falls back to
// the full-page heuristic: a page holding at least the assumed page size may
// have more behind it. The heuristic is an approximation, not a guarantee.
func (p *legacyProvider) extractHasMore(envelope map[string]any, count int) bool {
	if envelope != nil {
		if explicit, ok := envelope["hasMore"].(bool); ok {
			return explicit
		}
	}
	return count >= p.pageSize
}

// pick returns the first non-empty string among the given keys, coercing
// scalar values.
func pick(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s := str(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%v", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case int:
		return fmt.Sprintf("%d", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return ""
	}
}

func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch t := m[k].(type) {
		case float64:
			if t != 0 {
				return t
			}
		case int64:
			if t != 0 {
				return float64(t)
			}
		case int:
			if t != 0 {
				return float64(t)
			}
		}
	}
	return 0
}
