// Package models contains the data structures used throughout the application.
package models

// MediaType identifies the kind of media a search or detail operation targets.
type MediaType string

// Supported media types.
const (
	MediaTypeMusic  MediaType = "music"
	MediaTypeAlbum  MediaType = "album"
	MediaTypeArtist MediaType = "artist"
	MediaTypeSheet  MediaType = "sheet"
)

// Valid reports whether t is one of the supported media types.
func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeMusic, MediaTypeAlbum, MediaTypeArtist, MediaTypeSheet:
		return true
	}
	return false
}

// MediaItem is the canonical representation of a single media result.
// Providers return arbitrary shapes; the adapter layer maps them onto the
// known fields below and preserves everything else in Extra.
type MediaItem struct {
	// ID is the item identifier on the owning platform.
	ID string `json:"id"`

	// Title is the display title of the item.
	Title string `json:"title"`

	// Artist is the performing or owning artist.
	Artist string `json:"artist,omitempty"`

	// Album is the album the item belongs to, when known.
	Album string `json:"album,omitempty"`

	// Artwork is the URL of the item's cover image.
	Artwork string `json:"artwork,omitempty"`

	// Duration is the item duration in seconds.
	Duration int `json:"duration,omitempty"`

	// Platform is the id of the plugin that produced the item. It is always
	// stamped by the aggregator and never trusted from provider output.
	Platform string `json:"platform"`

	// Extra preserves provider-specific fields that have no canonical slot.
	Extra map[string]any `json:"extra,omitempty"`
}

// SearchResult is the envelope returned by a provider search call.
type SearchResult struct {
	// Data is the ordered sequence of items for the requested page.
	Data []MediaItem `json:"data"`

	// HasMore indicates whether another page may exist. For legacy providers
	// this can be a heuristic, not a guarantee.
	HasMore bool `json:"hasMore"`

	// Page is the page the envelope belongs to.
	Page int `json:"page"`
}

// MediaSource is the resolved playable source for a media item.
type MediaSource struct {
	// URL is the playable stream URL.
	URL string `json:"url"`

	// Quality is the quality tag the source was resolved for, when declared.
	Quality string `json:"quality,omitempty"`

	// Headers are extra request headers required to fetch the stream.
	Headers map[string]string `json:"headers,omitempty"`
}

// Lyric is a normalized lyric lookup result.
type Lyric struct {
	// RawLRC is the lyric body in LRC format.
	RawLRC string `json:"rawLrc"`

	// Translation is an optional translated lyric body.
	Translation string `json:"translation,omitempty"`
}

// AlbumDetail describes an album and its track list.
type AlbumDetail struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Artist      string      `json:"artist,omitempty"`
	Artwork     string      `json:"artwork,omitempty"`
	Description string      `json:"description,omitempty"`
	Tracks      []MediaItem `json:"tracks"`
}

// ArtistDetail describes an artist and their works.
type ArtistDetail struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Avatar      string      `json:"avatar,omitempty"`
	Description string      `json:"description,omitempty"`
	Tracks      []MediaItem `json:"tracks"`
}

// ConfigField describes one field of a plugin's configuration schema.
type ConfigField struct {
	Key         string `json:"key"`
	Label       string `json:"label"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Placeholder string `json:"placeholder,omitempty"`
}

// ConfigSchema is the list of configuration fields a plugin declares.
type ConfigSchema struct {
	Fields []ConfigField `json:"fields"`
}
