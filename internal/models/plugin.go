// Package models contains the data structures used throughout the application.
package models

import (
	"maps"
	"time"
)

// VariableType identifies the kind of value a user variable holds.
type VariableType string

// Supported user variable types.
const (
	VariableTypeText     VariableType = "text"
	VariableTypePassword VariableType = "password"
	VariableTypeNumber   VariableType = "number"
	VariableTypeBoolean  VariableType = "boolean"
)

// UserVariable is a configuration variable declared by a plugin at load
// time. Values live in the registration record, not the plugin object, so
// they survive a reload.
type UserVariable struct {
	// Key is the variable key plugins read values by.
	Key string `json:"key" bson:"key"`

	// Name is the human-readable variable name.
	Name string `json:"name,omitempty" bson:"name,omitempty"`

	// Description explains the variable to the user.
	Description string `json:"description,omitempty" bson:"description,omitempty"`

	// Type is the variable input type.
	Type VariableType `json:"type,omitempty" bson:"type,omitempty"`

	// DefaultValue seeds the record when the caller supplies no value.
	DefaultValue string `json:"defaultValue,omitempty" bson:"defaultValue,omitempty"`
}

// Capabilities is the immutable record of which operations a loaded plugin
// supports. It is computed once at load time and never re-derived from the
// live plugin object except on reload or update.
type Capabilities struct {
	Search           bool `json:"search" bson:"search"`
	MediaSource      bool `json:"mediaSource" bson:"mediaSource"`
	Lyric            bool `json:"lyric" bson:"lyric"`
	AlbumDetail      bool `json:"albumDetail" bson:"albumDetail"`
	ArtistDetail     bool `json:"artistDetail" bson:"artistDetail"`
	Recommendations  bool `json:"recommendations" bson:"recommendations"`
	ConfigSchema     bool `json:"configSchema" bson:"configSchema"`
	TestConnection   bool `json:"testConnection" bson:"testConnection"`
	PlaybackCallback bool `json:"playbackCallback" bson:"playbackCallback"`
}

// PluginState is the registration record for one loaded plugin. It is owned
// exclusively by the registry and mutated only through registry operations.
type PluginState struct {
	// ID is the stable plugin identifier, derived from the declared platform
	// name and the load timestamp.
	ID string `json:"id"`

	// Platform is the provider-declared platform name.
	Platform string `json:"platform"`

	// Version is the provider-declared version.
	Version string `json:"version,omitempty"`

	// SrcURL is the declared update source, when present.
	SrcURL string `json:"srcUrl,omitempty"`

	// Capabilities is the immutable capability declaration.
	Capabilities Capabilities `json:"capabilities"`

	// Enabled reports whether the plugin participates in fan-out operations.
	Enabled bool `json:"enabled"`

	// UserVariables holds the current variable values for the plugin.
	UserVariables map[string]string `json:"userVariables"`

	// SupportedSearchTypes lists the media types the plugin can search.
	SupportedSearchTypes []MediaType `json:"supportedSearchTypes,omitempty"`

	// LoadTime is when the plugin was loaded into the registry.
	LoadTime time.Time `json:"loadTime"`

	// LastError records the most recent lifecycle failure, if any.
	LastError string `json:"lastError,omitempty"`
}

// CloneVariables returns a copy of the record's variable map.
func (s *PluginState) CloneVariables() map[string]string {
	out := make(map[string]string, len(s.UserVariables))
	maps.Copy(out, s.UserVariables)
	return out
}

// SupportsSearchType reports whether the plugin declared support for the
// given media type. A plugin that declared nothing is assumed to support
// music only.
func (s *PluginState) SupportsSearchType(t MediaType) bool {
	if len(s.SupportedSearchTypes) == 0 {
		return t == MediaTypeMusic
	}
	for _, st := range s.SupportedSearchTypes {
		if st == t {
			return true
		}
	}
	return false
}

// PluginConfig is one entry of the persisted registry snapshot.
type PluginConfig struct {
	// ID is the plugin id the entry was saved under.
	ID string `json:"id" bson:"_id"`

	// Name is the plugin's declared platform name.
	Name string `json:"name" bson:"name"`

	// Source is the reference the plugin can be reloaded from: a URL, or the
	// inline source text itself for plugins loaded without one.
	Source string `json:"source" bson:"source"`

	// Enabled is the persisted enabled flag.
	Enabled bool `json:"enabled" bson:"enabled"`

	// UserVariables are the persisted variable values.
	UserVariables map[string]string `json:"userVariables" bson:"userVariables"`

	// InstallTime is when the plugin was first loaded.
	InstallTime time.Time `json:"installTime" bson:"installTime"`

	// UpdateTime is when the snapshot entry was last written.
	UpdateTime time.Time `json:"updateTime" bson:"updateTime"`
}

// LoadOptions controls how a plugin is loaded into the registry.
type LoadOptions struct {
	// AutoEnable enables the plugin immediately after load. Defaults to true
	// at the registry level when left unset by JSON callers.
	AutoEnable *bool `json:"autoEnable,omitempty"`

	// UserVariables overrides the plugin's declared defaults.
	UserVariables map[string]string `json:"userVariables,omitempty"`

	// Overwrite replaces an existing registration for the same platform
	// instead of failing with a conflict.
	Overwrite bool `json:"overwrite,omitempty"`
}

// AutoEnabled resolves the AutoEnable option, defaulting to true.
func (o LoadOptions) AutoEnabled() bool {
	if o.AutoEnable == nil {
		return true
	}
	return *o.AutoEnable
}
