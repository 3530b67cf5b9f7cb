// Package models contains the data structures used throughout the application.
package models

// PlaybackEvent identifies a transport lifecycle event.
type PlaybackEvent string

// Transport lifecycle events.
const (
	PlaybackStart    PlaybackEvent = "start"
	PlaybackProgress PlaybackEvent = "progress"
	PlaybackPause    PlaybackEvent = "pause"
	PlaybackStop     PlaybackEvent = "stop"
	PlaybackComplete PlaybackEvent = "complete"
	PlaybackError    PlaybackEvent = "error"

	// PlaybackTrackChanged is the composite event: stop for the previous
	// track followed by start for the next.
	PlaybackTrackChanged PlaybackEvent = "trackChanged"
)

// CallbackName returns the plugin playback callback method for the event.
// The composite trackChanged event has no callback of its own; it decomposes
// into stop and start.
func (e PlaybackEvent) CallbackName() string {
	switch e {
	case PlaybackStart:
		return "onPlaybackStart"
	case PlaybackProgress:
		return "onPlaybackProgress"
	case PlaybackPause:
		return "onPlaybackPause"
	case PlaybackStop:
		return "onPlaybackStop"
	case PlaybackComplete:
		return "onPlaybackComplete"
	case PlaybackError:
		return "onPlaybackError"
	default:
		return ""
	}
}

// Valid reports whether e is a known transport event.
func (e PlaybackEvent) Valid() bool {
	switch e {
	case PlaybackStart, PlaybackProgress, PlaybackPause, PlaybackStop,
		PlaybackComplete, PlaybackError, PlaybackTrackChanged:
		return true
	}
	return false
}

// PlaybackReport is a transport event as received from a player client.
type PlaybackReport struct {
	// Event is the transport event type.
	Event PlaybackEvent `json:"event" validate:"required"`

	// Track is the media item the event concerns.
	Track *MediaItem `json:"track,omitempty"`

	// Previous is the previous track for trackChanged events.
	Previous *MediaItem `json:"previous,omitempty"`

	// Position is the playback position in seconds for progress events.
	Position float64 `json:"position,omitempty"`

	// Duration is the track duration in seconds for progress events.
	Duration float64 `json:"duration,omitempty"`

	// Message carries the error description for error events.
	Message string `json:"message,omitempty"`
}
