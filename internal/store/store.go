// Package store persists the plugin registry snapshot. Two implementations
// are provided: an embedded bbolt store for single-node deployments and a
// MongoDB store for server deployments.
package store

import (
	"context"

	"norelock.dev/resonate/pluginhost/internal/models"
)

// Store persists and restores the ordered registry snapshot. Implementations
// must replace the whole snapshot atomically from the reader's point of view.
type Store interface {
	// SaveSnapshot replaces the persisted snapshot with the given entries.
	SaveSnapshot(ctx context.Context, entries []models.PluginConfig) error

	// LoadSnapshot returns the persisted snapshot in insertion order. A
	// missing snapshot yields an empty slice, not an error.
	LoadSnapshot(ctx context.Context) ([]models.PluginConfig, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close(ctx context.Context) error
}
