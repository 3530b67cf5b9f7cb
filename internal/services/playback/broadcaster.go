// Package playback fans transport lifecycle events out to every enabled
// provider that implements the playback callback.
package playback

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/plugin"
	"norelock.dev/resonate/pluginhost/internal/services/system"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// Broadcaster delivers playback events to provider callbacks with per-
// provider failure isolation: every capable provider is notified and awaited
// independently, never through a short-circuiting join.
//
// Overlapping reports of the same event type are discarded while one is in
// flight. A discarded report is dropped entirely, not queued; a rapid
// progress burst therefore delivers only its first report.
type Broadcaster struct {
	registry *plugin.Registry
	metrics  *system.Metrics
	logger   *utils.Logger
	timeout  time.Duration

	mu       sync.Mutex
	inFlight map[models.PlaybackEvent]bool
}

// NewBroadcaster creates a playback broadcaster. timeout bounds each
// provider callback; zero selects a default.
func NewBroadcaster(registry *plugin.Registry, metrics *system.Metrics, timeout time.Duration, logger *utils.Logger) *Broadcaster {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Broadcaster{
		registry: registry,
		metrics:  metrics,
		logger:   logger.Named("playback"),
		timeout:  timeout,
		inFlight: make(map[models.PlaybackEvent]bool),
	}
}

// Outcome summarizes one broadcast: how many providers were notified and
// which ones failed.
type Outcome struct {
	Event     models.PlaybackEvent `json:"event"`
	Notified  int                  `json:"notified"`
	Failures  map[string]string    `json:"failures,omitempty"`
	Discarded bool                 `json:"discarded,omitempty"`
}

// Report delivers one transport event. The composite trackChanged event
// decomposes into stop-for-previous strictly before start-for-next; the stop
// fan-out fully settles before any start callback is issued.
func (b *Broadcaster) Report(ctx context.Context, report *models.PlaybackReport) (*Outcome, error) {
	if !report.Event.Valid() {
		return nil, utils.BadRequestError("unknown playback event", nil)
	}

	if !b.begin(report.Event) {
		b.logger.Debug("playback report discarded, same event already in flight", "event", string(report.Event))
		return &Outcome{Event: report.Event, Discarded: true}, nil
	}
	defer b.end(report.Event)

	if report.Event == models.PlaybackTrackChanged {
		return b.reportTrackChanged(ctx, report)
	}

	outcome := b.fanOut(ctx, report.Event, report)
	return outcome, nil
}

// reportTrackChanged emits stop for the previous track and start for the
// next, in that order, never interleaved.
func (b *Broadcaster) reportTrackChanged(ctx context.Context, report *models.PlaybackReport) (*Outcome, error) {
	combined := &Outcome{Event: models.PlaybackTrackChanged, Failures: map[string]string{}}

	if report.Previous != nil {
		stop := b.fanOut(ctx, models.PlaybackStop, &models.PlaybackReport{
			Event: models.PlaybackStop,
			Track: report.Previous,
		})
		combined.Notified += stop.Notified
		for id, msg := range stop.Failures {
			combined.Failures[id] = msg
		}
	}

	if report.Track != nil {
		start := b.fanOut(ctx, models.PlaybackStart, &models.PlaybackReport{
			Event: models.PlaybackStart,
			Track: report.Track,
		})
		combined.Notified += start.Notified
		for id, msg := range start.Failures {
			combined.Failures[id] = msg
		}
	}

	if len(combined.Failures) == 0 {
		combined.Failures = nil
	}
	return combined, nil
}

// fanOut notifies every capable provider concurrently and waits for all of
// them to settle.
func (b *Broadcaster) fanOut(ctx context.Context, event models.PlaybackEvent, report *models.PlaybackReport) *Outcome {
	capable := lo.Filter(b.registry.GetEnabled(), func(rp plugin.RegisteredProvider, _ int) bool {
		return rp.State.Capabilities.PlaybackCallback
	})

	outcome := &Outcome{Event: event, Failures: make(map[string]string)}
	if len(capable) == 0 {
		outcome.Failures = nil
		return outcome
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, rp := range capable {
		wg.Add(1)
		go func(rp plugin.RegisteredProvider) {
			defer wg.Done()

			callCtx, cancel := context.WithTimeout(ctx, b.timeout)
			defer cancel()

			err := rp.Provider.NotifyPlayback(callCtx, event, report)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				outcome.Failures[rp.State.ID] = err.Error()
				b.logger.Warn("playback callback failed",
					"pluginId", rp.State.ID,
					"event", string(event),
					"error", err.Error(),
				)
				return
			}
			outcome.Notified++
		}(rp)
	}

	wg.Wait()

	b.metrics.CountPlaybackEvent(string(event), len(outcome.Failures))

	if len(outcome.Failures) == 0 {
		outcome.Failures = nil
	}
	return outcome
}

func (b *Broadcaster) begin(event models.PlaybackEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inFlight[event] {
		return false
	}
	b.inFlight[event] = true
	return true
}

func (b *Broadcaster) end(event models.PlaybackEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inFlight, event)
}
