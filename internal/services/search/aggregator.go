// Package search provides the multi-provider search aggregator: concurrent
// fan-out over every capable provider with per-provider timeouts, failure
// isolation, and independent pagination state.
package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/plugin"
	"norelock.dev/resonate/pluginhost/internal/services/system"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// maxSessions bounds how many discarded-but-unacknowledged sessions are kept
// before the oldest is evicted.
const maxSessions = 64

// Options configures the aggregator.
type Options struct {
	// ProviderTimeout is the independent deadline applied to each provider's
	// search call.
	ProviderTimeout time.Duration

	// MaxConcurrent bounds the fan-out; zero means unbounded.
	MaxConcurrent int
}

// Aggregator fans a query out over every enabled provider that supports the
// requested media type. Each provider is an independent stream: its failure
// or timeout is recorded against it alone and never aborts the others.
type Aggregator struct {
	registry *plugin.Registry
	metrics  *system.Metrics
	logger   *utils.Logger
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
}

// NewAggregator creates a search aggregator.
func NewAggregator(registry *plugin.Registry, metrics *system.Metrics, opts Options, logger *utils.Logger) *Aggregator {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 10 * time.Second
	}
	return &Aggregator{
		registry: registry,
		metrics:  metrics,
		logger:   logger.Named("search"),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// ProviderResult is the per-provider pagination state exposed to callers.
type ProviderResult struct {
	PluginID string             `json:"pluginId"`
	Platform string             `json:"platform"`
	Loading  bool               `json:"loading"`
	Error    string             `json:"error,omitempty"`
	Results  []models.MediaItem `json:"results"`
	HasMore  bool               `json:"hasMore"`
	Page     int                `json:"page"`
}

// providerState is the internal mutable counterpart of ProviderResult.
type providerState struct {
	provider plugin.Provider
	result   ProviderResult
}

// Session is one active query's accumulated state across providers. Results
// become visible through Snapshot as soon as each provider resolves.
type Session struct {
	ID        string
	Keyword   string
	MediaType models.MediaType
	Created   time.Time

	mu        sync.Mutex
	providers map[string]*providerState
	wg        sync.WaitGroup
}

// Snapshot returns the current per-provider state, ordered by plugin id for
// stable output. Safe to call while providers are still resolving.
func (s *Session) Snapshot() []ProviderResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProviderResult, 0, len(s.providers))
	for _, ps := range s.providers {
		r := ps.result
		r.Results = append([]models.MediaItem(nil), ps.result.Results...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PluginID < out[j].PluginID })
	return out
}

// Wait blocks until every provider selected at session start has resolved,
// or the context expires.
func (s *Session) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SearchAll starts a query against every enabled provider whose capability
// declaration includes search and whose declared media types include
// mediaType. It returns immediately; results arrive in the session as each
// provider settles.
func (a *Aggregator) SearchAll(ctx context.Context, keyword string, mediaType models.MediaType) (*Session, error) {
	if !mediaType.Valid() {
		return nil, models.ErrInvalidMediaType
	}

	selected := lo.Filter(a.registry.GetEnabled(), func(rp plugin.RegisteredProvider, _ int) bool {
		return rp.State.Capabilities.Search && rp.State.SupportsSearchType(mediaType)
	})

	session := &Session{
		ID:        uuid.NewString(),
		Keyword:   keyword,
		MediaType: mediaType,
		Created:   time.Now(),
		providers: make(map[string]*providerState, len(selected)),
	}

	for _, rp := range selected {
		session.providers[rp.State.ID] = &providerState{
			provider: rp.Provider,
			result: ProviderResult{
				PluginID: rp.State.ID,
				Platform: rp.State.Platform,
				Loading:  true,
				Results:  []models.MediaItem{},
				Page:     0,
			},
		}
	}

	a.storeSession(session)

	var sem chan struct{}
	if a.opts.MaxConcurrent > 0 {
		sem = make(chan struct{}, a.opts.MaxConcurrent)
	}

	for id, ps := range session.providers {
		session.wg.Add(1)
		go func(id string, ps *providerState) {
			defer session.wg.Done()
			if sem != nil {
				sem <- struct{}{}
				defer func() { <-sem }()
			}
			a.fetchPage(session, id, ps, 1)
		}(id, ps)
	}

	a.logger.Debug("search started",
		"sessionId", session.ID,
		"keyword", keyword,
		"mediaType", string(mediaType),
		"providers", len(selected),
	)

	return session, nil
}

// LoadMore requests the next page for exactly one provider of an existing
// session and appends to its accumulated results. Other providers'
// pagination state is untouched.
func (a *Aggregator) LoadMore(sessionID, pluginID string) (*Session, error) {
	session, ok := a.getSession(sessionID)
	if !ok {
		return nil, utils.NotFoundError("search session not found", nil)
	}

	session.mu.Lock()
	ps, ok := session.providers[pluginID]
	if !ok {
		session.mu.Unlock()
		return nil, models.NewPluginError(pluginID, "loadMore", models.ErrPluginNotFound)
	}
	if ps.result.Loading {
		session.mu.Unlock()
		return session, nil
	}
	if !ps.result.HasMore {
		session.mu.Unlock()
		return session, nil
	}
	// Page N+1 is never requested before page N's state was committed; the
	// committed page number is the one advanced from.
	next := ps.result.Page + 1
	ps.result.Loading = true
	ps.result.Error = ""
	session.mu.Unlock()

	session.wg.Add(1)
	go func() {
		defer session.wg.Done()
		a.fetchPage(session, pluginID, ps, next)
	}()

	return session, nil
}

// Discard drops a session, releasing its accumulated state.
func (a *Aggregator) Discard(sessionID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.sessions[sessionID]; ok {
		delete(a.sessions, sessionID)
		a.order = lo.Without(a.order, sessionID)
	}
}

// Get returns an active session by id.
func (a *Aggregator) Get(sessionID string) (*Session, bool) {
	return a.getSession(sessionID)
}

// fetchPage runs one provider's search for one page under its own timeout
// and commits the outcome into the session.
func (a *Aggregator) fetchPage(session *Session, pluginID string, ps *providerState, page int) {
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.ProviderTimeout)
	defer cancel()

	start := time.Now()
	result, err := ps.provider.Search(ctx, session.Keyword, page, session.MediaType)
	elapsed := time.Since(start)

	a.metrics.ObserveProviderSearch(pluginID, elapsed, err == nil)

	session.mu.Lock()
	defer session.mu.Unlock()

	ps.result.Loading = false
	if err != nil {
		ps.result.Error = rootMessage(err)
		a.logger.Warn("provider search failed",
			"sessionId", session.ID,
			"pluginId", pluginID,
			"page", page,
			"error", err.Error(),
		)
		return
	}

	// Platform is stamped by the aggregator, never trusted from provider
	// output.
	for i := range result.Data {
		result.Data[i].Platform = pluginID
	}

	ps.result.Results = append(ps.result.Results, result.Data...)
	ps.result.HasMore = result.HasMore
	ps.result.Page = page
}

func (a *Aggregator) storeSession(session *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[session.ID] = session
	a.order = append(a.order, session.ID)
	for len(a.order) > maxSessions {
		oldest := a.order[0]
		a.order = a.order[1:]
		delete(a.sessions, oldest)
	}
}

func (a *Aggregator) getSession(id string) (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	return s, ok
}

// rootMessage strips the plugin attribution wrapper so the recorded failure
// is the provider's own message, not the full error chain text.
func rootMessage(err error) string {
	var perr *models.PluginError
	if errors.As(err, &perr) && perr.Err != nil {
		return perr.Err.Error()
	}
	return err.Error()
}
