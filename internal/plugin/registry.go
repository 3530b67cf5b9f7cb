package plugin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"norelock.dev/resonate/pluginhost/internal/models"
	"norelock.dev/resonate/pluginhost/internal/sandbox"
	"norelock.dev/resonate/pluginhost/internal/store"
	"norelock.dev/resonate/pluginhost/internal/utils"
)

// RegistryOptions configures the plugin registry.
type RegistryOptions struct {
	// PageSize is the page size assumed when a legacy provider declares none.
	PageSize int

	// MaxSourceBytes caps the size of plugin source fetched by reference.
	MaxSourceBytes int64

	// UserAgent is stamped on source fetch requests.
	UserAgent string

	// DisableLegacyAdapter rejects foreign-shaped plugins instead of binding
	// them through the legacy adapter.
	DisableLegacyAdapter bool
}

// registration couples a live provider with its registration record.
type registration struct {
	state    models.PluginState
	provider Provider
	source   string
	install  time.Time
	update   time.Time
}

// RegisteredProvider is the read view handed to the aggregator and
// broadcaster: the registration record plus the live capability surface.
type RegisteredProvider struct {
	State    models.PluginState
	Provider Provider
}

// Registry owns the set of loaded plugins and their lifecycle. All mutations
// persist the registry snapshot synchronously before returning, so an
// acknowledged mutation survives a crash. Mutations on the same plugin id
// are serialized by a per-id lock; different ids proceed concurrently.
type Registry struct {
	runtime *sandbox.Runtime
	store   store.Store
	logger  *utils.Logger
	client  *http.Client
	opts    RegistryOptions

	mu      sync.RWMutex
	plugins map[string]*registration

	lockMu  sync.Mutex
	idLocks map[string]*sync.Mutex
}

// NewRegistry creates a plugin registry.
func NewRegistry(runtime *sandbox.Runtime, st store.Store, opts RegistryOptions, logger *utils.Logger) *Registry {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.MaxSourceBytes <= 0 {
		opts.MaxSourceBytes = 2 << 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Resonate/1.0"
	}

	return &Registry{
		runtime: runtime,
		store:   st,
		logger:  logger.Named("registry"),
		client:  &http.Client{Timeout: 30 * time.Second},
		opts:    opts,
		plugins: make(map[string]*registration),
		idLocks: make(map[string]*sync.Mutex),
	}
}

// idLock returns the mutex serializing mutations for one plugin id.
func (r *Registry) idLock(id string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l, ok := r.idLocks[id]
	if !ok {
		l = &sync.Mutex{}
		r.idLocks[id] = l
	}
	return l
}

// Load executes plugin source in the sandbox, validates the result, and
// registers it. Source is either an http(s) URL or inline source text.
func (r *Registry) Load(ctx context.Context, source string, opts models.LoadOptions) (*models.PluginState, error) {
	text, err := r.resolveSource(ctx, source)
	if err != nil {
		return nil, err
	}

	inst, err := r.runtime.Execute(provisionalID(source), text)
	if err != nil {
		return nil, err
	}

	provider, err := NewProvider(inst, r.opts.PageSize)
	if err != nil {
		return nil, err
	}
	if _, legacy := provider.(*legacyProvider); legacy && r.opts.DisableLegacyAdapter {
		return nil, models.NewPluginError(inst.PluginID(), "load",
			fmt.Errorf("%w: legacy plugin shape support is disabled", models.ErrValidation))
	}

	platform := provider.Platform()
	id := fmt.Sprintf("plugin_%s_%d", utils.Slugify(platform), time.Now().UnixMilli())

	// Seed variables from the declared defaults, then caller overrides.
	vars := make(map[string]string)
	for _, v := range provider.UserVariables() {
		if v.DefaultValue != "" {
			vars[v.Key] = v.DefaultValue
		}
	}
	for k, v := range opts.UserVariables {
		vars[k] = v
	}
	provider.SetVariables(vars)

	now := time.Now()
	reg := &registration{
		state: models.PluginState{
			ID:                   id,
			Platform:             platform,
			Version:              provider.Version(),
			SrcURL:               sourceURL(source, inst),
			Capabilities:         provider.Capabilities(),
			Enabled:              opts.AutoEnabled(),
			UserVariables:        vars,
			SupportedSearchTypes: provider.SupportedSearchTypes(),
			LoadTime:             now,
		},
		provider: provider,
		source:   source,
		install:  now,
		update:   now,
	}

	r.mu.Lock()
	existing, conflict := lo.Find(lo.Values(r.plugins), func(p *registration) bool {
		return p.state.Platform == platform
	})
	if conflict && !opts.Overwrite {
		r.mu.Unlock()
		return nil, models.NewPluginError(existing.state.ID, "load",
			fmt.Errorf("%w: platform %q is already registered", models.ErrPluginExists, platform))
	}
	if conflict {
		delete(r.plugins, existing.state.ID)
		reg.install = existing.install
	}
	r.plugins[id] = reg
	r.mu.Unlock()

	if conflict {
		r.unloadProvider(ctx, existing)
	}

	if err := provider.OnLoad(ctx); err != nil {
		r.logger.Warn("plugin load hook failed", "pluginId", id, "error", err.Error())
		r.mu.Lock()
		reg.state.LastError = err.Error()
		r.mu.Unlock()
	}

	// Writes from plugin code (e.g. a generated device id) flow back into
	// the record and the persisted snapshot.
	provider.OnVariableChange(func(key, value string) {
		r.storeVariable(id, key, value)
	})

	if err := r.persist(ctx); err != nil {
		r.mu.Lock()
		delete(r.plugins, id)
		r.mu.Unlock()
		return nil, models.NewPluginError(id, "load", err)
	}

	r.logger.Info("plugin loaded",
		"pluginId", id,
		"platform", platform,
		"version", reg.state.Version,
		"enabled", reg.state.Enabled,
	)

	state := reg.state
	return &state, nil
}

// Unload removes a plugin and persists the shrunken snapshot.
func (r *Registry) Unload(ctx context.Context, id string) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	return r.unload(ctx, id)
}

// unload is Unload without the per-id lock, for callers already holding it.
func (r *Registry) unload(ctx context.Context, id string) error {
	r.mu.Lock()
	reg, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return models.NewPluginError(id, "unload", models.ErrPluginNotFound)
	}
	delete(r.plugins, id)
	r.mu.Unlock()

	r.unloadProvider(ctx, reg)

	if err := r.persist(ctx); err != nil {
		return models.NewPluginError(id, "unload", err)
	}

	r.logger.Info("plugin unloaded", "pluginId", id, "platform", reg.state.Platform)
	return nil
}

// Update reloads a plugin from its declared update source, preserving the
// enabled flag and user variables. The old registration is removed before
// the reload; if the reload fails the plugin stays gone, with the failure
// recorded in the returned error. Callers wanting rollback must re-load the
// previous source themselves.
func (r *Registry) Update(ctx context.Context, id string) (*models.PluginState, error) {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.RLock()
	reg, ok := r.plugins[id]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewPluginError(id, "update", models.ErrPluginNotFound)
	}
	if reg.state.SrcURL == "" {
		return nil, models.NewPluginError(id, "update", models.ErrNoUpdateSource)
	}

	enabled := reg.state.Enabled
	vars := reg.state.CloneVariables()
	src := reg.state.SrcURL

	if err := r.unload(ctx, id); err != nil {
		return nil, err
	}

	state, err := r.Load(ctx, src, models.LoadOptions{
		AutoEnable:    &enabled,
		UserVariables: vars,
		Overwrite:     true,
	})
	if err != nil {
		r.logger.Error("plugin update failed, previous version not restored", err, "pluginId", id, "source", src)
		return nil, models.NewPluginError(id, "update", err)
	}

	return state, nil
}

// Enable marks a plugin eligible for fan-out operations.
func (r *Registry) Enable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, true)
}

// Disable removes a plugin from fan-out operations without unloading it.
func (r *Registry) Disable(ctx context.Context, id string) error {
	return r.setEnabled(ctx, id, false)
}

func (r *Registry) setEnabled(ctx context.Context, id string, enabled bool) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	reg, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return models.NewPluginError(id, "setEnabled", models.ErrPluginNotFound)
	}
	reg.state.Enabled = enabled
	reg.update = time.Now()
	r.mu.Unlock()

	if err := r.persist(ctx); err != nil {
		return models.NewPluginError(id, "setEnabled", err)
	}

	r.logger.Info("plugin enabled flag changed", "pluginId", id, "enabled", enabled)
	return nil
}

// SetVariable writes one user variable and persists. Value validation
// against the declared variable type is the caller's responsibility.
func (r *Registry) SetVariable(ctx context.Context, id, key, value string) error {
	lock := r.idLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	reg, ok := r.plugins[id]
	if !ok {
		r.mu.Unlock()
		return models.NewPluginError(id, "setVariable", models.ErrPluginNotFound)
	}
	if reg.state.UserVariables == nil {
		reg.state.UserVariables = make(map[string]string)
	}
	reg.state.UserVariables[key] = value
	reg.update = time.Now()
	vars := reg.state.CloneVariables()
	provider := reg.provider
	r.mu.Unlock()

	provider.SetVariables(vars)

	if err := r.persist(ctx); err != nil {
		return models.NewPluginError(id, "setVariable", err)
	}
	return nil
}

// storeVariable records a variable written by plugin code itself. Snapshot
// persistence here is best effort; the next acknowledged mutation writes it
// through regardless.
func (r *Registry) storeVariable(id, key, value string) {
	r.mu.Lock()
	reg, ok := r.plugins[id]
	if ok {
		if reg.state.UserVariables == nil {
			reg.state.UserVariables = make(map[string]string)
		}
		reg.state.UserVariables[key] = value
		reg.update = time.Now()
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if err := r.persist(context.Background()); err != nil {
		r.logger.Warn("failed to persist plugin-written variable", "pluginId", id, "key", key, "error", err.Error())
	}
}

// Get returns the registration record for one plugin.
func (r *Registry) Get(id string) (*models.PluginState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[id]
	if !ok {
		return nil, models.NewPluginError(id, "get", models.ErrPluginNotFound)
	}
	state := reg.state
	return &state, nil
}

// GetAll returns all registration records ordered by install time.
func (r *Registry) GetAll() []models.PluginState {
	r.mu.RLock()
	regs := lo.Values(r.plugins)
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].install.Before(regs[j].install) })
	return lo.Map(regs, func(reg *registration, _ int) models.PluginState { return reg.state })
}

// GetEnabled returns the enabled plugins with their live providers, for the
// aggregator and broadcaster to fan out over.
func (r *Registry) GetEnabled() []RegisteredProvider {
	r.mu.RLock()
	regs := lo.Values(r.plugins)
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].install.Before(regs[j].install) })

	return lo.FilterMap(regs, func(reg *registration, _ int) (RegisteredProvider, bool) {
		if !reg.state.Enabled {
			return RegisteredProvider{}, false
		}
		return RegisteredProvider{State: reg.state, Provider: reg.provider}, true
	})
}

// Counts returns the total and enabled plugin counts.
func (r *Registry) Counts() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled := lo.CountBy(lo.Values(r.plugins), func(reg *registration) bool {
		return reg.state.Enabled
	})
	return len(r.plugins), enabled
}

// ProviderByID returns the live provider for one plugin, failing when the
// plugin is unknown or disabled.
func (r *Registry) ProviderByID(id string) (Provider, *models.PluginState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[id]
	if !ok {
		return nil, nil, models.NewPluginError(id, "get", models.ErrPluginNotFound)
	}
	if !reg.state.Enabled {
		return nil, nil, models.NewPluginError(id, "get", models.ErrPluginDisabled)
	}
	state := reg.state
	return reg.provider, &state, nil
}

// TestConnection probes a plugin's backend connectivity and records the
// outcome on its registration record.
func (r *Registry) TestConnection(ctx context.Context, id string) (bool, error) {
	provider, _, err := r.ProviderByID(id)
	if err != nil {
		return false, err
	}

	ok, probeErr := provider.TestConnection(ctx)

	r.mu.Lock()
	if reg, live := r.plugins[id]; live {
		switch {
		case probeErr != nil:
			reg.state.LastError = probeErr.Error()
		case !ok:
			reg.state.LastError = "connection test failed"
		default:
			reg.state.LastError = ""
		}
	}
	r.mu.Unlock()

	return ok, probeErr
}

// Restore replays the persisted snapshot. Individual load failures are
// logged and skipped; one broken plugin must not abort the rest.
func (r *Registry) Restore(ctx context.Context) error {
	entries, err := r.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load registry snapshot: %w", err)
	}

	restored := 0
	for _, entry := range entries {
		if entry.Source == "" {
			r.logger.Warn("skipping snapshot entry without a source", "pluginId", entry.ID)
			continue
		}
		enabled := entry.Enabled
		if _, err := r.Load(ctx, entry.Source, models.LoadOptions{
			AutoEnable:    &enabled,
			UserVariables: entry.UserVariables,
			Overwrite:     true,
		}); err != nil {
			r.logger.Error("failed to restore plugin", err, "pluginId", entry.ID, "name", entry.Name)
			continue
		}
		restored++
	}

	r.logger.Info("registry restored", "persisted", len(entries), "restored", restored)
	return nil
}

// Close unloads all plugins without touching the persisted snapshot.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	regs := lo.Values(r.plugins)
	r.plugins = make(map[string]*registration)
	r.mu.Unlock()

	for _, reg := range regs {
		r.unloadProvider(ctx, reg)
	}
}

func (r *Registry) unloadProvider(ctx context.Context, reg *registration) {
	if err := reg.provider.OnUnload(ctx); err != nil {
		r.logger.Warn("plugin unload hook failed", "pluginId", reg.state.ID, "error", err.Error())
	}
}

// persist writes the current snapshot through the store. Called after every
// successful mutation, before the mutation returns to its caller.
func (r *Registry) persist(ctx context.Context) error {
	r.mu.RLock()
	regs := lo.Values(r.plugins)
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].install.Before(regs[j].install) })

	entries := lo.Map(regs, func(reg *registration, _ int) models.PluginConfig {
		return models.PluginConfig{
			ID:            reg.state.ID,
			Name:          reg.state.Platform,
			Source:        reg.source,
			Enabled:       reg.state.Enabled,
			UserVariables: reg.state.CloneVariables(),
			InstallTime:   reg.install,
			UpdateTime:    reg.update,
		}
	})

	if err := r.store.SaveSnapshot(ctx, entries); err != nil {
		return fmt.Errorf("failed to persist registry snapshot: %w", err)
	}
	return nil
}

// resolveSource turns a source reference into source text. URLs are fetched
// with a size cap; anything else is treated as inline source.
func (r *Registry) resolveSource(ctx context.Context, source string) (string, error) {
	if !isURL(source) {
		if strings.TrimSpace(source) == "" {
			return "", models.NewPluginError("", "load", fmt.Errorf("%w: empty source", models.ErrLoad))
		}
		return source, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", models.NewPluginError("", "load", fmt.Errorf("%w: %v", models.ErrLoad, err))
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", models.NewPluginError("", "load", fmt.Errorf("%w: %v", models.ErrLoad, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", models.NewPluginError("", "load",
			fmt.Errorf("%w: source fetch returned status %d", models.ErrLoad, resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.opts.MaxSourceBytes+1))
	if err != nil {
		return "", models.NewPluginError("", "load", fmt.Errorf("%w: %v", models.ErrLoad, err))
	}
	if int64(len(data)) > r.opts.MaxSourceBytes {
		return "", models.NewPluginError("", "load",
			fmt.Errorf("%w: source exceeds %d byte limit", models.ErrLoad, r.opts.MaxSourceBytes))
	}

	return string(data), nil
}

// sourceURL determines the update source for a registration: an explicit
// srcUrl exported by the plugin wins, then the reference it was loaded from.
func sourceURL(source string, inst *sandbox.Instance) string {
	if declared, ok := inst.Member("srcUrl").(string); ok && isURL(declared) {
		return declared
	}
	if isURL(source) {
		return source
	}
	return ""
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// provisionalID names the sandbox script before the platform is known.
func provisionalID(source string) string {
	if isURL(source) {
		return source
	}
	return "inline"
}
