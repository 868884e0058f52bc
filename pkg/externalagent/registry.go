package externalagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// agentEntry bundles one agent's immutable config, mutable state, and
// per-agent circuit breaker. The registry is the only mutator of
// health/circuit fields, per spec.md §4.3.
type agentEntry struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[any]

	mu    sync.Mutex
	state State

	healthCancel context.CancelFunc
	healthDone   chan struct{}
}

// Registry owns every registered ExternalAgent's config and runtime
// state, the health-check tickers, and the circuit breakers the Proxy
// consults before dispatch.
type Registry struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu      sync.RWMutex
	agents  map[string]*agentEntry

	onCircuitChange func(agentID string, open bool)
}

// SetCircuitObserver registers a callback invoked on every circuit
// breaker state transition, letting pkg/metrics mirror breaker state
// into a gauge without this package importing metrics itself. open is
// true when the breaker enters StateOpen (dispatch blocked) and false
// on any transition away from it (half-open or closed).
func (r *Registry) SetCircuitObserver(fn func(agentID string, open bool)) {
	r.mu.Lock()
	r.onCircuitChange = fn
	r.mu.Unlock()
}

// NewRegistry creates an empty Registry. httpClient may be nil, in
// which case a client with no default timeout (per-request timeouts
// are applied via context) is used.
func NewRegistry(httpClient *http.Client, logger *slog.Logger) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		httpClient: httpClient,
		logger:     logger,
		agents:     make(map[string]*agentEntry),
	}
}

// Register merges cfg with defaults, best-effort fetches the agent's
// info card, and starts a health-check ticker when HealthInterval > 0.
// Info-fetch failure is logged and does not fail registration.
func (r *Registry) Register(ctx context.Context, cfg Config) {
	cfg = cfg.WithDefaults()

	entry := &agentEntry{
		cfg:   cfg,
		state: State{Health: HealthUnknown},
	}
	entry.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    cfg.ID,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return errorRate > 0.5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Info("externalagent: circuit state change", "agent_id", name, "from", from, "to", to)
			r.mu.RLock()
			observer := r.onCircuitChange
			r.mu.RUnlock()
			if observer != nil {
				observer(name, to == gobreaker.StateOpen)
			}
		},
	})

	r.mu.Lock()
	if old, ok := r.agents[cfg.ID]; ok {
		r.stopHealthLocked(old)
	}
	r.agents[cfg.ID] = entry
	r.mu.Unlock()

	if card, err := r.fetchInfo(ctx, cfg); err != nil {
		r.logger.Warn("externalagent: info fetch failed", "agent_id", cfg.ID, "error", err)
	} else {
		entry.mu.Lock()
		entry.state.Info = card
		entry.mu.Unlock()
	}

	if cfg.HealthInterval > 0 {
		r.startHealth(entry)
	}
}

func (r *Registry) fetchInfo(ctx context.Context, cfg Config) (*InfoCard, error) {
	url := cfg.BaseURL + cfg.InfoPath
	reqCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	applyAuth(req, cfg)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("externalagent: info endpoint returned status %d", resp.StatusCode)
	}

	var card InfoCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("externalagent: decode info card: %w", err)
	}
	return &card, nil
}

func applyAuth(req *http.Request, cfg Config) {
	switch cfg.Auth {
	case AuthAPIKey:
		req.Header.Set(cfg.AuthHeaderName, cfg.AuthCredential)
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+cfg.AuthCredential)
	case AuthBasic:
		req.Header.Set("Authorization", "Basic "+cfg.AuthCredential)
	}
}

func (r *Registry) startHealth(entry *agentEntry) {
	ctx, cancel := context.WithCancel(context.Background())
	entry.healthCancel = cancel
	entry.healthDone = make(chan struct{})
	go r.healthLoop(ctx, entry)
}

func (r *Registry) stopHealthLocked(entry *agentEntry) {
	if entry.healthCancel != nil {
		entry.healthCancel()
	}
	if entry.healthDone != nil {
		<-entry.healthDone
	}
}

func (r *Registry) healthLoop(ctx context.Context, entry *agentEntry) {
	defer close(entry.healthDone)

	r.checkHealth(ctx, entry)

	ticker := time.NewTicker(entry.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.checkHealth(ctx, entry)
		}
	}
}

// checkHealth classifies reachability per spec.md §4.3: 2xx within
// 5s → healthy; 2xx past 5s → degraded; 5xx or network error →
// unhealthy.
func (r *Registry) checkHealth(ctx context.Context, entry *agentEntry) {
	url := entry.cfg.BaseURL + entry.cfg.HealthPath
	reqCtx, cancel := context.WithTimeout(ctx, entry.cfg.ConnectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		r.setHealth(entry, HealthUnhealthy)
		return
	}
	applyAuth(req, entry.cfg)

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		r.setHealth(entry, HealthUnhealthy)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 5 {
		r.setHealth(entry, HealthUnhealthy)
		return
	}
	if resp.StatusCode/100 != 2 {
		r.setHealth(entry, HealthUnhealthy)
		return
	}
	if elapsed > 5*time.Second {
		r.setHealth(entry, HealthDegraded)
		return
	}
	r.setHealth(entry, HealthHealthy)
}

func (r *Registry) setHealth(entry *agentEntry, status HealthStatus) {
	entry.mu.Lock()
	entry.state.Health = status
	entry.state.LastCheck = time.Now()
	entry.mu.Unlock()
}

// get returns the entry for id, or false if no such agent is
// registered.
func (r *Registry) get(id string) (*agentEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	return e, ok
}

// Config returns a copy of the registered config for id.
func (r *Registry) Config(id string) (Config, bool) {
	e, ok := r.get(id)
	if !ok {
		return Config{}, false
	}
	return e.cfg, true
}

// State returns a copy of the current runtime state for id.
func (r *Registry) State(id string) (State, bool) {
	e, ok := r.get(id)
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Available implements the spec.md §4.3 availability predicate: an
// agent is available iff enabled, not circuit-broken, health is not
// unhealthy, and active-requests is below max-concurrency.
func (r *Registry) Available(id string) bool {
	e, ok := r.get(id)
	if !ok {
		return false
	}
	if !e.cfg.Enabled {
		return false
	}
	if e.breaker.State() == gobreaker.StateOpen {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Health == HealthUnhealthy {
		return false
	}
	return e.state.ActiveRequests < e.cfg.MaxConcurrency
}

// Unregister stops id's health loop and removes it from the registry.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[id]; ok {
		r.stopHealthLocked(e)
		delete(r.agents, id)
	}
}

// List returns the ids of every registered agent.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	return ids
}
