// Package registry turns persisted gateway configurations into ready adapters.
//
// Gateway types resolve to adapters through an explicit constructor table handed in
// at construction time. A misconfigured gateway (unknown type, missing credentials,
// failed eager login) is skipped with a warning and never prevents the others from loading.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/multigateway/internal/adapter"
	gwcontext "github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/store"
)

var (
	// ErrGatewayNotFound is returned when an id does not resolve to a known gateway.
	ErrGatewayNotFound = errors.New("gateway not found")
	// ErrUnknownGatewayType is returned when no constructor is registered for a gateway type.
	ErrUnknownGatewayType = fmt.Errorf("%w: unknown gateway type", adapter.ErrConfiguration)
)

// DefaultLoadTimeout bounds the shared store read behind LoadActiveGateways.
const DefaultLoadTimeout = 5 * time.Second

// Warning describes a gateway skipped while loading the active list.
type Warning struct {
	GatewayID int64
	Type      gwcontext.GatewayType
	Reason    string // "unknown_type" or "construction_failed"
	Err       error
}

// ActiveGateway pairs a configuration with its adapter.
type ActiveGateway struct {
	Config gwcontext.GatewayConfig
	Client adapter.GatewayClient
}

type cachedClient struct {
	fingerprint string
	client      adapter.GatewayClient
}

// Registry resolves gateway configurations into adapters.
type Registry struct {
	source       store.GatewayStore
	constructors map[gwcontext.GatewayType]adapter.Constructor
	options      map[gwcontext.GatewayType]adapter.Options
	cache        IDCache
	logger       *slog.Logger
	onWarning    func(Warning)
	warnings     *prometheus.CounterVec
	loadTimeout  time.Duration

	group singleflight.Group
	// generation counts invalidations; a load that spans one must not repopulate the cache.
	generation atomic.Uint64

	mu      sync.Mutex
	clients map[int64]cachedClient
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache sets the active-id cache. The default is NoCache.
func WithCache(c IDCache) Option {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithLogger sets the logger used for warnings and cache errors.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAdapterOptions sets the options passed to constructors of gateway type t.
func WithAdapterOptions(t gwcontext.GatewayType, opts adapter.Options) Option {
	return func(r *Registry) { r.options[t] = opts }
}

// WithLoadTimeout bounds the shared active-list load. Non-positive values are ignored.
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.loadTimeout = d
		}
	}
}

// WithWarningHandler registers a callback invoked for every skipped gateway.
func WithWarningHandler(fn func(Warning)) Option {
	return func(r *Registry) { r.onWarning = fn }
}

// WithMetrics registers the skipped-gateway counter on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(r *Registry) {
		r.warnings = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "multigateway_registry_skipped_gateways_total",
			Help: "Gateways skipped while loading the active list.",
		}, []string{"gateway_id", "reason"})
	}
}

// New creates a Registry. constructors maps each gateway type to its adapter constructor.
func New(source store.GatewayStore, constructors map[gwcontext.GatewayType]adapter.Constructor, opts ...Option) *Registry {
	if source == nil {
		panic("gateway store cannot be nil")
	}
	table := make(map[gwcontext.GatewayType]adapter.Constructor, len(constructors))
	for t, c := range constructors {
		table[t] = c
	}
	r := &Registry{
		source:       source,
		constructors: table,
		options:      make(map[gwcontext.GatewayType]adapter.Options),
		cache:        NoCache{},
		logger:       slog.Default(),
		loadTimeout:  DefaultLoadTimeout,
		clients:      make(map[int64]cachedClient),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadActiveGateways returns active gateways in routing order (priority, then id).
// Gateways whose adapter cannot be built are skipped; the result may be empty.
func (r *Registry) LoadActiveGateways(ctx context.Context) ([]ActiveGateway, error) {
	configs, err := r.activeConfigs(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ActiveGateway, 0, len(configs))
	for _, cfg := range configs {
		client, err := r.clientFor(ctx, cfg)
		if err != nil {
			r.warn(cfg, err)
			continue
		}
		out = append(out, ActiveGateway{Config: cfg, Client: client})
	}
	return out, nil
}

// activeConfigs serves the ordered active configs, from the id cache when possible.
func (r *Registry) activeConfigs(ctx context.Context) ([]gwcontext.GatewayConfig, error) {
	ids, ok, err := r.cache.Get(ctx)
	if err != nil {
		r.logger.Warn("active gateway cache read failed", "error", err)
		ok = false
	}
	if ok {
		configs := make([]gwcontext.GatewayConfig, 0, len(ids))
		for _, id := range ids {
			cfg, err := r.source.GetGateway(ctx, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to load gateway %d: %w", id, err)
			}
			if !cfg.IsActive {
				continue
			}
			configs = append(configs, cfg)
		}
		gwcontext.SortByPriority(configs)
		return configs, nil
	}

	// The shared load outlives any single caller; each caller still stops waiting on its own ctx.
	ch := r.group.DoChan("active", func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.loadTimeout)
		defer cancel()
		return r.loadActive(loadCtx)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	shared := res.Val.([]gwcontext.GatewayConfig)
	return append([]gwcontext.GatewayConfig(nil), shared...), nil
}

// loadActive reads the active configs from the store and refreshes the id cache,
// unless an invalidation ran while the store was being read.
func (r *Registry) loadActive(ctx context.Context) ([]gwcontext.GatewayConfig, error) {
	gen := r.generation.Load()
	all, err := r.source.ListGateways(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	active := make([]gwcontext.GatewayConfig, 0, len(all))
	for _, cfg := range all {
		if cfg.IsActive {
			active = append(active, cfg)
		}
	}
	gwcontext.SortByPriority(active)

	if r.generation.Load() != gen {
		return active, nil
	}
	ids := make([]int64, len(active))
	for i, cfg := range active {
		ids[i] = cfg.ID
	}
	if err := r.cache.Set(ctx, ids); err != nil {
		r.logger.Warn("active gateway cache write failed", "error", err)
	}
	// Undo the write if an invalidation raced it.
	if r.generation.Load() != gen {
		if err := r.cache.Invalidate(ctx); err != nil {
			r.logger.Warn("active gateway cache invalidation failed", "error", err)
		}
	}
	return active, nil
}

// Resolve returns the gateway with the given id, active or not. Used by refunds,
// which must reach the gateway that processed the original payment.
func (r *Registry) Resolve(ctx context.Context, id int64) (ActiveGateway, error) {
	cfg, err := r.source.GetGateway(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ActiveGateway{}, fmt.Errorf("%w: id %d", ErrGatewayNotFound, id)
	}
	if err != nil {
		return ActiveGateway{}, fmt.Errorf("failed to load gateway %d: %w", id, err)
	}
	client, err := r.clientFor(ctx, cfg)
	if err != nil {
		return ActiveGateway{Config: cfg}, err
	}
	return ActiveGateway{Config: cfg, Client: client}, nil
}

// Invalidate drops the cached active-id list and the adapters of the given gateways.
// The admin write path calls it after every create, update or delete.
func (r *Registry) Invalidate(ctx context.Context, ids ...int64) error {
	r.mu.Lock()
	for _, id := range ids {
		delete(r.clients, id)
	}
	r.mu.Unlock()
	r.generation.Add(1)
	r.group.Forget("active")
	return r.cache.Invalidate(ctx)
}

// clientFor returns the cached adapter for cfg or builds one. Construction runs
// outside the lock because constructors may perform network calls.
func (r *Registry) clientFor(ctx context.Context, cfg gwcontext.GatewayConfig) (adapter.GatewayClient, error) {
	fp := cfg.Fingerprint()
	r.mu.Lock()
	if cached, ok := r.clients[cfg.ID]; ok && cached.fingerprint == fp {
		r.mu.Unlock()
		return cached.client, nil
	}
	r.mu.Unlock()

	ctor, ok := r.constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("%w %q for gateway %d", ErrUnknownGatewayType, cfg.Type, cfg.ID)
	}
	client, err := ctor(ctx, cfg, r.options[cfg.Type])
	if err != nil {
		return nil, fmt.Errorf("failed to build adapter for gateway %d: %w", cfg.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.clients[cfg.ID]; ok && cached.fingerprint == fp {
		return cached.client, nil
	}
	r.clients[cfg.ID] = cachedClient{fingerprint: fp, client: client}
	return client, nil
}

func (r *Registry) warn(cfg gwcontext.GatewayConfig, err error) {
	reason := "construction_failed"
	if errors.Is(err, ErrUnknownGatewayType) {
		reason = "unknown_type"
	}
	r.logger.Warn("skipping gateway",
		"gateway_id", cfg.ID,
		"gateway_type", string(cfg.Type),
		"reason", reason,
		"error", err,
	)
	if r.warnings != nil {
		r.warnings.WithLabelValues(strconv.FormatInt(cfg.ID, 10), reason).Inc()
	}
	if r.onWarning != nil {
		r.onWarning(Warning{GatewayID: cfg.ID, Type: cfg.Type, Reason: reason, Err: err})
	}
}
