package main

import (
	stdcontext "context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/yourorg/multigateway/internal/adapter"
	"github.com/yourorg/multigateway/internal/adapter/gateway1"
	"github.com/yourorg/multigateway/internal/adapter/gateway2"
	"github.com/yourorg/multigateway/internal/config"
	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/events"
	"github.com/yourorg/multigateway/internal/monitor"
	"github.com/yourorg/multigateway/internal/orchestrator"
	"github.com/yourorg/multigateway/internal/policy"
	"github.com/yourorg/multigateway/internal/processor"
	"github.com/yourorg/multigateway/internal/registry"
	"github.com/yourorg/multigateway/internal/reporting"
	"github.com/yourorg/multigateway/internal/router"
	"github.com/yourorg/multigateway/internal/router/circuitbreaker"
	"github.com/yourorg/multigateway/internal/store"
)

// pinger is implemented by backends that can report reachability.
type pinger interface {
	Ping(ctx stdcontext.Context) error
}

// app holds every long-lived component of the service.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        store.Store
	cache        registry.IDCache
	registry     *registry.Registry
	admin        *registry.Admin
	breaker      *circuitbreaker.CircuitBreaker
	orchestrator *orchestrator.Orchestrator
	reconciler   *reporting.Reconciler
	monitor      *monitor.ContractMonitor
	metrics      *prometheus.Registry
	closers      []func() error
}

// constructors maps every supported gateway type to its adapter.
func constructors() map[context.GatewayType]adapter.Constructor {
	return map[context.GatewayType]adapter.Constructor{
		context.GatewayTypeOne: gateway1.New,
		context.GatewayTypeTwo: gateway2.New,
	}
}

func newApp(ctx stdcontext.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if a.cache, err = openCache(ctx, cfg); err != nil {
		return nil, err
	}
	if c, ok := a.cache.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	sink, err := a.buildSink()
	if err != nil {
		return nil, err
	}

	proc := processor.NewProcessor(sink, nil, cfg.Gateways.CallTimeout)
	httpClient := adapter.DefaultHTTPClient()
	httpClient.Timeout = proc.Timeout()
	regOpts := []registry.Option{
		registry.WithCache(a.cache),
		registry.WithLogger(logger),
		registry.WithMetrics(a.metrics),
		registry.WithLoadTimeout(proc.Timeout()),
	}
	for gwType := range constructors() {
		regOpts = append(regOpts, registry.WithAdapterOptions(gwType, adapter.Options{
			HTTPClient: httpClient,
			BaseURL:    cfg.Gateways.BaseURLs[string(gwType)],
		}))
	}
	a.registry = registry.New(a.store, constructors(), regOpts...)
	a.admin = registry.NewAdmin(a.store, a.registry, logger)

	routerOpts := []router.Option{router.WithLogger(logger)}
	if cbCfg := cfg.Routing.CircuitBreaker; cbCfg.Enabled {
		a.breaker = circuitbreaker.NewCircuitBreakerWithSettings(cbCfg.Settings, nil)
		routerOpts = append(routerOpts, router.WithCircuitBreaker(a.breaker))
	}

	refundPolicy, err := policy.NewRefundPolicy(cfg.Refund.Rules)
	if err != nil {
		return nil, fmt.Errorf("failed to build refund policy: %w", err)
	}

	a.orchestrator = orchestrator.NewOrchestrator(
		router.NewPaymentRouter(a.registry, proc, routerOpts...),
		router.NewRefundRouter(a.registry, proc, sink, routerOpts...),
		a.store,
		sink,
		orchestrator.WithLogger(logger),
		orchestrator.WithRefundPolicy(refundPolicy),
	)
	a.reconciler = reporting.NewReconciler(a.store, a.store, a.registry, logger, 4)

	if a.monitor, err = openMonitor(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

func openMonitor(cfg *config.Config) (*monitor.ContractMonitor, error) {
	if path := cfg.Server.PurchaseSchema; path != "" {
		return monitor.NewContractMonitor(path)
	}
	return monitor.NewPurchaseMonitor()
}

func openStore(ctx stdcontext.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Database.Driver == "postgres" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	}

	mem := store.NewMemoryStore(nil)
	seeds := make([]context.GatewayConfig, 0, len(cfg.Gateways.Seed))
	for _, s := range cfg.Gateways.Seed {
		seeds = append(seeds, s.GatewayConfig())
	}
	mem.Seed(seeds...)
	return mem, nil
}

func openCache(ctx stdcontext.Context, cfg *config.Config) (registry.IDCache, error) {
	switch cfg.Cache.Backend {
	case "redis":
		c, err := registry.NewRedisIDCache(cfg.Cache.RedisURL, cfg.Cache.Key, cfg.Cache.TTL)
		if err != nil {
			return nil, err
		}
		if err := c.Ping(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return c, nil
	case "memory":
		return registry.NewMemoryIDCache(cfg.Cache.TTL, nil), nil
	}
	return registry.NoCache{}, nil
}

func (a *app) buildSink() (events.Sink, error) {
	sinks := []events.Sink{
		events.NewLogSink(a.logger),
		events.NewMetricsSink(a.metrics),
	}
	if k := a.cfg.Events.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return nil, errors.New("kafka enabled without brokers")
		}
		ks := events.NewKafkaSink(events.NewKafkaWriter(k.Brokers, k.Topic), k.QueueSize, a.logger)
		a.closers = append(a.closers, ks.Close)
		sinks = append(sinks, ks)
	}
	return events.NewMultiSink(a.logger, sinks...), nil
}

// health reports backend reachability and the number of routable gateways.
func (a *app) health(ctx stdcontext.Context) (map[string]any, bool) {
	healthy := true
	components := map[string]any{}

	check := func(name string, p pinger) {
		if err := p.Ping(ctx); err != nil {
			healthy = false
			components[name] = gin.H{"status": "error", "error": err.Error()}
			return
		}
		components[name] = gin.H{"status": "ok"}
	}
	check("database", a.store)
	if p, ok := a.cache.(pinger); ok {
		check("cache", p)
	}

	active, err := a.registry.LoadActiveGateways(ctx)
	if err != nil {
		healthy = false
		components["gateways"] = gin.H{"status": "error", "error": err.Error()}
	} else {
		status := "ok"
		if len(active) == 0 {
			healthy = false
			status = "error"
		}
		components["gateways"] = gin.H{"status": status, "active": len(active)}
	}

	if a.breaker != nil {
		circuits := map[string]string{}
		for id, st := range a.breaker.Snapshot() {
			circuits[fmt.Sprint(id)] = st.String()
		}
		components["circuits"] = circuits
	}

	status := "ok"
	if !healthy {
		status = "degraded"
	}
	return map[string]any{"status": status, "components": components}, healthy
}

// retrospective aggregates every local transaction.
func (a *app) retrospective(ctx stdcontext.Context) (*reporting.RetrospectiveReport, error) {
	txs, err := a.store.ListTransactions(ctx, store.TransactionFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return reporting.NewRetrospectiveReporter().GenerateRetrospective(txs)
}

// Close releases backends in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("failed to close component", "error", err)
		}
	}
	a.closers = nil
}
