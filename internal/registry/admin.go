package registry

import (
	"context"
	"fmt"
	"log/slog"

	gwcontext "github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/store"
)

// Admin is the write path for gateway configurations. Every successful write
// invalidates the registry so the next routing read sees it.
type Admin struct {
	store    store.GatewayStore
	registry *Registry
	logger   *slog.Logger
}

// NewAdmin creates the admin write path over store and registry.
func NewAdmin(s store.GatewayStore, r *Registry, logger *slog.Logger) *Admin {
	if s == nil || r == nil {
		panic("admin requires a gateway store and a registry")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{store: s, registry: r, logger: logger}
}

// List returns every gateway, active or not, in routing order.
func (a *Admin) List(ctx context.Context) ([]gwcontext.GatewayConfig, error) {
	list, err := a.store.ListGateways(ctx)
	if err != nil {
		return nil, err
	}
	gwcontext.SortByPriority(list)
	return list, nil
}

// Get returns one gateway.
func (a *Admin) Get(ctx context.Context, id int64) (gwcontext.GatewayConfig, error) {
	return a.store.GetGateway(ctx, id)
}

// Create validates the gateway type against the registry and stores the configuration.
func (a *Admin) Create(ctx context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error) {
	if err := a.checkType(cfg.Type); err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	created, err := a.store.CreateGateway(ctx, cfg)
	if err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	a.invalidate(ctx, created.ID)
	a.logger.Info("Gateway created",
		"gateway_id", created.ID,
		"gateway_type", string(created.Type),
		"is_active", created.IsActive,
		"priority", created.Priority,
	)
	return created, nil
}

// Update replaces a gateway configuration. Nil credentials keep the stored ones.
func (a *Admin) Update(ctx context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error) {
	if err := a.checkType(cfg.Type); err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	before, err := a.store.GetGateway(ctx, cfg.ID)
	if err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	if cfg.Credentials == nil {
		cfg.Credentials = before.Credentials
	}
	updated, err := a.store.UpdateGateway(ctx, cfg)
	if err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	a.invalidate(ctx, updated.ID)
	a.logChanges(before, updated)
	return updated, nil
}

// Delete soft-deletes a gateway.
func (a *Admin) Delete(ctx context.Context, id int64) error {
	if err := a.store.DeleteGateway(ctx, id); err != nil {
		return err
	}
	a.invalidate(ctx, id)
	a.logger.Info("Gateway deleted", "gateway_id", id)
	return nil
}

// Toggle flips the active flag.
func (a *Admin) Toggle(ctx context.Context, id int64) (gwcontext.GatewayConfig, error) {
	cfg, err := a.store.GetGateway(ctx, id)
	if err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	cfg.IsActive = !cfg.IsActive
	return a.Update(ctx, cfg)
}

// SetPriority changes the routing priority.
func (a *Admin) SetPriority(ctx context.Context, id int64, priority int) (gwcontext.GatewayConfig, error) {
	if priority < 1 {
		return gwcontext.GatewayConfig{}, fmt.Errorf("%w: priority must be at least 1", store.ErrInvalid)
	}
	cfg, err := a.store.GetGateway(ctx, id)
	if err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	cfg.Priority = priority
	return a.Update(ctx, cfg)
}

func (a *Admin) checkType(t gwcontext.GatewayType) error {
	if _, ok := a.registry.constructors[t]; !ok {
		return fmt.Errorf("%w: %w %q", store.ErrInvalid, ErrUnknownGatewayType, t)
	}
	return nil
}

func (a *Admin) invalidate(ctx context.Context, id int64) {
	if err := a.registry.Invalidate(ctx, id); err != nil {
		a.logger.Error("failed to invalidate gateway cache", "gateway_id", id, "error", err)
	}
}

func (a *Admin) logChanges(before, after gwcontext.GatewayConfig) {
	if before.IsActive != after.IsActive {
		msg := "Gateway deactivated"
		if after.IsActive {
			msg = "Gateway activated"
		}
		a.logger.Info(msg, "gateway_id", after.ID, "gateway_type", string(after.Type))
	}
	if before.Priority != after.Priority {
		a.logger.Info("Gateway priority changed",
			"gateway_id", after.ID,
			"old_priority", before.Priority,
			"new_priority", after.Priority,
		)
	}
	if before.Fingerprint() != after.Fingerprint() {
		a.logger.Info("Gateway credentials changed", "gateway_id", after.ID)
	}
}
