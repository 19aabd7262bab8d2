package reporting

import (
	stdcontext "context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/registry"
	"github.com/yourorg/multigateway/internal/store"
)

// GatewayReconciliation compares one gateway's listing with the local records.
type GatewayReconciliation struct {
	GatewayID       int64
	GatewayName     string
	Matched         []string // External ids known on both sides
	MissingLocally  []string // Known to the provider only
	MissingRemotely []string // Known locally only
	Error           string   // Set when the provider could not be listed
}

// Consistent reports whether both sides agree.
func (g GatewayReconciliation) Consistent() bool {
	return g.Error == "" && len(g.MissingLocally) == 0 && len(g.MissingRemotely) == 0
}

// ReconciliationReport covers every non-deleted gateway.
type ReconciliationReport struct {
	Gateways []GatewayReconciliation
}

// Consistent reports whether every gateway reconciled cleanly.
func (r ReconciliationReport) Consistent() bool {
	for _, g := range r.Gateways {
		if !g.Consistent() {
			return false
		}
	}
	return true
}

// GatewayResolver resolves a gateway id to its adapter.
type GatewayResolver interface {
	Resolve(ctx stdcontext.Context, id int64) (registry.ActiveGateway, error)
}

// Reconciler lists each gateway's transactions and compares them with the local store.
type Reconciler struct {
	gateways    store.GatewayStore
	txs         store.TransactionStore
	resolver    GatewayResolver
	logger      *slog.Logger
	concurrency int
}

// NewReconciler creates a Reconciler that lists at most concurrency gateways at once.
func NewReconciler(gateways store.GatewayStore, txs store.TransactionStore, resolver GatewayResolver, logger *slog.Logger, concurrency int) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Reconciler{gateways: gateways, txs: txs, resolver: resolver, logger: logger, concurrency: concurrency}
}

// Reconcile builds the report. A gateway whose listing fails is reported with Error set;
// only store failures abort the run.
func (r *Reconciler) Reconcile(ctx stdcontext.Context) (*ReconciliationReport, error) {
	configs, err := r.gateways.ListGateways(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	context.SortByPriority(configs)

	results := make([]GatewayReconciliation, len(configs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, cfg := range configs {
		g.Go(func() error {
			res, err := r.reconcileGateway(gctx, cfg)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ReconciliationReport{Gateways: results}, nil
}

func (r *Reconciler) reconcileGateway(ctx stdcontext.Context, cfg context.GatewayConfig) (GatewayReconciliation, error) {
	res := GatewayReconciliation{GatewayID: cfg.ID, GatewayName: cfg.Name}

	local, err := r.txs.ListTransactions(ctx, store.TransactionFilter{GatewayID: cfg.ID})
	if err != nil {
		return res, fmt.Errorf("failed to list transactions of gateway %d: %w", cfg.ID, err)
	}

	gw, err := r.resolver.Resolve(ctx, cfg.ID)
	if err != nil {
		res.Error = err.Error()
		r.logger.Warn("reconciliation skipped gateway", "gateway_id", cfg.ID, "error", err)
		return res, nil
	}
	remote, err := gw.Client.ListTransactions(ctx)
	if err != nil {
		res.Error = err.Error()
		r.logger.Warn("failed to list provider transactions", "gateway_id", cfg.ID, "error", err)
		return res, nil
	}

	remoteIDs := make(map[string]struct{}, len(remote))
	for _, item := range remote {
		if id, ok := item.ExternalID(); ok {
			remoteIDs[id] = struct{}{}
		}
	}
	localIDs := make(map[string]struct{}, len(local))
	for _, tx := range local {
		localIDs[tx.ExternalID] = struct{}{}
		if _, ok := remoteIDs[tx.ExternalID]; ok {
			res.Matched = append(res.Matched, tx.ExternalID)
		} else {
			res.MissingRemotely = append(res.MissingRemotely, tx.ExternalID)
		}
	}
	for id := range remoteIDs {
		if _, ok := localIDs[id]; !ok {
			res.MissingLocally = append(res.MissingLocally, id)
		}
	}
	sort.Strings(res.Matched)
	sort.Strings(res.MissingLocally)
	sort.Strings(res.MissingRemotely)
	return res, nil
}
