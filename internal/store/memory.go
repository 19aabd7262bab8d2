package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zoobzio/clockz"

	gwcontext "github.com/yourorg/multigateway/internal/context"
)

// MemoryStore keeps everything in process. Used by tests and the `memory` database driver.
type MemoryStore struct {
	mu           sync.RWMutex
	clock        clockz.Clock
	nextID       int64
	gateways     map[int64]gwcontext.GatewayConfig
	deleted      map[int64]bool
	transactions map[string]gwcontext.Transaction
}

// NewMemoryStore creates an empty store. A nil clock uses the real clock.
func NewMemoryStore(clock clockz.Clock) *MemoryStore {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &MemoryStore{
		clock:        clock,
		gateways:     make(map[int64]gwcontext.GatewayConfig),
		deleted:      make(map[int64]bool),
		transactions: make(map[string]gwcontext.Transaction),
	}
}

// Seed inserts gateways keeping their ids when set.
func (m *MemoryStore) Seed(configs ...gwcontext.GatewayConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cfg := range configs {
		if cfg.ID == 0 {
			m.nextID++
			cfg.ID = m.nextID
		} else if cfg.ID > m.nextID {
			m.nextID = cfg.ID
		}
		cfg.Credentials = cfg.Credentials.Clone()
		cfg.UpdatedAt = m.clock.Now()
		m.gateways[cfg.ID] = cfg
	}
}

func (m *MemoryStore) ListGateways(_ context.Context) ([]gwcontext.GatewayConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]gwcontext.GatewayConfig, 0, len(m.gateways))
	for id, cfg := range m.gateways {
		if m.deleted[id] {
			continue
		}
		cfg.Credentials = cfg.Credentials.Clone()
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetGateway(_ context.Context, id int64) (gwcontext.GatewayConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.gateways[id]
	if !ok || m.deleted[id] {
		return gwcontext.GatewayConfig{}, fmt.Errorf("gateway %d: %w", id, ErrNotFound)
	}
	cfg.Credentials = cfg.Credentials.Clone()
	return cfg, nil
}

func (m *MemoryStore) CreateGateway(_ context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error) {
	if err := validateGateway(cfg); err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	cfg.ID = m.nextID
	cfg.Credentials = cfg.Credentials.Clone()
	cfg.UpdatedAt = m.clock.Now()
	m.gateways[cfg.ID] = cfg
	return cfg, nil
}

func (m *MemoryStore) UpdateGateway(_ context.Context, cfg gwcontext.GatewayConfig) (gwcontext.GatewayConfig, error) {
	if err := validateGateway(cfg); err != nil {
		return gwcontext.GatewayConfig{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gateways[cfg.ID]; !ok || m.deleted[cfg.ID] {
		return gwcontext.GatewayConfig{}, fmt.Errorf("gateway %d: %w", cfg.ID, ErrNotFound)
	}
	cfg.Credentials = cfg.Credentials.Clone()
	cfg.UpdatedAt = m.clock.Now()
	m.gateways[cfg.ID] = cfg
	return cfg, nil
}

func (m *MemoryStore) DeleteGateway(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.gateways[id]; !ok || m.deleted[id] {
		return fmt.Errorf("gateway %d: %w", id, ErrNotFound)
	}
	m.deleted[id] = true
	return nil
}

func (m *MemoryStore) CreateTransaction(_ context.Context, tx gwcontext.Transaction) (gwcontext.Transaction, error) {
	if err := validateTransaction(tx); err != nil {
		return gwcontext.Transaction{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.transactions[tx.ID]; exists {
		return gwcontext.Transaction{}, fmt.Errorf("transaction %s: %w", tx.ID, ErrConflict)
	}
	now := m.clock.Now()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
	tx.UpdatedAt = now
	m.transactions[tx.ID] = tx
	return tx, nil
}

func (m *MemoryStore) GetTransaction(_ context.Context, id string) (gwcontext.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.transactions[id]
	if !ok {
		return gwcontext.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return tx, nil
}

func (m *MemoryStore) ListTransactions(_ context.Context, filter TransactionFilter) ([]gwcontext.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]gwcontext.Transaction, 0)
	for _, tx := range m.transactions {
		if filter.GatewayID != 0 && tx.GatewayID != filter.GatewayID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return paginate(out, filter.Limit, filter.Offset), nil
}

func (m *MemoryStore) UpdateTransactionStatus(_ context.Context, id string, from, to gwcontext.TransactionStatus) (gwcontext.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return gwcontext.Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if tx.Status != from {
		return tx, fmt.Errorf("transaction %s is %s, expected %s: %w", id, tx.Status, from, ErrConflict)
	}
	tx.Status = to
	tx.UpdatedAt = m.clock.Now()
	m.transactions[id] = tx
	return tx, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

var _ Store = (*MemoryStore)(nil)
