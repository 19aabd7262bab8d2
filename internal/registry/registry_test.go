package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"

	"github.com/yourorg/multigateway/internal/adapter"
	adaptermock "github.com/yourorg/multigateway/internal/adapter/mock"
	gwcontext "github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/store"
)

type countingConstructors struct {
	calls atomic.Int32
	fail  map[int64]error
}

func (c *countingConstructors) ctor(ctx context.Context, cfg gwcontext.GatewayConfig, opts adapter.Options) (adapter.GatewayClient, error) {
	c.calls.Add(1)
	if err, ok := c.fail[cfg.ID]; ok {
		return nil, err
	}
	return adaptermock.NewMockAdapter(fmt.Sprintf("mock-%d", cfg.ID)), nil
}

func seeded(configs ...gwcontext.GatewayConfig) *store.MemoryStore {
	s := store.NewMemoryStore(nil)
	s.Seed(configs...)
	return s
}

func gw(id int64, priority int, active bool) gwcontext.GatewayConfig {
	return gwcontext.GatewayConfig{ID: id, Type: "mock", Name: fmt.Sprintf("gw-%d", id), IsActive: active, Priority: priority}
}

func ids(list []ActiveGateway) []int64 {
	out := make([]int64, len(list))
	for i, g := range list {
		out[i] = g.Config.ID
	}
	return out
}

func TestLoadActiveGateways_OrderAndFilter(t *testing.T) {
	c := &countingConstructors{}
	r := New(seeded(gw(1, 2, true), gw(2, 1, true), gw(3, 1, false), gw(4, 1, true)),
		map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor})

	list, err := r.LoadActiveGateways(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 4, 1}, ids(list))
	for _, g := range list {
		assert.NotNil(t, g.Client)
	}
}

func TestLoadActiveGateways_SkipsMisconfigured(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	var warnings []Warning
	c := &countingConstructors{fail: map[int64]error{3: fmt.Errorf("%w: login rejected", adapter.ErrAuth)}}
	unknown := gw(2, 1, true)
	unknown.Type = "gateway99"

	r := New(seeded(gw(1, 1, true), unknown, gw(3, 1, true)),
		map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor},
		WithLogger(slog.New(slog.NewTextHandler(&buf, nil))),
		WithMetrics(reg),
		WithWarningHandler(func(w Warning) { warnings = append(warnings, w) }),
	)

	list, err := r.LoadActiveGateways(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(list))

	require.Len(t, warnings, 2)
	assert.Equal(t, "unknown_type", warnings[0].Reason)
	assert.ErrorIs(t, warnings[0].Err, ErrUnknownGatewayType)
	assert.ErrorIs(t, warnings[0].Err, adapter.ErrConfiguration)
	assert.Equal(t, "construction_failed", warnings[1].Reason)
	assert.ErrorIs(t, warnings[1].Err, adapter.ErrAuth)

	assert.Contains(t, buf.String(), "skipping gateway")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.warnings.WithLabelValues("2", "unknown_type")))
}

func TestLoadActiveGateways_AllFailingYieldsEmptyList(t *testing.T) {
	c := &countingConstructors{fail: map[int64]error{1: errors.New("boom")}}
	r := New(seeded(gw(1, 1, true)), map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor})
	list, err := r.LoadActiveGateways(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRegistry_ReusesAdaptersUntilCredentialsChange(t *testing.T) {
	ctx := context.Background()
	c := &countingConstructors{}
	s := seeded(gw(1, 1, true))
	r := New(s, map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor})

	first, err := r.LoadActiveGateways(ctx)
	require.NoError(t, err)
	second, err := r.LoadActiveGateways(ctx)
	require.NoError(t, err)
	assert.Same(t, first[0].Client, second[0].Client)
	assert.Equal(t, int32(1), c.calls.Load())

	cfg, _ := s.GetGateway(ctx, 1)
	cfg.Priority = 5
	_, err = s.UpdateGateway(ctx, cfg)
	require.NoError(t, err)
	_, err = r.LoadActiveGateways(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), c.calls.Load(), "priority changes keep the adapter")

	cfg.Credentials = gwcontext.Credentials{"token": "rotated"}
	_, err = s.UpdateGateway(ctx, cfg)
	require.NoError(t, err)
	_, err = r.LoadActiveGateways(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), c.calls.Load(), "credential changes rebuild the adapter")
}

func TestRegistry_Resolve(t *testing.T) {
	ctx := context.Background()
	c := &countingConstructors{}
	r := New(seeded(gw(1, 1, false)), map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor})

	g, err := r.Resolve(ctx, 1)
	require.NoError(t, err, "inactive gateways resolve for refunds")
	assert.False(t, g.Config.IsActive)
	assert.NotNil(t, g.Client)

	_, err = r.Resolve(ctx, 42)
	assert.ErrorIs(t, err, ErrGatewayNotFound)
}

func TestRegistry_CacheAndInvalidation(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	cache := NewMemoryIDCache(time.Minute, clock)
	s := seeded(gw(1, 1, true), gw(2, 2, true))
	c := &countingConstructors{}
	r := New(s, map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor}, WithCache(cache))

	list, err := r.LoadActiveGateways(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(list))
	cached, ok, _ := cache.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, cached)

	// A gateway created behind the registry's back stays invisible until TTL or invalidation.
	s.Seed(gw(3, 0, true))
	list, _ = r.LoadActiveGateways(ctx)
	assert.Equal(t, []int64{1, 2}, ids(list))

	clock.Advance(time.Minute + time.Second)
	list, _ = r.LoadActiveGateways(ctx)
	assert.Equal(t, []int64{3, 1, 2}, ids(list))

	// Admin writes invalidate immediately.
	admin := NewAdmin(s, r, nil)
	_, err = admin.Toggle(ctx, 1)
	require.NoError(t, err)
	list, _ = r.LoadActiveGateways(ctx)
	assert.Equal(t, []int64{3, 2}, ids(list))
}

func TestRegistry_ConcurrentLoads(t *testing.T) {
	c := &countingConstructors{}
	r := New(seeded(gw(1, 1, true), gw(2, 2, true)), map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor},
		WithCache(NewMemoryIDCache(time.Minute, nil)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list, err := r.LoadActiveGateways(context.Background())
			assert.NoError(t, err)
			assert.Len(t, list, 2)
		}()
	}
	wg.Wait()
}

// pausingStore holds its first ListGateways call after taking the snapshot.
type pausingStore struct {
	*store.MemoryStore
	listed  chan struct{}
	release chan struct{}
	calls   atomic.Int32
	loadErr atomic.Value // error seen on the paused call's ctx after release
}

func newPausingStore(configs ...gwcontext.GatewayConfig) *pausingStore {
	return &pausingStore{MemoryStore: seeded(configs...), listed: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingStore) ListGateways(ctx context.Context) ([]gwcontext.GatewayConfig, error) {
	all, err := p.MemoryStore.ListGateways(ctx)
	if p.calls.Add(1) == 1 {
		close(p.listed)
		<-p.release
		p.loadErr.Store(fmt.Sprint(ctx.Err()))
	}
	return all, err
}

func TestRegistry_InvalidationDuringLoadIsNotUndone(t *testing.T) {
	ctx := context.Background()
	s := newPausingStore(gw(1, 1, true), gw(2, 2, false))
	cache := NewMemoryIDCache(time.Hour, nil)
	r := New(s, map[gwcontext.GatewayType]adapter.Constructor{"mock": (&countingConstructors{}).ctor}, WithCache(cache))
	admin := NewAdmin(s, r, nil)

	done := make(chan []ActiveGateway)
	go func() {
		list, err := r.LoadActiveGateways(ctx)
		assert.NoError(t, err)
		done <- list
	}()
	<-s.listed

	_, err := admin.Toggle(ctx, 2)
	require.NoError(t, err)
	close(s.release)
	assert.Equal(t, []int64{1}, ids(<-done), "the in-flight load answers with its snapshot")

	_, ok, _ := cache.Get(ctx)
	assert.False(t, ok, "the stale snapshot is not cached")

	list, err := r.LoadActiveGateways(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(list))
}

func TestRegistry_CancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	s := newPausingStore(gw(1, 1, true), gw(2, 2, true))
	r := New(s, map[gwcontext.GatewayType]adapter.Constructor{"mock": (&countingConstructors{}).ctor},
		WithLoadTimeout(time.Minute))

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error)
	go func() {
		_, err := r.LoadActiveGateways(first)
		firstErr <- err
	}()
	<-s.listed

	second := make(chan []ActiveGateway)
	go func() {
		list, err := r.LoadActiveGateways(context.Background())
		assert.NoError(t, err)
		second <- list
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(s.release)

	assert.Equal(t, []int64{1, 2}, ids(<-second))
	assert.Equal(t, "<nil>", s.loadErr.Load(), "the shared load keeps running after its first caller leaves")
}

func TestMemoryIDCache(t *testing.T) {
	ctx := context.Background()
	clock := clockz.NewFakeClock()
	cache := NewMemoryIDCache(10*time.Second, clock)

	_, ok, _ := cache.Get(ctx)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, []int64{2, 1}))
	got, ok, _ := cache.Get(ctx)
	assert.True(t, ok)
	assert.Equal(t, []int64{2, 1}, got)

	clock.Advance(10 * time.Second)
	_, ok, _ = cache.Get(ctx)
	assert.False(t, ok, "expired at ttl")

	require.NoError(t, cache.Set(ctx, []int64{}))
	got, ok, _ = cache.Get(ctx)
	assert.True(t, ok, "an empty active list is a valid cached value")
	assert.Empty(t, got)

	require.NoError(t, cache.Invalidate(ctx))
	_, ok, _ = cache.Get(ctx)
	assert.False(t, ok)
}
