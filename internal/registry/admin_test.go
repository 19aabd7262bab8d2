package registry

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/multigateway/internal/adapter"
	gwcontext "github.com/yourorg/multigateway/internal/context"
	"github.com/yourorg/multigateway/internal/store"
)

func newAdmin(t *testing.T) (*Admin, *Registry, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	c := &countingConstructors{}
	s := store.NewMemoryStore(nil)
	r := New(s, map[gwcontext.GatewayType]adapter.Constructor{"mock": c.ctor})
	return NewAdmin(s, r, slog.New(slog.NewTextHandler(&buf, nil))), r, &buf
}

func TestAdmin_Create(t *testing.T) {
	admin, r, buf := newAdmin(t)
	ctx := context.Background()

	created, err := admin.Create(ctx, gw(0, 1, true))
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.Contains(t, buf.String(), "Gateway created")

	list, err := r.LoadActiveGateways(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	bad := gw(0, 1, true)
	bad.Type = "gateway99"
	_, err = admin.Create(ctx, bad)
	assert.ErrorIs(t, err, store.ErrInvalid)
	assert.ErrorIs(t, err, ErrUnknownGatewayType)
}

func TestAdmin_UpdateKeepsCredentials(t *testing.T) {
	admin, _, _ := newAdmin(t)
	ctx := context.Background()

	cfg := gw(0, 1, true)
	cfg.Credentials = gwcontext.Credentials{"token": "secret"}
	created, err := admin.Create(ctx, cfg)
	require.NoError(t, err)

	created.Credentials = nil
	created.Name = "renamed"
	updated, err := admin.Update(ctx, created)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, "secret", updated.Credentials["token"])
}

func TestAdmin_ToggleAndPriority(t *testing.T) {
	admin, r, buf := newAdmin(t)
	ctx := context.Background()

	a, _ := admin.Create(ctx, gw(0, 1, true))
	b, _ := admin.Create(ctx, gw(0, 2, true))

	list, _ := r.LoadActiveGateways(ctx)
	assert.Equal(t, []int64{a.ID, b.ID}, ids(list))

	_, err := admin.SetPriority(ctx, b.ID, 1)
	require.NoError(t, err)
	_, err = admin.SetPriority(ctx, a.ID, 3)
	require.NoError(t, err)
	list, _ = r.LoadActiveGateways(ctx)
	assert.Equal(t, []int64{b.ID, a.ID}, ids(list))
	assert.Contains(t, buf.String(), "Gateway priority changed")

	_, err = admin.SetPriority(ctx, a.ID, 0)
	assert.ErrorIs(t, err, store.ErrInvalid)

	toggled, err := admin.Toggle(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, toggled.IsActive)
	assert.Contains(t, buf.String(), "Gateway deactivated")
	list, _ = r.LoadActiveGateways(ctx)
	assert.Equal(t, []int64{a.ID}, ids(list))

	_, err = r.Resolve(ctx, b.ID)
	assert.NoError(t, err, "deactivated gateways stay resolvable")

	require.NoError(t, admin.Delete(ctx, b.ID))
	_, err = r.Resolve(ctx, b.ID)
	assert.ErrorIs(t, err, ErrGatewayNotFound)
	assert.ErrorIs(t, admin.Delete(ctx, b.ID), store.ErrNotFound)
}
