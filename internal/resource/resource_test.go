package resource_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/model"
	"github.com/Homiakus/motto/internal/resource"
)

func TestAcquireReleaseMutex(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Resources["lock"] = &model.Resource{ID: "lock", Kind: model.ResourceMutex, Capacity: 1}
	reg := resource.NewRegistry(cfg, nil)

	ctx := context.Background()
	grant, err := reg.Acquire(ctx, "lock", "owner1", ctx)
	require.NoError(t, err)
	require.NotNil(t, grant)

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = reg.Acquire(ctx, "lock", "owner2", timeoutCtx)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrResourceTimeout)

	reg.Release(grant)

	grant2, err := reg.Acquire(ctx, "lock", "owner2", ctx)
	require.NoError(t, err)
	assert.NotNil(t, grant2)
}

func TestSemaphoreCapacityN(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Resources["pool"] = &model.Resource{ID: "pool", Kind: model.ResourceSemaphore, Capacity: 2}
	reg := resource.NewRegistry(cfg, nil)
	ctx := context.Background()

	g1, err := reg.Acquire(ctx, "pool", "a", ctx)
	require.NoError(t, err)
	g2, err := reg.Acquire(ctx, "pool", "b", ctx)
	require.NoError(t, err)

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = reg.Acquire(ctx, "pool", "c", shortCtx)
	require.Error(t, err)

	reg.Release(g1)
	reg.Release(g2)
}

func TestDoubleReleaseIsSafe(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Resources["lock"] = &model.Resource{ID: "lock", Kind: model.ResourceMutex, Capacity: 1}
	reg := resource.NewRegistry(cfg, nil)
	ctx := context.Background()

	grant, err := reg.Acquire(ctx, "lock", "owner1", ctx)
	require.NoError(t, err)
	reg.Release(grant)
	assert.NotPanics(t, func() { reg.Release(grant) })
}

func TestBuiltinTransportResourceExists(t *testing.T) {
	cfg := model.NewConfiguration()
	reg := resource.NewRegistry(cfg, nil)
	ctx := context.Background()
	grant, err := reg.Acquire(ctx, resource.TransportResourceID, "seq1", ctx)
	require.NoError(t, err)
	reg.Release(grant)
}

func TestHeldReportsCurrentOwners(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Resources["lock"] = &model.Resource{ID: "lock", Kind: model.ResourceMutex, Capacity: 1}
	reg := resource.NewRegistry(cfg, nil)
	ctx := context.Background()

	assert.Empty(t, reg.Held()["lock"])

	grant, err := reg.Acquire(ctx, "lock", "owner1", ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner1"}, reg.Held()["lock"])

	reg.Release(grant)
	assert.Empty(t, reg.Held()["lock"])
}
