package tenant_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/graphcore/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntoContext_FromContext(t *testing.T) {
	ctx, err := tenant.IntoContext(context.Background(), "acme", map[string]string{"tier": "gold"})
	require.NoError(t, err)

	info, ok := tenant.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "acme", info.ID)
	assert.Equal(t, "gold", info.Attrs["tier"])
	assert.NotEmpty(t, info.SessionID)
}

func TestIntoContext_InvalidID(t *testing.T) {
	_, err := tenant.IntoContext(context.Background(), "", nil)
	assert.ErrorIs(t, err, tenant.ErrInvalidTenantID)

	_, err = tenant.IntoContext(context.Background(), "bad tenant!", nil)
	assert.ErrorIs(t, err, tenant.ErrInvalidTenantID)
}

func TestFromContext_Unscoped(t *testing.T) {
	_, ok := tenant.FromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "", tenant.IDFromContext(context.Background()))
	assert.Equal(t, tenant.DefaultTenant, tenant.IDFromContextOrDefault(context.Background()))

	_, err := tenant.RequireFromContext(context.Background())
	assert.ErrorIs(t, err, tenant.ErrNoTenant)
}

func TestClearFromContext_ShadowsParent(t *testing.T) {
	ctx, err := tenant.IntoContext(context.Background(), "acme", nil)
	require.NoError(t, err)

	cleared := tenant.ClearFromContext(ctx)
	_, ok := tenant.FromContext(cleared)
	assert.False(t, ok)

	// Parent context unaffected.
	info, ok := tenant.FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "acme", info.ID)
}

func TestWithTenant_RestoresPriorScope(t *testing.T) {
	outer, err := tenant.IntoContext(context.Background(), "outer", nil)
	require.NoError(t, err)

	err = tenant.WithTenant(outer, nil, "inner", nil, func(ctx context.Context) error {
		assert.Equal(t, "inner", tenant.IDFromContext(ctx))
		return nil
	})
	require.NoError(t, err)

	// The caller's context still carries the outer tenant.
	assert.Equal(t, "outer", tenant.IDFromContext(outer))
}

func TestWithTenant_RestoresOnError(t *testing.T) {
	sentinel := errors.New("body failed")
	err := tenant.WithTenant(context.Background(), nil, "acme", nil, func(ctx context.Context) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, "", tenant.IDFromContext(context.Background()))
}

func TestWithTenant_RestoresOnPanic(t *testing.T) {
	base := context.Background()
	assert.Panics(t, func() {
		_ = tenant.WithTenant(base, nil, "acme", nil, func(ctx context.Context) error {
			panic("boom")
		})
	})
	_, ok := tenant.FromContext(base)
	assert.False(t, ok)
}

func TestWithTenant_RecordsInRegistry(t *testing.T) {
	reg := tenant.NewRegistry()
	err := tenant.WithTenant(context.Background(), reg, "acme", nil, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, reg.ListTenants())
}

func TestConcurrentScopes_NeverLeak(t *testing.T) {
	var wg sync.WaitGroup
	for _, id := range []string{"tenant_a", "tenant_b", "tenant_c", "tenant_d"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				err := tenant.WithTenant(context.Background(), nil, id, nil, func(ctx context.Context) error {
					if got := tenant.IDFromContext(ctx); got != id {
						t.Errorf("tenant leak: want %q got %q", id, got)
					}
					return nil
				})
				if err != nil {
					t.Error(err)
				}
			}
		}(id)
	}
	wg.Wait()
}

func TestNamespaceFor(t *testing.T) {
	ctx, err := tenant.IntoContext(context.Background(), "acme", nil)
	require.NoError(t, err)
	assert.Equal(t, "acme_embeddings", tenant.NamespaceFor(ctx, "embeddings"))
	assert.Equal(t, "default_graph", tenant.NamespaceFor(context.Background(), "graph"))
}

func TestValidateAccess(t *testing.T) {
	ctx, err := tenant.IntoContext(context.Background(), "acme", nil)
	require.NoError(t, err)

	assert.NoError(t, tenant.ValidateAccess(ctx, "acme"))
	assert.ErrorIs(t, tenant.ValidateAccess(ctx, "other"), tenant.ErrAccessDenied)
	// Unscoped context has admin access.
	assert.NoError(t, tenant.ValidateAccess(context.Background(), "other"))
}

func TestRegistry(t *testing.T) {
	reg := tenant.NewRegistry()
	reg.Observe("a", map[string]string{"tier": "gold"})
	reg.Observe("b", nil)
	reg.Observe("a", nil)

	assert.Equal(t, []string{"a", "b"}, reg.ListTenants())

	stats := reg.Stats()
	require.Contains(t, stats, "a")
	assert.Equal(t, int64(2), stats["a"].AccessCount)
	assert.Equal(t, int64(1), stats["b"].AccessCount)

	reg.Reset()
	assert.Empty(t, reg.ListTenants())
}
