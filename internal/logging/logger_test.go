package logging_test

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/graphcore/internal/logging"
	"github.com/fyrsmithlabs/graphcore/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_ValidConfig(t *testing.T) {
	logger, err := logging.NewLogger(&logging.Config{Level: "debug", Format: "console"})
	require.NoError(t, err)
	require.NotNil(t, logger)
	logger.Info(context.Background(), "hello")
}

func TestNewLogger_NilConfigUsesDefaults(t *testing.T) {
	logger, err := logging.NewLogger(nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := logging.NewLogger(&logging.Config{Level: "verbose"})
	assert.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	_, err := logging.NewLogger(&logging.Config{Format: "xml"})
	assert.Error(t, err)
}

func TestContextFields_Tenant(t *testing.T) {
	ctx, err := tenant.IntoContext(context.Background(), "acme", nil)
	require.NoError(t, err)

	fields := logging.ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "tenant.id", fields[0].Key)
	assert.Equal(t, "acme", fields[0].String)
}

func TestContextFields_Unscoped(t *testing.T) {
	assert.Empty(t, logging.ContextFields(context.Background()))
}

func TestWithLogger_FromContext(t *testing.T) {
	logger := logging.NewNop()
	ctx := logging.WithLogger(context.Background(), logger)
	assert.Same(t, logger, logging.FromContext(ctx))
	assert.NotNil(t, logging.FromContext(context.Background()))
}
