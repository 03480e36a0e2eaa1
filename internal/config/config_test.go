package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "sqlite", cfg.DatastoreType)
	require.Equal(t, "sqlvec", cfg.VectorType)
	require.Equal(t, "synthetic", cfg.EmbedType)
	require.Equal(t, "smart", cfg.EmbedTier)
	require.Empty(t, cfg.ReasonType)
	require.Equal(t, 0.5, cfg.DefaultSalience)
	require.Equal(t, time.Hour, cfg.DecayInterval)
	require.Equal(t, 0.05, cfg.DecayFloor)
	require.Equal(t, 0.05, cfg.WaypointPruneThreshold)
	require.Equal(t, 2, cfg.ReflectionWorkers)
	require.Equal(t, 64, cfg.ReflectionQueueSize)
	require.Equal(t, 8080, cfg.Port)
	require.True(t, cfg.DatastoreMigrateAtStart)
}

func TestWithContextRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
}

func TestFromContext_Missing(t *testing.T) {
	require.Nil(t, FromContext(context.Background()))
}
