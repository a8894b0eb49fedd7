package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_HOST", "db")
	t.Setenv("DATABASE_USER", "workflow")
	t.Setenv("DATABASE_PASSWORD", "secret")
	t.Setenv("DATABASE_NAME", "workflow_db")
	t.Setenv("DATABASE_PORT", "5433")
	t.Setenv("DATABASE_SSLMODE", "require")
	t.Setenv("DATABASE_MAX_CONNS", "not-a-number")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("APPROVAL_LOCK_TTL", "90s")
	t.Setenv("CHAIN_MINING_TIMEOUT", "")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.25")

	cfg := LoadConfig()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://workflow:secret@db:5433/workflow_db?sslmode=require", cfg.DB.DSN())
	assert.Equal(t, int32(25), cfg.DB.MaxConns, "invalid numbers fall back to the default")
	assert.Equal(t, int64(31337), cfg.Chain.ChainID)
	assert.Equal(t, 90*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, 2*time.Minute, cfg.Chain.MiningTimeout)
	assert.Equal(t, 0.25, cfg.TraceSampleRatio)
}

func TestNewResourceDescribesDeployment(t *testing.T) {
	// Arrange
	t.Setenv("SERVICE_NAME", "workflow-eu")
	t.Setenv("SERVICE_VERSION", "2.3.0")
	t.Setenv("DEPLOYMENT_ENV", "staging")
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("CHAIN_RPC_URL", "http://anvil:8545")
	t.Setenv("CHAIN_CONTRACT_ADDRESS", "0x00000000000000000000000000000000000000c3")
	t.Setenv("MATERIAL_MATCH_MODE", "exact")
	cfg := LoadConfig()

	// Act
	res, err := newResource(context.Background(), cfg)

	// Assert
	require.NoError(t, err)
	attrs := res.Set()
	value := func(key string) attribute.Value {
		v, ok := attrs.Value(attribute.Key(key))
		require.True(t, ok, key)
		return v
	}
	assert.Equal(t, "workflow-eu", value("service.name").AsString())
	assert.Equal(t, "2.3.0", value("service.version").AsString())
	assert.Equal(t, "staging", value("deployment.environment").AsString())
	assert.Equal(t, int64(31337), value("chain.id").AsInt64())
	assert.True(t, value("chain.signing_enabled").AsBool())
	assert.Equal(t, "0x00000000000000000000000000000000000000c3", value("chain.contract").AsString())
	assert.Equal(t, "exact", value("workflow.material_match_mode").AsString())
}

func TestNewResourceOmitsUnsetContract(t *testing.T) {
	cfg := Config{ServiceName: "workflow-service", Chain: ChainConfig{ChainID: 1}}

	res, err := newResource(context.Background(), cfg)

	require.NoError(t, err)
	_, ok := res.Set().Value("chain.contract")
	assert.False(t, ok)
	signing, ok := res.Set().Value("chain.signing_enabled")
	require.True(t, ok)
	assert.False(t, signing.AsBool())
}
