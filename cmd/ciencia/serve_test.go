package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jonathan/ciencia/internal/config"
	"github.com/jonathan/ciencia/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLLMConfig_AppliesOverrides(t *testing.T) {
	cfg := llmConfig(config.ModelsConfig{Standard: "gemini-2.5-pro"})

	assert.Equal(t, "gemini-2.5-pro", cfg.GetModel(llm.TierStandard))
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.GetModel(llm.TierLite), "empty override keeps the default")
	assert.Equal(t, "gemini-2.5-pro", cfg.GetModel(llm.TierAdvanced))
	assert.Equal(t, "gemini-2.5-flash", llm.DefaultConfig().GetModel(llm.TierStandard), "defaults are not mutated")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, config.StoreConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = openStore(ctx, config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "ciencia.db")})
	require.NoError(t, err)
	_, err = st.CreateProject(ctx, "Genomics", "")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = openStore(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
