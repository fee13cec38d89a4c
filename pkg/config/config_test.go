package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigWithoutFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	t.Setenv("ENGINE_TIMEZONE", "Asia/Jakarta")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, "Asia/Jakarta", cfg.Engine.Timezone)
	require.Equal(t, 30*time.Second, cfg.Engine.TriggerCacheTTL)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	yaml := []byte("APP_ENV: production\nENGINE:\n  MAX_EQUIPPED:\n    badge: 5\n")
	require.NoError(t, os.WriteFile("config.yaml", yaml, 0o600))

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "production", cfg.AppEnv)
	require.Equal(t, 5, cfg.Engine.EquipCap("badge"))
	require.Equal(t, 1, cfg.Engine.EquipCap("title"))
}

func TestEngineDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, 3, cfg.Engine.EquipCap("badge"))
	require.Equal(t, 1, cfg.Engine.EquipCap("preset"))
	require.Equal(t, time.UTC, cfg.Engine.Location())

	e := Engine{Timezone: "Not/AZone"}
	require.Equal(t, time.UTC, e.Location())
}
