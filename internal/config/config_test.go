package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileAbsent(t *testing.T) {
	home := t.TempDir()
	t.Setenv("POCKETPAW_HOME", home)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8888", cfg.BindAddr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 5, cfg.MaxConcurrentTasks)
	require.Equal(t, "ANTHROPIC_API_KEY", cfg.Backends.Anthropic.APIKeyEnv)
}

func TestLoad_ReadsYAMLFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("POCKETPAW_HOME", home)

	yaml := `
bind_addr: "0.0.0.0:9000"
max_concurrent_tasks: 9
backends:
  anthropic:
    model: claude-sonnet
    api_key_env: MY_ANTHROPIC_KEY
`
	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.BindAddr)
	require.Equal(t, 9, cfg.MaxConcurrentTasks)
	require.Equal(t, "claude-sonnet", cfg.Backends.Anthropic.Model)
	require.Equal(t, "MY_ANTHROPIC_KEY", cfg.Backends.Anthropic.APIKeyEnv)
}

func TestLoad_EnvOverridesFileValue(t *testing.T) {
	home := t.TempDir()
	t.Setenv("POCKETPAW_HOME", home)
	t.Setenv("POCKETPAW_BIND_ADDR", "10.0.0.1:1234")
	t.Setenv("POCKETPAW_MAX_CONCURRENT_TASKS", "2")

	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("bind_addr: \"1.2.3.4:80\"\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1:1234", cfg.BindAddr)
	require.Equal(t, 2, cfg.MaxConcurrentTasks)
}

func TestBackendConfig_APIKeyResolvesFromNamedEnvVar(t *testing.T) {
	t.Setenv("SOME_KEY_VAR", "secret-value")
	b := BackendConfig{APIKeyEnv: "SOME_KEY_VAR"}
	require.Equal(t, "secret-value", b.APIKey())
}

func TestTelegramConfig_TokenResolvesFromNamedEnvVar(t *testing.T) {
	t.Setenv("MY_TG_TOKEN", "tg-secret")
	tg := TelegramConfig{TokenEnv: "MY_TG_TOKEN"}
	require.Equal(t, "tg-secret", tg.Token())
}

func TestLoadFrom_ReadsGivenDirectoryRegardlessOfHomeDirEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("POCKETPAW_HOME", t.TempDir()) // a different directory than home

	require.NoError(t, os.WriteFile(filepath.Join(home, "config.yaml"), []byte("log_level: debug\n"), 0o644))

	cfg, err := LoadFrom(home)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, home, cfg.HomeDir)
}

func TestLoad_ParsesAllowOriginsFromEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("POCKETPAW_HOME", home)
	t.Setenv("POCKETPAW_ALLOW_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowOrigins)
}
