package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shabbark/pocketpaw/internal/config"
	"github.com/shabbark/pocketpaw/internal/planner"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{HomeDir: t.TempDir(), BindAddr: "127.0.0.1:0"}
	return cfg
}

func TestNew_WiresDefaultPlanner(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	_, ok := a.Planner.(*planner.StaticPlanner)
	require.True(t, ok, "expected the default static planner wiring placeholder")
}

func TestNew_WithPlannerOverridesDefault(t *testing.T) {
	custom := &planner.StaticPlanner{PlanResult: planner.Plan{PRDContent: "custom"}}
	a, err := New(testConfig(t), nil, WithPlanner(custom))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	require.Same(t, custom, a.Planner)
}

func TestNew_OnlyWebChannelWhenNoneConfigured(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	require.Len(t, a.channels, 1)
	require.Same(t, a.WebChannel, a.channels[0])
}

func TestNew_SkipsEnabledChannelWithoutToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.TokenEnv = "POCKETPAW_TEST_UNSET_TELEGRAM_TOKEN"

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	require.Len(t, a.channels, 1, "telegram channel should be skipped when its token env var is unset")
}

func TestNew_WiresEnabledChannelWithToken(t *testing.T) {
	t.Setenv("POCKETPAW_TEST_TELEGRAM_TOKEN", "fake-token")
	cfg := testConfig(t)
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.TokenEnv = "POCKETPAW_TEST_TELEGRAM_TOKEN"

	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	require.Len(t, a.channels, 2)
}

func TestApp_StartShutdown(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, a.Shutdown(shutdownCtx))
}

func TestApp_HandlerServesAPIRoutes(t *testing.T) {
	a, err := New(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Store.Close() })

	require.NotNil(t, a.Handler())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mission-control/projects", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
