// Package app is pocketpaw's explicit application container. Spec §9's
// "Singletons" redesign flag replaces the original's module-level
// get_mission_control_manager()-style globals with one struct that owns
// every collaborator and is constructed fresh per process (or per test
// case). The one package-level mutable state in this tree is agentrouter's
// backend registry, which each backend fills from its init function.
//
// There is no single equivalent file in the teacher: goclaw wires its
// daemon directly in cmd/goclaw/main.go's func main. App extracts that
// wiring into a testable constructor, following the same dependency order
// main.go uses (store -> bus -> policy-equivalent manager -> executor ->
// scheduler -> channels -> gateway) but as an explicit struct instead of
// local variables in main.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/shabbark/pocketpaw/internal/api"
	"github.com/shabbark/pocketpaw/internal/bus"
	"github.com/shabbark/pocketpaw/internal/channels"
	"github.com/shabbark/pocketpaw/internal/config"
	"github.com/shabbark/pocketpaw/internal/executor"
	"github.com/shabbark/pocketpaw/internal/missioncontrol"
	"github.com/shabbark/pocketpaw/internal/planner"
	"github.com/shabbark/pocketpaw/internal/scheduler"
	"github.com/shabbark/pocketpaw/internal/session"
	"github.com/shabbark/pocketpaw/internal/store"
)

const (
	mediaMaxFileSizeMB  = 25
	staleAgentAfter     = 5 * time.Minute
	sweepSchedule       = "*/1 * * * *"
	shutdownDrainWindow = 5 * time.Second
)

// App owns every long-lived collaborator pocketpaw needs to run: storage,
// the bus, the mission-control layer, the executor/scheduler/session
// pipeline, channel adapters, and the HTTP API. Callers construct one per
// process with New, Start it, and Shutdown it on signal.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Store     *store.Store
	Bus       *bus.Bus
	Manager   *missioncontrol.Manager
	Sweeper   *missioncontrol.Sweeper
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler
	Session   *session.Session
	Planner   planner.Planner

	WebChannel *channels.WebChannel
	channels   []channels.Channel

	APIServer *api.Server
	mux       *chainedMux

	wg sync.WaitGroup
}

// Option customizes New's wiring, primarily for tests that want to inject a
// fake Planner instead of the static wiring placeholder.
type Option func(*options)

type options struct {
	planner planner.Planner
}

// WithPlanner overrides the default planner.StaticPlanner wiring placeholder
// (see internal/planner/static.go) with plan.
func WithPlanner(plan planner.Planner) Option {
	return func(o *options) { o.planner = plan }
}

// New wires a complete App from cfg. It opens the SQLite store at
// cfg.HomeDir/pocketpaw.db (creating it on first run), and constructs every
// collaborator in the dependency order the teacher's main.go establishes:
// store, bus, mission-control manager, executor, scheduler, session, the
// enabled channel adapters, and the HTTP API.
func New(cfg config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.planner == nil {
		o.planner = &planner.StaticPlanner{}
	}

	dbPath := filepath.Join(cfg.HomeDir, "pocketpaw.db")
	st, err := store.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}

	eventBus := bus.New(logger)
	mgr := missioncontrol.New(st, eventBus, cfg.HomeDir)

	sweeper, err := missioncontrol.NewSweeper(mgr, sweepSchedule, staleAgentAfter, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("app: build sweeper: %w", err)
	}

	backendSettings := executor.BackendSettings{
		AnthropicAPIKey: cfg.Backends.Anthropic.APIKey(),
		AnthropicModel:  cfg.Backends.Anthropic.Model,
		OpenAIAPIKey:    cfg.Backends.OpenAI.APIKey(),
		OpenAIModel:     cfg.Backends.OpenAI.Model,
		BaseURL:         cfg.Backends.OpenAI.BaseURL,
	}
	exec := executor.New(mgr, st, eventBus, backendSettings, logger)

	humans := newBusHumanRouter(eventBus)
	sched := scheduler.New(st, mgr, eventBus, exec, humans, logger)
	sess := session.New(mgr, st, sched, o.planner)

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Bus:       eventBus,
		Manager:   mgr,
		Sweeper:   sweeper,
		Executor:  exec,
		Scheduler: sched,
		Session:   sess,
		Planner:   o.planner,
	}

	a.WebChannel = channels.NewWebChannel(eventBus, logger)
	a.channels = append(a.channels, a.WebChannel)

	if err := a.wireConfiguredChannels(); err != nil {
		_ = st.Close()
		return nil, err
	}

	a.APIServer = api.New(api.Config{
		Store:        st,
		Manager:      mgr,
		Scheduler:    sched,
		Session:      sess,
		Bus:          eventBus,
		AllowOrigins: cfg.AllowOrigins,
		Logger:       logger,
	})
	a.mux = newChainedMux(a.APIServer, a.WebChannel)

	return a, nil
}

// wireConfiguredChannels constructs one adapter per enabled entry under
// cfg.Channels, sharing a single MediaDownloader (spec §4.C) across all of
// them.
func (a *App) wireConfiguredChannels() error {
	cfg := a.Config
	downloader := channels.NewMediaDownloader(filepath.Join(cfg.HomeDir, "media"), mediaMaxFileSizeMB)

	if cfg.Channels.Telegram.Enabled {
		if cfg.Channels.Telegram.Token() == "" {
			a.Logger.Warn("telegram channel enabled but token is missing; skipping")
		} else {
			a.channels = append(a.channels, channels.NewTelegramChannel(
				cfg.Channels.Telegram.Token(),
				cfg.Channels.Telegram.AllowedIDs,
				a.Bus,
				downloader,
				a.Logger,
			))
		}
	}
	if cfg.Channels.Discord.Enabled {
		if cfg.Channels.Discord.Token() == "" {
			a.Logger.Warn("discord channel enabled but webhook token is missing; skipping")
		} else {
			a.channels = append(a.channels, channels.NewDiscordChannel(cfg.Channels.Discord.Token(), a.Bus, a.Logger))
		}
	}
	if cfg.Channels.Slack.Enabled {
		if cfg.Channels.Slack.BotToken() == "" {
			a.Logger.Warn("slack channel enabled but bot token is missing; skipping")
		} else {
			a.channels = append(a.channels, channels.NewSlackChannel(cfg.Channels.Slack.BotToken(), a.Bus, downloader, a.Logger))
		}
	}
	if cfg.Channels.WhatsApp.Enabled {
		if cfg.Channels.WhatsApp.Token() == "" {
			a.Logger.Warn("whatsapp channel enabled but access token is missing; skipping")
		} else {
			a.channels = append(a.channels, channels.NewWhatsAppChannel(
				cfg.Channels.WhatsApp.PhoneNumber,
				cfg.Channels.WhatsApp.Token(),
				a.Bus,
				downloader,
				a.Logger,
			))
		}
	}
	return nil
}

// Handler returns the combined HTTP handler: the api.Server's REST/dashboard
// routes plus the web chat channel's websocket endpoint.
func (a *App) Handler() *chainedMux {
	return a.mux
}

// Start launches the sweeper and every channel adapter's background loop.
// It returns immediately; Shutdown blocks until every loop has exited.
func (a *App) Start(ctx context.Context) {
	a.Sweeper.Start(ctx)

	for _, ch := range a.channels {
		ch := ch
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if err := ch.Start(ctx); err != nil {
				a.Logger.Error("channel exited with error", "channel", ch.Name(), "error", err)
			}
		}()
	}
}

// Shutdown stops the sweeper and every channel adapter, then closes the
// store. ctx bounds how long channel Stop calls may take.
func (a *App) Shutdown(ctx context.Context) error {
	a.Sweeper.Stop()

	for _, ch := range a.channels {
		if err := ch.Stop(); err != nil {
			a.Logger.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}

	drained := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		a.Logger.Warn("channel shutdown drain timed out")
	}

	return a.Store.Close()
}

// ShutdownWithDefaultTimeout calls Shutdown with pocketpaw's default drain
// window, the same fixed fallback the teacher's main.go uses when
// cfg.DrainTimeoutSeconds isn't set.
func (a *App) ShutdownWithDefaultTimeout() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainWindow)
	defer cancel()
	return a.Shutdown(ctx)
}
