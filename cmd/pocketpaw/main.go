// Command pocketpaw is the daemon entry point: it loads config.yaml,
// constructs an app.App, and serves the dashboard/integrations HTTP API
// until it receives SIGINT/SIGTERM. Full CLI parsing, --version's exact
// output format, and a browser-auto-open TUI are out of scope (spec §1);
// the few flags parsed here are the
// minimal wiring spec §6's "CLI surface" and SPEC_FULL.md's component map
// require to have a runnable binary, grounded on the teacher's
// cmd/goclaw/main.go bootstrap order (load config -> build logger -> open
// store/bus/collaborators -> bind listener -> serve -> drain on signal).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shabbark/pocketpaw/internal/app"
	"github.com/shabbark/pocketpaw/internal/config"
)

var version = "v0.1-dev"

const maxPortProbes = 10

func main() {
	os.Exit(run())
}

func run() int {
	telegram := flag.Bool("telegram", false, "enable the Telegram channel")
	discord := flag.Bool("discord", false, "enable the Discord channel")
	slack := flag.Bool("slack", false, "enable the Slack channel")
	whatsapp := flag.Bool("whatsapp", false, "enable the WhatsApp channel")
	port := flag.Int("port", 0, "bind port override (default: config.yaml's bind_addr, or 8888)")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("pocketpaw " + version)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pocketpaw: load config: %v\n", err)
		return 1
	}

	if *telegram {
		cfg.Channels.Telegram.Enabled = true
	}
	if *discord {
		cfg.Channels.Discord.Enabled = true
	}
	if *slack {
		cfg.Channels.Slack.Enabled = true
	}
	if *whatsapp {
		cfg.Channels.WhatsApp.Enabled = true
	}
	if *port != 0 {
		overridePort(&cfg, *port)
	}

	var levelVar slog.LevelVar
	levelVar.Set(parseLogLevel(cfg.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &levelVar}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}

	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable; config.yaml changes require a restart", "error", err)
	} else {
		go watchConfigReloads(watcher, &levelVar, logger)
	}

	ln, boundAddr, err := listenWithAutoPort(cfg.BindAddr, *port != 0)
	if err != nil {
		logger.Error("failed to bind listener", "addr", cfg.BindAddr, "error", err)
		return 1
	}
	logger.Info("pocketpaw listening", "addr", boundAddr)

	a.Start(ctx)

	server := &http.Server{Handler: a.Handler()}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}
	logger.Info("shutdown complete")
	return 0
}

// listenWithAutoPort binds cfg's address. When explicit is false (no --port
// flag given) and the port is already in use, it tries up to maxPortProbes
// consecutive ports in total, starting at the configured one (so the
// configured port plus the next maxPortProbes-1), matching spec §6's "auto-finds a free
// port if the default is busy".
func listenWithAutoPort(addr string, explicit bool) (net.Listener, string, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, "", fmt.Errorf("invalid bind_addr %q: %w", addr, err)
	}
	basePort, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, "", fmt.Errorf("invalid bind_addr port %q: %w", portStr, err)
	}

	attempts := 1
	if !explicit {
		attempts = maxPortProbes
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		candidate := net.JoinHostPort(host, strconv.Itoa(basePort+i))
		ln, err := net.Listen("tcp", candidate)
		if err == nil {
			return ln, candidate, nil
		}
		if !isAddrInUse(err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", fmt.Errorf("no free port found starting at %d: %w", basePort, lastErr)
}

func isAddrInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}

func overridePort(cfg *config.Config, port int) {
	host, _, err := net.SplitHostPort(cfg.BindAddr)
	if err != nil {
		host = "127.0.0.1"
	}
	cfg.BindAddr = net.JoinHostPort(host, strconv.Itoa(port))
}

func buildLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

func parseLogLevel(level string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// watchConfigReloads applies the one setting this process can safely change
// without a restart — log verbosity — whenever config.yaml changes on disk.
// Every other field (bind address, channel credentials, backend settings)
// requires re-wiring collaborators that own no "swap me live" seam, so those
// changes are logged but otherwise take effect on the next restart.
func watchConfigReloads(w *config.Watcher, levelVar *slog.LevelVar, logger *slog.Logger) {
	watchConfigReloadsFromChan(w.Events(), levelVar, logger)
}

func watchConfigReloadsFromChan(events <-chan config.ReloadEvent, levelVar *slog.LevelVar, logger *slog.Logger) {
	for ev := range events {
		if ev.Err != nil {
			continue
		}
		newLevel := parseLogLevel(ev.Config.LogLevel)
		if newLevel != levelVar.Level() {
			levelVar.Set(newLevel)
			logger.Info("applied reloaded log level", "level", newLevel.String())
		}
	}
}
