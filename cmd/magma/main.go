// Command magma is a minimal music bot wiring the lavalink client to a
// Discord gateway session. It registers the configured audio nodes, forwards
// voice events, and serves health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/initzx/magma/internal/config"
	"github.com/initzx/magma/internal/health"
	"github.com/initzx/magma/internal/observe"
	"github.com/initzx/magma/pkg/lavalink"
	lldiscord "github.com/initzx/magma/pkg/lavalink/discord"
)

// nodeConnectTimeout bounds the initial handshake per node so a dead node
// cannot stall startup; reconnects after that are unbounded.
const nodeConnectTimeout = 30 * time.Second

var logLevel = &slog.LevelVar{}

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "magma: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "magma: %v\n", err)
		}
		return 1
	}

	slog.SetDefault(newLogger(cfg.Server.LogLevel))
	slog.Info("magma starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"nodes", len(cfg.Nodes),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownObserve, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "magma"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObserve(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Discord session ───────────────────────────────────────────────────────
	session, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		slog.Error("failed to create Discord session", "err", err)
		return 1
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	session.ShardCount = cfg.Discord.ShardCount

	if err := session.Open(); err != nil {
		slog.Error("failed to open Discord gateway", "err", err)
		return 1
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Warn("discord session close error", "err", err)
		}
	}()

	me, err := session.User("@me")
	if err != nil {
		slog.Error("failed to resolve bot identity", "err", err)
		return 1
	}
	userID, err := strconv.ParseInt(me.ID, 10, 64)
	if err != nil {
		slog.Error("bot user id is not a snowflake", "id", me.ID, "err", err)
		return 1
	}
	slog.Info("discord gateway connected", "user", me.Username, "user_id", me.ID)

	// ── Lavalink client ───────────────────────────────────────────────────────
	client := lavalink.New(userID, cfg.Discord.ShardCount, lldiscord.NewGateway(session))
	detach := lldiscord.Attach(session, client)
	defer detach()

	checkers := make([]health.Checker, 0, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		node := addNode(ctx, client, nc)
		if node != nil {
			checkers = append(checkers, health.NodeChecker(node))
		}
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(ctx, client, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP: health + metrics ────────────────────────────────────────────────
	var httpServer *http.Server
	if cfg.Server.ListenAddr != "" {
		h := health.New(checkers...)
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", h.Healthz)
		mux.HandleFunc("/readyz", h.Readyz)
		mux.Handle("/metrics", promhttp.Handler())

		httpServer = &http.Server{Addr: cfg.Server.ListenAddr, Handler: mux}
		go func() {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "err", err)
			}
		}()
	}

	slog.Info("magma ready, press Ctrl+C to shut down")
	<-ctx.Done()
	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown error", "err", err)
		}
	}
	if err := client.Close(shutdownCtx); err != nil {
		slog.Warn("lavalink client close error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// addNode registers one configured node, bounding the initial handshake.
// The node stays registered even when the handshake fails; the health
// endpoint reports it as not ready.
func addNode(ctx context.Context, client *lavalink.Client, nc config.NodeConfig) *lavalink.Node {
	connectCtx, cancel := context.WithTimeout(ctx, nodeConnectTimeout)
	defer cancel()

	node, err := client.AddNode(connectCtx, nc.Name, nc.WSURI(), nc.RestURI(), nc.Password)
	if err != nil {
		slog.Error("node registration failed", "node", nc.Name, "err", err)
	}
	return node
}

// applyConfigChange hot-applies a reloaded config: log level changes take
// effect immediately, added nodes are registered. Removed or modified nodes
// require a restart and are only reported.
func applyConfigChange(ctx context.Context, client *lavalink.Client, diff config.ConfigDiff) {
	if diff.LogLevelChanged {
		setLevel(diff.NewLogLevel)
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}
	for _, nd := range diff.NodeChanges {
		switch {
		case nd.Added:
			slog.Info("adding node from reloaded config", "node", nd.Name)
			addNode(ctx, client, nd.Node)
		case nd.Removed:
			slog.Warn("node removed from config; restart required to drop it", "node", nd.Name)
		case nd.Changed:
			slog.Warn("node settings changed; restart required to apply", "node", nd.Name)
		}
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	setLevel(level)
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func setLevel(level config.LogLevel) {
	switch level {
	case config.LogDebug:
		logLevel.Set(slog.LevelDebug)
	case config.LogWarn:
		logLevel.Set(slog.LevelWarn)
	case config.LogError:
		logLevel.Set(slog.LevelError)
	default:
		logLevel.Set(slog.LevelInfo)
	}
}
