package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/agentbridge/internal/bridge"
	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/channels/console"
	"github.com/haasonsaas/agentbridge/internal/config"
	"github.com/haasonsaas/agentbridge/internal/observability"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

const shutdownTimeout = 10 * time.Second

// runServe implements the serve command: one bridge per enabled channel,
// running until a shutdown signal arrives or every bridge has finished.
func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	logger.Info("starting agentbridge",
		"version", version,
		"commit", commit,
		"config", configPath,
		"database", cfg.Database.Driver,
		"agents", len(cfg.Agents),
	)

	enabled := cfg.EnabledChannels()
	if len(enabled) == 0 {
		return errors.New("no channels enabled")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if err := a.close(closeCtx); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	var metricsServer *observability.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = observability.NewServer(cfg.Server.MetricsAddr, a.metrics, logger)
		if _, err := metricsServer.Start(); err != nil {
			return err
		}
	}

	registry := channels.NewRegistry()
	bridges := make([]*bridge.Bridge, 0, len(enabled))
	done := make(chan struct{}, len(enabled))
	startErr := func() error {
		for _, channel := range enabled {
			var adapter channels.Adapter
			if channel == models.ChannelConsole {
				adapter = console.NewAdapter(console.Config{Logger: logger})
			} else {
				adapter, err = buildAdapter(channel, cfg.Channels, logger)
				if err != nil {
					return fmt.Errorf("build %s adapter: %w", channel, err)
				}
			}
			if err := registry.Register(adapter); err != nil {
				return err
			}
		}
		for _, adapter := range registry.All() {
			b, err := a.newBridge(adapter)
			if err != nil {
				return err
			}
			if err := b.Start(ctx); err != nil {
				return err
			}
			bridges = append(bridges, b)
			channel := adapter.Name()
			go func() {
				if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("bridge stopped unexpectedly", "channel", string(channel), "error", err)
				}
				done <- struct{}{}
			}()
		}
		return nil
	}()

	if startErr == nil {
		logger.Info("agentbridge started", "channels", len(bridges))
		waitForBridges(ctx, done, len(bridges))
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	stopBridges(shutdownCtx, bridges, logger)
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to stop metrics server", "error", err)
		}
	}
	return startErr
}

// waitForBridges blocks until ctx is done or n bridges have finished.
func waitForBridges(ctx context.Context, done <-chan struct{}, n int) {
	for finished := 0; finished < n; {
		select {
		case <-ctx.Done():
			return
		case <-done:
			finished++
		}
	}
}

func stopBridges(ctx context.Context, bridges []*bridge.Bridge, logger *slog.Logger) {
	for _, b := range bridges {
		if err := b.Stop(ctx); err != nil {
			logger.Warn("failed to stop bridge", "error", err)
		}
	}
}
