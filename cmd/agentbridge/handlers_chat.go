package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentbridge/internal/channels/console"
	"github.com/haasonsaas/agentbridge/internal/config"
	"github.com/haasonsaas/agentbridge/internal/observability"
)

// runChat bridges standard input and output until end of input or
// cancellation. Logs go to standard error.
func runChat(cmd *cobra.Command, configPath, user string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Output:    cmd.ErrOrStderr(),
		AddSource: cfg.Logging.AddSource,
	})

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			logger.Warn("failed to release resources", "error", err)
		}
	}()

	adapter := console.NewAdapter(console.Config{
		In:     cmd.InOrStdin(),
		Out:    cmd.OutOrStdout(),
		User:   user,
		Prompt: "> ",
		Logger: logger,
	})
	b, err := a.newBridge(adapter)
	if err != nil {
		return err
	}
	if err := b.Start(ctx); err != nil {
		return err
	}

	runErr := b.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.Stop(stopCtx); err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
