package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentbridge/internal/agent"
	"github.com/haasonsaas/agentbridge/internal/agent/providers"
	"github.com/haasonsaas/agentbridge/internal/bridge"
	"github.com/haasonsaas/agentbridge/internal/channels"
	"github.com/haasonsaas/agentbridge/internal/channels/discord"
	"github.com/haasonsaas/agentbridge/internal/channels/slack"
	"github.com/haasonsaas/agentbridge/internal/channels/telegram"
	"github.com/haasonsaas/agentbridge/internal/config"
	"github.com/haasonsaas/agentbridge/internal/observability"
	"github.com/haasonsaas/agentbridge/internal/sessions"
	"github.com/haasonsaas/agentbridge/internal/tools/files"
	"github.com/haasonsaas/agentbridge/internal/tools/memory"
	"github.com/haasonsaas/agentbridge/pkg/models"
)

// app holds the process-wide collaborators shared by every bridge.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer

	store   sessions.Store
	guard   *sessions.LeaseGuard
	catalog *agent.Catalog
	engine  *agent.Engine

	shutdownTracer func(context.Context) error
}

// newApp opens the store and builds the engine described by cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
	}

	tracer, shutdown, err := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceVersion: version,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		return nil, err
	}
	a.tracer, a.shutdownTracer = tracer, shutdown

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.store = store

	catalog, err := agent.NewCatalog(cfg.AgentModels())
	if err != nil {
		_ = a.close(ctx)
		return nil, fmt.Errorf("build agent catalog: %w", err)
	}
	a.catalog = catalog

	set, err := buildProviders(cfg.Providers)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	registry, err := a.buildTools()
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}

	engineCfg := agent.EngineConfig{
		Store:         store,
		Tools:         registry,
		Providers:     set,
		Agents:        catalog,
		MaxIterations: cfg.Engine.MaxIterations,
		Logger:        logger,
		Tracer:        tracer.Tracer(),
		Metrics:       a.metrics,
	}
	if sqlStore, ok := store.(*sessions.SQLStore); ok {
		leaseCfg := sessions.DefaultLeaseGuardConfig()
		leaseCfg.OwnerID = ownerID()
		leaseCfg.TTL = cfg.Database.LeaseTTL
		if leaseCfg.RefreshInterval >= leaseCfg.TTL {
			leaseCfg.RefreshInterval = leaseCfg.TTL / 4
		}
		leaseCfg.Logger = logger
		guard, err := sessions.NewLeaseGuard(sqlStore, leaseCfg)
		if err != nil {
			_ = a.close(ctx)
			return nil, err
		}
		a.guard = guard
		engineCfg.Guard = guard
	}

	engine, err := agent.NewEngine(engineCfg)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func openStore(ctx context.Context, db config.DatabaseConfig) (sessions.Store, error) {
	if db.Driver == config.DriverMemory {
		return sessions.NewMemoryStore(), nil
	}
	sqlCfg := sessions.DefaultSQLConfig(db.Driver, db.DSN)
	if db.MaxOpenConns > 0 {
		sqlCfg.MaxOpenConns = db.MaxOpenConns
		if sqlCfg.MaxIdleConns > db.MaxOpenConns {
			sqlCfg.MaxIdleConns = db.MaxOpenConns
		}
	}
	store, err := sessions.Open(ctx, sqlCfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", db.Driver, err)
	}
	return store, nil
}

func buildProviders(cfgs map[string]config.ProviderConfig) (agent.ProviderSet, error) {
	set := make(agent.ProviderSet, len(cfgs))
	for name, p := range cfgs {
		switch p.Type {
		case config.ProviderAnthropic:
			provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				Name:    name,
				BaseURL: p.BaseURL,
				APIKey:  p.APIKey,
				Version: p.AnthropicVersion,
				Timeout: p.Timeout,
			})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}
			set[name] = provider
		default:
			set[name] = providers.NewOpenAIProvider(providers.OpenAIConfig{
				Name:    name,
				BaseURL: p.BaseURL,
				APIKey:  p.APIKey,
				Timeout: p.Timeout,
			})
		}
	}
	return set, nil
}

func (a *app) buildTools() (*agent.ToolRegistry, error) {
	opts := []agent.RegistryOption{agent.WithToolObserver(a.metrics.ToolInvoked)}
	if a.cfg.Engine.HideUntaggedTools {
		opts = append(opts, agent.WithUntaggedHidden())
	}
	registry := agent.NewToolRegistry(opts...)

	var memStore memory.Store = memory.NewMemoryStore()
	if sqlStore, ok := a.store.(*sessions.SQLStore); ok {
		s, err := memory.NewSQLStore(sqlStore.DB(), sqlStore.Driver())
		if err != nil {
			return nil, err
		}
		memStore = s
	}
	descriptors, err := memory.Tools(memory.Config{Store: memStore})
	if err != nil {
		return nil, err
	}

	if root := a.cfg.Tools.WorkspaceRoot; root != "" {
		ws, err := files.NewWorkspace(files.Config{WorkspaceRoot: root})
		if err != nil {
			return nil, fmt.Errorf("file tools: %w", err)
		}
		fileTools, err := ws.Tools()
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, fileTools...)
	}

	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", d.Name, err)
		}
	}
	return registry, nil
}

// newBridge wires adapter to the shared engine and store.
func (a *app) newBridge(adapter channels.Adapter) (*bridge.Bridge, error) {
	return bridge.New(bridge.Config{
		Adapter: adapter,
		Engine:  a.engine,
		Store:   a.store,
		Agents:  a.catalog,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

// buildAdapter creates the adapter for one of the network channels.
func buildAdapter(channel models.ChannelType, cfg config.ChannelsConfig, logger *slog.Logger) (channels.Adapter, error) {
	switch channel {
	case models.ChannelTelegram:
		adapter, err := telegram.NewAdapter(telegram.Config{Token: cfg.Telegram.Token, Logger: logger})
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case models.ChannelDiscord:
		adapter, err := discord.NewAdapter(discord.Config{
			Token:         cfg.Discord.Token,
			ApplicationID: cfg.Discord.ApplicationID,
			GuildID:       cfg.Discord.GuildID,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return adapter, nil
	case models.ChannelSlack:
		adapter, err := slack.NewAdapter(slack.Config{
			BotToken: cfg.Slack.BotToken,
			AppToken: cfg.Slack.AppToken,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("channel %s has no network adapter", channel)
	}
}

// close releases the store, the lease guard, and the tracer.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.guard != nil {
		errs = append(errs, a.guard.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.shutdownTracer != nil {
		errs = append(errs, a.shutdownTracer(ctx))
	}
	return errors.Join(errs...)
}

func ownerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "agentbridge"
	}
	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
}
