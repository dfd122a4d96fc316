// Package observability builds the process logger, the Prometheus metrics
// registry, and the OpenTelemetry tracer used by agentbridge.
//
// Metrics implements the measurement interfaces of the engine, the tool
// registry, and the bridge, so one value can be handed to each of them:
//
//	metrics := observability.NewMetrics()
//	engine, _ := agent.NewEngine(agent.EngineConfig{Metrics: metrics, ...})
//	tools := agent.NewToolRegistry(agent.WithToolObserver(metrics.ToolInvoked))
//
// Logs are written through log/slog. Values that look like API keys or
// bearer tokens are redacted before they reach the handler.
package observability
