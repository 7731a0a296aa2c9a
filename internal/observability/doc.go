// Package observability provides the manager's Prometheus metrics and
// OpenTelemetry tracing, wired into the cycle handler's RunCycle/
// dispatchToolRequest path and the Guardian's violation reviews.
//
// Metrics is constructed once in manager.New and passed through cycle.Deps;
// a nil Tracer endpoint (the default) falls back to OpenTelemetry's
// no-op global provider, so every call site here is safe to leave in place
// in binaries that never configure an OTLP collector.
//
//	tracer, shutdown := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "hivemind",
//	    Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
//	})
//	defer shutdown(context.Background())
//
//	metrics := observability.NewMetrics()
//	// mount promhttp.Handler() on /metrics from whatever transport adapter
//	// the embedding binary runs; see the teacher's internal/gateway for
//	// that pattern. hivemindd's stdin "chat" surface deliberately has no
//	// HTTP listener of its own (transport is an external collaborator, see
//	// cmd/hivemindd/main.go), so metrics accumulate against the default
//	// registry unexposed until an embedding binary mounts promhttp.Handler.
package observability
