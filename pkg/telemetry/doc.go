// Package telemetry provides the observability plumbing for convergo.
//
// It combines three pieces:
//
//  1. Structured logging with zerolog, with component child loggers and
//     context propagation.
//  2. Prometheus metrics for operations and manager steps. Because convergo
//     is a short-lived CLI, metrics are not served over HTTP; they are written
//     to a node-exporter textfile when the process finishes.
//  3. OpenTelemetry spans around operations and manager steps, exported to
//     stdout or an OTLP collector.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.New(cfg, os.Stderr)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx, span := tel.Tracer.StartOperationSpan(ctx, "build")
//	defer span.End()
//
// Packages that only log accept a zerolog.Logger; use Logger.Zerolog to hand
// one out.
package telemetry
