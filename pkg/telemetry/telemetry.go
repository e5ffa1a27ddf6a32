package telemetry

import (
	"context"
	stderrors "errors"
	"io"
)

// Telemetry bundles the logger, tracer and metrics of one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Config  Config
}

// New builds telemetry from cfg, logging to out.
func New(cfg Config, out io.Writer) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  NewLogger(cfg.Logging, out),
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Config:  cfg,
	}, nil
}

// Shutdown flushes spans and writes the metrics textfile.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Tracer != nil {
		if ctx.Err() == nil && t.Config.Tracing.ExportTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, t.Config.Tracing.ExportTimeout)
			defer cancel()
		}
		errs = append(errs, t.Tracer.Shutdown(ctx))
	}
	if t.Metrics != nil {
		errs = append(errs, t.Metrics.WriteTextfile())
	}
	return stderrors.Join(errs...)
}
