package engine

import (
	"context"

	"github.com/openfroyo/convergo/pkg/errors"
	"github.com/openfroyo/convergo/pkg/manager"
	"github.com/openfroyo/convergo/pkg/stores"
	"github.com/openfroyo/convergo/pkg/telemetry"
)

// stepFunc performs one step against its manager.
type stepFunc func(ctx context.Context, m manager.Manager, s Step) error

// executor runs steps one at a time, recording each in the ledger, metrics
// and traces. The first failure stops the run; steps already done stay done.
type executor struct {
	managers ManagerProvider
	ledger   Ledger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
}

// load resolves every manager the steps need before anything runs, so a bad
// declaration fails the operation without touching the system.
func (x *executor) load(steps []Step) (map[string]manager.Manager, error) {
	loaded := make(map[string]manager.Manager, len(steps))
	for _, s := range steps {
		if _, ok := loaded[s.Manager]; ok {
			continue
		}
		m, err := x.managers.Get(s.Manager)
		if err != nil {
			return nil, err
		}
		loaded[s.Manager] = m
	}
	return loaded, nil
}

func (x *executor) run(ctx context.Context, runID string, steps []Step, call stepFunc) ([]StepResult, error) {
	loaded, err := x.load(steps)
	if err != nil {
		return nil, err
	}

	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := x.step(ctx, runID, loaded[s.Manager], s, call)
		results = append(results, res)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

func (x *executor) step(ctx context.Context, runID string, m manager.Manager, s Step, call stepFunc) (StepResult, error) {
	logger := telemetry.FromContext(ctx).WithManager(s.Manager).WithField("action", s.Action)

	ctx, span := x.tracer.StartStepSpan(ctx, s.Manager, s.Action, len(s.Items))
	timer := telemetry.NewTimer()

	rec, lerr := x.ledger.StartStep(ctx, runID, s.Manager, s.Action, s.Items)
	if lerr != nil {
		logger.WithError(lerr).Warn("Failed to record step start")
	}

	logger.WithField("items", s.Items).Infof("Running %s %s", s.Manager, s.Action)
	err := call(ctx, m, s)
	duration := timer.Duration()

	if rec != nil && rec.ID != "" {
		if lerr := x.ledger.FinishStep(ctx, rec.ID, err); lerr != nil {
			logger.WithError(lerr).Warn("Failed to record step result")
		}
	}
	telemetry.End(span, err)

	result := StepResult{Step: s, Duration: duration}
	if err != nil {
		result.Error = err.Error()
		x.metrics.RecordStep(s.Manager, s.Action, string(stores.StatusFailed), len(s.Items), duration)
		logger.WithError(err).WithField("duration", duration.String()).Error("Step failed")
		return result, err
	}

	x.metrics.RecordStep(s.Manager, s.Action, string(stores.StatusCompleted), len(s.Items), duration)
	logger.WithField("duration", duration.String()).Debug("Step completed")
	return result, nil
}

// applyStep dispatches add and remove steps.
func applyStep(ctx context.Context, m manager.Manager, s Step) error {
	switch s.Action {
	case manager.ActionAdd:
		return m.Add(ctx, s.Items)
	case manager.ActionRemove:
		return m.Remove(ctx, s.Items)
	case manager.ActionSync:
		return m.Sync(ctx)
	case manager.ActionUpgrade:
		return m.Upgrade(ctx)
	default:
		return errors.Newf(errors.KindInternal, "unknown action %q", s.Action).WithResource(s.Manager)
	}
}
