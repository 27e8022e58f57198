package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/metrics"
	"github.com/ajitpratap0/porter/pkg/models"
)

// resolvePresence drives one missing-policy tracker per dataset, all
// datasets at once. Sources that cannot check presence treat every dataset as
// present. Datasets that end FAILED are returned as one error.
func (r *Runner) resolvePresence(ctx context.Context) (map[string]models.MissingState, error) {
	datasets := r.pipeline.Datasets
	states := make([]models.MissingState, len(datasets))
	failures := make([]error, len(datasets))

	pollable, ok := r.source.(core.Pollable)
	if !ok {
		r.logger.Debug("source cannot check datasets, assuming all present",
			zap.String("source", r.source.Name()))
	}

	var g errgroup.Group
	for i := range datasets {
		d := &datasets[i]
		g.Go(func() error {
			if !ok {
				states[i] = models.MissingState{Kind: models.StatePresent}
				return nil
			}
			states[i], failures[i] = r.checkPresence(ctx, pollable, d)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]models.MissingState, len(datasets))
	for i, d := range datasets {
		out[d.Name] = states[i]
	}
	return out, multierr.Combine(failures...)
}

func (r *Runner) checkPresence(ctx context.Context, pollable core.Pollable, d *models.Dataset) (models.MissingState, error) {
	policy := d.MissingPolicy()
	tracker := policy.Tracker()
	log := r.logger.With(zap.String("dataset", d.Name))

	state, err := tracker.Resolve(ctx, func(ctx context.Context) (bool, error) {
		found, err := pollable.Exists(ctx, d)
		if err == nil && !found && tracker.State().Kind == models.StatePolling {
			log.Info("dataset still missing, polling",
				zap.Int("attempt", tracker.State().Attempt),
				zap.Int("poll_count", policy.PollCount),
				zap.Duration("interval", policy.Interval()))
		}
		return found, err
	}, r.sleep)
	if err != nil {
		return state, errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to check dataset %q", d.Name))
	}
	metrics.DatasetMissing.WithLabelValues(state.Kind.String()).Inc()

	switch state.Kind {
	case models.StateFailed:
		return state, errors.New(errors.ErrorTypeDatasetMissing,
			fmt.Sprintf("dataset %q is missing (on_dataset_missing: %s)", d.Name, policy.Action)).
			WithDetail("history", fmt.Sprint(tracker.History()))
	case models.StateMissingExhausted:
		log.Warn("dataset is missing, skipping it", zap.String("action", string(policy.Action)))
	case models.StateResolved:
		log.Info("dataset appeared while polling", zap.Stringer("state", state))
	}
	return state, nil
}
