package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/symgraph/pkg/errors"
	"github.com/matzehuels/symgraph/pkg/graph"
	"github.com/matzehuels/symgraph/pkg/observability"
	"github.com/matzehuels/symgraph/pkg/pkgkey"
	"github.com/matzehuels/symgraph/pkg/registry"
)

// fanout enqueues every dependency whose status is still unknown, at most
// FanoutConcurrency at a time. Errors are logged and swallowed. It returns
// the number of keys enqueued.
func (o *Orchestrator) fanout(ctx context.Context, r *run, deps []graph.Dependency, logger *log.Logger) int {
	var g errgroup.Group
	g.SetLimit(o.cfg.FanoutConcurrency)

	var enqueued atomic.Int64
	for _, d := range deps {
		if d.Version == "" {
			continue
		}
		key, err := pkgkey.New(d.Ecosystem, d.Name, d.Version)
		if err != nil {
			logger.Debug("skipping dependency with invalid key", "dependency", d.Name, "error", err)
			continue
		}
		g.Go(func() error {
			if o.enqueueDependency(ctx, key, logger) {
				enqueued.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(enqueued.Load())
	observability.Pipeline().OnFanout(ctx, r.key.String(), len(deps), n)
	if n > 0 {
		logger.Info("enqueued dependencies", "count", n)
	}
	return n
}

func (o *Orchestrator) enqueueDependency(ctx context.Context, key pkgkey.Key, logger *log.Logger) bool {
	rec, err := o.cfg.Registry.GetStatus(ctx, key)
	if err != nil {
		logger.Warn("could not read dependency status", "dependency", key, "error", err)
		return false
	}
	if rec.Status != registry.StatusUnknown {
		return false
	}
	marked, err := o.cfg.Registry.MarkProcessingIfUnknown(ctx, key, registry.StepQueued)
	if err != nil || !marked {
		return false
	}
	if err := o.cfg.Enqueuer.Enqueue(ctx, key); err != nil {
		logger.Warn("could not enqueue dependency", "dependency", key, "error", err)
		rec := registry.Failed(errors.Wrap(errors.ErrCodeResourceLimit, err, "not scheduled"))
		_ = o.cfg.Registry.SetStatus(context.WithoutCancel(ctx), key, rec)
		return false
	}
	return true
}
