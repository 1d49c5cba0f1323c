// Package migrate implements the Migration Controller: for every model
// with a configured migration plan, run its migrations in version order,
// streaming records in bounded chunks, transforming them, and writing
// batches back with optimistic concurrency.
package migrate

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/loader"
	"github.com/artemis/bucketsinit/internal/status"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

// Controller drives data migrations for every model in a Plan.
type Controller struct {
	client  storeclient.Client
	logger  *zap.Logger
	clock   Clock
	retrier *staleCacheRetrier
	metrics *Metrics
}

// New constructs a Controller. clock defaults to the real wall clock when
// nil, which is always the case outside tests.
func New(client storeclient.Client, logger *zap.Logger, clock Clock) *Controller {
	if clock == nil {
		clock = RealClock()
	}
	return &Controller{
		client:  client,
		logger:  logger,
		clock:   clock,
		retrier: newStaleCacheRetrier(clock, logger),
		metrics: newMetrics(),
	}
}

// RunAll spawns one worker per model with a configured migration sequence
// and waits for all to finish. The first worker to return an error
// cancels the shared context so sibling workers stop spawning new chunk
// iterations promptly; already-landed writes from peer models are never
// rolled back, and their completed versions stay recorded in st.
func (c *Controller) RunAll(ctx context.Context, plan *loader.Plan, cfg *bucketsconfig.Config, st *status.Status) error {
	models := plan.Models()
	if len(models) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, model := range models {
		model := model
		spec, ok := cfg.Spec(model)
		if !ok {
			return fmt.Errorf("model %q has a migration plan but no bucket configuration entry", model)
		}
		g.Go(func() error {
			err := c.runModel(gctx, model, spec.Name, plan.Modules(model), st)
			if err != nil {
				st.SetMigrationLatestError(model, err)
			} else {
				st.SetMigrationLatestError(model, nil)
			}
			return err
		})
	}

	return g.Wait()
}

func (c *Controller) runModel(ctx context.Context, model, bucket string, modules []loader.Module, st *status.Status) error {
	for _, m := range modules {
		if err := c.runModule(ctx, model, bucket, m); err != nil {
			return fmt.Errorf("migrating model %q to version %d: %w", model, m.Version, err)
		}
		st.SetMigrationCompleted(model, m.Version)
	}
	return nil
}

func (c *Controller) runModule(ctx context.Context, model, bucket string, m loader.Module) error {
	filter := selectionFilter(m.Version)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, err := c.retrier.selectWithRetry(ctx, model, func() ([]storeclient.StoredRecord, error) {
			return c.client.FindObjects(ctx, bucket, filter)
		})
		if err != nil {
			return err
		}

		if len(records) == 0 {
			return nil
		}

		ops := make([]storeclient.BatchOperation, 0, len(records))
		for _, rec := range records {
			migrated := m.Migrate(loader.Record{Key: rec.Key, Value: rec.Value}, loader.MigrateContext{
				Log: func(msg string, fields ...any) {
					c.logger.Sugar().Debugw(msg, fields...)
				},
			})
			if migrated == nil {
				// Falsy return means "already migrated, skip" (open question 2).
				continue
			}
			ops = append(ops, storeclient.BatchOperation{
				Bucket: bucket,
				Key:    rec.Key, // carried through from the read, never derived (open question 1)
				Value:  migrated.Value,
				ETag:   rec.ETag,
			})
		}

		if len(ops) > 0 {
			if err := c.client.Batch(ctx, ops); err != nil {
				return err
			}
			c.metrics.chunksMigrated.WithLabelValues(model).Inc()
			c.metrics.recordsMigrated.WithLabelValues(model).Add(float64(len(ops)))
		}

		// Yield to the scheduler so sibling model migrations interleave,
		// per §4.6 parallelism and §5's fairness requirement.
		runtime.Gosched()
	}
}

func selectionFilter(version int) storeclient.Filter {
	if version <= 1 {
		return storeclient.MissingDataVersionFilter()
	}
	return storeclient.EqualsOrMissingDataVersionFilter(version - 1)
}
