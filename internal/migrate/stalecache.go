package migrate

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

// staleCacheDelay and staleCacheBudget implement §4.6's "stale schema-cache
// handling": a selection-only retry loop, driven by its own Clock rather
// than the generic Backoff Runner, because the Backoff Runner's classifier
// would flag InvalidQueryError as terminal for the data migration phase.
const (
	staleCacheDelay  = 10 * time.Second
	staleCacheBudget = 6 * time.Minute
)

// staleCacheRetrier retries a selection call that fails with
// InvalidQueryError — interpreted here as the remote's per-instance schema
// cache not yet having observed a recent schema bump — on a fixed delay,
// up to a bounded wall-clock budget. Once the budget is exhausted the
// error is returned as-is and becomes terminal at the normal classifier.
type staleCacheRetrier struct {
	clock  Clock
	delay  time.Duration
	budget time.Duration
	logger *zap.Logger
}

func newStaleCacheRetrier(clock Clock, logger *zap.Logger) *staleCacheRetrier {
	return &staleCacheRetrier{clock: clock, delay: staleCacheDelay, budget: staleCacheBudget, logger: logger}
}

func (r *staleCacheRetrier) selectWithRetry(ctx context.Context, model string, selectFn func() ([]storeclient.StoredRecord, error)) ([]storeclient.StoredRecord, error) {
	deadline := r.clock.Now().Add(r.budget)

	for {
		records, err := selectFn()
		if err == nil {
			return records, nil
		}
		if !bucketserr.HasKind(err, bucketserr.KindInvalidQuery) {
			return nil, err
		}
		if r.clock.Now().After(deadline) {
			r.logger.Warn("stale schema-cache retry budget exhausted", zap.String("model", model))
			return nil, err
		}
		r.logger.Debug("selection hit InvalidQueryError, assuming stale schema cache, retrying",
			zap.String("model", model),
			zap.Duration("delay", r.delay),
		)
		if sleepErr := r.clock.Sleep(ctx, r.delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
}
