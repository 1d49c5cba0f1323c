// Package reindex implements the Reindex Driver: for each bucket, drive
// the remote's bounded "reindex up to N" operation to completion.
package reindex

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

// pageSize is the bounded page count requested per reindex call.
const pageSize = 100

// Driver drives reindexing for every configured bucket.
type Driver struct {
	client storeclient.Client
	logger *zap.Logger
}

// New constructs a Driver bound to a storage client.
func New(client storeclient.Client, logger *zap.Logger) *Driver {
	return &Driver{client: client, logger: logger}
}

// ReindexAll loops each configured bucket until the remote reports zero
// records processed. All errors returned here are transient by definition
// (§4.4); any error stops the current bucket's loop and is returned
// unclassified so the caller's Backoff Runner retries the whole phase.
func (d *Driver) ReindexAll(ctx context.Context, cfg *bucketsconfig.Config) error {
	for _, model := range cfg.ModelNames() {
		spec, _ := cfg.Spec(model)
		if err := d.reindexOne(ctx, spec.Name); err != nil {
			return fmt.Errorf("reindexing bucket %q (model %q): %w", spec.Name, model, err)
		}
	}
	return nil
}

func (d *Driver) reindexOne(ctx context.Context, bucket string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := d.client.ReindexObjects(ctx, bucket, pageSize)
		if err != nil {
			return err
		}
		if result.Processed == 0 {
			return nil
		}
		d.logger.Debug("reindexed page",
			zap.String("bucket", bucket),
			zap.Int("processed", result.Processed),
		)
	}
}
