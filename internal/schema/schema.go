// Package schema implements the Schema Reconciler: for each configured
// bucket, bring the remote's schema to the desired state or fail with a
// terminal error describing why it cannot be done safely.
package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

// Reconciler drives the per-bucket load/create/compare/update algorithm.
type Reconciler struct {
	client storeclient.Client
	logger *zap.Logger
}

// New constructs a Reconciler bound to a storage client.
func New(client storeclient.Client, logger *zap.Logger) *Reconciler {
	return &Reconciler{client: client, logger: logger}
}

// ReconcileAll walks every configured model in sorted order, reconciling
// its bucket. The pass stops at the first error of any kind; every pass is
// idempotent, so a restarted pass after a transient failure is safe.
func (r *Reconciler) ReconcileAll(ctx context.Context, cfg *bucketsconfig.Config) error {
	for _, model := range cfg.ModelNames() {
		spec, _ := cfg.Spec(model)
		if err := r.reconcileOne(ctx, spec); err != nil {
			return fmt.Errorf("reconciling bucket %q (model %q): %w", spec.Name, model, err)
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, spec bucketsconfig.BucketSpec) error {
	current, err := r.client.GetBucket(ctx, spec.Name)
	if err != nil {
		if bucketserr.HasKind(err, bucketserr.KindBucketNotFound) {
			r.logger.Info("bucket absent, creating", zap.String("bucket", spec.Name))
			return r.client.CreateBucket(ctx, spec.Name, spec.Schema)
		}
		return err
	}

	oldV := current.Schema.Options.Version
	newV := spec.Schema.Options.Version

	switch {
	case newV == oldV:
		return r.compareSameVersion(spec.Name, current.Schema, spec.Schema)
	case newV > oldV:
		return r.applyUpgrade(ctx, spec.Name, current.Schema, spec.Schema)
	default:
		r.logger.Info("desired schema version is behind remote, leaving remote unchanged",
			zap.String("bucket", spec.Name),
			zap.Int("remote_version", oldV),
			zap.Int("desired_version", newV),
		)
		return nil
	}
}

func (r *Reconciler) compareSameVersion(bucket string, remote, desired storeclient.Schema) error {
	if fingerprint(normalize(remote)) == fingerprint(normalize(desired)) {
		return nil
	}
	return bucketserr.Newf(bucketserr.KindSchemaChangesSameVersion,
		"bucket %q: schema differs at version %d without a version bump", bucket, desired.Options.Version)
}

func (r *Reconciler) applyUpgrade(ctx context.Context, bucket string, remote, desired storeclient.Schema) error {
	removed := removedKeys(remote.Index, desired.Index)
	if len(removed) > 0 {
		return bucketserr.Newf(bucketserr.KindInvalidIndexesRemoval,
			"bucket %q: update would remove indexes %v", bucket, removed)
	}
	r.logger.Info("updating bucket schema",
		zap.String("bucket", bucket),
		zap.Int("from_version", remote.Options.Version),
		zap.Int("to_version", desired.Options.Version),
	)
	return r.client.UpdateBucket(ctx, bucket, desired)
}

// normalize applies the defaults described in §4.3: Options defaults to
// version 0, Pre/Post default to empty, and any remote-only fields (name,
// mtime) are not part of Schema to begin with, so there is nothing to drop
// here beyond the slice defaults.
func normalize(s storeclient.Schema) storeclient.Schema {
	out := s
	if out.Pre == nil {
		out.Pre = []string{}
	}
	if out.Post == nil {
		out.Post = []string{}
	}
	return out
}

// fingerprint computes a stable, order-independent checksum of a
// normalized schema so the same-version structural comparison has a
// comparable identity across runs instead of depending on map iteration
// order.
func fingerprint(s storeclient.Schema) uint64 {
	fields := make([]string, 0, len(s.Index))
	for name, def := range s.Index {
		fields = append(fields, fmt.Sprintf("%s:%s", name, def.Type))
	}
	sort.Strings(fields)

	h := xxhash.New()
	for _, f := range fields {
		_, _ = h.WriteString(f)
		_, _ = h.WriteString("\x00")
	}
	_, _ = h.WriteString(fmt.Sprintf("v=%d\x00", s.Options.Version))
	for _, p := range s.Pre {
		_, _ = h.WriteString("pre:" + p + "\x00")
	}
	for _, p := range s.Post {
		_, _ = h.WriteString("post:" + p + "\x00")
	}
	return h.Sum64()
}

func removedKeys(old, next map[string]storeclient.IndexField) []string {
	removed := make([]string, 0)
	for k := range old {
		if _, ok := next[k]; !ok {
			removed = append(removed, k)
		}
	}
	sort.Strings(removed)
	return removed
}
