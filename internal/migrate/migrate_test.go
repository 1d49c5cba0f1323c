package migrate_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/loader"
	"github.com/artemis/bucketsinit/internal/migrate"
	"github.com/artemis/bucketsinit/internal/status"
	"github.com/artemis/bucketsinit/internal/storeclient"
	"github.com/artemis/bucketsinit/internal/storeclient/storeclienttest"
)

func seedRecords(t *testing.T, client *storeclienttest.Client, bucket string, n int, dataVersion *int) {
	t.Helper()
	prefix := "rec"
	if dataVersion != nil {
		prefix = fmt.Sprintf("rec-v%d", *dataVersion)
	}
	for i := 0; i < n; i++ {
		value := map[string]any{"foo": "foo"}
		if dataVersion != nil {
			value["data_version"] = *dataVersion
		}
		client.SeedRecord(bucket, storeclient.StoredRecord{
			Key:   fmt.Sprintf("%s-%d", prefix, i),
			Value: value,
			ETag:  "0",
		})
	}
}

func cfgFor(t *testing.T, model, bucket string) *bucketsconfig.Config {
	t.Helper()
	cfg, err := bucketsconfig.New(map[string]bucketsconfig.BucketSpec{
		model: {
			Name: bucket,
			Schema: storeclient.Schema{
				Index: map[string]storeclient.IndexField{
					"data_version": {Type: storeclient.IndexTypeNumber},
				},
				Options: storeclient.SchemaOptions{Version: 1},
			},
		},
	})
	require.NoError(t, err)
	return cfg
}

func versionOneModule() loader.Module {
	return loader.Module{
		Version: 1,
		Slug:    "set-bar",
		Migrate: func(rec loader.Record, _ loader.MigrateContext) *loader.Record {
			if v, ok := rec.Value["data_version"]; ok && v != nil {
				return nil
			}
			rec.Value["bar"] = rec.Value["foo"]
			rec.Value["data_version"] = 1
			return &rec
		},
	}
}

func registryWith(model string, mods ...loader.Module) *loader.Registry {
	reg := loader.NewRegistry()
	for _, m := range mods {
		reg.Register(model, m)
	}
	return reg
}

func TestController_MigratesAllRecordsAcrossMultipleChunks(t *testing.T) {
	// S5 (forward path): 2001 records, no data_version, migrated to v1.
	client := storeclienttest.New()
	const bucket = "b1"
	const model = "test_model"
	client.SeedBucket(bucket, storeclient.Schema{}, 1)
	seedRecords(t, client, bucket, 2001, nil)

	cfg := cfgFor(t, model, bucket)
	plan, err := buildPlan(t, model, cfg, versionOneModule())
	require.NoError(t, err)

	c := migrate.New(client, zap.NewNop(), nil)
	st := status.New("inst", status.NewBroadcaster())

	require.NoError(t, c.RunAll(context.Background(), plan, cfg, st))

	recs := client.Records(bucket)
	require.Len(t, recs, 2001)
	for _, r := range recs {
		assert.Equal(t, "foo", r.Value["bar"])
		assert.Equal(t, 1, r.Value["data_version"])
	}
	assert.Equal(t, 1, st.Snapshot().DataMigrations.Completed[model])
}

func TestController_TransientBatchFailureSurfacesAndRetryIsSafe(t *testing.T) {
	// S5: inject a transient batch failure, then clear it and re-run;
	// already-migrated records (none yet landed) are unaffected by the
	// version-based selection filter.
	client := storeclienttest.New()
	const bucket = "b1"
	const model = "test_model"
	client.SeedBucket(bucket, storeclient.Schema{}, 1)
	seedRecords(t, client, bucket, 5, nil)
	client.InjectFault("Batch", fmt.Errorf("Mocked transient error"), false)

	cfg := cfgFor(t, model, bucket)
	plan, err := buildPlan(t, model, cfg, versionOneModule())
	require.NoError(t, err)

	c := migrate.New(client, zap.NewNop(), nil)
	st := status.New("inst", status.NewBroadcaster())

	err = c.RunAll(context.Background(), plan, cfg, st)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mocked transient error")

	// retry after the fault clears
	require.NoError(t, c.RunAll(context.Background(), plan, cfg, st))
	recs := client.Records(bucket)
	for _, r := range recs {
		assert.Equal(t, 1, r.Value["data_version"])
	}
}

func TestController_NonTransientBatchFailurePropagates(t *testing.T) {
	// S6: a BucketNotFoundError from Batch must surface as-is so the
	// orchestrator's classifier treats it as terminal.
	client := storeclienttest.New()
	const bucket = "b1"
	const model = "test_model"
	client.SeedBucket(bucket, storeclient.Schema{}, 1)
	seedRecords(t, client, bucket, 5, nil)
	client.InjectFault("Batch", bucketserr.New(bucketserr.KindBucketNotFound, "bucket gone"), false)

	cfg := cfgFor(t, model, bucket)
	plan, err := buildPlan(t, model, cfg, versionOneModule())
	require.NoError(t, err)

	c := migrate.New(client, zap.NewNop(), nil)
	st := status.New("inst", status.NewBroadcaster())

	err = c.RunAll(context.Background(), plan, cfg, st)
	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindBucketNotFound))
}

func TestController_SelectionFilterSkipsAlreadyMigratedRecords(t *testing.T) {
	client := storeclienttest.New()
	const bucket = "b1"
	const model = "test_model"
	client.SeedBucket(bucket, storeclient.Schema{}, 1)

	already := 1
	seedRecords(t, client, bucket, 3, &already)
	seedRecords(t, client, bucket, 2, nil)

	cfg := cfgFor(t, model, bucket)
	plan, err := buildPlan(t, model, cfg, versionOneModule())
	require.NoError(t, err)

	c := migrate.New(client, zap.NewNop(), nil)
	st := status.New("inst", status.NewBroadcaster())

	require.NoError(t, c.RunAll(context.Background(), plan, cfg, st))

	migratedToOne := 0
	for _, r := range client.Records(bucket) {
		if v, ok := r.Value["data_version"].(int); ok && v == 1 {
			migratedToOne++
		}
	}
	assert.Equal(t, 5, migratedToOne)
}

func TestController_ParallelModelsBothComplete(t *testing.T) {
	// §8 property 7 (parallel fairness): a small model and a large model
	// both reach completion; the controller does not serialize them such
	// that one blocks indefinitely on the other.
	client := storeclienttest.New()
	client.SeedBucket("small_bucket", storeclient.Schema{}, 1)
	client.SeedBucket("large_bucket", storeclient.Schema{}, 1)
	seedRecords(t, client, "small_bucket", 10, nil)
	seedRecords(t, client, "large_bucket", 5000, nil)

	cfg, err := bucketsconfig.New(map[string]bucketsconfig.BucketSpec{
		"small_model": {Name: "small_bucket", Schema: storeclient.Schema{
			Index: map[string]storeclient.IndexField{"data_version": {Type: storeclient.IndexTypeNumber}},
		}},
		"large_model": {Name: "large_bucket", Schema: storeclient.Schema{
			Index: map[string]storeclient.IndexField{"data_version": {Type: storeclient.IndexTypeNumber}},
		}},
	})
	require.NoError(t, err)

	reg := loader.NewRegistry()
	reg.Register("small_model", versionOneModule())
	reg.Register("large_model", versionOneModule())
	plan := planFromRegistry(t, reg, cfg, "small_model", "large_model")

	c := migrate.New(client, zap.NewNop(), nil)
	st := status.New("inst", status.NewBroadcaster())

	require.NoError(t, c.RunAll(context.Background(), plan, cfg, st))

	snap := st.Snapshot()
	assert.Equal(t, 1, snap.DataMigrations.Completed["small_model"])
	assert.Equal(t, 1, snap.DataMigrations.Completed["large_model"])
}

// buildPlan constructs a single-model Plan by writing a matching one-file
// migration tree to a temp dir and running it through loader.LoadPlan
// against cfg.
func buildPlan(t *testing.T, model string, cfg *bucketsconfig.Config, mods ...loader.Module) (*loader.Plan, error) {
	t.Helper()
	reg := registryWith(model, mods...)
	return planFromRegistry(t, reg, cfg, model), nil
}

func planFromRegistry(t *testing.T, reg *loader.Registry, cfg *bucketsconfig.Config, models ...string) *loader.Plan {
	t.Helper()
	dir := t.TempDir()
	for _, model := range models {
		modelDir := filepath.Join(dir, model)
		require.NoError(t, os.MkdirAll(modelDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(modelDir, "001-init.go"), []byte("// stub"), 0o644))
	}
	plan, err := loader.LoadPlan(dir, reg, cfg)
	require.NoError(t, err)
	return plan
}
