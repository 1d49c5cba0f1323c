package schema_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/schema"
	"github.com/artemis/bucketsinit/internal/storeclient"
	"github.com/artemis/bucketsinit/internal/storeclient/storeclienttest"
)

func newCfg(t *testing.T, model, bucket string, spec storeclient.Schema) *bucketsconfig.Config {
	t.Helper()
	cfg, err := bucketsconfig.New(map[string]bucketsconfig.BucketSpec{
		model: {Name: bucket, Schema: spec},
	})
	require.NoError(t, err)
	return cfg
}

func TestReconcile_CreatesAbsentBucket(t *testing.T) {
	client := storeclienttest.New()
	r := schema.New(client, zap.NewNop())

	desired := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
		Options: storeclient.SchemaOptions{Version: 0},
	}
	cfg := newCfg(t, "test_model", "b1", desired)

	err := r.ReconcileAll(context.Background(), cfg)
	require.NoError(t, err)

	b, ok := client.Bucket("b1")
	require.True(t, ok)
	assert.Equal(t, desired.Index, b.Schema.Index)
}

func TestReconcile_SameVersionEqualSchemaIsNoop(t *testing.T) {
	client := storeclienttest.New()
	schemaV1 := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
		Options: storeclient.SchemaOptions{Version: 1},
	}
	client.SeedBucket("b1", schemaV1, 1)

	r := schema.New(client, zap.NewNop())
	cfg := newCfg(t, "test_model", "b1", schemaV1)

	err := r.ReconcileAll(context.Background(), cfg)
	assert.NoError(t, err)
}

func TestReconcile_SameVersionDifferentSchemaIsTerminal(t *testing.T) {
	// §8 property 4 / S2-adjacent: schema changes at the same version are
	// rejected without an update ever being issued.
	client := storeclienttest.New()
	remote := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
		Options: storeclient.SchemaOptions{Version: 1},
	}
	client.SeedBucket("b1", remote, 1)

	desired := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeBoolean}},
		Options: storeclient.SchemaOptions{Version: 1},
	}
	r := schema.New(client, zap.NewNop())
	cfg := newCfg(t, "test_model", "b1", desired)

	err := r.ReconcileAll(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindSchemaChangesSameVersion))

	b, _ := client.Bucket("b1")
	assert.Equal(t, storeclient.IndexTypeString, b.Schema.Index["foo"].Type, "remote schema must not have been updated")
}

func TestReconcile_UpgradeRemovingIndexIsTerminal(t *testing.T) {
	// S4: removing an index on an upgrade is banned.
	client := storeclienttest.New()
	remote := storeclient.Schema{
		Index: map[string]storeclient.IndexField{
			"foo": {Type: storeclient.IndexTypeString},
			"bar": {Type: storeclient.IndexTypeString},
		},
		Options: storeclient.SchemaOptions{Version: 0},
	}
	client.SeedBucket("b1", remote, 0)

	desired := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
		Options: storeclient.SchemaOptions{Version: 1},
	}
	r := schema.New(client, zap.NewNop())
	cfg := newCfg(t, "test_model", "b1", desired)

	err := r.ReconcileAll(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindInvalidIndexesRemoval))
}

func TestReconcile_UpgradeAddingIndexSucceeds(t *testing.T) {
	// §8 property 2/3: version monotonically increases, indexes preserved.
	client := storeclienttest.New()
	remote := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
		Options: storeclient.SchemaOptions{Version: 0},
	}
	client.SeedBucket("b1", remote, 0)

	desired := storeclient.Schema{
		Index: map[string]storeclient.IndexField{
			"foo":               {Type: storeclient.IndexTypeString},
			"indexed_property": {Type: storeclient.IndexTypeString},
		},
		Options: storeclient.SchemaOptions{Version: 1},
	}
	r := schema.New(client, zap.NewNop())
	cfg := newCfg(t, "test_model", "b1", desired)

	require.NoError(t, r.ReconcileAll(context.Background(), cfg))

	b, _ := client.Bucket("b1")
	assert.Equal(t, 1, b.Schema.Options.Version)
	assert.Contains(t, b.Schema.Index, "foo")
	assert.Contains(t, b.Schema.Index, "indexed_property")
}

func TestReconcile_DowngradeIsNoop(t *testing.T) {
	client := storeclienttest.New()
	remote := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
		Options: storeclient.SchemaOptions{Version: 2},
	}
	client.SeedBucket("b1", remote, 2)

	desired := storeclient.Schema{
		Index:   map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
		Options: storeclient.SchemaOptions{Version: 1},
	}
	r := schema.New(client, zap.NewNop())
	cfg := newCfg(t, "test_model", "b1", desired)

	require.NoError(t, r.ReconcileAll(context.Background(), cfg))

	b, _ := client.Bucket("b1")
	assert.Equal(t, 2, b.Schema.Options.Version, "downgrade must never mutate the remote")
}

func TestReconcile_TransientGetBucketErrorSurfacesUnclassified(t *testing.T) {
	// S1: a transient getBucket failure should not be silently swallowed;
	// it propagates up to the Backoff Runner for retrying.
	client := storeclienttest.New()
	client.InjectFault("GetBucket", assertError("Mocked transient error"), false)

	r := schema.New(client, zap.NewNop())
	cfg := newCfg(t, "test_model", "b1", storeclient.Schema{
		Index: map[string]storeclient.IndexField{"foo": {Type: storeclient.IndexTypeString}},
	})

	err := r.ReconcileAll(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Mocked transient error")
}

type assertError string

func (e assertError) Error() string { return string(e) }
