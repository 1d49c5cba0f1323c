package bucketsconfig_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

func TestNew_DuplicateBucketNameIsRejected(t *testing.T) {
	_, err := bucketsconfig.New(map[string]bucketsconfig.BucketSpec{
		"model_a": {Name: "shared", Schema: storeclient.Schema{}},
		"model_b": {Name: "shared", Schema: storeclient.Schema{}},
	})
	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindInvalidBucketConfig))
}

func TestNew_EmptyBucketNameIsRejected(t *testing.T) {
	_, err := bucketsconfig.New(map[string]bucketsconfig.BucketSpec{
		"model_a": {Name: "", Schema: storeclient.Schema{}},
	})
	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindInvalidBucketConfig))
}

func TestRequireDataVersionIndex(t *testing.T) {
	cfg, err := bucketsconfig.New(map[string]bucketsconfig.BucketSpec{
		"has_version": {
			Name: "b1",
			Schema: storeclient.Schema{
				Index: map[string]storeclient.IndexField{
					"data_version": {Type: storeclient.IndexTypeNumber},
				},
			},
		},
		"wrong_type": {
			Name: "b2",
			Schema: storeclient.Schema{
				Index: map[string]storeclient.IndexField{
					"data_version": {Type: storeclient.IndexTypeString},
				},
			},
		},
		"missing": {
			Name:   "b3",
			Schema: storeclient.Schema{Index: map[string]storeclient.IndexField{}},
		},
	})
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireDataVersionIndex("has_version"))

	err = cfg.RequireDataVersionIndex("wrong_type")
	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindMissingDataVersionIndex))

	err = cfg.RequireDataVersionIndex("missing")
	require.Error(t, err)
	assert.True(t, bucketserr.HasKind(err, bucketserr.KindMissingDataVersionIndex))
}

func TestLoadYAML(t *testing.T) {
	data := []byte(`
test_model:
  name: b1
  schema:
    index:
      foo:
        type: string
    options:
      version: 1
`)
	cfg, err := bucketsconfig.LoadYAML(data)
	require.NoError(t, err)

	spec, ok := cfg.Spec("test_model")
	require.True(t, ok)
	assert.Equal(t, "b1", spec.Name)
	assert.Equal(t, 1, spec.Schema.Options.Version)
	assert.Equal(t, storeclient.IndexTypeString, spec.Schema.Index["foo"].Type)
}

func TestModelNamesIsSorted(t *testing.T) {
	cfg, err := bucketsconfig.New(map[string]bucketsconfig.BucketSpec{
		"zeta":  {Name: "b_zeta", Schema: storeclient.Schema{}},
		"alpha": {Name: "b_alpha", Schema: storeclient.Schema{}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, cfg.ModelNames())
}
