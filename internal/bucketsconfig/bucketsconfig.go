// Package bucketsconfig models the desired bucket configuration supplied at
// construction: the mapping from logical model name to the bucket spec the
// Schema Reconciler converges the remote toward.
package bucketsconfig

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

// BucketSpec is the desired state for a single bucket.
type BucketSpec struct {
	Name   string                            `json:"name" yaml:"name"`
	Schema storeclient.Schema                `json:"schema" yaml:"schema"`
}

// Config is the full desired bucket configuration: model name to spec.
// It is immutable once constructed via New, LoadYAML or LoadJSON.
type Config struct {
	models map[string]BucketSpec
}

// New builds a Config from a model-name-to-spec map, validating invariants
// up front so a bad configuration fails before any remote call is made.
func New(models map[string]BucketSpec) (*Config, error) {
	cfg := &Config{models: models}
	if err := cfg.validateNames(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validateNames() error {
	seen := make(map[string]string, len(c.models))
	for model, spec := range c.models {
		if spec.Name == "" {
			return bucketserr.Newf(bucketserr.KindInvalidBucketConfig, "model %q has an empty bucket name", model)
		}
		if other, ok := seen[spec.Name]; ok {
			return bucketserr.Newf(bucketserr.KindInvalidBucketConfig, "bucket name %q used by both %q and %q", spec.Name, other, model)
		}
		seen[spec.Name] = model
	}
	return nil
}

// ModelNames returns every configured model name in sorted order, so
// sequential phases (schema setup) and parallel fan-out labeling
// (migration) get deterministic iteration order.
func (c *Config) ModelNames() []string {
	names := make([]string, 0, len(c.models))
	for m := range c.models {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

// Spec returns the bucket spec for a model name.
func (c *Config) Spec(model string) (BucketSpec, bool) {
	s, ok := c.models[model]
	return s, ok
}

// RequireDataVersionIndex validates that the model's bucket spec declares
// an indexed `data_version` field of type number, as required by §4.5 for
// any model with a configured migration plan.
func (c *Config) RequireDataVersionIndex(model string) error {
	spec, ok := c.models[model]
	if !ok {
		return bucketserr.Newf(bucketserr.KindInvalidBucketConfig, "model %q not present in bucket configuration", model)
	}
	field, ok := spec.Schema.Index["data_version"]
	if !ok {
		return bucketserr.Newf(bucketserr.KindMissingDataVersionIndex, "model %q bucket %q has no data_version index", model, spec.Name)
	}
	if field.Type != storeclient.IndexTypeNumber {
		return bucketserr.Newf(bucketserr.KindMissingDataVersionIndex, "model %q data_version index has type %q, want number", model, field.Type)
	}
	return nil
}

// LoadYAML reads a Config from YAML bytes. The caller picks LoadYAML or
// LoadJSON; both forms share the same on-the-wire shape: a map of model
// name to BucketSpec.
func LoadYAML(data []byte) (*Config, error) {
	var raw map[string]BucketSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing bucket configuration yaml: %w", err)
	}
	return New(raw)
}

// LoadJSON reads a Config from JSON bytes.
func LoadJSON(data []byte) (*Config, error) {
	var raw map[string]BucketSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing bucket configuration json: %w", err)
	}
	return New(raw)
}
