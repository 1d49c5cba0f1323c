// Package storeclient defines the narrow capability interface the core
// depends on to talk to the remote indexing service, plus the wire-shape
// types that cross that boundary. Production code never imports a concrete
// remote SDK directly; it depends only on Client, so tests can substitute
// the in-memory fake in storeclienttest instead of monkey-patching a real
// client.
package storeclient

import (
	"context"
	"fmt"
)

// IndexFieldType is the declared type of an indexed schema field.
type IndexFieldType string

const (
	IndexTypeString  IndexFieldType = "string"
	IndexTypeNumber  IndexFieldType = "number"
	IndexTypeBoolean IndexFieldType = "boolean"
)

// IndexField describes a single indexed field.
type IndexField struct {
	Type IndexFieldType `json:"type" yaml:"type"`
}

// SchemaOptions carries the schema's version and is open to future
// remote-specific knobs.
type SchemaOptions struct {
	Version int `json:"version" yaml:"version"`
}

// Schema is the desired or observed shape of a bucket: its indexed fields,
// version, and opaque pre/post hooks passed through to the remote
// untouched.
type Schema struct {
	Index   map[string]IndexField `json:"index" yaml:"index"`
	Options SchemaOptions         `json:"options" yaml:"options"`
	Pre     []string              `json:"pre,omitempty" yaml:"pre,omitempty"`
	Post    []string              `json:"post,omitempty" yaml:"post,omitempty"`
}

// RemoteBucket is the bucket record as reported by the remote: the schema
// plus service-internal bookkeeping the core observes but never writes.
type RemoteBucket struct {
	Name           string
	Schema         Schema
	ReindexActive  map[string]any
	RowVersion     int64 // the remote's "_rver" tag, exposed but not interpreted
}

// StoredRecord is a single payload row as read from or written to a bucket.
type StoredRecord struct {
	Key   string
	Value map[string]any
	ETag  string
}

// ReindexResult reports how many records a single reindex page touched.
type ReindexResult struct {
	Processed int
}

// Filter is an opaque query filter string in the remote's own filter
// language; the core only ever constructs the two shapes described in
// §4.6 of the data-migration selection rules, never interprets a filter
// it did not build itself.
type Filter string

const (
	filterMissingVersion = Filter("data_version:missing")
	filterEqOrMissingPfx = "data_version:eq-or-missing:"
)

// MissingDataVersionFilter selects records with no data_version field,
// the selection filter for migrating to version 1.
func MissingDataVersionFilter() Filter {
	return filterMissingVersion
}

// EqualsOrMissingDataVersionFilter selects records whose data_version is
// exactly v, or missing entirely (tolerating records that slipped behind
// without ever getting a data_version field). Used when migrating to any
// version greater than 1.
func EqualsOrMissingDataVersionFilter(v int) Filter {
	return Filter(fmt.Sprintf("%s%d", filterEqOrMissingPfx, v))
}

// ParseDataVersionFilter reports whether a filter matches the "missing"
// shape, or the "equals v or missing" shape with its v, for callers (the
// in-memory fake) that need to interpret filters built by the functions
// above.
func ParseDataVersionFilter(f Filter) (wantMissing bool, version int, hasVersion bool) {
	if f == filterMissingVersion {
		return true, 0, false
	}
	s := string(f)
	if len(s) > len(filterEqOrMissingPfx) && s[:len(filterEqOrMissingPfx)] == filterEqOrMissingPfx {
		var v int
		if _, err := fmt.Sscanf(s[len(filterEqOrMissingPfx):], "%d", &v); err == nil {
			return false, v, true
		}
	}
	return false, 0, false
}

// BatchOperation is a single write in a batch request.
type BatchOperation struct {
	Bucket string
	Key    string
	Value  map[string]any
	ETag   string
}

// Client is the minimum surface the core requires of the remote storage
// service. Every method may return a *bucketserr.Error carrying one of the
// kinds named in internal/errclass for classification; any other error
// type is treated as an opaque transient failure by the classifier's
// default case.
type Client interface {
	GetBucket(ctx context.Context, name string) (*RemoteBucket, error)
	CreateBucket(ctx context.Context, name string, schema Schema) error
	UpdateBucket(ctx context.Context, name string, schema Schema) error
	ReindexObjects(ctx context.Context, name string, count int) (ReindexResult, error)
	FindObjects(ctx context.Context, name string, filter Filter) ([]StoredRecord, error)
	Batch(ctx context.Context, ops []BatchOperation) error
}
