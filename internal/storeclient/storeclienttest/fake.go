// Package storeclienttest provides an in-memory fake implementing
// storeclient.Client, standing in for the real remote in tests per the
// "narrow interface, fakes not monkey-patching" design. It supports
// injecting transient and terminal failures per method call so tests can
// exercise the Backoff Runner and classifier against deterministic
// scenarios instead of a live remote.
package storeclienttest

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

// Fault is injected ahead of a call; when non-nil the call returns it
// instead of performing its normal behavior. A Fault is consumed exactly
// once per call unless Sticky is set.
type Fault struct {
	Err    error
	Sticky bool
}

// Client is an in-memory storeclient.Client. Construct one with New; the
// zero value has nil maps and is not usable.
type Client struct {
	mu sync.Mutex

	buckets map[string]*storeclient.RemoteBucket
	records map[string]map[string]storeclient.StoredRecord // bucket -> key -> record

	faults map[string]*Fault // method name -> injected fault

	reindexRemaining map[string]int // bucket -> records still to report as processed
	reindexPageSize  int

	batchCalls int
}

// New constructs an empty fake client.
func New() *Client {
	return &Client{
		buckets:          make(map[string]*storeclient.RemoteBucket),
		records:          make(map[string]map[string]storeclient.StoredRecord),
		faults:           make(map[string]*Fault),
		reindexRemaining: make(map[string]int),
		reindexPageSize:  100,
	}
}

// InjectFault arranges for the named method's next call (or every call, if
// sticky) to fail with err instead of running normally.
func (c *Client) InjectFault(method string, err error, sticky bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[method] = &Fault{Err: err, Sticky: sticky}
}

// ClearFault removes any injected fault for the named method.
func (c *Client) ClearFault(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.faults, method)
}

func (c *Client) consumeFault(method string) error {
	f, ok := c.faults[method]
	if !ok {
		return nil
	}
	if !f.Sticky {
		delete(c.faults, method)
	}
	return f.Err
}

// SeedBucket installs a bucket record directly, bypassing CreateBucket, for
// tests that need to start from an existing remote state.
func (c *Client) SeedBucket(name string, schema storeclient.Schema, rver int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets[name] = &storeclient.RemoteBucket{
		Name:          name,
		Schema:        schema,
		ReindexActive: map[string]any{},
		RowVersion:    rver,
	}
	if _, ok := c.records[name]; !ok {
		c.records[name] = make(map[string]storeclient.StoredRecord)
	}
}

// SeedRecord inserts a record directly into a bucket's record set.
func (c *Client) SeedRecord(bucket string, rec storeclient.StoredRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.records[bucket]; !ok {
		c.records[bucket] = make(map[string]storeclient.StoredRecord)
	}
	c.records[bucket][rec.Key] = rec
}

// SetReindexPending marks a bucket as having n records pending reindex; each
// ReindexObjects call reports up to the requested count and decrements the
// remainder.
func (c *Client) SetReindexPending(bucket string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reindexRemaining[bucket] = n
	if b, ok := c.buckets[bucket]; ok && n > 0 {
		b.ReindexActive = map[string]any{"pending": n}
	}
}

// Records returns a snapshot of every record currently stored in a bucket.
func (c *Client) Records(bucket string) []storeclient.StoredRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	recs := c.records[bucket]
	out := make([]storeclient.StoredRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Bucket returns a snapshot of the current remote bucket record, if any.
func (c *Client) Bucket(name string) (storeclient.RemoteBucket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[name]
	if !ok {
		return storeclient.RemoteBucket{}, false
	}
	return *b, true
}

// BatchCallCount reports how many times Batch has been invoked, for tests
// asserting on retry counts.
func (c *Client) BatchCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchCalls
}

func (c *Client) GetBucket(_ context.Context, name string) (*storeclient.RemoteBucket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFault("GetBucket"); err != nil {
		return nil, err
	}
	b, ok := c.buckets[name]
	if !ok {
		return nil, bucketserr.Newf(bucketserr.KindBucketNotFound, "bucket %q not found", name)
	}
	cp := *b
	return &cp, nil
}

func (c *Client) CreateBucket(_ context.Context, name string, schema storeclient.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFault("CreateBucket"); err != nil {
		return err
	}
	if _, exists := c.buckets[name]; exists {
		return bucketserr.Newf(bucketserr.KindInvalidBucketConfig, "bucket %q already exists", name)
	}
	c.buckets[name] = &storeclient.RemoteBucket{
		Name:          name,
		Schema:        schema,
		ReindexActive: map[string]any{},
		RowVersion:    int64(schema.Options.Version),
	}
	c.records[name] = make(map[string]storeclient.StoredRecord)
	return nil
}

func (c *Client) UpdateBucket(_ context.Context, name string, schema storeclient.Schema) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFault("UpdateBucket"); err != nil {
		return err
	}
	b, ok := c.buckets[name]
	if !ok {
		return bucketserr.Newf(bucketserr.KindBucketNotFound, "bucket %q not found", name)
	}
	b.Schema = schema
	b.RowVersion = int64(schema.Options.Version)
	return nil
}

func (c *Client) ReindexObjects(_ context.Context, name string, count int) (storeclient.ReindexResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFault("ReindexObjects"); err != nil {
		return storeclient.ReindexResult{}, err
	}
	remaining := c.reindexRemaining[name]
	if remaining <= 0 {
		return storeclient.ReindexResult{Processed: 0}, nil
	}
	processed := count
	if processed > remaining {
		processed = remaining
	}
	remaining -= processed
	c.reindexRemaining[name] = remaining
	if b, ok := c.buckets[name]; ok {
		if remaining == 0 {
			b.ReindexActive = map[string]any{}
		} else {
			b.ReindexActive = map[string]any{"pending": remaining}
		}
	}
	return storeclient.ReindexResult{Processed: processed}, nil
}

func (c *Client) FindObjects(_ context.Context, name string, filter storeclient.Filter) ([]storeclient.StoredRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.consumeFault("FindObjects"); err != nil {
		return nil, err
	}
	// One page per call, like the remote's default page size.
	const pageSize = 1000
	recs := c.records[name]
	matched := make([]storeclient.StoredRecord, 0)
	for _, r := range recs {
		if matchesFilter(r, filter) {
			value := make(map[string]any, len(r.Value))
			for k, v := range r.Value {
				value[k] = v
			}
			r.Value = value
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Key < matched[j].Key })
	if len(matched) > pageSize {
		matched = matched[:pageSize]
	}
	return matched, nil
}

// matchesFilter interprets exactly the two filter shapes the Migration
// Controller builds via storeclient.MissingDataVersionFilter and
// storeclient.EqualsOrMissingDataVersionFilter. Anything else is treated
// as a permissive match, since the fake never receives filters it didn't
// build itself.
func matchesFilter(r storeclient.StoredRecord, filter storeclient.Filter) bool {
	wantMissing, version, hasVersionFilter := storeclient.ParseDataVersionFilter(filter)
	_, recordHasVersion := r.Value["data_version"]

	switch {
	case wantMissing:
		return !recordHasVersion
	case hasVersionFilter:
		if !recordHasVersion {
			return true
		}
		got, ok := toInt(r.Value["data_version"])
		return ok && got == version
	default:
		return true
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func (c *Client) Batch(_ context.Context, ops []storeclient.BatchOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchCalls++
	if err := c.consumeFault("Batch"); err != nil {
		return err
	}
	for _, op := range ops {
		bucket, ok := c.records[op.Bucket]
		if !ok {
			return bucketserr.Newf(bucketserr.KindBucketNotFound, "bucket %q not found", op.Bucket)
		}
		existing, exists := bucket[op.Key]
		if exists && op.ETag != "" && existing.ETag != op.ETag {
			return fmt.Errorf("etag mismatch for key %q", op.Key)
		}
		bucket[op.Key] = storeclient.StoredRecord{
			Key:   op.Key,
			Value: op.Value,
			ETag:  nextETag(existing.ETag),
		}
	}
	return nil
}

func nextETag(prev string) string {
	n, _ := strconv.Atoi(prev)
	return strconv.Itoa(n + 1)
}
