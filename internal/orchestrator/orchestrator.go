// Package orchestrator implements the Initializer: the single entry point
// that sequences schema setup, reindexing, and data migration, each
// wrapped by the Backoff Runner, and exposes status and lifecycle events
// to the embedding service.
package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/artemis/bucketsinit/internal/backoff"
	"github.com/artemis/bucketsinit/internal/bucketserr"
	"github.com/artemis/bucketsinit/internal/bucketsconfig"
	"github.com/artemis/bucketsinit/internal/errclass"
	"github.com/artemis/bucketsinit/internal/loader"
	"github.com/artemis/bucketsinit/internal/migrate"
	"github.com/artemis/bucketsinit/internal/reindex"
	"github.com/artemis/bucketsinit/internal/schema"
	"github.com/artemis/bucketsinit/internal/status"
	"github.com/artemis/bucketsinit/internal/storeclient"
)

// Initializer is the Bucket Initializer orchestrator. Construct one with
// New and call Start exactly once.
type Initializer struct {
	cfg    *bucketsconfig.Config
	client storeclient.Client
	logger *zap.Logger
	tracer trace.Tracer

	plan *loader.Plan

	reconciler *schema.Reconciler
	reindexer  *reindex.Driver
	migrator   *migrate.Controller

	setupRunner   *backoff.Runner
	reindexRunner *backoff.Runner
	migrateRunner *backoff.Runner

	maxSetupAttempts    int
	maxReindexAttempts  int
	maxMigrateAttempts  int

	instanceID  string
	status      *status.Status
	broadcaster *status.Broadcaster

	started atomic.Bool
}

// Option configures an Initializer at construction.
type Option func(*options)

type options struct {
	migrationsPath     string
	registry           *loader.Registry
	plan               *loader.Plan
	maxSetupAttempts   int
	maxReindexAttempts int
	maxMigrateAttempts int
	tracer             trace.Tracer
	clock              migrate.Clock
}

// WithMigrationsPath configures the on-disk directory the Migration Loader
// validates against registry. Mutually exclusive with WithMigrationPlan.
func WithMigrationsPath(path string, registry *loader.Registry) Option {
	return func(o *options) {
		o.migrationsPath = path
		o.registry = registry
	}
}

// WithMigrationPlan supplies an already-validated Plan directly, bypassing
// the on-disk loader. Mutually exclusive with WithMigrationsPath.
func WithMigrationPlan(plan *loader.Plan) Option {
	return func(o *options) { o.plan = plan }
}

// WithMaxBucketsSetupAttempts bounds retry attempts for the schema setup
// phase; 0 means unlimited.
func WithMaxBucketsSetupAttempts(n int) Option {
	return func(o *options) { o.maxSetupAttempts = n }
}

// WithMaxBucketsReindexAttempts bounds retry attempts for the reindex
// phase; 0 means unlimited.
func WithMaxBucketsReindexAttempts(n int) Option {
	return func(o *options) { o.maxReindexAttempts = n }
}

// WithMaxDataMigrationsAttempts bounds retry attempts for the data
// migration phase; 0 means unlimited.
func WithMaxDataMigrationsAttempts(n int) Option {
	return func(o *options) { o.maxMigrateAttempts = n }
}

// WithTracer overrides the OpenTelemetry tracer used for phase spans;
// defaults to the global tracer provider's tracer for this module.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) { o.tracer = tracer }
}

// withClock overrides the Migration Controller's clock; unexported since
// it exists for tests in this module, not for embedders.
func withClock(clock migrate.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// New constructs an Initializer. The migration plan (if any) and the
// bucket configuration are both validated here, at construction, rather
// than at Start, so a misconfigured instance fails before any remote call
// is made (DESIGN.md open question 3).
func New(cfg *bucketsconfig.Config, client storeclient.Client, logger *zap.Logger, opts ...Option) (*Initializer, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	plan := o.plan
	if plan == nil && o.migrationsPath != "" {
		var err error
		plan, err = loader.LoadPlan(o.migrationsPath, o.registry, cfg)
		if err != nil {
			return nil, err
		}
	}

	tracer := o.tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/artemis/bucketsinit/internal/orchestrator")
	}

	instanceID := uuid.NewString()
	broadcaster := status.NewBroadcaster()

	init := &Initializer{
		cfg:                cfg,
		client:             client,
		logger:             logger,
		tracer:             tracer,
		plan:               plan,
		reconciler:         schema.New(client, logger),
		reindexer:          reindex.New(client, logger),
		migrator:           migrate.New(client, logger, o.clock),
		setupRunner:        backoff.New(logger, string(errclass.PhaseSchemaSetup)),
		reindexRunner:      backoff.New(logger, string(errclass.PhaseReindex)),
		migrateRunner:      backoff.New(logger, string(errclass.PhaseDataMigrations)),
		maxSetupAttempts:   o.maxSetupAttempts,
		maxReindexAttempts: o.maxReindexAttempts,
		maxMigrateAttempts: o.maxMigrateAttempts,
		instanceID:         instanceID,
		status:             status.New(instanceID, broadcaster),
		broadcaster:        broadcaster,
	}
	return init, nil
}

// InstanceID returns the random identifier assigned to this Initializer at
// construction, for correlating its log lines and trace spans across
// several concurrently-running instances.
func (i *Initializer) InstanceID() string {
	return i.instanceID
}

// Status returns a deep-copy snapshot of the current status model.
func (i *Initializer) Status() status.Snapshot {
	return i.status.Snapshot()
}

// Subscribe registers for lifecycle events. Call Unsubscribe on the
// returned handle when done listening.
func (i *Initializer) Subscribe() *status.Subscription {
	return i.broadcaster.Subscribe()
}

// Start begins the three-phase pipeline. It is not re-entrant: a second
// call returns a *bucketserr.Error of kind KindBucketsInitAlreadyStarted.
func (i *Initializer) Start(ctx context.Context) error {
	if !i.started.CompareAndSwap(false, true) {
		return bucketserr.New(bucketserr.KindBucketsInitAlreadyStarted, "Start called more than once on this Initializer")
	}

	ctx, span := i.tracer.Start(ctx, "bucketsinit.run", trace.WithAttributes(
		attribute.String("bucketsinit.instance_id", i.instanceID),
	))
	defer span.End()

	if err := i.runSetup(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "schema setup failed")
		return err
	}
	if err := i.runReindex(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reindex failed")
		return err
	}
	if err := i.runMigrations(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "data migrations failed")
		return err
	}

	i.status.EmitDone()
	return nil
}

func (i *Initializer) runSetup(ctx context.Context) error {
	ctx, span := i.tracer.Start(ctx, "bucketsinit.buckets_setup")
	defer span.End()

	i.status.SetSetupStarted()

	attempt := func(ctx context.Context) error {
		err := i.reconciler.ReconcileAll(ctx, i.cfg)
		i.status.SetSetupLatestError(err)
		return err
	}
	isTransient := func(err error) bool { return errclass.IsTransient(errclass.PhaseSchemaSetup, err) }

	if err := i.setupRunner.Run(ctx, string(errclass.PhaseSchemaSetup), attempt, isTransient, i.maxSetupAttempts); err != nil {
		i.status.SetSetupError(err)
		return err
	}
	i.status.SetSetupDone()
	return nil
}

func (i *Initializer) runReindex(ctx context.Context) error {
	ctx, span := i.tracer.Start(ctx, "bucketsinit.buckets_reindex")
	defer span.End()

	i.status.SetReindexStarted()

	attempt := func(ctx context.Context) error {
		err := i.reindexer.ReindexAll(ctx, i.cfg)
		i.status.SetReindexLatestError(err)
		return err
	}
	isTransient := func(err error) bool { return errclass.IsTransient(errclass.PhaseReindex, err) }

	if err := i.reindexRunner.Run(ctx, string(errclass.PhaseReindex), attempt, isTransient, i.maxReindexAttempts); err != nil {
		i.status.SetReindexError(err)
		return err
	}
	i.status.SetReindexDone()
	return nil
}

func (i *Initializer) runMigrations(ctx context.Context) error {
	if i.plan == nil || i.plan.IsEmpty() {
		// No migration path configured: the phase stays NOT_STARTED and
		// the Initializer still reaches DONE, per §4.7.
		return nil
	}

	ctx, span := i.tracer.Start(ctx, "bucketsinit.data_migrations")
	defer span.End()

	i.status.SetMigrationsStarted()

	attempt := func(ctx context.Context) error {
		return i.migrator.RunAll(ctx, i.plan, i.cfg, i.status)
	}
	isTransient := func(err error) bool { return errclass.IsTransient(errclass.PhaseDataMigrations, err) }

	if err := i.migrateRunner.Run(ctx, string(errclass.PhaseDataMigrations), attempt, isTransient, i.maxMigrateAttempts); err != nil {
		i.status.SetMigrationsError(err)
		return err
	}
	i.status.SetMigrationsDone()
	return nil
}
