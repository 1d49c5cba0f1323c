// Package status models the Initializer's observable state: per-phase
// status, the latest error seen during retries, and the data-migration
// completed-version map, plus a non-blocking broadcaster for lifecycle
// events.
//
// Status is modeled as a sealed set of phase states rather than a loose
// dictionary, per the redesign direction away from a dynamically-shaped
// status object: each phase is exactly one of the State values, and a
// phase carries its own latestError slot rather than status consumers
// probing an open-ended map for optional fields.
package status

import (
	"sync"

	"github.com/google/uuid"
)

// State is a phase's lifecycle state.
type State string

const (
	NotStarted State = "NOT_STARTED"
	Started    State = "STARTED"
	Done       State = "DONE"
	Error      State = "ERROR"
)

// PhaseStatus is the state of a single orchestration phase.
type PhaseStatus struct {
	State       State
	LatestError error
}

// DataMigrationsStatus is the state of the data migration phase, which
// fans out per model.
type DataMigrationsStatus struct {
	State        State
	LatestErrors map[string]error
	Completed    map[string]int
}

// Snapshot is a deep, independent copy of the Status Model at a point in
// time; external observers only ever see Snapshots, never the live,
// mutable Status.
type Snapshot struct {
	InstanceID     string
	BucketsSetup   PhaseStatus
	BucketsReindex PhaseStatus
	DataMigrations DataMigrationsStatus
}

// EventKind names a lifecycle signal.
type EventKind string

const (
	EventBucketsSetupDone   EventKind = "buckets-setup-done"
	EventBucketsReindexDone EventKind = "buckets-reindex-done"
	EventDataMigrationsDone EventKind = "data-migrations-done"
	EventDone               EventKind = "done"
	EventError              EventKind = "error"
)

// Event is a single tagged lifecycle signal delivered to subscribers.
type Event struct {
	ID    string
	Kind  EventKind
	Error error
}

// Status is the live, mutable status model owned by the Orchestrator. All
// access goes through its methods, which hold an internal lock; reads
// return independent copies so a caller can never observe a torn update.
type Status struct {
	mu         sync.RWMutex
	instanceID string

	bucketsSetup   PhaseStatus
	bucketsReindex PhaseStatus
	dataMigrations DataMigrationsStatus

	broadcaster *Broadcaster
}

// New constructs a Status in NOT_STARTED for every phase.
func New(instanceID string, broadcaster *Broadcaster) *Status {
	return &Status{
		instanceID: instanceID,
		bucketsSetup: PhaseStatus{
			State: NotStarted,
		},
		bucketsReindex: PhaseStatus{
			State: NotStarted,
		},
		dataMigrations: DataMigrationsStatus{
			State:        NotStarted,
			LatestErrors: make(map[string]error),
			Completed:    make(map[string]int),
		},
		broadcaster: broadcaster,
	}
}

// Snapshot returns a deep copy of the current status.
func (s *Status) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latestErrors := make(map[string]error, len(s.dataMigrations.LatestErrors))
	for k, v := range s.dataMigrations.LatestErrors {
		latestErrors[k] = v
	}
	completed := make(map[string]int, len(s.dataMigrations.Completed))
	for k, v := range s.dataMigrations.Completed {
		completed[k] = v
	}

	return Snapshot{
		InstanceID:     s.instanceID,
		BucketsSetup:   s.bucketsSetup,
		BucketsReindex: s.bucketsReindex,
		DataMigrations: DataMigrationsStatus{
			State:        s.dataMigrations.State,
			LatestErrors: latestErrors,
			Completed:    completed,
		},
	}
}

// SetSetupStarted transitions bucketsSetup to STARTED.
func (s *Status) SetSetupStarted() {
	s.mu.Lock()
	s.bucketsSetup.State = Started
	s.bucketsSetup.LatestError = nil
	s.mu.Unlock()
}

// SetSetupLatestError records a transient error observed during a retry
// without changing the phase's state out of STARTED.
func (s *Status) SetSetupLatestError(err error) {
	s.mu.Lock()
	s.bucketsSetup.LatestError = err
	s.mu.Unlock()
}

// SetSetupDone transitions bucketsSetup to DONE and emits the
// buckets-setup-done signal.
func (s *Status) SetSetupDone() {
	s.mu.Lock()
	s.bucketsSetup.State = Done
	s.bucketsSetup.LatestError = nil
	s.mu.Unlock()
	s.broadcaster.publish(Event{ID: newEventID(), Kind: EventBucketsSetupDone})
}

// SetSetupError transitions bucketsSetup to ERROR and emits the terminal
// error signal.
func (s *Status) SetSetupError(err error) {
	s.mu.Lock()
	s.bucketsSetup.State = Error
	s.bucketsSetup.LatestError = err
	s.mu.Unlock()
	s.broadcaster.publish(Event{ID: newEventID(), Kind: EventError, Error: err})
}

// SetReindexStarted transitions bucketsReindex to STARTED.
func (s *Status) SetReindexStarted() {
	s.mu.Lock()
	s.bucketsReindex.State = Started
	s.bucketsReindex.LatestError = nil
	s.mu.Unlock()
}

// SetReindexLatestError records a transient error during reindex retries.
func (s *Status) SetReindexLatestError(err error) {
	s.mu.Lock()
	s.bucketsReindex.LatestError = err
	s.mu.Unlock()
}

// SetReindexDone transitions bucketsReindex to DONE and emits its signal.
func (s *Status) SetReindexDone() {
	s.mu.Lock()
	s.bucketsReindex.State = Done
	s.bucketsReindex.LatestError = nil
	s.mu.Unlock()
	s.broadcaster.publish(Event{ID: newEventID(), Kind: EventBucketsReindexDone})
}

// SetReindexError transitions bucketsReindex to ERROR and emits error.
func (s *Status) SetReindexError(err error) {
	s.mu.Lock()
	s.bucketsReindex.State = Error
	s.bucketsReindex.LatestError = err
	s.mu.Unlock()
	s.broadcaster.publish(Event{ID: newEventID(), Kind: EventError, Error: err})
}

// SetMigrationsStarted transitions dataMigrations to STARTED.
func (s *Status) SetMigrationsStarted() {
	s.mu.Lock()
	s.dataMigrations.State = Started
	s.mu.Unlock()
}

// SetMigrationLatestError records the latest error seen for one model's
// migration worker during retries, without failing the whole phase.
func (s *Status) SetMigrationLatestError(model string, err error) {
	s.mu.Lock()
	if err == nil {
		delete(s.dataMigrations.LatestErrors, model)
	} else {
		s.dataMigrations.LatestErrors[model] = err
	}
	s.mu.Unlock()
}

// SetMigrationCompleted records that model has completed migration to
// version v.
func (s *Status) SetMigrationCompleted(model string, v int) {
	s.mu.Lock()
	s.dataMigrations.Completed[model] = v
	s.mu.Unlock()
}

// SetMigrationsDone transitions dataMigrations to DONE and emits its
// signal.
func (s *Status) SetMigrationsDone() {
	s.mu.Lock()
	s.dataMigrations.State = Done
	s.mu.Unlock()
	s.broadcaster.publish(Event{ID: newEventID(), Kind: EventDataMigrationsDone})
}

// SetMigrationsError transitions dataMigrations to ERROR and emits error.
func (s *Status) SetMigrationsError(err error) {
	s.mu.Lock()
	s.dataMigrations.State = Error
	s.mu.Unlock()
	s.broadcaster.publish(Event{ID: newEventID(), Kind: EventError, Error: err})
}

// EmitDone emits the final done signal once every configured phase has
// succeeded.
func (s *Status) EmitDone() {
	s.broadcaster.publish(Event{ID: newEventID(), Kind: EventDone})
}

func newEventID() string {
	return uuid.NewString()
}
