// Package errclass classifies an error as transient or terminal for a
// given orchestration phase. The classifier is total: every error maps to
// exactly one of the two outcomes, defaulting to transient for anything it
// doesn't recognize, on the theory that an unrecognized failure is safer
// to retry than to abort on.
package errclass

import "github.com/artemis/bucketsinit/internal/bucketserr"

// Phase names the orchestration stage an error is being classified for;
// the same bucketserr.Kind can be terminal in one phase and nonexistent
// (never raised) in another.
type Phase string

const (
	PhaseSchemaSetup    Phase = "buckets-setup"
	PhaseReindex        Phase = "buckets-reindex"
	PhaseDataMigrations Phase = "data-migrations"
)

var terminalKinds = map[Phase][]bucketserr.Kind{
	PhaseSchemaSetup: {
		bucketserr.KindInvalidBucketConfig,
		bucketserr.KindInvalidBucketName,
		bucketserr.KindInvalidIndexDefinition,
		bucketserr.KindNotFunction,
		bucketserr.KindBucketVersion,
		bucketserr.KindInvalidIndexesRemoval,
		bucketserr.KindSchemaChangesSameVersion,
	},
	// Reindex: none. Every error is transient, per §4.4 — reindexing is
	// inherently retryable and the remote never returns a condition the
	// core treats as unrecoverable.
	PhaseReindex: {},
	PhaseDataMigrations: {
		bucketserr.KindBucketNotFound,
		bucketserr.KindInvalidIndexType,
		bucketserr.KindInvalidQuery,
		bucketserr.KindNotIndexed,
		bucketserr.KindUniqueAttribute,
	},
}

// IsTransient reports whether err should be retried for the given phase.
// It is the inverse of IsTerminal and is the predicate the Backoff Runner
// is constructed with.
func IsTransient(phase Phase, err error) bool {
	return !IsTerminal(phase, err)
}

// IsTerminal reports whether err (or any error in its cause chain) carries
// a bucketserr.Kind considered terminal for phase. Unrecognized errors are
// never terminal; they fall through to the transient default.
func IsTerminal(phase Phase, err error) bool {
	if err == nil {
		return false
	}
	kinds, ok := terminalKinds[phase]
	if !ok || len(kinds) == 0 {
		return false
	}
	return bucketserr.HasAnyKind(err, kinds...)
}
