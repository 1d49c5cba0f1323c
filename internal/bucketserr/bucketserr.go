// Package bucketserr defines the named error kinds that flow through the
// schema, reindex, and data-migration phases. A Kind is attached to an error
// at the point it is raised; the classifier in internal/errclass walks an
// error's cause chain looking for a Kind it recognizes for the current
// phase.
package bucketserr

import (
	"errors"
	"fmt"
)

// Kind names an error condition recognized by the classifier. Kinds are
// shared across phases; which kinds are terminal is a per-phase decision
// made in internal/errclass, not here.
type Kind string

const (
	// Schema setup kinds.
	KindInvalidBucketConfig       Kind = "InvalidBucketConfigError"
	KindInvalidBucketName         Kind = "InvalidBucketNameError"
	KindInvalidIndexDefinition    Kind = "InvalidIndexDefinitionError"
	KindNotFunction               Kind = "NotFunctionError"
	KindBucketVersion             Kind = "BucketVersionError"
	KindInvalidIndexesRemoval     Kind = "InvalidIndexesRemovalError"
	KindSchemaChangesSameVersion  Kind = "SchemaChangesSameVersionError"
	KindBucketNotFound            Kind = "BucketNotFoundError"

	// Data migration kinds.
	KindInvalidIndexType Kind = "InvalidIndexTypeError"
	KindInvalidQuery     Kind = "InvalidQueryError"
	KindNotIndexed       Kind = "NotIndexedError"
	KindUniqueAttribute  Kind = "UniqueAttributeError"

	// Configuration / loader kinds, terminal everywhere, raised at
	// construction rather than during a phase run.
	KindInvalidDataMigrationFileNames Kind = "InvalidDataMigrationFileNamesError"
	KindInvalidMigrationModule        Kind = "InvalidMigrationModuleError"
	KindMissingDataVersionIndex       Kind = "MissingDataVersionIndexError"

	// Lifecycle / runner kinds.
	KindBucketsInitAlreadyStarted Kind = "BucketsInitAlreadyStartedError"
	KindMaxAttemptsReached        Kind = "MaxAttemptsReachedError"
	KindCanceled                  Kind = "CanceledError"
)

// Error is a classified, optionally-wrapped error. It implements Unwrap
// so errors.As/errors.Is walk through it.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a bare error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a bare error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an existing error, preserving it as the cause so
// the original error text and any further-nested kinds remain reachable via
// errors.As.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// HasKind reports whether err or any error in its cause chain is a
// *Error carrying the given kind.
func HasKind(err error, kind Kind) bool {
	var be *Error
	for errors.As(err, &be) {
		if be.Kind == kind {
			return true
		}
		if be.cause == nil {
			return false
		}
		err = be.cause
	}
	return false
}

// HasAnyKind reports whether err or any error in its cause chain carries
// one of the given kinds.
func HasAnyKind(err error, kinds ...Kind) bool {
	for _, k := range kinds {
		if HasKind(err, k) {
			return true
		}
	}
	return false
}
