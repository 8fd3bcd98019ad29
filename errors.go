package stratum

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNilDB is thrown when the database pointer is nil
var ErrNilDB = errors.New("DB pointer is nil")

// DuplicateKeyError indicates that two migration units share the same
// order key. The registry requires keys to form a total order, so this is
// always an authoring mistake.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate migration key '%s'", e.Key)
}

// MalformedUnitError indicates that a migration definition could not be
// parsed into a usable unit (for example a down script with no matching
// up script, or a unit with a blank key).
type MalformedUnitError struct {
	Source string
	Reason string
}

func (e *MalformedUnitError) Error() string {
	return fmt.Sprintf("malformed migration '%s': %s", e.Source, e.Reason)
}

// DuplicateRecordError indicates an attempt to record a ledger row for a
// key which is already recorded.
type DuplicateRecordError struct {
	Key string
}

func (e *DuplicateRecordError) Error() string {
	return fmt.Sprintf("ledger already contains a record for '%s'", e.Key)
}

// NotFoundError indicates an attempt to erase a ledger row for a key
// which has no record.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no ledger record for '%s'", e.Key)
}

// MissingDefinitionError indicates that the ledger records keys as
// applied for which no migration definition exists in the registry. This
// is surfaced during rollback rather than silently skipped: the unit was
// removed from the source of truth while still applied.
type MissingDefinitionError struct {
	Keys []string
}

func (e *MissingDefinitionError) Error() string {
	return fmt.Sprintf("applied migrations have no definition: %s", strings.Join(e.Keys, ", "))
}

// IrreversibleMigrationError indicates a rollback attempt on a unit whose
// backward action cannot be expressed.
type IrreversibleMigrationError struct {
	ID   string
	Name string
}

func (e *IrreversibleMigrationError) Error() string {
	return fmt.Sprintf("migration '%s' (%s) is irreversible", e.ID, e.Name)
}

// MigrationFailedError reports the unit at which a Migrate run stopped.
// Units committed in prior iterations remain applied.
type MigrationFailedError struct {
	ID   string
	Name string
	Err  error
}

func (e *MigrationFailedError) Error() string {
	return fmt.Sprintf("migration '%s' (%s) failed: %s", e.ID, e.Name, e.Err)
}

func (e *MigrationFailedError) Unwrap() error { return e.Err }

// RollbackFailedError reports the unit at which a Rollback run stopped.
type RollbackFailedError struct {
	ID   string
	Name string
	Err  error
}

func (e *RollbackFailedError) Error() string {
	return fmt.Sprintf("rollback of '%s' (%s) failed: %s", e.ID, e.Name, e.Err)
}

func (e *RollbackFailedError) Unwrap() error { return e.Err }

// LockContentionError indicates that the exclusive advisory lock guarding
// a run could not be obtained within the engine's lock timeout because
// another engine holds it.
type LockContentionError struct {
	TableName string
}

func (e *LockContentionError) Error() string {
	return fmt.Sprintf("another migration run holds the lock for '%s'", e.TableName)
}

// AdapterError wraps a failure returned by the backing store, preserving
// the statement which triggered it.
type AdapterError struct {
	Statement string
	Err       error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("statement failed: %s:\n%s", e.Err, strings.TrimSpace(e.Statement))
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Exit codes identifying each error kind, for CLI-level callers which
// report failures through a process exit status.
const (
	ExitOK = iota
	ExitFailure
	ExitDuplicateKey
	ExitMalformedUnit
	ExitDuplicateRecord
	ExitNotFound
	ExitMissingDefinition
	ExitIrreversible
	ExitMigrationFailed
	ExitRollbackFailed
	ExitLockContention
)

// ExitCode maps an error returned by the engine to the exit code
// identifying its kind. A nil error maps to ExitOK; errors of no
// recognized kind map to ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		dupKey    *DuplicateKeyError
		malformed *MalformedUnitError
		dupRec    *DuplicateRecordError
		notFound  *NotFoundError
		missing   *MissingDefinitionError
		irrev     *IrreversibleMigrationError
		migFail   *MigrationFailedError
		rbFail    *RollbackFailedError
		lock      *LockContentionError
	)
	switch {
	case errors.As(err, &dupKey):
		return ExitDuplicateKey
	case errors.As(err, &malformed):
		return ExitMalformedUnit
	case errors.As(err, &irrev):
		return ExitIrreversible
	case errors.As(err, &missing):
		return ExitMissingDefinition
	case errors.As(err, &migFail):
		return ExitMigrationFailed
	case errors.As(err, &rbFail):
		return ExitRollbackFailed
	case errors.As(err, &lock):
		return ExitLockContention
	case errors.As(err, &dupRec):
		return ExitDuplicateRecord
	case errors.As(err, &notFound):
		return ExitNotFound
	}
	return ExitFailure
}
