package stratum

import (
	"context"
	"time"
)

// AppliedMigration is a ledger record: proof that a migration unit's
// forward action was committed in full. Its existence for an ID implies
// the unit is applied; its absence implies the unit is pending or has
// been fully rolled back.
type AppliedMigration struct {
	ID   string
	Name string

	// Checksum is the MD5 hash of the rendered statements of the unit's
	// forward action
	Checksum string

	// ExecutionTimeInMillis is populated after the unit's statements run,
	// indicating how much time elapsed while they were executing.
	ExecutionTimeInMillis int

	// AppliedAt is the time at which this particular unit's forward action
	// began executing (not when it completed executing).
	AppliedAt time.Time
}

// EnsureInitialized creates the ledger table if it is absent. It is
// idempotent, safe to call repeatedly, and runs in its own transaction.
// Migrate, Rollback and Status call it implicitly.
func (e *Engine) EnsureInitialized(ctx context.Context, db Connection) error {
	if db == nil {
		return ErrNilDB
	}
	return transaction(ctx, db, func(tx Queryer) error {
		return e.Dialect.CreateLedgerTable(ctx, tx, e.QuotedTableName())
	})
}

// GetAppliedMigrations retrieves all ledger records in a map keyed
// by the migration IDs
func (e *Engine) GetAppliedMigrations(ctx context.Context, db Queryer) (applied map[string]*AppliedMigration, err error) {
	applied = make(map[string]*AppliedMigration)
	if db == nil {
		return applied, ErrNilDB
	}

	records, err := e.Dialect.GetAppliedMigrations(ctx, db, e.QuotedTableName())
	if err != nil {
		return applied, err
	}
	for _, record := range records {
		applied[record.ID] = record
	}
	return applied, nil
}

// record inserts a ledger row for an applied unit. The caller supplies the
// unit's transaction so the row commits atomically with the schema change.
// A pre-existing row for the same ID fails with a DuplicateRecordError;
// engine discipline should make that unreachable.
func (e *Engine) record(ctx context.Context, tx Queryer, record *AppliedMigration) error {
	existing, err := e.Dialect.GetAppliedMigrations(ctx, tx, e.QuotedTableName())
	if err != nil {
		return err
	}
	for _, row := range existing {
		if row.ID == record.ID {
			return &DuplicateRecordError{Key: record.ID}
		}
	}
	return e.Dialect.InsertAppliedMigration(ctx, tx, e.QuotedTableName(), record)
}

// erase deletes the ledger row for a rolled-back unit within the unit's
// transaction. A missing row fails with a NotFoundError.
func (e *Engine) erase(ctx context.Context, tx Queryer, id string) error {
	deleted, err := e.Dialect.DeleteAppliedMigration(ctx, tx, e.QuotedTableName(), id)
	if err != nil {
		return err
	}
	if deleted == 0 {
		return &NotFoundError{Key: id}
	}
	return nil
}
