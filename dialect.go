package stratum

import (
	"context"
	"time"
)

// Dialect defines the minimal interface for a database dialect. All dialects
// must implement functions to create the migrations ledger table, read,
// insert and delete ledger records, perform escaping for identifiers, and
// render the few schema statements whose syntax varies between databases.
type Dialect interface {
	QuotedTableName(schemaName, tableName string) string
	QuotedIdent(ident string) string

	CreateLedgerTable(ctx context.Context, tx Queryer, tableName string) error
	GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (applied []*AppliedMigration, err error)
	InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, record *AppliedMigration) error
	DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, id string) (rowsDeleted int64, err error)

	AddColumnSQL(table, columnDef string) string
	RenameTableSQL(table, newName string) string
	RenameColumnSQL(table, column, newName string) string
	DropIndexSQL(table, index string) string
}

// Locker defines an optional Dialect extension for obtaining and releasing
// an exclusive database lock for the duration of a migration run. The lock
// must be session-bound or lease-based so that a crashed holder cannot wedge
// the engine permanently. Lock either acquires the lock within the supplied
// timeout or fails with a LockContentionError.
type Locker interface {
	Lock(ctx context.Context, db Queryer, tableName string, timeout time.Duration) error
	Unlock(ctx context.Context, db Queryer, tableName string) error
}
