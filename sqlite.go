package stratum

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultSQLiteLockTable is the table SQLite dialects use to hold the
// run lease.
const DefaultSQLiteLockTable = "stratum_lock"

// DefaultSQLiteLockDuration is how long a run lease remains valid before
// another engine may reclaim it. It only matters when a holder crashes
// without releasing; live holders release on completion.
const DefaultSQLiteLockDuration = 10 * time.Minute

// SQLiteDriverName is the database/sql driver name registered by
// mattn/go-sqlite3
const SQLiteDriverName = "sqlite3"

// SQLite is a dialect with the default lock table name and lease duration
var SQLite = NewSQLite()

type sqliteDialect struct {
	lockTableName string
	lockDuration  time.Duration
}

// NewSQLite creates a new sqlite dialect. Customization of the lock table
// name and lease duration are made with WithSQLiteLockTable and
// WithSQLiteLockDuration options.
func NewSQLite(opts ...func(s *sqliteDialect)) *sqliteDialect {
	s := &sqliteDialect{
		lockTableName: DefaultSQLiteLockTable,
		lockDuration:  DefaultSQLiteLockDuration,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithSQLiteLockTable customizes the name of the table holding the run
// lease.
func WithSQLiteLockTable(name string) func(s *sqliteDialect) {
	return func(s *sqliteDialect) {
		s.lockTableName = name
	}
}

// WithSQLiteLockDuration customizes how long a run lease remains
// reclaimable-only-by-its-holder after acquisition.
func WithSQLiteLockDuration(duration time.Duration) func(s *sqliteDialect) {
	return func(s *sqliteDialect) {
		s.lockDuration = duration
	}
}

// Lock implements the Locker interface with a lease row: SQLite has no
// advisory locks, so the dialect inserts a row keyed by the ledger table
// name with an expiry timestamp. Expired leases are deleted before each
// attempt, which lets a new run reclaim the lock after a holder crashed.
// Acquisition retries until the timeout, then fails with a
// LockContentionError.
func (s *sqliteDialect) Lock(ctx context.Context, db Queryer, tableName string, timeout time.Duration) error {
	if err := s.createLockTable(ctx, db); err != nil {
		return err
	}

	lockTable := s.QuotedTableName("", s.lockTableName)
	deadline := time.Now().Add(timeout)
	for {
		now := time.Now()
		_, err := db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE lock_id = ? AND expires_at < ?`, lockTable),
			tableName, now.UnixMilli(),
		)
		if err != nil {
			return err
		}

		result, err := db.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s ( lock_id, expires_at ) VALUES ( ?, ? )`, lockTable),
			tableName, now.Add(s.lockDuration).UnixMilli(),
		)
		if err != nil {
			return err
		}
		inserted, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if inserted > 0 {
			return nil
		}

		// An ignored insert means another engine holds an unexpired lease.
		if time.Now().After(deadline) {
			return &LockContentionError{TableName: tableName}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Unlock releases the run lease.
func (s *sqliteDialect) Unlock(ctx context.Context, db Queryer, tableName string) error {
	lockTable := s.QuotedTableName("", s.lockTableName)
	_, err := db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE lock_id = ?`, lockTable), tableName)
	return err
}

func (s *sqliteDialect) createLockTable(ctx context.Context, db Queryer) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			lock_id TEXT NOT NULL PRIMARY KEY,
			expires_at INTEGER NOT NULL
		);`, s.QuotedTableName("", s.lockTableName))
	_, err := db.ExecContext(ctx, query)
	return err
}

// CreateLedgerTable implements the Dialect interface to create the
// table which tracks applied migrations. It only creates the table if it
// does not already exist
func (s *sqliteDialect) CreateLedgerTable(ctx context.Context, tx Queryer, tableName string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT NOT NULL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
			applied_at DATETIME
		);`, tableName)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// InsertAppliedMigration implements the Dialect interface to insert a ledger
// record *after* a unit's forward action has successfully run.
func (s *sqliteDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, record *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, name, checksum, execution_time_in_millis, applied_at )
		VALUES
		( ?, ?, ?, ?, ? )
		`, tableName)
	_, err := tx.ExecContext(ctx, query, record.ID, record.Name, record.Checksum, record.ExecutionTimeInMillis, record.AppliedAt)
	return err
}

// DeleteAppliedMigration implements the Dialect interface to remove the
// ledger record of a rolled-back unit.
func (s *sqliteDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, id string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableName)
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetAppliedMigrations retrieves all data from the migrations ledger table
func (s *sqliteDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
	migrations = make([]*AppliedMigration, 0)

	query := fmt.Sprintf(`
		SELECT id, name, checksum, execution_time_in_millis, applied_at
		FROM %s
		ORDER BY id ASC
	`, tableName)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return migrations, err
	}
	defer rows.Close()

	for rows.Next() {
		migration := AppliedMigration{}
		err = rows.Scan(&migration.ID, &migration.Name, &migration.Checksum, &migration.ExecutionTimeInMillis, &migration.AppliedAt)
		if err != nil {
			err = fmt.Errorf("failed to GetAppliedMigrations. Did somebody change the structure of the %s table?: %w", tableName, err)
			return migrations, err
		}
		migrations = append(migrations, &migration)
	}

	return migrations, err
}

// AddColumnSQL renders a column addition for SQLite
func (s *sqliteDialect) AddColumnSQL(table, columnDef string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", s.QuotedIdent(table), columnDef)
}

// RenameTableSQL renders a table rename for SQLite
func (s *sqliteDialect) RenameTableSQL(table, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", s.QuotedIdent(table), s.QuotedIdent(newName))
}

// RenameColumnSQL renders a column rename for SQLite
func (s *sqliteDialect) RenameColumnSQL(table, column, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", s.QuotedIdent(table), s.QuotedIdent(column), s.QuotedIdent(newName))
}

// DropIndexSQL renders an index drop for SQLite
func (s *sqliteDialect) DropIndexSQL(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s", s.QuotedIdent(index))
}

// QuotedTableName returns the string value of the name of the migration
// ledger table after it has been quoted for SQLite
func (s *sqliteDialect) QuotedTableName(_, tableName string) string {
	return s.QuotedIdent(tableName)
}

// QuotedIdent wraps the supplied string in the SQLite identifier
// quote character
func (s *sqliteDialect) QuotedIdent(ident string) string {
	if ident == "" {
		return ""
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
