package stratum

import (
	"context"
	"fmt"
	"hash/crc32"
	"strings"
	"time"
	"unicode"
)

const postgresAdvisoryLockSalt uint32 = 830472912

// PostgresDriverName is the database/sql driver name registered by lib/pq
const PostgresDriverName = "postgres"

// Postgres is the dialect for Postgres-compatible
// databases
var Postgres = postgresDialect{}

type postgresDialect struct{}

// Lock implements the Locker interface to obtain an exclusive advisory lock
// before a run. The lock is session-bound, so a crashed holder releases it
// when its connection dies. Acquisition polls pg_try_advisory_lock until it
// succeeds or the timeout elapses, then fails with a LockContentionError.
func (p postgresDialect) Lock(ctx context.Context, db Queryer, tableName string, timeout time.Duration) error {
	query := fmt.Sprintf("SELECT pg_try_advisory_lock(%s)", p.advisoryLockID(tableName))
	deadline := time.Now().Add(timeout)
	for {
		acquired, err := queryBool(ctx, db, query)
		if err != nil {
			return err
		}
		if acquired {
			return nil
		}
		if time.Now().After(deadline) {
			return &LockContentionError{TableName: tableName}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// Unlock implements the Locker interface to release the advisory lock after
// a run.
func (p postgresDialect) Unlock(ctx context.Context, db Queryer, tableName string) error {
	query := fmt.Sprintf("SELECT pg_advisory_unlock(%s)", p.advisoryLockID(tableName))
	_, err := db.ExecContext(ctx, query)
	return err
}

// CreateLedgerTable implements the Dialect interface to create the
// table which tracks applied migrations. It only creates the table if it
// does not already exist
func (p postgresDialect) CreateLedgerTable(ctx context.Context, tx Queryer, tableName string) error {
	query := fmt.Sprintf(`
				CREATE TABLE IF NOT EXISTS %s (
					id VARCHAR(255) NOT NULL PRIMARY KEY,
					name VARCHAR(255) NOT NULL DEFAULT '',
					checksum VARCHAR(32) NOT NULL DEFAULT '',
					execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
					applied_at TIMESTAMP WITH TIME ZONE NOT NULL
				)
			`, tableName)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// InsertAppliedMigration implements the Dialect interface to insert a ledger
// record *after* a unit's forward action has successfully run.
func (p postgresDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, record *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, name, checksum, execution_time_in_millis, applied_at )
		VALUES
		( $1, $2, $3, $4, $5 )`,
		tableName,
	)
	_, err := tx.ExecContext(ctx, query, record.ID, record.Name, record.Checksum, record.ExecutionTimeInMillis, record.AppliedAt)
	return err
}

// DeleteAppliedMigration implements the Dialect interface to remove the
// ledger record of a rolled-back unit.
func (p postgresDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, id string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tableName)
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetAppliedMigrations retrieves all data from the migrations ledger table
func (p postgresDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
	migrations = make([]*AppliedMigration, 0)

	query := fmt.Sprintf(`
		SELECT id, name, checksum, execution_time_in_millis, applied_at
		FROM %s ORDER BY id ASC
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
		migration.AppliedAt = migration.AppliedAt.In(time.Local)
		migrations = append(migrations, &migration)
	}

	return migrations, err
}

// AddColumnSQL renders a column addition for Postgres
func (p postgresDialect) AddColumnSQL(table, columnDef string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", p.QuotedIdent(table), columnDef)
}

// RenameTableSQL renders a table rename for Postgres
func (p postgresDialect) RenameTableSQL(table, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", p.QuotedIdent(table), p.QuotedIdent(newName))
}

// RenameColumnSQL renders a column rename for Postgres
func (p postgresDialect) RenameColumnSQL(table, column, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", p.QuotedIdent(table), p.QuotedIdent(column), p.QuotedIdent(newName))
}

// DropIndexSQL renders an index drop for Postgres
func (p postgresDialect) DropIndexSQL(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s", p.QuotedIdent(index))
}

// QuotedTableName returns the string value of the name of the migration
// ledger table after it has been quoted for Postgres
func (p postgresDialect) QuotedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return p.QuotedIdent(tableName)
	}
	return p.QuotedIdent(schemaName) + "." + p.QuotedIdent(tableName)
}

// QuotedIdent wraps the supplied string in the Postgres identifier
// quote character
func (p postgresDialect) QuotedIdent(ident string) string {
	if ident == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteRune('"')
	for _, r := range ident {
		switch {
		case unicode.IsSpace(r):
			// Skip spaces
			continue
		case r == '"':
			// Escape double-quotes with repeated double-quotes
			sb.WriteString(`""`)
		case r == ';':
			// Ignore the command termination character
			continue
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteRune('"')
	return sb.String()
}

// advisoryLockID generates a table-specific lock name to use
func (p postgresDialect) advisoryLockID(tableName string) string {
	sum := crc32.ChecksumIEEE([]byte(tableName))
	sum = sum * postgresAdvisoryLockSalt
	return fmt.Sprint(sum)
}

// queryBool runs a single-row, single-column query and scans its boolean
// result.
func queryBool(ctx context.Context, db Queryer, query string) (bool, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	var value bool
	if !rows.Next() {
		return false, fmt.Errorf("no result from %s", strings.TrimSpace(query))
	}
	if err := rows.Scan(&value); err != nil {
		return false, err
	}
	return value, rows.Err()
}
