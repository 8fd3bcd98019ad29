package stratum

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// MSSQLDriverName is the database/sql driver name registered by
// microsoft/go-mssqldb
const MSSQLDriverName = "sqlserver"

// MSSQL is the dialect for MS SQL-compatible databases
var MSSQL = mssqlDialect{}

type mssqlDialect struct{}

// Lock implements the Locker interface with sp_getapplock. The lock is
// owned by the session, so a crashed holder releases it when its
// connection dies. A negative return value after the timeout surfaces as
// a LockContentionError.
func (s mssqlDialect) Lock(ctx context.Context, db Queryer, tableName string, timeout time.Duration) error {
	query := fmt.Sprintf(`
		DECLARE @lockResult INT;
		EXEC @lockResult = sp_getapplock
			@Resource = '%s',
			@LockMode = 'Exclusive',
			@LockOwner = 'Session',
			@LockTimeout = %d;
		SELECT @lockResult;`, s.lockResourceName(tableName), timeout.Milliseconds())

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	var result int
	if !rows.Next() {
		return fmt.Errorf("no result from sp_getapplock")
	}
	if err := rows.Scan(&result); err != nil {
		return err
	}
	if result < 0 {
		return &LockContentionError{TableName: tableName}
	}
	return rows.Err()
}

// Unlock implements the Locker interface to release the session lock after
// a run.
func (s mssqlDialect) Unlock(ctx context.Context, db Queryer, tableName string) error {
	query := fmt.Sprintf(`
		EXEC sp_releaseapplock
			@Resource = '%s',
			@LockOwner = 'Session';`, s.lockResourceName(tableName))
	_, err := db.ExecContext(ctx, query)
	return err
}

func (s mssqlDialect) lockResourceName(tableName string) string {
	return "stratum-" + strings.ReplaceAll(tableName, "'", "")
}

// CreateLedgerTable implements the Dialect interface to create the
// table which tracks applied migrations. It only creates the table if it
// does not already exist
func (s mssqlDialect) CreateLedgerTable(ctx context.Context, tx Queryer, tableName string) error {
	unquotedTableName := tableName[1 : len(tableName)-1]
	query := fmt.Sprintf(`
		IF NOT EXISTS (SELECT * FROM Sysobjects WHERE NAME='%s' AND XTYPE='U')
			CREATE TABLE %s (
				id VARCHAR(255) NOT NULL PRIMARY KEY,
				name VARCHAR(255) NOT NULL DEFAULT '',
				checksum VARCHAR(32) NOT NULL DEFAULT '',
				execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
				applied_at DATETIMEOFFSET NOT NULL
			)
	`, unquotedTableName, tableName)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// GetAppliedMigrations retrieves all data from the migrations ledger table
func (s mssqlDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
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

// InsertAppliedMigration implements the Dialect interface to insert a ledger
// record *after* a unit's forward action has successfully run.
func (s mssqlDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, record *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, name, checksum, execution_time_in_millis, applied_at )
		VALUES
		( @p1, @p2, @p3, @p4, @p5 )`,
		tableName,
	)
	_, err := tx.ExecContext(ctx, query, record.ID, record.Name, record.Checksum, record.ExecutionTimeInMillis, record.AppliedAt)
	return err
}

// DeleteAppliedMigration implements the Dialect interface to remove the
// ledger record of a rolled-back unit.
func (s mssqlDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, id string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = @p1`, tableName)
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// AddColumnSQL renders a column addition for MSSQL, whose ALTER TABLE
// syntax omits the COLUMN keyword
func (s mssqlDialect) AddColumnSQL(table, columnDef string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s", s.QuotedIdent(table), columnDef)
}

// RenameTableSQL renders a table rename for MSSQL, which uses the
// sp_rename procedure instead of ALTER TABLE
func (s mssqlDialect) RenameTableSQL(table, newName string) string {
	return fmt.Sprintf("EXEC sp_rename '%s', '%s'", s.unquoted(table), s.unquoted(newName))
}

// RenameColumnSQL renders a column rename for MSSQL
func (s mssqlDialect) RenameColumnSQL(table, column, newName string) string {
	return fmt.Sprintf("EXEC sp_rename '%s.%s', '%s', 'COLUMN'", s.unquoted(table), s.unquoted(column), s.unquoted(newName))
}

// DropIndexSQL renders an index drop for MSSQL, which scopes indexes to
// their table
func (s mssqlDialect) DropIndexSQL(table, index string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", s.QuotedIdent(index), s.QuotedIdent(table))
}

func (s mssqlDialect) unquoted(ident string) string {
	return strings.ReplaceAll(ident, "'", "")
}

func (s mssqlDialect) QuotedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return s.QuotedIdent(tableName)
	}
	return fmt.Sprintf("%s.%s", s.QuotedIdent(schemaName), s.QuotedIdent(tableName))
}

func (s mssqlDialect) QuotedIdent(ident string) string {
	if ident == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteRune('[')
	for _, r := range ident {
		switch {
		case unicode.IsSpace(r):
			continue
		case r == ';':
			continue
		case r == ']':
			sb.WriteRune(r)
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteRune(']')

	return sb.String()
}
