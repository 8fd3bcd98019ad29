package stratum

import (
	"context"
	"database/sql"
	"fmt"
	"hash/crc32"
	"strings"
	"time"
)

const mysqlLockSalt uint32 = 617829053

// MySQLDriverName is the database/sql driver name registered by
// go-sql-driver/mysql
const MySQLDriverName = "mysql"

// MySQL is the dialect which should be used for MySQL/MariaDB databases
var MySQL = mysqlDialect{}

type mysqlDialect struct{}

// Lock implements the Locker interface to obtain an exclusive named lock
// before a run. GET_LOCK is session-bound, so a crashed holder releases it
// when its connection dies. A 0 result after the timeout means another
// session holds the lock, which surfaces as a LockContentionError.
func (m mysqlDialect) Lock(ctx context.Context, db Queryer, tableName string, timeout time.Duration) error {
	query := fmt.Sprintf(`SELECT GET_LOCK('%s', %d)`, m.advisoryLockID(tableName), int(timeout.Seconds()))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	var acquired sql.NullInt64
	if !rows.Next() {
		return fmt.Errorf("no result from GET_LOCK")
	}
	if err := rows.Scan(&acquired); err != nil {
		return err
	}
	if !acquired.Valid || acquired.Int64 != 1 {
		return &LockContentionError{TableName: tableName}
	}
	return rows.Err()
}

// Unlock implements the Locker interface to release the named lock after a
// run.
func (m mysqlDialect) Unlock(ctx context.Context, db Queryer, tableName string) error {
	query := fmt.Sprintf(`SELECT RELEASE_LOCK('%s')`, m.advisoryLockID(tableName))
	_, err := db.ExecContext(ctx, query)
	return err
}

// CreateLedgerTable implements the Dialect interface to create the
// table which tracks applied migrations. It only creates the table if it
// does not already exist
func (m mysqlDialect) CreateLedgerTable(ctx context.Context, tx Queryer, tableName string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL DEFAULT '',
			checksum VARCHAR(32) NOT NULL DEFAULT '',
			execution_time_in_millis INTEGER NOT NULL DEFAULT 0,
			applied_at TIMESTAMP NOT NULL
		)`, tableName)
	_, err := tx.ExecContext(ctx, query)
	return err
}

// InsertAppliedMigration implements the Dialect interface to insert a ledger
// record *after* a unit's forward action has successfully run.
func (m mysqlDialect) InsertAppliedMigration(ctx context.Context, tx Queryer, tableName string, record *AppliedMigration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s
		( id, name, checksum, execution_time_in_millis, applied_at )
		VALUES
		( ?, ?, ?, ?, ? )
		`, tableName,
	)
	_, err := tx.ExecContext(ctx, query, record.ID, record.Name, record.Checksum, record.ExecutionTimeInMillis, record.AppliedAt)
	return err
}

// DeleteAppliedMigration implements the Dialect interface to remove the
// ledger record of a rolled-back unit.
func (m mysqlDialect) DeleteAppliedMigration(ctx context.Context, tx Queryer, tableName string, id string) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableName)
	result, err := tx.ExecContext(ctx, query, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetAppliedMigrations retrieves all data from the migrations ledger table
func (m mysqlDialect) GetAppliedMigrations(ctx context.Context, tx Queryer, tableName string) (migrations []*AppliedMigration, err error) {
	migrations = make([]*AppliedMigration, 0)

	query := fmt.Sprintf(`
		SELECT id, name, checksum, execution_time_in_millis, applied_at
		FROM %s
		ORDER BY id ASC`, tableName)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return migrations, err
	}
	defer rows.Close()

	for rows.Next() {
		migration := AppliedMigration{}

		var appliedAt mysqlTime
		err = rows.Scan(&migration.ID, &migration.Name, &migration.Checksum, &migration.ExecutionTimeInMillis, &appliedAt)
		if err != nil {
			err = fmt.Errorf("failed to GetAppliedMigrations. Did somebody change the structure of the %s table?: %w", tableName, err)
			return migrations, err
		}
		migration.AppliedAt = appliedAt.Value
		migrations = append(migrations, &migration)
	}

	return migrations, err
}

// AddColumnSQL renders a column addition for MySQL
func (m mysqlDialect) AddColumnSQL(table, columnDef string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", m.quotedIdent(table), columnDef)
}

// RenameTableSQL renders a table rename for MySQL
func (m mysqlDialect) RenameTableSQL(table, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", m.quotedIdent(table), m.quotedIdent(newName))
}

// RenameColumnSQL renders a column rename for MySQL 8+
func (m mysqlDialect) RenameColumnSQL(table, column, newName string) string {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", m.quotedIdent(table), m.quotedIdent(column), m.quotedIdent(newName))
}

// DropIndexSQL renders an index drop for MySQL, which scopes indexes to
// their table
func (m mysqlDialect) DropIndexSQL(table, index string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP INDEX %s", m.quotedIdent(table), m.quotedIdent(index))
}

// QuotedTableName returns the string value of the name of the migration
// ledger table after it has been quoted for MySQL
func (m mysqlDialect) QuotedTableName(schemaName, tableName string) string {
	if schemaName == "" {
		return m.quotedIdent(tableName)
	}
	return m.quotedIdent(schemaName) + "." + m.quotedIdent(tableName)
}

// QuotedIdent wraps the supplied string in the MySQL identifier
// quote character
func (m mysqlDialect) QuotedIdent(ident string) string {
	return m.quotedIdent(ident)
}

func (m mysqlDialect) quotedIdent(ident string) string {
	if ident == "" {
		return ""
	}
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// advisoryLockID generates a table-specific lock name to use
func (m mysqlDialect) advisoryLockID(tableName string) string {
	sum := crc32.ChecksumIEEE([]byte(tableName))
	sum = sum * mysqlLockSalt
	return fmt.Sprint(sum)
}

type mysqlTime struct {
	Value time.Time
}

func (t *mysqlTime) Scan(src interface{}) (err error) {
	if src == nil {
		t.Value = time.Time{}
	}

	if srcTime, isTime := src.(time.Time); isTime {
		t.Value = srcTime.In(time.Local)
		return nil
	}

	return t.ScanString(fmt.Sprintf("%s", src))
}

func (t *mysqlTime) ScanString(src string) (err error) {
	switch len(src) {
	case 19:
		t.Value, err = time.ParseInLocation("2006-01-02 15:04:05", src, time.UTC)
		if err != nil {
			return err
		}
	}
	t.Value = t.Value.In(time.Local)
	return nil
}
