package stratum

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// Interface verification that Postgres is a valid Dialect which takes
// an advisory lock
var (
	_ Dialect = Postgres
	_ Locker  = Postgres
)

func TestPostgresQuotedTableName(t *testing.T) {
	type qtnTest struct {
		schema, table string
		expected      string
	}
	tests := []qtnTest{
		{"public", "users", `"public"."users"`},
		{"schema.with.dot", "table.with.dot", `"schema.with.dot"."table.with.dot"`},
		{`public"`, `"; DROP TABLE users`, `"public"""."""DROPTABLEusers"`},
	}
	for _, test := range tests {
		actual := Postgres.QuotedTableName(test.schema, test.table)
		if actual != test.expected {
			t.Errorf("Expected %s, got %s", test.expected, actual)
		}
	}
}

func TestPostgresQuotedIdent(t *testing.T) {
	table := map[string]string{
		"":                  "",
		"MY_TABLE":          `"MY_TABLE"`,
		"users_roles":       `"users_roles"`,
		"table.with.dot":    `"table.with.dot"`,
		`table"with"quotes`: `"table""with""quotes"`,
	}
	for ident, expected := range table {
		actual := Postgres.QuotedIdent(ident)
		if expected != actual {
			t.Errorf("Expected %s, got %s", expected, actual)
		}
	}
}

func TestPostgresLockAcquired(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}

	rows := sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true)
	mock.ExpectQuery("^SELECT pg_try_advisory_lock").RowsWillBeClosed().WillReturnRows(rows)

	if err := Postgres.Lock(context.Background(), db, "stratum_migrations", 0); err != nil {
		t.Errorf("Expected the lock to be acquired. Got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPostgresLockContention(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}

	// A held advisory lock makes pg_try_advisory_lock report false. With a
	// zero timeout the first failed attempt exhausts the deadline.
	rows := sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false)
	mock.ExpectQuery("^SELECT pg_try_advisory_lock").RowsWillBeClosed().WillReturnRows(rows)

	err = Postgres.Lock(context.Background(), db, "stratum_migrations", 0)
	var contention *LockContentionError
	if !errors.As(err, &contention) {
		t.Errorf("Expected a LockContentionError. Got %v", err)
	}
}

// TestPostgresMultiStatementMigrations ensures a raw migration with several
// statements runs atomically, and that a schema-qualified ledger table name
// works against a live server.
func TestPostgresMultiStatementMigrations(t *testing.T) {
	tdb := TestDBs["postgres:latest"]
	if !tdb.IsRunnable() {
		t.Skip("postgres:latest is not available in this environment")
	}
	db := tdb.Connect(t)
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	artists := uniqueName("artists")
	albums := uniqueName("albums")
	tableName := uniqueName("musicdatabase_migrations")
	engine := NewEngine(WithDialect(Postgres), WithTableName(tableName))

	migrationSet1 := []*Migration{
		{
			ID: "2019-09-23 Create Artists and Albums",
			Apply: []Change{RawSQL(fmt.Sprintf(`
		CREATE TABLE %[1]s (
			id SERIAL PRIMARY KEY,
			name CHARACTER VARYING (255) NOT NULL DEFAULT ''
		);
		CREATE UNIQUE INDEX idx_%[1]s_name ON %[1]s (name);
		CREATE TABLE %[2]s (
			id SERIAL PRIMARY KEY,
			title CHARACTER VARYING (255) NOT NULL DEFAULT '',
			artist_id INTEGER NOT NULL REFERENCES %[1]s(id)
		);
		`, artists, albums))},
		},
	}
	if _, err := engine.Migrate(ctx, db, migrationSet1, 0); err != nil {
		t.Error(err)
	}
	if _, err := engine.Migrate(ctx, db, migrationSet1, 0); err != nil {
		t.Error(err)
	}

	secondEngineWithPublicSchema := NewEngine(WithDialect(Postgres), WithTableName("public", tableName))
	migrationSet2 := []*Migration{
		{
			ID: "2019-09-24 Create Tracks",
			Apply: []Change{RawSQL(fmt.Sprintf(`
		CREATE TABLE %s (
			id SERIAL PRIMARY KEY,
			name CHARACTER VARYING (255) NOT NULL DEFAULT '',
			artist_id INTEGER NOT NULL REFERENCES %s(id)
		);`, uniqueName("tracks"), artists))},
		},
	}
	if _, err := secondEngineWithPublicSchema.Migrate(ctx, db, migrationSet2, 0); err != nil {
		t.Error(err)
	}
}
