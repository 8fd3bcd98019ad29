package stratum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
)

var (
	// ErrBeginFailed indicates that the BeginTx() method failed (couldn't start Tx)
	ErrBeginFailed = fmt.Errorf("Begin Failed")
)

// BadQueryer implements the Connection interface, but fails on every call to
// ExecContext or QueryContext. The error message will include the SQL
// statement to help verify the "right" failure occurred.
type BadQueryer struct{}

func (bq BadQueryer) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, nil
}

func (bq BadQueryer) ExecContext(ctx context.Context, sql string, args ...interface{}) (sql.Result, error) {
	return nil, fmt.Errorf("FAIL: %s", strings.TrimSpace(sql))
}

func (bq BadQueryer) QueryContext(ctx context.Context, sql string, args ...interface{}) (*sql.Rows, error) {
	return nil, fmt.Errorf("FAIL: %s", strings.TrimSpace(sql))
}

// BadTransactor implements the Connection interface with no-ops for
// ExecContext() and QueryContext(), and failures on all calls to BeginTx()
type BadTransactor struct{}

func (bt BadTransactor) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return nil, ErrBeginFailed
}

func (bt BadTransactor) ExecContext(ctx context.Context, sql string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (bt BadTransactor) QueryContext(ctx context.Context, sql string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

// TestRunFailure ensures that a low-level connection or query-related failure
// triggers an expected error.
func TestRunFailure(t *testing.T) {
	ctx := context.Background()
	bq := BadQueryer{}
	engine := makeTestEngine(WithDialect(NewSQLite()))

	// The run fails at the first statement the connection sees, which is
	// the lock table bootstrap
	_, err := engine.Migrate(ctx, bq, testMigrations(t, "useless-ansi"), 0)
	expectErrorContains(t, err, DefaultSQLiteLockTable)

	_, err = engine.GetAppliedMigrations(ctx, bq)
	expectErrorContains(t, err, "SELECT id, name, checksum")
}

// TestBeginFailure ensures that a connection which cannot start
// transactions surfaces the begin error.
func TestBeginFailure(t *testing.T) {
	ctx := context.Background()
	bt := BadTransactor{}
	engine := makeTestEngine(WithDialect(NewSQLite()))

	_, err := engine.Migrate(ctx, bt, testMigrations(t, "useless-ansi"), 0)
	if !errors.Is(err, ErrBeginFailed) {
		t.Errorf("Expected error '%s'. Got '%v'.", ErrBeginFailed, err)
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, ExitOK},
		{fmt.Errorf("some other failure"), ExitFailure},
		{&DuplicateKeyError{Key: "0001"}, ExitDuplicateKey},
		{&MalformedUnitError{Source: "x", Reason: "y"}, ExitMalformedUnit},
		{&DuplicateRecordError{Key: "0001"}, ExitDuplicateRecord},
		{&NotFoundError{Key: "0001"}, ExitNotFound},
		{&MissingDefinitionError{Keys: []string{"0001"}}, ExitMissingDefinition},
		{&IrreversibleMigrationError{ID: "0001"}, ExitIrreversible},
		{&MigrationFailedError{ID: "0001", Err: ErrBeginFailed}, ExitMigrationFailed},
		{&RollbackFailedError{ID: "0001", Err: ErrBeginFailed}, ExitRollbackFailed},
		{&LockContentionError{TableName: "t"}, ExitLockContention},
		{fmt.Errorf("wrapped: %w", &LockContentionError{TableName: "t"}), ExitLockContention},
	}
	for _, c := range cases {
		if got := ExitCode(c.err); got != c.want {
			t.Errorf("ExitCode(%v): expected %d, got %d", c.err, c.want, got)
		}
	}
}

func TestErrorMessagesIdentifyTheUnit(t *testing.T) {
	failed := &MigrationFailedError{ID: "0003", Name: "bad statement", Err: fmt.Errorf("boom")}
	expectErrorContains(t, failed, "0003")
	expectErrorContains(t, failed, "boom")

	rollback := &RollbackFailedError{ID: "0002", Name: "seed", Err: fmt.Errorf("bang")}
	expectErrorContains(t, rollback, "0002")
	expectErrorContains(t, rollback, "bang")

	missing := &MissingDefinitionError{Keys: []string{"0001", "0002"}}
	expectErrorContains(t, missing, "0001, 0002")

	adapter := &AdapterError{Statement: "  CREATE TIBBLE x  ", Err: fmt.Errorf("syntax error")}
	expectErrorContains(t, adapter, "CREATE TIBBLE x")
	if !errors.Is(failed, failed.Err) || !errors.Is(rollback, rollback.Err) || !errors.Is(adapter, adapter.Err) {
		t.Error("Expected wrapping errors to unwrap to their cause")
	}
}
