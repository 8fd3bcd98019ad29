package stratum

import (
	"context"
	"database/sql"
	"fmt"
)

// DefaultTableName defines the name of the database table which will
// hold the ledger of applied migrations
const DefaultTableName = "stratum_migrations"

// Queryer is something which can execute a statement or query (either a
// sql.DB or a sql.Tx)
type Queryer interface {
	ExecContext(ctx context.Context, sql string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, sql string, args ...interface{}) (*sql.Rows, error)
}

// Transactor defines the interface for the BeginTx method from the *sql.DB
type Transactor interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Connection defines the interface for a *sql.DB, which can both start a new
// transaction and run queries
type Connection interface {
	Transactor
	Queryer
}

// transaction wraps the supplied function in a transaction with the supplied
// database connection. The transaction commits if f returns nil and rolls
// back if f returns an error or panics.
func transaction(ctx context.Context, db Transactor, f func(tx Queryer) error) (err error) {
	if db == nil {
		return ErrNilDB
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			switch p := p.(type) {
			case error:
				err = p
			default:
				err = fmt.Errorf("%s", p)
			}
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	return f(tx)
}
