package stratum

import "time"

// Option supports option chaining when creating an Engine.
// An Option is a function which takes an Engine and
// returns an Engine with an Option modified.
type Option func(e Engine) Engine

// WithDialect builds an Option which will set the supplied
// dialect on an Engine. Usage: NewEngine(WithDialect(MySQL))
func WithDialect(dialect Dialect) Option {
	return func(e Engine) Engine {
		e.Dialect = dialect
		return e
	}
}

// WithTableName is an option which customizes the name of the ledger
// table. It can be called with either 1 or 2 string arguments. If
// called with 2 arguments, the first argument is assumed to be a schema
// qualifier (for example, WithTableName("public", "stratum_migrations")
// would assign the table named "stratum_migrations" in the default
// "public" schema for Postgres)
func WithTableName(names ...string) Option {
	return func(e Engine) Engine {
		switch len(names) {
		case 0:
			// No-op if no customization was provided
		case 1:
			e.TableName = names[0]
		default:
			e.SchemaName = names[0]
			e.TableName = names[1]
		}
		return e
	}
}

// WithLockTimeout is an Option which bounds how long Migrate and Rollback
// wait for the advisory lock before failing with a LockContentionError.
func WithLockTimeout(timeout time.Duration) Option {
	return func(e Engine) Engine {
		e.LockTimeout = timeout
		return e
	}
}

// Logger is the interface for logging operations of the logger.
// By default the engine operates silently. Providing a Logger
// enables output of the engine's operations.
type Logger interface {
	Print(...interface{})
}

// WithLogger builds an Option which will set the supplied Logger
// on an Engine. Usage: NewEngine(WithLogger(logrus.New()))
func WithLogger(logger Logger) Option {
	return func(e Engine) Engine {
		e.Logger = logger
		return e
	}
}
