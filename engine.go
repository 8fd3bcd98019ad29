package stratum

import (
	"context"
	"sort"
	"time"
)

// DefaultLockTimeout bounds how long a run waits for the advisory lock
// before failing with a LockContentionError.
const DefaultLockTimeout = 10 * time.Second

// Engine is an instance customized to perform migrations on a particular
// database against a particular ledger table and with a particular dialect
// defined.
type Engine struct {
	SchemaName  string
	TableName   string
	Dialect     Dialect
	Logger      Logger
	LockTimeout time.Duration
}

// NewEngine creates a new Engine with the supplied options
func NewEngine(options ...Option) Engine {
	e := Engine{
		TableName:   DefaultTableName,
		Dialect:     Postgres,
		LockTimeout: DefaultLockTimeout,
	}
	for _, opt := range options {
		e = opt(e)
	}
	return e
}

// QuotedTableName returns the dialect-quoted fully-qualified name for the
// migrations ledger table
func (e *Engine) QuotedTableName() string {
	return e.Dialect.QuotedTableName(e.SchemaName, e.TableName)
}

// Migrate applies every pending unit, in ascending ID order, each inside
// its own transaction together with its ledger row. A limit above zero
// caps how many units run; zero or below means unlimited. The returned
// slice lists the IDs committed by this call, in order, and is valid even
// when err is non-nil: a failure partway through leaves all prior units
// committed, rolls back only the failing unit, and surfaces a
// MigrationFailedError identifying it. Ledger records with no matching
// definition are ignored here, since nothing is pending for them; Status
// still reports them.
func (e *Engine) Migrate(ctx context.Context, db Connection, migrations []*Migration, limit int) (applied []string, err error) {
	applied = make([]string, 0, len(migrations))
	if db == nil {
		return applied, ErrNilDB
	}

	registry, err := orderRegistry(migrations)
	if err != nil {
		return applied, err
	}

	if err = e.lock(ctx, db); err != nil {
		return applied, err
	}
	defer func() {
		if unlockErr := e.unlock(ctx, db); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()

	if err = e.EnsureInitialized(ctx, db); err != nil {
		return applied, err
	}
	records, err := e.GetAppliedMigrations(ctx, db)
	if err != nil {
		return applied, err
	}

	pending := make([]*Migration, 0, len(registry))
	for _, migration := range registry {
		if _, exists := records[migration.ID]; !exists {
			pending = append(pending, migration)
		}
	}
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	for _, migration := range pending {
		// Cancellation is honored between units only; a unit in flight
		// finishes or rolls back through its own transaction.
		if err = ctx.Err(); err != nil {
			return applied, err
		}
		if err = e.applyMigration(ctx, db, migration); err != nil {
			return applied, &MigrationFailedError{ID: migration.ID, Name: migration.Name, Err: err}
		}
		applied = append(applied, migration.ID)
	}
	return applied, nil
}

// Rollback reverts the most recently applied units, in descending ID
// order, each inside its own transaction together with its ledger erase.
// Steps below one is treated as one. Applied ledger records with no
// matching definition fail the whole run with a MissingDefinitionError
// before anything is reverted. An irreversible unit fails with an
// IrreversibleMigrationError before any of its statements run. The
// returned slice lists the IDs reverted by this call, in order, and is
// valid even when err is non-nil.
func (e *Engine) Rollback(ctx context.Context, db Connection, migrations []*Migration, steps int) (reverted []string, err error) {
	reverted = make([]string, 0, steps)
	if db == nil {
		return reverted, ErrNilDB
	}
	if steps < 1 {
		steps = 1
	}

	registry, err := orderRegistry(migrations)
	if err != nil {
		return reverted, err
	}

	if err = e.lock(ctx, db); err != nil {
		return reverted, err
	}
	defer func() {
		if unlockErr := e.unlock(ctx, db); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()

	if err = e.EnsureInitialized(ctx, db); err != nil {
		return reverted, err
	}
	records, err := e.GetAppliedMigrations(ctx, db)
	if err != nil {
		return reverted, err
	}

	if missing := missingDefinitions(registry, records); len(missing) > 0 {
		return reverted, &MissingDefinitionError{Keys: missing}
	}

	candidates := make([]*Migration, 0, len(registry))
	for i := len(registry) - 1; i >= 0; i-- {
		if _, applied := records[registry[i].ID]; applied {
			candidates = append(candidates, registry[i])
		}
	}
	if len(candidates) > steps {
		candidates = candidates[:steps]
	}

	for _, migration := range candidates {
		if err = ctx.Err(); err != nil {
			return reverted, err
		}
		if err = e.revertMigration(ctx, db, migration); err != nil {
			return reverted, err
		}
		reverted = append(reverted, migration.ID)
	}
	return reverted, nil
}

// MigrationStatus reports one unit's standing: pending, applied, or
// orphaned (a ledger record whose definition no longer exists).
type MigrationStatus struct {
	// Migration is nil for orphaned ledger records.
	Migration *Migration

	// Applied is nil for pending units.
	Applied *AppliedMigration
}

// ID returns the unit's order key regardless of standing.
func (s MigrationStatus) ID() string {
	if s.Migration != nil {
		return s.Migration.ID
	}
	return s.Applied.ID
}

// Pending reports whether the unit has yet to be applied.
func (s MigrationStatus) Pending() bool { return s.Applied == nil }

// Orphaned reports whether the ledger records the unit as applied even
// though the registry has no definition for it.
func (s MigrationStatus) Orphaned() bool { return s.Migration == nil }

// Status returns one entry per known unit in ascending ID order: every
// registry unit with its ledger record or pending standing, plus orphaned
// ledger records. It bootstraps the ledger table if needed but takes no
// lock; after a partially-failed run it reflects exactly which units are
// committed.
func (e *Engine) Status(ctx context.Context, db Connection, migrations []*Migration) ([]MigrationStatus, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	registry, err := orderRegistry(migrations)
	if err != nil {
		return nil, err
	}
	if err = e.EnsureInitialized(ctx, db); err != nil {
		return nil, err
	}
	records, err := e.GetAppliedMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(registry))
	defined := make(map[string]bool, len(registry))
	for _, migration := range registry {
		defined[migration.ID] = true
		statuses = append(statuses, MigrationStatus{
			Migration: migration,
			Applied:   records[migration.ID],
		})
	}
	for _, record := range records {
		if !defined[record.ID] {
			statuses = append(statuses, MigrationStatus{Applied: record})
		}
	}
	sortStatuses(statuses)
	return statuses, nil
}

// applyMigration runs one unit's forward action and its ledger insert in a
// single transaction.
func (e *Engine) applyMigration(ctx context.Context, db Connection, migration *Migration) error {
	statements, err := renderAll(migration.Apply, e.Dialect)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	err = transaction(ctx, db, func(tx Queryer) error {
		for _, statement := range statements {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return &AdapterError{Statement: statement, Err: err}
			}
		}
		return e.record(ctx, tx, &AppliedMigration{
			ID:                    migration.ID,
			Name:                  migration.Name,
			Checksum:              checksum(statements),
			ExecutionTimeInMillis: int(time.Since(startedAt).Milliseconds()),
			AppliedAt:             startedAt,
		})
	})
	if err != nil {
		return err
	}

	e.log("Migration '", migration.ID, "' applied in ", time.Since(startedAt))
	return nil
}

// revertMigration runs one unit's backward action and its ledger erase in
// a single transaction.
func (e *Engine) revertMigration(ctx context.Context, db Connection, migration *Migration) error {
	changes, err := migration.RevertChanges()
	if err != nil {
		return &IrreversibleMigrationError{ID: migration.ID, Name: migration.Name}
	}
	statements, err := renderAll(changes, e.Dialect)
	if err != nil {
		return &RollbackFailedError{ID: migration.ID, Name: migration.Name, Err: err}
	}

	startedAt := time.Now()
	err = transaction(ctx, db, func(tx Queryer) error {
		for _, statement := range statements {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return &AdapterError{Statement: statement, Err: err}
			}
		}
		return e.erase(ctx, tx, migration.ID)
	})
	if err != nil {
		return &RollbackFailedError{ID: migration.ID, Name: migration.Name, Err: err}
	}

	e.log("Migration '", migration.ID, "' rolled back in ", time.Since(startedAt))
	return nil
}

func (e *Engine) lock(ctx context.Context, db Queryer) error {
	locker, isLocker := e.Dialect.(Locker)
	if !isLocker {
		return nil
	}
	err := locker.Lock(ctx, db, e.TableName, e.LockTimeout)
	if err == nil {
		e.log("Locked at ", time.Now().Format(time.RFC3339Nano))
	}
	return err
}

func (e *Engine) unlock(ctx context.Context, db Queryer) error {
	locker, isLocker := e.Dialect.(Locker)
	if !isLocker {
		return nil
	}
	err := locker.Unlock(ctx, db, e.TableName)
	if err == nil {
		e.log("Unlocked at ", time.Now().Format(time.RFC3339Nano))
	}
	return err
}

func (e *Engine) log(msgs ...interface{}) {
	if e.Logger != nil {
		e.Logger.Print(msgs...)
	}
}

func missingDefinitions(registry []*Migration, records map[string]*AppliedMigration) []string {
	defined := make(map[string]bool, len(registry))
	for _, migration := range registry {
		defined[migration.ID] = true
	}
	missing := make([]string, 0)
	for id := range records {
		if !defined[id] {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}

func sortStatuses(statuses []MigrationStatus) {
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID() < statuses[j].ID()
	})
}
