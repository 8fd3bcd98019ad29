// Package command provides the root and sub-commands for the stratum
// CLI. Commands are organized using the cobra library.
// Three sub-commands cover the migration actions: "migrate" applies
// pending migration units, "rollback" unwinds the most recently applied
// ones, and "status" reports the standing of every known unit. All
// three read the same YAML config file, which names the database driver
// and DSN, the directory of migration scripts, and the ledger table.
//
//	./stratum migrate [--limit N] [-c /path/of/config.yaml]
//	./stratum rollback [--steps N] [-c /path/of/config.yaml]
//	./stratum status [-c /path/of/config.yaml]
package command

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/stratumdb/stratum"

	// Postgres database driver
	_ "github.com/lib/pq"

	// MySQL database driver
	_ "github.com/go-sql-driver/mysql"

	// SQLite database driver
	_ "github.com/mattn/go-sqlite3"

	// MSSQL database driver
	_ "github.com/microsoft/go-mssqldb"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Apply and roll back SQL schema migrations",
	Long: `Stratum keeps a database schema in step with an ordered set of
migration scripts. Each script pair <key>_<name>.up.sql and
<key>_<name>.down.sql forms one migration unit; units apply in ascending
key order, each inside its own transaction together with its row in the
migrations ledger table, so an interrupted run leaves the database on a
clean unit boundary. Concurrent runs against the same ledger serialize
through a database-level lock.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the rootCmd, which parses CLI arguments and flags and
// runs the most specific cobra command. Each engine error kind carries
// its own exit code, so scripts driving the CLI can react to (say) lock
// contention differently from a failed migration.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(stratum.ExitCode(err))
	}
}

func init() {
	cobra.OnInitialize(fixConfigPath)
	rootCmd.PersistentFlags().StringVarP(
		&cfgPath, "config", "c", "", "config file path",
	)
}

// fixConfigPath ensures that cfgPath is set respectively by either the
// CLI args, the STRATUM_CONFIG environment variable, or its default
// value.
func fixConfigPath() {
	if cfgPath != "" {
		return
	}
	var found bool
	if cfgPath, found = os.LookupEnv("STRATUM_CONFIG"); !found {
		cfgPath = "stratum.yaml"
	}
}

// slogPrinter adapts a slog.Logger to the engine's Logger interface, so
// the engine's progress lines land in the CLI's structured log output.
type slogPrinter struct {
	logger *slog.Logger
}

func (p slogPrinter) Print(msgs ...interface{}) {
	p.logger.Info(fmt.Sprint(msgs...))
}

// runEnv bundles everything a sub-command needs for one run: the parsed
// config, an engine configured from it, an open connection, and the
// migration units discovered in the configured directory.
type runEnv struct {
	cfg        *Config
	engine     stratum.Engine
	db         *sql.DB
	migrations []*stratum.Migration
}

func setup(ctx context.Context) (*runEnv, error) {
	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	options := append(cfg.Options(), stratum.WithLogger(slogPrinter{logger: logger}))
	engine := stratum.NewEngine(options...)

	db, err := cfg.Open()
	if err != nil {
		return nil, err
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}

	migrations, err := stratum.MigrationsFromDirectoryPath(cfg.Migrations)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &runEnv{cfg: cfg, engine: engine, db: db, migrations: migrations}, nil
}

func (e *runEnv) Close() {
	_ = e.db.Close()
}
