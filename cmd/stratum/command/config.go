package command

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/stratumdb/stratum"
	"gopkg.in/yaml.v3"
)

// DefaultLockTimeout is used when the config file leaves lock_timeout
// unset.
const DefaultLockTimeout = Duration(stratum.DefaultLockTimeout)

// Duration is a specialization of time.Duration which YAML-decodes from
// the time.ParseDuration format, e.g. "30s" or "2m".
type Duration time.Duration

// UnmarshalText reifies the encoding.TextUnmarshaler interface, so a
// scalar read from a YAML file can be decoded as a time duration.
func (d *Duration) UnmarshalText(data []byte) error {
	dd, err := time.ParseDuration(string(data))
	if err != nil {
		return err
	}
	*d = Duration(dd)
	return nil
}

// Config carries everything one stratum run needs: where the database
// is, where the migration scripts are, and which ledger table tracks
// them.
type Config struct {
	// Driver selects the database dialect and driver: "postgres",
	// "mysql", "sqlite" or "mssql".
	Driver string `yaml:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `yaml:"dsn"`

	// Migrations is the directory holding <key>_<name>.up.sql and
	// <key>_<name>.down.sql script pairs.
	Migrations string `yaml:"migrations"`

	// Schema optionally qualifies the ledger table name.
	Schema string `yaml:"schema"`

	// Table overrides the default ledger table name.
	Table string `yaml:"table"`

	// LockTimeout bounds how long a run waits for the migration lock.
	LockTimeout Duration `yaml:"lock_timeout"`
}

// LoadConfig reads and validates the YAML config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := Config{LockTimeout: DefaultLockTimeout}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks that the config names a known driver and carries the
// required connection settings.
func (c *Config) Validate() error {
	if _, err := c.Dialect(); err != nil {
		return err
	}
	if c.DSN == "" {
		return fmt.Errorf("dsn must be set")
	}
	if c.Migrations == "" {
		return fmt.Errorf("migrations directory must be set")
	}
	return nil
}

// Dialect maps the configured driver name to its engine dialect.
func (c *Config) Dialect() (stratum.Dialect, error) {
	switch c.Driver {
	case "postgres":
		return stratum.Postgres, nil
	case "mysql":
		return stratum.MySQL, nil
	case "sqlite", "sqlite3":
		return stratum.SQLite, nil
	case "mssql", "sqlserver":
		return stratum.MSSQL, nil
	}
	return nil, fmt.Errorf("unknown driver '%s' (want postgres, mysql, sqlite or mssql)", c.Driver)
}

func (c *Config) driverName() string {
	switch c.Driver {
	case "sqlite", "sqlite3":
		return stratum.SQLiteDriverName
	case "mssql", "sqlserver":
		return stratum.MSSQLDriverName
	}
	return c.Driver
}

// Options translates the config into engine options.
func (c *Config) Options() []stratum.Option {
	dialect, _ := c.Dialect()
	options := []stratum.Option{
		stratum.WithDialect(dialect),
		stratum.WithLockTimeout(time.Duration(c.LockTimeout)),
	}
	switch {
	case c.Schema != "":
		table := c.Table
		if table == "" {
			table = stratum.DefaultTableName
		}
		options = append(options, stratum.WithTableName(c.Schema, table))
	case c.Table != "":
		options = append(options, stratum.WithTableName(c.Table))
	}
	return options
}

// Open connects to the configured database. The pool is pinned to a
// single connection: the Postgres, MySQL and MSSQL migration locks are
// session-scoped, so lock and unlock must happen on the same underlying
// connection.
func (c *Config) Open() (*sql.DB, error) {
	db, err := sql.Open(c.driverName(), c.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", c.Driver, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
