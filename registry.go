package stratum

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Migration definitions on disk are .sql files named
//
//	<key>_<name>.up.sql
//	<key>_<name>.down.sql
//
// The stem before .up/.down is the unit's ID; the portion after the first
// underscore is its Name. The down file is optional: a unit without one is
// irreversible. A plain <key>_<name>.sql file is treated as an up script.
// Discovery is a pure read of the definition source.

// MigrationIDFromFilename removes directory paths, extensions and the
// .up/.down direction marker from the filename to make a friendlier
// Migration ID
func MigrationIDFromFilename(filename string) string {
	stem := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	stem = strings.TrimSuffix(stem, ".up")
	stem = strings.TrimSuffix(stem, ".down")
	return stem
}

// migrationNameFromID derives the human-readable portion of a unit's ID:
// everything after the first underscore, or the whole ID when it has no
// ordering prefix.
func migrationNameFromID(id string) string {
	if _, name, found := strings.Cut(id, "_"); found && name != "" {
		return name
	}
	return id
}

type scriptPair struct {
	up      string
	down    string
	hasUp   bool
	hasDown bool
}

// MigrationsFromDirectoryPath retrieves a slice of Migrations from the
// contents of the directory. Only .sql files are read
func MigrationsFromDirectoryPath(dirPath string) (migrations []*Migration, err error) {
	filenames, err := filepath.Glob(path.Join(dirPath, "*.sql"))
	if err != nil {
		return nil, err
	}
	if len(filenames) == 0 {
		if _, statErr := os.Stat(dirPath); statErr != nil {
			return nil, fmt.Errorf("failed to read migrations from '%s': %w", dirPath, statErr)
		}
	}
	return migrationsFromScripts(filenames, func(filename string) (string, error) {
		content, err := os.ReadFile(filename)
		return string(content), err
	})
}

// FSMigrations receives a filesystem (such as an embed.FS) and extracts all
// files matching the provided glob as Migrations.
//
// Example usage:
//
//	FSMigrations(embeddedFS, "my-migrations/*.sql")
func FSMigrations(filesystem fs.FS, glob string) (migrations []*Migration, err error) {
	entries, err := fs.Glob(filesystem, glob)
	if err != nil {
		return nil, fmt.Errorf("failed to process glob '%s' in fs.FS: %w", glob, err)
	}
	return migrationsFromScripts(entries, func(filename string) (string, error) {
		content, err := fs.ReadFile(filesystem, filename)
		return string(content), err
	})
}

// File wraps the standard library io.Read and os.File.Name methods
type File interface {
	Name() string
	Read(b []byte) (n int, err error)
}

// MigrationFromFile builds an up-only migration by reading from an open
// File-like object. The migration's ID and Name are based on the file's
// name. The file will *not* be closed after being read.
func MigrationFromFile(file File) (migration *Migration, err error) {
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration from '%s': %w", file.Name(), err)
	}

	id := MigrationIDFromFilename(file.Name())
	return &Migration{
		ID:    id,
		Name:  migrationNameFromID(id),
		Apply: []Change{RawSQL(string(content))},
	}, nil
}

func migrationsFromScripts(filenames []string, read func(string) (string, error)) ([]*Migration, error) {
	pairs := make(map[string]*scriptPair)
	order := make([]string, 0, len(filenames))

	for _, filename := range filenames {
		content, err := read(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration from '%s': %w", filename, err)
		}

		id := MigrationIDFromFilename(filename)
		pair, exists := pairs[id]
		if !exists {
			pair = &scriptPair{}
			pairs[id] = pair
			order = append(order, id)
		}

		switch {
		case strings.HasSuffix(path.Base(filename), ".down.sql"):
			if pair.hasDown {
				return nil, &DuplicateKeyError{Key: id}
			}
			pair.down = content
			pair.hasDown = true
		default:
			if pair.hasUp {
				return nil, &DuplicateKeyError{Key: id}
			}
			pair.up = content
			pair.hasUp = true
		}
	}

	migrations := make([]*Migration, 0, len(pairs))
	for _, id := range order {
		pair := pairs[id]
		if !pair.hasUp {
			return nil, &MalformedUnitError{
				Source: id,
				Reason: "down script without a matching up script",
			}
		}
		migration := &Migration{
			ID:    id,
			Name:  migrationNameFromID(id),
			Apply: []Change{RawSQL(pair.up)},
		}
		if pair.hasDown {
			migration.Apply = []Change{ReversibleRawSQL(pair.up, pair.down)}
			migration.Revert = []Change{ReversibleRawSQL(pair.down, pair.up)}
		}
		migrations = append(migrations, migration)
	}
	return migrations, nil
}
