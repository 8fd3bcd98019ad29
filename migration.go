package stratum

import (
	"crypto/md5" // #nosec not used cryptographically
	"fmt"
	"sort"
	"strings"
)

// Migration is one discrete, ordered schema change: a unique order key, a
// human-readable name, a forward action and (where expressible) a backward
// action. Migrations are constructed once at discovery time and never
// mutated by the engine.
type Migration struct {
	// ID is the unit's order key. Units are applied in ascending lexical
	// ID order and rolled back in descending order, so IDs should carry a
	// sortable prefix (sequence number, date, ULID).
	ID string

	// Name is a human-readable identifier, usually derived from the
	// definition's filename.
	Name string

	// Apply is the ordered forward action.
	Apply []Change

	// Revert is the ordered backward action. When nil, the engine derives
	// it by inverting Apply in reverse order; if any change in Apply has
	// no inverse the unit is irreversible.
	Revert []Change
}

// RevertChanges returns the unit's backward action: the explicit Revert
// sequence when present, otherwise the computed inverse of Apply in reverse
// order. The error wraps ErrNotInvertible when the unit is irreversible.
func (m *Migration) RevertChanges() ([]Change, error) {
	if len(m.Revert) > 0 {
		return m.Revert, nil
	}
	changes := make([]Change, 0, len(m.Apply))
	for i := len(m.Apply) - 1; i >= 0; i-- {
		inverse, err := m.Apply[i].Invert()
		if err != nil {
			return nil, err
		}
		changes = append(changes, inverse)
	}
	return changes, nil
}

// Reversible reports whether the unit has a backward action.
func (m *Migration) Reversible() bool {
	_, err := m.RevertChanges()
	return err == nil
}

// SortMigrations sorts a slice of migrations by their IDs
func SortMigrations(migrations []*Migration) {
	// Adjust execution order so that we apply by ID
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].ID < migrations[j].ID
	})
}

// orderRegistry validates a discovered set of units and returns them sorted
// ascending by ID. The input slice is not modified. Units with a blank ID
// fail with a MalformedUnitError; ID collisions fail with a
// DuplicateKeyError.
func orderRegistry(migrations []*Migration) ([]*Migration, error) {
	ordered := make([]*Migration, len(migrations))
	copy(ordered, migrations)
	SortMigrations(ordered)

	for i, migration := range ordered {
		if migration.ID == "" {
			return nil, &MalformedUnitError{Source: migration.Name, Reason: "blank migration ID"}
		}
		if i > 0 && ordered[i-1].ID == migration.ID {
			return nil, &DuplicateKeyError{Key: migration.ID}
		}
	}
	return ordered, nil
}

// checksum computes the MD5 hex digest of the rendered statements of a
// migration's forward action, for recording alongside its ledger row.
func checksum(statements []string) string {
	sum := md5.Sum([]byte(strings.Join(statements, "\n"))) // #nosec not used cryptographically
	return fmt.Sprintf("%x", sum)
}
