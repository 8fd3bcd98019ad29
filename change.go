package stratum

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotInvertible is returned by Change.Invert for changes whose inverse
// cannot be computed (raw SQL without a reverse script, or information-losing
// changes such as dropping a table or column).
var ErrNotInvertible = errors.New("change is not invertible")

// ChangeKind enumerates the schema mutations a Change can describe.
type ChangeKind string

const (
	KindCreateTable  ChangeKind = "create_table"
	KindDropTable    ChangeKind = "drop_table"
	KindRenameTable  ChangeKind = "rename_table"
	KindAddColumn    ChangeKind = "add_column"
	KindRemoveColumn ChangeKind = "remove_column"
	KindRenameColumn ChangeKind = "rename_column"
	KindAddIndex     ChangeKind = "add_index"
	KindRemoveIndex  ChangeKind = "remove_index"
	KindRawSQL       ChangeKind = "raw_sql"
)

// Column describes one column of a table: its name, its SQL type expression
// (passed through to the database verbatim), and optional constraints.
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool

	// Default is a raw SQL default expression. String literals must carry
	// their own quotes, e.g. Default: "'pizza'".
	Default string
}

// Index describes a (possibly unique) index over one or more columns. A blank
// Name gets a generated idx_<table>_<columns> name at render time.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

func (ix Index) name(table string) string {
	if ix.Name != "" {
		return ix.Name
	}
	return "idx_" + table + "_" + strings.Join(ix.Columns, "_")
}

// Change is a declarative descriptor of one schema mutation. Only the fields
// relevant to its Kind are populated. Changes are constructed through the
// CreateTable, AddColumn, RawSQL (etc.) helpers and are value types: the
// engine never mutates them.
type Change struct {
	Kind  ChangeKind
	Table string

	// Rename targets
	NewTableName  string
	NewColumnName string

	// Column payloads: Columns for create_table, Column for add_column,
	// remove_column and rename_column.
	Columns []Column
	Column  Column

	// Index payload for add_index and remove_index.
	Index Index

	// Raw statements for raw_sql. ReverseSQL may be blank, which makes the
	// change irreversible.
	SQL        string
	ReverseSQL string
}

// CreateTable describes creation of a new table with the supplied columns.
func CreateTable(table string, columns ...Column) Change {
	return Change{Kind: KindCreateTable, Table: table, Columns: columns}
}

// DropTable describes removal of a table. Dropping loses the table's
// definition and contents, so the change is irreversible.
func DropTable(table string) Change {
	return Change{Kind: KindDropTable, Table: table}
}

// RenameTable describes renaming a table.
func RenameTable(table, newName string) Change {
	return Change{Kind: KindRenameTable, Table: table, NewTableName: newName}
}

// AddColumn describes adding a column to an existing table.
func AddColumn(table string, column Column) Change {
	return Change{Kind: KindAddColumn, Table: table, Column: column}
}

// RemoveColumn describes dropping a column. Dropping loses the column's
// definition and contents, so the change is irreversible.
func RemoveColumn(table, column string) Change {
	return Change{Kind: KindRemoveColumn, Table: table, Column: Column{Name: column}}
}

// RenameColumn describes renaming a column within a table.
func RenameColumn(table, column, newName string) Change {
	return Change{Kind: KindRenameColumn, Table: table, Column: Column{Name: column}, NewColumnName: newName}
}

// AddIndex describes creating an index. The full Index definition is carried
// so the change can be inverted.
func AddIndex(table string, index Index) Change {
	return Change{Kind: KindAddIndex, Table: table, Index: index}
}

// RemoveIndex describes dropping an index. Supply the full Index definition
// (not just the name) if the change needs to be invertible.
func RemoveIndex(table string, index Index) Change {
	return Change{Kind: KindRemoveIndex, Table: table, Index: index}
}

// RawSQL describes an opaque forward statement with no computable inverse.
func RawSQL(sql string) Change {
	return Change{Kind: KindRawSQL, SQL: sql}
}

// ReversibleRawSQL describes an opaque forward statement paired with an
// explicit reverse statement.
func ReversibleRawSQL(sql, reverseSQL string) Change {
	return Change{Kind: KindRawSQL, SQL: sql, ReverseSQL: reverseSQL}
}

// Invert returns the structural inverse of the change, or ErrNotInvertible
// for information-losing kinds (drop_table, remove_column), raw SQL without
// a reverse statement, and remove_index descriptors which don't carry the
// index's column list.
func (c Change) Invert() (Change, error) {
	switch c.Kind {
	case KindCreateTable:
		return DropTable(c.Table), nil
	case KindRenameTable:
		return RenameTable(c.NewTableName, c.Table), nil
	case KindAddColumn:
		return RemoveColumn(c.Table, c.Column.Name), nil
	case KindRenameColumn:
		return RenameColumn(c.Table, c.NewColumnName, c.Column.Name), nil
	case KindAddIndex:
		return RemoveIndex(c.Table, c.Index), nil
	case KindRemoveIndex:
		if len(c.Index.Columns) == 0 {
			return Change{}, fmt.Errorf("remove_index on '%s' lacks column definitions: %w", c.Table, ErrNotInvertible)
		}
		return AddIndex(c.Table, c.Index), nil
	case KindRawSQL:
		if c.ReverseSQL == "" {
			return Change{}, fmt.Errorf("raw_sql change has no reverse statement: %w", ErrNotInvertible)
		}
		return ReversibleRawSQL(c.ReverseSQL, c.SQL), nil
	case KindDropTable:
		return Change{}, fmt.Errorf("drop_table '%s' loses the table definition: %w", c.Table, ErrNotInvertible)
	case KindRemoveColumn:
		return Change{}, fmt.Errorf("remove_column '%s.%s' loses the column definition: %w", c.Table, c.Column.Name, ErrNotInvertible)
	}
	return Change{}, fmt.Errorf("unknown change kind '%s'", c.Kind)
}

// Render produces the SQL statement for this change in the supplied dialect.
func (c Change) Render(d Dialect) (string, error) {
	switch c.Kind {
	case KindCreateTable:
		if len(c.Columns) == 0 {
			return "", fmt.Errorf("create_table '%s' has no columns", c.Table)
		}
		defs := make([]string, 0, len(c.Columns))
		for _, col := range c.Columns {
			defs = append(defs, columnDef(d, col))
		}
		return fmt.Sprintf("CREATE TABLE %s (%s)", d.QuotedIdent(c.Table), strings.Join(defs, ", ")), nil
	case KindDropTable:
		return fmt.Sprintf("DROP TABLE %s", d.QuotedIdent(c.Table)), nil
	case KindRenameTable:
		return d.RenameTableSQL(c.Table, c.NewTableName), nil
	case KindAddColumn:
		return d.AddColumnSQL(c.Table, columnDef(d, c.Column)), nil
	case KindRemoveColumn:
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QuotedIdent(c.Table), d.QuotedIdent(c.Column.Name)), nil
	case KindRenameColumn:
		return d.RenameColumnSQL(c.Table, c.Column.Name, c.NewColumnName), nil
	case KindAddIndex:
		if len(c.Index.Columns) == 0 {
			return "", fmt.Errorf("add_index on '%s' has no columns", c.Table)
		}
		cols := make([]string, 0, len(c.Index.Columns))
		for _, col := range c.Index.Columns {
			cols = append(cols, d.QuotedIdent(col))
		}
		unique := ""
		if c.Index.Unique {
			unique = "UNIQUE "
		}
		return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
			unique, d.QuotedIdent(c.Index.name(c.Table)), d.QuotedIdent(c.Table), strings.Join(cols, ", ")), nil
	case KindRemoveIndex:
		return d.DropIndexSQL(c.Table, c.Index.name(c.Table)), nil
	case KindRawSQL:
		if strings.TrimSpace(c.SQL) == "" {
			return "", fmt.Errorf("raw_sql change has an empty statement")
		}
		return c.SQL, nil
	}
	return "", fmt.Errorf("unknown change kind '%s'", c.Kind)
}

func columnDef(d Dialect, c Column) string {
	var sb strings.Builder
	sb.WriteString(d.QuotedIdent(c.Name))
	sb.WriteString(" ")
	sb.WriteString(c.Type)
	if c.PrimaryKey {
		sb.WriteString(" PRIMARY KEY")
	}
	if c.NotNull {
		sb.WriteString(" NOT NULL")
	}
	if c.Default != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(c.Default)
	}
	return sb.String()
}

// renderAll renders every change in order, wrapping the first failure with
// the change's position.
func renderAll(changes []Change, d Dialect) ([]string, error) {
	statements := make([]string, 0, len(changes))
	for i, change := range changes {
		stmt, err := change.Render(d)
		if err != nil {
			return nil, fmt.Errorf("change #%d (%s): %w", i+1, change.Kind, err)
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}
