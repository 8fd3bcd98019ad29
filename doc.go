// Package stratum is an embeddable schema-migration engine for
// database/sql databases.
//
// Migrations are ordered, uniquely-keyed units with a forward action and
// (where possible) a backward action. Each action is a sequence of
// declarative Change descriptors or raw SQL. The engine tracks applied
// units in a ledger table, applies pending units strictly in ascending
// key order, rolls them back in descending order, and runs every unit in
// its own transaction together with its ledger row.
//
// Basic usage involves creating a stratum.Engine via stratum.NewEngine(),
// loading units with MigrationsFromDirectoryPath or building them from
// Change descriptors, and passing your *sql.DB to Migrate().
package stratum
