// Package store provides ordered wide-column tables on SQLite.
//
// Each logical table holds cells (row key, qualifier, value). Row keys are
// BLOBs compared with memcmp, so range scans follow the byte order of the
// keys built by package keys. Single-row read-modify-write is atomic;
// nothing spans rows.
package store

import (
	"fmt"
	"regexp"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,62}$`)

// sqlTableName maps a logical table name to its SQLite table.
func sqlTableName(name string) string {
	return "wc_" + name
}

// createTableSQL returns the DDL for one wide-column table.
// WITHOUT ROWID keeps cells clustered by (row_key, qualifier).
func createTableSQL(name string) string {
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS "%s" (
    row_key BLOB NOT NULL,
    qualifier TEXT NOT NULL,
    value BLOB NOT NULL,
    PRIMARY KEY (row_key, qualifier)
) WITHOUT ROWID`, sqlTableName(name))
}
