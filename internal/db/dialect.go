package db

import (
	"fmt"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// IsSQLite reports whether the connection uses SQLite.
func IsSQLite(conn *gorm.DB) bool {
	return DialectName(conn) == DialectSQLite
}

// IsPostgres reports whether the connection uses PostgreSQL.
func IsPostgres(conn *gorm.DB) bool {
	return DialectName(conn) == DialectPostgres
}

// MonthExpr returns a SQL expression truncating a timestamp column to "YYYY-MM".
func MonthExpr(conn *gorm.DB, column string) string {
	if IsSQLite(conn) {
		return fmt.Sprintf("strftime('%%Y-%%m', %s)", column)
	}
	return fmt.Sprintf("to_char(%s, 'YYYY-MM')", column)
}
