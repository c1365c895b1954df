package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate is an exclusive row lock that waits for competing holders.
// SQLite ignores it; a single pooled connection serializes writers there.
func ForUpdate() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}

// ForUpdateSkipLocked is an exclusive row lock that skips rows held by
// other in-flight transactions instead of waiting on them.
func ForUpdateSkipLocked() clause.Expression {
	return clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}
}

// SetLockTimeout bounds how long the current transaction waits for row locks.
// It only has an effect on PostgreSQL.
func SetLockTimeout(tx *gorm.DB, d time.Duration) error {
	if tx == nil || d <= 0 || !IsPostgres(tx) {
		return nil
	}
	if errExec := tx.Exec(fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())).Error; errExec != nil {
		return fmt.Errorf("db: set lock timeout: %w", errExec)
	}
	return nil
}
