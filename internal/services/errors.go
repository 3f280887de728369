package services

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// maxTxAttempts bounds internal retries of a whole transaction when the store
// reports lock contention. The operation is re-run with the same inputs, never
// resumed partially.
const maxTxAttempts = 3

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "constraint")
}

// isRetryableTxError detects serialization failures, deadlocks, and lock
// timeouts that are safe to retry with the same inputs.
func isRetryableTxError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil {
		// serialization_failure, deadlock_detected, lock_not_available
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil {
		// ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
		switch myErr.Number {
		case 1213, 1205:
			return true
		}
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "database is locked") ||
		strings.Contains(lower, "database table is locked")
}

// runInTx executes fn inside a transaction, retrying the whole transaction a
// bounded number of times on transient lock contention.
func runInTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return err
}
