// Package errors classifies database errors so writers can decide
// whether a failed insert is retryable.
package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// DatabaseErrorType is the classification of a database error.
type DatabaseErrorType int

const (
	// ErrorTypeUnknown is any error this package does not recognize.
	ErrorTypeUnknown DatabaseErrorType = iota
	// ErrorTypeDuplicateKey is a unique constraint violation (MySQL 1062).
	ErrorTypeDuplicateKey
	// ErrorTypeDataTooLong is a truncation error (MySQL 1406).
	ErrorTypeDataTooLong
	// ErrorTypeNotFound is gorm.ErrRecordNotFound.
	ErrorTypeNotFound
	// ErrorTypeDeadlock is MySQL 1213; the statement can be retried.
	ErrorTypeDeadlock
	// ErrorTypeConnectionError covers dial, reset and timeout failures.
	ErrorTypeConnectionError
)

// DatabaseError wraps a database error with its classification.
type DatabaseError struct {
	Type         DatabaseErrorType
	OriginalErr  error
	MySQLErrCode uint16
	Message      string
}

func (e *DatabaseError) Error() string {
	if e.MySQLErrCode > 0 {
		return fmt.Sprintf("%s (MySQL error %d): %v", e.Message, e.MySQLErrCode, e.OriginalErr)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

func (e *DatabaseError) Unwrap() error {
	return e.OriginalErr
}

// ClassifyDBError maps GORM and MySQL driver errors onto the types
// above. Anything unrecognized becomes ErrorTypeUnknown.
func ClassifyDBError(err error) *DatabaseError {
	if err == nil {
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &DatabaseError{
			Type:        ErrorTypeNotFound,
			OriginalErr: err,
			Message:     "record not found",
		}
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}

	if isConnectionError(err.Error()) {
		return &DatabaseError{
			Type:        ErrorTypeConnectionError,
			OriginalErr: err,
			Message:     "database connection error",
		}
	}

	return &DatabaseError{
		Type:        ErrorTypeUnknown,
		OriginalErr: err,
		Message:     "unknown database error",
	}
}

func classifyMySQLError(err *mysql.MySQLError) *DatabaseError {
	switch err.Number {
	case 1062: // ER_DUP_ENTRY
		return &DatabaseError{
			Type:         ErrorTypeDuplicateKey,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "duplicate key constraint violation",
		}

	case 1406: // ER_DATA_TOO_LONG
		return &DatabaseError{
			Type:         ErrorTypeDataTooLong,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "data too long for column",
		}

	case 1213: // ER_LOCK_DEADLOCK
		return &DatabaseError{
			Type:         ErrorTypeDeadlock,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "deadlock detected",
		}

	default:
		return &DatabaseError{
			Type:         ErrorTypeUnknown,
			OriginalErr:  err,
			MySQLErrCode: err.Number,
			Message:      "MySQL error",
		}
	}
}

func isConnectionError(errMsg string) bool {
	lower := strings.ToLower(errMsg)
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"timeout",
		"connection lost",
		"dial tcp",
	} {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// IsDuplicateKeyError reports whether err is a unique constraint violation.
func IsDuplicateKeyError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeDuplicateKey
}

// IsNotFoundError reports whether err is gorm.ErrRecordNotFound.
func IsNotFoundError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && dbErr.Type == ErrorTypeNotFound
}

// IsRetryableDBError reports whether the failed statement may be retried
// (deadlocks and connection-level failures).
func IsRetryableDBError(err error) bool {
	dbErr := ClassifyDBError(err)
	return dbErr != nil && (dbErr.Type == ErrorTypeDeadlock || dbErr.Type == ErrorTypeConnectionError)
}
