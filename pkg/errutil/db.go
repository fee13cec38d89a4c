package errutil

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsUniqueViolation reports whether err came from a unique index rejecting a write.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}

// FromDB classifies a raw persistence error. Errors that already carry a
// CoreStatus pass through untouched.
func FromDB(msg string, err error) error {
	if err == nil {
		return nil
	}
	var be BaseError
	if errors.As(err, &be) {
		return err
	}
	if IsUniqueViolation(err) {
		return Conflict(msg, err)
	}
	return Storage(msg, err)
}
