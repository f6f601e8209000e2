package repositories

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrDuplicate is returned when an insert hits a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrTransitionConflict is returned when a conditional status update
	// matched no row because the attempt already left the expected state.
	ErrTransitionConflict = errors.New("attempt status changed concurrently")
)

func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}
