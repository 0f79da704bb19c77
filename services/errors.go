package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput wraps request validation failures raised by services.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUserNotFound means the student has no XP balance row yet. Callers provision
	// one (EnsureBalance) and retry.
	ErrUserNotFound = errors.New("xp balance not found")
	// ErrStudentNotFound means no local student mirror row exists.
	ErrStudentNotFound = errors.New("student not found")
	// ErrBalanceExists is returned by ProvisionBalance when a row is already there.
	ErrBalanceExists = errors.New("xp balance already exists")
	// ErrInvalidSettings wraps every settings validation failure.
	ErrInvalidSettings = errors.New("invalid settings")
	// ErrStorageDisabled means no object store was configured for exports.
	ErrStorageDisabled = errors.New("object storage not configured")
)

// PersistenceError is a storage failure. The ledger guarantees nothing was applied.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistenceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) || errors.Is(err, ErrUserNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
