package models

import (
	"errors"

	"gorm.io/gorm"
)

// Migrate creates or updates the users, alerts and files tables. Every table
// is attempted; failures are returned joined, one MigrationError per table.
func Migrate(db *gorm.DB) error {
	var errs []error
	for _, m := range []struct {
		name  string
		model any
	}{
		{"users", &User{}},
		{"alerts", &Alert{}},
		{"files", &File{}},
	} {
		if err := db.AutoMigrate(m.model); err != nil {
			errs = append(errs, &MigrationError{Table: m.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// MigrationError wraps a failed AutoMigrate of one table.
type MigrationError struct {
	Table string
	Err   error
}

func (e *MigrationError) Error() string { return "migrate " + e.Table + ": " + e.Err.Error() }

func (e *MigrationError) Unwrap() error { return e.Err }

// MigrationErrors flattens err into its per-table failures. ok is false when
// err carries anything other than MigrationErrors.
func MigrationErrors(err error) (errs []*MigrationError, ok bool) {
	if merr, ok := err.(*MigrationError); ok {
		return []*MigrationError{merr}, true
	}
	joined, isJoined := err.(interface{ Unwrap() []error })
	if !isJoined {
		return nil, false
	}
	for _, e := range joined.Unwrap() {
		sub, ok := MigrationErrors(e)
		if !ok {
			return nil, false
		}
		errs = append(errs, sub...)
	}
	return errs, true
}
