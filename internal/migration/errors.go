package migration

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy is returned when an operation starts while another one is
	// still running on the same engine.
	ErrBusy = errors.New("migration engine busy")

	// ErrConflicts matches a *ConflictsError.
	ErrConflicts = errors.New("conflicting license codes")
)

// ConflictsError aborts a migration whose source codes already exist in
// the destination while overwrite is off. It names every conflict.
type ConflictsError struct {
	Codes []string
}

func (e *ConflictsError) Error() string {
	return fmt.Sprintf("aborting migration: %d conflicting codes: %s",
		len(e.Codes), strings.Join(e.Codes, ", "))
}

// Is lets errors.Is(err, ErrConflicts) match a *ConflictsError.
func (e *ConflictsError) Is(target error) bool {
	return target == ErrConflicts
}

// AnalysisError wraps a failure to read either side of the migration.
type AnalysisError struct {
	// Stage is "source" or "destination".
	Stage string
	Err   error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyzing %s licenses: %v", e.Stage, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}
