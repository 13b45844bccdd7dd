package cdc

import "fmt"

// ReconciliationError reports a failed run. Nothing was committed: the change
// log transaction rolled back and the prior snapshot is still authoritative.
type ReconciliationError struct {
	TableName string
	Phase     string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation of table %s failed during %s: %v",
		e.TableName, e.Phase, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

func newReconciliationError(tableName, phase string, err error) *ReconciliationError {
	return &ReconciliationError{
		TableName: tableName,
		Phase:     phase,
		Err:       err,
	}
}

func IsReconciliationError(err error) bool {
	_, ok := err.(*ReconciliationError)
	return ok
}

func AsReconciliationError(err error) *ReconciliationError {
	if re, ok := err.(*ReconciliationError); ok {
		return re
	}
	return nil
}
