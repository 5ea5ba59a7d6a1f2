package bill

import "fmt"

// ValidationError reports a candidate record missing or malformed in a field
// required for duplicate detection. The submission is the caller's fault and
// should not be retried.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid field %q: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}

// StorageError reports that the underlying database could not complete an
// operation. The caller may retry the submission.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// DuplicateError is the normal negative outcome of Accept: the candidate
// matched a record already stored for the same owner. It is not a failure
// and must stay distinguishable from ValidationError and StorageError so
// callers can render "already submitted".
type DuplicateError struct {
	Reason          string
	MatchedRecordID uint64
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate of record %d: %s", e.MatchedRecordID, e.Reason)
}
