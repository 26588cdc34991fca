package merge

import (
	"database/sql"
	"fmt"
)

// RecordError aborts a pass at the record that could not be written
type RecordError struct {
	ID  string
	Op  string
	Err error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("failed to %s record %s: %v", e.Op, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}
