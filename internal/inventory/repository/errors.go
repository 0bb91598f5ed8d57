package repository

import "errors"

// Conditional writes that matched no row. The service layer turns these into
// NotFound, InsufficientStock or Conflict after looking at the current row.
var (
	ErrNotDeducted = errors.New("batch not deducted")
	ErrNotDeleted  = errors.New("batch not deleted")
)
