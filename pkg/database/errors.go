package database

import (
	"database/sql"
	stderrors "errors"
	"strings"

	"github.com/lib/pq"
	"github.com/storefront/storefront-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error or has no specific mapping.
func MapPQError(err error) *errors.AppError {
	var pqErr *pq.Error
	if !stderrors.As(err, &pqErr) {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation
	case "23505":
		return errors.Duplicate(formatConstraintMessage(pqErr))

	// Foreign key violation
	case "23503":
		if strings.Contains(pqErr.Constraint, "product") {
			return errors.NotFound("product")
		}
		return errors.BadRequest("referenced record does not exist")

	// Not null violation
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps CHECK constraint names to field errors.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "remaining_quantity"):
		return errors.Validation(map[string]string{
			"remainingQuantity": "must not be negative",
		})
	case strings.Contains(constraint, "quantity"):
		return errors.Validation(map[string]string{
			"quantity": "must not be negative",
		})
	case strings.Contains(constraint, "cost_price"):
		return errors.Validation(map[string]string{
			"costPrice": "must not be negative",
		})
	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}

func formatConstraintMessage(pqErr *pq.Error) string {
	switch {
	case strings.Contains(pqErr.Constraint, "batch_number"):
		return "a batch with this batch number already exists"
	default:
		return "a record with these values already exists"
	}
}

// Classify turns a repository error into an AppError: mapped pq errors keep their
// meaning, sql.ErrNoRows becomes NotFound(resource), anything else is an upstream failure.
// An id Postgres cannot parse cannot reference a row, so it is NotFound too.
func Classify(err error, resource, op string) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.AsAppError(err); ok {
		return err
	}
	if stderrors.Is(err, sql.ErrNoRows) || isInvalidTextRepresentation(err) {
		return errors.NotFound(resource)
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return errors.Upstream("failed to "+op, err)
}

// 22P02 is raised when a malformed uuid is compared against a uuid column.
func isInvalidTextRepresentation(err error) bool {
	var pqErr *pq.Error
	return stderrors.As(err, &pqErr) && pqErr.Code == "22P02"
}
