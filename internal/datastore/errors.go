package datastore

import (
	stderrors "errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/battycoda/battycoda/internal/errors"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.NewStd("record not found")

	// ErrSpeciesLocked indicates the species is system-global or already
	// referenced by a classifier, so its calls cannot change.
	ErrSpeciesLocked = errors.NewStd("species cannot be modified")

	// ErrUnknownJobKind indicates a job kind without a backing table.
	ErrUnknownJobKind = errors.NewStd("unknown job kind")
)

// notFound maps gorm.ErrRecordNotFound to ErrNotFound with entity context.
func notFound(err error, entity string, id any) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(fmt.Errorf("%s %v: %w", entity, id, ErrNotFound)).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("entity", entity).
			Build()
	}
	return dbError(err, "get "+entity)
}

// dbError wraps a gorm failure. Errors that already carry a category, such
// as validation failures raised inside a transaction, pass through unchanged.
func dbError(err error, operation string) error {
	if err == nil {
		return nil
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return err
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.New(fmt.Errorf("%s: %w", operation, ErrNotFound)).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("operation", operation).
			Build()
	}
	return errors.New(fmt.Errorf("%s: %w", operation, err)).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

func validationFailure(format string, args ...any) error {
	return errors.ValidationError(fmt.Sprintf(format, args...))
}
