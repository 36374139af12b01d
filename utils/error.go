package utils

import "errors"

// Sentinel errors for the fiscal-year core. Callers classify with errors.Is.
var (
	ErrorRecordNotFound = errors.New("record not found")

	// ErrorDateRangeOverlap is returned when a financial year would intersect
	// an existing year of the same tenant.
	ErrorDateRangeOverlap = errors.New("date range overlaps with an existing financial year")

	// ErrorAlreadyClosed is returned when closing an already closed year or
	// editing a closed year's immutable dates.
	ErrorAlreadyClosed = errors.New("financial year is already closed")

	// ErrorSequenceViolation is returned when posting into, or closing, a
	// year whose chronological predecessor is still open. Years are worked
	// and closed oldest first.
	ErrorSequenceViolation = errors.New("previous financial year is still open")

	// ErrorValidationFailed is returned when closing validation reports
	// blockers (e.g. uncategorized transactions).
	ErrorValidationFailed = errors.New("year closing validation failed")

	ErrorPermissionDenied = errors.New("permission denied")

	// ErrorTenantBusy is retryable: another recalculation or closing holds
	// the tenant's posting lock.
	ErrorTenantBusy = errors.New("another posting operation for this tenant is in progress")

	// ErrorCalculationFailure wraps unexpected failures during a balance
	// recalculation. The surrounding transaction is rolled back.
	ErrorCalculationFailure = errors.New("balance recalculation failed")
)

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
