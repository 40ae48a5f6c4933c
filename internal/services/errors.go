// Package services defines the business logic for medications, schedules,
// day-status aggregation, and sharing. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Validation errors, rejected before any store mutation.
var (
	// ErrInvalidFrequencyDays is returned when a template's day-of-week set
	// is empty or contains values outside 1..7 (ISO, 1=Monday).
	ErrInvalidFrequencyDays = errors.New("frequency days must be a non-empty set of 1..7")

	// ErrInvalidTimeOfDay is returned when a template's time set is empty or
	// contains a value that is not a well-formed "HH:MM".
	ErrInvalidTimeOfDay = errors.New("time of day must be a non-empty set of HH:MM values")

	// ErrInvalidDateStart is returned when a template's start date is unset
	// or unparseable.
	ErrInvalidDateStart = errors.New("date start is missing or invalid")

	// ErrInvalidEntryStatus is returned when an entry status mutation targets
	// anything other than PLANNED or DONE.
	ErrInvalidEntryStatus = errors.New("entry status must be PLANNED or DONE")

	// ErrInvalidMealTiming is returned when a template's meal timing is not
	// one of before, with, after, anytime.
	ErrInvalidMealTiming = errors.New("meal timing must be before, with, after, or anytime")

	// ErrInvalidMedicationName is returned when a medication name is empty
	// after normalization.
	ErrInvalidMedicationName = errors.New("medication name is empty")
)

// Not-found errors. A concealed access violation is reported identically to
// a genuinely missing record.
var (
	// ErrMedicationNotFound indicates that the requested medication does not
	// exist, was soft-deleted, or is not visible to the current user.
	ErrMedicationNotFound = errors.New("medication not found")

	// ErrScheduleNotFound indicates that the requested schedule template does
	// not exist, was soft-deleted, or is not visible to the current user.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrEntryNotFound indicates that the requested schedule entry does not
	// exist or is not visible to the current user.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrShareLinkNotFound indicates that no share link matches the given
	// token or id, or that it is not visible to the caller.
	ErrShareLinkNotFound = errors.New("share link not found")
)

// Authorization and conflict errors.
var (
	// ErrAccessDenied is returned when the resolved role does not satisfy the
	// role an operation requires.
	ErrAccessDenied = errors.New("access denied")

	// ErrDuplicateMedication is returned when creating or renaming a
	// medication would collide with a non-deleted medication with the same
	// name, dose, and form.
	ErrDuplicateMedication = errors.New("an active medication with this name, dose, and form already exists")

	// ErrShareLinkNotActive is returned when an operation requires an active
	// share link but the link is revoked or expired.
	ErrShareLinkNotActive = errors.New("share link is not active")
)
