package database

import "errors"

// Sentinel errors for expected store conditions. Anything else coming out of
// a store is a storage fault and should be treated as transient by callers.
var (
	// ErrAlreadyMarked means the subject already has an attendance record
	// for the requested calendar day. This is a business outcome, not a
	// failure; it maps directly from the (subject, day) uniqueness
	// constraint.
	ErrAlreadyMarked = errors.New("attendance already marked for this day")

	// ErrSubjectNotFound means the referenced subject does not exist.
	ErrSubjectNotFound = errors.New("subject not found")

	// ErrDuplicateExternalID means the external identifier is already in use.
	ErrDuplicateExternalID = errors.New("external id already in use")

	// ErrDuplicateUsername means the username is already taken.
	ErrDuplicateUsername = errors.New("username already in use")
)
