package database

import (
	"context"
	"time"
)

// SubjectStore provides access to enrolled subjects and their embeddings.
type SubjectStore interface {
	// Create stores a new subject and assigns its ID.
	// Returns ErrDuplicateExternalID if the external identifier is taken.
	Create(ctx context.Context, subject *Subject) error
	// GetByID retrieves a subject by internal ID, returns nil if not found
	GetByID(ctx context.Context, id int64) (*Subject, error)
	// GetByExternalID retrieves a subject by external identifier, returns nil if not found
	GetByExternalID(ctx context.Context, externalID string) (*Subject, error)
	// List returns all subjects, optionally filtered by a name query.
	// Name comparison is normalized (lowercase, no diacritics) so "novak"
	// finds "Novák".
	List(ctx context.Context, nameQuery string) ([]Subject, error)
	// SetEmbedding replaces the subject's embedding.
	// Returns ErrSubjectNotFound if the subject does not exist.
	SetEmbedding(ctx context.Context, id int64, embedding []float32) error
	// SetActive flips the soft-deactivation flag.
	SetActive(ctx context.Context, id int64, active bool) error
	// Delete removes the subject. Attendance records cascade with it; the
	// delete is the only path that ever removes ledger rows.
	Delete(ctx context.Context, id int64) error
	// Gallery returns all active subjects that have an embedding on file.
	Gallery(ctx context.Context) ([]GalleryEntry, error)
}

// AttendanceStore is the daily attendance ledger. The once-per-day invariant
// lives entirely behind InsertIfAbsent; callers must never try to compose
// HasRecordForDay with a separate insert.
type AttendanceStore interface {
	// InsertIfAbsent writes a record for the calendar day of ts (computed in
	// the store's authoritative zone). Under concurrent calls for the same
	// subject and day exactly one succeeds; the rest get ErrAlreadyMarked.
	InsertIfAbsent(ctx context.Context, subjectID int64, status string, ts time.Time) (*AttendanceRecord, error)
	// HasRecordForDay reports whether subject already has a record on the
	// given calendar day. Read-side only; not part of the marking path.
	HasRecordForDay(ctx context.Context, subjectID int64, day time.Time) (bool, error)
	// ListByDay returns all records for a calendar day.
	ListByDay(ctx context.Context, day time.Time) ([]AttendanceRecord, error)
	// ListBySubject returns all records for a subject, newest first.
	ListBySubject(ctx context.Context, subjectID int64) ([]AttendanceRecord, error)
}

// UserStore provides operator accounts for the HTTP API.
type UserStore interface {
	// Create stores a new user, returns ErrDuplicateUsername if taken.
	Create(ctx context.Context, user *User) error
	// GetByUsername retrieves a user, returns nil if not found
	GetByUsername(ctx context.Context, username string) (*User, error)
}
