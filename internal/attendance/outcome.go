package attendance

import "github.com/rollcall/rollcall/internal/database"

// OutcomeKind is the terminal state of one recognize-and-mark request. The
// five kinds are mutually exclusive and exhaustive; they are values the
// caller renders, never errors.
type OutcomeKind string

const (
	// OutcomeMarked means a new record was created for the matched subject.
	OutcomeMarked OutcomeKind = "marked"
	// OutcomeAlreadyMarked means the matched subject already has a record
	// for today.
	OutcomeAlreadyMarked OutcomeKind = "already_marked"
	// OutcomeNoMatch means no gallery entry was within the acceptance
	// threshold.
	OutcomeNoMatch OutcomeKind = "no_match"
	// OutcomeNoGallery means no active subjects have embeddings on file.
	OutcomeNoGallery OutcomeKind = "no_gallery"
	// OutcomeExtractionFailed means the probe could not be reduced to a
	// usable vector. Reason carries the specific rejection.
	OutcomeExtractionFailed OutcomeKind = "extraction_failed"
)

// Outcome is the result of one attendance request.
type Outcome struct {
	Kind OutcomeKind

	// Reason is a stable machine-readable code for extraction failures
	// (no_face, multiple_faces, decode_failure, bad_dimensionality).
	Reason string

	// Subject identifies the matched subject for Marked and AlreadyMarked.
	Subject *database.Subject

	// Record is the record created for Marked.
	Record *database.AttendanceRecord

	// Distance is the best gallery distance, set whenever a comparison
	// happened (Marked, AlreadyMarked, NoMatch against a non-empty gallery).
	Distance float64
}
