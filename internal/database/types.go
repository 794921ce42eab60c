package database

import (
	"time"
)

// Attendance statuses form a closed set; anything else is rejected before it
// reaches storage.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
)

// ValidStatus reports whether s is one of the known attendance statuses.
func ValidStatus(s string) bool {
	return s == StatusPresent || s == StatusAbsent || s == StatusLate
}

// Subject represents an enrolled individual.
type Subject struct {
	ID         int64
	ExternalID string    // Unique external identifier (badge / roll number)
	Name       string    // Display name
	Embedding  []float32 // Face embedding, nil until enrolled for recognition
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Enrolled reports whether the subject participates in face matching.
func (s *Subject) Enrolled() bool {
	return s.Active && len(s.Embedding) > 0
}

// AttendanceRecord represents one presence event. Records are never mutated
// after creation and are removed only as a cascade of subject deletion.
type AttendanceRecord struct {
	ID         int64
	SubjectID  int64
	Day        time.Time // Calendar day in the authoritative zone, see DayOf
	Status     string
	RecordedAt time.Time
}

// GalleryEntry is one (subject, embedding) pair available for matching.
type GalleryEntry struct {
	SubjectID  int64
	ExternalID string
	Name       string
	Embedding  []float32
}

// User is an operator account for the HTTP API.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// DayOf returns the calendar day of ts in loc, normalized to midnight UTC so
// two values compare with Equal no matter which zone they were computed in.
func DayOf(ts time.Time, loc *time.Location) time.Time {
	y, m, d := ts.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the half-open interval [midnight, midnight+24h) covering
// day in loc. The lower bound is inclusive, the upper exclusive. The end is
// computed via calendar arithmetic so DST transitions keep it aligned with
// the next local midnight.
func DayWindow(day time.Time, loc *time.Location) (start, end time.Time) {
	y, m, d := day.Date()
	start = time.Date(y, m, d, 0, 0, 0, 0, loc)
	end = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	return start, end
}
