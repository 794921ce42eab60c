package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/rollcall/rollcall/internal/database"
)

// AttendanceRepository is the PostgreSQL-backed daily attendance ledger.
// The once-per-day invariant is enforced by the attendance_subject_day_key
// unique constraint: under concurrent inserts for the same (subject, day)
// exactly one commits and the rest surface ErrAlreadyMarked. There is no
// check-then-insert anywhere in this type.
type AttendanceRepository struct {
	pool *Pool
	loc  *time.Location
}

// NewAttendanceRepository creates a ledger computing calendar days in loc.
func NewAttendanceRepository(pool *Pool, loc *time.Location) *AttendanceRepository {
	return &AttendanceRepository{pool: pool, loc: loc}
}

// dayArg formats a calendar day for a DATE parameter. Dates travel as
// strings so the server never reinterprets them through its session zone.
func dayArg(day time.Time) string {
	return day.Format("2006-01-02")
}

func (r *AttendanceRepository) InsertIfAbsent(ctx context.Context, subjectID int64, status string, ts time.Time) (*database.AttendanceRecord, error) {
	day := database.DayOf(ts, r.loc)

	query := `
		INSERT INTO attendance_records (subject_id, day, status, recorded_at)
		VALUES ($1, $2::date, $3, $4)
		RETURNING id
	`

	record := &database.AttendanceRecord{
		SubjectID:  subjectID,
		Day:        day,
		Status:     status,
		RecordedAt: ts,
	}

	err := r.pool.QueryRow(ctx, query, subjectID, dayArg(day), status, ts).Scan(&record.ID)
	if isUniqueViolation(err, "attendance_subject_day_key") {
		return nil, database.ErrAlreadyMarked
	}
	if isForeignKeyViolation(err) {
		return nil, database.ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("insert attendance record: %w", err)
	}
	return record, nil
}

func (r *AttendanceRepository) HasRecordForDay(ctx context.Context, subjectID int64, day time.Time) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM attendance_records WHERE subject_id = $1 AND day = $2::date)",
		subjectID, dayArg(day)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check attendance exists: %w", err)
	}
	return exists, nil
}

func (r *AttendanceRepository) ListByDay(ctx context.Context, day time.Time) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subject_id, day, status, recorded_at
		FROM attendance_records
		WHERE day = $1::date
		ORDER BY recorded_at
	`, dayArg(day))
	if err != nil {
		return nil, fmt.Errorf("query attendance by day: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (r *AttendanceRepository) ListBySubject(ctx context.Context, subjectID int64) ([]database.AttendanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, subject_id, day, status, recorded_at
		FROM attendance_records
		WHERE subject_id = $1
		ORDER BY day DESC
	`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query attendance by subject: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]database.AttendanceRecord, error) {
	var records []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		if err := rows.Scan(&rec.ID, &rec.SubjectID, &rec.Day, &rec.Status, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance records: %w", err)
	}
	return records, nil
}
