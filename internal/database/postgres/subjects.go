package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rollcall/rollcall/internal/database"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// foreignKeyViolation is the PostgreSQL error code for foreign key violations.
const foreignKeyViolation = "23503"

// isUniqueViolation reports whether err is a unique violation on the named
// constraint. An empty name matches any unique violation.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

// isForeignKeyViolation reports whether err is a foreign key violation.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}

// SubjectRepository provides PostgreSQL-backed subject storage.
type SubjectRepository struct {
	pool *Pool
}

// NewSubjectRepository creates a new PostgreSQL subject repository.
func NewSubjectRepository(pool *Pool) *SubjectRepository {
	return &SubjectRepository{pool: pool}
}

func (r *SubjectRepository) Create(ctx context.Context, subject *database.Subject) error {
	query := `
		INSERT INTO subjects (external_id, name, embedding, active)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`

	var embedding any
	if len(subject.Embedding) > 0 {
		embedding = pgvector.NewVector(subject.Embedding)
	}

	err := r.pool.QueryRow(ctx, query, subject.ExternalID, subject.Name, embedding, subject.Active).
		Scan(&subject.ID, &subject.CreatedAt, &subject.UpdatedAt)
	if isUniqueViolation(err, "subjects_external_id_key") {
		return database.ErrDuplicateExternalID
	}
	if err != nil {
		return fmt.Errorf("insert subject: %w", err)
	}
	return nil
}

// scanSubject scans one subject row with a nullable embedding column.
func scanSubject(row interface{ Scan(...any) error }) (*database.Subject, error) {
	var s database.Subject
	var vec sql.NullString

	err := row.Scan(&s.ID, &s.ExternalID, &s.Name, &vec, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if vec.Valid {
		var v pgvector.Vector
		if err := v.Scan(vec.String); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
		s.Embedding = v.Slice()
	}
	return &s, nil
}

const subjectColumns = "id, external_id, name, embedding::text, active, created_at, updated_at"

func (r *SubjectRepository) GetByID(ctx context.Context, id int64) (*database.Subject, error) {
	subject, err := scanSubject(r.pool.QueryRow(ctx,
		"SELECT "+subjectColumns+" FROM subjects WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query subject: %w", err)
	}
	return subject, nil
}

func (r *SubjectRepository) GetByExternalID(ctx context.Context, externalID string) (*database.Subject, error) {
	subject, err := scanSubject(r.pool.QueryRow(ctx,
		"SELECT "+subjectColumns+" FROM subjects WHERE external_id = $1", externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query subject: %w", err)
	}
	return subject, nil
}

func (r *SubjectRepository) List(ctx context.Context, nameQuery string) ([]database.Subject, error) {
	query := "SELECT " + subjectColumns + " FROM subjects ORDER BY name, id"
	args := []any{}

	if nameQuery != "" {
		// Normalization mirrors database.NormalizeName: lowercase,
		// diacritics-insensitive, and runs of whitespace collapse to one
		// space, so "novak" finds "Novák" and "jan novak" finds "Jan  Novák".
		query = "SELECT " + subjectColumns + ` FROM subjects
			WHERE LOWER(unaccent(regexp_replace(name, '\s+', ' ', 'g'))) LIKE '%' || $1 || '%'
			ORDER BY name, id`
		args = append(args, database.NormalizeName(nameQuery))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subjects: %w", err)
	}
	defer rows.Close()

	var subjects []database.Subject
	for rows.Next() {
		subject, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		subjects = append(subjects, *subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return subjects, nil
}

func (r *SubjectRepository) SetEmbedding(ctx context.Context, id int64, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}

	result, err := r.pool.Exec(ctx,
		"UPDATE subjects SET embedding = $2, updated_at = NOW() WHERE id = $1", id, vec)
	if err != nil {
		return fmt.Errorf("update embedding: %w", err)
	}
	return checkSubjectAffected(result)
}

func (r *SubjectRepository) SetActive(ctx context.Context, id int64, active bool) error {
	result, err := r.pool.Exec(ctx,
		"UPDATE subjects SET active = $2, updated_at = NOW() WHERE id = $1", id, active)
	if err != nil {
		return fmt.Errorf("update active flag: %w", err)
	}
	return checkSubjectAffected(result)
}

// Delete removes the subject. The attendance_records foreign key cascades,
// so the subject's ledger history goes with it.
func (r *SubjectRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.pool.Exec(ctx, "DELETE FROM subjects WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete subject: %w", err)
	}
	return checkSubjectAffected(result)
}

func (r *SubjectRepository) Gallery(ctx context.Context) ([]database.GalleryEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, external_id, name, embedding
		FROM subjects
		WHERE active AND embedding IS NOT NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query gallery: %w", err)
	}
	defer rows.Close()

	var gallery []database.GalleryEntry
	for rows.Next() {
		var entry database.GalleryEntry
		var vec pgvector.Vector
		if err := rows.Scan(&entry.SubjectID, &entry.ExternalID, &entry.Name, &vec); err != nil {
			return nil, fmt.Errorf("scan gallery entry: %w", err)
		}
		entry.Embedding = vec.Slice()
		gallery = append(gallery, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gallery: %w", err)
	}
	return gallery, nil
}

func checkSubjectAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return database.ErrSubjectNotFound
	}
	return nil
}
