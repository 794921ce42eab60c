// Package mock provides in-memory implementations of the database
// interfaces for testing. The attendance mock serializes InsertIfAbsent
// under a single lock, giving the same once-per-day guarantee the Postgres
// uniqueness constraint provides.
package mock

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rollcall/rollcall/internal/database"
)

// SubjectStore is a mock implementation of database.SubjectStore.
type SubjectStore struct {
	mu       sync.RWMutex
	subjects map[int64]*database.Subject
	nextID   int64

	// Error injection
	CreateError  error
	GetError     error
	ListError    error
	UpdateError  error
	DeleteError  error
	GalleryError error

	// Deleted subjects are reported to the linked attendance store so the
	// cascade behaves like the real foreign key.
	attendance *AttendanceStore
}

// NewSubjectStore creates a new mock subject store.
func NewSubjectStore() *SubjectStore {
	return &SubjectStore{subjects: make(map[int64]*database.Subject)}
}

// LinkAttendance wires the attendance store that should receive delete
// cascades.
func (s *SubjectStore) LinkAttendance(a *AttendanceStore) {
	s.attendance = a
}

func (s *SubjectStore) Create(ctx context.Context, subject *database.Subject) error {
	if s.CreateError != nil {
		return s.CreateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subjects {
		if existing.ExternalID == subject.ExternalID {
			return database.ErrDuplicateExternalID
		}
	}

	s.nextID++
	subject.ID = s.nextID
	now := time.Now()
	subject.CreatedAt = now
	subject.UpdatedAt = now
	cp := *subject
	s.subjects[subject.ID] = &cp
	return nil
}

func (s *SubjectStore) GetByID(ctx context.Context, id int64) (*database.Subject, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	subject, ok := s.subjects[id]
	if !ok {
		return nil, nil
	}
	cp := *subject
	return &cp, nil
}

func (s *SubjectStore) GetByExternalID(ctx context.Context, externalID string) (*database.Subject, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, subject := range s.subjects {
		if subject.ExternalID == externalID {
			cp := *subject
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *SubjectStore) List(ctx context.Context, nameQuery string) ([]database.Subject, error) {
	if s.ListError != nil {
		return nil, s.ListError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	normalized := database.NormalizeName(nameQuery)
	var out []database.Subject
	for _, subject := range s.subjects {
		if normalized != "" && !strings.Contains(database.NormalizeName(subject.Name), normalized) {
			continue
		}
		out = append(out, *subject)
	}
	return out, nil
}

func (s *SubjectStore) SetEmbedding(ctx context.Context, id int64, embedding []float32) error {
	if s.UpdateError != nil {
		return s.UpdateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[id]
	if !ok {
		return database.ErrSubjectNotFound
	}
	subject.Embedding = append([]float32(nil), embedding...)
	subject.UpdatedAt = time.Now()
	return nil
}

func (s *SubjectStore) SetActive(ctx context.Context, id int64, active bool) error {
	if s.UpdateError != nil {
		return s.UpdateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	subject, ok := s.subjects[id]
	if !ok {
		return database.ErrSubjectNotFound
	}
	subject.Active = active
	subject.UpdatedAt = time.Now()
	return nil
}

func (s *SubjectStore) Delete(ctx context.Context, id int64) error {
	if s.DeleteError != nil {
		return s.DeleteError
	}
	s.mu.Lock()
	if _, ok := s.subjects[id]; !ok {
		s.mu.Unlock()
		return database.ErrSubjectNotFound
	}
	delete(s.subjects, id)
	s.mu.Unlock()

	if s.attendance != nil {
		s.attendance.deleteBySubject(id)
	}
	return nil
}

func (s *SubjectStore) Gallery(ctx context.Context) ([]database.GalleryEntry, error) {
	if s.GalleryError != nil {
		return nil, s.GalleryError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var gallery []database.GalleryEntry
	for _, subject := range s.subjects {
		if !subject.Enrolled() {
			continue
		}
		gallery = append(gallery, database.GalleryEntry{
			SubjectID:  subject.ID,
			ExternalID: subject.ExternalID,
			Name:       subject.Name,
			Embedding:  append([]float32(nil), subject.Embedding...),
		})
	}
	return gallery, nil
}

// dayKey identifies one (subject, day) ledger slot.
type dayKey struct {
	subjectID int64
	day       string
}

// AttendanceStore is a mock implementation of database.AttendanceStore.
type AttendanceStore struct {
	mu      sync.Mutex
	loc     *time.Location
	records map[dayKey]*database.AttendanceRecord
	nextID  int64

	// Error injection
	InsertError error
	QueryError  error
}

// NewAttendanceStore creates a new mock ledger computing days in loc.
func NewAttendanceStore(loc *time.Location) *AttendanceStore {
	return &AttendanceStore{
		loc:     loc,
		records: make(map[dayKey]*database.AttendanceRecord),
	}
}

func (s *AttendanceStore) key(subjectID int64, day time.Time) dayKey {
	return dayKey{subjectID: subjectID, day: day.Format("2006-01-02")}
}

func (s *AttendanceStore) InsertIfAbsent(ctx context.Context, subjectID int64, status string, ts time.Time) (*database.AttendanceRecord, error) {
	if s.InsertError != nil {
		return nil, s.InsertError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	day := database.DayOf(ts, s.loc)
	k := s.key(subjectID, day)
	if _, exists := s.records[k]; exists {
		return nil, database.ErrAlreadyMarked
	}

	s.nextID++
	record := &database.AttendanceRecord{
		ID:         s.nextID,
		SubjectID:  subjectID,
		Day:        day,
		Status:     status,
		RecordedAt: ts,
	}
	s.records[k] = record
	cp := *record
	return &cp, nil
}

func (s *AttendanceStore) HasRecordForDay(ctx context.Context, subjectID int64, day time.Time) (bool, error) {
	if s.QueryError != nil {
		return false, s.QueryError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[s.key(subjectID, day)]
	return ok, nil
}

func (s *AttendanceStore) ListByDay(ctx context.Context, day time.Time) ([]database.AttendanceRecord, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	want := day.Format("2006-01-02")
	var out []database.AttendanceRecord
	for k, record := range s.records {
		if k.day == want {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (s *AttendanceStore) ListBySubject(ctx context.Context, subjectID int64) ([]database.AttendanceRecord, error) {
	if s.QueryError != nil {
		return nil, s.QueryError
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []database.AttendanceRecord
	for k, record := range s.records {
		if k.subjectID == subjectID {
			out = append(out, *record)
		}
	}
	return out, nil
}

// Count returns the total number of stored records.
func (s *AttendanceStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *AttendanceStore) deleteBySubject(subjectID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.records {
		if k.subjectID == subjectID {
			delete(s.records, k)
		}
	}
}

// UserStore is a mock implementation of database.UserStore.
type UserStore struct {
	mu     sync.RWMutex
	users  map[string]*database.User
	nextID int64

	// Error injection
	CreateError error
	GetError    error
}

// NewUserStore creates a new mock user store.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]*database.User)}
}

func (s *UserStore) Create(ctx context.Context, user *database.User) error {
	if s.CreateError != nil {
		return s.CreateError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.Username]; exists {
		return database.ErrDuplicateUsername
	}
	s.nextID++
	user.ID = s.nextID
	user.CreatedAt = time.Now()
	cp := *user
	s.users[user.Username] = &cp
	return nil
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*database.User, error) {
	if s.GetError != nil {
		return nil, s.GetError
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[username]
	if !ok {
		return nil, nil
	}
	cp := *user
	return &cp, nil
}
