package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/match"
)

// maxEnrollImageSize caps uploaded enrollment images at 10 MB.
const maxEnrollImageSize = 10 << 20

// SubjectResponse represents an enrolled subject in API responses. The
// stored embedding itself is never exposed, only whether one exists.
type SubjectResponse struct {
	ID         int64  `json:"id"`
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Active     bool   `json:"active"`
	Enrolled   bool   `json:"enrolled"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func toSubjectResponse(s *database.Subject) SubjectResponse {
	resp := SubjectResponse{
		ID:         s.ID,
		ExternalID: s.ExternalID,
		Name:       s.Name,
		Active:     s.Active,
		Enrolled:   s.Enrolled(),
	}
	if !s.CreatedAt.IsZero() {
		resp.CreatedAt = s.CreatedAt.Format(time.RFC3339)
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = s.UpdatedAt.Format(time.RFC3339)
	}
	return resp
}

// Extractor reduces a raw image to an embedding vector.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

// SubjectsHandler manages enrolled subjects. It owns the approximate
// duplicate-check index and rebuilds it whenever the gallery changes.
type SubjectsHandler struct {
	store     database.SubjectStore
	extractor Extractor
	index     *match.Index
	// threshold is the distance under which a freshly enrolled face is
	// flagged as a likely duplicate of an existing subject.
	threshold float64
}

// NewSubjectsHandler creates a new subjects handler.
func NewSubjectsHandler(store database.SubjectStore, extractor Extractor, threshold float64) *SubjectsHandler {
	return &SubjectsHandler{
		store:     store,
		extractor: extractor,
		index:     match.NewIndex(),
		threshold: threshold,
	}
}

// RefreshIndex rebuilds the duplicate-check index from the current gallery.
func (h *SubjectsHandler) RefreshIndex(ctx context.Context) error {
	gallery, err := h.store.Gallery(ctx)
	if err != nil {
		return fmt.Errorf("fetch gallery: %w", err)
	}
	entries := make([]match.Entry, len(gallery))
	for i, g := range gallery {
		entries[i] = match.Entry{Ref: g.SubjectID, Vector: g.Embedding}
	}
	h.index.Build(entries)
	return nil
}

// List handles GET /subjects with an optional ?q= name filter.
func (h *SubjectsHandler) List(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.store.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		log.Printf("Failed to list subjects: %v", err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	responses := make([]SubjectResponse, len(subjects))
	for i := range subjects {
		responses[i] = toSubjectResponse(&subjects[i])
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subjects": responses,
		"count":    len(responses),
	})
}

type createSubjectRequest struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
}

// Create handles POST /subjects. A missing external_id gets a generated
// UUID so bulk imports without student numbers still work.
func (h *SubjectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSubjectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.ExternalID == "" {
		req.ExternalID = uuid.New().String()
	}

	subject := &database.Subject{
		ExternalID: req.ExternalID,
		Name:       req.Name,
		Active:     true,
	}
	err := h.store.Create(r.Context(), subject)
	if errors.Is(err, database.ErrDuplicateExternalID) {
		respondError(w, http.StatusConflict, "external_id is already taken")
		return
	}
	if err != nil {
		log.Printf("Failed to create subject %s: %v", sanitizeForLog(req.Name), err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	respondJSON(w, http.StatusCreated, toSubjectResponse(subject))
}

// Get handles GET /subjects/{id}.
func (h *SubjectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.fetchSubject(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toSubjectResponse(subject))
}

type updateSubjectRequest struct {
	Active *bool `json:"active"`
}

// Update handles PUT /subjects/{id}. Only the active flag is mutable;
// renames go through delete and re-create to keep the ledger honest.
func (h *SubjectsHandler) Update(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.fetchSubject(w, r)
	if !ok {
		return
	}

	var req updateSubjectRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.Active == nil {
		respondError(w, http.StatusBadRequest, "active is required")
		return
	}

	if err := h.store.SetActive(r.Context(), subject.ID, *req.Active); err != nil {
		if errors.Is(err, database.ErrSubjectNotFound) {
			respondError(w, http.StatusNotFound, "subject not found")
			return
		}
		log.Printf("Failed to update subject %d: %v", subject.ID, err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	subject.Active = *req.Active

	// Activation changes the gallery, so the duplicate index is stale.
	if err := h.RefreshIndex(r.Context()); err != nil {
		log.Printf("Failed to refresh duplicate index: %v", err)
	}

	respondJSON(w, http.StatusOK, toSubjectResponse(subject))
}

// Delete handles DELETE /subjects/{id}. Attendance records cascade away
// with the subject.
func (h *SubjectsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.fetchSubject(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), subject.ID); err != nil {
		if errors.Is(err, database.ErrSubjectNotFound) {
			respondError(w, http.StatusNotFound, "subject not found")
			return
		}
		log.Printf("Failed to delete subject %d: %v", subject.ID, err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	if err := h.RefreshIndex(r.Context()); err != nil {
		log.Printf("Failed to refresh duplicate index: %v", err)
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type enrollResponse struct {
	Subject SubjectResponse `json:"subject"`
	Similar *similarSubject `json:"similar,omitempty"`
}

type similarSubject struct {
	ID       int64   `json:"id"`
	Distance float64 `json:"distance"`
}

// Enroll handles POST /subjects/{id}/enroll. The uploaded image must show
// exactly one face; its embedding becomes the subject's gallery entry. When
// another subject's face is suspiciously close, the response carries a
// similar hint so operators can catch double enrollments, but the
// enrollment itself still goes through.
func (h *SubjectsHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	subject, ok := h.fetchSubject(w, r)
	if !ok {
		return
	}

	image, err := readUploadedImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	vector, err := h.extractor.Extract(r.Context(), image)
	if err != nil {
		if reason, ok := extractionReason(err); ok {
			respondError(w, http.StatusUnprocessableEntity, reason)
			return
		}
		log.Printf("Embedding service failed for subject %d: %v", subject.ID, err)
		respondError(w, http.StatusServiceUnavailable, "embedding service unavailable")
		return
	}

	// Approximate lookup only; a false negative here just means a missed
	// warning, never a wrong attendance decision.
	var similar *similarSubject
	for _, result := range h.index.Search(vector, 1) {
		if result.Ref != subject.ID && result.Distance < h.threshold {
			similar = &similarSubject{ID: result.Ref, Distance: result.Distance}
		}
	}

	if err := h.store.SetEmbedding(r.Context(), subject.ID, vector); err != nil {
		if errors.Is(err, database.ErrSubjectNotFound) {
			respondError(w, http.StatusNotFound, "subject not found")
			return
		}
		log.Printf("Failed to store embedding for subject %d: %v", subject.ID, err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	subject.Embedding = vector

	if err := h.RefreshIndex(r.Context()); err != nil {
		log.Printf("Failed to refresh duplicate index: %v", err)
	}

	respondJSON(w, http.StatusOK, enrollResponse{
		Subject: toSubjectResponse(subject),
		Similar: similar,
	})
}

type duplicateMatch struct {
	Subject  SubjectResponse `json:"subject"`
	Distance float64         `json:"distance"`
}

type checkDuplicateResponse struct {
	Duplicate bool             `json:"duplicate"`
	Matches   []duplicateMatch `json:"matches"`
}

// CheckDuplicate handles POST /subjects/check-duplicate. Operators upload a
// face before creating a subject; the response lists enrolled subjects whose
// stored embeddings fall under the duplicate threshold. The lookup is
// approximate and advisory: nothing is written.
func (h *SubjectsHandler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	image, err := readUploadedImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	vector, err := h.extractor.Extract(r.Context(), image)
	if err != nil {
		if reason, ok := extractionReason(err); ok {
			respondError(w, http.StatusUnprocessableEntity, reason)
			return
		}
		log.Printf("Embedding service failed during duplicate check: %v", err)
		respondError(w, http.StatusServiceUnavailable, "embedding service unavailable")
		return
	}

	matches := []duplicateMatch{}
	for _, result := range h.index.Search(vector, 3) {
		if result.Distance >= h.threshold {
			continue
		}
		subject, err := h.store.GetByID(r.Context(), result.Ref)
		if err != nil {
			log.Printf("Failed to fetch subject %d: %v", result.Ref, err)
			respondError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		if subject == nil {
			// Deleted since the index was last rebuilt.
			continue
		}
		matches = append(matches, duplicateMatch{
			Subject:  toSubjectResponse(subject),
			Distance: result.Distance,
		})
	}

	respondJSON(w, http.StatusOK, checkDuplicateResponse{
		Duplicate: len(matches) > 0,
		Matches:   matches,
	})
}

// fetchSubject resolves the {id} URL parameter to a stored subject; on
// failure it writes the error response and returns ok=false.
func (h *SubjectsHandler) fetchSubject(w http.ResponseWriter, r *http.Request) (*database.Subject, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subject id")
		return nil, false
	}

	subject, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("Failed to fetch subject %d: %v", id, err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return nil, false
	}
	if subject == nil {
		respondError(w, http.StatusNotFound, "subject not found")
		return nil, false
	}
	return subject, true
}

// readUploadedImage pulls the image out of a multipart form's "file" field.
func readUploadedImage(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxEnrollImageSize); err != nil {
		return nil, errors.New("expected a multipart form with a file field")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, errors.New("file field is required")
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxEnrollImageSize+1))
	if err != nil {
		return nil, errors.New("failed to read uploaded file")
	}
	if len(image) == 0 {
		return nil, errors.New("uploaded file is empty")
	}
	if len(image) > maxEnrollImageSize {
		return nil, errors.New("uploaded file is too large")
	}
	return image, nil
}
