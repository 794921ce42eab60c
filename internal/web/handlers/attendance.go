package handlers

import (
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/rollcall/rollcall/internal/attendance"
	"github.com/rollcall/rollcall/internal/database"
)

// AttendanceHandler exposes the recognize-and-mark flow and the ledger
// reports.
type AttendanceHandler struct {
	engine   *attendance.Engine
	ledger   database.AttendanceStore
	subjects database.SubjectStore
}

// NewAttendanceHandler creates a new attendance handler.
func NewAttendanceHandler(engine *attendance.Engine, ledger database.AttendanceStore, subjects database.SubjectStore) *AttendanceHandler {
	return &AttendanceHandler{engine: engine, ledger: ledger, subjects: subjects}
}

// recognizeRequest carries the probe. Exactly one of image (base64-encoded
// bytes) or vector must be set.
type recognizeRequest struct {
	Image  string    `json:"image,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
}

type recordResponse struct {
	ID         int64  `json:"id"`
	SubjectID  int64  `json:"subject_id"`
	Day        string `json:"day"`
	Status     string `json:"status"`
	RecordedAt string `json:"recorded_at"`
	Name       string `json:"name,omitempty"`
}

func toRecordResponse(r *database.AttendanceRecord) recordResponse {
	return recordResponse{
		ID:         r.ID,
		SubjectID:  r.SubjectID,
		Day:        r.Day.Format("2006-01-02"),
		Status:     r.Status,
		RecordedAt: r.RecordedAt.Format(time.RFC3339),
	}
}

type recognizeResponse struct {
	Outcome  string           `json:"outcome"`
	Reason   string           `json:"reason,omitempty"`
	Subject  *SubjectResponse `json:"subject,omitempty"`
	Record   *recordResponse  `json:"record,omitempty"`
	Distance *float64         `json:"distance,omitempty"`
}

// Recognize handles POST /attendance/recognize. Business outcomes render as
// 200; an unusable probe (no face, several faces, undecodable image, wrong
// dimensionality) is the client's input and renders the same outcome body
// with a 422, matching the enrollment endpoint. 5xx is reserved for
// infrastructure faults.
func (h *AttendanceHandler) Recognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}

	hasImage := req.Image != ""
	hasVector := len(req.Vector) > 0
	if hasImage == hasVector {
		respondError(w, http.StatusBadRequest, "exactly one of image or vector is required")
		return
	}

	var outcome *attendance.Outcome
	var err error
	if hasImage {
		image, decodeErr := base64.StdEncoding.DecodeString(req.Image)
		if decodeErr != nil {
			respondError(w, http.StatusBadRequest, "image must be base64-encoded")
			return
		}
		outcome, err = h.engine.RecognizeAndMark(r.Context(), image)
	} else {
		outcome, err = h.engine.MarkVector(r.Context(), req.Vector)
	}
	if err != nil {
		log.Printf("Recognition failed: %v", err)
		respondError(w, http.StatusServiceUnavailable, "recognition unavailable")
		return
	}

	resp := recognizeResponse{
		Outcome: string(outcome.Kind),
		Reason:  outcome.Reason,
	}
	if outcome.Subject != nil {
		subject := toSubjectResponse(outcome.Subject)
		resp.Subject = &subject
		distance := outcome.Distance
		resp.Distance = &distance
	}
	if outcome.Record != nil {
		record := toRecordResponse(outcome.Record)
		resp.Record = &record
	}
	if outcome.Kind == attendance.OutcomeNoMatch && outcome.Subject == nil && outcome.Distance > 0 {
		distance := outcome.Distance
		resp.Distance = &distance
	}

	status := http.StatusOK
	if outcome.Kind == attendance.OutcomeExtractionFailed {
		status = http.StatusUnprocessableEntity
	}
	respondJSON(w, status, resp)
}

// ListByDay handles GET /attendance?day=YYYY-MM-DD. The day defaults to
// today in the engine's authoritative zone.
func (h *AttendanceHandler) ListByDay(w http.ResponseWriter, r *http.Request) {
	loc := h.engine.Location()

	day := database.DayOf(time.Now(), loc)
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.ParseInLocation("2006-01-02", raw, loc)
		if err != nil {
			respondError(w, http.StatusBadRequest, "day must be formatted YYYY-MM-DD")
			return
		}
		day = database.DayOf(parsed, loc)
	}

	records, err := h.ledger.ListByDay(r.Context(), day)
	if err != nil {
		log.Printf("Failed to list attendance for %s: %v", day.Format("2006-01-02"), err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	responses := make([]recordResponse, len(records))
	for i := range records {
		responses[i] = toRecordResponse(&records[i])
		// Names make the report readable without a second round trip; a
		// missing subject just leaves the field empty.
		if subject, err := h.subjects.GetByID(r.Context(), records[i].SubjectID); err == nil && subject != nil {
			responses[i].Name = subject.Name
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"day":     day.Format("2006-01-02"),
		"records": responses,
		"count":   len(responses),
	})
}

// ListBySubject handles GET /subjects/{id}/attendance.
func (h *AttendanceHandler) ListBySubject(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subject id")
		return
	}

	subject, err := h.subjects.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("Failed to fetch subject %d: %v", id, err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	if subject == nil {
		respondError(w, http.StatusNotFound, "subject not found")
		return
	}

	records, err := h.ledger.ListBySubject(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrSubjectNotFound) {
			respondError(w, http.StatusNotFound, "subject not found")
			return
		}
		log.Printf("Failed to list attendance for subject %d: %v", id, err)
		respondError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}

	responses := make([]recordResponse, len(records))
	for i := range records {
		responses[i] = toRecordResponse(&records[i])
		responses[i].Name = subject.Name
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"subject": toSubjectResponse(subject),
		"records": responses,
		"count":   len(responses),
	})
}
