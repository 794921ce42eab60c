// Package attendance implements the decision engine that turns a probe
// image or vector into a terminal attendance outcome. The engine owns no
// persistent state: it reads the gallery, runs the matcher, and writes only
// through the ledger's atomic InsertIfAbsent.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/embedder"
	"github.com/rollcall/rollcall/internal/match"
)

// Extractor reduces a raw image to a probe vector or a typed rejection.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
}

// Config carries the engine's decision parameters. Everything is explicit
// at construction so tests can inject alternate clocks, zones, and
// thresholds; there are no process-wide defaults in this package.
type Config struct {
	// Threshold is the maximum accepted distance. A best match at or above
	// it is rejected: not finding weak matches matters as much as finding
	// strong ones.
	Threshold float64
	// Location is the authoritative zone for day-boundary computation.
	Location *time.Location
	// Status written on successful recognition.
	Status string
	// Dim is the expected probe dimensionality. Zero disables the check.
	Dim int
	// Now supplies the current time; defaults to time.Now.
	Now func() time.Time
	// Logger receives non-fatal diagnostics (skipped gallery entries).
	// Defaults to log.Default().
	Logger *log.Logger
}

// Engine orchestrates matcher and ledger for recognize-and-mark requests.
type Engine struct {
	subjects  database.SubjectStore
	ledger    database.AttendanceStore
	extractor Extractor
	cfg       Config
}

// NewEngine creates a decision engine.
func NewEngine(subjects database.SubjectStore, ledger database.AttendanceStore, extractor Extractor, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Status == "" {
		cfg.Status = database.StatusPresent
	}
	return &Engine{
		subjects:  subjects,
		ledger:    ledger,
		extractor: extractor,
		cfg:       cfg,
	}
}

// RecognizeAndMark extracts a probe vector from the image and runs the
// decision flow. Extraction rejections (no face, several faces, undecodable
// image) become the ExtractionFailed outcome; transport faults talking to
// the embedding service are returned as errors the caller may retry.
func (e *Engine) RecognizeAndMark(ctx context.Context, image []byte) (*Outcome, error) {
	probe, err := e.extractor.Extract(ctx, image)
	if err != nil {
		if ee, ok := embedder.AsExtractionError(err); ok {
			return &Outcome{Kind: OutcomeExtractionFailed, Reason: string(ee.Reason)}, nil
		}
		return nil, fmt.Errorf("extract probe: %w", err)
	}
	return e.MarkVector(ctx, probe)
}

// MarkVector runs the decision flow for an already-extracted probe vector.
// The stage order is fixed: gallery fetch, match, atomic insert. Each stage
// short-circuits to its terminal outcome; nothing is retried here.
func (e *Engine) MarkVector(ctx context.Context, probe []float32) (*Outcome, error) {
	if len(probe) == 0 || (e.cfg.Dim > 0 && len(probe) != e.cfg.Dim) {
		return &Outcome{Kind: OutcomeExtractionFailed, Reason: "bad_dimensionality"}, nil
	}

	gallery, err := e.subjects.Gallery(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gallery: %w", err)
	}
	if len(gallery) == 0 {
		return &Outcome{Kind: OutcomeNoGallery}, nil
	}

	entries := make([]match.Entry, len(gallery))
	byRef := make(map[int64]*database.GalleryEntry, len(gallery))
	for i := range gallery {
		entries[i] = match.Entry{Ref: gallery[i].SubjectID, Vector: gallery[i].Embedding}
		byRef[gallery[i].SubjectID] = &gallery[i]
	}

	best, skipped := match.Nearest(probe, entries)
	for _, s := range skipped {
		e.cfg.Logger.Printf("skipping gallery entry for subject %d: stored embedding has dim %d, want %d", s.Ref, s.Dim, len(probe))
	}
	if best == nil {
		// Every stored embedding was unusable; treat like nothing within
		// threshold rather than failing the request.
		return &Outcome{Kind: OutcomeNoMatch}, nil
	}
	if best.Distance >= e.cfg.Threshold {
		return &Outcome{Kind: OutcomeNoMatch, Distance: best.Distance}, nil
	}

	entry := byRef[best.Ref]
	subject := &database.Subject{
		ID:         entry.SubjectID,
		ExternalID: entry.ExternalID,
		Name:       entry.Name,
	}

	// The once-per-day check and the write are a single indivisible ledger
	// operation; composing them here would reintroduce the race.
	record, err := e.ledger.InsertIfAbsent(ctx, subject.ID, e.cfg.Status, e.cfg.Now())
	switch {
	case errors.Is(err, database.ErrAlreadyMarked):
		return &Outcome{Kind: OutcomeAlreadyMarked, Subject: subject, Distance: best.Distance}, nil
	case errors.Is(err, database.ErrSubjectNotFound):
		// Subject deleted between gallery fetch and insert.
		return &Outcome{Kind: OutcomeNoMatch, Distance: best.Distance}, nil
	case err != nil:
		return nil, fmt.Errorf("insert attendance: %w", err)
	}

	return &Outcome{Kind: OutcomeMarked, Subject: subject, Record: record, Distance: best.Distance}, nil
}

// Location returns the engine's authoritative timezone.
func (e *Engine) Location() *time.Location {
	return e.cfg.Location
}
