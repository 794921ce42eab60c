package attendance

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/rollcall/rollcall/internal/database"
	"github.com/rollcall/rollcall/internal/database/mock"
	"github.com/rollcall/rollcall/internal/embedder"
)

// fakeExtractor returns a canned vector or error.
type fakeExtractor struct {
	vector []float32
	err    error
}

func (f *fakeExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	return f.vector, f.err
}

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

// fixture wires an engine against mock stores with two enrolled subjects.
type fixture struct {
	subjects *mock.SubjectStore
	ledger   *mock.AttendanceStore
	engine   *Engine
	now      time.Time
	a, b     *database.Subject
}

func newFixture(t *testing.T, ext Extractor) *fixture {
	t.Helper()
	loc := testLocation(t)

	subjects := mock.NewSubjectStore()
	ledger := mock.NewAttendanceStore(loc)
	subjects.LinkAttendance(ledger)

	// Subjects A and B with embeddings far apart (distance 2 > threshold).
	a := &database.Subject{ExternalID: "S-001", Name: "Ada", Active: true, Embedding: []float32{1, 0, 0, 0}}
	b := &database.Subject{ExternalID: "S-002", Name: "Bao", Active: true, Embedding: []float32{-1, 0, 0, 0}}
	for _, s := range []*database.Subject{a, b} {
		if err := subjects.Create(context.Background(), s); err != nil {
			t.Fatalf("create subject: %v", err)
		}
	}

	f := &fixture{
		subjects: subjects,
		ledger:   ledger,
		a:        a,
		b:        b,
		now:      time.Date(2024, 5, 2, 9, 30, 0, 0, loc),
	}
	f.engine = NewEngine(subjects, ledger, ext, Config{
		Threshold: 0.6,
		Location:  loc,
		Status:    database.StatusPresent,
		Dim:       4,
		Now:       func() time.Time { return f.now },
		Logger:    log.New(io.Discard, "", 0),
	})
	return f
}

func TestMarkVector_MarksThenAlreadyMarked(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Probe equal to A's embedding within epsilon.
	probe := []float32{1, 0.0001, 0, 0}

	out, err := f.engine.MarkVector(ctx, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeMarked {
		t.Fatalf("expected marked, got %s", out.Kind)
	}
	if out.Subject == nil || out.Subject.ExternalID != "S-001" {
		t.Errorf("expected subject S-001, got %+v", out.Subject)
	}
	if out.Record == nil || out.Record.Status != database.StatusPresent {
		t.Errorf("expected a present record, got %+v", out.Record)
	}
	if f.ledger.Count() != 1 {
		t.Errorf("expected exactly one ledger record, got %d", f.ledger.Count())
	}

	// Same probe, same day: already marked, no second record.
	out, err = f.engine.MarkVector(ctx, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeAlreadyMarked {
		t.Errorf("expected already_marked, got %s", out.Kind)
	}
	if out.Subject == nil || out.Subject.ExternalID != "S-001" {
		t.Errorf("expected subject S-001, got %+v", out.Subject)
	}
	if f.ledger.Count() != 1 {
		t.Errorf("expected still one ledger record, got %d", f.ledger.Count())
	}
}

func TestMarkVector_NoMatchFarProbe(t *testing.T) {
	f := newFixture(t, nil)

	// Equidistant-far from both subjects.
	out, err := f.engine.MarkVector(context.Background(), []float32{0, 5, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeNoMatch {
		t.Errorf("expected no_match, got %s", out.Kind)
	}
	if f.ledger.Count() != 0 {
		t.Errorf("no_match must not write records, ledger has %d", f.ledger.Count())
	}
}

func TestMarkVector_ThresholdIsExclusive(t *testing.T) {
	f := newFixture(t, nil)

	// Probe at distance exactly 0.6 from A and far from B: at-threshold
	// matches are rejected.
	out, err := f.engine.MarkVector(context.Background(), []float32{1, 0.6, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeNoMatch {
		t.Errorf("expected no_match at exact threshold, got %s", out.Kind)
	}
}

func TestMarkVector_NoGallery(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Remove both embeddings; subjects remain but none are enrolled.
	for _, s := range []*database.Subject{f.a, f.b} {
		if err := f.subjects.SetEmbedding(ctx, s.ID, nil); err != nil {
			t.Fatalf("clear embedding: %v", err)
		}
	}

	out, err := f.engine.MarkVector(ctx, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeNoGallery {
		t.Errorf("expected no_gallery, got %s", out.Kind)
	}
}

func TestMarkVector_CorruptEntryDoesNotBlockMatch(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Corrupt B's stored embedding with the wrong dimensionality.
	if err := f.subjects.SetEmbedding(ctx, f.b.ID, []float32{1, 2}); err != nil {
		t.Fatalf("set embedding: %v", err)
	}

	out, err := f.engine.MarkVector(ctx, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeMarked {
		t.Fatalf("expected marked despite corrupt sibling entry, got %s", out.Kind)
	}
	if out.Subject.ID != f.a.ID {
		t.Errorf("expected subject %d, got %d", f.a.ID, out.Subject.ID)
	}
}

func TestMarkVector_BadDimensionality(t *testing.T) {
	tests := []struct {
		name  string
		probe []float32
	}{
		{"empty", nil},
		{"too short", []float32{1, 0}},
		{"too long", []float32{1, 0, 0, 0, 0}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)

			out, err := f.engine.MarkVector(context.Background(), tc.probe)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Kind != OutcomeExtractionFailed || out.Reason != "bad_dimensionality" {
				t.Errorf("expected extraction_failed/bad_dimensionality, got %s/%s", out.Kind, out.Reason)
			}
			if f.ledger.Count() != 0 {
				t.Errorf("bad probes must not write records, ledger has %d", f.ledger.Count())
			}
		})
	}
}

func TestMarkVector_StorageFaultSurfacesAsError(t *testing.T) {
	f := newFixture(t, nil)
	f.subjects.GalleryError = errors.New("connection refused")

	out, err := f.engine.MarkVector(context.Background(), []float32{1, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for storage fault")
	}
	if out != nil {
		t.Errorf("expected no outcome alongside error, got %+v", out)
	}
}

func TestMarkVector_ConcurrentSameSubjectExactlyOneMarked(t *testing.T) {
	f := newFixture(t, nil)
	probe := []float32{1, 0, 0, 0}

	const attempts = 16
	outcomes := make([]OutcomeKind, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.engine.MarkVector(context.Background(), probe)
			if err != nil {
				t.Errorf("attempt %d: unexpected error: %v", i, err)
				return
			}
			outcomes[i] = out.Kind
		}(i)
	}
	wg.Wait()

	var marked, already int
	for _, kind := range outcomes {
		switch kind {
		case OutcomeMarked:
			marked++
		case OutcomeAlreadyMarked:
			already++
		}
	}
	if marked != 1 {
		t.Errorf("expected exactly one marked outcome, got %d", marked)
	}
	if already != attempts-1 {
		t.Errorf("expected %d already_marked outcomes, got %d", attempts-1, already)
	}
	if f.ledger.Count() != 1 {
		t.Errorf("expected exactly one ledger record, got %d", f.ledger.Count())
	}
}

func TestMarkVector_NewDayAllowsNewRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	probe := []float32{1, 0, 0, 0}
	loc := f.engine.Location()

	f.now = time.Date(2024, 5, 2, 23, 59, 59, 0, loc)
	out, err := f.engine.MarkVector(ctx, probe)
	if err != nil || out.Kind != OutcomeMarked {
		t.Fatalf("first mark: kind=%v err=%v", out, err)
	}

	// Two seconds later it is a different calendar day.
	f.now = time.Date(2024, 5, 3, 0, 0, 1, 0, loc)
	out, err = f.engine.MarkVector(ctx, probe)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeMarked {
		t.Errorf("expected marked on the new day, got %s", out.Kind)
	}
	if f.ledger.Count() != 2 {
		t.Errorf("expected two records across two days, got %d", f.ledger.Count())
	}
}

func TestRecognizeAndMark_ExtractionRejections(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"no face", &embedder.ExtractionError{Reason: embedder.ReasonNoFace}, "no_face"},
		{"multiple faces", &embedder.ExtractionError{Reason: embedder.ReasonMultipleFaces}, "multiple_faces"},
		{"decode failure", &embedder.ExtractionError{Reason: embedder.ReasonDecodeFailure}, "decode_failure"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &fakeExtractor{err: tc.err})

			out, err := f.engine.RecognizeAndMark(context.Background(), []byte("img"))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Kind != OutcomeExtractionFailed {
				t.Errorf("expected extraction_failed, got %s", out.Kind)
			}
			if out.Reason != tc.reason {
				t.Errorf("expected reason %s, got %s", tc.reason, out.Reason)
			}
		})
	}
}

func TestRecognizeAndMark_TransportFaultIsError(t *testing.T) {
	f := newFixture(t, &fakeExtractor{err: errors.New("dial tcp: connection refused")})

	_, err := f.engine.RecognizeAndMark(context.Background(), []byte("img"))
	if err == nil {
		t.Fatal("expected transport fault to surface as an error")
	}
}

func TestRecognizeAndMark_EndToEnd(t *testing.T) {
	f := newFixture(t, &fakeExtractor{vector: []float32{1, 0, 0, 0}})

	out, err := f.engine.RecognizeAndMark(context.Background(), []byte("img"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeMarked {
		t.Fatalf("expected marked, got %s", out.Kind)
	}
	if out.Subject.Name != "Ada" {
		t.Errorf("expected Ada, got %s", out.Subject.Name)
	}
}

func TestDeleteSubjectCascades(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	out, err := f.engine.MarkVector(ctx, []float32{1, 0, 0, 0})
	if err != nil || out.Kind != OutcomeMarked {
		t.Fatalf("mark: kind=%v err=%v", out, err)
	}

	if err := f.subjects.Delete(ctx, f.a.ID); err != nil {
		t.Fatalf("delete subject: %v", err)
	}

	records, err := f.ledger.ListBySubject(ctx, f.a.ID)
	if err != nil {
		t.Fatalf("list by subject: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected history gone after cascade, got %d records", len(records))
	}

	// A is gone from the gallery: the same probe no longer matches anyone.
	out, err = f.engine.MarkVector(ctx, []float32{1, 0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Kind != OutcomeNoMatch {
		t.Errorf("expected no_match after deletion, got %s", out.Kind)
	}
}
