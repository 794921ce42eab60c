package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// fakeService spins up an embedding service stub returning the given response.
func fakeService(t *testing.T, status int, resp any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(status)
		if resp != nil {
			json.NewEncoder(w).Encode(resp)
		}
	}))
}

func vec(n int) []float32 {
	v := make([]float32, n)
	for i := range v {
		v[i] = float32(i)
	}
	return v
}

func TestExtract_SingleFace(t *testing.T) {
	srv := fakeService(t, http.StatusOK, map[string]any{
		"faces_count": 1,
		"faces":       []map[string]any{{"face_index": 0, "dim": 128, "embedding": vec(128)}},
	})
	defer srv.Close()

	c := New(srv.URL, 128)
	got, err := c.Extract(context.Background(), []byte{0xFF, 0xD8, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 128 {
		t.Errorf("expected 128-dim vector, got %d", len(got))
	}
}

func TestExtract_NoFace(t *testing.T) {
	srv := fakeService(t, http.StatusOK, map[string]any{"faces_count": 0, "faces": []any{}})
	defer srv.Close()

	c := New(srv.URL, 128)
	_, err := c.Extract(context.Background(), []byte("not really an image"))

	ee, ok := AsExtractionError(err)
	if !ok {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if ee.Reason != ReasonNoFace {
		t.Errorf("expected reason %s, got %s", ReasonNoFace, ee.Reason)
	}
}

func TestExtract_MultipleFaces(t *testing.T) {
	srv := fakeService(t, http.StatusOK, map[string]any{
		"faces_count": 2,
		"faces": []map[string]any{
			{"face_index": 0, "dim": 128, "embedding": vec(128)},
			{"face_index": 1, "dim": 128, "embedding": vec(128)},
		},
	})
	defer srv.Close()

	c := New(srv.URL, 128)
	_, err := c.Extract(context.Background(), []byte("group photo"))

	ee, ok := AsExtractionError(err)
	if !ok {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if ee.Reason != ReasonMultipleFaces {
		t.Errorf("expected reason %s, got %s", ReasonMultipleFaces, ee.Reason)
	}
}

func TestExtract_DecodeFailure(t *testing.T) {
	srv := fakeService(t, http.StatusBadRequest, map[string]string{"error": "cannot decode image"})
	defer srv.Close()

	c := New(srv.URL, 128)
	_, err := c.Extract(context.Background(), []byte("garbage"))

	ee, ok := AsExtractionError(err)
	if !ok {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if ee.Reason != ReasonDecodeFailure {
		t.Errorf("expected reason %s, got %s", ReasonDecodeFailure, ee.Reason)
	}
}

func TestExtract_WrongDimensionality(t *testing.T) {
	srv := fakeService(t, http.StatusOK, map[string]any{
		"faces_count": 1,
		"faces":       []map[string]any{{"face_index": 0, "dim": 64, "embedding": vec(64)}},
	})
	defer srv.Close()

	c := New(srv.URL, 128)
	_, err := c.Extract(context.Background(), []byte("image"))

	ee, ok := AsExtractionError(err)
	if !ok {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if ee.Reason != ReasonDecodeFailure {
		t.Errorf("expected reason %s, got %s", ReasonDecodeFailure, ee.Reason)
	}
}

func TestExtract_ServiceFaultIsRetryable(t *testing.T) {
	srv := fakeService(t, http.StatusInternalServerError, nil)
	defer srv.Close()

	c := New(srv.URL, 128)
	_, err := c.Extract(context.Background(), []byte("image"))
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := AsExtractionError(err); ok {
		t.Error("a 5xx service fault must not be classified as an input rejection")
	}
}

func TestDetectMIMEType(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0, 0, 0, 0}, "image/jpeg"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, "image/png"},
		{"short", []byte{0x01}, "application/octet-stream"},
		{"unknown", []byte{1, 2, 3, 4, 5, 6, 7, 8}, "application/octet-stream"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := detectMIMEType(tc.data); got != tc.want {
				t.Errorf("detectMIMEType = %s, want %s", got, tc.want)
			}
		})
	}
}
