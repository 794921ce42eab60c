// Package embedder talks to the external face-embedding service. The model
// behind it is a black box: raw image in, fixed-length vector out. The
// client's only intelligence is mapping service responses onto the
// extraction error taxonomy.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const defaultBaseURL = "http://localhost:8000"

// ExtractionReason classifies why a probe image yielded no usable vector.
// These are input errors: the caller gets a definitive rejection, never a
// retry hint.
type ExtractionReason string

const (
	ReasonNoFace        ExtractionReason = "no_face"
	ReasonMultipleFaces ExtractionReason = "multiple_faces"
	ReasonDecodeFailure ExtractionReason = "decode_failure"
)

// ExtractionError is a definitive rejection of the probe image. Transport
// and service faults are returned as plain errors instead, so callers can
// tell "bad input" from "try again later".
type ExtractionError struct {
	Reason ExtractionReason
	Detail string
}

func (e *ExtractionError) Error() string {
	if e.Detail == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

// AsExtractionError unwraps err into an ExtractionError if it is one.
func AsExtractionError(err error) (*ExtractionError, bool) {
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee, true
	}
	return nil, false
}

// Client computes face embeddings using the embedding service.
type Client struct {
	baseURL string
	dim     int
	client  *http.Client
}

// New creates a new embedding service client. dim is the expected vector
// length; responses with any other length are rejected as decode failures.
func New(baseURL string, dim int) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		dim:     dim,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// faceDetection represents a single detected face in the service response.
type faceDetection struct {
	FaceIndex int       `json:"face_index"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
}

// faceResponse represents the response from the face embedding endpoint.
type faceResponse struct {
	FacesCount int             `json:"faces_count"`
	Faces      []faceDetection `json:"faces"`
	Model      string          `json:"model"`
}

// Extract sends the raw image to the embedding service and returns the
// probe vector. Exactly one face must be present: zero or several faces,
// or an undecodable image, yield an ExtractionError. Anything else (network
// fault, 5xx) is a plain error the caller may retry.
func (c *Client) Extract(ctx context.Context, image []byte) ([]float32, error) {
	body, err := c.postMultipartImage(ctx, "/embed/face", image)
	if err != nil {
		return nil, err
	}

	var resp faceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse embedding response: %w", err)
	}

	switch {
	case resp.FacesCount == 0 || len(resp.Faces) == 0:
		return nil, &ExtractionError{Reason: ReasonNoFace}
	case resp.FacesCount > 1 || len(resp.Faces) > 1:
		// An ambiguous probe is rejected rather than guessing which face
		// belongs to the subject.
		return nil, &ExtractionError{
			Reason: ReasonMultipleFaces,
			Detail: fmt.Sprintf("%d faces detected", resp.FacesCount),
		}
	}

	vec := resp.Faces[0].Embedding
	if len(vec) != c.dim {
		return nil, &ExtractionError{
			Reason: ReasonDecodeFailure,
			Detail: fmt.Sprintf("expected %d-dimensional embedding, got %d", c.dim, len(vec)),
		}
	}
	return vec, nil
}

// Dim returns the expected embedding dimensionality.
func (c *Client) Dim() int {
	return c.dim
}

// postMultipartImage constructs a multipart form with the image data and
// posts it to the given endpoint. The part carries an explicit Content-Type
// based on magic byte detection.
func (c *Client) postMultipartImage(ctx context.Context, endpoint string, imageData []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="image.jpg"`)
	h.Set("Content-Type", detectMIMEType(imageData))
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	// 4xx means the service could not make sense of the image itself.
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &ExtractionError{
			Reason: ReasonDecodeFailure,
			Detail: strings.TrimSpace(string(body)),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service error (status %d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// detectMIMEType detects the MIME type from image data
func detectMIMEType(data []byte) string {
	if len(data) < 8 {
		return "application/octet-stream"
	}
	// JPEG: FF D8 FF
	if data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF {
		return "image/jpeg"
	}
	// PNG: 89 50 4E 47 0D 0A 1A 0A
	if data[0] == 0x89 && data[1] == 0x50 && data[2] == 0x4E && data[3] == 0x47 {
		return "image/png"
	}
	// WebP: 52 49 46 46 ... 57 45 42 50
	if len(data) >= 12 && data[0] == 0x52 && data[1] == 0x49 && data[2] == 0x46 && data[3] == 0x46 &&
		data[8] == 0x57 && data[9] == 0x45 && data[10] == 0x42 && data[11] == 0x50 {
		return "image/webp"
	}
	return "application/octet-stream"
}
