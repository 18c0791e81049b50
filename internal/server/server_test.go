package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/example/go-gst/internal/gst"
	"github.com/example/go-gst/internal/runtime/tensor"
	"github.com/example/go-gst/internal/server"
)

// stubEmbedder implements server.Embedder for tests.
type stubEmbedder struct {
	style  *tensor.Tensor
	scores *tensor.Tensor
	err    error

	gotContours *tensor.Tensor
	gotWeights  *tensor.Tensor
}

func (s *stubEmbedder) Embed(_ context.Context, contours *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	s.gotContours = contours
	return s.style, s.scores, s.err
}

func (s *stubEmbedder) Infer(_ context.Context, weights *tensor.Tensor) (*tensor.Tensor, error) {
	s.gotWeights = weights
	return s.style, s.err
}

func mustTensor(t *testing.T, data []float32, shape ...int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New: %v", err)
	}

	return x
}

func okEmbedder(t *testing.T) *stubEmbedder {
	return &stubEmbedder{
		style:  mustTensor(t, []float32{1, 2, 3, 4}, 2, 2),
		scores: mustTensor(t, []float32{0.25, 0.75, 0.5, 0.5}, 1, 2, 2),
	}
}

func post(h http.Handler, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rec, req)

	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}

	return body["error"]
}

// ---------------------------------------------------------------------------
// GET /health
// ---------------------------------------------------------------------------

func TestHealth_Returns200WithStatusOK(t *testing.T) {
	h := server.NewHandler(okEmbedder(t), server.WithBackend("onnx"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}

	if body["status"] != "ok" {
		t.Errorf("want status=ok, got %q", body["status"])
	}

	if body["backend"] != "onnx" {
		t.Errorf("want backend=onnx, got %q", body["backend"])
	}

	if _, ok := body["version"]; !ok {
		t.Error("want version field in response")
	}
}

// ---------------------------------------------------------------------------
// Request IDs
// ---------------------------------------------------------------------------

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	h := server.NewHandler(okEmbedder(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	id := rec.Header().Get(server.RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("want a UUID request id, got %q", id)
	}
}

func TestRequestID_EchoesClientUUID(t *testing.T) {
	h := server.NewHandler(okEmbedder(t))
	want := uuid.New().String()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(server.RequestIDHeader, want)
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(server.RequestIDHeader); got != want {
		t.Fatalf("request id = %q, want %q", got, want)
	}
}

func TestRequestID_ReplacesMalformedValue(t *testing.T) {
	h := server.NewHandler(okEmbedder(t))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(server.RequestIDHeader, "not-a-uuid\nInjected: 1")
	h.ServeHTTP(rec, req)

	id := rec.Header().Get(server.RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("malformed id should be replaced, got %q", id)
	}
}

// ---------------------------------------------------------------------------
// POST /v1/embed
// ---------------------------------------------------------------------------

func TestEmbed_ReturnsStyleAndScores(t *testing.T) {
	emb := okEmbedder(t)
	h := server.NewHandler(emb)

	rec := post(h, "/v1/embed", `{"contours":[[[1,0,0],[0,1,1]],[[0,0,1],[1,1,0]]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if got := emb.gotContours.Shape(); got[0] != 2 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("embedder saw shape %v, want [2 2 3]", got)
	}

	if want := []float32{1, 0, 0, 0, 1, 1, 0, 0, 1, 1, 1, 0}; !equalData(emb.gotContours.Data(), want) {
		t.Fatalf("contour data = %v, want %v", emb.gotContours.Data(), want)
	}

	var body struct {
		Style  [][]float32   `json:"style"`
		Scores [][][]float32 `json:"scores"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(body.Style) != 2 || body.Style[1][1] != 4 {
		t.Errorf("style = %v", body.Style)
	}

	if len(body.Scores) != 1 || body.Scores[0][0][1] != 0.75 {
		t.Errorf("scores = %v", body.Scores)
	}
}

func TestEmbed_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"empty contours", `{"contours":[]}`, http.StatusBadRequest, "required"},
		{"ragged bands", `{"contours":[[[1,2]],[[1,2],[3,4]]]}`, http.StatusBadRequest, "bands"},
		{"ragged frames", `{"contours":[[[1,2],[3]]]}`, http.StatusBadRequest, "frames"},
		{"invalid JSON", `{"contours":`, http.StatusBadRequest, "invalid JSON"},
		{"too many contours", `{"contours":[[[1]],[[1]],[[1]]]}`, http.StatusRequestEntityTooLarge, "exceeds maximum"},
		{"too many frames", `{"contours":[[[1,2,3,4,5]]]}`, http.StatusRequestEntityTooLarge, "frames"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := server.NewHandler(okEmbedder(t), server.WithMaxBatch(2), server.WithMaxFrames(4))

			rec := post(h, "/v1/embed", tt.body)
			if rec.Code != tt.code {
				t.Fatalf("want %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}

			if msg := decodeError(t, rec); !strings.Contains(msg, tt.want) {
				t.Errorf("error %q does not mention %q", msg, tt.want)
			}
		})
	}
}

func TestEmbed_MethodNotAllowed(t *testing.T) {
	h := server.NewHandler(okEmbedder(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/embed", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("want 405, got %d", rec.Code)
	}
}

func TestEmbed_MissingBody(t *testing.T) {
	h := server.NewHandler(okEmbedder(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/embed", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestEmbed_BodyTooLarge(t *testing.T) {
	h := server.NewHandler(okEmbedder(t), server.WithMaxBodyBytes(16))

	rec := post(h, "/v1/embed", `{"contours":[[[1,2,3,4,5,6,7,8,9]]]}`)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("want 413, got %d", rec.Code)
	}
}

func TestEmbed_ShapeErrorIs400(t *testing.T) {
	emb := &stubEmbedder{err: gst.ErrShape}
	h := server.NewHandler(emb)

	rec := post(h, "/v1/embed", `{"contours":[[[1,2]]]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", rec.Code)
	}
}

func TestEmbed_InternalErrorIs500(t *testing.T) {
	emb := &stubEmbedder{err: context.Canceled}
	h := server.NewHandler(emb)

	rec := post(h, "/v1/embed", `{"contours":[[[1,2]]]}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("cancelled: want 504, got %d", rec.Code)
	}

	emb.err = bytes.ErrTooLarge

	rec = post(h, "/v1/embed", `{"contours":[[[1,2]]]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("want 500, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /v1/inference
// ---------------------------------------------------------------------------

func TestInference_AcceptsVectorAndBatch(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		shape []int64
	}{
		{"vector", `{"weights":[0.5,0.5]}`, []int64{2}},
		{"batch", `{"weights":[[1,0],[0,1],[0.5,0.5]]}`, []int64{3, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emb := okEmbedder(t)
			h := server.NewHandler(emb)

			rec := post(h, "/v1/inference", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("want 200, got %d: %s", rec.Code, rec.Body.String())
			}

			if got := emb.gotWeights.Shape(); !equalShape(got, tt.shape) {
				t.Fatalf("weights shape = %v, want %v", got, tt.shape)
			}

			var body struct {
				Style [][]float32 `json:"style"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}

			if len(body.Style) != 2 {
				t.Errorf("style = %v", body.Style)
			}
		})
	}
}

func TestInference_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing", `{}`, "required"},
		{"empty vector", `{"weights":[]}`, "empty"},
		{"ragged", `{"weights":[[1,0],[1]]}`, "row 1"},
		{"wrong type", `{"weights":"abc"}`, "[T] or [B][T]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := server.NewHandler(okEmbedder(t))

			rec := post(h, "/v1/inference", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("want 400, got %d", rec.Code)
			}

			if msg := decodeError(t, rec); !strings.Contains(msg, tt.want) {
				t.Errorf("error %q does not mention %q", msg, tt.want)
			}
		})
	}
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func equalData(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
