package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestErrorEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Error(rec, http.StatusBadRequest, "VALIDATION_ERROR", "quantity must be positive")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %s", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "quantity must be positive" || body["code"] != "VALIDATION_ERROR" || body["success"] != false {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestBinary(t *testing.T) {
	rec := httptest.NewRecorder()
	Binary(rec, "application/pdf", "waybill.pdf", []byte("%PDF"))
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="waybill.pdf"` {
		t.Fatalf("unexpected disposition %s", got)
	}
	if rec.Body.String() != "%PDF" {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
