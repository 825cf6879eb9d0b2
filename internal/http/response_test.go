package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONBody_AllowsPayloadWithinLimit(t *testing.T) {
	body := strings.NewReader(`{"provider":"organization"}`)
	req := httptest.NewRequest("POST", "/api/session/login", body)
	rec := httptest.NewRecorder()

	var dst map[string]string
	if err := decodeJSONBody(rec, req, &dst); err != nil {
		t.Fatalf("decodeJSONBody returned error: %v", err)
	}
	if dst["provider"] != "organization" {
		t.Fatalf("expected key to be decoded, got %v", dst)
	}
}

func TestDecodeJSONBody_RejectsPayloadExceedingLimit(t *testing.T) {
	var b strings.Builder
	b.Grow(int(maxJSONBodyBytes) + 32)
	b.WriteString(`{"data":"`)
	for i := int64(0); i < maxJSONBodyBytes; i++ {
		b.WriteByte('a')
	}
	b.WriteString(`"}`)

	req := httptest.NewRequest("POST", "/api/me/progress", strings.NewReader(b.String()))
	rec := httptest.NewRecorder()

	var dst map[string]string
	err := decodeJSONBody(rec, req, &dst)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if !strings.Contains(err.Error(), "payload too large") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeJSONBody_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/me/enrollments", strings.NewReader(`{"courseId":1,"extra":true}`))
	rec := httptest.NewRecorder()

	var dst struct {
		CourseID int `json:"courseId"`
	}
	if err := decodeJSONBody(rec, req, &dst); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestWriteJSONErrorMapsPayloadTooLarge(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSONError(rec, errPayloadTooLarge)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}
