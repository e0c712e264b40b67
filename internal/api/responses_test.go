package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusBadRequest, "bad input")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "bad input" {
		t.Errorf("Error = %q, want %q", body.Error, "bad input")
	}
}

func TestWriteErrorWithCode(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithCode(rec, http.StatusForbidden, ErrForbidden, "write token required")

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Code != ErrForbidden {
		t.Errorf("Code = %q, want %q", body.Code, ErrForbidden)
	}
	if body.Detail != "write token required" {
		t.Errorf("Detail = %q, want %q", body.Detail, "write token required")
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}
