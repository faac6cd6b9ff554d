package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	dErrors "memberpass/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "internal_error" {
			t.Fatalf("expected error code internal_error, got %q", body["error"])
		}
		if _, ok := body["error_description"]; ok {
			t.Fatalf("expected error_description to be omitted for internal errors")
		}
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}

		var body map[string]string
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if body["error"] != "bad_request" {
			t.Fatalf("expected error code bad_request, got %q", body["error"])
		}
		if body["error_description"] != "invalid input" {
			t.Fatalf("expected error_description to be returned for bad request")
		}
	})
}

func TestWriteErrorStatuses(t *testing.T) {
	tests := []struct {
		code   dErrors.Code
		status int
	}{
		{dErrors.CodeInvalidInput, http.StatusBadRequest},
		{dErrors.CodeMemberNotFound, http.StatusNotFound},
		{dErrors.CodeAlreadyExpired, http.StatusUnprocessableEntity},
		{dErrors.CodeLookupTimeout, http.StatusGatewayTimeout},
		{dErrors.CodeUnavailable, http.StatusServiceUnavailable},
		{dErrors.CodeUnauthorized, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, dErrors.New(tt.code, "x"))
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, w.Code)
			}
		})
	}

	t.Run("unclassified errors are internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errTest("boom"))
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("expected status 500, got %d", w.Code)
		}
	})
}

type errTest string

func (e errTest) Error() string { return string(e) }

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Payload string `json:"payload"`
	}

	t.Run("valid", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"payload":"abc"}`))
		var b body
		if err := DecodeJSON(httptest.NewRecorder(), r, &b); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b.Payload != "abc" {
			t.Fatalf("expected payload abc, got %q", b.Payload)
		}
	})

	for name, raw := range map[string]string{
		"empty":         "",
		"unknown field": `{"payload":"abc","extra":1}`,
		"trailing data": `{"payload":"abc"}{"payload":"def"}`,
		"not json":      `payload=abc`,
	} {
		t.Run(name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(raw))
			var b body
			err := DecodeJSON(httptest.NewRecorder(), r, &b)
			if !dErrors.HasCode(err, dErrors.CodeBadRequest) {
				t.Fatalf("expected bad_request, got %v", err)
			}
		})
	}
}
