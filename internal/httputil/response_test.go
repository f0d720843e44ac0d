package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusBadRequest, "test error")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "test error" {
		t.Errorf("error = %s, want 'test error'", resp["error"])
	}
}

func TestStatusHelpers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		fn   func(http.ResponseWriter)
		want int
	}{
		{"ok", func(w http.ResponseWriter) { WriteJSONOK(w, map[string]int{"n": 1}) }, http.StatusOK},
		{"bad request", func(w http.ResponseWriter) { BadRequest(w, "x") }, http.StatusBadRequest},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "x") }, http.StatusNotFound},
		{"internal", func(w http.ResponseWriter) { InternalServerError(w, "x") }, http.StatusInternalServerError},
		{"unavailable", func(w http.ResponseWriter) { ServiceUnavailable(w, "x") }, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.fn(rec)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireMethod(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	if !RequireMethod(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.MethodGet) {
		t.Error("GET rejected")
	}

	rec = httptest.NewRecorder()
	if RequireMethod(rec, httptest.NewRequest(http.MethodDelete, "/", nil), http.MethodGet, http.MethodPost) {
		t.Fatal("DELETE accepted")
	}
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
	if got := rec.Header().Get("Allow"); got != "GET, POST" {
		t.Errorf("Allow = %q", got)
	}
}

func TestQueryFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query   string
		want    float64
		wantErr bool
	}{
		{"", 2.5, false},
		{"x=1.25", 1.25, false},
		{"x=-3", -3, false},
		{"x=abc", 0, true},
		{"x=NaN", 0, true},
		{"x=Inf", 0, true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		got, err := QueryFloat(r, "x", 2.5)
		if (err != nil) != tt.wantErr {
			t.Errorf("QueryFloat(%q) err = %v, wantErr %v", tt.query, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("QueryFloat(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}

	if _, err := RequireFloat(httptest.NewRequest(http.MethodGet, "/", nil), "x"); err == nil {
		t.Error("RequireFloat accepted a missing parameter")
	}
}

func TestQueryInt(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/?n=7&bad=0", nil)
	if v, err := QueryInt(r, "n", 1, 1, 10); err != nil || v != 7 {
		t.Errorf("QueryInt(n) = %d, %v", v, err)
	}
	if v, err := QueryInt(r, "missing", 4, 1, 10); err != nil || v != 4 {
		t.Errorf("QueryInt(missing) = %d, %v", v, err)
	}
	if _, err := QueryInt(r, "bad", 1, 1, 10); err == nil {
		t.Error("QueryInt accepted an out of range value")
	}
}
