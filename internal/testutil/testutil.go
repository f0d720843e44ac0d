// Package testutil provides shared test helpers and point fixtures.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Serve runs one request against h and returns the recorded response.
func Serve(t testing.TB, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

// DecodeJSON decodes the recorded body into v, failing the test on error.
func DecodeJSON(t testing.TB, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json (body %q)", ct, rec.Body.String())
	}
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// Lattice returns the points min + k*step for every k that stays within
// max on all three axes, X varying fastest. A zero extent on an axis
// yields a single layer.
func Lattice(min, max r3.Vec, step float64) []r3.Vec {
	if step <= 0 {
		return nil
	}
	n := func(lo, hi float64) int {
		if hi < lo {
			return 0
		}
		return int((hi-lo)/step+1e-9) + 1
	}
	nx, ny, nz := n(min.X, max.X), n(min.Y, max.Y), n(min.Z, max.Z)
	out := make([]r3.Vec, 0, nx*ny*nz)
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				out = append(out, r3.Vec{
					X: min.X + float64(i)*step,
					Y: min.Y + float64(j)*step,
					Z: min.Z + float64(k)*step,
				})
			}
		}
	}
	return out
}
