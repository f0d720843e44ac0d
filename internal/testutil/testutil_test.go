package testutil

import (
	"net/http"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestServeAndDecode(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	})
	rec := Serve(t, h, http.MethodGet, "/api/map/status")
	AssertStatusCode(t, rec.Code, http.StatusOK)

	var body map[string]string
	DecodeJSON(t, rec, &body)
	if body["path"] != "/api/map/status" {
		t.Errorf("path = %q", body["path"])
	}
}

func TestLattice(t *testing.T) {
	pts := Lattice(r3.Vec{X: 0, Y: 0, Z: 1}, r3.Vec{X: 0.3, Y: 0.1, Z: 1}, 0.1)
	if len(pts) != 8 {
		t.Fatalf("len = %d, want 8", len(pts))
	}
	if pts[1].X < 0.099 || pts[1].X > 0.101 || pts[1].Y != 0 {
		t.Errorf("second point = %v, want X fastest", pts[1])
	}
	last := pts[len(pts)-1]
	if last.X < 0.299 || last.Y < 0.099 || last.Z != 1 {
		t.Errorf("last point = %v", last)
	}

	if got := Lattice(r3.Vec{X: 1}, r3.Vec{}, 0.1); len(got) != 0 {
		t.Errorf("inverted box gave %d points", len(got))
	}
	if got := Lattice(r3.Vec{}, r3.Vec{X: 1}, 0); got != nil {
		t.Errorf("zero step gave %d points", len(got))
	}
}
