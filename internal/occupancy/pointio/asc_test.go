package pointio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestReadASC(t *testing.T) {
	in := `# Exported points
// comment
1 2 3 10

4.5,5.5,6.5,20
	-1	-2	-3	30 extra
`
	pts, inten, err := ReadASC(strings.NewReader(in))
	require.NoError(t, err)
	want := []r3.Vec{{X: 1, Y: 2, Z: 3}, {X: 4.5, Y: 5.5, Z: 6.5}, {X: -1, Y: -2, Z: -3}}
	if diff := cmp.Diff(want, pts); diff != "" {
		t.Errorf("points (-want +got):\n%s", diff)
	}
	assert.Equal(t, []float32{10, 20, 30}, inten)
}

func TestReadASC_PartialIntensityDropped(t *testing.T) {
	pts, inten, err := ReadASC(strings.NewReader("1 2 3 4\n5 6 7\n"))
	require.NoError(t, err)
	assert.Len(t, pts, 2)
	assert.Nil(t, inten)
}

func TestReadASC_Errors(t *testing.T) {
	tests := []struct {
		name, in, msg string
	}{
		{"too few columns", "1 2\n", "line 1"},
		{"bad number", "# h\n1 x 3\n", "line 2 column 2"},
		{"bad intensity", "1 2 3 y\n", "line 1 column 4"},
		{"nan coordinate", "1 2 3\nnan 0 0\n", "line 2 column 1: non-finite"},
		{"inf coordinate", "0 +Inf 0\n", "line 1 column 2: non-finite"},
		{"negative inf coordinate", "0 0 -inf\n", "line 1 column 3: non-finite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadASC(strings.NewReader(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestWriteASC_RoundTrip(t *testing.T) {
	pts := []r3.Vec{{X: 0.05, Y: -1.25, Z: 3}, {X: 10, Y: 20, Z: 30}}
	var buf bytes.Buffer
	require.NoError(t, WriteASC(&buf, pts, "occupied cells"))
	assert.True(t, strings.HasPrefix(buf.String(), "# occupied cells\n"))

	got, inten, err := ReadASC(&buf)
	require.NoError(t, err)
	assert.Nil(t, inten)
	assert.Equal(t, pts, got)
}

func TestLoadASC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "map.asc")
	require.NoError(t, os.WriteFile(path, []byte("1 1 1\n2 2 2\n"), 0o644))
	pts, _, err := LoadASC(path)
	require.NoError(t, err)
	assert.Len(t, pts, 2)

	_, _, err = LoadASC(filepath.Join(dir, "map.pcd"))
	assert.ErrorContains(t, err, "extension")
	_, _, err = LoadASC(filepath.Join(dir, "missing.asc"))
	assert.Error(t, err)
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                 "unknown",
		"occupied.asc":     "occupied.asc",
		"a b/c":            "a_b_c",
		"../../etc/passwd": "etc_passwd",
		"__x__":            "x",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
}

func TestExportASC(t *testing.T) {
	dir := t.TempDir()
	path, err := ExportASC(dir, "../escape", []r3.Vec{{X: 1, Y: 2, Z: 3}}, "")
	require.NoError(t, err)
	canon, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(canon, "escape.asc"), path)

	pts, _, err := LoadASC(path)
	require.NoError(t, err)
	assert.Equal(t, []r3.Vec{{X: 1, Y: 2, Z: 3}}, pts)

	_, err = ExportASC(dir, "empty", nil, "")
	assert.Error(t, err)
	_, err = ExportASC(filepath.Join(dir, "missing"), "x", []r3.Vec{{}}, "")
	assert.Error(t, err)
}
