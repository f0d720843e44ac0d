// Package pointio reads and writes CloudCompare-style ASCII point files
// (.asc): one point per line as "x y z [intensity ...]".
package pointio

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// MaxFileSize caps static map files read by LoadASC.
const MaxFileSize = 256 << 20

// ReadASC parses points from r. Blank lines and lines starting with '#'
// or "//" are skipped; fields may be separated by spaces, tabs or commas.
// intensity is non-nil only when every point carries a fourth column.
func ReadASC(r io.Reader) (points []r3.Vec, intensity []float32, err error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	allIntensity := true
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") || strings.HasPrefix(s, "//") {
			continue
		}
		fields := strings.FieldsFunc(s, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) < 3 {
			return nil, nil, fmt.Errorf("line %d: want at least 3 columns, got %d", line, len(fields))
		}
		var xyz [3]float64
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(fields[k], 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d column %d: %w", line, k+1, err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, fmt.Errorf("line %d column %d: non-finite coordinate %q", line, k+1, fields[k])
			}
			xyz[k] = v
		}
		points = append(points, r3.Vec{X: xyz[0], Y: xyz[1], Z: xyz[2]})

		if len(fields) < 4 {
			allIntensity = false
			continue
		}
		v, err := strconv.ParseFloat(fields[3], 32)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d column 4: %w", line, err)
		}
		intensity = append(intensity, float32(v))
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading points: %w", err)
	}
	if !allIntensity || len(intensity) != len(points) {
		intensity = nil
	}
	return points, intensity, nil
}

// LoadASC reads a point file from disk.
func LoadASC(path string) ([]r3.Vec, []float32, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".asc" && ext != ".txt" && ext != ".xyz" {
		return nil, nil, fmt.Errorf("point file must have .asc, .txt or .xyz extension, got %q", ext)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat point file: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, nil, fmt.Errorf("point file too large: %d bytes (max %d)", info.Size(), MaxFileSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open point file: %w", err)
	}
	defer f.Close()
	return ReadASC(f)
}

// WriteASC writes points as "x y z" lines under a comment header.
func WriteASC(w io.Writer, points []r3.Vec, header string) error {
	bw := bufio.NewWriter(w)
	if header != "" {
		fmt.Fprintf(bw, "# %s\n", header)
	}
	fmt.Fprintf(bw, "# Format: X Y Z\n")
	for _, p := range points {
		fmt.Fprintf(bw, "%.6f %.6f %.6f\n", p.X, p.Y, p.Z)
	}
	return bw.Flush()
}
