package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/slidemap/internal/monitoring"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestDefaultMapConfig(t *testing.T) {
	cfg := DefaultMapConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultMapConfig() does not validate: %v", err)
	}
	if cfg.GetIndexConvention() != ConventionCorner {
		t.Errorf("GetIndexConvention() = %q, want %q", cfg.GetIndexConvention(), ConventionCorner)
	}
	if cfg.GetPMiss() != 0.35 {
		t.Errorf("GetPMiss() = %f, want 0.35", cfg.GetPMiss())
	}
	if _, ok := cfg.GetVirtualGroundHeight(); ok {
		t.Error("virtual ground plane should be unset by default")
	}
	if cfg.GetSnapshotInterval() != 60*time.Second {
		t.Errorf("GetSnapshotInterval() = %v, want 60s", cfg.GetSnapshotInterval())
	}
}

func TestMustLoadDefaultConfig_MatchesDefaultMapConfig(t *testing.T) {
	loaded := MustLoadDefaultConfig()
	want := DefaultMapConfig()

	if loaded.GetResolution() != want.GetResolution() {
		t.Errorf("resolution = %f, want %f", loaded.GetResolution(), want.GetResolution())
	}
	if loaded.GetInflationResolution() != want.GetInflationResolution() {
		t.Errorf("inflation_resolution = %f, want %f", loaded.GetInflationResolution(), want.GetInflationResolution())
	}
	if loaded.GetMapSize() != want.GetMapSize() {
		t.Errorf("map_size = %v, want %v", loaded.GetMapSize(), want.GetMapSize())
	}
	if loaded.GetRayRange() != want.GetRayRange() {
		t.Errorf("ray_range = %v, want %v", loaded.GetRayRange(), want.GetRayRange())
	}
	if loaded.GetOdomTimeout() != 50*time.Millisecond {
		t.Errorf("odom_timeout = %v, want 50ms", loaded.GetOdomTimeout())
	}
	if loaded.GetMapSlidingThreshold() != want.GetMapSlidingThreshold() {
		t.Errorf("map_sliding.threshold = %f, want %f", loaded.GetMapSlidingThreshold(), want.GetMapSlidingThreshold())
	}
}

func TestLoadMapConfig_YAML(t *testing.T) {
	path := writeConfig(t, "map.yaml", `
slidemap:
  index_convention: center
  resolution: 0.1
  inflation_resolution: 0.3
  map_size: [10, 10, 4]
  virtual_ground_height: -0.1
  raycasting:
    p_hit: 0.7
    unk_thresh: 0.7
    ray_range: [0.5, 8]
`)
	cfg, err := LoadMapConfig(path)
	if err != nil {
		t.Fatalf("LoadMapConfig() error: %v", err)
	}
	if cfg.GetIndexConvention() != ConventionCenter {
		t.Errorf("index_convention = %q, want center", cfg.GetIndexConvention())
	}
	if got := cfg.GetRayRange(); got != [2]float64{0.5, 8} {
		t.Errorf("ray_range = %v, want [0.5 8]", got)
	}
	if h, ok := cfg.GetVirtualGroundHeight(); !ok || h != -0.1 {
		t.Errorf("virtual_ground_height = %f, %v; want -0.1, true", h, ok)
	}
	// unset values fall back to defaults
	if cfg.GetInflationStep() != 1 {
		t.Errorf("inflation_step default = %d, want 1", cfg.GetInflationStep())
	}
	if !cfg.GetMapSlidingEnable() {
		t.Error("map_sliding.enable should default to true")
	}
}

func TestLoadMapConfig_JSONNestedNamespace(t *testing.T) {
	path := writeConfig(t, "map.json", `{
  "robot": {
    "slidemap": {
      "index_convention": "corner",
      "resolution": 0.2,
      "map_size": [8, 8, 2],
      "esdf": {"enable": true, "local_update_box": [4, 4, 2]}
    }
  }
}`)
	cfg, err := LoadMapConfigNamespace(path, "robot/slidemap")
	if err != nil {
		t.Fatalf("LoadMapConfigNamespace() error: %v", err)
	}
	if cfg.GetResolution() != 0.2 {
		t.Errorf("resolution = %f, want 0.2", cfg.GetResolution())
	}
	if !cfg.GetESDFEnable() {
		t.Error("esdf.enable should be true")
	}
	if got := cfg.GetESDFLocalUpdateBox(); got != [3]float64{4, 4, 2} {
		t.Errorf("esdf.local_update_box = %v", got)
	}

	if _, err := LoadMapConfigNamespace(path, "robot/other"); err == nil {
		t.Error("expected error for missing namespace")
	}
}

func TestLoadMapConfig_FileChecks(t *testing.T) {
	if _, err := LoadMapConfig(writeConfig(t, "map.txt", "slidemap: {}")); err == nil {
		t.Error("expected error for .txt extension")
	}
	if _, err := LoadMapConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	big := "slidemap:\n  resolution: 0.1\n# " + strings.Repeat("x", 1024*1024+1) + "\n"
	if _, err := LoadMapConfig(writeConfig(t, "big.yaml", big)); err == nil {
		t.Error("expected error for oversized file")
	}
	if _, err := LoadMapConfig(writeConfig(t, "bad.yaml", "slidemap: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate_FatalErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *MapConfig)
		want   string
	}{
		{"missing convention", func(c *MapConfig) { c.IndexConvention = nil }, "index_convention is required"},
		{"unknown convention", func(c *MapConfig) { c.IndexConvention = ptrString("both") }, "index_convention must be"},
		{"missing resolution", func(c *MapConfig) { c.Resolution = nil }, "resolution is required"},
		{"resolution above inflation", func(c *MapConfig) { c.Resolution = ptrFloat64(0.5) }, "inflation_resolution"},
		{"missing map size", func(c *MapConfig) { c.MapSize = nil }, "map_size is required"},
		{"map size arity", func(c *MapConfig) { c.MapSize = []float64{10, 10} }, "map_size must have 3"},
		{"origin arity", func(c *MapConfig) { c.FixMapOrigin = []float64{0} }, "fix_map_origin must have 3"},
		{"ray range arity", func(c *MapConfig) { c.Raycasting.RayRange = []float64{0.3, 5, 10} }, "ray_range must have 2"},
		{"update box arity", func(c *MapConfig) { c.Raycasting.LocalUpdateBox = []float64{1} }, "local_update_box must have 3"},
		{"esdf box arity", func(c *MapConfig) { c.ESDF.LocalUpdateBox = []float64{1, 2} }, "esdf.local_update_box must have 3"},
		{"probability out of range", func(c *MapConfig) { c.Raycasting.PHit = ptrFloat64(1.0) }, "p_hit must be in (0, 1)"},
		{"free above occ", func(c *MapConfig) { c.Raycasting.PFree = ptrFloat64(0.85) }, "p_free < p_occ"},
		{"free above half", func(c *MapConfig) { c.Raycasting.PFree = ptrFloat64(0.55) }, "p_free < 0.5 < p_occ"},
		{"free at half", func(c *MapConfig) { c.Raycasting.PFree = ptrFloat64(0.5) }, "p_free < 0.5 < p_occ"},
		{"occ below half", func(c *MapConfig) { c.Raycasting.POcc = ptrFloat64(0.45) }, "p_free < 0.5 < p_occ"},
		{"miss above half", func(c *MapConfig) { c.Raycasting.PMiss = ptrFloat64(0.6) }, "p_miss < 0.5 < p_hit"},
		{"bad snapshot interval", func(c *MapConfig) { c.Snapshot.Interval = ptrString("soon") }, "snapshot.interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultMapConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestNormalize_CoercesWithWarning(t *testing.T) {
	original := monitoring.Logf
	defer func() { monitoring.Logf = original }()
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, format)
	})

	cfg := DefaultMapConfig()
	cfg.PointFiltNum = ptrInt(0)
	cfg.Raycasting.BatchUpdateSize = ptrInt(-3)
	cfg.Normalize()

	if *cfg.PointFiltNum != 1 {
		t.Errorf("point_filt_num = %d, want 1", *cfg.PointFiltNum)
	}
	if *cfg.Raycasting.BatchUpdateSize != 1 {
		t.Errorf("batch_update_size = %d, want 1", *cfg.Raycasting.BatchUpdateSize)
	}
	if len(lines) != 2 {
		t.Errorf("expected 2 warnings, got %d", len(lines))
	}
}

func TestGetters_ClampWithoutNormalize(t *testing.T) {
	cfg := &MapConfig{PointFiltNum: ptrInt(-1)}
	cfg.Raycasting.BatchUpdateSize = ptrInt(0)
	if cfg.GetPointFiltNum() != 1 {
		t.Errorf("GetPointFiltNum() = %d, want 1", cfg.GetPointFiltNum())
	}
	if cfg.GetBatchUpdateSize() != 1 {
		t.Errorf("GetBatchUpdateSize() = %d, want 1", cfg.GetBatchUpdateSize())
	}
	if cfg.GetInflationResolution() != cfg.GetResolution() {
		t.Error("inflation_resolution should default to resolution")
	}
	if cfg.GetOdomTimeout() != 50*time.Millisecond {
		t.Errorf("GetOdomTimeout() = %v, want 50ms", cfg.GetOdomTimeout())
	}
}
