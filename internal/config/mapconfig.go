package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/slidemap/internal/monitoring"
)

// DefaultConfigPath is the path to the canonical map defaults file.
const DefaultConfigPath = "config/slidemap.defaults.yaml"

// DefaultNamespace is the key under which map parameters live in a
// configuration document. Nested namespaces are slash separated.
const DefaultNamespace = "slidemap"

// Index conventions accepted by index_convention.
const (
	ConventionCorner = "corner"
	ConventionCenter = "center"
)

// MapConfig is the map parameter key space. Fields are pointers (or nil
// slices) so a partial document leaves the Get* defaults in effect.
type MapConfig struct {
	IndexConvention      *string   `yaml:"index_convention,omitempty" json:"index_convention,omitempty"`
	Resolution           *float64  `yaml:"resolution,omitempty" json:"resolution,omitempty"`
	InflationResolution  *float64  `yaml:"inflation_resolution,omitempty" json:"inflation_resolution,omitempty"`
	InflationStep        *int      `yaml:"inflation_step,omitempty" json:"inflation_step,omitempty"`
	UnkInflationEn       *bool     `yaml:"unk_inflation_en,omitempty" json:"unk_inflation_en,omitempty"`
	UnkInflationStep     *int      `yaml:"unk_inflation_step,omitempty" json:"unk_inflation_step,omitempty"`
	MapSize              []float64 `yaml:"map_size,omitempty" json:"map_size,omitempty"`
	FixMapOrigin         []float64 `yaml:"fix_map_origin,omitempty" json:"fix_map_origin,omitempty"`
	PointFiltNum         *int      `yaml:"point_filt_num,omitempty" json:"point_filt_num,omitempty"`
	IntensityThresh      *float64  `yaml:"intensity_thresh,omitempty" json:"intensity_thresh,omitempty"`
	FrontierExtractionEn *bool     `yaml:"frontier_extraction_en,omitempty" json:"frontier_extraction_en,omitempty"`
	OdomTimeout          *float64  `yaml:"odom_timeout,omitempty" json:"odom_timeout,omitempty"` // seconds
	VirtualCeilHeight    *float64  `yaml:"virtual_ceil_height,omitempty" json:"virtual_ceil_height,omitempty"`
	VirtualGroundHeight  *float64  `yaml:"virtual_ground_height,omitempty" json:"virtual_ground_height,omitempty"`

	MapSliding SlidingConfig   `yaml:"map_sliding,omitempty" json:"map_sliding,omitempty"`
	Raycasting RaycastConfig   `yaml:"raycasting,omitempty" json:"raycasting,omitempty"`
	ESDF       ESDFConfig      `yaml:"esdf,omitempty" json:"esdf,omitempty"`
	StaticMap  StaticMapConfig `yaml:"static_map,omitempty" json:"static_map,omitempty"`
	Snapshot   SnapshotConfig  `yaml:"snapshot,omitempty" json:"snapshot,omitempty"`
}

// SlidingConfig controls window re-centering.
type SlidingConfig struct {
	Enable    *bool    `yaml:"enable,omitempty" json:"enable,omitempty"`
	Threshold *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"` // meters
}

// RaycastConfig holds the probabilistic update parameters.
type RaycastConfig struct {
	Enable          *bool     `yaml:"enable,omitempty" json:"enable,omitempty"`
	BatchUpdateSize *int      `yaml:"batch_update_size,omitempty" json:"batch_update_size,omitempty"`
	PHit            *float64  `yaml:"p_hit,omitempty" json:"p_hit,omitempty"`
	PMiss           *float64  `yaml:"p_miss,omitempty" json:"p_miss,omitempty"`
	PMin            *float64  `yaml:"p_min,omitempty" json:"p_min,omitempty"`
	PMax            *float64  `yaml:"p_max,omitempty" json:"p_max,omitempty"`
	POcc            *float64  `yaml:"p_occ,omitempty" json:"p_occ,omitempty"`
	PFree           *float64  `yaml:"p_free,omitempty" json:"p_free,omitempty"`
	RayRange        []float64 `yaml:"ray_range,omitempty" json:"ray_range,omitempty"`
	LocalUpdateBox  []float64 `yaml:"local_update_box,omitempty" json:"local_update_box,omitempty"`
}

// ESDFConfig enables the local distance field.
type ESDFConfig struct {
	Enable         *bool     `yaml:"enable,omitempty" json:"enable,omitempty"`
	LocalUpdateBox []float64 `yaml:"local_update_box,omitempty" json:"local_update_box,omitempty"`
}

// StaticMapConfig points at a point file loaded at startup.
type StaticMapConfig struct {
	Enable *bool   `yaml:"enable,omitempty" json:"enable,omitempty"`
	Path   *string `yaml:"path,omitempty" json:"path,omitempty"`
}

// SnapshotConfig controls periodic persistence of the probability layer.
type SnapshotConfig struct {
	Enable   *bool   `yaml:"enable,omitempty" json:"enable,omitempty"`
	Interval *string `yaml:"interval,omitempty" json:"interval,omitempty"` // duration string like "60s"
	Path     *string `yaml:"path,omitempty" json:"path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultMapConfig returns a fully populated config matching
// config/slidemap.defaults.yaml. Virtual planes are left unset.
func DefaultMapConfig() *MapConfig {
	return &MapConfig{
		IndexConvention:      ptrString(ConventionCorner),
		Resolution:           ptrFloat64(0.1),
		InflationResolution:  ptrFloat64(0.2),
		InflationStep:        ptrInt(1),
		UnkInflationEn:       ptrBool(false),
		UnkInflationStep:     ptrInt(1),
		MapSize:              []float64{20, 20, 6},
		FixMapOrigin:         []float64{0, 0, 0},
		PointFiltNum:         ptrInt(1),
		IntensityThresh:      ptrFloat64(-1),
		FrontierExtractionEn: ptrBool(false),
		OdomTimeout:          ptrFloat64(0.05),
		MapSliding: SlidingConfig{
			Enable:    ptrBool(true),
			Threshold: ptrFloat64(0.5),
		},
		Raycasting: RaycastConfig{
			Enable:          ptrBool(true),
			BatchUpdateSize: ptrInt(1),
			PHit:            ptrFloat64(0.70),
			PMiss:           ptrFloat64(0.35),
			PMin:            ptrFloat64(0.12),
			PMax:            ptrFloat64(0.97),
			POcc:            ptrFloat64(0.80),
			PFree:           ptrFloat64(0.30),
			RayRange:        []float64{0.3, 10},
			LocalUpdateBox:  []float64{20, 20, 6},
		},
		ESDF: ESDFConfig{
			Enable:         ptrBool(false),
			LocalUpdateBox: []float64{5, 5, 3},
		},
		StaticMap: StaticMapConfig{
			Enable: ptrBool(false),
			Path:   ptrString("map.asc"),
		},
		Snapshot: SnapshotConfig{
			Enable:   ptrBool(false),
			Interval: ptrString("60s"),
			Path:     ptrString("slidemap.db"),
		},
	}
}

// LoadMapConfig loads the map parameters found under DefaultNamespace.
func LoadMapConfig(path string) (*MapConfig, error) {
	return LoadMapConfigNamespace(path, DefaultNamespace)
}

// LoadMapConfigNamespace loads a MapConfig from a YAML or JSON file, taking
// the parameters from the given slash-separated namespace. The file must
// have a .yaml, .yml or .json extension and be under 1MB. The result is
// validated and normalised before it is returned.
func LoadMapConfigNamespace(path, namespace string) (*MapConfig, error) {
	cleanPath := filepath.Clean(path)
	switch ext := filepath.Ext(cleanPath); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("config file must have .yaml, .yml or .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseMapConfig(data, namespace)
}

// ParseMapConfig decodes a configuration document. JSON documents are
// accepted since they are valid YAML.
func ParseMapConfig(data []byte, namespace string) (*MapConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	node, err := lookupNamespace(&root, namespace)
	if err != nil {
		return nil, err
	}

	cfg := &MapConfig{}
	if err := node.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", namespace, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.Normalize()
	return cfg, nil
}

// lookupNamespace walks a slash-separated key path from the document root.
func lookupNamespace(root *yaml.Node, namespace string) (*yaml.Node, error) {
	node := root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, errors.New("empty config document")
		}
		node = node.Content[0]
	}
	for _, key := range strings.Split(strings.Trim(namespace, "/"), "/") {
		if key == "" {
			continue
		}
		if node.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("namespace %q: %q is not a mapping", namespace, key)
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("namespace %q: key %q not found", namespace, key)
		}
		node = next
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("namespace %q is not a mapping", namespace)
	}
	return node, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *MapConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/occupancy/grid/
		"../../../../" + DefaultConfigPath, // from internal/occupancy/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadMapConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the structural rules of the key space: required values,
// vector arity and probability ordering. Anything it rejects is fatal.
func (c *MapConfig) Validate() error {
	if c.IndexConvention == nil {
		return errors.New("index_convention is required")
	}
	switch *c.IndexConvention {
	case ConventionCorner, ConventionCenter:
	default:
		return fmt.Errorf("index_convention must be %q or %q, got %q",
			ConventionCorner, ConventionCenter, *c.IndexConvention)
	}

	if c.Resolution == nil {
		return errors.New("resolution is required")
	}
	if *c.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %f", *c.Resolution)
	}
	if c.InflationResolution != nil && *c.Resolution > *c.InflationResolution {
		return fmt.Errorf("inflation_resolution (%f) must be equal to or larger than resolution (%f)",
			*c.InflationResolution, *c.Resolution)
	}

	if c.MapSize == nil {
		return errors.New("map_size is required")
	}
	if err := checkArity("map_size", c.MapSize, 3); err != nil {
		return err
	}
	for i, v := range c.MapSize {
		if v <= 0 {
			return fmt.Errorf("map_size[%d] must be positive, got %f", i, v)
		}
	}
	if c.FixMapOrigin != nil {
		if err := checkArity("fix_map_origin", c.FixMapOrigin, 3); err != nil {
			return err
		}
	}
	if c.InflationStep != nil && *c.InflationStep < 0 {
		return fmt.Errorf("inflation_step must be non-negative, got %d", *c.InflationStep)
	}
	if c.UnkInflationStep != nil && *c.UnkInflationStep < 0 {
		return fmt.Errorf("unk_inflation_step must be non-negative, got %d", *c.UnkInflationStep)
	}

	if c.Raycasting.RayRange != nil {
		if err := checkArity("raycasting.ray_range", c.Raycasting.RayRange, 2); err != nil {
			return err
		}
		if r := c.Raycasting.RayRange; r[0] < 0 || r[0] > r[1] {
			return fmt.Errorf("raycasting.ray_range must satisfy 0 <= min <= max, got %v", r)
		}
	}
	if c.Raycasting.LocalUpdateBox != nil {
		if err := checkArity("raycasting.local_update_box", c.Raycasting.LocalUpdateBox, 3); err != nil {
			return err
		}
	}
	if c.ESDF.LocalUpdateBox != nil {
		if err := checkArity("esdf.local_update_box", c.ESDF.LocalUpdateBox, 3); err != nil {
			return err
		}
	}
	if err := c.validateProbabilities(); err != nil {
		return err
	}

	if c.Snapshot.Interval != nil && *c.Snapshot.Interval != "" {
		if _, err := time.ParseDuration(*c.Snapshot.Interval); err != nil {
			return fmt.Errorf("invalid snapshot.interval '%s': %w", *c.Snapshot.Interval, err)
		}
	}
	if c.OdomTimeout != nil && *c.OdomTimeout < 0 {
		return fmt.Errorf("odom_timeout must be non-negative, got %f", *c.OdomTimeout)
	}
	return nil
}

func (c *MapConfig) validateProbabilities() error {
	probs := []struct {
		name string
		v    float64
	}{
		{"p_hit", c.GetPHit()},
		{"p_miss", c.GetPMiss()},
		{"p_min", c.GetPMin()},
		{"p_max", c.GetPMax()},
		{"p_occ", c.GetPOcc()},
		{"p_free", c.GetPFree()},
	}
	for _, p := range probs {
		if p.v <= 0 || p.v >= 1 {
			return fmt.Errorf("raycasting.%s must be in (0, 1), got %f", p.name, p.v)
		}
	}
	pMin, pMax := c.GetPMin(), c.GetPMax()
	pOcc, pFree := c.GetPOcc(), c.GetPFree()
	if !(pMin <= pFree && pFree < pOcc && pOcc <= pMax) {
		return fmt.Errorf("probabilities must satisfy p_min <= p_free < p_occ <= p_max, got %f, %f, %f, %f",
			pMin, pFree, pOcc, pMax)
	}
	if !(pFree < 0.5 && pOcc > 0.5) {
		// An unobserved cell has probability 0.5 and must read as unknown.
		return fmt.Errorf("probabilities must satisfy p_free < 0.5 < p_occ, got %f, %f", pFree, pOcc)
	}
	if !(c.GetPMiss() < 0.5 && c.GetPHit() > 0.5) {
		return fmt.Errorf("probabilities must satisfy p_miss < 0.5 < p_hit, got %f, %f", c.GetPMiss(), c.GetPHit())
	}
	if !(pMin < 0.5 && pMax > 0.5) {
		return fmt.Errorf("probabilities must satisfy p_min < 0.5 < p_max, got %f, %f", pMin, pMax)
	}
	return nil
}

func checkArity(name string, v []float64, want int) error {
	if len(v) != want {
		return fmt.Errorf("%s must have %d elements, got %d", name, want, len(v))
	}
	return nil
}

// Normalize coerces values that have a safe substitute, logging a warning
// for each one it rewrites.
func (c *MapConfig) Normalize() {
	if c.PointFiltNum != nil && *c.PointFiltNum <= 0 {
		monitoring.Warnf("[Config] point_filt_num should be >= 1, got %d; using 1", *c.PointFiltNum)
		c.PointFiltNum = ptrInt(1)
	}
	if c.Raycasting.BatchUpdateSize != nil && *c.Raycasting.BatchUpdateSize <= 0 {
		monitoring.Warnf("[Config] raycasting.batch_update_size should be >= 1, got %d; using 1",
			*c.Raycasting.BatchUpdateSize)
		c.Raycasting.BatchUpdateSize = ptrInt(1)
	}
}

// GetIndexConvention returns index_convention; empty when unset.
func (c *MapConfig) GetIndexConvention() string {
	if c.IndexConvention == nil {
		return ""
	}
	return *c.IndexConvention
}

// GetResolution returns the base resolution in meters.
func (c *MapConfig) GetResolution() float64 {
	if c.Resolution == nil {
		return 0.1 // default
	}
	return *c.Resolution
}

// GetInflationResolution defaults to the base resolution.
func (c *MapConfig) GetInflationResolution() float64 {
	if c.InflationResolution == nil {
		return c.GetResolution()
	}
	return *c.InflationResolution
}

func (c *MapConfig) GetInflationStep() int {
	if c.InflationStep == nil {
		return 1 // default
	}
	return *c.InflationStep
}

func (c *MapConfig) GetUnkInflationEn() bool {
	return c.UnkInflationEn != nil && *c.UnkInflationEn
}

func (c *MapConfig) GetUnkInflationStep() int {
	if c.UnkInflationStep == nil {
		return 1 // default
	}
	return *c.UnkInflationStep
}

// GetMapSize returns the map extent in meters.
func (c *MapConfig) GetMapSize() [3]float64 {
	return vec3(c.MapSize, [3]float64{10, 10, 4})
}

func (c *MapConfig) GetFixMapOrigin() [3]float64 {
	return vec3(c.FixMapOrigin, [3]float64{})
}

// GetPointFiltNum returns point_filt_num, never less than 1.
func (c *MapConfig) GetPointFiltNum() int {
	if c.PointFiltNum == nil {
		return 1 // default
	}
	if *c.PointFiltNum < 1 {
		return 1
	}
	return *c.PointFiltNum
}

// GetIntensityThresh returns the intensity filter threshold. Values <= 0
// disable the filter.
func (c *MapConfig) GetIntensityThresh() float64 {
	if c.IntensityThresh == nil {
		return -1 // default: disabled
	}
	return *c.IntensityThresh
}

func (c *MapConfig) GetFrontierExtractionEn() bool {
	return c.FrontierExtractionEn != nil && *c.FrontierExtractionEn
}

// GetOdomTimeout returns odom_timeout as a duration. Zero disables the check.
func (c *MapConfig) GetOdomTimeout() time.Duration {
	if c.OdomTimeout == nil {
		return 50 * time.Millisecond // default
	}
	return time.Duration(*c.OdomTimeout * float64(time.Second))
}

// GetVirtualCeilHeight reports the ceiling height and whether it is set.
func (c *MapConfig) GetVirtualCeilHeight() (float64, bool) {
	if c.VirtualCeilHeight == nil {
		return 0, false
	}
	return *c.VirtualCeilHeight, true
}

// GetVirtualGroundHeight reports the ground height and whether it is set.
func (c *MapConfig) GetVirtualGroundHeight() (float64, bool) {
	if c.VirtualGroundHeight == nil {
		return 0, false
	}
	return *c.VirtualGroundHeight, true
}

func (c *MapConfig) GetMapSlidingEnable() bool {
	if c.MapSliding.Enable == nil {
		return true // default
	}
	return *c.MapSliding.Enable
}

// GetMapSlidingThreshold returns the raw threshold; non-positive means one
// inflation cell and is resolved during parameter derivation.
func (c *MapConfig) GetMapSlidingThreshold() float64 {
	if c.MapSliding.Threshold == nil {
		return -1 // default
	}
	return *c.MapSliding.Threshold
}

func (c *MapConfig) GetRaycastingEnable() bool {
	if c.Raycasting.Enable == nil {
		return true // default
	}
	return *c.Raycasting.Enable
}

// GetBatchUpdateSize returns batch_update_size, never less than 1.
func (c *MapConfig) GetBatchUpdateSize() int {
	if c.Raycasting.BatchUpdateSize == nil || *c.Raycasting.BatchUpdateSize < 1 {
		return 1
	}
	return *c.Raycasting.BatchUpdateSize
}

func (c *MapConfig) GetPHit() float64  { return floatOr(c.Raycasting.PHit, 0.70) }
func (c *MapConfig) GetPMiss() float64 { return floatOr(c.Raycasting.PMiss, 0.35) }
func (c *MapConfig) GetPMin() float64  { return floatOr(c.Raycasting.PMin, 0.12) }
func (c *MapConfig) GetPMax() float64  { return floatOr(c.Raycasting.PMax, 0.97) }
func (c *MapConfig) GetPOcc() float64  { return floatOr(c.Raycasting.POcc, 0.80) }
func (c *MapConfig) GetPFree() float64 { return floatOr(c.Raycasting.PFree, 0.30) }

// GetRayRange returns the [min, max] raycast range in meters.
func (c *MapConfig) GetRayRange() [2]float64 {
	if len(c.Raycasting.RayRange) != 2 {
		return [2]float64{0.3, 10}
	}
	return [2]float64{c.Raycasting.RayRange[0], c.Raycasting.RayRange[1]}
}

func (c *MapConfig) GetLocalUpdateBox() [3]float64 {
	return vec3(c.Raycasting.LocalUpdateBox, [3]float64{999, 999, 999})
}

func (c *MapConfig) GetESDFEnable() bool {
	return c.ESDF.Enable != nil && *c.ESDF.Enable
}

func (c *MapConfig) GetESDFLocalUpdateBox() [3]float64 {
	return vec3(c.ESDF.LocalUpdateBox, [3]float64{5, 5, 3})
}

func (c *MapConfig) GetStaticMapEnable() bool {
	return c.StaticMap.Enable != nil && *c.StaticMap.Enable
}

func (c *MapConfig) GetStaticMapPath() string {
	if c.StaticMap.Path == nil {
		return "map.asc" // default
	}
	return *c.StaticMap.Path
}

func (c *MapConfig) GetSnapshotEnable() bool {
	return c.Snapshot.Enable != nil && *c.Snapshot.Enable
}

// GetSnapshotInterval parses and returns the snapshot interval.
func (c *MapConfig) GetSnapshotInterval() time.Duration {
	if c.Snapshot.Interval == nil || *c.Snapshot.Interval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.Snapshot.Interval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

func (c *MapConfig) GetSnapshotPath() string {
	if c.Snapshot.Path == nil {
		return "slidemap.db" // default
	}
	return *c.Snapshot.Path
}

func floatOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func vec3(v []float64, def [3]float64) [3]float64 {
	if len(v) != 3 {
		return def
	}
	return [3]float64{v[0], v[1], v[2]}
}
