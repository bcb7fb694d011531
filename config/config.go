// Package config provides configuration loading and access for the tracker.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all run configuration parameters.
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Field     FieldConfig     `yaml:"field"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Resample  ResampleConfig  `yaml:"resample"`
	Seeding   SeedingConfig   `yaml:"seeding"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Output    OutputConfig    `yaml:"output"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// RunConfig holds the simulation clock.
type RunConfig struct {
	Steps        int     `yaml:"steps"`
	StepDuration float64 `yaml:"step_duration"` // seconds between solver outputs
	Seed         int64   `yaml:"seed"`
}

// FieldConfig selects the source of mesh and flow fields.
type FieldConfig struct {
	Kind      string          `yaml:"kind"` // synthetic | csv
	CellsCSV  string          `yaml:"cells_csv"`
	FieldsCSV string          `yaml:"fields_csv"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig describes a rectangular quad mesh with an analytic tidal flow.
type SyntheticConfig struct {
	NX           int     `yaml:"nx"`
	NY           int     `yaml:"ny"`
	CellSize     float64 `yaml:"cell_size"`
	OriginX      float64 `yaml:"origin_x"`
	OriginY      float64 `yaml:"origin_y"`
	Steps        int     `yaml:"steps"`
	TidalU       float64 `yaml:"tidal_u"` // peak eastward velocity (m/s)
	TidalV       float64 `yaml:"tidal_v"` // peak northward velocity (m/s)
	Period       float64 `yaml:"period"`  // tidal period (s)
	Swirl        float64 `yaml:"swirl"`   // solid body rotation rate around the mesh centre (1/s)
	StepDuration float64 `yaml:"step_duration"`
}

// TracerConfig holds the stream integrator parameters. They must stay
// constant for a run to keep results reproducible.
type TracerConfig struct {
	MaxPropagation float64 `yaml:"max_propagation"`
	MaxSteps       int     `yaml:"max_steps"`
	MinStep        float64 `yaml:"min_step"`
	MaxStep        float64 `yaml:"max_step"`
	TerminalSpeed  float64 `yaml:"terminal_speed"`
}

// TrackingConfig holds identity correlation parameters.
type TrackingConfig struct {
	Neighbors   int `yaml:"neighbors"`    // candidates per nearest-neighbour query
	WidenFactor int `yaml:"widen_factor"` // multiplier for the second query when all candidates are claimed
}

// ResampleConfig holds trajectory resampling parameters.
type ResampleConfig struct {
	Samples int    `yaml:"samples"`
	Method  string `yaml:"method"` // linear | fritsch_butland
}

// RegionConfig is an axis-aligned source region.
type RegionConfig struct {
	MinX float64 `yaml:"min_x"`
	MinY float64 `yaml:"min_y"`
	MaxX float64 `yaml:"max_x"`
	MaxY float64 `yaml:"max_y"`
}

// Empty reports whether the region has no area.
func (r RegionConfig) Empty() bool {
	return r.MaxX <= r.MinX || r.MaxY <= r.MinY
}

// DomainConfig configures the domain-wide top-up.
type DomainConfig struct {
	Target       int `yaml:"target"`
	RegionConfig `yaml:",inline"`
}

// DriftConfig is a constant velocity override.
type DriftConfig struct {
	U float64 `yaml:"u"`
	V float64 `yaml:"v"`
}

// ReleaseConfig schedules batches of particles from a named region.
type ReleaseConfig struct {
	Name     string      `yaml:"name"`
	Region   string      `yaml:"region"`
	Count    int         `yaml:"count"`
	Every    int         `yaml:"every"` // steps between releases (0 = once)
	Start    int         `yaml:"start"` // first release step
	Stop     int         `yaml:"stop"`  // last release step (0 = no limit)
	Drift    DriftConfig `yaml:"drift"`
	Behavior string      `yaml:"behavior"` // "" | seek
}

// SeedingConfig holds seeding parameters.
type SeedingConfig struct {
	Domain   DomainConfig            `yaml:"domain"`
	Regions  map[string]RegionConfig `yaml:"regions"`
	Releases []ReleaseConfig         `yaml:"releases"`
}

// TargetConfig is a named point swimmers can head for.
type TargetConfig struct {
	Name string  `yaml:"name"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
}

// BehaviorConfig holds the swim-to-target behavior parameters.
type BehaviorConfig struct {
	SwimSpeed     float64        `yaml:"swim_speed"`     // m/s
	CaptureRadius float64        `yaml:"capture_radius"` // m
	SurvivalTime  float64        `yaml:"survival_time"`  // s since seeding
	Targets       []TargetConfig `yaml:"targets"`
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	PerfWindow int `yaml:"perf_window"`
}

// OutputConfig holds output parameters.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Snapshot bool   `yaml:"snapshot"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	ReleaseIndex map[string]int // release name -> index into Seeding.Releases
}

// Behavior kinds accepted by releases.
const (
	BehaviorNone = ""
	BehaviorSeek = "seek"
)

// Field kinds.
const (
	FieldSynthetic = "synthetic"
	FieldCSV       = "csv"
)

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	cfg.computeDerived()

	return cfg, nil
}

// Validate checks the configuration for values the tracker cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Run.StepDuration <= 0 {
		errs = append(errs, fmt.Errorf("run.step_duration must be positive, got %v", c.Run.StepDuration))
	}
	if c.Resample.Samples < 2 {
		errs = append(errs, fmt.Errorf("resample.samples must be at least 2, got %d", c.Resample.Samples))
	}
	switch c.Resample.Method {
	case "linear", "fritsch_butland":
	default:
		errs = append(errs, fmt.Errorf("unknown resample.method %q", c.Resample.Method))
	}
	if c.Tracking.Neighbors < 1 {
		errs = append(errs, fmt.Errorf("tracking.neighbors must be at least 1, got %d", c.Tracking.Neighbors))
	}
	if c.Tracking.WidenFactor < 1 {
		errs = append(errs, fmt.Errorf("tracking.widen_factor must be at least 1, got %d", c.Tracking.WidenFactor))
	}
	switch c.Field.Kind {
	case FieldSynthetic:
	case FieldCSV:
		if c.Field.CellsCSV == "" || c.Field.FieldsCSV == "" {
			errs = append(errs, errors.New("field.kind csv needs cells_csv and fields_csv"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown field.kind %q", c.Field.Kind))
	}
	if c.Seeding.Domain.Target < 0 {
		errs = append(errs, fmt.Errorf("seeding.domain.target must not be negative, got %d", c.Seeding.Domain.Target))
	}

	seen := make(map[string]bool, len(c.Seeding.Releases))
	for i, rel := range c.Seeding.Releases {
		if rel.Name == "" {
			errs = append(errs, fmt.Errorf("seeding.releases[%d] has no name", i))
		} else if seen[rel.Name] {
			errs = append(errs, fmt.Errorf("duplicate release name %q", rel.Name))
		}
		seen[rel.Name] = true
		if _, ok := c.Seeding.Regions[rel.Region]; !ok {
			errs = append(errs, fmt.Errorf("release %q uses unknown region %q", rel.Name, rel.Region))
		}
		if rel.Count < 0 {
			errs = append(errs, fmt.Errorf("release %q has negative count", rel.Name))
		}
		switch rel.Behavior {
		case BehaviorNone:
		case BehaviorSeek:
			if len(c.Behavior.Targets) == 0 {
				errs = append(errs, fmt.Errorf("release %q seeks targets but behavior.targets is empty", rel.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("release %q has unknown behavior %q", rel.Name, rel.Behavior))
		}
	}
	for name, r := range c.Seeding.Regions {
		if r.Empty() {
			errs = append(errs, fmt.Errorf("region %q has no area", name))
		}
	}
	return errors.Join(errs...)
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.ReleaseIndex = make(map[string]int, len(c.Seeding.Releases))
	for i, rel := range c.Seeding.Releases {
		c.Derived.ReleaseIndex[rel.Name] = i
	}
}

// Release returns the release with the given name.
func (c *Config) Release(name string) (ReleaseConfig, bool) {
	i, ok := c.Derived.ReleaseIndex[name]
	if !ok {
		return ReleaseConfig{}, false
	}
	return c.Seeding.Releases[i], true
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
