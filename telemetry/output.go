package telemetry

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/swimmers/config"
	"github.com/pthm-cable/swimmers/particle"
)

// csvFile is an output table that writes its header once.
type csvFile struct {
	f             *os.File
	headerWritten bool
}

func (c *csvFile) write(records any) error {
	if !c.headerWritten {
		// First write includes headers
		if err := gocsv.Marshal(records, c.f); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	// Subsequent writes skip headers
	return gocsv.MarshalWithoutHeaders(records, c.f)
}

// OutputManager handles run output with CSV logging.
type OutputManager struct {
	dir          string
	trajectories *csvFile
	steps        *csvFile
	perf         *csvFile
	lifetimes    *csvFile
	bookmarks    *csvFile
}

// Output file names.
const (
	TrajectoriesFile = "trajectories.csv"
	StepsFile        = "steps.csv"
	PerfFile         = "perf.csv"
	LifetimesFile    = "lifetimes.csv"
	BookmarksFile    = "bookmarks.csv"
	ConfigFile       = "config.yaml"
)

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir}
	targets := []struct {
		name string
		dst  **csvFile
	}{
		{TrajectoriesFile, &om.trajectories},
		{StepsFile, &om.steps},
		{PerfFile, &om.perf},
		{LifetimesFile, &om.lifetimes},
		{BookmarksFile, &om.bookmarks},
	}
	for _, t := range targets {
		f, err := os.Create(filepath.Join(dir, t.name))
		if err != nil {
			om.Close()
			return nil, fmt.Errorf("creating %s: %w", t.name, err)
		}
		*t.dst = &csvFile{f: f}
	}

	return om, nil
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, ConfigFile))
}

// WriteRows appends trajectory rows to trajectories.csv.
func (om *OutputManager) WriteRows(rows []particle.Row) error {
	if om == nil || len(rows) == 0 {
		return nil
	}
	if err := om.trajectories.write(rows); err != nil {
		return fmt.Errorf("writing trajectories: %w", err)
	}
	return nil
}

// WriteStep writes a step stats record to steps.csv.
func (om *OutputManager) WriteStep(stats StepStats) error {
	if om == nil {
		return nil
	}
	if err := om.steps.write([]StepStats{stats}); err != nil {
		return fmt.Errorf("writing steps: %w", err)
	}
	return nil
}

// WritePerf writes a performance stats record to perf.csv.
func (om *OutputManager) WritePerf(stats PerfStats, step int) error {
	if om == nil {
		return nil
	}
	if err := om.perf.write([]PerfStatsCSV{stats.ToCSV(step)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteLifetime writes a retired particle's lifetime to lifetimes.csv.
func (om *OutputManager) WriteLifetime(stats *LifetimeStats) error {
	if om == nil || stats == nil {
		return nil
	}
	if err := om.lifetimes.write([]*LifetimeStats{stats}); err != nil {
		return fmt.Errorf("writing lifetime: %w", err)
	}
	return nil
}

// WriteBookmark writes a bookmark record to bookmarks.csv.
func (om *OutputManager) WriteBookmark(b Bookmark) error {
	if om == nil {
		return nil
	}
	if err := om.bookmarks.write([]Bookmark{b}); err != nil {
		return fmt.Errorf("writing bookmark: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}

	var firstErr error
	for _, c := range []*csvFile{om.trajectories, om.steps, om.perf, om.lifetimes, om.bookmarks} {
		if c == nil || c.f == nil {
			continue
		}
		if err := c.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
