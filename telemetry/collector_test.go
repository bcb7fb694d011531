package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pthm-cable/swimmers/particle"
)

func TestCollectorFlush(t *testing.T) {
	c := NewCollector()
	c.Record(NewSeededEvent(2, 10))
	c.Record(NewSeededEvent(2, 11))
	c.Record(NewRecoveredEvent(2, 3))
	c.Record(NewRetiredEvent(2, 3, particle.OutOfDomain))
	c.Record(NewRetiredEvent(2, 10, particle.Escape))
	c.Record(NewRetiredEvent(2, 11, particle.UnexpectedValue))
	c.Record(NewFallbackEvent(2, 11, 0))

	stats := c.Flush(2, 2700, 1, 48, []float64{10, 20, 30})

	if stats.Seeded != 2 || stats.Recovered != 1 {
		t.Errorf("seeded/recovered = %d/%d, want 2/1", stats.Seeded, stats.Recovered)
	}
	if stats.OutOfDomain != 1 || stats.Escape != 1 || stats.Failed != 1 || stats.Death != 0 {
		t.Errorf("retirements = %+v", stats)
	}
	if stats.Retired() != 3 {
		t.Errorf("retired = %d, want 3", stats.Retired())
	}
	if stats.Fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", stats.Fallbacks)
	}
	if stats.DispMean != 20 || stats.DispP50 != 20 {
		t.Errorf("displacement mean/p50 = %v/%v, want 20/20", stats.DispMean, stats.DispP50)
	}

	// Counters reset after flush
	next := c.Flush(3, 3600, 1, 16, nil)
	if next.Seeded != 0 || next.Retired() != 0 || next.Fallbacks != 0 {
		t.Errorf("counters not reset: %+v", next)
	}
}

func TestLifetimeTracker(t *testing.T) {
	lt := NewLifetimeTracker()
	lt.Register(4, "alcatraz", 1, 900)

	lt.Observe(4, []particle.Row{
		{T: 900, X: 0, Y: 0, Particle: 4, Reason: particle.OutOfTime},
		{T: 1800, X: 3, Y: 4, Particle: 4, Reason: particle.OutOfTime},
	})
	lt.Observe(4, []particle.Row{
		{T: 1800, X: 3, Y: 4, Particle: 4, Reason: particle.Escape},
		{T: 2700, X: 6, Y: 8, Particle: 4, Reason: particle.Escape},
	})
	lt.Observe(99, []particle.Row{{T: 0}})

	s := lt.Remove(4)
	if s == nil {
		t.Fatal("expected stats")
	}
	if s.Steps != 2 || s.PathLength != 10 || s.LastT != 2700 || s.Reason != particle.Escape {
		t.Errorf("lifetime = %+v", s)
	}
	if lt.Count() != 0 || lt.Get(4) != nil {
		t.Error("particle not removed")
	}
}

func TestOutputManager(t *testing.T) {
	if om, err := NewOutputManager(""); om != nil || err != nil {
		t.Fatalf("empty dir should disable output, got %v, %v", om, err)
	}
	var disabled *OutputManager
	if err := disabled.WriteRows([]particle.Row{{}}); err != nil {
		t.Errorf("nil manager write: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "run")
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatalf("NewOutputManager failed: %v", err)
	}

	step := []particle.Row{{T: 0, Particle: 1, Reason: particle.OutOfTime}}
	if err := om.WriteRows(step); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteRows(step); err != nil {
		t.Fatal(err)
	}
	if err := om.WriteStep(StepStats{Step: 0, Live: 1}); err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, TrajectoriesFile))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "particle"); n != 1 {
		t.Errorf("header written %d times, want 1", n)
	}
	if n := strings.Count(string(data), "\n"); n != 3 {
		t.Errorf("got %d lines, want 3", n)
	}
}
