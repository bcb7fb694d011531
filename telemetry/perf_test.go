package telemetry

import (
	"math"
	"testing"
	"time"
)

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestPerf(window int) (*PerfCollector, *fakeClock) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	pc := NewPerfCollector(window)
	pc.now = clock.now
	return pc, clock
}

// runStep times one step with the given phase durations.
func runStep(pc *PerfCollector, clock *fakeClock, integrate, correlate time.Duration, lines int) {
	pc.StartStep()
	pc.StartPhase(PhaseIntegrate)
	pc.Items(PhaseIntegrate, lines)
	clock.advance(integrate)
	pc.StartPhase(PhaseCorrelate)
	pc.Items(PhaseCorrelate, lines)
	clock.advance(correlate)
	pc.EndStep()
}

func TestPerfCollectorPhases(t *testing.T) {
	pc, clock := newTestPerf(10)
	for i := 0; i < 4; i++ {
		runStep(pc, clock, 30*time.Millisecond, 10*time.Millisecond, 100)
	}

	stats := pc.Stats()
	if stats.Steps != 4 {
		t.Errorf("steps = %d, want 4", stats.Steps)
	}
	if stats.AvgStep != 40*time.Millisecond {
		t.Errorf("avg step = %v, want 40ms", stats.AvgStep)
	}
	if stats.StepsPerSecond != 25 {
		t.Errorf("steps/sec = %v, want 25", stats.StepsPerSecond)
	}

	integ := stats.Phase(PhaseIntegrate)
	if integ.Pct != 75 {
		t.Errorf("integrate pct = %v, want 75", integ.Pct)
	}
	if integ.Items != 100 {
		t.Errorf("integrate items = %v, want 100", integ.Items)
	}
	if integ.PerItem != 300*time.Microsecond {
		t.Errorf("integrate per line = %v, want 300µs", integ.PerItem)
	}

	corr := stats.Phase(PhaseCorrelate)
	if corr.Pct != 25 {
		t.Errorf("correlate pct = %v, want 25", corr.Pct)
	}
	if math.Abs(corr.PerSecond-10000) > 1e-6 {
		t.Errorf("correlated lines/sec = %v, want 10000", corr.PerSecond)
	}

	if out := stats.Phase(PhaseOutput); out.Avg != 0 || out.PerItem != 0 || out.PerSecond != 0 {
		t.Errorf("untimed phase = %+v, want zero", out)
	}
}

func TestPerfCollectorRollingWindow(t *testing.T) {
	pc, clock := newTestPerf(3)

	runStep(pc, clock, 100*time.Millisecond, 0, 1)
	for i := 0; i < 3; i++ {
		runStep(pc, clock, 10*time.Millisecond, 0, 1)
	}

	// the slow first step has rolled out of the window
	stats := pc.Stats()
	if stats.Steps != 3 {
		t.Errorf("steps = %d, want 3", stats.Steps)
	}
	if stats.MaxStep != 10*time.Millisecond || stats.MinStep != 10*time.Millisecond {
		t.Errorf("min/max = %v/%v, want 10ms", stats.MinStep, stats.MaxStep)
	}
}

func TestPerfCollectorTimeOutsidePhases(t *testing.T) {
	pc, clock := newTestPerf(4)

	pc.StartStep()
	clock.advance(5 * time.Millisecond) // before any phase
	pc.StartPhase(PhaseSeed)
	clock.advance(5 * time.Millisecond)
	pc.EndStep()

	stats := pc.Stats()
	if stats.AvgStep != 10*time.Millisecond {
		t.Errorf("avg step = %v, want 10ms", stats.AvgStep)
	}
	if pct := stats.Phase(PhaseSeed).Pct; pct != 50 {
		t.Errorf("seed pct = %v, want 50", pct)
	}
}

func TestPerfCollectorEmptyStats(t *testing.T) {
	pc := NewPerfCollector(10)

	stats := pc.Stats()
	if stats.Steps != 0 || stats.AvgStep != 0 || stats.StepsPerSecond != 0 {
		t.Errorf("empty stats = %+v, want zero", stats)
	}
	if got := stats.Phase(numPhases); got != (PhaseStats{}) {
		t.Errorf("unknown phase = %+v, want zero", got)
	}
}

func TestPerfStatsToCSV(t *testing.T) {
	pc, clock := newTestPerf(2)
	runStep(pc, clock, 2*time.Millisecond, time.Millisecond, 4)

	row := pc.Stats().ToCSV(12)
	if row.Step != 12 {
		t.Errorf("step = %d, want 12", row.Step)
	}
	if row.AvgStepUS != 3000 {
		t.Errorf("avg_step_us = %d, want 3000", row.AvgStepUS)
	}
	if math.Abs(row.LinesPerSec-2000) > 1e-6 {
		t.Errorf("lines_per_sec = %v, want 2000", row.LinesPerSec)
	}
	if row.CorrelateUSPerLine != 250 {
		t.Errorf("correlate_us_per_line = %v, want 250", row.CorrelateUSPerLine)
	}
	if row.OutputPct != 0 {
		t.Errorf("output pct = %v, want 0", row.OutputPct)
	}
}
