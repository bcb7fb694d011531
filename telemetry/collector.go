package telemetry

import "github.com/pthm-cable/swimmers/particle"

// Collector accumulates events within a step and produces StepStats.
type Collector struct {
	// Event counters for the current step
	seeded      int
	recovered   int
	outOfDomain int
	failed      int
	death       int
	escape      int
	fallbacks   int
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Record counts an event.
func (c *Collector) Record(e Event) {
	switch e.Type {
	case EventSeeded:
		c.seeded++
	case EventRecovered:
		c.recovered++
	case EventFallback:
		c.fallbacks++
	case EventRetired:
		c.RecordRetired(e.Reason)
	}
}

// RecordRetired counts a retirement by reason.
func (c *Collector) RecordRetired(r particle.Reason) {
	switch r {
	case particle.OutOfDomain:
		c.outOfDomain++
	case particle.Death:
		c.death++
	case particle.Escape:
		c.escape++
	default:
		c.failed++
	}
}

// Flush produces a StepStats and resets counters for the next step.
// The caller must provide:
// - step, simTime: the step index and its end time
// - live: particles still alive at step end
// - rows: rows emitted this step
// - displacements: per-particle distance between first and last sample
func (c *Collector) Flush(step int, simTime float64, live, rows int, displacements []float64) StepStats {
	mean, p10, p50, p90 := ComputeDistribution(displacements)

	stats := StepStats{
		Step:    step,
		SimTime: simTime,

		Live:      live,
		Seeded:    c.seeded,
		Recovered: c.recovered,
		Rows:      rows,

		OutOfDomain: c.outOfDomain,
		Failed:      c.failed,
		Death:       c.death,
		Escape:      c.escape,

		Fallbacks: c.fallbacks,

		DispMean: mean,
		DispP10:  p10,
		DispP50:  p50,
		DispP90:  p90,
	}

	// Reset for next step
	*c = Collector{}

	return stats
}
