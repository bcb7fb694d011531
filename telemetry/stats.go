package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// StepStats holds aggregated statistics for one simulation step.
type StepStats struct {
	Step    int     `csv:"step"`
	SimTime float64 `csv:"sim_time"` // absolute time at the end of the step

	// Population
	Live      int `csv:"live"`      // alive at step end
	Seeded    int `csv:"seeded"`    // new particles this step
	Recovered int `csv:"recovered"` // carried over from the previous step
	Rows      int `csv:"rows"`      // rows emitted this step

	// Retirements by reason
	OutOfDomain int `csv:"out_of_domain"`
	Failed      int `csv:"failed"` // NOT_INITIALIZED or UNEXPECTED_VALUE
	Death       int `csv:"death"`
	Escape      int `csv:"escape"`

	// Identity correlation
	Fallbacks int `csv:"fallbacks"`

	// Displacement over the step (m)
	DispMean float64 `csv:"disp_mean"`
	DispP10  float64 `csv:"disp_p10"`
	DispP50  float64 `csv:"disp_p50"`
	DispP90  float64 `csv:"disp_p90"`
}

// Retired returns the total number of particles retired this step.
func (s StepStats) Retired() int {
	return s.OutOfDomain + s.Failed + s.Death + s.Escape
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeDistribution returns the mean and the 10th, 50th and 90th
// percentiles of values, which need not be sorted.
func ComputeDistribution(values []float64) (mean, p10, p50, p90 float64) {
	n := len(values)
	if n == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(values, nil)

	sorted := make([]float64, n)
	copy(sorted, values)
	sort.Float64s(sorted)

	p10 = Percentile(sorted, 0.10)
	p50 = Percentile(sorted, 0.50)
	p90 = Percentile(sorted, 0.90)

	return mean, p10, p50, p90
}

// LogValue implements slog.LogValuer for structured logging.
func (s StepStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("step", s.Step),
		slog.Float64("sim_time", s.SimTime),
		slog.Int("live", s.Live),
		slog.Int("seeded", s.Seeded),
		slog.Int("recovered", s.Recovered),
		slog.Int("rows", s.Rows),
		slog.Int("out_of_domain", s.OutOfDomain),
		slog.Int("failed", s.Failed),
		slog.Int("death", s.Death),
		slog.Int("escape", s.Escape),
		slog.Int("fallbacks", s.Fallbacks),
		slog.Float64("disp_mean", s.DispMean),
		slog.Float64("disp_p10", s.DispP10),
		slog.Float64("disp_p50", s.DispP50),
		slog.Float64("disp_p90", s.DispP90),
	)
}

// LogStats logs the step stats using slog.
func (s StepStats) LogStats() {
	slog.Info("step_complete", "stats", s)
}
