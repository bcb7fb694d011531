package telemetry

import (
	"log/slog"
	"time"
)

// Phase is a timed section of a simulation step.
type Phase uint8

const (
	PhaseSeed Phase = iota
	PhaseField
	PhaseIntegrate
	PhaseCorrelate
	PhaseLifecycle
	PhaseResample
	PhaseOutput
	numPhases
)

var phaseNames = [numPhases]string{
	"seed", "field", "integrate", "correlate", "lifecycle", "resample", "output",
}

func (p Phase) String() string {
	if p < numPhases {
		return phaseNames[p]
	}
	return "unknown"
}

// stepTiming is the timing of one step. items counts the work done per
// phase: particles seeded, lines integrated, particles resampled and so on.
type stepTiming struct {
	total time.Duration
	phase [numPhases]time.Duration
	items [numPhases]int
}

// PerfCollector times step phases over a rolling window of steps.
type PerfCollector struct {
	window []stepTiming
	next   int
	filled int

	now        func() time.Time
	cur        stepTiming
	stepStart  time.Time
	phaseStart time.Time
	phase      Phase
	inPhase    bool
}

// NewPerfCollector creates a collector averaging over windowSize steps.
func NewPerfCollector(windowSize int) *PerfCollector {
	if windowSize < 1 {
		windowSize = 16
	}
	return &PerfCollector{
		window: make([]stepTiming, windowSize),
		now:    time.Now,
	}
}

// StartStep begins timing a step.
func (p *PerfCollector) StartStep() {
	p.stepStart = p.now()
	p.cur = stepTiming{}
	p.inPhase = false
}

// StartPhase closes the running phase, if any, and opens phase.
func (p *PerfCollector) StartPhase(phase Phase) {
	now := p.now()
	p.closePhase(now)
	p.phase, p.phaseStart, p.inPhase = phase, now, true
}

// Items records n units of work done in phase during the current step.
func (p *PerfCollector) Items(phase Phase, n int) {
	if phase < numPhases {
		p.cur.items[phase] += n
	}
}

// EndStep closes the step and stores it in the window.
func (p *PerfCollector) EndStep() {
	now := p.now()
	p.closePhase(now)
	p.cur.total = now.Sub(p.stepStart)

	p.window[p.next] = p.cur
	p.next = (p.next + 1) % len(p.window)
	if p.filled < len(p.window) {
		p.filled++
	}
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.inPhase && p.phase < numPhases {
		p.cur.phase[p.phase] += now.Sub(p.phaseStart)
	}
	p.inPhase = false
}

// PhaseStats is the windowed timing of one phase.
type PhaseStats struct {
	Avg       time.Duration // mean time per step
	Pct       float64       // share of the mean step time
	Items     float64       // mean work units per step
	PerItem   time.Duration // time per work unit (0 without items)
	PerSecond float64       // work units per second of phase time
}

// PerfStats holds windowed performance statistics.
type PerfStats struct {
	Steps          int
	AvgStep        time.Duration
	MinStep        time.Duration
	MaxStep        time.Duration
	StepsPerSecond float64
	Phases         [numPhases]PhaseStats
}

// Phase returns the statistics of one phase.
func (s PerfStats) Phase(p Phase) PhaseStats {
	if p >= numPhases {
		return PhaseStats{}
	}
	return s.Phases[p]
}

// Stats computes the statistics over the current window.
func (p *PerfCollector) Stats() PerfStats {
	stats := PerfStats{Steps: p.filled}
	if p.filled == 0 {
		return stats
	}

	var total time.Duration
	var phaseTotal [numPhases]time.Duration
	var itemTotal [numPhases]int
	for i, st := range p.window[:p.filled] {
		total += st.total
		if i == 0 || st.total < stats.MinStep {
			stats.MinStep = st.total
		}
		if st.total > stats.MaxStep {
			stats.MaxStep = st.total
		}
		for ph := range phaseTotal {
			phaseTotal[ph] += st.phase[ph]
			itemTotal[ph] += st.items[ph]
		}
	}

	n := time.Duration(p.filled)
	stats.AvgStep = total / n
	if stats.AvgStep > 0 {
		stats.StepsPerSecond = float64(time.Second) / float64(stats.AvgStep)
	}
	for ph := range stats.Phases {
		ps := PhaseStats{
			Avg:   phaseTotal[ph] / n,
			Items: float64(itemTotal[ph]) / float64(p.filled),
		}
		if stats.AvgStep > 0 {
			ps.Pct = float64(ps.Avg) / float64(stats.AvgStep) * 100
		}
		if itemTotal[ph] > 0 {
			ps.PerItem = phaseTotal[ph] / time.Duration(itemTotal[ph])
		}
		if phaseTotal[ph] > 0 {
			ps.PerSecond = float64(itemTotal[ph]) / phaseTotal[ph].Seconds()
		}
		stats.Phases[ph] = ps
	}
	return stats
}

// LogStats logs the statistics at info level.
func (s PerfStats) LogStats() {
	slog.Info("perf", "stats", s)
}

// LogValue implements slog.LogValuer.
func (s PerfStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("steps", s.Steps),
		slog.Int64("avg_step_us", s.AvgStep.Microseconds()),
		slog.Int64("max_step_us", s.MaxStep.Microseconds()),
		slog.Float64("steps_per_sec", s.StepsPerSecond),
		slog.Float64("lines_per_sec", s.Phase(PhaseIntegrate).PerSecond),
		slog.Int64("correlate_us_per_line", s.Phase(PhaseCorrelate).PerItem.Microseconds()),
	}
	for ph := Phase(0); ph < numPhases; ph++ {
		if pct := s.Phases[ph].Pct; pct > 0.1 {
			attrs = append(attrs, slog.Float64(ph.String()+"_pct", pct))
		}
	}
	return slog.GroupValue(attrs...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	Step               int     `csv:"step"`
	AvgStepUS          int64   `csv:"avg_step_us"`
	MinStepUS          int64   `csv:"min_step_us"`
	MaxStepUS          int64   `csv:"max_step_us"`
	StepsPerSec        float64 `csv:"steps_per_sec"`
	LinesPerSec        float64 `csv:"lines_per_sec"`
	CorrelateUSPerLine float64 `csv:"correlate_us_per_line"`
	ResampleUSPerLine  float64 `csv:"resample_us_per_line"`
	IntegratePct       float64 `csv:"integrate_pct"`
	CorrelatePct       float64 `csv:"correlate_pct"`
	LifecyclePct       float64 `csv:"lifecycle_pct"`
	ResamplePct        float64 `csv:"resample_pct"`
	FieldPct           float64 `csv:"field_pct"`
	SeedPct            float64 `csv:"seed_pct"`
	OutputPct          float64 `csv:"output_pct"`
}

func micros(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}

// ToCSV flattens the statistics for step.
func (s PerfStats) ToCSV(step int) PerfStatsCSV {
	return PerfStatsCSV{
		Step:               step,
		AvgStepUS:          s.AvgStep.Microseconds(),
		MinStepUS:          s.MinStep.Microseconds(),
		MaxStepUS:          s.MaxStep.Microseconds(),
		StepsPerSec:        s.StepsPerSecond,
		LinesPerSec:        s.Phases[PhaseIntegrate].PerSecond,
		CorrelateUSPerLine: micros(s.Phases[PhaseCorrelate].PerItem),
		ResampleUSPerLine:  micros(s.Phases[PhaseResample].PerItem),
		IntegratePct:       s.Phases[PhaseIntegrate].Pct,
		CorrelatePct:       s.Phases[PhaseCorrelate].Pct,
		LifecyclePct:       s.Phases[PhaseLifecycle].Pct,
		ResamplePct:        s.Phases[PhaseResample].Pct,
		FieldPct:           s.Phases[PhaseField].Pct,
		SeedPct:            s.Phases[PhaseSeed].Pct,
		OutputPct:          s.Phases[PhaseOutput].Pct,
	}
}
