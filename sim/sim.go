// Package sim runs the per-step tracking loop: seed, recover, integrate,
// correlate, apply behaviors, resample and append to the log.
package sim

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/swimmers/components"
	"github.com/pthm-cable/swimmers/config"
	"github.com/pthm-cable/swimmers/lifecycle"
	"github.com/pthm-cable/swimmers/mesh"
	"github.com/pthm-cable/swimmers/particle"
	"github.com/pthm-cable/swimmers/resample"
	"github.com/pthm-cable/swimmers/seeding"
	"github.com/pthm-cable/swimmers/telemetry"
	"github.com/pthm-cable/swimmers/tracer"
	"github.com/pthm-cable/swimmers/tracking"
)

// Options configures a Simulation beyond the run configuration.
type Options struct {
	Seed          int64  // RNG seed (0 = run.seed, then time-based)
	LogStats      bool   // log step and perf stats via slog
	OutputDir     string // CSV output directory ("" = disabled)
	SnapshotDir   string // snapshot directory ("" = disabled)
	StatsCallback func(telemetry.StepStats)
}

// StepResult is the output of one step.
type StepResult struct {
	Step    int
	Start   float64
	End     float64
	Rows    []particle.Row // the step's table, Samples rows per particle
	Matches []tracking.Match
	Retired []uint64
	Stats   telemetry.StepStats
}

// Simulation owns the state of one tracking run. Steps are strictly
// sequential; a Simulation is not safe for concurrent use.
type Simulation struct {
	cfg        *config.Config
	source     mesh.Source
	mesh       *mesh.Mesh
	integrator tracer.Integrator

	tracker   *tracking.Tracker
	manager   *lifecycle.Manager
	resampler *resample.Resampler
	policy    *seeding.Policy
	targets   []lifecycle.Target
	log       *telemetry.Log

	rng     *rand.Rand
	rngSeed int64
	pending []seeding.Batch // ad hoc seeds for the next step

	// Clock
	step  int
	clock float64 // absolute start time of the next step

	// Telemetry
	logStats         bool
	collector        *telemetry.Collector
	perfCollector    *telemetry.PerfCollector
	lifetimeTracker  *telemetry.LifetimeTracker
	bookmarkDetector *telemetry.BookmarkDetector
	outputManager    *telemetry.OutputManager
	snapshotDir      string
	statsCallback    func(telemetry.StepStats)
}

// New creates a simulation over the mesh of source.
func New(cfg *config.Config, source mesh.Source, integrator tracer.Integrator, opts Options) (*Simulation, error) {
	m, err := mesh.Load(source)
	if err != nil {
		return nil, err
	}
	rs, err := resample.New(cfg.Resample.Samples, resample.Method(cfg.Resample.Method))
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = cfg.Run.Seed
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	s := &Simulation{
		cfg:        cfg,
		source:     source,
		mesh:       m,
		integrator: integrator,
		tracker: tracking.New(tracking.Options{
			Neighbors:   cfg.Tracking.Neighbors,
			WidenFactor: cfg.Tracking.WidenFactor,
		}),
		manager:   lifecycle.NewManager(),
		resampler: rs,
		targets:   targets(cfg),
		log:       telemetry.NewLog(),
		rng:       rand.New(rand.NewSource(seed)),
		rngSeed:   seed,

		logStats:         opts.LogStats,
		collector:        telemetry.NewCollector(),
		perfCollector:    telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		lifetimeTracker:  telemetry.NewLifetimeTracker(),
		bookmarkDetector: telemetry.NewBookmarkDetector(10),
		snapshotDir:      opts.SnapshotDir,
		statsCallback:    opts.StatsCallback,
	}
	s.policy = newPolicy(cfg, s)

	om, err := telemetry.NewOutputManager(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := om.WriteConfig(cfg); err != nil {
		om.Close()
		return nil, err
	}
	s.outputManager = om

	return s, nil
}

// Log returns the trajectory log.
func (s *Simulation) Log() *telemetry.Log { return s.log }

// Tracker returns the identity tracker.
func (s *Simulation) Tracker() *tracking.Tracker { return s.tracker }

// Mesh returns the mesh.
func (s *Simulation) Mesh() *mesh.Mesh { return s.mesh }

// StepIndex returns the index of the next step to run.
func (s *Simulation) StepIndex() int { return s.step }

// Clock returns the absolute start time of the next step.
func (s *Simulation) Clock() float64 { return s.clock }

// Seed returns the RNG seed in use.
func (s *Simulation) Seed() int64 { return s.rngSeed }

// Run advances the given number of steps (0 = run.steps). It stops early
// when the field source runs out of steps.
func (s *Simulation) Run(steps int) error {
	if steps <= 0 {
		steps = s.cfg.Run.Steps
	}
	for i := 0; i < steps; i++ {
		if n := s.source.Steps(); n > 0 && s.step >= n {
			slog.Info("field exhausted", "step", s.step, "steps", n)
			break
		}
		if _, err := s.Step(); err != nil {
			return err
		}
	}
	if s.cfg.Output.Snapshot && s.outputManager != nil {
		s.saveSnapshot(s.outputManager.Dir(), nil)
	}
	return nil
}

// Step advances the simulation by one solver output step. Step i covers the
// absolute interval [i*T, (i+1)*T].
func (s *Simulation) Step() (*StepResult, error) {
	T := s.cfg.Run.StepDuration
	start := s.clock
	end := start + T
	res := &StepResult{Step: s.step, Start: start, End: end}

	s.perfCollector.StartStep()

	// Seed: recover the alive set from the log, then add new particles
	s.perfCollector.StartPhase(telemetry.PhaseSeed)
	known, err := s.recover(start)
	if err != nil {
		return nil, err
	}
	seeded := s.seed(start, len(known))
	s.perfCollector.Items(telemetry.PhaseSeed, len(seeded))
	known = append(known, seeded...)

	if len(known) > 0 {
		if err := s.advect(res, known, T); err != nil {
			return nil, err
		}
	}

	s.perfCollector.StartPhase(telemetry.PhaseOutput)
	accepted := s.log.Append(res.Rows)
	s.perfCollector.Items(telemetry.PhaseOutput, len(accepted))
	if err := s.outputManager.WriteRows(accepted); err != nil {
		slog.Error("failed to write trajectories", "error", err)
	}
	s.perfCollector.EndStep()

	res.Stats = s.collector.Flush(s.step, end, s.tracker.Len(), len(res.Rows), displacements(res.Rows))
	s.flushTelemetry(res.Stats)

	s.step++
	s.clock = end
	return res, nil
}

// recover returns the particles alive at the step boundary.
func (s *Simulation) recover(boundary float64) ([]particle.Known, error) {
	alive, err := s.tracker.RecoverAlive(s.log, boundary)
	if err != nil {
		return nil, fmt.Errorf("step %d: %w", s.step, err)
	}
	for _, k := range alive {
		if _, ok := s.tracker.Lookup(k.ID); !ok {
			slog.Warn("unregistered_particle", "particle", k.ID, "step", s.step)
			if err := s.tracker.Register(tracking.Entry{Identity: components.Identity{ID: k.ID}}); err != nil {
				return nil, err
			}
		}
		s.collector.Record(telemetry.NewRecoveredEvent(s.step, k.ID))
	}
	return alive, nil
}

// Inject queues points to be seeded at the start of the next step. A named
// release lends them its drift and behavior.
func (s *Simulation) Inject(points []r3.Vec, release string) {
	b := seeding.Batch{Release: release, Points: points}
	if rel, ok := s.cfg.Release(release); ok {
		b.Drift = components.Drift{U: rel.Drift.U, V: rel.Drift.V}
		b.Behavior = rel.Behavior
	}
	s.pending = append(s.pending, b)
}

// seed proposes and registers new particles.
func (s *Simulation) seed(start float64, alive int) []particle.Known {
	batches := append(s.pending, s.policy.Plan(s.step, alive)...)
	s.pending = nil

	var out []particle.Known
	for _, b := range batches {
		seeded := s.tracker.Seed(b.Points, tracking.Release{
			Name:     b.Release,
			Step:     s.step,
			At:       start,
			Drift:    b.Drift,
			Behavior: s.behaviorFor(b.Behavior, start),
		})
		for _, k := range seeded {
			s.lifetimeTracker.Register(k.ID, b.Release, s.step, start)
			s.collector.Record(telemetry.NewSeededEvent(s.step, k.ID))
		}
		out = append(out, seeded...)
	}
	return out
}

// advect integrates the known particles through the step's field and fills
// res with their rows.
func (s *Simulation) advect(res *StepResult, known []particle.Known, T float64) error {
	s.perfCollector.StartPhase(telemetry.PhaseField)
	fields, err := s.source.Fields(s.step)
	if err != nil {
		return fmt.Errorf("step %d: %w", s.step, err)
	}
	if err := s.mesh.AttachFields(s.step, fields); err != nil {
		return err
	}

	s.perfCollector.StartPhase(telemetry.PhaseIntegrate)
	seeds := make([]r3.Vec, len(known))
	for i, k := range known {
		seeds[i] = k.Pos
	}
	s.perfCollector.Items(telemetry.PhaseIntegrate, len(seeds))
	lines, err := s.integrator.Trace(s.mesh, seeds)
	if err != nil {
		return fmt.Errorf("step %d: integrate: %w", s.step, err)
	}
	if err := tracer.Validate(len(seeds), lines); err != nil {
		return fmt.Errorf("step %d: %w", s.step, err)
	}

	s.perfCollector.StartPhase(telemetry.PhaseCorrelate)
	s.perfCollector.Items(telemetry.PhaseCorrelate, len(lines))
	matches, err := s.tracker.Correlate(lines, known)
	if err != nil {
		return fmt.Errorf("step %d: %w", s.step, err)
	}
	res.Matches = matches

	emitted := make(map[uint64]bool, len(matches))
	for _, m := range matches {
		if m.Fallback {
			s.collector.Record(telemetry.NewFallbackEvent(s.step, m.ID, m.Distance))
		}
		if emitted[m.ID] {
			// a second line for the same particle would duplicate its rows
			continue
		}
		emitted[m.ID] = true

		rows, reason, err := s.process(m.ID, lines[m.Line], res.Start, T)
		if err != nil {
			return fmt.Errorf("step %d: %w", s.step, err)
		}
		res.Rows = append(res.Rows, rows...)
		s.lifetimeTracker.Observe(m.ID, rows)
		if !particle.IsAlive(reason) {
			s.retire(res, m.ID, reason)
		}
	}

	// A particle whose line went to a fallback match is held at its start
	// position and retired, so the log records its end.
	for _, k := range known {
		if emitted[k.ID] {
			continue
		}
		slog.Warn("particle_unmatched", "particle", k.ID, "step", s.step)
		rows, err := s.hold(k, res.Start, T, particle.UnexpectedValue)
		if err != nil {
			return fmt.Errorf("step %d: %w", s.step, err)
		}
		res.Rows = append(res.Rows, rows...)
		s.lifetimeTracker.Observe(k.ID, rows)
		s.retire(res, k.ID, particle.UnexpectedValue)
	}
	return nil
}

// hold returns the step rows of a particle that stays at its known position.
func (s *Simulation) hold(k particle.Known, start, T float64, reason particle.Reason) ([]particle.Row, error) {
	line := tracer.Line{Points: []r3.Vec{k.Pos}, Times: []float64{0}, Reason: reason}
	tr, err := s.resampler.Sample(line, T, components.Drift{})
	if err != nil {
		return nil, fmt.Errorf("particle %d: %w", k.ID, err)
	}
	tr.Start = start
	return resample.Stamp(k.ID, tr, reason), nil
}

// process resamples one line, applies the particle's drift and behavior and
// stamps the rows.
func (s *Simulation) process(id uint64, line tracer.Line, start, T float64) ([]particle.Row, particle.Reason, error) {
	entry, _ := s.tracker.Lookup(id)

	s.perfCollector.StartPhase(telemetry.PhaseResample)
	s.perfCollector.Items(telemetry.PhaseResample, 1)
	tr, err := s.resampler.Sample(line, T, entry.Drift)
	if err != nil {
		return nil, 0, fmt.Errorf("particle %d: %w", id, err)
	}
	tr.Start = start

	s.perfCollector.StartPhase(telemetry.PhaseLifecycle)
	s.perfCollector.Items(telemetry.PhaseLifecycle, 1)
	tr, reason, err := s.manager.Apply(id, tr, lifecycle.Classify(line), entry.Behavior)
	if err != nil {
		return nil, 0, err
	}
	return resample.Stamp(id, tr, reason), reason, nil
}

func (s *Simulation) retire(res *StepResult, id uint64, reason particle.Reason) {
	s.tracker.Retire(id)
	s.collector.Record(telemetry.NewRetiredEvent(s.step, id, reason))
	res.Retired = append(res.Retired, id)

	stats := s.lifetimeTracker.Remove(id)
	if stats == nil {
		return
	}
	stats.Reason = reason
	if err := s.outputManager.WriteLifetime(stats); err != nil {
		slog.Error("failed to write lifetime", "error", err)
	}
}

// displacements returns, per particle, the distance between its first and
// last row of the step.
func displacements(rows []particle.Row) []float64 {
	first := make(map[uint64]particle.Row)
	last := make(map[uint64]particle.Row)
	var order []uint64
	for _, r := range rows {
		if _, ok := first[r.Particle]; !ok {
			first[r.Particle] = r
			order = append(order, r.Particle)
		}
		last[r.Particle] = r
	}
	out := make([]float64, len(order))
	for i, id := range order {
		a, b := first[id], last[id]
		out[i] = math.Hypot(b.X-a.X, b.Y-a.Y)
	}
	return out
}

// Close flushes and closes the output files.
func (s *Simulation) Close() error {
	return s.outputManager.Close()
}
