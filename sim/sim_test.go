package sim

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/swimmers/config"
	"github.com/pthm-cable/swimmers/particle"
	"github.com/pthm-cable/swimmers/telemetry"
	"github.com/pthm-cable/swimmers/tracer"
	"github.com/pthm-cable/swimmers/tracking"
)

// lineFunc is an integrator that builds each line from its seed and returns
// the lines in reverse seed order.
type lineFunc func(seed r3.Vec) tracer.Line

func (f lineFunc) Trace(_ tracer.Field, seeds []r3.Vec) ([]tracer.Line, error) {
	lines := make([]tracer.Line, len(seeds))
	for i, s := range seeds {
		lines[len(seeds)-1-i] = f(s)
	}
	return lines, nil
}

// moving returns lines travelling at (u, 0) up to tEnd in 150 s increments.
func moving(u, tEnd float64, reason particle.Reason) lineFunc {
	return func(seed r3.Vec) tracer.Line {
		l := tracer.Line{Reason: reason}
		for t := 0.0; t <= tEnd; t += 150 {
			l.Times = append(l.Times, t)
			l.Points = append(l.Points, r3.Vec{X: seed.X + u*t, Y: seed.Y, Z: seed.Z})
		}
		return l
	}
}

func still(reason particle.Reason) lineFunc {
	return moving(0, 900, reason)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Run.StepDuration = 900
	cfg.Resample.Samples = 16
	cfg.Field.Synthetic.NX = 10
	cfg.Field.Synthetic.NY = 10
	cfg.Field.Synthetic.Steps = 8
	return cfg
}

func newSim(t *testing.T, cfg *config.Config, integ tracer.Integrator) *Simulation {
	t.Helper()
	src, err := NewSource(cfg)
	require.NoError(t, err)
	s, err := New(cfg, src, integ, Options{Seed: 7})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func byParticle(rows []particle.Row) map[uint64][]particle.Row {
	out := make(map[uint64][]particle.Row)
	for _, r := range rows {
		out[r.Particle] = append(out[r.Particle], r)
	}
	return out
}

var threeSeeds = []r3.Vec{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 100, Y: 100}}

func TestStepEndToEnd(t *testing.T) {
	s := newSim(t, testConfig(), still(particle.OutOfTime))
	s.Inject(threeSeeds, "")

	res, err := s.Step()
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Start)
	assert.Equal(t, 900.0, res.End)
	require.Len(t, res.Rows, 48)

	rows := byParticle(res.Rows)
	require.Len(t, rows, 3)
	for id, seed := range threeSeeds {
		got := rows[uint64(id)]
		require.Len(t, got, 16, "particle %d", id)
		for i, r := range got {
			assert.InDelta(t, 60*float64(i), r.T, 1e-9)
			assert.Equal(t, seed.X, r.X)
			assert.Equal(t, seed.Y, r.Y)
			assert.Equal(t, particle.OutOfTime, r.Reason)
		}
		assert.Equal(t, 900.0, got[15].T)
	}

	assert.Equal(t, 3, s.Tracker().Len())
	assert.Equal(t, 48, s.Log().Len())
	assert.Equal(t, 3, res.Stats.Seeded)
	assert.Equal(t, 3, res.Stats.Live)
}

func TestStepEarlyTermination(t *testing.T) {
	s := newSim(t, testConfig(), moving(0.01, 400, particle.OutOfDomain))
	s.Inject([]r3.Vec{{X: 50, Y: 50}}, "")

	res, err := s.Step()
	require.NoError(t, err)
	require.Len(t, res.Rows, 16)

	for _, r := range res.Rows {
		assert.Equal(t, particle.OutOfDomain, r.Reason)
		if r.T >= 300 {
			assert.InDelta(t, 50+0.01*300, r.X, 1e-9, "held at the last point, t=%g", r.T)
		}
	}
	assert.Equal(t, 900.0, res.Rows[15].T)
	assert.Equal(t, []uint64{0}, res.Retired)
	assert.Equal(t, 0, s.Tracker().Len())
	assert.Equal(t, 1, res.Stats.OutOfDomain)
}

func TestLogContinuity(t *testing.T) {
	s := newSim(t, testConfig(), moving(0.01, 900, particle.OutOfTime))
	s.Inject(threeSeeds, "")

	first, err := s.Step()
	require.NoError(t, err)
	second, err := s.Step()
	require.NoError(t, err)
	assert.Equal(t, 900.0, second.Start)

	end := byParticle(first.Rows)
	start := byParticle(second.Rows)
	for id := uint64(0); id < 3; id++ {
		last := end[id][15]
		next := start[id][0]
		assert.Equal(t, last.T, next.T)
		assert.InDelta(t, last.X, next.X, 1e-9)
		assert.InDelta(t, last.Y, next.Y, 1e-9)

		// the shared boundary row is logged once
		logged := s.Log().Particle(id)
		require.Len(t, logged, 31)
		assert.Equal(t, 0.0, logged[0].T)
		assert.Equal(t, 1800.0, logged[30].T)
		assert.InDelta(t, threeSeeds[id].X+18, logged[30].X, 1e-9)
	}
	assert.Equal(t, 3, second.Stats.Recovered)
	assert.Equal(t, 0, second.Stats.Seeded)
}

func TestTerminalParticlesStayRetired(t *testing.T) {
	s := newSim(t, testConfig(), still(particle.OutOfTime))
	s.integrator = lineFunc(func(seed r3.Vec) tracer.Line {
		if seed.X == 0 {
			return moving(0, 300, particle.OutOfDomain)(seed)
		}
		return still(particle.OutOfTime)(seed)
	})
	s.Inject(threeSeeds, "")

	_, err := s.Step()
	require.NoError(t, err)
	res, err := s.Step()
	require.NoError(t, err)

	rows := byParticle(res.Rows)
	assert.NotContains(t, rows, uint64(0))
	assert.Len(t, rows, 2)
	assert.Len(t, s.Log().Particle(0), 16)
	_, ok := s.Tracker().Lookup(0)
	assert.False(t, ok)
}

func TestIDsNeverRepeat(t *testing.T) {
	cfg := testConfig()
	cfg.Seeding.Domain.Target = 25
	s := newSim(t, cfg, NewIntegrator(cfg))
	require.NoError(t, s.Run(6))

	firstSeen := make(map[uint64]float64)
	for id, rows := range byParticle(s.Log().Rows()) {
		sort.Slice(rows, func(i, j int) bool { return rows[i].T < rows[j].T })
		firstSeen[id] = rows[0].T

		terminal := -1
		for i, r := range rows {
			if i > 0 {
				assert.Greater(t, r.T, rows[i-1].T, "particle %d", id)
			}
			if terminal < 0 && particle.IsTerminal(r.Reason) {
				terminal = i
			}
		}
		if terminal >= 0 {
			assert.LessOrEqual(t, len(rows)-terminal, 16, "particle %d has rows after retirement", id)
			for _, r := range rows[terminal:] {
				assert.Equal(t, rows[terminal].Reason, r.Reason)
			}
		}
	}

	ids := make([]uint64, 0, len(firstSeen))
	for id := range firstSeen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i := 1; i < len(ids); i++ {
		assert.LessOrEqual(t, firstSeen[ids[i-1]], firstSeen[ids[i]])
	}
	assert.Equal(t, uint64(len(ids)), s.Tracker().NextID())
}

func TestDriftWithoutMovement(t *testing.T) {
	cfg := testConfig()
	cfg.Seeding.Regions = map[string]config.RegionConfig{"pier": {MaxX: 10, MaxY: 10}}
	cfg.Seeding.Releases = []config.ReleaseConfig{{Name: "pier", Region: "pier", Drift: config.DriftConfig{U: 0.1}}}
	cfg.Derived.ReleaseIndex = map[string]int{"pier": 0}

	s := newSim(t, cfg, lineFunc(func(seed r3.Vec) tracer.Line {
		return tracer.Line{Points: []r3.Vec{seed}, Times: []float64{0}, Reason: particle.OutOfTime}
	}))
	s.Inject([]r3.Vec{{X: 5, Y: 5}}, "pier")

	res, err := s.Step()
	require.NoError(t, err)
	require.Len(t, res.Rows, 16)
	for _, r := range res.Rows {
		assert.InDelta(t, 5+0.1*r.T, r.X, 1e-9)
		assert.Equal(t, 5.0, r.Y)
	}
}

func TestSeekBehaviorEscapes(t *testing.T) {
	cfg := testConfig()
	cfg.Behavior.Targets = []config.TargetConfig{{Name: "shore", X: 100, Y: 0}}
	cfg.Behavior.SwimSpeed = 1
	cfg.Seeding.Regions = map[string]config.RegionConfig{"island": {MaxX: 1, MaxY: 1}}
	cfg.Seeding.Releases = []config.ReleaseConfig{{Name: "swim", Region: "island", Behavior: config.BehaviorSeek}}
	cfg.Derived.ReleaseIndex = map[string]int{"swim": 0}

	s := newSim(t, cfg, still(particle.OutOfTime))
	s.Inject([]r3.Vec{{X: 0, Y: 0}}, "swim")

	res, err := s.Step()
	require.NoError(t, err)
	require.Len(t, res.Rows, 16)
	for _, r := range res.Rows {
		assert.Equal(t, particle.Escape, r.Reason)
	}
	assert.InDelta(t, 100, res.Rows[15].X, 1e-9)
	assert.Equal(t, 1, res.Stats.Escape)
	assert.Equal(t, 0, s.Tracker().Len())
}

func TestStepRejectsShortBatch(t *testing.T) {
	s := newSim(t, testConfig(), lineFunc(nil))
	s.integrator = tracerFunc(func(_ tracer.Field, seeds []r3.Vec) ([]tracer.Line, error) {
		return []tracer.Line{still(particle.OutOfTime)(seeds[0])}, nil
	})
	s.Inject(threeSeeds, "")

	_, err := s.Step()
	var lce *tracer.LineCountError
	require.True(t, errors.As(err, &lce))
	assert.Equal(t, 3, lce.Seeds)
	assert.Equal(t, 1, lce.Lines)
}

type tracerFunc func(f tracer.Field, seeds []r3.Vec) ([]tracer.Line, error)

func (f tracerFunc) Trace(fl tracer.Field, seeds []r3.Vec) ([]tracer.Line, error) { return f(fl, seeds) }

func TestResumeFromSnapshot(t *testing.T) {
	cfg := testConfig()
	a := newSim(t, cfg, moving(0.01, 900, particle.OutOfTime))
	a.Inject(threeSeeds, "")
	require.NoError(t, a.Run(2))

	path, err := telemetry.SaveSnapshot(a.Snapshot(), t.TempDir())
	require.NoError(t, err)
	snap, err := telemetry.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Step)
	assert.Equal(t, 1800.0, snap.Time)
	assert.Equal(t, uint64(3), snap.NextID)

	b := newSim(t, cfg, moving(0.01, 900, particle.OutOfTime))
	require.NoError(t, b.Resume(snap))
	alive, err := b.Alive()
	require.NoError(t, err)
	require.Len(t, alive, 3)

	b.Inject([]r3.Vec{{X: 500, Y: 500}}, "")
	res, err := b.Step()
	require.NoError(t, err)
	assert.Equal(t, 1800.0, res.Start)

	rows := byParticle(res.Rows)
	require.Len(t, rows, 4)
	assert.Contains(t, rows, uint64(3))
	for id := uint64(0); id < 3; id++ {
		assert.InDelta(t, threeSeeds[id].X+18, rows[id][0].X, 1e-9)
		assert.InDelta(t, threeSeeds[id].X+27, rows[id][15].X, 1e-9)
	}
}

func TestResumeRejectsTruncatedLog(t *testing.T) {
	cfg := testConfig()
	a := newSim(t, cfg, still(particle.OutOfTime))
	a.Inject(threeSeeds, "")
	require.NoError(t, a.Run(2))

	snap := a.Snapshot()
	var kept []particle.Row
	for _, r := range snap.Rows {
		if r.T <= 900 {
			kept = append(kept, r)
		}
	}
	snap.Rows = kept

	b := newSim(t, cfg, still(particle.OutOfTime))
	err := b.Resume(snap)
	assert.ErrorIs(t, err, tracking.ErrMissingBoundary)
	var missing *tracking.MissingBoundaryError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []uint64{0, 1, 2}, missing.IDs)
}

func TestResumeRejectsUnrecoverableRegistry(t *testing.T) {
	cfg := testConfig()
	a := newSim(t, cfg, still(particle.OutOfTime))
	a.Inject(threeSeeds, "")
	require.NoError(t, a.Run(1))

	snap := a.Snapshot()
	snap.Live = append(snap.Live, telemetry.ParticleState{ID: 7})
	snap.NextID = 8

	b := newSim(t, cfg, still(particle.OutOfTime))
	err := b.Resume(snap)
	var missing *tracking.MissingBoundaryError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []uint64{7}, missing.IDs)
	assert.Equal(t, 900.0, missing.T)
}

func TestStepRetiresParticlesLostToFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Tracking.Neighbors = 1
	cfg.Tracking.WidenFactor = 1

	// every line starts at the first seed
	s := newSim(t, cfg, lineFunc(func(r3.Vec) tracer.Line {
		return still(particle.OutOfTime)(threeSeeds[0])
	}))
	s.Inject(threeSeeds, "")

	res, err := s.Step()
	require.NoError(t, err)

	fallbacks := 0
	for _, m := range res.Matches {
		assert.Equal(t, uint64(0), m.ID)
		if m.Fallback {
			fallbacks++
		}
	}
	assert.Equal(t, 2, fallbacks)
	assert.Equal(t, 2, res.Stats.Fallbacks)
	assert.Equal(t, 2, res.Stats.Failed)
	assert.Equal(t, []uint64{1, 2}, res.Retired)

	rows := byParticle(res.Rows)
	require.Len(t, res.Rows, 48)
	for _, r := range rows[0] {
		assert.Equal(t, particle.OutOfTime, r.Reason)
	}
	for _, id := range []uint64{1, 2} {
		require.Len(t, rows[id], 16)
		for _, r := range rows[id] {
			assert.Equal(t, particle.UnexpectedValue, r.Reason)
			assert.Equal(t, threeSeeds[id].X, r.X)
		}
	}

	// the log agrees with the registry at the next boundary
	alive, err := s.Alive()
	require.NoError(t, err)
	require.Len(t, alive, 1)
	assert.Equal(t, uint64(0), alive[0].ID)
	assert.Equal(t, 1, s.Tracker().Len())
}

func TestOutputFiles(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	src, err := NewSource(cfg)
	require.NoError(t, err)

	var steps []telemetry.StepStats
	s, err := New(cfg, src, still(particle.OutOfTime), Options{
		Seed:          1,
		OutputDir:     dir,
		StatsCallback: func(st telemetry.StepStats) { steps = append(steps, st) },
	})
	require.NoError(t, err)
	s.Inject(threeSeeds, "")
	require.NoError(t, s.Run(2))
	require.NoError(t, s.Close())

	assert.Len(t, steps, 2)
	for _, name := range []string{telemetry.TrajectoriesFile, telemetry.StepsFile, telemetry.ConfigFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	f, err := os.Open(filepath.Join(dir, telemetry.TrajectoriesFile))
	require.NoError(t, err)
	defer f.Close()
	table, err := telemetry.ReadRows(f)
	require.NoError(t, err)
	assert.Len(t, table, 3*31)
	assert.Equal(t, 1800.0, table.Horizon())
	assert.False(t, math.IsInf(table.Horizon(), 0))
}
