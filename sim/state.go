package sim

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/pthm-cable/swimmers/components"
	"github.com/pthm-cable/swimmers/particle"
	"github.com/pthm-cable/swimmers/telemetry"
	"github.com/pthm-cable/swimmers/tracking"
)

// flushTelemetry logs and writes the stats of a finished step and checks
// for bookmarks.
func (s *Simulation) flushTelemetry(stats telemetry.StepStats) {
	if s.logStats {
		stats.LogStats()
	}
	if err := s.outputManager.WriteStep(stats); err != nil {
		slog.Error("failed to write step stats", "error", err)
	}

	perf := s.perfCollector.Stats()
	if s.logStats && s.cfg.Telemetry.PerfWindow > 0 && (stats.Step+1)%s.cfg.Telemetry.PerfWindow == 0 {
		perf.LogStats()
	}
	if err := s.outputManager.WritePerf(perf, stats.Step); err != nil {
		slog.Error("failed to write perf stats", "error", err)
	}

	for _, b := range s.bookmarkDetector.Check(stats) {
		b.LogBookmark()
		if err := s.outputManager.WriteBookmark(b); err != nil {
			slog.Error("failed to write bookmark", "error", err)
		}
		if s.snapshotDir != "" {
			bm := b
			s.saveSnapshot(s.snapshotDir, &bm)
		}
	}

	if s.statsCallback != nil {
		s.statsCallback(stats)
	}
}

// Snapshot captures the state needed to continue the run from the next step.
func (s *Simulation) Snapshot() *telemetry.Snapshot {
	live := s.tracker.Live()
	states := make([]telemetry.ParticleState, len(live))
	for i, e := range live {
		st := telemetry.ParticleState{
			ID:       e.Identity.ID,
			Release:  e.Identity.Release,
			SeedStep: e.Identity.SeedStep,
			SeededAt: e.Identity.SeededAt,
			DriftU:   e.Drift.U,
			DriftV:   e.Drift.V,
		}
		if lt := s.lifetimeTracker.Get(e.Identity.ID); lt != nil && lt.Steps > 0 {
			cp := *lt
			st.Lifetime = &cp
		}
		states[i] = st
	}
	return &telemetry.Snapshot{
		Version: telemetry.SnapshotVersion,
		RNGSeed: s.rngSeed,
		Step:    s.step,
		Time:    s.clock,
		NextID:  s.tracker.NextID(),
		Live:    states,
		Rows:    s.log.Rows(),
	}
}

func (s *Simulation) saveSnapshot(dir string, b *telemetry.Bookmark) {
	snap := s.Snapshot()
	snap.Bookmark = b
	path, err := telemetry.SaveSnapshot(snap, dir)
	if err != nil {
		slog.Error("failed to save snapshot", "error", err)
		return
	}
	slog.Info("snapshot saved", "path", path, "step", snap.Step)
}

// Resume replaces the run state with a snapshot. Behaviors are rebuilt from
// the release each particle came from.
func (s *Simulation) Resume(snap *telemetry.Snapshot) error {
	if snap.Version != telemetry.SnapshotVersion {
		return fmt.Errorf("snapshot version %d, want %d", snap.Version, telemetry.SnapshotVersion)
	}

	s.tracker.Reset()
	s.lifetimeTracker = telemetry.NewLifetimeTracker()
	for _, st := range snap.Live {
		err := s.tracker.Register(tracking.Entry{
			Identity: components.Identity{
				ID:       st.ID,
				Release:  st.Release,
				SeedStep: st.SeedStep,
				SeededAt: st.SeededAt,
			},
			Drift:    components.Drift{U: st.DriftU, V: st.DriftV},
			Behavior: s.behaviorFor(s.releaseBehavior(st.Release), st.SeededAt),
		})
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		s.lifetimeTracker.Register(st.ID, st.Release, st.SeedStep, st.SeededAt)
		if st.Lifetime != nil {
			*s.lifetimeTracker.Get(st.ID) = *st.Lifetime
		}
	}
	if err := s.tracker.Restore(snap.NextID); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	s.log = telemetry.NewLogFromRows(snap.Rows)
	alive, err := s.tracker.RecoverAlive(s.log, snap.Time)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	// every registered particle must be recoverable at the resume boundary
	recovered := make(map[uint64]bool, len(alive))
	for _, k := range alive {
		recovered[k.ID] = true
	}
	var missing []uint64
	for _, st := range snap.Live {
		if !recovered[st.ID] {
			missing = append(missing, st.ID)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return fmt.Errorf("resume: %w", &tracking.MissingBoundaryError{T: snap.Time, IDs: missing})
	}

	s.step = snap.Step
	s.clock = snap.Time
	s.rngSeed = snap.RNGSeed
	s.rng = rand.New(rand.NewSource(snap.RNGSeed + int64(snap.Step)))
	s.policy = newPolicy(s.cfg, s)

	slog.Info("resumed",
		"step", s.step,
		"time", s.clock,
		"live", s.tracker.Len(),
		"rows", s.log.Len(),
		"next_id", s.tracker.NextID(),
	)
	return nil
}

// Alive returns the particles alive at the start of the next step, as read
// back from the log.
func (s *Simulation) Alive() ([]particle.Known, error) {
	return s.tracker.RecoverAlive(s.log, s.clock)
}
