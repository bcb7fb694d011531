package telemetry

import (
	"math"

	"github.com/pthm-cable/swimmers/particle"
)

// LifetimeStats tracks per-particle statistics over its lifetime.
type LifetimeStats struct {
	Particle uint64  `csv:"particle"`
	Release  string  `csv:"release"`
	SeedStep int     `csv:"seed_step"`
	SeededAt float64 `csv:"seeded_at"`

	Steps      int             `csv:"steps"`       // steps with rows
	PathLength float64         `csv:"path_length"` // along resampled rows (m)
	LastT      float64         `csv:"last_t"`
	FinalX     float64         `csv:"final_x"`
	FinalY     float64         `csv:"final_y"`
	Reason     particle.Reason `csv:"reason"`
}

// LifetimeTracker manages per-particle lifetime statistics.
type LifetimeTracker struct {
	stats map[uint64]*LifetimeStats
}

// NewLifetimeTracker creates a new lifetime tracker.
func NewLifetimeTracker() *LifetimeTracker {
	return &LifetimeTracker{
		stats: make(map[uint64]*LifetimeStats),
	}
}

// Register creates lifetime stats for a new particle.
func (lt *LifetimeTracker) Register(id uint64, release string, seedStep int, seededAt float64) {
	lt.stats[id] = &LifetimeStats{
		Particle: id,
		Release:  release,
		SeedStep: seedStep,
		SeededAt: seededAt,
		LastT:    seededAt,
	}
}

// Get returns the lifetime stats for a particle, or nil if not found.
func (lt *LifetimeTracker) Get(id uint64) *LifetimeStats {
	return lt.stats[id]
}

// Observe adds one step of rows for a particle. Rows must be ordered by time.
func (lt *LifetimeTracker) Observe(id uint64, rows []particle.Row) {
	s := lt.stats[id]
	if s == nil || len(rows) == 0 {
		return
	}
	s.Steps++
	for i := 1; i < len(rows); i++ {
		s.PathLength += math.Hypot(rows[i].X-rows[i-1].X, rows[i].Y-rows[i-1].Y)
	}
	last := rows[len(rows)-1]
	s.LastT = last.T
	s.FinalX, s.FinalY = last.X, last.Y
	s.Reason = last.Reason
}

// Remove removes a particle's stats and returns them (for output).
func (lt *LifetimeTracker) Remove(id uint64) *LifetimeStats {
	stats := lt.stats[id]
	delete(lt.stats, id)
	return stats
}

// Count returns the number of tracked particles.
func (lt *LifetimeTracker) Count() int {
	return len(lt.stats)
}
