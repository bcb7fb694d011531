package sim

import (
	"fmt"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swimmers/components"
	"github.com/pthm-cable/swimmers/config"
	"github.com/pthm-cable/swimmers/lifecycle"
	"github.com/pthm-cable/swimmers/mesh"
	"github.com/pthm-cable/swimmers/particle"
	"github.com/pthm-cable/swimmers/seeding"
	"github.com/pthm-cable/swimmers/tracer"
)

// NewSource builds the field source selected by the configuration.
func NewSource(cfg *config.Config) (mesh.Source, error) {
	switch cfg.Field.Kind {
	case config.FieldSynthetic:
		s := cfg.Field.Synthetic
		return mesh.Synthetic{
			NX:           s.NX,
			NY:           s.NY,
			CellSize:     s.CellSize,
			OriginX:      s.OriginX,
			OriginY:      s.OriginY,
			NumSteps:     s.Steps,
			TidalU:       s.TidalU,
			TidalV:       s.TidalV,
			Period:       s.Period,
			Swirl:        s.Swirl,
			StepDuration: s.StepDuration,
		}, nil
	case config.FieldCSV:
		return mesh.NewCSVSource(cfg.Field.CellsCSV, cfg.Field.FieldsCSV)
	default:
		return nil, fmt.Errorf("unknown field kind %q", cfg.Field.Kind)
	}
}

// NewIntegrator builds the reference stream integrator. Its time limit is
// the step duration so every line covers at most one step.
func NewIntegrator(cfg *config.Config) *tracer.Euler {
	t := cfg.Tracer
	return &tracer.Euler{
		MinStep:        t.MinStep,
		MaxStep:        t.MaxStep,
		MaxSteps:       t.MaxSteps,
		TerminalSpeed:  t.TerminalSpeed,
		MaxTime:        cfg.Run.StepDuration,
		MaxPropagation: t.MaxPropagation,
	}
}

func regionBounds(r config.RegionConfig) geom.Bounds {
	return geom.Bounds{
		Min: geom.Point{X: r.MinX, Y: r.MinY},
		Max: geom.Point{X: r.MaxX, Y: r.MaxY},
	}
}

// newPolicy builds the seeding policy. The domain top-up falls back to the
// mesh bounds when no domain region is configured.
func newPolicy(cfg *config.Config, sim *Simulation) *seeding.Policy {
	schedules := make([]seeding.Schedule, 0, len(cfg.Seeding.Releases))
	for _, rel := range cfg.Seeding.Releases {
		schedules = append(schedules, seeding.Schedule{
			Name:     rel.Name,
			Region:   regionBounds(cfg.Seeding.Regions[rel.Region]),
			Count:    rel.Count,
			Every:    rel.Every,
			Start:    rel.Start,
			Stop:     rel.Stop,
			Drift:    components.Drift{U: rel.Drift.U, V: rel.Drift.V},
			Behavior: rel.Behavior,
		})
	}

	domain := *sim.mesh.Bounds()
	if !cfg.Seeding.Domain.RegionConfig.Empty() {
		domain = regionBounds(cfg.Seeding.Domain.RegionConfig)
	}
	return seeding.NewPolicy(sim.rng, schedules, domain, cfg.Seeding.Domain.Target)
}

func targets(cfg *config.Config) []lifecycle.Target {
	out := make([]lifecycle.Target, len(cfg.Behavior.Targets))
	for i, t := range cfg.Behavior.Targets {
		out[i] = lifecycle.Target{Name: t.Name, Pos: r2.Vec{X: t.X, Y: t.Y}}
	}
	return out
}

// behaviorFor builds the per-particle rule for a behavior kind.
func (s *Simulation) behaviorFor(kind string, seededAt float64) particle.Behavior {
	switch kind {
	case config.BehaviorSeek:
		b := s.cfg.Behavior
		return lifecycle.SeekNearestTarget{
			Targets:       s.targets,
			Speed:         b.SwimSpeed,
			CaptureRadius: b.CaptureRadius,
			SurvivalTime:  b.SurvivalTime,
			SeededAt:      seededAt,
		}
	default:
		return nil
	}
}

// releaseBehavior returns the behavior kind of a named release.
func (s *Simulation) releaseBehavior(name string) string {
	rel, ok := s.cfg.Release(name)
	if !ok {
		return config.BehaviorNone
	}
	return rel.Behavior
}
