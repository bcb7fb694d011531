package lifecycle

import (
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/pthm-cable/swimmers/particle"
)

// ConstantVelocity adds a fixed velocity to every sample.
type ConstantVelocity struct {
	U, V float64
}

// Apply shifts each sample by t*(U, V).
func (c ConstantVelocity) Apply(_ uint64, tr particle.Trajectory) (particle.Trajectory, *particle.Reason, error) {
	for i := range tr.Samples {
		s := &tr.Samples[i]
		s.X += s.T * c.U
		s.Y += s.T * c.V
	}
	return tr, nil, nil
}

// Target is a named destination.
type Target struct {
	Name string
	Pos  r2.Vec
}

// SeekNearestTarget swims toward the target closest to the trajectory's first
// sample. A particle that can cover the remaining distance within the step
// escapes; one that outlives SurvivalTime dies.
type SeekNearestTarget struct {
	Targets       []Target
	Speed         float64 // swim speed (m/s)
	CaptureRadius float64 // distance at which the target counts as reached (m)
	SurvivalTime  float64 // maximum time since seeding (s), 0 = unlimited
	SeededAt      float64 // absolute seeding time of the particle
}

// Apply implements particle.Behavior.
func (s SeekNearestTarget) Apply(_ uint64, tr particle.Trajectory) (particle.Trajectory, *particle.Reason, error) {
	if tr.Len() == 0 {
		return tr, nil, nil
	}
	first := tr.Samples[0]
	last := tr.Samples[tr.Len()-1]
	var override *particle.Reason

	if len(s.Targets) > 0 {
		start := r2.Vec{X: first.X, Y: first.Y}
		target := s.nearest(start)
		offset := r2.Sub(target.Pos, start)
		dist := r2.Norm(offset)
		dt := last.T - first.T

		if dt > 0 && dist > 0 {
			speed := s.Speed
			if (dist-s.CaptureRadius)/dt <= speed {
				speed = dist / dt
				escape := particle.Escape
				override = &escape
			}
			dir := r2.Scale(speed/dist, offset)
			for i := range tr.Samples {
				p := &tr.Samples[i]
				el := p.T - first.T
				p.X += el * dir.X
				p.Y += el * dir.Y
			}
		} else if dist <= s.CaptureRadius {
			escape := particle.Escape
			override = &escape
		}
	}

	if s.SurvivalTime > 0 && tr.Start+last.T-s.SeededAt > s.SurvivalTime {
		death := particle.Death
		override = &death
	}
	return tr, override, nil
}

func (s SeekNearestTarget) nearest(p r2.Vec) Target {
	best := s.Targets[0]
	bestDist := r2.Norm(r2.Sub(best.Pos, p))
	for _, t := range s.Targets[1:] {
		if d := r2.Norm(r2.Sub(t.Pos, p)); d < bestDist {
			best, bestDist = t, d
		}
	}
	return best
}

// Composite applies behaviors in order, each seeing the previous one's
// output. The last override set wins; the first error aborts.
type Composite struct {
	Behaviors []particle.Behavior
}

// Apply implements particle.Behavior.
func (c Composite) Apply(id uint64, tr particle.Trajectory) (particle.Trajectory, *particle.Reason, error) {
	var override *particle.Reason
	for _, b := range c.Behaviors {
		if b == nil {
			continue
		}
		out, r, err := b.Apply(id, tr)
		if err != nil {
			return tr, nil, err
		}
		tr = out
		if r != nil {
			override = r
		}
	}
	return tr, override, nil
}
