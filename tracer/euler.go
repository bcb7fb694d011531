package tracer

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/swimmers/particle"
)

// Euler is a constant space step midpoint integrator. Each step advances
// MaxStep metres of arc length; steps that would leave the field are halved
// down to MinStep before the line is stopped at the boundary.
type Euler struct {
	MinStep        float64 // smallest arc length step near the boundary (m)
	MaxStep        float64 // nominal arc length step (m)
	MaxSteps       int     // step limit per line
	TerminalSpeed  float64 // speed below which a line stagnates (m/s)
	MaxTime        float64 // integration time limit (s), 0 = unbounded
	MaxPropagation float64 // path length limit (m), 0 = unbounded
}

// Trace integrates every seed. Lines are returned in seed order.
func (e *Euler) Trace(f Field, seeds []r3.Vec) ([]Line, error) {
	lines := make([]Line, len(seeds))
	for i, s := range seeds {
		lines[i] = e.trace(f, s)
	}
	return lines, nil
}

func (e *Euler) trace(f Field, seed r3.Vec) Line {
	line := Line{
		Points: []r3.Vec{seed},
		Times:  []float64{0},
	}
	if _, _, ok := f.Velocity(seed.X, seed.Y); !ok {
		line.Reason = particle.OutOfDomain
		return line
	}

	p := r2.Vec{X: seed.X, Y: seed.Y}
	t, length := 0.0, 0.0
	for steps := 0; ; steps++ {
		u, v, ok := f.Velocity(p.X, p.Y)
		if !ok {
			line.Reason = particle.OutOfDomain
			return line
		}
		v0 := r2.Vec{X: u, Y: v}
		if !finite(v0) {
			line.Reason = particle.UnexpectedValue
			return line
		}
		speed := r2.Norm(v0)
		if speed < e.TerminalSpeed || speed == 0 {
			line.Reason = particle.Stagnation
			return line
		}
		if e.MaxTime > 0 && t >= e.MaxTime {
			line.Reason = particle.OutOfTime
			return line
		}
		if e.MaxPropagation > 0 && length >= e.MaxPropagation {
			line.Reason = particle.OutOfTime
			return line
		}
		if steps >= e.MaxSteps {
			line.Reason = particle.OutOfSteps
			return line
		}

		ds := e.MaxStep
		if e.MaxPropagation > 0 {
			ds = math.Min(ds, e.MaxPropagation-length)
		}
		if e.MaxTime > 0 {
			ds = math.Min(ds, (e.MaxTime-t)*speed)
		}

		next, dt, reason, ok := e.advance(f, p, v0, speed, ds)
		if !ok {
			line.Reason = reason
			return line
		}
		length += r2.Norm(r2.Sub(next, p))
		t += dt
		if e.MaxTime > 0 && e.MaxTime-t < snap*e.MaxTime {
			t = e.MaxTime
		}
		if e.MaxPropagation > 0 && e.MaxPropagation-length < snap*e.MaxPropagation {
			length = e.MaxPropagation
		}
		p = next
		line.Points = append(line.Points, r3.Vec{X: p.X, Y: p.Y, Z: seed.Z})
		line.Times = append(line.Times, t)
	}
}

// snap is the relative distance at which a clipped step counts as having
// reached its limit.
const snap = 1e-9

// advance takes one midpoint step of arc length ds, refining near the edge
// of the field.
func (e *Euler) advance(f Field, p, v0 r2.Vec, speed, ds float64) (r2.Vec, float64, particle.Reason, bool) {
	for {
		dt := ds / speed
		mid := r2.Add(p, r2.Scale(dt/2, v0))
		u, v, ok := f.Velocity(mid.X, mid.Y)
		if ok {
			v1 := r2.Vec{X: u, Y: v}
			if !finite(v1) {
				return p, 0, particle.UnexpectedValue, false
			}
			next := r2.Add(p, r2.Scale(dt, v1))
			if _, _, ok := f.Velocity(next.X, next.Y); ok {
				return next, dt, 0, true
			}
		}
		ds /= 2
		if ds < e.MinStep || ds <= 0 {
			return p, 0, particle.OutOfDomain, false
		}
	}
}

func finite(v r2.Vec) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}
