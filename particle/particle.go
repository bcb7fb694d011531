package particle

import "gonum.org/v1/gonum/spatial/r3"

// Row is one line of the trajectory log. Rows are immutable once written and
// keyed by (Particle, T).
type Row struct {
	T        float64 `csv:"t" json:"t"`
	X        float64 `csv:"x" json:"x"`
	Y        float64 `csv:"y" json:"y"`
	Z        float64 `csv:"z" json:"z"`
	Particle uint64  `csv:"particle" json:"particle"`
	Reason   Reason  `csv:"reason" json:"reason"`
}

// Pos returns the row's position.
func (r Row) Pos() r3.Vec {
	return r3.Vec{X: r.X, Y: r.Y, Z: r.Z}
}

// Known is a position with an established identity.
type Known struct {
	ID  uint64
	Pos r3.Vec
}

// Sample is one (t, x, y, z) entry of a trajectory; T is relative to the step start.
type Sample struct {
	T, X, Y, Z float64
}

// Trajectory is the per-step sample array handed to behaviors.
type Trajectory struct {
	Start   float64 // absolute time of the step start
	Samples []Sample
}

// Clone returns a deep copy so callers can hand trajectories to behaviors
// without sharing the backing array.
func (tr Trajectory) Clone() Trajectory {
	samples := make([]Sample, len(tr.Samples))
	copy(samples, tr.Samples)
	return Trajectory{Start: tr.Start, Samples: samples}
}

// Len returns the number of samples.
func (tr Trajectory) Len() int {
	return len(tr.Samples)
}

// Duration is the step-relative span covered by the samples.
func (tr Trajectory) Duration() float64 {
	if len(tr.Samples) == 0 {
		return 0
	}
	return tr.Samples[len(tr.Samples)-1].T - tr.Samples[0].T
}

// Behavior rewrites a particle's trajectory for one step and may force a
// terminal reason. Implementations must not touch state outside the
// trajectory they are given and must be deterministic.
type Behavior interface {
	Apply(id uint64, tr Trajectory) (Trajectory, *Reason, error)
}

// BehaviorFunc adapts a plain function to Behavior.
type BehaviorFunc func(id uint64, tr Trajectory) (Trajectory, *Reason, error)

// Apply calls f.
func (f BehaviorFunc) Apply(id uint64, tr Trajectory) (Trajectory, *Reason, error) {
	return f(id, tr)
}
