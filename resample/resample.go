// Package resample turns irregular integrator output into fixed-length,
// evenly spaced trajectories on the absolute simulation clock.
package resample

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"

	"github.com/pthm-cable/swimmers/components"
	"github.com/pthm-cable/swimmers/lifecycle"
	"github.com/pthm-cable/swimmers/particle"
	"github.com/pthm-cable/swimmers/tracer"
)

// ErrNonMonotonic is returned when a line's integration times decrease.
var ErrNonMonotonic = errors.New("resample: integration times decrease")

// Method selects the interpolation scheme.
type Method string

const (
	Linear         Method = "linear"
	FritschButland Method = "fritsch_butland"
)

// DefaultSamples is the number of rows emitted per particle per step.
const DefaultSamples = 16

// Resampler produces Samples evenly spaced points over [0, tStop].
type Resampler struct {
	Samples int
	Method  Method
}

// New validates the parameters and returns a resampler.
func New(samples int, method Method) (*Resampler, error) {
	if samples < 2 {
		return nil, fmt.Errorf("resample: need at least 2 samples, got %d", samples)
	}
	switch method {
	case Linear, FritschButland:
	case "":
		method = Linear
	default:
		return nil, fmt.Errorf("resample: unknown method %q", method)
	}
	return &Resampler{Samples: samples, Method: method}, nil
}

// Sample interpolates a line onto the step grid. A line that stopped before
// tStop holds its last point. The drift is added as x += t*u, y += t*v.
func (r *Resampler) Sample(l tracer.Line, tStop float64, drift components.Drift) (particle.Trajectory, error) {
	if len(l.Points) == 0 {
		return particle.Trajectory{}, tracer.ErrEmptyLine
	}
	if len(l.Times) != len(l.Points) {
		return particle.Trajectory{}, fmt.Errorf("resample: %d points and %d times", len(l.Points), len(l.Times))
	}
	if tStop <= 0 {
		return particle.Trajectory{}, fmt.Errorf("resample: t_stop must be positive, got %g", tStop)
	}

	ts := make([]float64, 0, len(l.Times)+1)
	xs := make([]float64, 0, len(l.Times)+1)
	ys := make([]float64, 0, len(l.Times)+1)
	zs := make([]float64, 0, len(l.Times)+1)
	for i, t := range l.Times {
		if n := len(ts); n > 0 {
			if t < ts[n-1] {
				return particle.Trajectory{}, fmt.Errorf("%w: t[%d]=%g after %g", ErrNonMonotonic, i, t, ts[n-1])
			}
			if t == ts[n-1] {
				continue
			}
		}
		p := l.Points[i]
		ts = append(ts, t)
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
		zs = append(zs, p.Z)
	}
	if n := len(ts); ts[n-1] < tStop {
		ts = append(ts, tStop)
		xs = append(xs, xs[n-1])
		ys = append(ys, ys[n-1])
		zs = append(zs, zs[n-1])
	}

	k := r.Samples
	if k < 2 {
		k = DefaultSamples
	}
	grid := floats.Span(make([]float64, k), 0, tStop)
	grid[k-1] = tStop

	tr := particle.Trajectory{Samples: make([]particle.Sample, k)}
	if len(ts) == 1 {
		for i, t := range grid {
			tr.Samples[i] = particle.Sample{T: t, X: xs[0], Y: ys[0], Z: zs[0]}
		}
	} else {
		px, err := r.fit(ts, xs)
		if err != nil {
			return particle.Trajectory{}, err
		}
		py, err := r.fit(ts, ys)
		if err != nil {
			return particle.Trajectory{}, err
		}
		pz, err := r.fit(ts, zs)
		if err != nil {
			return particle.Trajectory{}, err
		}
		for i, t := range grid {
			tr.Samples[i] = particle.Sample{T: t, X: px.Predict(t), Y: py.Predict(t), Z: pz.Predict(t)}
		}
	}

	if !drift.IsZero() {
		for i := range tr.Samples {
			s := &tr.Samples[i]
			s.X += s.T * drift.U
			s.Y += s.T * drift.V
		}
	}
	return tr, nil
}

func (r *Resampler) fit(ts, vs []float64) (interp.Predictor, error) {
	if r.Method == FritschButland && len(ts) >= 3 {
		var fb interp.FritschButland
		if err := fb.Fit(ts, vs); err != nil {
			return nil, fmt.Errorf("resample: %w", err)
		}
		return &fb, nil
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(ts, vs); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	return &pl, nil
}

// Stamp converts a trajectory to log rows on the absolute clock.
func Stamp(id uint64, tr particle.Trajectory, reason particle.Reason) []particle.Row {
	rows := make([]particle.Row, len(tr.Samples))
	for i, s := range tr.Samples {
		rows[i] = particle.Row{T: s.T + tr.Start, X: s.X, Y: s.Y, Z: s.Z, Particle: id, Reason: reason}
	}
	return rows
}

// Resample produces the step rows of an unidentified line, stamped with the
// line's own reason. Particle is left zero for the caller to fill.
func (r *Resampler) Resample(l tracer.Line, absStepTime, tStop float64) ([]particle.Row, error) {
	return r.ResampleID(0, l, absStepTime, tStop)
}

// ResampleID is Resample for a known particle.
func (r *Resampler) ResampleID(id uint64, l tracer.Line, absStepTime, tStop float64) ([]particle.Row, error) {
	tr, err := r.Sample(l, tStop, components.Drift{})
	if err != nil {
		return nil, err
	}
	tr.Start = absStepTime
	return Stamp(id, tr, lifecycle.Classify(l)), nil
}
