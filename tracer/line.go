// Package tracer defines the stream integrator contract and a reference
// integrator over a piecewise-constant velocity field.
package tracer

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/swimmers/particle"
)

// ErrEmptyLine is returned for a line with no points.
var ErrEmptyLine = errors.New("tracer: empty line")

// Line is one integrated path. Times are relative to the seed time.
type Line struct {
	Points []r3.Vec
	Times  []float64
	Reason particle.Reason
}

// Len returns the number of points.
func (l Line) Len() int { return len(l.Points) }

// First returns the seed point.
func (l Line) First() r3.Vec { return l.Points[0] }

// Last returns the final point.
func (l Line) Last() r3.Vec { return l.Points[len(l.Points)-1] }

// Field is a velocity field sampled by the integrator.
type Field interface {
	Velocity(x, y float64) (u, v float64, ok bool)
}

// Integrator traces one line per seed. Lines may come back in any order.
type Integrator interface {
	Trace(f Field, seeds []r3.Vec) ([]Line, error)
}

// LineCountError reports a line count that does not match the seed count.
type LineCountError struct {
	Seeds int
	Lines int
}

func (e *LineCountError) Error() string {
	return fmt.Sprintf("tracer: %d seeds produced %d lines", e.Seeds, e.Lines)
}

// Validate checks integrator output against the number of seeds.
func Validate(seeds int, lines []Line) error {
	if len(lines) != seeds {
		return &LineCountError{Seeds: seeds, Lines: len(lines)}
	}
	for i, l := range lines {
		if len(l.Points) == 0 {
			return fmt.Errorf("line %d: %w", i, ErrEmptyLine)
		}
		if len(l.Times) != len(l.Points) {
			return fmt.Errorf("tracer: line %d has %d points and %d times", i, len(l.Points), len(l.Times))
		}
		if !l.Reason.Valid() {
			return fmt.Errorf("tracer: line %d has unknown reason %d", i, uint8(l.Reason))
		}
	}
	return nil
}
