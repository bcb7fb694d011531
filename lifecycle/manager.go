// Package lifecycle classifies how each particle's step ended and runs the
// behaviors that may rewrite a trajectory or end a particle early.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/pthm-cable/swimmers/particle"
	"github.com/pthm-cable/swimmers/tracer"
)

// ErrInvalidOverride is returned when a behavior forces a reason other than
// Death or Escape.
var ErrInvalidOverride = errors.New("lifecycle: behavior override must be DEATH or ESCAPE")

// Classify returns the terminal reason the integrator reported for a line.
func Classify(l tracer.Line) particle.Reason {
	return l.Reason
}

// Manager applies behaviors to resampled trajectories.
type Manager struct{}

// NewManager creates a lifecycle manager.
func NewManager() *Manager { return &Manager{} }

// Apply runs b on a copy of tr. Without a behavior the inputs come back
// unchanged. The returned reason is the behavior's override when it set one.
func (m *Manager) Apply(id uint64, tr particle.Trajectory, reason particle.Reason, b particle.Behavior) (particle.Trajectory, particle.Reason, error) {
	if b == nil {
		return tr, reason, nil
	}
	out, override, err := b.Apply(id, tr.Clone())
	if err != nil {
		return tr, reason, fmt.Errorf("behavior for particle %d: %w", id, err)
	}
	if out.Len() != tr.Len() {
		return tr, reason, fmt.Errorf("behavior for particle %d returned %d samples, want %d", id, out.Len(), tr.Len())
	}
	if override == nil {
		return out, reason, nil
	}
	if !particle.IsInjected(*override) {
		return tr, reason, fmt.Errorf("particle %d: %w (got %s)", id, ErrInvalidOverride, *override)
	}
	return out, *override, nil
}

// Replay runs b twice on independent copies and reports whether both runs
// agree. It is a diagnostic for behaviors that leak state between calls.
func (m *Manager) Replay(id uint64, tr particle.Trajectory, reason particle.Reason, b particle.Behavior) (bool, error) {
	a, ra, err := m.Apply(id, tr, reason, b)
	if err != nil {
		return false, err
	}
	c, rc, err := m.Apply(id, tr, reason, b)
	if err != nil {
		return false, err
	}
	if ra != rc || a.Start != c.Start || a.Len() != c.Len() {
		return false, nil
	}
	for i := range a.Samples {
		if a.Samples[i] != c.Samples[i] {
			return false, nil
		}
	}
	return true, nil
}
