package components

// Drift is a constant per-particle velocity added on top of the advected
// path, independent of any behavior.
type Drift struct {
	U, V float64
}

// IsZero reports whether the drift has no effect.
func (d Drift) IsZero() bool {
	return d.U == 0 && d.V == 0
}
