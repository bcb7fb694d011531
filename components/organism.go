package components

import "github.com/pthm-cable/swimmers/particle"

// Identity bundles a particle's persistent ID and seeding provenance.
type Identity struct {
	ID       uint64
	Release  string  // name of the release that seeded it ("" for ad hoc seeds)
	SeedStep int     // simulation step of the seeding
	SeededAt float64 // absolute time of the seeding
}

// Rule holds the particle's behavior, if any.
type Rule struct {
	Behavior particle.Behavior
}
