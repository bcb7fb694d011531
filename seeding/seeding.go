// Package seeding proposes new particle positions: scheduled releases from
// named regions and a domain-wide top-up to a target population.
package seeding

import (
	"math/rand"

	"github.com/ctessum/geom"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/swimmers/components"
)

// DomainRelease is the release name given to top-up batches.
const DomainRelease = "domain"

// Propose returns count points drawn uniformly from region, with z = 0.
func Propose(rng *rand.Rand, region geom.Bounds, count int) []r3.Vec {
	if count <= 0 {
		return nil
	}
	w := region.Max.X - region.Min.X
	h := region.Max.Y - region.Min.Y
	pts := make([]r3.Vec, count)
	for i := range pts {
		pts[i] = r3.Vec{
			X: region.Min.X + rng.Float64()*w,
			Y: region.Min.Y + rng.Float64()*h,
		}
	}
	return pts
}

// TopUpCount returns how many particles bring alive up to target.
func TopUpCount(target, alive int) int {
	return max(0, target-alive)
}

// Schedule releases Count particles from Region every Every steps from Start
// through Stop. Every 0 releases once at Start; Stop 0 has no end.
type Schedule struct {
	Name     string
	Region   geom.Bounds
	Count    int
	Every    int
	Start    int
	Stop     int
	Drift    components.Drift
	Behavior string
}

// Due reports whether the schedule releases at step.
func (s Schedule) Due(step int) bool {
	if s.Count <= 0 || step < s.Start {
		return false
	}
	if s.Stop > 0 && step > s.Stop {
		return false
	}
	if s.Every <= 0 {
		return step == s.Start
	}
	return (step-s.Start)%s.Every == 0
}

// Batch is a set of points to seed together.
type Batch struct {
	Release  string
	Points   []r3.Vec
	Drift    components.Drift
	Behavior string
}

// Policy decides what to seed at each step.
type Policy struct {
	Schedules    []Schedule
	Domain       geom.Bounds
	DomainTarget int // 0 disables the top-up

	rng *rand.Rand
}

// NewPolicy creates a policy drawing positions from rng.
func NewPolicy(rng *rand.Rand, schedules []Schedule, domain geom.Bounds, target int) *Policy {
	return &Policy{Schedules: schedules, Domain: domain, DomainTarget: target, rng: rng}
}

// Plan returns the batches for a step given the number of particles alive at
// its start. Scheduled releases come first in configuration order; the
// domain top-up only runs on steps without a scheduled release.
func (p *Policy) Plan(step, alive int) []Batch {
	var batches []Batch
	for _, s := range p.Schedules {
		if !s.Due(step) {
			continue
		}
		batches = append(batches, Batch{
			Release:  s.Name,
			Points:   Propose(p.rng, s.Region, s.Count),
			Drift:    s.Drift,
			Behavior: s.Behavior,
		})
	}
	if len(batches) > 0 || p.DomainTarget <= 0 {
		return batches
	}
	if n := TopUpCount(p.DomainTarget, alive); n > 0 {
		batches = append(batches, Batch{
			Release: DomainRelease,
			Points:  Propose(p.rng, p.Domain, n),
		})
	}
	return batches
}
