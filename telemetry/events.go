// Package telemetry provides the trajectory log, run statistics, CSV output
// and snapshots.
package telemetry

import "github.com/pthm-cable/swimmers/particle"

// EventType identifies telemetry events.
type EventType uint8

const (
	EventSeeded EventType = iota
	EventRecovered
	EventRetired
	EventFallback
)

// Event represents a single telemetry event.
type Event struct {
	Type     EventType
	Step     int
	Particle uint64

	// Optional fields depending on event type
	Reason   particle.Reason // retirement reason
	Distance float64         // correlation distance for fallbacks
}

// NewSeededEvent creates a seeding event.
func NewSeededEvent(step int, id uint64) Event {
	return Event{Type: EventSeeded, Step: step, Particle: id}
}

// NewRecoveredEvent creates an event for a particle carried into a step.
func NewRecoveredEvent(step int, id uint64) Event {
	return Event{Type: EventRecovered, Step: step, Particle: id}
}

// NewRetiredEvent creates a retirement event.
func NewRetiredEvent(step int, id uint64, reason particle.Reason) Event {
	return Event{Type: EventRetired, Step: step, Particle: id, Reason: reason}
}

// NewFallbackEvent creates an event for a line matched to an already claimed ID.
func NewFallbackEvent(step int, id uint64, distance float64) Event {
	return Event{Type: EventFallback, Step: step, Particle: id, Distance: distance}
}
