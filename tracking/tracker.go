// Package tracking assigns persistent identities to particles and carries
// them across simulation steps.
package tracking

import (
	"fmt"
	"sort"

	"github.com/mlange-42/ark/ecs"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pthm-cable/swimmers/components"
	"github.com/pthm-cable/swimmers/particle"
)

// Default correlation parameters.
const (
	DefaultNeighbors   = 10
	DefaultWidenFactor = 4
)

// Options configures a Tracker.
type Options struct {
	Neighbors   int // nearest candidates considered per line
	WidenFactor int // multiplier for the widened query once all candidates are claimed
}

// Release describes where a batch of new particles came from and how they move.
type Release struct {
	Name     string
	Step     int
	At       float64
	Drift    components.Drift
	Behavior particle.Behavior
}

// Entry is a registered live particle.
type Entry struct {
	Identity components.Identity
	Drift    components.Drift
	Behavior particle.Behavior
}

// Tracker owns the ID counter and the registry of live particles. It is not
// safe for concurrent use.
type Tracker struct {
	opts   Options
	nextID uint64

	world    *ecs.World
	mapper   *ecs.Map3[components.Identity, components.Drift, components.Rule]
	filter   *ecs.Filter3[components.Identity, components.Drift, components.Rule]
	entities map[uint64]ecs.Entity
}

// New creates an empty tracker.
func New(opts Options) *Tracker {
	if opts.Neighbors < 1 {
		opts.Neighbors = DefaultNeighbors
	}
	if opts.WidenFactor < 1 {
		opts.WidenFactor = DefaultWidenFactor
	}
	t := &Tracker{opts: opts}
	t.Reset()
	return t
}

// Reset drops every registered particle and restarts IDs from zero.
func (t *Tracker) Reset() {
	world := ecs.NewWorld()
	t.world = world
	t.mapper = ecs.NewMap3[components.Identity, components.Drift, components.Rule](world)
	t.filter = ecs.NewFilter3[components.Identity, components.Drift, components.Rule](world)
	t.entities = make(map[uint64]ecs.Entity)
	t.nextID = 0
}

// NextID returns the ID the next allocation will start from.
func (t *Tracker) NextID() uint64 { return t.nextID }

// AllocateIDs returns n fresh IDs, contiguous and increasing. IDs are never reused.
func (t *Tracker) AllocateIDs(n int) []uint64 {
	if n <= 0 {
		return nil
	}
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = t.nextID
		t.nextID++
	}
	return ids
}

// Restore moves the counter forward, for resuming from a snapshot. The
// counter never moves backwards past a registered ID.
func (t *Tracker) Restore(next uint64) error {
	for id := range t.entities {
		if id >= next {
			return fmt.Errorf("tracking: restore to %d would reuse live id %d", next, id)
		}
	}
	t.nextID = next
	return nil
}

// Seed allocates IDs for new particles and registers them under rel.
func (t *Tracker) Seed(points []r3.Vec, rel Release) []particle.Known {
	ids := t.AllocateIDs(len(points))
	out := make([]particle.Known, len(points))
	for i, p := range points {
		t.add(Entry{
			Identity: components.Identity{ID: ids[i], Release: rel.Name, SeedStep: rel.Step, SeededAt: rel.At},
			Drift:    rel.Drift,
			Behavior: rel.Behavior,
		})
		out[i] = particle.Known{ID: ids[i], Pos: p}
	}
	return out
}

// Register adds a particle with an already assigned ID.
func (t *Tracker) Register(e Entry) error {
	if _, ok := t.entities[e.Identity.ID]; ok {
		return fmt.Errorf("tracking: particle %d already registered", e.Identity.ID)
	}
	t.add(e)
	if e.Identity.ID >= t.nextID {
		t.nextID = e.Identity.ID + 1
	}
	return nil
}

func (t *Tracker) add(e Entry) {
	id := e.Identity
	drift := e.Drift
	rule := components.Rule{Behavior: e.Behavior}
	t.entities[id.ID] = t.mapper.NewEntity(&id, &drift, &rule)
}

// Lookup returns the registry entry of a live particle.
func (t *Tracker) Lookup(id uint64) (Entry, bool) {
	ent, ok := t.entities[id]
	if !ok || !t.world.Alive(ent) {
		return Entry{}, false
	}
	ident, drift, rule := t.mapper.Get(ent)
	return Entry{Identity: *ident, Drift: *drift, Behavior: rule.Behavior}, true
}

// Retire removes a particle from the registry. Unknown IDs are ignored.
func (t *Tracker) Retire(id uint64) {
	ent, ok := t.entities[id]
	if !ok {
		return
	}
	delete(t.entities, id)
	if t.world.Alive(ent) {
		t.world.RemoveEntity(ent)
	}
}

// Len returns the number of registered particles.
func (t *Tracker) Len() int { return len(t.entities) }

// Live returns every registered particle ordered by ID.
func (t *Tracker) Live() []Entry {
	out := make([]Entry, 0, len(t.entities))
	query := t.filter.Query()
	for query.Next() {
		ident, drift, rule := query.Get()
		out = append(out, Entry{Identity: *ident, Drift: *drift, Behavior: rule.Behavior})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out
}
