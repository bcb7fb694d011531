package tracking

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/swimmers/particle"
	"github.com/pthm-cable/swimmers/tracer"
)

// ErrNoCandidates is returned when lines must be correlated against an empty
// known set.
var ErrNoCandidates = errors.New("tracking: no known positions to correlate against")

// Match assigns a line to a particle ID.
type Match struct {
	Line     int     // index into the lines slice
	ID       uint64  // matched particle
	Distance float64 // from the line's first point to the known position
	Fallback bool    // every candidate was already claimed; ID is shared
}

// Correlate matches each line, by its first point, to the nearest unclaimed
// known position. Lines are processed in the order given and claims are never
// revisited. When every nearby candidate is claimed the query is widened once;
// if that is exhausted too the nearest candidate is reused and the match is
// flagged as a fallback.
func (t *Tracker) Correlate(lines []tracer.Line, known []particle.Known) ([]Match, error) {
	if len(lines) == 0 {
		return nil, nil
	}
	if len(known) == 0 {
		return nil, ErrNoCandidates
	}

	index := newKnownIndex(known)

	claimed := make(map[uint64]bool, len(lines))
	matches := make([]Match, len(lines))
	for i, l := range lines {
		if len(l.Points) == 0 {
			return nil, fmt.Errorf("line %d: %w", i, tracer.ErrEmptyLine)
		}
		start := l.First()

		k := t.opts.Neighbors
		cands := index.nearest(start.X, start.Y, k)
		m, ok := firstUnclaimed(cands, claimed)
		if !ok && len(cands) < len(known) {
			cands = index.nearest(start.X, start.Y, k*t.opts.WidenFactor)
			m, ok = firstUnclaimed(cands, claimed)
		}
		if !ok {
			if len(cands) == 0 {
				return nil, ErrNoCandidates
			}
			m = cands[0]
			slog.Warn("correlation_fallback",
				"line", i,
				"particle", m.id,
				"distance", m.dist,
				"candidates", len(cands),
			)
		}
		claimed[m.id] = true
		matches[i] = Match{Line: i, ID: m.id, Distance: m.dist, Fallback: !ok}
	}
	return matches, nil
}

func firstUnclaimed(cands []ranked, claimed map[uint64]bool) (ranked, bool) {
	for _, c := range cands {
		if !claimed[c.id] {
			return c, true
		}
	}
	return ranked{}, false
}
