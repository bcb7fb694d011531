package tracking

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pthm-cable/swimmers/particle"
)

// ErrMissingBoundary is wrapped by MissingBoundaryError.
var ErrMissingBoundary = errors.New("tracking: alive particle has no row at boundary time")

// LogReader is the read side of the trajectory log.
type LogReader interface {
	Len() int
	// RowsAt returns every row at exactly time t.
	RowsAt(t float64) []particle.Row
	// LastBefore returns the latest row of each particle with T < t.
	LastBefore(t float64) []particle.Row
}

// MissingBoundaryError names particles that were alive before the boundary
// but have no row at it.
type MissingBoundaryError struct {
	T   float64
	IDs []uint64
}

func (e *MissingBoundaryError) Error() string {
	return fmt.Sprintf("%v: t=%g particles [%s]", ErrMissingBoundary, e.T, joinIDs(e.IDs))
}

func (e *MissingBoundaryError) Unwrap() error { return ErrMissingBoundary }

// DuplicateRowsError reports particles with more than one row at a time.
type DuplicateRowsError struct {
	T   float64
	IDs []uint64
}

func (e *DuplicateRowsError) Error() string {
	return fmt.Sprintf("tracking: duplicate rows at t=%g for particles [%s]", e.T, joinIDs(e.IDs))
}

func joinIDs(ids []uint64) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = fmt.Sprint(id)
	}
	return strings.Join(s, " ")
}

// RecoverAlive returns the particles whose row at the boundary carries an
// alive reason, ordered by ID. Rows after the boundary are ignored. A
// particle whose latest earlier row is alive must have a boundary row;
// otherwise a *MissingBoundaryError names it. An empty log recovers nothing.
func (t *Tracker) RecoverAlive(log LogReader, boundary float64) ([]particle.Known, error) {
	if log.Len() == 0 {
		return nil, nil
	}

	rows := log.RowsAt(boundary)
	seen := make(map[uint64]int, len(rows))
	var dups []uint64
	for _, r := range rows {
		seen[r.Particle]++
		if seen[r.Particle] == 2 {
			dups = append(dups, r.Particle)
		}
	}
	if len(dups) > 0 {
		sort.Slice(dups, func(i, j int) bool { return dups[i] < dups[j] })
		return nil, &DuplicateRowsError{T: boundary, IDs: dups}
	}

	var missing []uint64
	for _, r := range log.LastBefore(boundary) {
		if seen[r.Particle] == 0 && particle.IsAlive(r.Reason) {
			missing = append(missing, r.Particle)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return nil, &MissingBoundaryError{T: boundary, IDs: missing}
	}

	out := make([]particle.Known, 0, len(rows))
	for _, r := range rows {
		if particle.IsAlive(r.Reason) {
			out = append(out, particle.Known{ID: r.Particle, Pos: r.Pos()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
