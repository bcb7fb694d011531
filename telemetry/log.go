package telemetry

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/swimmers/particle"
)

// rowKey identifies a row in the log.
type rowKey struct {
	particle uint64
	t        float64
}

// Log is the append-only trajectory table. It keeps the first row written for
// each (particle, t) so the boundary row of one step is shared with the next.
// A Log has a single writer.
type Log struct {
	rows    []particle.Row
	keys    map[rowKey]struct{}
	byTime  map[float64][]int
	byID    map[uint64][]int // row indices per particle, ordered by time
	horizon float64
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{
		keys:    make(map[rowKey]struct{}),
		byTime:  make(map[float64][]int),
		byID:    make(map[uint64][]int),
		horizon: math.Inf(-1),
	}
}

// NewLogFromRows builds a log from previously written rows.
func NewLogFromRows(rows []particle.Row) *Log {
	l := NewLog()
	l.Append(rows)
	return l
}

// Append adds rows and returns the ones that were new.
func (l *Log) Append(rows []particle.Row) []particle.Row {
	added := make([]particle.Row, 0, len(rows))
	for _, r := range rows {
		k := rowKey{particle: r.Particle, t: r.T}
		if _, ok := l.keys[k]; ok {
			continue
		}
		l.keys[k] = struct{}{}
		l.byTime[r.T] = append(l.byTime[r.T], len(l.rows))
		l.index(r.Particle, len(l.rows), r.T)
		l.rows = append(l.rows, r)
		if r.T > l.horizon {
			l.horizon = r.T
		}
		added = append(added, r)
	}
	return added
}

// index records row i of a particle, keeping its indices in time order.
func (l *Log) index(id uint64, i int, t float64) {
	idx := l.byID[id]
	n := len(idx)
	if n == 0 || l.rows[idx[n-1]].T < t {
		l.byID[id] = append(idx, i)
		return
	}
	at := sort.Search(n, func(j int) bool { return l.rows[idx[j]].T > t })
	idx = append(idx, 0)
	copy(idx[at+1:], idx[at:])
	idx[at] = i
	l.byID[id] = idx
}

// Len returns the number of rows.
func (l *Log) Len() int { return len(l.rows) }

// Horizon returns the latest time in the log, or -Inf when empty.
func (l *Log) Horizon() float64 { return l.horizon }

// RowsAt returns the rows at exactly time t, in write order.
func (l *Log) RowsAt(t float64) []particle.Row {
	idx := l.byTime[t]
	out := make([]particle.Row, len(idx))
	for i, j := range idx {
		out[i] = l.rows[j]
	}
	return out
}

// LastBefore returns the latest row of each particle with T < t.
func (l *Log) LastBefore(t float64) []particle.Row {
	var out []particle.Row
	for _, idx := range l.byID {
		at := sort.Search(len(idx), func(j int) bool { return l.rows[idx[j]].T >= t })
		if at > 0 {
			out = append(out, l.rows[idx[at-1]])
		}
	}
	return out
}

// Rows returns a copy of the whole table in write order.
func (l *Log) Rows() []particle.Row {
	out := make([]particle.Row, len(l.rows))
	copy(out, l.rows)
	return out
}

// Particle returns the rows of one particle ordered by time.
func (l *Log) Particle(id uint64) []particle.Row {
	idx := l.byID[id]
	out := make([]particle.Row, len(idx))
	for i, j := range idx {
		out[i] = l.rows[j]
	}
	return out
}

// Table is a raw row set read from disk. Unlike Log it keeps duplicates, so
// malformed input reaches the recovery checks intact.
type Table []particle.Row

// Len returns the number of rows.
func (t Table) Len() int { return len(t) }

// Horizon returns the latest time in the table, or -Inf when empty.
func (t Table) Horizon() float64 {
	h := math.Inf(-1)
	for _, r := range t {
		h = math.Max(h, r.T)
	}
	return h
}

// RowsAt returns the rows at exactly time ts.
func (t Table) RowsAt(ts float64) []particle.Row {
	var out []particle.Row
	for _, r := range t {
		if r.T == ts {
			out = append(out, r)
		}
	}
	return out
}

// LastBefore returns the latest row of each particle with T < ts. On equal
// times the first row in the table wins.
func (t Table) LastBefore(ts float64) []particle.Row {
	last := make(map[uint64]int)
	var order []uint64
	for i, r := range t {
		if r.T >= ts {
			continue
		}
		j, ok := last[r.Particle]
		if !ok {
			order = append(order, r.Particle)
		}
		if !ok || r.T > t[j].T {
			last[r.Particle] = i
		}
	}
	out := make([]particle.Row, len(order))
	for i, id := range order {
		out[i] = t[last[id]]
	}
	return out
}

// ReadRows parses a trajectory CSV.
func ReadRows(r io.Reader) (Table, error) {
	var rows []particle.Row
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("reading trajectories: %w", err)
	}
	return Table(rows), nil
}

// WriteRows writes rows as CSV with a header.
func WriteRows(w io.Writer, rows []particle.Row) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("writing trajectories: %w", err)
	}
	return nil
}
