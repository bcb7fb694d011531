// Package mesh turns the solver's per-cell contours into a polygonal mesh and
// attaches the per-timestep fields the stream integrator samples.
package mesh

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// ErrNoFields is returned when the mesh is sampled before any step was attached.
var ErrNoFields = errors.New("mesh: no fields attached")

// cell is a mesh cell stored in the spatial index.
type cell struct {
	geom.Polygon
	index int
}

// Mesh is an unstructured 2D mesh with cell-centred fields for one timestep.
type Mesh struct {
	cells  []*cell
	index  *rtree.Rtree
	bounds *geom.Bounds

	step     int
	attached bool
	s1       []float64
	ucx      []float64
	ucy      []float64
}

// New builds a mesh from per-cell contour coordinates. contourX[i] and
// contourY[i] hold the corners of cell i in order.
func New(contourX, contourY [][]float64) (*Mesh, error) {
	if len(contourX) != len(contourY) {
		return nil, fmt.Errorf("mesh: contour_x has %d cells, contour_y has %d", len(contourX), len(contourY))
	}
	if len(contourX) == 0 {
		return nil, errors.New("mesh: no cells")
	}

	m := &Mesh{
		cells: make([]*cell, len(contourX)),
		index: rtree.NewTree(25, 50),
		step:  -1,
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)

	for i := range contourX {
		xs, ys := contourX[i], contourY[i]
		if len(xs) != len(ys) {
			return nil, fmt.Errorf("mesh: cell %d has %d x and %d y corners", i, len(xs), len(ys))
		}
		if len(xs) < 3 {
			return nil, fmt.Errorf("mesh: cell %d has %d corners, need at least 3", i, len(xs))
		}
		ring := make([]geom.Point, len(xs)+1)
		for j := range xs {
			ring[j] = geom.Point{X: xs[j], Y: ys[j]}
			minX = math.Min(minX, xs[j])
			minY = math.Min(minY, ys[j])
			maxX = math.Max(maxX, xs[j])
			maxY = math.Max(maxY, ys[j])
		}
		// close the ring
		ring[len(xs)] = ring[0]

		c := &cell{Polygon: geom.Polygon{ring}, index: i}
		m.cells[i] = c
		m.index.Insert(c)
	}

	m.bounds = &geom.Bounds{
		Min: geom.Point{X: minX, Y: minY},
		Max: geom.Point{X: maxX, Y: maxY},
	}
	return m, nil
}

// Len is the number of cells.
func (m *Mesh) Len() int { return len(m.cells) }

// Bounds returns the bounding box of the mesh.
func (m *Mesh) Bounds() *geom.Bounds {
	b := *m.bounds
	return &b
}

// Cell returns the polygon of cell i.
func (m *Mesh) Cell(i int) geom.Polygon { return m.cells[i].Polygon }

// Centroid returns the centroid of cell i.
func (m *Mesh) Centroid(i int) geom.Point { return m.cells[i].Centroid() }

// Step returns the index of the attached timestep, or -1 if none.
func (m *Mesh) Step() int { return m.step }

// Attach sets the cell-centred water level (s1) and velocity (ucx, ucy) for a
// simulation timestep. Only shapes are checked.
func (m *Mesh) Attach(step int, s1, ucx, ucy []float64) error {
	n := len(m.cells)
	if len(s1) != n || len(ucx) != n || len(ucy) != n {
		return fmt.Errorf("mesh: step %d fields have lengths s1=%d ucx=%d ucy=%d, want %d",
			step, len(s1), len(ucx), len(ucy), n)
	}
	m.s1, m.ucx, m.ucy = s1, ucx, ucy
	m.step = step
	m.attached = true
	return nil
}

// AttachFields is Attach for a Fields value.
func (m *Mesh) AttachFields(step int, f Fields) error {
	return m.Attach(step, f.S1, f.UCX, f.UCY)
}

// Locate returns the cell containing (x, y). Points on a shared edge resolve
// to the lowest cell index.
func (m *Mesh) Locate(x, y float64) (int, bool) {
	p := geom.Point{X: x, Y: y}
	found := -1
	for _, g := range m.index.SearchIntersect(p.Bounds()) {
		c, ok := g.(*cell)
		if !ok {
			continue
		}
		if found >= 0 && c.index > found {
			continue
		}
		if p.Within(c.Polygon) != geom.Outside {
			found = c.index
		}
	}
	return found, found >= 0
}

// Velocity returns the vector of the cell containing (x, y).
// ok is false outside the mesh or before fields are attached.
func (m *Mesh) Velocity(x, y float64) (u, v float64, ok bool) {
	if !m.attached {
		return 0, 0, false
	}
	i, ok := m.Locate(x, y)
	if !ok {
		return 0, 0, false
	}
	return m.ucx[i], m.ucy[i], true
}

// Scalar returns the water level of the cell containing (x, y).
func (m *Mesh) Scalar(x, y float64) (float64, error) {
	if !m.attached {
		return 0, ErrNoFields
	}
	i, ok := m.Locate(x, y)
	if !ok {
		return math.NaN(), nil
	}
	return m.s1[i], nil
}
