package mesh

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
)

// Fields are the cell-centred values of one solver output step.
type Fields struct {
	S1  []float64 // water level
	UCX []float64 // eastward velocity
	UCY []float64 // northward velocity
}

// Source supplies the mesh geometry and the per-step fields of a flow solution.
type Source interface {
	Contours() (x, y [][]float64, err error)
	Fields(step int) (Fields, error)
	Steps() int
}

// Load builds a mesh from a source's contours.
func Load(src Source) (*Mesh, error) {
	x, y, err := src.Contours()
	if err != nil {
		return nil, fmt.Errorf("reading contours: %w", err)
	}
	return New(x, y)
}

// Synthetic is a rectangular quad mesh carrying a uniform tidal current plus a
// solid body rotation around the mesh centre.
type Synthetic struct {
	NX, NY           int
	CellSize         float64
	OriginX, OriginY float64
	NumSteps         int
	TidalU, TidalV   float64
	Period           float64
	Swirl            float64
	StepDuration     float64
}

// Contours returns the corners of every cell, row by row from the origin.
func (s Synthetic) Contours() (x, y [][]float64, err error) {
	if s.NX < 1 || s.NY < 1 || s.CellSize <= 0 {
		return nil, nil, fmt.Errorf("synthetic mesh: invalid size %dx%d cell %g", s.NX, s.NY, s.CellSize)
	}
	n := s.NX * s.NY
	x = make([][]float64, 0, n)
	y = make([][]float64, 0, n)
	for j := 0; j < s.NY; j++ {
		for i := 0; i < s.NX; i++ {
			x0 := s.OriginX + float64(i)*s.CellSize
			y0 := s.OriginY + float64(j)*s.CellSize
			x1, y1 := x0+s.CellSize, y0+s.CellSize
			x = append(x, []float64{x0, x1, x1, x0})
			y = append(y, []float64{y0, y0, y1, y1})
		}
	}
	return x, y, nil
}

// Fields evaluates the analytic flow at the cell centres for a step.
func (s Synthetic) Fields(step int) (Fields, error) {
	if step < 0 || (s.NumSteps > 0 && step >= s.NumSteps) {
		return Fields{}, fmt.Errorf("synthetic field: step %d out of range [0, %d)", step, s.NumSteps)
	}
	t := float64(step) * s.StepDuration
	phase := 0.0
	if s.Period > 0 {
		phase = 2 * math.Pi * t / s.Period
	}
	tide := math.Cos(phase)
	xc := s.OriginX + float64(s.NX)*s.CellSize/2
	yc := s.OriginY + float64(s.NY)*s.CellSize/2

	n := s.NX * s.NY
	f := Fields{
		S1:  make([]float64, n),
		UCX: make([]float64, n),
		UCY: make([]float64, n),
	}
	k := 0
	for j := 0; j < s.NY; j++ {
		for i := 0; i < s.NX; i++ {
			cx := s.OriginX + (float64(i)+0.5)*s.CellSize
			cy := s.OriginY + (float64(j)+0.5)*s.CellSize
			f.S1[k] = 0.5 * math.Sin(phase)
			f.UCX[k] = s.TidalU*tide - s.Swirl*(cy-yc)
			f.UCY[k] = s.TidalV*tide + s.Swirl*(cx-xc)
			k++
		}
	}
	return f, nil
}

// Steps returns the number of available steps (0 = unbounded).
func (s Synthetic) Steps() int { return s.NumSteps }

// CornerRow is one corner of a cell in cells.csv.
type CornerRow struct {
	Cell   int     `csv:"cell"`
	Corner int     `csv:"corner"`
	X      float64 `csv:"x"`
	Y      float64 `csv:"y"`
}

// FieldRow is one cell value of one step in fields.csv.
type FieldRow struct {
	Step int     `csv:"step"`
	Cell int     `csv:"cell"`
	S1   float64 `csv:"s1"`
	UCX  float64 `csv:"ucx"`
	UCY  float64 `csv:"ucy"`
}

// CSVSource reads a mesh and its fields from two CSV tables exported from the
// solver output.
type CSVSource struct {
	x, y   [][]float64
	fields map[int]Fields
	steps  int
}

// NewCSVSource loads cells.csv and fields.csv.
func NewCSVSource(cellsPath, fieldsPath string) (*CSVSource, error) {
	var corners []CornerRow
	if err := readCSV(cellsPath, &corners); err != nil {
		return nil, err
	}
	var values []FieldRow
	if err := readCSV(fieldsPath, &values); err != nil {
		return nil, err
	}
	return NewCSVSourceFromRows(corners, values)
}

// NewCSVSourceFromRows builds a source from already parsed rows.
func NewCSVSourceFromRows(corners []CornerRow, values []FieldRow) (*CSVSource, error) {
	if len(corners) == 0 {
		return nil, errors.New("csv source: no cell corners")
	}

	sort.SliceStable(corners, func(i, j int) bool {
		if corners[i].Cell != corners[j].Cell {
			return corners[i].Cell < corners[j].Cell
		}
		return corners[i].Corner < corners[j].Corner
	})
	ncell := corners[len(corners)-1].Cell + 1
	if corners[0].Cell != 0 {
		return nil, fmt.Errorf("csv source: cells must start at 0, got %d", corners[0].Cell)
	}

	src := &CSVSource{
		x:      make([][]float64, ncell),
		y:      make([][]float64, ncell),
		fields: make(map[int]Fields),
	}
	for _, c := range corners {
		if c.Corner != len(src.x[c.Cell]) {
			return nil, fmt.Errorf("csv source: cell %d corner %d out of order", c.Cell, c.Corner)
		}
		src.x[c.Cell] = append(src.x[c.Cell], c.X)
		src.y[c.Cell] = append(src.y[c.Cell], c.Y)
	}
	for i := range src.x {
		if len(src.x[i]) == 0 {
			return nil, fmt.Errorf("csv source: cell %d has no corners", i)
		}
	}

	seen := make(map[int][]bool)
	for _, v := range values {
		if v.Cell < 0 || v.Cell >= ncell {
			return nil, fmt.Errorf("csv source: step %d references unknown cell %d", v.Step, v.Cell)
		}
		if v.Step < 0 {
			return nil, fmt.Errorf("csv source: negative step %d", v.Step)
		}
		f, ok := src.fields[v.Step]
		if !ok {
			f = Fields{
				S1:  make([]float64, ncell),
				UCX: make([]float64, ncell),
				UCY: make([]float64, ncell),
			}
			src.fields[v.Step] = f
			seen[v.Step] = make([]bool, ncell)
		}
		if seen[v.Step][v.Cell] {
			return nil, fmt.Errorf("csv source: duplicate value for step %d cell %d", v.Step, v.Cell)
		}
		seen[v.Step][v.Cell] = true
		f.S1[v.Cell], f.UCX[v.Cell], f.UCY[v.Cell] = v.S1, v.UCX, v.UCY
		if v.Step+1 > src.steps {
			src.steps = v.Step + 1
		}
	}
	for step, cells := range seen {
		for i, ok := range cells {
			if !ok {
				return nil, fmt.Errorf("csv source: step %d missing cell %d", step, i)
			}
		}
	}
	return src, nil
}

// Contours returns the cell corners.
func (s *CSVSource) Contours() (x, y [][]float64, err error) {
	return s.x, s.y, nil
}

// Fields returns the values of a step.
func (s *CSVSource) Fields(step int) (Fields, error) {
	f, ok := s.fields[step]
	if !ok {
		return Fields{}, fmt.Errorf("csv source: no fields for step %d", step)
	}
	return f, nil
}

// Steps returns one past the highest step present.
func (s *CSVSource) Steps() int { return s.steps }

func readCSV(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()
	if err := gocsv.UnmarshalFile(f, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
