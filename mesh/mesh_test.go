package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoCells is a 2x1 strip of unit squares.
func twoCells(t *testing.T) *Mesh {
	t.Helper()
	m, err := New(
		[][]float64{{0, 1, 1, 0}, {1, 2, 2, 1}},
		[][]float64{{0, 0, 1, 1}, {0, 0, 1, 1}},
	)
	require.NoError(t, err)
	return m
}

func TestNewRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name string
		x, y [][]float64
	}{
		{"empty", nil, nil},
		{"cell count", [][]float64{{0, 1, 1}}, nil},
		{"corner count", [][]float64{{0, 1, 1}}, [][]float64{{0, 0}}},
		{"degenerate", [][]float64{{0, 1}}, [][]float64{{0, 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.x, tt.y)
			assert.Error(t, err)
		})
	}
}

func TestLocate(t *testing.T) {
	m := twoCells(t)
	assert.Equal(t, 2, m.Len())

	i, ok := m.Locate(0.25, 0.5)
	assert.True(t, ok)
	assert.Equal(t, 0, i)

	i, ok = m.Locate(1.75, 0.5)
	assert.True(t, ok)
	assert.Equal(t, 1, i)

	_, ok = m.Locate(3, 0.5)
	assert.False(t, ok)
	_, ok = m.Locate(0.5, -0.1)
	assert.False(t, ok)
}

func TestBoundsAndCentroid(t *testing.T) {
	m := twoCells(t)
	b := m.Bounds()
	assert.Equal(t, 0.0, b.Min.X)
	assert.Equal(t, 0.0, b.Min.Y)
	assert.Equal(t, 2.0, b.Max.X)
	assert.Equal(t, 1.0, b.Max.Y)

	c := m.Centroid(1)
	assert.InDelta(t, 1.5, c.X, 1e-12)
	assert.InDelta(t, 0.5, c.Y, 1e-12)
}

func TestAttachAndVelocity(t *testing.T) {
	m := twoCells(t)
	assert.Equal(t, -1, m.Step())

	_, _, ok := m.Velocity(0.5, 0.5)
	assert.False(t, ok, "no fields attached yet")

	err := m.Attach(3, []float64{0}, []float64{1, 2}, []float64{3, 4})
	assert.Error(t, err)

	require.NoError(t, m.Attach(3, []float64{0.1, 0.2}, []float64{1, 2}, []float64{3, 4}))
	assert.Equal(t, 3, m.Step())

	u, v, ok := m.Velocity(1.5, 0.5)
	assert.True(t, ok)
	assert.Equal(t, 2.0, u)
	assert.Equal(t, 4.0, v)

	_, _, ok = m.Velocity(5, 5)
	assert.False(t, ok)

	s, err := m.Scalar(0.5, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 0.1, s)
}

func TestSyntheticSource(t *testing.T) {
	s := Synthetic{NX: 4, NY: 3, CellSize: 10, NumSteps: 2, TidalU: 1, Period: 100, StepDuration: 25}
	m, err := Load(s)
	require.NoError(t, err)
	assert.Equal(t, 12, m.Len())

	f, err := s.Fields(0)
	require.NoError(t, err)
	require.NoError(t, m.AttachFields(0, f))
	u, v, ok := m.Velocity(15, 15)
	assert.True(t, ok)
	assert.InDelta(t, 1.0, u, 1e-12)
	assert.InDelta(t, 0.0, v, 1e-12)

	// quarter period later the tide is slack
	f, err = s.Fields(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, f.UCX[0], 1e-12)

	_, err = s.Fields(2)
	assert.Error(t, err)
}

func TestCSVSourceFromRows(t *testing.T) {
	corners := []CornerRow{
		{Cell: 1, Corner: 0, X: 1, Y: 0}, {Cell: 1, Corner: 1, X: 2, Y: 0},
		{Cell: 1, Corner: 2, X: 2, Y: 1}, {Cell: 1, Corner: 3, X: 1, Y: 1},
		{Cell: 0, Corner: 0, X: 0, Y: 0}, {Cell: 0, Corner: 1, X: 1, Y: 0},
		{Cell: 0, Corner: 2, X: 1, Y: 1}, {Cell: 0, Corner: 3, X: 0, Y: 1},
	}
	values := []FieldRow{
		{Step: 0, Cell: 0, UCX: 1}, {Step: 0, Cell: 1, UCX: 2},
		{Step: 1, Cell: 1, UCY: 5}, {Step: 1, Cell: 0, UCY: 6},
	}
	src, err := NewCSVSourceFromRows(corners, values)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Steps())

	m, err := Load(src)
	require.NoError(t, err)
	f, err := src.Fields(1)
	require.NoError(t, err)
	require.NoError(t, m.AttachFields(1, f))
	_, v, ok := m.Velocity(0.5, 0.5)
	assert.True(t, ok)
	assert.Equal(t, 6.0, v)

	_, err = src.Fields(7)
	assert.Error(t, err)

	_, err = NewCSVSourceFromRows(corners, values[:3])
	assert.Error(t, err, "step 1 is missing a cell")
}
