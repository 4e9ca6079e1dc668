package emath

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMat3Inverse(t *testing.T) {
	m := Mat3{1.1, 0.05, 12, -0.02, 0.95, -7, 1e-5, 2e-5, 1}
	inv, err := m.Inverse()
	require.NoError(t, err)

	for _, p := range [][2]float64{{0, 0}, {100, 50}, {999, 999}} {
		x, y := m.Project(p[0], p[1])
		x2, y2 := inv.Project(x, y)
		assert.InDelta(t, p[0], x2, 1e-9)
		assert.InDelta(t, p[1], y2, 1e-9)
	}

	_, err = Mat3{1, 2, 3, 2, 4, 6, 0, 0, 1}.Inverse()
	assert.Error(t, err)
}

func TestMat3Compose(t *testing.T) {
	tr := Translation3(5, -3)
	assert.True(t, Identity3().Mult(tr) == tr)
	assert.True(t, tr.IsAffine())
	assert.False(t, tr.IsIdentity())

	x, y := tr.Mult(Translation3(1, 1)).Project(0, 0)
	assert.Equal(t, 6.0, x)
	assert.Equal(t, -2.0, y)

	a := Identity().Translate(2, 3)
	assert.Equal(t, Translation3(2, 3), a.Mat3())
	assert.Equal(t, a, a.Mat3().Affine())

	rot := Aff3{0, -1, 10, 1, 0, 20}
	for _, p := range [][2]float64{{0, 0}, {3, 4}, {-7.5, 2.25}} {
		ax, ay := rot.Mult(a).Apply(p[0], p[1])
		mx, my := rot.Mat3().Mult(a.Mat3()).Project(p[0], p[1])
		assert.InDelta(t, mx, ax, 1e-12)
		assert.InDelta(t, my, ay, 1e-12)
	}

	x, y = Mat3{1, 0, 0, 0, 1, 0, 1, 0, -1}.Project(1, 0)
	assert.True(t, math.IsNaN(x) && math.IsNaN(y))
}

func TestMaskedGridDownSample(t *testing.T) {
	mg := NewMaskedGrid(4, 2)
	mg.SetMasked(0, 0, 1, true)
	mg.SetMasked(1, 0, 3, true)
	mg.SetMasked(0, 1, 100, false)
	mg.SetMasked(1, 1, 5, true)
	// Right half all invalid

	ds := mg.DownSample()
	require.Equal(t, 2, ds.Dx())
	require.Equal(t, 1, ds.Dy())
	assert.True(t, ds.Valid(0, 0))
	assert.Equal(t, 3.0, ds.Get(0, 0))
	assert.False(t, ds.Valid(1, 0))
	assert.Equal(t, 3, mg.CountValid())

	filled := mg.Fill(-32768)
	assert.Equal(t, -32768.0, filled.Get(0, 1))
	assert.Equal(t, 5.0, filled.Get(1, 1))

	require.NoError(t, mg.ToImg("test", filepath.Join(t.TempDir(), "mg.png")))
}

func TestFloatGridSubGrid(t *testing.T) {
	g := NewFloatGrid(5, 4)
	for i := range g.Values() {
		g.Values()[i] = float64(i)
	}
	sub := g.SubGrid(g.Bounds().Inset(1))
	assert.Equal(t, 3, sub.Dx())
	assert.Equal(t, 2, sub.Dy())
	assert.Equal(t, []float64{6, 7, 8, 11, 12, 13}, sub.Values())
	assert.Equal(t, 0, NewFloatGrid(0, 3).Dy())
}
