package linalg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/eskit/internal/random"
)

// fromRows builds a Matrix from row-major literals.
func fromRows(rows [][]float64) *Matrix {
	m := NewMatrix(len(rows), len(rows[0]))
	for i, row := range rows {
		for j, v := range row {
			m.Set(i, j, v)
		}
	}
	return m
}

func TestMatrixLayout(t *testing.T) {
	m := fromRows([][]float64{
		{1, 2, 3},
		{4, 5, 6},
	})

	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, []float64{1, 4, 2, 5, 3, 6}, m.RawData())
	assert.Equal(t, []float64{2, 5}, m.Col(1))

	// Columns alias the storage.
	m.Col(2)[0] = 9
	assert.Equal(t, 9.0, m.At(0, 2))
}

func TestMatrixCopyIsDeep(t *testing.T) {
	m := NewIdentity(3)
	c := m.Clone()
	c.Set(0, 1, 5)

	assert.Equal(t, 0.0, m.At(0, 1))

	d := NewMatrix(3, 3)
	d.Copy(c)
	c.Set(0, 1, 7)
	assert.Equal(t, 5.0, d.At(0, 1))

	assert.PanicsWithValue(t, ErrShape, func() { d.Copy(NewMatrix(2, 3)) })
}

func TestMatrixPrefix(t *testing.T) {
	m := NewMatrix(2, 4)
	p := m.Prefix(2)

	assert.Equal(t, 2, p.Cols())
	p.Set(1, 1, 3)
	assert.Equal(t, 3.0, m.At(1, 1))
	assert.Panics(t, func() { m.Prefix(5) })
}

func TestMatrixMulVec(t *testing.T) {
	m := fromRows([][]float64{
		{1, 2, 3},
		{4, 5, 6},
	})
	dst := make([]float64, 2)
	m.MulVec(dst, []float64{1, 0, -1})

	assert.Equal(t, []float64{-2, -2}, dst)
}

func TestMatrixMul(t *testing.T) {
	a := fromRows([][]float64{
		{1, 2},
		{3, 4},
		{5, 6},
	})
	b := fromRows([][]float64{
		{1, 0, 2},
		{0, 1, 3},
	})
	got := NewMatrix(3, 3)
	got.Mul(a, b)

	var want mat.Dense
	want.Mul(a.Dense(), b.Dense())
	assert.True(t, mat.EqualApprox(&want, got.Dense(), 1e-12))
}

func TestMatrixRankOne(t *testing.T) {
	m := NewMatrix(2, 3)
	m.RankOne(2, []float64{1, 2}, []float64{1, 0, -1})

	want := fromRows([][]float64{
		{2, 0, -2},
		{4, 0, -4},
	})
	assert.Equal(t, want.RawData(), m.RawData())
}

func TestMatrixScaleColumnsAndRows(t *testing.T) {
	src := fromRows([][]float64{
		{1, 1},
		{1, 1},
	})
	m := NewMatrix(2, 2)
	m.ScaleColumns(src, []float64{2, 3})
	assert.Equal(t, []float64{2, 2, 3, 3}, m.RawData())

	m.ScaleRows([]float64{1, 10})
	assert.Equal(t, []float64{2, 20, 3, 30}, m.RawData())
}

func TestMatrixTranspose(t *testing.T) {
	m := fromRows([][]float64{
		{1, 2, 3},
		{4, 5, 6},
		{7, 8, 9},
	})
	m.Transpose()

	want := fromRows([][]float64{
		{1, 4, 7},
		{2, 5, 8},
		{3, 6, 9},
	})
	assert.Equal(t, want.RawData(), m.RawData())
	assert.PanicsWithValue(t, ErrSquare, func() { NewMatrix(2, 3).Transpose() })
}

func TestMatrixDiagonal(t *testing.T) {
	m := NewDiagonal([]float64{1, 2, 3})

	assert.Equal(t, []float64{1, 2, 3}, m.Diagonal(nil))
	assert.True(t, m.IsSymmetric(0))

	m.Set(0, 2, 1e-3)
	assert.False(t, m.IsSymmetric(1e-6))
	assert.True(t, m.IsSymmetric(1e-2))
}

func TestMatrixRandomRotationIsOrthonormal(t *testing.T) {
	for _, n := range []int{1, 2, 5, 20} {
		m := NewMatrix(n, n)
		m.SetRandomRotation(random.New(uint64(n)))

		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				require.InDelta(t, want, floats.Dot(m.Col(i), m.Col(j)), 1e-10, "n=%d i=%d j=%d", n, i, j)
			}
		}
	}
}

func TestCholesky(t *testing.T) {
	a := fromRows([][]float64{
		{4, 2, 0.4},
		{2, 5, 1},
		{0.4, 1, 3},
	})
	l := NewMatrix(3, 3)
	require.True(t, Cholesky(a, l))

	assert.Equal(t, 0.0, l.At(0, 1))
	assert.Equal(t, 0.0, l.At(0, 2))
	assert.Equal(t, 0.0, l.At(1, 2))

	lt := l.Clone()
	lt.Transpose()
	got := NewMatrix(3, 3)
	got.Mul(l, lt)
	assert.True(t, mat.EqualApprox(a.Dense(), got.Dense(), 1e-12))

	notPD := fromRows([][]float64{
		{1, 2},
		{2, 1},
	})
	assert.False(t, Cholesky(notPD, NewMatrix(2, 2)))
}

func BenchmarkMatrixMul(b *testing.B) {
	const n = 32
	s := random.New(1)
	a, c, dst := NewMatrix(n, n), NewMatrix(n, n), NewMatrix(n, n)
	a.FillGaussian(s, 1)
	c.FillGaussian(s, 1)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dst.Mul(a, c)
	}
}
