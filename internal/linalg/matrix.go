// Package linalg provides the dense column-major matrix used by the
// evolution strategies and the symmetric eigen solvers built on it.
//
// Elementwise work is delegated to gonum's floats package and products to
// blas64. A column-major Matrix with r rows and c columns has the same memory
// layout as a row-major c×r matrix, so every BLAS call operates on that
// transposed view.
package linalg

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/eskit/internal/random"
)

var (
	// ErrShape is the panic value for operands of incompatible dimensions.
	ErrShape = errors.New("linalg: dimension mismatch")
	// ErrSquare is the panic value for operations that need a square matrix.
	ErrSquare = errors.New("linalg: expect square matrix")
)

// Matrix is a dense matrix stored column by column in one flat buffer.
// Its dimensions are fixed for its lifetime. Copy and Clone are deep copies;
// Col and Prefix are the only operations returning storage that aliases m.
type Matrix struct {
	rows, cols int
	data       []float64
}

// NewMatrix returns a zeroed rows×cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	if rows < 0 || cols < 0 {
		panic(ErrShape)
	}
	return &Matrix{rows: rows, cols: cols, data: make([]float64, rows*cols)}
}

// NewIdentity returns the n×n identity.
func NewIdentity(n int) *Matrix {
	m := NewMatrix(n, n)
	m.SetIdentity()
	return m
}

// NewDiagonal returns the square matrix diag(d).
func NewDiagonal(d []float64) *Matrix {
	m := NewMatrix(len(d), len(d))
	for i, v := range d {
		m.data[i*m.rows+i] = v
	}
	return m
}

// Dims returns the number of rows and columns.
func (m *Matrix) Dims() (rows, cols int) { return m.rows, m.cols }

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// At returns the element at row, col.
func (m *Matrix) At(row, col int) float64 {
	return m.data[col*m.rows+row]
}

// Set stores v at row, col.
func (m *Matrix) Set(row, col int, v float64) {
	m.data[col*m.rows+row] = v
}

// Col returns column j. The slice aliases the matrix storage.
func (m *Matrix) Col(j int) []float64 {
	off := j * m.rows
	return m.data[off : off+m.rows : off+m.rows]
}

// RawData returns the column-major backing buffer.
func (m *Matrix) RawData() []float64 { return m.data }

// Prefix returns a matrix sharing storage with the first cols columns of m.
func (m *Matrix) Prefix(cols int) *Matrix {
	if cols < 0 || cols > m.cols {
		panic(ErrShape)
	}
	n := m.rows * cols
	return &Matrix{rows: m.rows, cols: cols, data: m.data[:n:n]}
}

// Copy overwrites m with the contents of src.
func (m *Matrix) Copy(src *Matrix) {
	m.sameShape(src)
	copy(m.data, src.data)
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	c := NewMatrix(m.rows, m.cols)
	copy(c.data, m.data)
	return c
}

// Fill sets every element to v.
func (m *Matrix) Fill(v float64) {
	for i := range m.data {
		m.data[i] = v
	}
}

// SetIdentity overwrites a square m with the identity.
func (m *Matrix) SetIdentity() {
	m.mustSquare()
	m.Fill(0)
	for i := 0; i < m.rows; i++ {
		m.data[i*m.rows+i] = 1
	}
}

// Scale multiplies every element by alpha.
func (m *Matrix) Scale(alpha float64) {
	floats.Scale(alpha, m.data)
}

// AddScaled performs m += alpha * src.
func (m *Matrix) AddScaled(alpha float64, src *Matrix) {
	m.sameShape(src)
	floats.AddScaled(m.data, alpha, src.data)
}

// RankOne performs m += alpha * x * yᵀ.
func (m *Matrix) RankOne(alpha float64, x, y []float64) {
	if len(x) != m.rows || len(y) != m.cols {
		panic(ErrShape)
	}
	blas64.Ger(alpha, vector(y), vector(x), m.general())
}

// MulVec stores m·u into dst. dst must not alias u.
func (m *Matrix) MulVec(dst, u []float64) {
	if len(u) != m.cols || len(dst) != m.rows {
		panic(ErrShape)
	}
	blas64.Gemv(blas.Trans, 1, m.general(), vector(u), 0, vector(dst))
}

// Mul stores a·b into m. m must not alias a or b.
func (m *Matrix) Mul(a, b *Matrix) {
	if a.cols != b.rows || m.rows != a.rows || m.cols != b.cols {
		panic(ErrShape)
	}
	if m.rows == 0 || m.cols == 0 {
		return
	}
	blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, b.general(), a.general(), 0, m.general())
}

// ScaleColumns stores src·diag(d) into m: column j of src scaled by d[j].
func (m *Matrix) ScaleColumns(src *Matrix, d []float64) {
	m.sameShape(src)
	if len(d) != m.cols {
		panic(ErrShape)
	}
	for j, v := range d {
		floats.ScaleTo(m.Col(j), v, src.Col(j))
	}
}

// ScaleRows performs m = diag(d)·m: row i scaled by d[i].
func (m *Matrix) ScaleRows(d []float64) {
	if len(d) != m.rows {
		panic(ErrShape)
	}
	for j := 0; j < m.cols; j++ {
		floats.Mul(m.Col(j), d)
	}
}

// Transpose transposes a square m in place by swapping elements.
func (m *Matrix) Transpose() {
	m.mustSquare()
	for j := 1; j < m.cols; j++ {
		for i := 0; i < j; i++ {
			a, b := j*m.rows+i, i*m.rows+j
			m.data[a], m.data[b] = m.data[b], m.data[a]
		}
	}
}

// Diagonal copies the diagonal of a square m into dst, allocating when dst
// is nil, and returns it.
func (m *Matrix) Diagonal(dst []float64) []float64 {
	m.mustSquare()
	if dst == nil {
		dst = make([]float64, m.rows)
	}
	if len(dst) != m.rows {
		panic(ErrShape)
	}
	for i := range dst {
		dst[i] = m.data[i*m.rows+i]
	}
	return dst
}

// IsSymmetric reports whether |m[i][j] - m[j][i]| <= tol for all i, j.
func (m *Matrix) IsSymmetric(tol float64) bool {
	if m.rows != m.cols {
		return false
	}
	for j := 1; j < m.cols; j++ {
		for i := 0; i < j; i++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// IsFinite reports whether no element is NaN or infinite.
func (m *Matrix) IsFinite() bool {
	for _, v := range m.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// FillGaussian overwrites m with normal deviates, column after column.
func (m *Matrix) FillGaussian(s *random.Stream, sigma float64) {
	s.FillGaussian(m.data, sigma)
}

// SetRandomRotation overwrites a square m with a random orthonormal basis
// obtained by Gram-Schmidt orthonormalization of Gaussian columns.
func (m *Matrix) SetRandomRotation(s *random.Stream) {
	m.mustSquare()
	m.FillGaussian(s, 1)
	for i := 0; i < m.cols; i++ {
		ci := m.Col(i)
		for j := 0; j < i; j++ {
			cj := m.Col(j)
			floats.AddScaled(ci, -floats.Dot(ci, cj), cj)
		}
		floats.Scale(1/floats.Norm(ci, 2), ci)
	}
}

// Dense returns a row-major gonum copy of m.
func (m *Matrix) Dense() *mat.Dense {
	d := mat.NewDense(m.rows, m.cols, nil)
	for j := 0; j < m.cols; j++ {
		for i, v := range m.Col(j) {
			d.Set(i, j, v)
		}
	}
	return d
}

// general views the column-major buffer as the row-major transpose.
func (m *Matrix) general() blas64.General {
	return blas64.General{Rows: m.cols, Cols: m.rows, Stride: max(1, m.rows), Data: m.data}
}

func vector(s []float64) blas64.Vector {
	return blas64.Vector{N: len(s), Data: s, Inc: 1}
}

func (m *Matrix) sameShape(o *Matrix) {
	if m.rows != o.rows || m.cols != o.cols {
		panic(ErrShape)
	}
}

func (m *Matrix) mustSquare() {
	if m.rows != m.cols {
		panic(ErrSquare)
	}
}
