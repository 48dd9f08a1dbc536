package linalg

import (
	"math"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"
)

// EigenSolver computes the eigen decomposition of a symmetric matrix.
//
// Solve writes orthonormal eigenvectors into the columns of vectors and the
// matching eigenvalues into values so that m = vectors·diag(values)·vectorsᵀ.
// It reports false when the decomposition could not be computed; the content
// of vectors and values is then unspecified. m is left untouched.
type EigenSolver interface {
	Solve(m, vectors *Matrix, values []float64) bool
}

const (
	// qlEpsilon is the relative tolerance on sub-diagonal elements.
	qlEpsilon = 2.22e-16
	// qlMaxIterations bounds the implicit shifts spent on one eigenvalue.
	qlMaxIterations = 30
)

var decompositions atomic.Uint64

// Decompositions returns the number of eigen decompositions attempted by
// every solver in the process.
func Decompositions() uint64 {
	return decompositions.Load()
}

// QLSolver reduces the matrix to tridiagonal form with Householder
// reflections, then diagonalizes it with the implicit-shift QL algorithm.
// It is the JAMA tred2/tql2 pair working on column-major storage.
type QLSolver struct {
	n       int
	scratch []float64
}

// NewQLSolver returns a solver for n×n matrices.
func NewQLSolver(n int) *QLSolver {
	return &QLSolver{n: n, scratch: make([]float64, n)}
}

// Solve implements EigenSolver.
func (s *QLSolver) Solve(m, vectors *Matrix, values []float64) bool {
	decompositions.Add(1)

	if m.rows != s.n || m.cols != s.n || len(values) != s.n {
		panic(ErrShape)
	}
	if !m.IsFinite() {
		return false
	}

	vectors.Copy(m)
	householder(vectors, values, s.scratch)
	if !ql(vectors, values, s.scratch) {
		return false
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// householder overwrites the symmetric v with the orthogonal transform that
// reduces it to tridiagonal form. d receives the diagonal and e[1:] the
// sub-diagonal. v[r][c] in the usual row/column notation is v.Col(c)[r].
func householder(v *Matrix, d, e []float64) {
	n := v.cols

	last := n - 1
	for j := 0; j < n; j++ {
		d[j] = v.Col(j)[last]
	}

	for i := n - 1; i > 0; i-- {
		scale, h := 0.0, 0.0
		for k := 0; k < i; k++ {
			scale += math.Abs(d[k])
		}

		if scale == 0 {
			e[i] = d[i-1]
			for j := 0; j < i; j++ {
				d[j] = v.Col(j)[i-1]
				v.Col(j)[i] = 0
				v.Col(i)[j] = 0
			}
			d[i] = h
			continue
		}

		for k := 0; k < i; k++ {
			d[k] /= scale
			h += d[k] * d[k]
		}
		f := d[i-1]
		g := math.Sqrt(h)
		if f > 0 {
			g = -g
		}
		e[i] = scale * g
		h -= f * g
		d[i-1] = f - g
		for j := 0; j < i; j++ {
			e[j] = 0
		}

		vi := v.Col(i)
		for j := 0; j < i; j++ {
			vj := v.Col(j)
			f = d[j]
			vi[j] = f
			g = e[j] + vj[j]*f
			for k := j + 1; k <= i-1; k++ {
				g += vj[k] * d[k]
				e[k] += vj[k] * f
			}
			e[j] = g
		}

		f = 0
		for j := 0; j < i; j++ {
			e[j] /= h
			f += e[j] * d[j]
		}
		hh := f / (h + h)
		for j := 0; j < i; j++ {
			e[j] -= hh * d[j]
		}
		for j := 0; j < i; j++ {
			vj := v.Col(j)
			f, g = d[j], e[j]
			for k := j; k <= i-1; k++ {
				vj[k] -= f*e[k] + g*d[k]
			}
			d[j] = vj[i-1]
			vj[i] = 0
		}
		d[i] = h
	}

	// Accumulate transformations.
	for i := 0; i < n-1; i++ {
		vi, next := v.Col(i), v.Col(i+1)
		vi[last] = vi[i]
		vi[i] = 1
		h := d[i+1]
		if h != 0 {
			for k := 0; k <= i; k++ {
				d[k] = next[k] / h
			}
			for j := 0; j <= i; j++ {
				vj := v.Col(j)
				g := 0.0
				for k := 0; k <= i; k++ {
					g += next[k] * vj[k]
				}
				for k := 0; k <= i; k++ {
					vj[k] -= g * d[k]
				}
			}
		}
		for k := 0; k <= i; k++ {
			next[k] = 0
		}
	}
	for j := 0; j < n; j++ {
		vj := v.Col(j)
		d[j] = vj[last]
		vj[last] = 0
	}
	v.Col(last)[last] = 1
	e[0] = 0
}

// ql diagonalizes the tridiagonal form left by householder, accumulating the
// rotations into v. On return d holds the eigenvalues, unsorted.
func ql(v *Matrix, d, e []float64) bool {
	n := v.cols

	for i := 1; i < n; i++ {
		e[i-1] = e[i]
	}
	e[n-1] = 0

	f, tst1 := 0.0, 0.0
	for l := 0; l < n; l++ {
		// Find small sub-diagonal element.
		tst1 = math.Max(tst1, math.Abs(d[l])+math.Abs(e[l]))
		m := l
		for m < n-1 && math.Abs(e[m]) > qlEpsilon*tst1 {
			m++
		}

		// d[l] is already an eigenvalue when m == l.
		for iter := 0; m > l; iter++ {
			if iter == qlMaxIterations {
				return false
			}

			// Implicit shift.
			g := d[l]
			p := (d[l+1] - g) / (2 * e[l])
			r := stableHypot(p, 1)
			if p < 0 {
				r = -r
			}
			d[l] = e[l] / (p + r)
			d[l+1] = e[l] * (p + r)
			dl1 := d[l+1]
			h := g - d[l]
			for i := l + 2; i < n; i++ {
				d[i] -= h
			}
			f += h

			// Implicit QL transformation.
			p = d[m]
			c, c2, c3 := 1.0, 1.0, 1.0
			el1 := e[l+1]
			s, s2 := 0.0, 0.0
			for i := m - 1; i >= l; i-- {
				c3 = c2
				c2 = c
				s2 = s
				g = c * e[i]
				h = c * p
				r = stableHypot(p, e[i])
				e[i+1] = s * r
				s = e[i] / r
				c = p / r
				p = c*d[i] - s*g
				d[i+1] = h + s*(c*g+s*d[i])

				vi, next := v.Col(i), v.Col(i+1)
				for k := 0; k < n; k++ {
					h = next[k]
					next[k] = s*vi[k] + c*h
					vi[k] = c*vi[k] - s*h
				}
			}
			p = -s * s2 * c3 * el1 * e[l] / dl1
			e[l] = s * p
			d[l] = c * p

			if !(math.Abs(e[l]) > qlEpsilon*tst1) {
				break
			}
		}
		d[l] += f
		e[l] = 0
	}
	return true
}

// stableHypot returns sqrt(a² + b²) without destructive underflow or overflow.
func stableHypot(a, b float64) float64 {
	switch {
	case math.Abs(a) > math.Abs(b):
		r := b / a
		return math.Abs(a) * math.Sqrt(1+r*r)
	case b != 0:
		r := a / b
		return math.Abs(b) * math.Sqrt(1+r*r)
	default:
		return 0
	}
}

// LAPACKSolver delegates to gonum's symmetric eigen decomposition.
// Eigenvalues come out in ascending order.
type LAPACKSolver struct {
	n    int
	sym  *mat.SymDense
	vecs *mat.Dense
	eig  mat.EigenSym
}

// NewLAPACKSolver returns a gonum backed solver for n×n matrices.
func NewLAPACKSolver(n int) *LAPACKSolver {
	return &LAPACKSolver{
		n:    n,
		sym:  mat.NewSymDense(n, nil),
		vecs: mat.NewDense(n, n, nil),
	}
}

// Solve implements EigenSolver.
func (s *LAPACKSolver) Solve(m, vectors *Matrix, values []float64) bool {
	decompositions.Add(1)

	if m.rows != s.n || m.cols != s.n || len(values) != s.n {
		panic(ErrShape)
	}
	if !m.IsFinite() {
		return false
	}

	for j := 0; j < s.n; j++ {
		col := m.Col(j)
		for i := 0; i <= j; i++ {
			s.sym.SetSym(i, j, col[i])
		}
	}
	if !s.eig.Factorize(s.sym, true) {
		return false
	}

	s.eig.Values(values)
	s.eig.VectorsTo(s.vecs)
	for j := 0; j < s.n; j++ {
		col := vectors.Col(j)
		for i := range col {
			col[i] = s.vecs.At(i, j)
		}
	}
	return true
}
