package linalg

import "gonum.org/v1/gonum/mat"

// Cholesky computes the lower triangular factor l of the symmetric positive
// definite a, so that a = l·lᵀ. The strict upper triangle of l is zeroed.
// It reports false when a is not positive definite.
func Cholesky(a, l *Matrix) bool {
	a.mustSquare()
	a.sameShape(l)

	n := a.rows
	sym := mat.NewSymDense(n, nil)
	for j := 0; j < n; j++ {
		col := a.Col(j)
		for i := 0; i <= j; i++ {
			sym.SetSym(i, j, col[i])
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(sym) {
		return false
	}

	lower := mat.NewTriDense(n, mat.Lower, nil)
	chol.LTo(lower)
	for j := 0; j < n; j++ {
		col := l.Col(j)
		for i := range col {
			col[i] = lower.At(i, j)
		}
	}
	return true
}
