package factorization

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// initZeroFloor is the magnitude below which NNDSVD entries count as zero
// before the NNDSVDa average fill.
const initZeroFloor = 1e-6

// svdBasis holds the leading singular triplets of the magnitude matrix,
// shared by every rank trial of one decomposition.
type svdBasis struct {
	u      *mat.Dense // rows x n
	vt     *mat.Dense // n x cols
	values []float64
	mean   float64
}

func newSVDBasis(v *mat.Dense) (*svdBasis, error) {
	var svd mat.SVD
	if ok := svd.Factorize(v, mat.SVDThin); !ok {
		return nil, errors.New("svd factorization failed")
	}

	var u, vMat mat.Dense
	svd.UTo(&u)
	svd.VTo(&vMat)

	vt := mat.DenseCopyOf(vMat.T())

	rows, cols := v.Dims()
	return &svdBasis{
		u:      &u,
		vt:     vt,
		values: svd.Values(nil),
		mean:   mat.Sum(v) / float64(rows*cols),
	}, nil
}

// nndsvda builds the deterministic NNDSVD initialization of the given rank,
// with zeros replaced by the mean of V (the "a" variant). No randomness is
// involved, so identical input always yields identical factors.
func (b *svdBasis) nndsvda(rows, cols, rank int) *Model {
	w := mat.NewDense(rows, rank, nil)
	h := mat.NewDense(rank, cols, nil)

	for j := 0; j < rank && j < len(b.values); j++ {
		x := mat.Col(nil, j, b.u)
		y := mat.Row(nil, j, b.vt)
		s := b.values[j]

		if j == 0 {
			scale := math.Sqrt(s)
			for i, val := range x {
				w.Set(i, 0, scale*math.Abs(val))
			}
			for i, val := range y {
				h.Set(0, i, scale*math.Abs(val))
			}
			continue
		}

		xp, xn := splitSigns(x)
		yp, yn := splitSigns(y)

		xpNorm, ypNorm := floats.Norm(xp, 2), floats.Norm(yp, 2)
		xnNorm, ynNorm := floats.Norm(xn, 2), floats.Norm(yn, 2)

		mp, mn := xpNorm*ypNorm, xnNorm*ynNorm

		u, vv, sigma := xp, yp, mp
		uNorm, vNorm := xpNorm, ypNorm
		if mn > mp {
			u, vv, sigma = xn, yn, mn
			uNorm, vNorm = xnNorm, ynNorm
		}
		if uNorm == 0 || vNorm == 0 {
			continue
		}

		lambda := math.Sqrt(s * sigma)
		for i, val := range u {
			w.Set(i, j, lambda*val/uNorm)
		}
		for i, val := range vv {
			h.Set(j, i, lambda*val/vNorm)
		}
	}

	fillSmall(w, b.mean)
	fillSmall(h, b.mean)

	return &Model{Basis: w, Activation: h, Rank: rank}
}

func splitSigns(x []float64) (pos, neg []float64) {
	pos = make([]float64, len(x))
	neg = make([]float64, len(x))
	for i, val := range x {
		if val > 0 {
			pos[i] = val
		} else {
			neg[i] = -val
		}
	}
	return pos, neg
}

func fillSmall(m *mat.Dense, fill float64) {
	rows, _ := m.Dims()
	for i := range rows {
		row := m.RawRowView(i)
		for j, val := range row {
			if val < initZeroFloor {
				row[j] = fill
			}
		}
	}
}

// extend appends one component to prev, chosen as the best non-negative
// rank-one fit to the positive part of the residual V - WH. The new
// component is scaled by the least-squares step along it, so the starting
// error never exceeds that of prev.
func extend(v *mat.Dense, prev *Model) *Model {
	rows, cols := v.Dims()
	k := prev.Rank

	var residual mat.Dense
	residual.Mul(prev.Basis, prev.Activation)
	residual.Sub(v, &residual)

	positive := mat.DenseCopyOf(&residual)
	positive.Apply(func(_, _ int, val float64) float64 { return math.Max(val, 0) }, positive)

	u, vv := leadingPair(positive, rows, cols)

	// Step size minimizing ||R - a·u vᵀ||: a = uᵀRv / (|u|²|v|²)
	var rv mat.VecDense
	rv.MulVec(&residual, vv)
	numerator := mat.Dot(u, &rv)
	denominator := mat.Dot(u, u) * mat.Dot(vv, vv)

	scale := 0.0
	if denominator > 0 && numerator > 0 {
		scale = math.Sqrt(numerator / denominator)
	}

	w := mat.NewDense(rows, k+1, nil)
	w.Slice(0, rows, 0, k).(*mat.Dense).Copy(prev.Basis)
	h := mat.NewDense(k+1, cols, nil)
	h.Slice(0, k, 0, cols).(*mat.Dense).Copy(prev.Activation)

	for i := range rows {
		w.Set(i, k, scale*u.AtVec(i))
	}
	for i := range cols {
		h.Set(k, i, scale*vv.AtVec(i))
	}

	return &Model{Basis: w, Activation: h, Rank: k + 1}
}

// leadingPair runs power iteration for the dominant singular vectors of a
// non-negative matrix. Starting from a positive vector keeps both results
// non-negative.
func leadingPair(p *mat.Dense, rows, cols int) (u, v *mat.VecDense) {
	const iterations = 30

	v = mat.NewVecDense(cols, nil)
	for i := range cols {
		v.SetVec(i, 1/math.Sqrt(float64(cols)))
	}
	u = mat.NewVecDense(rows, nil)

	for range iterations {
		u.MulVec(p, v)
		if n := mat.Norm(u, 2); n > 0 {
			u.ScaleVec(1/n, u)
		} else {
			break
		}
		v.MulVec(p.T(), u)
		if n := mat.Norm(v, 2); n > 0 {
			v.ScaleVec(1/n, v)
		} else {
			break
		}
	}

	return u, v
}
