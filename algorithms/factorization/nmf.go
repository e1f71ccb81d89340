package factorization

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	// updateEpsilon keeps the multiplicative update denominators positive.
	updateEpsilon = 1e-10

	// cancelCheckInterval is how many iterations run between context checks.
	cancelCheckInterval = 50

	// errorBlockRows bounds the temporary used to measure ||V - WH||.
	errorBlockRows = 64
)

// Model is one non-negative factorization V ≈ Basis·Activation.
type Model struct {
	Basis      *mat.Dense // frequency x rank
	Activation *mat.Dense // rank x time
	Rank       int
	Error      float64 // ||V - WH||_F / sqrt(V.size)
}

// Fit refines init with Lee-Seung multiplicative updates for the Euclidean
// cost. Each update is non-increasing in ||V - WH||, so the result is never
// worse than the initialization. init is not modified.
func Fit(ctx context.Context, v *mat.Dense, init *Model, iterations int) (*Model, error) {
	rows, cols := v.Dims()
	wr, k := init.Basis.Dims()
	hk, hc := init.Activation.Dims()
	if wr != rows || hc != cols || hk != k {
		return nil, fmt.Errorf("factor shapes %dx%d · %dx%d do not match %dx%d", wr, k, hk, hc, rows, cols)
	}

	w := mat.DenseCopyOf(init.Basis)
	h := mat.DenseCopyOf(init.Activation)

	var wtv, wtw, wtwh, vht, hht, whht mat.Dense

	for iter := range iterations {
		if iter%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		// H <- H * (WᵀV) / (WᵀWH)
		wtv.Mul(w.T(), v)
		wtw.Mul(w.T(), w)
		wtwh.Mul(&wtw, h)
		multiplicativeStep(h, &wtv, &wtwh)

		// W <- W * (VHᵀ) / (WHHᵀ)
		vht.Mul(v, h.T())
		hht.Mul(h, h.T())
		whht.Mul(w, &hht)
		multiplicativeStep(w, &vht, &whht)
	}

	return &Model{
		Basis:      w,
		Activation: h,
		Rank:       k,
		Error:      ReconstructionError(v, w, h),
	}, nil
}

// multiplicativeStep sets dst = dst * num / (den + eps) element-wise.
func multiplicativeStep(dst, num, den *mat.Dense) {
	rows, _ := dst.Dims()
	for i := range rows {
		d := dst.RawRowView(i)
		n := num.RawRowView(i)
		q := den.RawRowView(i)
		for j := range d {
			d[j] *= n[j] / (q[j] + updateEpsilon)
		}
	}
}

// ReconstructionError returns ||V - WH||_F / sqrt(rows*cols), computed in
// row blocks so the full product is never materialized.
func ReconstructionError(v, w, h *mat.Dense) float64 {
	rows, cols := v.Dims()
	if rows == 0 || cols == 0 {
		return 0
	}
	_, k := w.Dims()

	sumSquares := 0.0
	for start := 0; start < rows; start += errorBlockRows {
		end := min(start+errorBlockRows, rows)

		var block mat.Dense
		block.Mul(w.Slice(start, end, 0, k), h)
		block.Sub(v.Slice(start, end, 0, cols), &block)

		norm := mat.Norm(&block, 2)
		sumSquares += norm * norm
	}

	return math.Sqrt(sumSquares) / math.Sqrt(float64(rows*cols))
}
