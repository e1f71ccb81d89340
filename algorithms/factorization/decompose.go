package factorization

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/sonido-stems/algorithms/spectral"
	"github.com/RyanBlaney/sonido-stems/logging"
)

const (
	// DefaultMaxIterations is the multiplicative-update budget per rank.
	DefaultMaxIterations = 400

	// DefaultElbowThreshold is the relative error improvement below which
	// adding a component is considered not worth it.
	DefaultElbowThreshold = 0.05

	// maskEpsilon keeps the soft-mask denominator positive.
	maskEpsilon = 1e-9

	// minPreviousError guards the relative improvement against zero error.
	minPreviousError = 1e-6
)

// Options configures a Factorizer.
type Options struct {
	FFTSize        int     `json:"fft_size"`
	HopSize        int     `json:"hop_size"`
	MaxIterations  int     `json:"max_iterations"`
	ElbowThreshold float64 `json:"elbow_threshold"`
	Workers        int     `json:"workers"` // concurrent rank trials, 0 = NumCPU
}

// DefaultOptions returns the standard factorization settings.
func DefaultOptions() Options {
	return Options{
		FFTSize:        spectral.DefaultFFTSize,
		HopSize:        spectral.DefaultHopSize,
		MaxIterations:  DefaultMaxIterations,
		ElbowThreshold: DefaultElbowThreshold,
	}
}

// Decomposition is the result of splitting one signal into components.
type Decomposition struct {
	Components [][]float64 `json:"-"`
	Rank       int         `json:"rank"`
	ErrorCurve []float64   `json:"error_curve"`
}

// Factorizer splits a signal into an automatically chosen number of
// non-negative spectral components.
type Factorizer struct {
	opts   Options
	stft   *spectral.STFT
	logger logging.Logger
}

// NewFactorizer validates opts and creates a Factorizer.
func NewFactorizer(opts Options, logger logging.Logger) (*Factorizer, error) {
	if opts.MaxIterations <= 0 {
		return nil, fmt.Errorf("max iterations must be positive: %d", opts.MaxIterations)
	}
	if opts.ElbowThreshold <= 0 || opts.ElbowThreshold >= 1 {
		return nil, fmt.Errorf("elbow threshold must be in (0, 1): %v", opts.ElbowThreshold)
	}

	stft, err := spectral.NewSTFT(opts.FFTSize, opts.HopSize)
	if err != nil {
		return nil, fmt.Errorf("invalid transform settings: %w", err)
	}

	return &Factorizer{
		opts: opts,
		stft: stft,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "factorizer",
		}),
	}, nil
}

// Decompose runs NewFactorizer(DefaultOptions(), nil).Decompose.
func Decompose(ctx context.Context, signal []float64, maxRank int) (*Decomposition, error) {
	f, err := NewFactorizer(DefaultOptions(), nil)
	if err != nil {
		return nil, err
	}
	return f.Decompose(ctx, signal, maxRank)
}

// Decompose factorizes the magnitude spectrogram of signal for every rank in
// [1, maxRank], picks a rank with SelectRank and returns one time-domain
// component per chosen rank index, each the length of signal.
// maxRank below 1 is treated as 1.
func (f *Factorizer) Decompose(ctx context.Context, signal []float64, maxRank int) (*Decomposition, error) {
	maxRank = max(maxRank, 1)

	frame := f.stft.Analyze(signal)
	if frame.Empty() {
		return &Decomposition{
			Components: [][]float64{make([]float64, len(signal))},
			Rank:       1,
			ErrorCurve: make([]float64, maxRank),
		}, nil
	}

	v := toDense(frame.Magnitude)

	models, curve, err := f.fitRanks(ctx, v, maxRank)
	if err != nil {
		return nil, err
	}

	rank := SelectRank(curve, f.opts.ElbowThreshold)
	chosen := models[rank-1]

	f.logger.Debug("Rank selected", logging.Fields{
		"max_rank":    maxRank,
		"rank":        rank,
		"error_curve": curve,
	})

	components, err := f.synthesizeComponents(ctx, frame, chosen)
	if err != nil {
		return nil, err
	}

	return &Decomposition{
		Components: components,
		Rank:       rank,
		ErrorCurve: curve,
	}, nil
}

// fitRanks fits every candidate rank and returns the accepted model per rank
// with its error curve. Cold starts run concurrently; a rank whose cold fit
// is worse than the accepted rank below it is refit from that solution, so
// the curve is non-increasing.
func (f *Factorizer) fitRanks(ctx context.Context, v *mat.Dense, maxRank int) ([]*Model, []float64, error) {
	rows, cols := v.Dims()

	basis, err := newSVDBasis(v)
	if err != nil {
		return nil, nil, err
	}

	cold := make([]*Model, maxRank)
	errs := make([]error, maxRank)

	workers := f.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = max(1, min(workers, maxRank))

	jobs := make(chan int, maxRank)
	var wg sync.WaitGroup

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rank := range jobs {
				init := basis.nndsvda(rows, cols, rank)
				cold[rank-1], errs[rank-1] = Fit(ctx, v, init, f.opts.MaxIterations)
			}
		}()
	}

	for rank := 1; rank <= maxRank; rank++ {
		jobs <- rank
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	accepted := make([]*Model, maxRank)
	curve := make([]float64, maxRank)

	accepted[0] = cold[0]
	curve[0] = cold[0].Error

	for i := 1; i < maxRank; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		model := cold[i]
		if model.Error > accepted[i-1].Error {
			warm, err := Fit(ctx, v, extend(v, accepted[i-1]), f.opts.MaxIterations)
			if err != nil {
				return nil, nil, err
			}

			f.logger.Debug("Cold start regressed, refit from lower rank", logging.Fields{
				"rank":       i + 1,
				"cold_error": model.Error,
				"warm_error": warm.Error,
			})

			if warm.Error < model.Error {
				model = warm
			}
		}

		accepted[i] = model
		// Rounding in the last iterations can leave a difference far below
		// the elbow threshold; the curve keeps the best error reached so far
		curve[i] = math.Min(model.Error, curve[i-1])
	}

	return accepted, curve, nil
}

// SelectRank scans k = 2..len(curve) and returns the first k whose relative
// improvement (e[k-1]-e[k])/e[k-1] falls below threshold. Without such an
// elbow it returns len(curve). An empty or single-entry curve yields 1.
//
// The returned k is the rank at which the drop first falls short, not the
// rank before it: a curve [1, 0.5, 0.49] selects 3.
func SelectRank(curve []float64, threshold float64) int {
	if len(curve) <= 1 {
		return 1
	}

	for k := 2; k <= len(curve); k++ {
		prev, cur := curve[k-2], curve[k-1]
		drop := (prev - cur) / math.Max(prev, minPreviousError)
		if drop < threshold {
			return k
		}
	}

	return len(curve)
}

func (f *Factorizer) synthesizeComponents(ctx context.Context, frame *spectral.SpectralFrame, model *Model) ([][]float64, error) {
	var total mat.Dense
	total.Mul(model.Basis, model.Activation)

	components := make([][]float64, model.Rank)
	for i := range model.Rank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		mask := softMask(model, &total, i)
		for k, row := range mask {
			for t := range row {
				row[t] *= frame.Magnitude[k][t]
			}
		}

		signal, err := f.stft.Synthesize(mask, frame.Phase, frame.Length)
		if err != nil {
			return nil, fmt.Errorf("component %d synthesis failed: %w", i, err)
		}
		components[i] = signal
	}

	return components, nil
}

// SoftMasks returns, for every component i, the mask
// (W_i·H_i + eps/k) / (Σ_j W_j·H_j + eps). The masks sum to exactly one in
// every cell, including cells where the model predicts no energy.
func SoftMasks(model *Model) [][][]float64 {
	var total mat.Dense
	total.Mul(model.Basis, model.Activation)

	masks := make([][][]float64, model.Rank)
	for i := range model.Rank {
		masks[i] = softMask(model, &total, i)
	}
	return masks
}

func softMask(model *Model, total *mat.Dense, i int) [][]float64 {
	rows, cols := total.Dims()
	share := maskEpsilon / float64(model.Rank)

	mask := make([][]float64, rows)
	for r := range rows {
		w := model.Basis.At(r, i)
		totalRow := total.RawRowView(r)
		row := make([]float64, cols)
		for c := range cols {
			row[c] = (w*model.Activation.At(i, c) + share) / (totalRow[c] + maskEpsilon)
		}
		mask[r] = row
	}
	return mask
}

func toDense(rows [][]float64) *mat.Dense {
	if len(rows) == 0 {
		return mat.NewDense(0, 0, nil)
	}
	cols := len(rows[0])
	data := make([]float64, 0, len(rows)*cols)
	for _, row := range rows {
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), cols, data)
}
