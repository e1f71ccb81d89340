package factorization

import (
	"context"
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

func tone(n, sampleRate int, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

// alternatingTones plays freqA in the first half and freqB in the second.
func alternatingTones(n, sampleRate int, freqA, freqB float64) []float64 {
	a := tone(n, sampleRate, freqA, 0.5)
	b := tone(n, sampleRate, freqB, 0.5)
	out := make([]float64, n)
	copy(out[:n/2], a[:n/2])
	copy(out[n/2:], b[n/2:])
	return out
}

func testFactorizer(t *testing.T) *Factorizer {
	t.Helper()
	opts := DefaultOptions()
	opts.FFTSize = 512
	opts.HopSize = 128
	opts.MaxIterations = 150
	f, err := NewFactorizer(opts, nil)
	if err != nil {
		t.Fatalf("NewFactorizer: %v", err)
	}
	return f
}

func TestSelectRank(t *testing.T) {
	tests := []struct {
		name  string
		curve []float64
		want  int
	}{
		{"empty", nil, 1},
		{"single", []float64{1}, 1},
		{"flat from start", []float64{1, 0.99, 0.5}, 2},
		{"elbow at three", []float64{1, 0.5, 0.49, 0.2}, 3},
		{"always improving", []float64{1, 0.5, 0.25, 0.1}, 4},
		{"zero error", []float64{0, 0, 0}, 2},
		{"exactly at threshold keeps going", []float64{1, 0.95, 0.5, 0.499}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectRank(tt.curve, DefaultElbowThreshold); got != tt.want {
				t.Errorf("SelectRank(%v) = %d, want %d", tt.curve, got, tt.want)
			}
		})
	}
}

func TestSoftMasksSumToOne(t *testing.T) {
	w := mat.NewDense(3, 2, []float64{
		1, 0,
		0, 0,
		2, 3,
	})
	h := mat.NewDense(2, 2, []float64{
		1, 0,
		0.5, 0,
	})
	masks := SoftMasks(&Model{Basis: w, Activation: h, Rank: 2})

	if len(masks) != 2 {
		t.Fatalf("len(masks) = %d, want 2", len(masks))
	}
	for r := range 3 {
		for c := range 2 {
			sum := masks[0][r][c] + masks[1][r][c]
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("cell (%d,%d) sums to %g", r, c, sum)
			}
		}
	}

	// Silent cells split evenly
	if math.Abs(masks[0][1][1]-0.5) > 1e-12 {
		t.Errorf("silent cell mask = %g, want 0.5", masks[0][1][1])
	}
}

func TestDecomposeInvariants(t *testing.T) {
	f := testFactorizer(t)
	signal := alternatingTones(16000, 16000, 440, 1500)

	for _, maxRank := range []int{1, 3, 5} {
		got, err := f.Decompose(context.Background(), signal, maxRank)
		if err != nil {
			t.Fatalf("Decompose(%d): %v", maxRank, err)
		}

		if got.Rank < 1 || got.Rank > maxRank {
			t.Errorf("maxRank %d: Rank = %d", maxRank, got.Rank)
		}
		if len(got.Components) != got.Rank {
			t.Errorf("maxRank %d: %d components for rank %d", maxRank, len(got.Components), got.Rank)
		}
		if len(got.ErrorCurve) != maxRank {
			t.Errorf("maxRank %d: curve length %d", maxRank, len(got.ErrorCurve))
		}
		for i := 1; i < len(got.ErrorCurve); i++ {
			if got.ErrorCurve[i] > got.ErrorCurve[i-1] {
				t.Errorf("maxRank %d: curve rises at %d: %v", maxRank, i, got.ErrorCurve)
			}
		}
		for i, c := range got.Components {
			if len(c) != len(signal) {
				t.Errorf("component %d length %d, want %d", i, len(c), len(signal))
			}
		}
	}
}

func TestDecomposeComponentsSumToInput(t *testing.T) {
	f := testFactorizer(t)
	signal := alternatingTones(12000, 16000, 300, 2000)

	got, err := f.Decompose(context.Background(), signal, 4)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	sum := make([]float64, len(signal))
	for _, c := range got.Components {
		floats.Add(sum, c)
	}

	if e := floats.Distance(sum, signal, 2) / floats.Norm(signal, 2); e > 1e-6 {
		t.Errorf("relative error of component sum = %g", e)
	}
}

func TestDecomposeTwoTonesFindsMultipleComponents(t *testing.T) {
	f := testFactorizer(t)
	got, err := f.Decompose(context.Background(), alternatingTones(16000, 16000, 440, 1500), 6)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if got.Rank < 2 {
		t.Errorf("Rank = %d, want at least 2 for two alternating tones (curve %v)", got.Rank, got.ErrorCurve)
	}
}

func TestDecomposeClampsMaxRank(t *testing.T) {
	f := testFactorizer(t)
	for _, maxRank := range []int{0, -3} {
		got, err := f.Decompose(context.Background(), tone(4000, 16000, 440, 0.5), maxRank)
		if err != nil {
			t.Fatalf("Decompose(%d): %v", maxRank, err)
		}
		if got.Rank != 1 || len(got.ErrorCurve) != 1 {
			t.Errorf("maxRank %d: Rank = %d, curve %v", maxRank, got.Rank, got.ErrorCurve)
		}
	}
}

func TestDecomposeEmptySignal(t *testing.T) {
	got, err := testFactorizer(t).Decompose(context.Background(), nil, 3)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	if got.Rank != 1 || len(got.Components) != 1 || len(got.Components[0]) != 0 {
		t.Errorf("unexpected result for empty signal: %+v", got)
	}
	if len(got.ErrorCurve) != 3 {
		t.Errorf("curve length = %d, want 3", len(got.ErrorCurve))
	}
}

func TestDecomposeIsDeterministic(t *testing.T) {
	f := testFactorizer(t)
	signal := alternatingTones(8000, 16000, 500, 1200)

	a, err := f.Decompose(context.Background(), signal, 4)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	b, err := f.Decompose(context.Background(), signal, 4)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}

	if a.Rank != b.Rank || !floats.Equal(a.ErrorCurve, b.ErrorCurve) {
		t.Fatalf("runs differ: rank %d vs %d", a.Rank, b.Rank)
	}
	for i := range a.Components {
		if !floats.Equal(a.Components[i], b.Components[i]) {
			t.Errorf("component %d differs between runs", i)
		}
	}
}

func TestDecomposeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := testFactorizer(t).Decompose(ctx, tone(8000, 16000, 440, 0.5), 3)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewFactorizerValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero iterations", func(o *Options) { o.MaxIterations = 0 }},
		{"zero threshold", func(o *Options) { o.ElbowThreshold = 0 }},
		{"threshold of one", func(o *Options) { o.ElbowThreshold = 1 }},
		{"odd fft size", func(o *Options) { o.FFTSize = 1023 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.modify(&opts)
			if _, err := NewFactorizer(opts, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}
