package spectral

import (
	"github.com/RyanBlaney/sonido-stems/logging"
)

const (
	// DefaultLowCutoffHz separates the low band from the mid band.
	DefaultLowCutoffHz = 160.0
	// DefaultHighCutoffHz separates the mid band from the high band.
	DefaultHighCutoffHz = 6000.0
)

// BandMasks holds the boolean masks over the n/2+1 non-negative frequency
// bins of a length-n real FFT. Exactly one mask is true for every bin.
type BandMasks struct {
	Low  []bool
	Mid  []bool
	High []bool
}

// NewBandMasks builds the low/mid/high partition for a length-n signal.
// Bin k has frequency k*sampleRate/n; low is f < lowCutoffHz, high is
// f > highCutoffHz and mid is everything else.
func NewBandMasks(n, sampleRate int, lowCutoffHz, highCutoffHz float64) BandMasks {
	if n <= 0 {
		return BandMasks{Low: []bool{}, Mid: []bool{}, High: []bool{}}
	}

	bins := n/2 + 1
	masks := BandMasks{
		Low:  make([]bool, bins),
		Mid:  make([]bool, bins),
		High: make([]bool, bins),
	}

	for k := range bins {
		freq := float64(k) * float64(sampleRate) / float64(n)
		switch {
		case freq < lowCutoffHz:
			masks.Low[k] = true
		case freq > highCutoffHz:
			masks.High[k] = true
		default:
			masks.Mid[k] = true
		}
	}

	return masks
}

// BandSplitter partitions a signal into three frequency bands with an ideal
// (brick-wall) full-signal FFT mask.
type BandSplitter struct {
	fft          *FFT
	LowCutoffHz  float64
	HighCutoffHz float64
}

// NewBandSplitter creates a splitter with the given cutoffs.
func NewBandSplitter(lowCutoffHz, highCutoffHz float64) *BandSplitter {
	return &BandSplitter{
		fft:          NewFFT(),
		LowCutoffHz:  lowCutoffHz,
		HighCutoffHz: highCutoffHz,
	}
}

// Split returns the low, mid and high band signals. Each output has the
// input length, and low+mid+high reconstructs the input up to rounding.
func (b *BandSplitter) Split(signal []float64, sampleRate int) (low, mid, high []float64) {
	n := len(signal)
	if n == 0 {
		return []float64{}, []float64{}, []float64{}
	}

	logger := logging.WithFields(logging.Fields{
		"component": "band_splitter",
		"function":  "Split",
	})

	spectrum := b.fft.Compute(signal)
	masks := NewBandMasks(n, sampleRate, b.LowCutoffHz, b.HighCutoffHz)

	apply := func(mask []bool) []float64 {
		half := make([]complex128, len(mask))
		for k, keep := range mask {
			if keep {
				half[k] = spectrum[k]
			}
		}
		return b.fft.InverseHalfSpectrum(half, n)
	}

	low = apply(masks.Low)
	mid = apply(masks.Mid)
	high = apply(masks.High)

	logger.Debug("Band split complete", logging.Fields{
		"samples":        n,
		"low_cutoff_hz":  b.LowCutoffHz,
		"high_cutoff_hz": b.HighCutoffHz,
	})

	return low, mid, high
}

// SplitBands is a convenience wrapper around NewBandSplitter(...).Split.
func SplitBands(signal []float64, sampleRate int, lowCutoffHz, highCutoffHz float64) (low, mid, high []float64) {
	return NewBandSplitter(lowCutoffHz, highCutoffHz).Split(signal, sampleRate)
}
