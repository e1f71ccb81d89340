package windowing

import (
	"fmt"

	"github.com/mjibson/go-dsp/window"
)

// Hann represents a Hann window function.
//
// The periodic form (symmetric == false) is the one used for STFT analysis and
// overlap-add synthesis: at hop = size/4 its squared coefficients sum to a
// constant, which makes the weighted overlap-add exact.
type Hann struct {
	size         int
	symmetric    bool
	coefficients []float64
}

// NewHann creates a new Hann window
func NewHann(size int, symmetric bool) *Hann {
	h := &Hann{
		size:      size,
		symmetric: symmetric,
	}
	h.generate()
	return h
}

func (h *Hann) generate() {
	switch {
	case h.size <= 0:
		h.coefficients = []float64{}
	case h.size == 1:
		h.coefficients = []float64{1}
	case h.symmetric:
		h.coefficients = window.Hann(h.size)
	default:
		h.coefficients = window.Hann(h.size + 1)[:h.size]
	}
}

// ApplyInPlace applies the window to a signal in-place
func (h *Hann) ApplyInPlace(signal []float64) error {
	if len(signal) != h.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), h.size)
	}

	for i := range h.size {
		signal[i] *= h.coefficients[i]
	}

	return nil
}

// At returns coefficient i without copying.
func (h *Hann) At(i int) float64 {
	return h.coefficients[i]
}

// GetCoefficients returns a copy of the window coefficients
func (h *Hann) GetCoefficients() []float64 {
	coeffs := make([]float64, len(h.coefficients))
	copy(coeffs, h.coefficients)
	return coeffs
}
