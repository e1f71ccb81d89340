package spectral

import (
	"github.com/mjibson/go-dsp/fft"
)

// FFT provides Fast Fourier Transform functionality over real signals
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute computes the full complex spectrum of a real signal.
// mjibson/go-dsp handles non-power-of-2 sizes (Bluestein), so whole
// stems can be transformed in one call.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}

	return fft.FFTReal(x)
}

// ComputeInverseReal computes the inverse FFT and returns the real part only
func (f *FFT) ComputeInverseReal(x []complex128) []float64 {
	if len(x) == 0 {
		return []float64{}
	}

	result := fft.IFFT(x)
	realResult := make([]float64, len(result))

	for i, val := range result {
		realResult[i] = real(val)
	}

	return realResult
}

// InverseHalfSpectrum rebuilds a length-n real signal from the n/2+1
// non-negative frequency bins by mirroring them with Hermitian symmetry.
func (f *FFT) InverseHalfSpectrum(half []complex128, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}

	full := make([]complex128, n)
	bins := min(len(half), n/2+1)
	copy(full, half[:bins])

	for k := 1; k < bins; k++ {
		mirror := n - k
		if mirror <= k {
			continue
		}
		c := half[k]
		full[mirror] = complex(real(c), -imag(c))
	}

	return f.ComputeInverseReal(full)
}
