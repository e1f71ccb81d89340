package filters

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Coefficients holds a second-order section normalized so that a0 = 1.
type Coefficients struct {
	B0, B1, B2 float64 // numerator
	A1, A2     float64 // denominator
}

// Biquad is a second-order IIR filter section.
//
// Designs follow Robert Bristow-Johnson's "Cookbook formulae for audio EQ
// biquad filter coefficients"
// Reference: https://webaudio.github.io/Audio-EQ-Cookbook/audio-eq-cookbook.html
type Biquad struct {
	Coefficients

	sampleRate int

	// Direct form II transposed state
	d0, d1 float64
}

// NewBiquad creates a filter from raw coefficients, dividing through by a0.
func NewBiquad(sampleRate int, b0, b1, b2, a0, a1, a2 float64) (*Biquad, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}
	if a0 == 0 {
		return nil, fmt.Errorf("a0 must be non-zero")
	}

	return &Biquad{
		Coefficients: Coefficients{
			B0: b0 / a0,
			B1: b1 / a0,
			B2: b2 / a0,
			A1: a1 / a0,
			A2: a2 / a0,
		},
		sampleRate: sampleRate,
	}, nil
}

// cookbook returns w0 and alpha for a design at cutoff Hz with quality q.
func cookbook(sampleRate int, cutoff, q float64) (cosW0, alpha float64, err error) {
	if sampleRate <= 0 {
		return 0, 0, fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}
	if cutoff <= 0 || cutoff >= float64(sampleRate)/2 {
		return 0, 0, fmt.Errorf("cutoff must be between 0 and Nyquist frequency (%d Hz): %v", sampleRate/2, cutoff)
	}
	if q <= 0 {
		return 0, 0, fmt.Errorf("q must be positive: %v", q)
	}

	w0 := 2.0 * math.Pi * cutoff / float64(sampleRate)
	return math.Cos(w0), math.Sin(w0) / (2.0 * q), nil
}

// NewHighShelf designs a high-shelf filter boosting (or cutting) the band
// above cutoff by gainDB.
func NewHighShelf(sampleRate int, cutoff, q, gainDB float64) (*Biquad, error) {
	cosW0, alpha, err := cookbook(sampleRate, cutoff, q)
	if err != nil {
		return nil, err
	}

	a := math.Pow(10, gainDB/40)
	sqrtA := math.Sqrt(a)

	return NewBiquad(sampleRate,
		a*((a+1)+(a-1)*cosW0+2*sqrtA*alpha),
		-2*a*((a-1)+(a+1)*cosW0),
		a*((a+1)+(a-1)*cosW0-2*sqrtA*alpha),
		(a+1)-(a-1)*cosW0+2*sqrtA*alpha,
		2*((a-1)-(a+1)*cosW0),
		(a+1)-(a-1)*cosW0-2*sqrtA*alpha,
	)
}

// NewHighPass designs a second-order high-pass filter.
func NewHighPass(sampleRate int, cutoff, q float64) (*Biquad, error) {
	cosW0, alpha, err := cookbook(sampleRate, cutoff, q)
	if err != nil {
		return nil, err
	}

	return NewBiquad(sampleRate,
		(1+cosW0)/2,
		-(1 + cosW0),
		(1+cosW0)/2,
		1+alpha,
		-2*cosW0,
		1-alpha,
	)
}

// Process filters a single sample.
//
// The difference equation is:
// y[n] = b0*x[n] + b1*x[n-1] + b2*x[n-2] - a1*y[n-1] - a2*y[n-2]
func (bq *Biquad) Process(input float64) float64 {
	output := bq.B0*input + bq.d0
	bq.d0 = bq.B1*input - bq.A1*output + bq.d1
	bq.d1 = bq.B2*input - bq.A2*output
	return output
}

// ProcessBuffer filters a whole buffer into a new slice.
func (bq *Biquad) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		output[i] = bq.Process(sample)
	}
	return output
}

// Reset clears the filter state.
// Call this when processing discontinuous audio segments.
func (bq *Biquad) Reset() {
	bq.d0, bq.d1 = 0, 0
}

// GetFrequencyResponse returns the magnitude (linear) and phase (radians)
// of the filter at frequency Hz.
func (bq *Biquad) GetFrequencyResponse(frequency float64) (magnitude, phase float64) {
	w := 2.0 * math.Pi * frequency / float64(bq.sampleRate)
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1

	num := complex(bq.B0, 0) + complex(bq.B1, 0)*z1 + complex(bq.B2, 0)*z2
	den := 1 + complex(bq.A1, 0)*z1 + complex(bq.A2, 0)*z2
	h := num / den

	return cmplx.Abs(h), cmplx.Phase(h)
}

// Cascade runs a signal through several sections in series.
type Cascade []*Biquad

// ProcessBuffer filters input through every section in order.
func (c Cascade) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))
	for i, sample := range input {
		for _, section := range c {
			sample = section.Process(sample)
		}
		output[i] = sample
	}
	return output
}

// Reset clears the state of every section.
func (c Cascade) Reset() {
	for _, section := range c {
		section.Reset()
	}
}
