package temporal

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// powerFloor is the smallest power converted to decibels.
const powerFloor = 1e-10

// Envelope provides frame-wise amplitude envelopes
type Envelope struct {
	// Centered frames are zero-padded by frameSize/2 on both sides so that
	// frame t is centered on sample t*hopSize.
	Centered bool
}

// NewEnvelope creates a centered envelope extractor
func NewEnvelope() *Envelope {
	return &Envelope{Centered: true}
}

// frames calls fn for every frame of the (optionally padded) signal and
// returns the frame count.
func (e *Envelope) frames(signal []float64, frameSize, hopSize int, fn func(t int, frame []float64)) int {
	padded := signal
	if e.Centered {
		pad := frameSize / 2
		padded = make([]float64, len(signal)+2*pad)
		copy(padded[pad:], signal)
	}

	if len(padded) < frameSize {
		return 0
	}

	numFrames := (len(padded)-frameSize)/hopSize + 1
	for t := range numFrames {
		start := t * hopSize
		fn(t, padded[start:start+frameSize])
	}
	return numFrames
}

// ComputePower returns the mean square of every frame.
func (e *Envelope) ComputePower(signal []float64, frameSize, hopSize int) []float64 {
	if len(signal) == 0 || frameSize <= 0 || hopSize <= 0 {
		return []float64{}
	}

	var power []float64
	e.frames(signal, frameSize, hopSize, func(_ int, frame []float64) {
		power = append(power, floats.Dot(frame, frame)/float64(frameSize))
	})
	return power
}

// PowerToDB converts power values to decibels relative to their maximum.
// The loudest frame maps to 0 dB.
func PowerToDB(power []float64) []float64 {
	db := make([]float64, len(power))
	if len(power) == 0 {
		return db
	}

	ref := 10 * math.Log10(math.Max(floats.Max(power), powerFloor))
	for i, p := range power {
		db[i] = 10*math.Log10(math.Max(p, powerFloor)) - ref
	}
	return db
}
