package loudness

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/RyanBlaney/sonido-stems/algorithms/filters"
	"github.com/RyanBlaney/sonido-stems/logging"
)

const (
	// K-weighting stage 1: high shelf modelling the head.
	shelfGainDB = 3.99984385397
	shelfQ      = 0.7071752369554196
	shelfFreq   = 1681.974450955533

	// K-weighting stage 2: RLB high pass.
	highPassQ    = 0.5003270373238773
	highPassFreq = 38.13547087602444

	// Gating block duration in seconds and overlap between blocks.
	blockDuration = 0.4
	blockOverlap  = 0.75

	// Gating thresholds.
	absThreshold = -70.0 // LUFS
	relThreshold = -10.0 // LU below the absolute-gated loudness

	// DefaultTarget is the integrated loudness Normalize aims for.
	DefaultTarget = -14.0
)

// Meter measures ITU-R BS.1770 integrated loudness of mono signals.
type Meter struct {
	sampleRate int
}

// NewMeter creates a meter for the given sample rate. The rate must leave
// room for the K-weighting shelf below Nyquist.
func NewMeter(sampleRate int) (*Meter, error) {
	if float64(sampleRate)/2 <= shelfFreq {
		return nil, fmt.Errorf("sample rate too low for K-weighting: %d", sampleRate)
	}
	return &Meter{sampleRate: sampleRate}, nil
}

// kWeighting returns a fresh filter cascade.
func (m *Meter) kWeighting() filters.Cascade {
	shelf, err := filters.NewHighShelf(m.sampleRate, shelfFreq, shelfQ, shelfGainDB)
	if err != nil {
		panic(err) // NewMeter validated the sample rate
	}
	highPass, err := filters.NewHighPass(m.sampleRate, highPassFreq, highPassQ)
	if err != nil {
		panic(err)
	}
	return filters.Cascade{shelf, highPass}
}

// IntegratedLoudness returns the gated loudness of signal in LUFS, or -Inf
// when every block falls below the gates. A signal shorter than one gating
// block is measured as a single block.
func (m *Meter) IntegratedLoudness(signal []float64) float64 {
	if len(signal) == 0 {
		return math.Inf(-1)
	}

	weighted := m.kWeighting().ProcessBuffer(signal)
	blocks := m.blockPowers(weighted)

	// 1. Absolute gating
	var absGated []float64
	for _, z := range blocks {
		if toLUFS(z) >= absThreshold {
			absGated = append(absGated, z)
		}
	}
	if len(absGated) == 0 {
		return math.Inf(-1)
	}

	// 2. Relative gating
	gammaRel := toLUFS(floats.Sum(absGated)/float64(len(absGated))) + relThreshold

	sum := 0.0
	count := 0
	for _, z := range absGated {
		if toLUFS(z) > gammaRel {
			sum += z
			count++
		}
	}
	if count == 0 {
		return math.Inf(-1)
	}

	return toLUFS(sum / float64(count))
}

// blockPowers returns the mean square of every 400 ms gating block.
func (m *Meter) blockPowers(weighted []float64) []float64 {
	fs := float64(m.sampleRate)
	blockSamples := blockDuration * fs

	if float64(len(weighted)) < blockSamples {
		return []float64{floats.Dot(weighted, weighted) / float64(len(weighted))}
	}

	step := 1 - blockOverlap
	duration := float64(len(weighted)) / fs
	numBlocks := int(math.Round((duration-blockDuration)/(blockDuration*step))) + 1

	powers := make([]float64, 0, numBlocks)
	for j := range numBlocks {
		lower := int(blockDuration * (float64(j) * step) * fs)
		upper := min(int(blockDuration*(float64(j)*step+1)*fs), len(weighted))
		if lower >= upper {
			break
		}
		block := weighted[lower:upper]
		powers = append(powers, floats.Dot(block, block)/blockSamples)
	}
	return powers
}

func toLUFS(meanSquare float64) float64 {
	if meanSquare <= 0 {
		return math.Inf(-1)
	}
	return -0.691 + 10.0*math.Log10(meanSquare)
}

// Gain returns the linear factor that moves measured LUFS to target.
func Gain(measured, target float64) float64 {
	return math.Pow(10, (target-measured)/20)
}

// Normalizer scales signals to a target integrated loudness.
type Normalizer struct {
	meter  *Meter
	target float64
	logger logging.Logger
}

// NewNormalizer creates a normalizer for the given sample rate and target.
func NewNormalizer(sampleRate int, target float64, logger logging.Logger) (*Normalizer, error) {
	meter, err := NewMeter(sampleRate)
	if err != nil {
		return nil, err
	}
	return &Normalizer{
		meter:  meter,
		target: target,
		logger: logging.OrGlobal(logger).WithFields(logging.Fields{
			"component": "loudness_normalizer",
		}),
	}, nil
}

// maxPasses bounds the corrections made when scaling moves blocks across
// the absolute gate.
const maxPasses = 4

// Normalize returns a scaled copy of signal whose integrated loudness is
// the target. Silent input (-Inf LUFS) is returned unscaled. The second
// result is the loudness measured before scaling.
func (n *Normalizer) Normalize(signal []float64) ([]float64, float64) {
	out := make([]float64, len(signal))
	copy(out, signal)

	measured := n.meter.IntegratedLoudness(signal)
	if math.IsInf(measured, -1) {
		n.logger.Debug("Signal below gating threshold, skipping normalization")
		return out, measured
	}

	current := measured
	for range maxPasses {
		if math.Abs(current-n.target) < 1e-3 {
			break
		}
		floats.Scale(Gain(current, n.target), out)
		current = n.meter.IntegratedLoudness(out)
		if math.IsInf(current, -1) {
			break
		}
	}

	if peak := floats.Norm(out, math.Inf(1)); peak > 1 {
		n.logger.Warn("Normalized signal exceeds full scale and will clip", logging.Fields{
			"peak":          peak,
			"measured_lufs": measured,
			"target_lufs":   n.target,
		})
	}

	return out, measured
}
