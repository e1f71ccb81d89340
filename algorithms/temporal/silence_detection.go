package temporal

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

const (
	// DefaultTopDB is the threshold below the peak treated as silence.
	DefaultTopDB = 40.0
	// DefaultFrameSize is the analysis frame of the silence detector.
	DefaultFrameSize = 2048
	// DefaultHopSize is the frame advance of the silence detector.
	DefaultHopSize = 512
)

// Interval is a half-open sample range [Start, End).
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of samples in the interval.
func (iv Interval) Len() int { return iv.End - iv.Start }

// SilenceDetection finds the non-silent regions of a signal
type SilenceDetection struct {
	envelopeExtractor *Envelope
	TopDB             float64
	FrameSize         int
	HopSize           int
}

// NewSilenceDetection creates a detector with the given threshold in dB
// below the loudest frame.
func NewSilenceDetection(topDB float64, frameSize, hopSize int) *SilenceDetection {
	return &SilenceDetection{
		envelopeExtractor: NewEnvelope(),
		TopDB:             topDB,
		FrameSize:         frameSize,
		HopSize:           hopSize,
	}
}

// NonSilentIntervals returns the regions whose frame power is within TopDB
// of the loudest frame. Interval edges fall on hop boundaries, clipped to
// the signal length.
func (sd *SilenceDetection) NonSilentIntervals(signal []float64) []Interval {
	if len(signal) == 0 || sd.FrameSize <= 0 || sd.HopSize <= 0 {
		return nil
	}

	power := sd.envelopeExtractor.ComputePower(signal, sd.FrameSize, sd.HopSize)
	db := PowerToDB(power)

	var intervals []Interval
	start := -1

	for t, level := range db {
		loud := level > -sd.TopDB
		if loud && start == -1 {
			start = t
		} else if !loud && start != -1 {
			intervals = append(intervals, sd.toSamples(start, t, len(signal)))
			start = -1
		}
	}

	// Handle region that extends to the end
	if start != -1 {
		intervals = append(intervals, sd.toSamples(start, len(db), len(signal)))
	}

	return intervals
}

func (sd *SilenceDetection) toSamples(startFrame, endFrame, length int) Interval {
	return Interval{
		Start: min(startFrame*sd.HopSize, length),
		End:   min(endFrame*sd.HopSize, length),
	}
}

// Bounds returns the range from the first to the last non-silent sample.
// The frame-level region is refined to the first and last samples whose
// magnitude reaches TopDB below the peak. ok is false when the signal has
// no non-silent region.
func (sd *SilenceDetection) Bounds(signal []float64) (iv Interval, ok bool) {
	if len(signal) == 0 {
		return Interval{}, false
	}

	peak := floats.Norm(signal, math.Inf(1))
	if peak == 0 {
		return Interval{}, false
	}

	intervals := sd.NonSilentIntervals(signal)
	if len(intervals) == 0 {
		return Interval{}, false
	}

	iv = Interval{Start: intervals[0].Start, End: intervals[len(intervals)-1].End}
	if iv.Len() <= 0 {
		return Interval{}, false
	}

	threshold := peak * math.Pow(10, -sd.TopDB/20)

	first := slices.IndexFunc(signal[iv.Start:iv.End], func(x float64) bool {
		return math.Abs(x) >= threshold
	})
	if first == -1 {
		return iv, true
	}

	last := iv.End - 1
	for last > iv.Start+first && math.Abs(signal[last]) < threshold {
		last--
	}

	return Interval{Start: iv.Start + first, End: last + 1}, true
}

// Trim returns a copy of signal from its first to its last non-silent
// sample. A signal with no non-silent region is returned unmodified.
func (sd *SilenceDetection) Trim(signal []float64) []float64 {
	iv, ok := sd.Bounds(signal)
	if !ok {
		return slices.Clone(signal)
	}
	return slices.Clone(signal[iv.Start:iv.End])
}

// Trim removes leading and trailing silence more than topDB below the peak
// using DefaultFrameSize and DefaultHopSize.
func Trim(signal []float64, topDB float64) []float64 {
	return NewSilenceDetection(topDB, DefaultFrameSize, DefaultHopSize).Trim(signal)
}
