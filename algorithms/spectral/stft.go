package spectral

import (
	"fmt"
	"math/cmplx"
	"runtime"
	"sync"

	"github.com/RyanBlaney/sonido-stems/algorithms/windowing"
	"github.com/RyanBlaney/sonido-stems/logging"
)

const (
	// DefaultFFTSize is the analysis window length in samples.
	DefaultFFTSize = 2048
	// DefaultHopSize is the distance between consecutive frames in samples.
	DefaultHopSize = 512

	// synthesisChunk is the number of frames one worker overlap-adds at a
	// time. Fixed so the summation order does not depend on the CPU count.
	synthesisChunk = 64

	// windowFloor guards the overlap-add normalization at the signal edges.
	windowFloor = 1e-10
)

// SpectralFrame is a magnitude/phase spectrogram. Both matrices are indexed
// [frequency_bin][time_frame]. Phase is kept verbatim for resynthesis.
type SpectralFrame struct {
	Magnitude [][]float64 `json:"magnitude"`
	Phase     [][]float64 `json:"phase"`
	FFTSize   int         `json:"fft_size"`
	HopSize   int         `json:"hop_size"`
	Bins      int         `json:"bins"`
	Frames    int         `json:"frames"`
	Length    int         `json:"length"` // samples in the analyzed signal
}

// Empty reports whether the frame holds no data.
func (f *SpectralFrame) Empty() bool {
	return f == nil || f.Bins == 0 || f.Frames == 0
}

// STFT provides the centered short-time Fourier transform and its inverse.
// The signal is zero-padded by FFTSize/2 on both sides so that frame t is
// centered on sample t*HopSize.
type STFT struct {
	fft     *FFT
	window  *windowing.Hann
	fftSize int
	hopSize int
	logger  logging.Logger
}

// NewSTFT creates a transform with the given frame and hop size.
func NewSTFT(fftSize, hopSize int) (*STFT, error) {
	if fftSize <= 0 {
		return nil, fmt.Errorf("fft size must be positive: %d", fftSize)
	}
	if fftSize%2 != 0 {
		return nil, fmt.Errorf("fft size must be even: %d", fftSize)
	}
	if hopSize <= 0 || hopSize > fftSize {
		return nil, fmt.Errorf("hop size must be in (0, %d]: %d", fftSize, hopSize)
	}

	return &STFT{
		fft:     NewFFT(),
		window:  windowing.NewHann(fftSize, false),
		fftSize: fftSize,
		hopSize: hopSize,
		logger: logging.WithFields(logging.Fields{
			"component": "stft",
		}),
	}, nil
}

// Analyze is a convenience wrapper around NewSTFT(fftSize, hopSize).Analyze.
func Analyze(signal []float64, fftSize, hopSize int) (*SpectralFrame, error) {
	s, err := NewSTFT(fftSize, hopSize)
	if err != nil {
		return nil, err
	}
	return s.Analyze(signal), nil
}

// Synthesize is a convenience wrapper around NewSTFT(fftSize, hopSize).Synthesize.
func Synthesize(magnitude, phase [][]float64, fftSize, hopSize, length int) ([]float64, error) {
	s, err := NewSTFT(fftSize, hopSize)
	if err != nil {
		return nil, err
	}
	return s.Synthesize(magnitude, phase, length)
}

// Analyze computes the magnitude and phase spectrogram of signal.
// An empty signal yields an empty frame.
func (s *STFT) Analyze(signal []float64) *SpectralFrame {
	bins := s.fftSize/2 + 1
	result := &SpectralFrame{
		FFTSize: s.fftSize,
		HopSize: s.hopSize,
		Length:  len(signal),
	}

	if len(signal) == 0 {
		result.Magnitude = [][]float64{}
		result.Phase = [][]float64{}
		return result
	}

	pad := s.fftSize / 2
	padded := make([]float64, len(signal)+2*pad)
	copy(padded[pad:], signal)

	numFrames := 1 + (len(padded)-s.fftSize)/s.hopSize

	magnitude := make([][]float64, bins)
	phase := make([][]float64, bins)
	for k := range bins {
		magnitude[k] = make([]float64, numFrames)
		phase[k] = make([]float64, numFrames)
	}

	jobs := make(chan int, numFrames)
	var wg sync.WaitGroup

	for range workerCount(numFrames) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Reuse frame buffer for this worker
			frameBuffer := make([]float64, s.fftSize)

			for frameIdx := range jobs {
				start := frameIdx * s.hopSize
				copy(frameBuffer, padded[start:start+s.fftSize])

				// Size always matches, error is impossible here
				_ = s.window.ApplyInPlace(frameBuffer)

				spectrum := s.fft.Compute(frameBuffer)
				for k := range bins {
					magnitude[k][frameIdx] = cmplx.Abs(spectrum[k])
					phase[k][frameIdx] = cmplx.Phase(spectrum[k])
				}
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)
	wg.Wait()

	result.Magnitude = magnitude
	result.Phase = phase
	result.Bins = bins
	result.Frames = numFrames

	s.logger.Debug("STFT analysis complete", logging.Fields{
		"samples": len(signal),
		"bins":    bins,
		"frames":  numFrames,
	})

	return result
}

// Synthesize rebuilds a time-domain signal of exactly length samples from a
// (possibly masked) magnitude and the stored phase, using windowed
// overlap-add normalized by the summed squared window.
func (s *STFT) Synthesize(magnitude, phase [][]float64, length int) ([]float64, error) {
	if length < 0 {
		return nil, fmt.Errorf("negative output length: %d", length)
	}
	if len(magnitude) == 0 || length == 0 {
		return make([]float64, length), nil
	}

	bins := s.fftSize/2 + 1
	if len(magnitude) != bins || len(phase) != bins {
		return nil, fmt.Errorf("spectrogram has %d/%d bins, want %d", len(magnitude), len(phase), bins)
	}

	numFrames := len(magnitude[0])
	for k := range bins {
		if len(magnitude[k]) != numFrames || len(phase[k]) != numFrames {
			return nil, fmt.Errorf("ragged spectrogram at bin %d", k)
		}
	}
	if numFrames == 0 {
		return make([]float64, length), nil
	}

	fullLen := s.fftSize + s.hopSize*(numFrames-1)
	output := make([]float64, fullLen)

	numChunks := (numFrames + synthesisChunk - 1) / synthesisChunk
	partials := make([][]float64, numChunks)

	jobs := make(chan int, numChunks)
	var wg sync.WaitGroup

	for range workerCount(numChunks) {
		wg.Add(1)
		go func() {
			defer wg.Done()

			half := make([]complex128, bins)
			for chunk := range jobs {
				first := chunk * synthesisChunk
				last := min(first+synthesisChunk, numFrames)
				partial := make([]float64, s.fftSize+s.hopSize*(last-first-1))

				for t := first; t < last; t++ {
					for k := range bins {
						half[k] = cmplx.Rect(magnitude[k][t], phase[k][t])
					}
					frame := s.fft.InverseHalfSpectrum(half, s.fftSize)

					offset := (t - first) * s.hopSize
					for i, v := range frame {
						partial[offset+i] += v * s.window.At(i)
					}
				}
				partials[chunk] = partial
			}
		}()
	}

	for chunk := range numChunks {
		jobs <- chunk
	}
	close(jobs)
	wg.Wait()

	for chunk, partial := range partials {
		offset := chunk * synthesisChunk * s.hopSize
		for i, v := range partial {
			output[offset+i] += v
		}
	}

	// Window sum-square envelope
	envelope := make([]float64, fullLen)
	for t := range numFrames {
		offset := t * s.hopSize
		for i := range s.fftSize {
			w := s.window.At(i)
			envelope[offset+i] += w * w
		}
	}
	for i := range output {
		if envelope[i] > windowFloor {
			output[i] /= envelope[i]
		}
	}

	// Drop the centering pad and fit to the requested length
	pad := s.fftSize / 2
	result := make([]float64, length)
	if pad < fullLen {
		copy(result, output[pad:])
	}

	return result, nil
}

// workerCount determines the number of workers for n independent jobs
func workerCount(n int) int {
	numCPU := runtime.NumCPU()

	// For small workloads, don't over-parallelize
	if n < 100 {
		return max(1, min(numCPU/2, n))
	}

	return max(1, min(numCPU, n))
}
