package spectral

import (
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func noise(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.Float64()*2 - 1
	}
	return out
}

func sine(n, sampleRate int, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func relativeRMSError(got, want []float64) float64 {
	return floats.Distance(got, want, 2) / floats.Norm(want, 2)
}

func TestAnalyzeFrameLayout(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		fftSize int
		hop     int
	}{
		{"default sizes", 10000, DefaultFFTSize, DefaultHopSize},
		{"short signal", 100, 256, 64},
		{"exact multiple", 1024, 256, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Analyze(noise(tt.length, 1), tt.fftSize, tt.hop)
			if err != nil {
				t.Fatalf("Analyze: %v", err)
			}
			if frame.Bins != tt.fftSize/2+1 {
				t.Errorf("Bins = %d, want %d", frame.Bins, tt.fftSize/2+1)
			}
			if want := 1 + tt.length/tt.hop; frame.Frames != want {
				t.Errorf("Frames = %d, want %d", frame.Frames, want)
			}
			if len(frame.Magnitude) != frame.Bins || len(frame.Magnitude[0]) != frame.Frames {
				t.Errorf("magnitude shape = %dx%d", len(frame.Magnitude), len(frame.Magnitude[0]))
			}
			if frame.Length != tt.length {
				t.Errorf("Length = %d, want %d", frame.Length, tt.length)
			}
		})
	}
}

func TestAnalyzeEmptySignal(t *testing.T) {
	frame, err := Analyze(nil, DefaultFFTSize, DefaultHopSize)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if !frame.Empty() {
		t.Errorf("expected empty frame, got %d bins x %d frames", frame.Bins, frame.Frames)
	}

	out, err := Synthesize(frame.Magnitude, frame.Phase, DefaultFFTSize, DefaultHopSize, 0)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}

func TestSynthesizeReconstructsSignal(t *testing.T) {
	tests := []struct {
		name    string
		signal  []float64
		fftSize int
		hop     int
	}{
		{"noise default sizes", noise(20000, 7), DefaultFFTSize, DefaultHopSize},
		{"sine small frames", sine(5000, 8000, 440, 0.5), 256, 64},
		{"odd length", noise(3001, 3), 512, 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stft, err := NewSTFT(tt.fftSize, tt.hop)
			if err != nil {
				t.Fatalf("NewSTFT: %v", err)
			}

			frame := stft.Analyze(tt.signal)
			out, err := stft.Synthesize(frame.Magnitude, frame.Phase, len(tt.signal))
			if err != nil {
				t.Fatalf("Synthesize: %v", err)
			}

			if len(out) != len(tt.signal) {
				t.Fatalf("len = %d, want %d", len(out), len(tt.signal))
			}
			if e := relativeRMSError(out, tt.signal); e > 1e-9 {
				t.Errorf("relative RMS error = %g, want < 1e-9", e)
			}
		})
	}
}

func TestSynthesizeZeroMagnitudeIsSilent(t *testing.T) {
	stft, _ := NewSTFT(256, 64)
	frame := stft.Analyze(noise(2000, 9))

	zero := make([][]float64, frame.Bins)
	for k := range zero {
		zero[k] = make([]float64, frame.Frames)
	}

	out, err := stft.Synthesize(zero, frame.Phase, frame.Length)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if peak := floats.Norm(out, math.Inf(1)); peak != 0 {
		t.Errorf("peak = %g, want 0", peak)
	}
}

func TestSynthesizeRejectsWrongShape(t *testing.T) {
	stft, _ := NewSTFT(256, 64)
	bad := [][]float64{{1, 2}, {3, 4}}

	if _, err := stft.Synthesize(bad, bad, 100); err == nil {
		t.Error("expected error for wrong bin count")
	}
}

func TestNewSTFTValidation(t *testing.T) {
	tests := []struct {
		fftSize, hop int
	}{
		{0, 10},
		{255, 64},
		{256, 0},
		{256, 512},
	}

	for _, tt := range tests {
		if _, err := NewSTFT(tt.fftSize, tt.hop); err == nil {
			t.Errorf("NewSTFT(%d, %d) expected error", tt.fftSize, tt.hop)
		}
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	signal := noise(30000, 11)

	a, _ := Analyze(signal, 1024, 256)
	b, _ := Analyze(signal, 1024, 256)

	for k := range a.Magnitude {
		if !floats.Equal(a.Magnitude[k], b.Magnitude[k]) || !floats.Equal(a.Phase[k], b.Phase[k]) {
			t.Fatalf("bin %d differs between runs", k)
		}
	}
}
