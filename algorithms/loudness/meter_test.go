package loudness

import (
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/RyanBlaney/sonido-stems/logging"
)

func sine(seconds float64, sampleRate int, freq, amp float64) []float64 {
	out := make([]float64, int(seconds*float64(sampleRate)))
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func noise(seconds float64, sampleRate int, amp float64, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+7))
	out := make([]float64, int(seconds*float64(sampleRate)))
	for i := range out {
		out[i] = amp * (rng.Float64()*2 - 1)
	}
	return out
}

func TestIntegratedLoudnessSine(t *testing.T) {
	meter, err := NewMeter(48000)
	if err != nil {
		t.Fatalf("NewMeter: %v", err)
	}

	// A full-scale 1 kHz sine reads about -3.01 LUFS plus the K-weighting
	// gain at 1 kHz
	got := meter.IntegratedLoudness(sine(4, 48000, 1000, 1))
	if math.Abs(got-(-3.03)) > 0.1 {
		t.Errorf("loudness = %.3f LUFS, want about -3.03", got)
	}

	// Halving the amplitude lowers loudness by 6.02 dB
	half := meter.IntegratedLoudness(sine(4, 48000, 1000, 0.5))
	if math.Abs((got-half)-6.0206) > 1e-3 {
		t.Errorf("level difference = %.4f dB, want 6.0206", got-half)
	}
}

func TestIntegratedLoudnessSilence(t *testing.T) {
	meter, _ := NewMeter(44100)

	tests := []struct {
		name   string
		signal []float64
	}{
		{"empty", nil},
		{"zeros", make([]float64, 44100)},
		{"below absolute gate", sine(2, 44100, 1000, 1e-5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := meter.IntegratedLoudness(tt.signal); !math.IsInf(got, -1) {
				t.Errorf("loudness = %g, want -Inf", got)
			}
		})
	}
}

func TestIntegratedLoudnessShortSignal(t *testing.T) {
	meter, _ := NewMeter(44100)
	got := meter.IntegratedLoudness(sine(0.2, 44100, 1000, 0.5))
	if math.IsInf(got, 0) || math.IsNaN(got) {
		t.Errorf("loudness = %g, want a finite value", got)
	}
}

func TestNormalizeHitsTarget(t *testing.T) {
	tests := []struct {
		name       string
		signal     []float64
		sampleRate int
		target     float64
	}{
		{"quiet sine", sine(3, 44100, 440, 0.01), 44100, DefaultTarget},
		{"loud noise", noise(3, 48000, 0.9, 1), 48000, DefaultTarget},
		{"short tone", sine(0.3, 44100, 220, 0.2), 44100, DefaultTarget},
		{"tone then silence", append(sine(1, 44100, 880, 0.3), make([]float64, 44100)...), 44100, -23},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := NewNormalizer(tt.sampleRate, tt.target, &logging.NoOpLogger{})
			if err != nil {
				t.Fatalf("NewNormalizer: %v", err)
			}

			out, _ := n.Normalize(tt.signal)
			meter, _ := NewMeter(tt.sampleRate)
			if got := meter.IntegratedLoudness(out); math.Abs(got-tt.target) > 0.1 {
				t.Errorf("loudness after normalize = %.3f, want %.1f ± 0.1", got, tt.target)
			}
		})
	}
}

func TestNormalizeSilentIsUnchanged(t *testing.T) {
	n, _ := NewNormalizer(44100, DefaultTarget, &logging.NoOpLogger{})
	signal := make([]float64, 1000)

	out, measured := n.Normalize(signal)
	if !math.IsInf(measured, -1) {
		t.Errorf("measured = %g, want -Inf", measured)
	}
	if !slices.Equal(out, signal) {
		t.Error("silent signal was modified")
	}
}

func TestNormalizeDoesNotModifyInput(t *testing.T) {
	n, _ := NewNormalizer(44100, DefaultTarget, &logging.NoOpLogger{})
	signal := sine(1, 44100, 440, 0.1)
	original := slices.Clone(signal)

	n.Normalize(signal)
	if !slices.Equal(signal, original) {
		t.Error("input was modified in place")
	}
}

func TestGain(t *testing.T) {
	tests := []struct {
		measured, target, want float64
	}{
		{-14, -14, 1},
		{-20, -14, math.Pow(10, 6.0/20)},
		{-8, -14, math.Pow(10, -6.0/20)},
	}

	for _, tt := range tests {
		if got := Gain(tt.measured, tt.target); math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("Gain(%v, %v) = %g, want %g", tt.measured, tt.target, got, tt.want)
		}
	}
}

func TestNewMeterRejectsLowRates(t *testing.T) {
	if _, err := NewMeter(2000); err == nil {
		t.Error("expected error for 2 kHz sample rate")
	}
}
