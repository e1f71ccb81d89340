package stems

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/RyanBlaney/sonido-stems/algorithms/factorization"
	"github.com/RyanBlaney/sonido-stems/logging"
	"github.com/RyanBlaney/sonido-stems/transcode"
)

const testRate = 16000

func sine(n int, freq, amp float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return out
}

// padded surrounds a tone with silence of the same length on each side.
func padded(n int, freq, amp float64) []float64 {
	out := make([]float64, 3*n)
	copy(out[n:], sine(n, freq, amp))
	return out
}

func alternating(n int, freqA, freqB float64) []float64 {
	out := sine(n, freqA, 0.4)
	copy(out[n/2:], sine(n, freqB, 0.4)[n/2:])
	return out
}

func writeStem(t *testing.T, dir, name string, samples []float64) string {
	t.Helper()
	path := filepath.Join(dir, name+".wav")
	if err := transcode.WriteWAV(path, samples, testRate); err != nil {
		t.Fatalf("WriteWAV(%s): %v", name, err)
	}
	return path
}

func quietLogger() logging.Logger { return &logging.NoOpLogger{} }

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Encode = false
	cfg.MaxRank = 3
	return cfg
}

func smallFactorizer(t *testing.T) *factorization.Factorizer {
	t.Helper()
	opts := factorization.DefaultOptions()
	opts.FFTSize = 512
	opts.HopSize = 128
	opts.MaxIterations = 100
	opts.Workers = 2
	f, err := factorization.NewFactorizer(opts, quietLogger())
	if err != nil {
		t.Fatalf("NewFactorizer: %v", err)
	}
	return f
}

type fakeClassifier struct {
	scores map[string]float64
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, path string) (map[string]float64, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scores, nil
}

type fakeEncoder struct {
	err   error
	calls int
}

func (f *fakeEncoder) Encode(ctx context.Context, path string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".mp3"
	if err := os.WriteFile(out, []byte("encoded"), 0o644); err != nil {
		return "", err
	}
	return out, nil
}

// memoryLoader serves decoded audio by path without touching the disk.
type memoryLoader struct {
	audio map[string][]float64
	rates []int
}

func (m *memoryLoader) Load(ctx context.Context, path string, sampleRate int) (*transcode.AudioData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.rates = append(m.rates, sampleRate)
	samples, ok := m.audio[path]
	if !ok {
		return nil, errors.New("no such stem")
	}
	return &transcode.AudioData{PCM: samples, SampleRate: testRate, Channels: 1}, nil
}

type fakeSeparator struct {
	separation *Separation
	err        error
	outDir     string
}

func (f *fakeSeparator) Separate(ctx context.Context, input, outDir string) (*Separation, error) {
	f.outDir = outDir
	if f.err != nil {
		return nil, f.err
	}
	return f.separation, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
