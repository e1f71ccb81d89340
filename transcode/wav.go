package transcode

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// wavFormatPCM is the WAVE_FORMAT_PCM format tag.
	wavFormatPCM = 1

	// outputBitDepth is the bit depth of every WAV this package writes.
	outputBitDepth = 16
)

// ErrUnsupportedWAV reports a WAV file the native reader cannot decode,
// such as IEEE float or 8-bit data. Callers fall back to ffmpeg.
var ErrUnsupportedWAV = errors.New("unsupported wav encoding")

// ReadWAV decodes an integer PCM WAV file into interleaved samples in
// [-1, 1].
func ReadWAV(path string) (*AudioData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open wav: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}

	switch {
	case decoder.WavAudioFormat != wavFormatPCM:
		return nil, fmt.Errorf("%w: format tag %d", ErrUnsupportedWAV, decoder.WavAudioFormat)
	case decoder.BitDepth != 16 && decoder.BitDepth != 24 && decoder.BitDepth != 32:
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedWAV, decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM buffer: %w", err)
	}

	scale := 1 / math.Pow(2, float64(decoder.BitDepth-1))
	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float64(v) * scale
	}

	channels := int(decoder.NumChans)
	sampleRate := int(decoder.SampleRate)

	return &AudioData{
		PCM:        samples,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   durationOf(len(samples)/max(channels, 1), sampleRate),
		Source:     path,
		Codec:      fmt.Sprintf("pcm_s%dle", decoder.BitDepth),
	}, nil
}

// WriteWAV writes mono samples as 16-bit PCM, replacing any existing file.
// Samples outside [-1, 1] are clipped.
func WriteWAV(path string, samples []float64, sampleRate int) (err error) {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive: %d", sampleRate)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close wav: %w", cerr)
		}
	}()

	encoder := wav.NewEncoder(f, sampleRate, outputBitDepth, 1, wavFormatPCM)

	const fullScale = 1<<(outputBitDepth-1) - 1
	data := make([]int, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * fullScale))
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           data,
		SourceBitDepth: outputBitDepth,
	}

	if err := encoder.Write(buf); err != nil {
		return fmt.Errorf("failed to write audio: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	return nil
}
