package stems

import (
	"slices"
	"time"

	"github.com/RyanBlaney/sonido-stems/transcode"
)

// AudioBuffer is a mono signal. Stages never modify a buffer they receive;
// each produces a new one.
type AudioBuffer struct {
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
}

// NewAudioBuffer copies samples into a new buffer.
func NewAudioBuffer(samples []float64, sampleRate int) AudioBuffer {
	return AudioBuffer{Samples: slices.Clone(samples), SampleRate: sampleRate}
}

// BufferFromAudio mixes decoded audio down to mono by averaging channels.
func BufferFromAudio(data *transcode.AudioData) AudioBuffer {
	return AudioBuffer{Samples: data.Mono(), SampleRate: data.SampleRate}
}

// Len returns the number of samples.
func (b AudioBuffer) Len() int { return len(b.Samples) }

// Duration returns the playback length.
func (b AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}
